package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/encoder"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
	"github.com/emergingrobotics/go-solo6010/pkg/p2m"
	"github.com/emergingrobotics/go-solo6010/pkg/sim"
	"github.com/emergingrobotics/go-solo6010/pkg/stream"
	"github.com/emergingrobotics/go-solo6010/pkg/tw28"
)

// Backend is the hardware access a Device is built on
type Backend struct {
	Regs   driver.Registers
	IRQ    driver.IrqSource
	Mapper driver.Mapper
	// I2C reaches the video decoders; nil disables picture controls
	I2C    tw28.Bus
	Closer io.Closer
}

// Config configures an attached device
type Config struct {
	// Channels defaults to the count reported by the chip option register
	Channels int
	Standard driver.VideoStandard
	// Layout defaults to driver.DefaultExtLayout
	Layout  driver.ExtLayout
	P2M     p2m.Config
	Budget  int
	Tick    time.Duration
	Buffers int
	Bus     *events.Bus
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		Standard: driver.StandardNTSC,
		P2M:      p2m.DefaultConfig(),
		Tick:     stream.DefaultTick,
		Buffers:  driver.MinVideoBuffers,
	}
}

type motionLatch struct {
	detected bool
	at       time.Time
}

// Device owns every per-board counter of the driver core: the P2M
// engine, the encoder controller and its bandwidth ledger, the frame
// descriptor ring and the motion latches. Run must be serving interrupts
// for transfers and readers to make progress.
type Device struct {
	backend  Backend
	cfg      Config
	irq      *driver.IrqMask
	engine   *p2m.Engine
	ctrl     *encoder.Controller
	ring     *encoder.DescriptorRing
	consumer *encoder.RingConsumer
	decoders *tw28.Decoders
	pool     *stream.BufferPool
	bus      *events.Bus
	logger   *slog.Logger

	// held while an interrupt is being handled
	dispatch sync.Mutex

	mu      sync.Mutex
	motion  []motionLatch
	readers map[uint64]*stream.Reader
	closed  bool
}

// Attach builds a driver core on top of b
func Attach(b Backend, cfg Config) (*Device, error) {
	if b.Regs == nil || b.IRQ == nil || b.Mapper == nil {
		return nil, driver.NewError(driver.StatusInvalidArgument, "incomplete backend")
	}

	def := DefaultConfig()
	if cfg.P2M == (p2m.Config{}) {
		cfg.P2M = def.P2M
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = def.Buffers
	}
	if cfg.Channels == 0 {
		cfg.Channels = int(b.Regs.Read32(driver.RegChipOption) & 0x1f)
	}
	if cfg.Channels <= 0 || cfg.Channels > driver.MaxChannels {
		return nil, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("channel count %d", cfg.Channels))
	}
	if cfg.Layout == (driver.ExtLayout{}) {
		cfg.Layout = driver.DefaultExtLayout(cfg.Channels)
	}

	d := &Device{
		backend: b,
		cfg:     cfg,
		irq:     driver.NewIrqMask(b.Regs),
		ring:    encoder.NewDescriptorRing(),
		bus:     cfg.Bus,
		logger:  logging.GetLogger("device"),
		motion:  make([]motionLatch, cfg.Channels),
		readers: make(map[uint64]*stream.Reader),
	}
	d.engine = p2m.NewEngine(b.Regs, b.Mapper, d.irq, cfg.P2M, cfg.Bus)
	d.ctrl = encoder.NewController(b.Regs, encoder.Options{
		Channels: cfg.Channels,
		Standard: cfg.Standard,
		Budget:   cfg.Budget,
	}, cfg.Bus)
	d.consumer = encoder.NewRingConsumer(b.Regs, cfg.Layout, d.ctrl, d.ring, cfg.Bus)

	if b.I2C != nil {
		dec, err := tw28.Probe(b.I2C, cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to probe video decoders: %w", err)
		}
		d.decoders = dec
	}

	pool, err := stream.NewBufferPool(driver.FrameBufSize, cfg.Buffers)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate frame buffers: %w", err)
	}
	d.pool = pool

	d.engine.Init()
	d.irq.On(driver.IrqEncoder | driver.IrqPCIErr | driver.IrqMotion)

	d.logger.Info("device attached",
		"channels", cfg.Channels,
		"standard", cfg.Standard,
		"budget", d.ctrl.Budget(),
		"decoders", d.decoders != nil)
	return d, nil
}

// Open attaches to a SOLO6010 bound to a UIO driver at path
func Open(path string, cfg Config) (*Device, error) {
	uio, err := driver.OpenUIO(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	mapper := uio.BounceMapper()
	if mapper == nil {
		uio.Close()
		return nil, ErrNoBounceRegion
	}

	d, err := Attach(Backend{Regs: uio, IRQ: uio, Mapper: mapper, Closer: uio}, cfg)
	if err != nil {
		uio.Close()
		return nil, err
	}
	return d, nil
}

// OpenFirst opens the first SOLO6010 found by Scan
func OpenFirst(cfg Config) (*Device, error) {
	devices, err := Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return Open(devices[0].Path, cfg)
}

// Simulate attaches to a simulated device, including its decoder bus
func Simulate(dev *sim.Device, cfg Config) (*Device, error) {
	opts := dev.Options()
	if cfg.Channels == 0 {
		cfg.Channels = opts.Channels
	}
	if cfg.Layout == (driver.ExtLayout{}) {
		cfg.Layout = opts.Layout
	}
	cfg.Standard = opts.Standard
	return Attach(Backend{Regs: dev, IRQ: dev, Mapper: dev, I2C: dev.I2C(), Closer: dev}, cfg)
}

// Channels returns the number of encoder channels
func (d *Device) Channels() int {
	return d.cfg.Channels
}

// Standard returns the video standard the encoders run at
func (d *Device) Standard() driver.VideoStandard {
	return d.cfg.Standard
}

// Layout returns the external memory layout of the encoder rings
func (d *Device) Layout() driver.ExtLayout {
	return d.cfg.Layout
}

// Engine returns the P2M engine
func (d *Device) Engine() *p2m.Engine {
	return d.engine
}

// Controller returns the admission and mode controller
func (d *Device) Controller() *encoder.Controller {
	return d.ctrl
}

// Ring returns the frame descriptor ring
func (d *Device) Ring() *encoder.DescriptorRing {
	return d.ring
}

// Decoders returns the video decoder chips, or nil without a decoder bus
func (d *Device) Decoders() *tw28.Decoders {
	return d.decoders
}

// Bus returns the event bus, which may be nil
func (d *Device) Bus() *events.Bus {
	return d.bus
}

// Closed reports whether Close has been called
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Run serves device interrupts until the device is closed. Canceling ctx
// closes the device.
func (d *Device) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { d.Close() })
	defer stop()

	for {
		if _, err := d.backend.IRQ.WaitIRQ(); err != nil {
			if d.Closed() || errors.Is(err, driver.ErrDeviceClosed) {
				return nil
			}
			return fmt.Errorf("waiting for interrupt: %w", err)
		}

		d.dispatch.Lock()
		if d.Closed() {
			d.dispatch.Unlock()
			return nil
		}
		d.HandleIRQ(d.backend.Regs.Read32(driver.RegIrqStat))
		err := d.backend.IRQ.EnableIRQ()
		d.dispatch.Unlock()
		if err != nil {
			return fmt.Errorf("re-enabling interrupt: %w", err)
		}
	}
}

// HandleIRQ dispatches one read of the interrupt status register. Only
// enabled sources are serviced; anything else latched is acknowledged.
func (d *Device) HandleIRQ(status uint32) {
	status &= d.irq.Enabled()
	if status == 0 {
		return
	}

	if status&driver.IrqPCIErr != 0 {
		pci := d.backend.Regs.Read32(driver.RegPCIErr)
		if !d.engine.HandleError(pci) {
			d.logger.Debug("pci error outside p2m", "status", fmt.Sprintf("0x%08x", pci))
		}
		d.backend.Regs.Write32(driver.RegPCIErr, pci)
		d.backend.Regs.Write32(driver.RegIrqStat, driver.IrqPCIErr)
	}

	for i := 0; i < driver.NrP2M; i++ {
		if status&driver.IrqP2M(i) != 0 {
			d.engine.HandleComplete(i)
		}
	}

	if status&driver.IrqEncoder != 0 {
		d.consumer.HandleEncoderIRQ()
	}

	if status&driver.IrqMotion != 0 {
		d.handleMotion()
	}

	handled := driver.IrqPCIErr | driver.IrqEncoder | driver.IrqMotion
	for i := 0; i < driver.NrP2M; i++ {
		handled |= driver.IrqP2M(i)
	}
	if rest := status &^ handled; rest != 0 {
		d.backend.Regs.Write32(driver.RegIrqStat, rest)
	}
}

// Close stops every open reader, disables interrupts and releases the
// backend
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	readers := make([]*stream.Reader, 0, len(d.readers))
	for _, r := range d.readers {
		readers = append(readers, r)
	}
	d.readers = nil
	d.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if _, err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	d.dispatch.Lock()
	d.engine.Exit()
	d.irq.Off(driver.IrqEncoder | driver.IrqPCIErr | driver.IrqMotion)
	if err := d.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.backend.Closer != nil {
		if err := d.backend.Closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.dispatch.Unlock()

	d.logger.Info("device closed")
	return errors.Join(errs...)
}

// SelfTest runs the P2M pattern test over the start of the MPEG ring and
// returns the number of mismatched bytes
func (d *Device) SelfTest(ctx context.Context, size, rounds int) (int, error) {
	if d.Closed() {
		return 0, ErrDeviceClosed
	}
	return d.engine.RunSelfTest(ctx, d.cfg.Layout.MPEGAddr, size, rounds)
}
