// Package sim is an in-process model of the SOLO6010 register file, P2M
// engine, encoder index queue and motion detector. It implements
// driver.Registers, driver.Mapper and driver.IrqSource so the driver core
// can run without hardware.
package sim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// Bus address windows handed out by the simulator
const (
	hostWindowBase   uint32 = 0x80000000
	hostWindowStride uint32 = 0x01000000
	busMemoryBase    uint32 = 0x40000000
)

// Options configures a simulated device
type Options struct {
	Channels int
	Standard driver.VideoStandard
	Layout   driver.ExtLayout
	// BusMemory sizes an optional DMA-coherent region for BounceMapper use
	BusMemory int
	// Latency delays P2M completion; zero completes synchronously
	Latency time.Duration
}

// Device is a simulated SOLO6010
type Device struct {
	mu   sync.Mutex
	opts Options
	regs map[uint32]uint32

	ext     []byte
	extBase uint32
	bus     []byte

	mappings map[uint32][]byte

	irq    chan struct{}
	closed chan struct{}
	once   sync.Once

	faults faults
	enc    encoderState
	i2c    *I2C

	stats  Stats
	logger *slog.Logger
}

// Stats counts simulator activity
type Stats struct {
	Transfers     int
	BytesToDevice int
	BytesToHost   int
	Frames        int
	Interrupts    int
}

// New creates a simulated device. Zero-valued options get defaults for a
// four channel NTSC board.
func New(opts Options) *Device {
	if opts.Channels == 0 {
		opts.Channels = 4
	}
	if opts.Layout == (driver.ExtLayout{}) {
		opts.Layout = driver.DefaultExtLayout(opts.Channels)
	}

	l := opts.Layout
	d := &Device{
		opts:     opts,
		regs:     make(map[uint32]uint32),
		ext:      make([]byte, l.ExtMemorySize()-l.MPEGAddr),
		extBase:  l.MPEGAddr,
		mappings: make(map[uint32][]byte),
		irq:      make(chan struct{}, 1),
		closed:   make(chan struct{}),
		i2c:      NewI2C(),
		logger:   logging.GetLogger("sim"),
	}
	if opts.BusMemory > 0 {
		d.bus = make([]byte, opts.BusMemory)
	}
	d.regs[driver.RegChipOption] = uint32(opts.Channels)
	// one TW2864 per four inputs, from I2C address 0x28
	for i := 0; i < (opts.Channels+3)/4; i++ {
		d.i2c.AddTW2864(0x28 + uint8(i))
	}
	return d
}

// Options returns the options the device was created with
func (d *Device) Options() Options {
	return d.opts
}

// I2C returns the simulated decoder-chip bus
func (d *Device) I2C() *I2C {
	return d.i2c
}

// Stats returns a snapshot of activity counters
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Read32 implements driver.Registers
func (d *Device) Read32(off uint32) uint32 {
	switch off {
	case driver.RegTimerSec:
		return uint32(time.Now().Unix())
	case driver.RegTimerUsec:
		return uint32(time.Now().Nanosecond() / 1000)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[off]
}

// Write32 implements driver.Registers. Status registers are write-one-to-
// clear; a P2M CONTROL write with TRANS_ON starts a transfer.
func (d *Device) Write32(off uint32, val uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch off {
	case driver.RegIrqStat:
		d.regs[off] &^= val
		return
	case driver.RegPCIErr:
		d.regs[off] &^= val
		return
	case driver.RegVIMotClear:
		d.regs[driver.RegVIMotStatus] &^= val
		return
	}

	d.regs[off] = val

	if id, ok := p2mControlChannel(off); ok && val&driver.P2MTransOn != 0 {
		d.startTransferLocked(id)
	}
	if off == driver.RegIrqEnable {
		d.assertLocked()
	}
}

// raiseLocked latches status bits and asserts the line if any are enabled
func (d *Device) raiseLocked(bits uint32) {
	d.regs[driver.RegIrqStat] |= bits
	d.assertLocked()
}

func (d *Device) assertLocked() {
	if d.regs[driver.RegIrqStat]&d.regs[driver.RegIrqEnable] == 0 {
		return
	}
	select {
	case d.irq <- struct{}{}:
		d.stats.Interrupts++
	default:
	}
}

// WaitIRQ implements driver.IrqSource
func (d *Device) WaitIRQ() (uint32, error) {
	select {
	case <-d.irq:
		return 1, nil
	case <-d.closed:
		return 0, driver.ErrDeviceClosed
	}
}

// EnableIRQ implements driver.IrqSource. The line is level triggered, so
// anything still pending re-asserts it.
func (d *Device) EnableIRQ() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assertLocked()
	return nil
}

// Close releases any goroutine blocked in WaitIRQ
func (d *Device) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func p2mControlChannel(off uint32) (int, bool) {
	for i := 0; i < driver.NrP2M; i++ {
		if off == driver.RegP2MControl(i) {
			return i, true
		}
	}
	return 0, false
}
