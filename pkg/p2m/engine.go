package p2m

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
	"github.com/emergingrobotics/go-solo6010/pkg/metrics"
)

// Defaults for a P2M engine
const (
	DefaultTimeout    = time.Second
	DefaultMaxRetries = 8
)

// Config tunes transaction waits
type Config struct {
	// Timeout bounds each wait for a completion interrupt
	Timeout time.Duration
	// MaxRetries caps re-issues after a PCI error aborts a transfer
	MaxRetries int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// Engine runs blocking PCI-to-memory transactions over the device's P2M
// channels. Transfer is called from reader goroutines; HandleComplete and
// HandleError are called from the interrupt dispatcher.
type Engine struct {
	regs     driver.Registers
	mapper   driver.Mapper
	irq      *driver.IrqMask
	cfg      Config
	channels [driver.NrP2M]*Channel
	bus      *events.Bus
	logger   *slog.Logger
}

// NewEngine creates an engine. bus may be nil.
func NewEngine(regs driver.Registers, mapper driver.Mapper, irq *driver.IrqMask, cfg Config, bus *events.Bus) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	e := &Engine{
		regs:   regs,
		mapper: mapper,
		irq:    irq,
		cfg:    cfg,
		bus:    bus,
		logger: logging.GetLogger("p2m"),
	}
	for i := range e.channels {
		e.channels[i] = newChannel(i)
	}
	return e
}

// Init puts every channel in a known idle state and enables its interrupt
func (e *Engine) Init() {
	for i := range e.channels {
		e.regs.Write32(driver.RegP2MControl(i), 0)
		e.regs.Write32(driver.RegP2MConfig(i),
			driver.P2MCSC16Bit565|driver.P2MDMAInterval(0)|driver.P2MPCIMasterMode)
		e.irq.On(driver.IrqP2M(i))
	}
	e.logger.Debug("p2m channels initialized", "channels", len(e.channels))
}

// Exit disables the channel interrupts
func (e *Engine) Exit() {
	for i := range e.channels {
		e.irq.Off(driver.IrqP2M(i))
	}
}

// Channel returns channel id, or nil if out of range
func (e *Engine) Channel(id int) *Channel {
	if id < 0 || id >= len(e.channels) {
		return nil
	}
	return e.channels[id]
}

// Transfer moves size bytes between buf and device external memory at
// extAddr using channel id. size is truncated to whole 32-bit words by the
// hardware. The channel is always left with CONTROL=0.
func (e *Engine) Transfer(ctx context.Context, id int, dir driver.DmaDirection, buf []byte, extAddr uint32, size uint32) (err error) {
	ch := e.Channel(id)
	if ch == nil {
		return driver.NewError(driver.StatusInvalidChannel, fmt.Sprintf("p2m channel %d", id))
	}
	if int(size) > len(buf) {
		return driver.NewError(driver.StatusInvalidArgument,
			fmt.Sprintf("transfer size %d exceeds buffer of %d", size, len(buf)))
	}

	if err := ch.acquire(ctx); err != nil {
		return err
	}
	defer ch.release()

	defer func() {
		result := "ok"
		if err != nil {
			result = driver.StatusOf(err).String()
			ch.failures.Add(1)
		} else {
			ch.transfers.Add(1)
		}
		metrics.RecordTransfer(id, result, int(size))
	}()

	mapping, err := e.mapper.Map(id, buf[:size], dir)
	if err != nil {
		return fmt.Errorf("mapping p2m buffer: %w", err)
	}
	defer func() {
		if uerr := mapping.Unmap(); uerr != nil && err == nil {
			err = fmt.Errorf("unmapping p2m buffer: %w", uerr)
		}
	}()

	control := driver.P2MBurstSize(driver.P2MBurst256) | driver.P2MTransOn
	if dir == driver.DmaToDevice {
		control |= driver.P2MWrite
	}

	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()

	for attempt := 0; ; attempt++ {
		ch.arm()
		e.regs.Write32(driver.RegP2MTarAdr(id), mapping.Addr())
		e.regs.Write32(driver.RegP2MExtAdr(id), extAddr)
		e.regs.Write32(driver.RegP2MExtCfg(id), driver.P2MCopySize(size>>2))
		e.regs.Write32(driver.RegP2MControl(id), control)

		resetTimer(timer, e.cfg.Timeout)
		timedOut := false
		select {
		case <-ch.done:
		case <-timer.C:
			timedOut = true
		case <-ctx.Done():
			e.regs.Write32(driver.RegP2MControl(id), 0)
			return driver.NewErrorWithCause(driver.StatusCanceled, "p2m transfer", ctx.Err())
		}

		e.regs.Write32(driver.RegP2MControl(id), 0)

		if ch.err.Load() {
			if attempt >= e.cfg.MaxRetries {
				e.logger.Warn("p2m retries exhausted", "channel", id, "attempts", attempt+1)
				return driver.NewError(driver.StatusExhausted,
					fmt.Sprintf("p2m channel %d after %d attempts", id, attempt+1))
			}
			metrics.RecordRetry(id)
			e.logger.Debug("p2m retry after pci error", "channel", id, "attempt", attempt+1)
			continue
		}

		if timedOut {
			return driver.NewError(driver.StatusTimeout, fmt.Sprintf("p2m channel %d", id))
		}
		return nil
	}
}

// HandleComplete acknowledges channel id's completion interrupt and wakes
// its waiter
func (e *Engine) HandleComplete(id int) {
	ch := e.Channel(id)
	if ch == nil {
		return
	}
	e.regs.Write32(driver.RegIrqStat, driver.IrqP2M(id))
	ch.signal()
}

// HandleError aborts every in-flight transaction when pciStatus reports a
// P2M fault. Waiters wake and re-issue their transfers.
func (e *Engine) HandleError(pciStatus uint32) bool {
	if pciStatus&driver.PCIErrP2M == 0 {
		return false
	}
	for i, ch := range e.channels {
		ch.err.Store(true)
		e.regs.Write32(driver.RegP2MControl(i), 0)
		ch.signal()
	}
	e.bus.Publish(events.DMAErrorEvent{Status: pciStatus})
	return true
}

// SelfTest writes a pattern to device memory at base through channel id,
// reads it back, and returns the number of mismatched bytes
func (e *Engine) SelfTest(ctx context.Context, id int, base uint32, size int, pattern byte) (int, error) {
	wr := make([]byte, size)
	rd := make([]byte, size)
	for i := range wr {
		wr[i] = pattern
		rd[i] = pattern + 1
	}

	if err := e.Transfer(ctx, id, driver.DmaToDevice, wr, base, uint32(size)); err != nil {
		return 0, fmt.Errorf("self-test write: %w", err)
	}
	if err := e.Transfer(ctx, id, driver.DmaFromDevice, rd, base, uint32(size)); err != nil {
		return 0, fmt.Errorf("self-test read: %w", err)
	}

	errs := 0
	for i := range wr {
		if wr[i] != rd[i] {
			errs++
		}
	}
	return errs, nil
}

// RunSelfTest exercises every channel with a descending byte pattern and
// returns the total mismatch count
func (e *Engine) RunSelfTest(ctx context.Context, base uint32, size, rounds int) (int, error) {
	total := 0
	for id := range e.channels {
		a := byte(0xff)
		for i := 0; i < rounds; i++ {
			n, err := e.SelfTest(ctx, id, base, size, a)
			if err != nil {
				return total, err
			}
			total += n
			a--
		}
	}
	if total > 0 {
		e.logger.Warn("p2m self-test found errors", "errors", total)
	}
	return total, nil
}

// IsRetryable reports whether a transfer error may succeed if reissued
func IsRetryable(err error) bool {
	return errors.Is(err, driver.ErrTimeout) || errors.Is(err, driver.ErrExhausted)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
