//go:build unit

package p2m

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/sim"
)

// serveIRQs stands in for the device interrupt dispatcher
func serveIRQs(t *testing.T, dev *sim.Device, e *Engine) {
	t.Helper()
	go func() {
		for {
			if _, err := dev.WaitIRQ(); err != nil {
				return
			}
			stat := dev.Read32(driver.RegIrqStat)
			for i := 0; i < driver.NrP2M; i++ {
				if stat&driver.IrqP2M(i) != 0 {
					e.HandleComplete(i)
				}
			}
			if stat&driver.IrqPCIErr != 0 {
				pci := dev.Read32(driver.RegPCIErr)
				e.HandleError(pci)
				dev.Write32(driver.RegPCIErr, pci)
				dev.Write32(driver.RegIrqStat, driver.IrqPCIErr)
			}
			dev.EnableIRQ()
		}
	}()
	t.Cleanup(func() { dev.Close() })
}

func newTestEngine(t *testing.T, cfg Config) (*sim.Device, *Engine) {
	t.Helper()
	dev := sim.New(sim.Options{})
	irq := driver.NewIrqMask(dev)
	e := NewEngine(dev, dev, irq, cfg, nil)
	e.Init()
	irq.On(driver.IrqPCIErr)
	serveIRQs(t, dev, e)
	return dev, e
}

func TestInitProgramsChannels(t *testing.T) {
	dev := sim.New(sim.Options{})
	e := NewEngine(dev, dev, driver.NewIrqMask(dev), DefaultConfig(), nil)
	e.Init()

	want := driver.P2MCSC16Bit565 | driver.P2MDMAInterval(0) | driver.P2MPCIMasterMode
	for i := 0; i < driver.NrP2M; i++ {
		if got := dev.Read32(driver.RegP2MConfig(i)); got != want {
			t.Errorf("CONFIG(%d) = 0x%x, expected 0x%x", i, got, want)
		}
		if dev.Read32(driver.RegIrqEnable)&driver.IrqP2M(i) == 0 {
			t.Errorf("IRQ for channel %d not enabled", i)
		}
	}

	e.Exit()
	if got := dev.Read32(driver.RegIrqEnable); got != 0 {
		t.Errorf("IRQ_ENABLE = 0x%x after Exit, expected 0", got)
	}
}

func TestTransferInvalidChannel(t *testing.T) {
	_, e := newTestEngine(t, DefaultConfig())
	err := e.Transfer(context.Background(), driver.NrP2M, driver.DmaFromDevice, make([]byte, 4), 0, 4)
	if !errors.Is(err, driver.ErrInvalidChannel) {
		t.Errorf("Transfer() = %v, expected ErrInvalidChannel", err)
	}
}

func TestTransferSizeExceedsBuffer(t *testing.T) {
	_, e := newTestEngine(t, DefaultConfig())
	err := e.Transfer(context.Background(), 0, driver.DmaFromDevice, make([]byte, 4), 0, 8)
	if !errors.Is(err, driver.ErrInvalidArgument) {
		t.Errorf("Transfer() = %v, expected ErrInvalidArgument", err)
	}
}

func TestTransferRoundTrip(t *testing.T) {
	dev, e := newTestEngine(t, DefaultConfig())
	base := dev.Options().Layout.MPEGAddr
	ctx := context.Background()

	src := bytes.Repeat([]byte{0xa5, 0x5a, 0x01, 0x02}, 64)
	if err := e.Transfer(ctx, 2, driver.DmaToDevice, src, base+0x100, uint32(len(src))); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := make([]byte, len(src))
	if err := e.Transfer(ctx, 2, driver.DmaFromDevice, dst, base+0x100, uint32(len(dst))); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("read back differs from written data")
	}
	if got := dev.Read32(driver.RegP2MControl(2)); got != 0 {
		t.Errorf("CONTROL = 0x%x after transfer, expected 0", got)
	}
	if n, _ := e.Channel(2).Stats(); n != 2 {
		t.Errorf("transfers = %d, expected 2", n)
	}
}

func TestTransferTimeoutReleasesChannel(t *testing.T) {
	dev, e := newTestEngine(t, Config{Timeout: 30 * time.Millisecond, MaxRetries: 2})
	base := dev.Options().Layout.MPEGAddr
	dev.DropCompletions(1)

	err := e.Transfer(context.Background(), 1, driver.DmaFromDevice, make([]byte, 32), base, 32)
	if !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("Transfer() = %v, expected ErrTimeout", err)
	}
	if got := dev.Read32(driver.RegP2MControl(1)); got != 0 {
		t.Errorf("CONTROL = 0x%x after timeout, expected 0", got)
	}
	if e.Channel(1).Busy() {
		t.Error("channel still held after timeout")
	}
	if dev.Mapped() != 0 {
		t.Error("host buffer still mapped after timeout")
	}

	if err := e.Transfer(context.Background(), 1, driver.DmaFromDevice, make([]byte, 32), base, 32); err != nil {
		t.Errorf("transfer after timeout: %v", err)
	}
}

func TestTransferRetriesAfterPCIError(t *testing.T) {
	dev, e := newTestEngine(t, DefaultConfig())
	base := dev.Options().Layout.MPEGAddr
	dev.PokeExt(base, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	dev.InjectPCIErrors(2)

	dst := make([]byte, 8)
	if err := e.Transfer(context.Background(), 0, driver.DmaFromDevice, dst, base, 8); err != nil {
		t.Fatalf("Transfer() = %v, expected success after retries", err)
	}
	if !bytes.Equal(dst, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("read % x", dst)
	}
}

func TestTransferExhausted(t *testing.T) {
	dev, e := newTestEngine(t, Config{Timeout: time.Second, MaxRetries: 3})
	dev.SetStuck(true)

	err := e.Transfer(context.Background(), 3, driver.DmaFromDevice, make([]byte, 16), dev.Options().Layout.MPEGAddr, 16)
	if !errors.Is(err, driver.ErrExhausted) {
		t.Fatalf("Transfer() = %v, expected ErrExhausted", err)
	}
	if !IsRetryable(err) {
		t.Error("exhausted transfers should be retryable by the caller")
	}
	if e.Channel(3).Busy() {
		t.Error("channel still held after exhaustion")
	}
}

func TestTransferCanceled(t *testing.T) {
	dev, e := newTestEngine(t, Config{Timeout: 5 * time.Second})
	dev.DropCompletions(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := e.Transfer(ctx, 0, driver.DmaFromDevice, make([]byte, 8), dev.Options().Layout.MPEGAddr, 8)
	if driver.StatusOf(err) != driver.StatusCanceled {
		t.Fatalf("Transfer() = %v, expected canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not interrupt the wait")
	}
	if e.Channel(0).Busy() || dev.Mapped() != 0 {
		t.Error("canceled transfer leaked the channel or mapping")
	}
}

func TestTransfersSerializePerChannel(t *testing.T) {
	dev, e := newTestEngine(t, DefaultConfig())
	base := dev.Options().Layout.MPEGAddr

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			errs <- e.Transfer(context.Background(), 0, driver.DmaFromDevice, make([]byte, 64), base, 64)
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent transfer: %v", err)
		}
	}
}

func TestHandleErrorIgnoresOtherFaults(t *testing.T) {
	_, e := newTestEngine(t, DefaultConfig())
	if e.HandleError(driver.PCIErrParity) {
		t.Error("HandleError acted on a non-P2M fault")
	}
	if !e.HandleError(driver.PCIErrP2M | driver.PCIErrParity) {
		t.Error("HandleError ignored a P2M fault")
	}
}

func TestSelfTest(t *testing.T) {
	dev, e := newTestEngine(t, DefaultConfig())
	errs, err := e.RunSelfTest(context.Background(), dev.Options().Layout.MPEGAddr, 32, 4)
	if err != nil {
		t.Fatalf("RunSelfTest() = %v", err)
	}
	if errs != 0 {
		t.Errorf("self-test mismatches = %d, expected 0", errs)
	}
}

func TestBounceMapperThroughEngine(t *testing.T) {
	dev := sim.New(sim.Options{BusMemory: 4 * 4096})
	region, busAddr := dev.BusMemory()
	e := NewEngine(dev, driver.NewBounceMapper(region, busAddr, driver.NrP2M), driver.NewIrqMask(dev), DefaultConfig(), nil)
	e.Init()
	serveIRQs(t, dev, e)

	base := dev.Options().Layout.JPEGAddr
	src := bytes.Repeat([]byte("solo"), 256)
	ctx := context.Background()
	if err := e.Transfer(ctx, 1, driver.DmaToDevice, src, base, uint32(len(src))); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, len(src))
	if err := e.Transfer(ctx, 1, driver.DmaFromDevice, dst, base, uint32(len(dst))); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("bounce round trip mismatch")
	}
}
