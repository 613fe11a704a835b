package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/emergingrobotics/go-solo6010/pkg/device"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
	"github.com/emergingrobotics/go-solo6010/pkg/sim"
)

// SimulatedDevice attaches the driver core to a fresh simulator and runs
// its interrupt dispatcher until the test ends
func SimulatedDevice(t testing.TB, opts sim.Options) (*sim.Device, *device.Device) {
	t.Helper()

	simDev := sim.New(opts)
	cfg := device.DefaultConfig()
	cfg.Bus = events.New()
	cfg.Tick = 20 * time.Millisecond
	dev, err := device.Simulate(simDev, cfg)
	if err != nil {
		t.Fatalf("device.Simulate() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
	return simDev, dev
}

// Produce emits f on the simulator every period until ctx is done
func Produce(ctx context.Context, simDev *sim.Device, f sim.Frame, period time.Duration) {
	go func() {
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				simDev.EmitFrame(f)
			}
		}
	}()
}
