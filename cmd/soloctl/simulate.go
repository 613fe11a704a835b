package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/emergingrobotics/go-solo6010/internal/config"
	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/device"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
	"github.com/emergingrobotics/go-solo6010/pkg/sim"
	"github.com/emergingrobotics/go-solo6010/pkg/stream"
	"github.com/emergingrobotics/go-solo6010/pkg/trace"
)

type simulateOptions struct {
	duration  time.Duration
	frameSize int
	gop       int
	format    string
	tracePath string
}

// channelStats counts one channel's deliveries
type channelStats struct {
	frames atomic.Int64
	keys   atomic.Int64
	errors atomic.Int64
	bytes  atomic.Int64
}

func newSimulateCommand(opts *config.Options) *cobra.Command {
	var so simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the driver core against the hardware simulator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return simulate(cmd.Context(), opts, so, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.DurationVar(&so.duration, "duration", 2*time.Second, "How long to run")
	f.IntVar(&so.frameSize, "frame-size", 4096, "Synthetic MPEG-4 payload size in bytes")
	f.IntVar(&so.gop, "gop", 15, "Synthetic key frame period")
	f.StringVar(&so.format, "format", "mpeg4", "Frame format readers request (mpeg4, mjpeg)")
	f.StringVar(&so.tracePath, "trace", "", "Record published descriptors to this file")
	return cmd
}

func simulate(parent context.Context, opts *config.Options, so simulateOptions, out io.Writer) error {
	logger := logging.GetLogger("cli")

	format, err := stream.ParseFormat(so.format)
	if err != nil {
		return err
	}
	if so.frameSize < 4 || so.frameSize > 64*1024 {
		return fmt.Errorf("frame size %d out of range 4..65536", so.frameSize)
	}
	if so.gop < 1 {
		so.gop = 1
	}
	cfg, err := deviceConfig(opts)
	if err != nil {
		return err
	}

	simDev := sim.New(sim.Options{Channels: cfg.Channels, Standard: cfg.Standard})
	bus := events.New()
	cfg.Bus = bus
	dev, err := device.Simulate(simDev, cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	var gopResets atomic.Int64
	defer bus.Subscribe(func(e events.GOPResetEvent) {
		if !e.Resync {
			gopResets.Add(1)
		}
	})()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, so.duration)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- dev.Run(ctx) }()

	var rec *trace.Recorder
	var tw *trace.Writer
	recDone := make(chan error, 1)
	if so.tracePath != "" {
		f, err := os.Create(so.tracePath)
		if err != nil {
			return fmt.Errorf("creating trace: %w", err)
		}
		defer f.Close()
		tw = trace.NewWriter(f)
		rec = trace.NewRecorder(dev.Ring(), dev.Channels(), tw, 0)
		go func() { recDone <- rec.Run(ctx) }()
	}

	stats := make([]channelStats, dev.Channels())
	var wg sync.WaitGroup
	for ch := 0; ch < dev.Channels(); ch++ {
		rd, err := dev.OpenReader(ch, format)
		if err != nil {
			return err
		}
		for i := 0; i < cfg.Buffers; i++ {
			buf, err := stream.WrapBuffer(make([]byte, 2*so.frameSize+64*1024))
			if err != nil {
				return err
			}
			if err := rd.QueueBuffer(buf); err != nil {
				return err
			}
		}
		if err := rd.Start(); err != nil {
			return err
		}

		wg.Add(1)
		go func(st *channelStats) {
			defer wg.Done()
			consume(ctx, rd, st)
		}(&stats[ch])
	}

	start := time.Now()
	produce(ctx, simDev, dev, so)
	wg.Wait()
	elapsed := time.Since(start)

	if err := <-runDone; err != nil {
		return err
	}
	if rec != nil {
		if err := <-recDone; err != nil {
			return fmt.Errorf("recording trace: %w", err)
		}
	}

	s := simDev.Stats()
	fmt.Fprintf(out, "Simulated %d channel(s) for %s (%s, %s)\n",
		dev.Channels(), elapsed.Round(time.Millisecond), cfg.Standard, format)
	for ch := range stats {
		st := &stats[ch]
		fmt.Fprintf(out, "  channel %2d: %5d delivered  %4d key  %3d errors  %9d bytes\n",
			ch, st.frames.Load(), st.keys.Load(), st.errors.Load(), st.bytes.Load())
	}
	fmt.Fprintf(out, "Encoder: %d frames emitted, %d GOP resets\n", s.Frames, gopResets.Load())
	fmt.Fprintf(out, "P2M: %d transfers, %d bytes to host\n", s.Transfers, s.BytesToHost)
	fmt.Fprintf(out, "Interrupts: %d\n", s.Interrupts)
	if rec != nil {
		fmt.Fprintf(out, "Trace: %d descriptors written to %s (%d lost)\n", tw.Count(), so.tracePath, rec.Lost())
	}

	logger.Debug("simulation finished", "frames", s.Frames, "transfers", s.Transfers)
	return nil
}

// produce emits one synthetic frame per channel every frame period until
// ctx is done
func produce(ctx context.Context, simDev *sim.Device, dev *device.Device, so simulateOptions) {
	period := time.Second / time.Duration(dev.Controller().FPS())
	tick := time.NewTicker(period)
	defer tick.Stop()

	payload := bytes.Repeat([]byte{0x5a}, so.frameSize)
	copy(payload, []byte{0x00, 0x00, 0x01, 0xb6})
	jpeg := bytes.Repeat([]byte{0xa5}, so.frameSize/4+1)

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		vop := uint8(1)
		if n%so.gop == 0 {
			vop = 0
		}
		for ch := 0; ch < dev.Channels(); ch++ {
			st, err := dev.Controller().State(ch)
			if err != nil {
				continue
			}
			simDev.EmitFrame(sim.Frame{
				Channel:    ch,
				Vop:        vop,
				Payload:    payload,
				JPEG:       jpeg,
				Width:      st.Width,
				Height:     st.Height,
				Interlaced: st.Interlaced,
			})
		}
	}
}

// consume dequeues and requeues buffers until the reader stops
func consume(ctx context.Context, rd *stream.Reader, st *channelStats) {
	for {
		buf, err := rd.Dequeue(ctx, false)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) &&
				!errors.Is(err, stream.ErrStreamClosed) && !errors.Is(err, stream.ErrNotStarted) {
				logging.GetLogger("cli").Warn("dequeue failed", "channel", rd.Channel(), "error", err)
			}
			return
		}
		if buf.State() == stream.StateDone {
			st.frames.Add(1)
			st.bytes.Add(int64(buf.BytesUsed()))
			if buf.KeyFrame() {
				st.keys.Add(1)
			}
		} else {
			st.errors.Add(1)
		}
		if err := rd.QueueBuffer(buf); err != nil {
			return
		}
	}
}
