package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emergingrobotics/go-solo6010/internal/config"
	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/device"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/metrics"
	"github.com/emergingrobotics/go-solo6010/pkg/p2m"
	"github.com/emergingrobotics/go-solo6010/pkg/stream"
)

type captureOptions struct {
	channel  int
	format   string
	frames   int
	output   string
	width    int
	height   int
	interval uint32
	gop      uint32
	buffers  int
}

func newCaptureCommand(opts *config.Options) *cobra.Command {
	var co captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Stream one encoder channel to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := deviceConfig(opts)
			if err != nil {
				return err
			}
			var dev *device.Device
			if opts.Device != "" {
				dev, err = device.Open(opts.Device, cfg)
			} else {
				dev, err = device.OpenFirst(cfg)
			}
			if err != nil {
				return err
			}
			defer dev.Close()

			defer watchLogging(opts)()
			serveMetrics(ctx, opts.MetricsAddr)

			go func() {
				if err := dev.Run(ctx); err != nil {
					logging.GetLogger("cli").Error("interrupt dispatcher stopped", "error", err)
				}
			}()

			out := cmd.OutOrStdout()
			if co.output != "-" {
				f, err := os.Create(co.output)
				if err != nil {
					return fmt.Errorf("creating output: %w", err)
				}
				defer f.Close()
				out = f
			}
			co.buffers = max(opts.StreamBuffers, driver.MinVideoBuffers)
			return capture(ctx, dev, co, out)
		},
	}

	f := cmd.Flags()
	f.IntVar(&co.channel, "channel", 0, "Encoder channel")
	f.StringVar(&co.format, "format", "mpeg4", "Frame format (mpeg4, mjpeg)")
	f.IntVar(&co.frames, "frames", 0, "Stop after this many frames (0 runs until interrupted)")
	f.StringVarP(&co.output, "output", "o", "-", "Output file")
	f.IntVar(&co.width, "width", 0, "Capture width (0 keeps the current mode)")
	f.IntVar(&co.height, "height", 0, "Capture height")
	f.Uint32Var(&co.interval, "interval", 0, "Frame interval (0 keeps the current one)")
	f.Uint32Var(&co.gop, "gop", 0, "Key frame period (0 derives it from the interval)")
	return cmd
}

// capture streams frames from one channel into w until ctx ends or the
// frame count is reached
func capture(ctx context.Context, dev *device.Device, co captureOptions, w io.Writer) error {
	logger := logging.GetLogger("cli")

	format, err := stream.ParseFormat(co.format)
	if err != nil {
		return err
	}
	ch, err := dev.Channel(co.channel)
	if err != nil {
		return err
	}
	if co.width > 0 && co.height > 0 {
		fs, err := ch.SetMode(co.width, co.height)
		if err != nil {
			return err
		}
		logger.Info("capture mode", "channel", co.channel, "mode", fs.Mode, "width", fs.Width, "height", fs.Height)
	}
	if co.interval > 0 {
		if _, err := ch.SetInterval(co.interval); err != nil {
			return err
		}
	}
	if co.gop > 0 {
		if err := ch.SetGOP(co.gop); err != nil {
			return err
		}
	}

	rd, err := ch.OpenReader(format)
	if err != nil {
		return err
	}
	defer rd.Close()

	pool, err := stream.NewBufferPool(driver.FrameBufSize, co.buffers)
	if err != nil {
		return err
	}
	defer pool.Close()
	for buf := pool.TryGet(); buf != nil; buf = pool.TryGet() {
		if err := rd.QueueBuffer(buf); err != nil {
			return err
		}
	}
	if err := rd.Start(); err != nil {
		return err
	}

	written, errs := 0, 0
	budget := dmaErrorBudget{limit: maxConsecutiveDMAErrors}
	start := time.Now()
	for co.frames == 0 || written < co.frames {
		buf, err := rd.Dequeue(ctx, false)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, stream.ErrStreamClosed) {
				break
			}
			return err
		}
		if buf.State() == stream.StateDone {
			if _, err := w.Write(buf.Bytes()); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
			written++
			budget.observe(nil)
		} else {
			errs++
			logger.Warn("frame error", "channel", co.channel, "error", buf.Err())
			if err := budget.observe(buf.Err()); err != nil {
				return err
			}
		}
		if err := rd.QueueBuffer(buf); err != nil {
			return err
		}
	}

	logger.Info("capture finished",
		"channel", co.channel,
		"frames", written,
		"errors", errs,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// maxConsecutiveDMAErrors ends a capture whose transfers keep failing
const maxConsecutiveDMAErrors = 8

// dmaErrorBudget counts back-to-back frames lost to transfer failures.
// Frame-local errors such as a corrupt header do not count.
type dmaErrorBudget struct {
	consecutive int
	limit       int
}

func (b *dmaErrorBudget) observe(err error) error {
	if err == nil {
		b.consecutive = 0
		return nil
	}
	if !p2m.IsRetryable(err) {
		return nil
	}
	b.consecutive++
	if b.consecutive >= b.limit {
		return fmt.Errorf("%d consecutive frames lost to DMA failures: %w", b.consecutive, err)
	}
	return nil
}

// serveMetrics exposes the Prometheus registry until ctx is done
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	logger := logging.GetLogger("cli")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", "addr", addr)
}

// watchLogging re-applies log levels when the config file changes. The
// returned func stops watching.
func watchLogging(opts *config.Options) func() {
	if opts.Config == "" {
		return func() {}
	}
	logger := logging.GetLogger("cli")
	w := config.NewConfigWatcher(opts.Config, config.LoadLoggingConfig, logger)
	w.OnReload(func(cfg logging.Config) {
		logging.Initialize(cfg)
		logger.Info("logging configuration reloaded", "level", cfg.Level)
	})
	if err := w.Start(); err != nil {
		logger.Warn("config watcher not started", "error", err)
		return func() {}
	}
	return func() { w.Stop() }
}
