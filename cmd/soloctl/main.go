package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emergingrobotics/go-solo6010/internal/config"
	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/device"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/p2m"
)

// Version information (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.DefaultOptions()

	root := &cobra.Command{
		Use:           "soloctl",
		Short:         "SOLO6010 capture/encode driver core",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadConfig(&opts, cmd); err != nil {
				return err
			}
			initLogging(&opts)
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.Config, "config", "c", "", "Path to TOML configuration file")
	f.StringVar(&opts.Device, "device", opts.Device, "UIO device node (default: first SOLO6010 found)")
	f.IntVar(&opts.Channels, "channels", opts.Channels, "Encoder channel count")
	f.StringVar(&opts.VideoStandard, "video-standard", opts.VideoStandard, "Video standard (ntsc, pal)")
	f.DurationVar(&opts.DMATimeout, "dma-timeout", opts.DMATimeout, "P2M completion timeout")
	f.IntVar(&opts.DMARetries, "dma-retries", opts.DMARetries, "P2M retries after a PCI error")
	f.DurationVar(&opts.StreamTick, "stream-tick", opts.StreamTick, "Reader fallback wakeup period")
	f.IntVar(&opts.StreamBuffers, "stream-buffers", opts.StreamBuffers, "Frame buffers per reader")
	f.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level (debug, info, warn, error)")
	f.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format (text, json)")
	f.BoolVar(&opts.LogJournal, "log-journal", opts.LogJournal, "Also log to the systemd journal")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "Serve Prometheus metrics on this address")

	root.AddCommand(
		newScanCommand(),
		newCaptureCommand(&opts),
		newSimulateCommand(&opts),
		newInspectCommand(),
		newVersionCommand(),
	)
	return root
}

func initLogging(opts *config.Options) {
	cfg := logging.Config{
		Level:   opts.LogLevel,
		Format:  opts.LogFormat,
		Journal: opts.LogJournal,
		Modules: map[string]string{},
	}
	if opts.Config != "" {
		if fileCfg, err := config.LoadLoggingConfig(opts.Config); err == nil {
			for module, level := range fileCfg.Modules {
				cfg.Modules[module] = level
			}
		}
	}
	logging.Initialize(cfg)
}

// deviceConfig translates command options into a device configuration
func deviceConfig(opts *config.Options) (device.Config, error) {
	std, err := parseStandard(opts.VideoStandard)
	if err != nil {
		return device.Config{}, err
	}
	cfg := device.DefaultConfig()
	cfg.Channels = opts.Channels
	cfg.Standard = std
	cfg.P2M = p2m.Config{Timeout: opts.DMATimeout, MaxRetries: opts.DMARetries}
	cfg.Tick = opts.StreamTick
	cfg.Buffers = opts.StreamBuffers
	return cfg, nil
}

func parseStandard(s string) (driver.VideoStandard, error) {
	switch strings.ToLower(s) {
	case "", "ntsc":
		return driver.StandardNTSC, nil
	case "pal":
		return driver.StandardPAL, nil
	}
	return 0, fmt.Errorf("unknown video standard %q", s)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "soloctl version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Go version: %s\n", GoVersion)
		},
	}
}

func newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List UIO devices bound to a SOLO6010",
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := device.Scan()
			if err != nil {
				return fmt.Errorf("scanning devices: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No SOLO6010 devices found")
				return nil
			}
			fmt.Fprintf(out, "Found %d SOLO6010 device(s):\n", len(devices))
			for i, d := range devices {
				bounce := "no bounce region"
				if d.HasBounceRegion() {
					bounce = "bounce region"
				}
				fmt.Fprintf(out, "  [%d] %s  %s  pci %s  (%s)\n", i, d.Path, d.Name, d.PCIAddress, bounce)
			}
			return nil
		},
	}
}
