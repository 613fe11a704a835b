//go:build unit

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

const sampleConfig = `
[device]
uio = "/dev/uio3"
channels = 8
video_standard = "pal"

[p2m]
timeout = "250ms"
max_retries = 2

[stream]
tick = 500
buffers = 6

[logging]
level = "debug"
format = "json"

[logging.modules]
p2m = "warn"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solo.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	opts := DefaultOptions()
	opts.Config = writeConfig(t, sampleConfig)

	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Device != "/dev/uio3" {
		t.Errorf("Device = %q, expected /dev/uio3", opts.Device)
	}
	if opts.Channels != 8 {
		t.Errorf("Channels = %d, expected 8", opts.Channels)
	}
	if opts.VideoStandard != "pal" {
		t.Errorf("VideoStandard = %q, expected pal", opts.VideoStandard)
	}
	if opts.DMATimeout != 250*time.Millisecond {
		t.Errorf("DMATimeout = %v, expected 250ms", opts.DMATimeout)
	}
	if opts.DMARetries != 2 {
		t.Errorf("DMARetries = %d, expected 2", opts.DMARetries)
	}
	if opts.StreamTick != 500*time.Millisecond {
		t.Errorf("StreamTick = %v, expected 500ms", opts.StreamTick)
	}
	if opts.LogFormat != "json" {
		t.Errorf("LogFormat = %q, expected json", opts.LogFormat)
	}
	if opts.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, expected empty", opts.MetricsAddr)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	opts := DefaultOptions()
	opts.Config = writeConfig(t, sampleConfig)

	t.Setenv("SOLO_DEVICE_CHANNELS", "16")
	t.Setenv("SOLO_P2M_TIMEOUT", "2s")

	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Channels != 16 {
		t.Errorf("Channels = %d, expected 16", opts.Channels)
	}
	if opts.DMATimeout != 2*time.Second {
		t.Errorf("DMATimeout = %v, expected 2s", opts.DMATimeout)
	}
}

func TestLoadConfigFlagWins(t *testing.T) {
	opts := DefaultOptions()
	opts.Config = writeConfig(t, sampleConfig)
	t.Setenv("SOLO_DEVICE_CHANNELS", "16")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.Channels, "channels", opts.Channels, "")
	if err := cmd.Flags().Set("channels", "2"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(&opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Channels != 2 {
		t.Errorf("Channels = %d, expected flag value 2", opts.Channels)
	}
	if opts.Device != "/dev/uio3" {
		t.Errorf("Device = %q, expected file value", opts.Device)
	}
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	opts := DefaultOptions()
	opts.Config = filepath.Join(t.TempDir(), "missing.toml")

	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	opts.Config = ""
	if opts != DefaultOptions() {
		t.Errorf("missing config altered defaults: %+v", opts)
	}
}

func TestLoadConfigBadEnv(t *testing.T) {
	opts := DefaultOptions()
	t.Setenv("SOLO_STREAM_TICK", "soon")

	if err := LoadConfig(&opts, nil); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Device", "device"},
		{"VideoStandard", "video-standard"},
		{"DMATimeout", "dma-timeout"},
		{"DMARetries", "dma-retries"},
		{"MetricsAddr", "metrics-addr"},
	}
	for _, tt := range tests {
		if got := FieldNameToFlag(tt.in); got != tt.want {
			t.Errorf("FieldNameToFlag(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	cfg, err := LoadLoggingConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadLoggingConfig failed: %v", err)
	}
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("got level=%q format=%q", cfg.Level, cfg.Format)
	}
	if cfg.Modules["p2m"] != "warn" {
		t.Errorf("module p2m = %q, expected warn", cfg.Modules["p2m"])
	}
}
