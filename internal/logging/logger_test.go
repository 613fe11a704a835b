//go:build unit

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func reset(buf *bytes.Buffer) {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	output = buf
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	reset(&bytes.Buffer{})

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"p2m":     "debug",
			"encoder": "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"p2m", true, true, true},
		{"encoder", false, false, true},
		{"stream", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, expected %v", tt.module, got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, expected %v", tt.module, got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, expected %v", tt.module, got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCreatedBeforeInitialize(t *testing.T) {
	var buf bytes.Buffer
	reset(&buf)

	logger := GetLogger("device")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled before Initialize")
	}

	Initialize(Config{Level: "debug", Format: "text"})

	GetLogger("device").Debug("attached", "channels", 4)
	out := buf.String()
	if !strings.Contains(out, "attached") || !strings.Contains(out, "module=device") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSetModuleLevel(t *testing.T) {
	reset(&bytes.Buffer{})
	Initialize(Config{Level: "info"})

	if !SetModuleLevel("sim", "error") {
		t.Fatal("SetModuleLevel rejected a valid level")
	}
	if GetLogger("sim").Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled after raising level to error")
	}
	if SetModuleLevel("sim", "loud") {
		t.Error("SetModuleLevel accepted an invalid level")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	reset(&buf)
	Initialize(Config{Level: "info", Format: "json"})

	GetLogger("cli").Info("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected json output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", 0, false},
	}
	for _, tt := range tests {
		got := parseLevel(tt.in)
		if (got != nil) != tt.ok {
			t.Errorf("parseLevel(%q) ok = %v, expected %v", tt.in, got != nil, tt.ok)
			continue
		}
		if got != nil && *got != tt.want {
			t.Errorf("parseLevel(%q) = %v, expected %v", tt.in, *got, tt.want)
		}
	}
}

func TestMultiHandlerFanOut(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("module", "p2m")

	logger.Info("info line")
	logger.Warn("warn line")

	if !strings.Contains(a.String(), "info line") || !strings.Contains(a.String(), "warn line") {
		t.Errorf("first handler missing records: %q", a.String())
	}
	if strings.Contains(b.String(), "info line") {
		t.Errorf("second handler should filter info: %q", b.String())
	}
	if !strings.Contains(b.String(), "module=p2m") {
		t.Errorf("attrs not propagated: %q", b.String())
	}
}

func TestAddAttrToFields(t *testing.T) {
	fields := map[string]string{}
	addAttrToFields(fields, slog.Int("channel", 3), nil)
	addAttrToFields(fields, slog.Group("dma", slog.Uint64("size", 4096)), []string{"p2m"})

	if fields["CHANNEL"] != "3" {
		t.Errorf("CHANNEL = %q, expected 3", fields["CHANNEL"])
	}
	if fields["P2M_DMA_SIZE"] != "4096" {
		t.Errorf("P2M_DMA_SIZE = %q, expected 4096", fields["P2M_DMA_SIZE"])
	}
}
