package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
)

// EnvPrefix is prepended to every env tag
const EnvPrefix = "SOLO_"

var durationType = reflect.TypeOf(time.Duration(0))

// Options is the configuration shared by soloctl commands. Flag names are
// derived from field names (DMATimeout -> dma-timeout).
type Options struct {
	Config string

	Device        string        `toml:"device.uio" env:"DEVICE_UIO"`
	Channels      int           `toml:"device.channels" env:"DEVICE_CHANNELS"`
	VideoStandard string        `toml:"device.video_standard" env:"DEVICE_VIDEO_STANDARD"`
	DMATimeout    time.Duration `toml:"p2m.timeout" env:"P2M_TIMEOUT"`
	DMARetries    int           `toml:"p2m.max_retries" env:"P2M_MAX_RETRIES"`
	StreamTick    time.Duration `toml:"stream.tick" env:"STREAM_TICK"`
	StreamBuffers int           `toml:"stream.buffers" env:"STREAM_BUFFERS"`
	LogLevel      string        `toml:"logging.level" env:"LOG_LEVEL"`
	LogFormat     string        `toml:"logging.format" env:"LOG_FORMAT"`
	LogJournal    bool          `toml:"logging.journal" env:"LOG_JOURNAL"`
	MetricsAddr   string        `toml:"metrics.addr" env:"METRICS_ADDR"`
}

// DefaultOptions returns the built-in defaults
func DefaultOptions() Options {
	return Options{
		Channels:      4,
		VideoStandard: "ntsc",
		DMATimeout:    time.Second,
		DMARetries:    8,
		StreamTick:    time.Second,
		StreamBuffers: 4,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// LoadConfig loads configuration with precedence CLI flag > env var >
// config file > existing value. If cmd is provided, flags explicitly set on
// the command line are not overwritten.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changedFlags := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changedFlags[f.Name] = true
			}
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}

			for i := 0; i < v.NumField(); i++ {
				fieldType := t.Field(i)
				if changedFlags[FieldNameToFlag(fieldType.Name)] {
					continue
				}
				if tomlPath := fieldType.Tag.Get("toml"); tomlPath != "" {
					if value := getNestedValue(doc, tomlPath); value != nil {
						if err := setFieldValue(v.Field(i), value); err != nil {
							return fmt.Errorf("config key %s: %w", tomlPath, err)
						}
					}
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		fieldType := t.Field(i)
		if changedFlags[FieldNameToFlag(fieldType.Name)] {
			continue
		}
		if envKey := fieldType.Tag.Get("env"); envKey != "" {
			if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
				if err := setFieldValueFromString(v.Field(i), envValue); err != nil {
					return fmt.Errorf("env %s%s: %w", EnvPrefix, envKey, err)
				}
			}
		}
	}

	return nil
}

// FieldNameToFlag converts a struct field name to a CLI flag name.
// Acronym runs stay together: "DMATimeout" -> "dma-timeout".
func FieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var result []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
				result = append(result, '-')
			}
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from a nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// setFieldValue assigns a decoded TOML value to a field
func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		switch d := value.(type) {
		case string:
			parsed, err := time.ParseDuration(d)
			if err != nil {
				return err
			}
			field.SetInt(int64(parsed))
		case int64:
			field.SetInt(d * int64(time.Millisecond))
		}
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		if i, ok := value.(int64); ok {
			field.SetInt(i)
		}
	}
	return nil
}

// setFieldValueFromString assigns an environment value to a field
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	}
	return nil
}

// LoadLoggingConfig reads the [logging] table, including per-module levels
// under [logging.modules]
func LoadLoggingConfig(configPath string) (logging.Config, error) {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	var raw struct {
		Logging logging.Config `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse logging config: %w", err)
	}

	if raw.Logging.Level != "" {
		cfg.Level = raw.Logging.Level
	}
	if raw.Logging.Format != "" {
		cfg.Format = raw.Logging.Format
	}
	cfg.Journal = raw.Logging.Journal
	for module, level := range raw.Logging.Modules {
		cfg.Modules[module] = level
	}
	return cfg, nil
}
