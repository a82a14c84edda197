// internal/logging/config.go
package logging

import (
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for ultra-verbose logging,
// such as request payload sizes per endpoint window.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a string into a zapcore.Level, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Config holds logging configuration.
type Config struct {
	Level      zapcore.Level
	Format     string
	Output     OutputConfig
	Caller     CallerConfig
	Stacktrace StacktraceConfig
	Fields     map[string]string
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool
	// Writer replaces os.Stdout as the console destination when set.
	Writer zapcore.WriteSyncer
	OTEL   bool
}

// CallerConfig controls caller information in logs.
type CallerConfig struct {
	Enabled bool
	Skip    int
}

// StacktraceConfig controls stacktrace inclusion.
type StacktraceConfig struct {
	Level zapcore.Level
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{
			Stdout: true,
		},
		Caller: CallerConfig{
			Enabled: true,
			Skip:    1,
		},
		Stacktrace: StacktraceConfig{
			Level: zapcore.ErrorLevel,
		},
		Fields: map[string]string{
			"service": "embedkit",
		},
	}
}

// FromAppConfig builds a logging Config from the application config section.
func FromAppConfig(app config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()

	if app.Level != "" {
		level, err := LevelFromString(app.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", app.Level, err)
		}
		cfg.Level = level
	}
	if app.Format != "" {
		cfg.Format = app.Format
	}
	for k, v := range app.Fields {
		cfg.Fields[k] = v
	}
	cfg.Output.OTEL = app.OTEL

	return cfg, cfg.Validate()
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip)
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
