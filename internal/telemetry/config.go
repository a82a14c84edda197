package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // "grpc" or "http/protobuf"
	ServiceName    string
	ServiceVersion string
	Insecure       bool // plaintext; only allowed for local endpoints
	TLSSkipVerify  bool
	SampleRate     float64
	ExportInterval time.Duration
	Shutdown       time.Duration
}

// NewDefaultConfig returns the defaults: disabled, local gRPC collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "embedkit",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
		Shutdown:       5 * time.Second,
	}
}

// FromAppConfig converts the application telemetry section.
func FromAppConfig(app config.TelemetryConfig) *Config {
	return &Config{
		Enabled:        app.Enabled,
		Endpoint:       app.Endpoint,
		Protocol:       app.Protocol,
		ServiceName:    app.ServiceName,
		ServiceVersion: app.ServiceVersion,
		Insecure:       app.Insecure,
		TLSSkipVerify:  app.TLSSkipVerify,
		SampleRate:     app.SampleRate,
		ExportInterval: app.ExportInterval.Duration(),
		Shutdown:       app.ShutdownTimeout.Duration(),
	}
}

// Validate checks configuration for errors. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}

	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive")
	}
	if c.Shutdown <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// isLocalEndpoint reports whether the endpoint host is loopback.
func (c *Config) isLocalEndpoint() bool {
	host := strings.TrimPrefix(strings.TrimPrefix(c.Endpoint, "https://"), "http://")

	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(host, "::1:")
}
