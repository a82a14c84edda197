// Package config provides configuration loading for embedkit.
//
// Configuration is loaded from a YAML file and environment variables with
// sensible defaults. See LoadWithFile for precedence rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Provider names accepted in EmbeddingsConfig.Provider.
const (
	ProviderSageMaker = "sagemaker"
	ProviderFastEmbed = "fastembed"
	ProviderFake      = "fake"
)

// DefaultChunkSize is the number of texts sent per endpoint request.
const DefaultChunkSize = 64

// Config holds the complete embedkit configuration.
type Config struct {
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	SageMaker  SageMakerConfig  `koanf:"sagemaker"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	CacheDir  string `koanf:"cache_dir"`
	MaxLength int    `koanf:"max_length"`
	ChunkSize int    `koanf:"chunk_size"`
}

// SageMakerConfig describes a SageMaker inference endpoint.
type SageMakerConfig struct {
	EndpointName string `koanf:"endpoint_name"`
	Region       string `koanf:"region"`
	// Profile is the shared credentials profile. Empty uses the default chain.
	Profile     string `koanf:"profile"`
	ContentType string `koanf:"content_type"`
	Accepts     string `koanf:"accepts"`
	// InputKey is the JSON field the texts are written to.
	InputKey string `koanf:"input_key"`
	// OutputPath is a gjson path selecting the vectors in the response.
	OutputPath  string         `koanf:"output_path"`
	ModelKwargs map[string]any `koanf:"model_kwargs"`
	// Dimension is the endpoint's vector size, if known.
	Dimension int `koanf:"dimension"`

	CustomAttributes        string `koanf:"custom_attributes"`
	TargetModel             string `koanf:"target_model"`
	TargetVariant           string `koanf:"target_variant"`
	TargetContainerHostname string `koanf:"target_container_hostname"`
	InferenceComponentName  string `koanf:"inference_component_name"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string            `koanf:"level"`
	Format string            `koanf:"format"`
	Fields map[string]string `koanf:"fields"`
	OTEL   bool              `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Endpoint      string `koanf:"endpoint"`
	Protocol      string `koanf:"protocol"`
	Insecure      bool   `koanf:"insecure"`
	TLSSkipVerify bool   `koanf:"tls_skip_verify"`
	// SampleRate is the trace sampling ratio in (0, 1]. Zero means 1.
	SampleRate      float64  `koanf:"sample_rate"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = ProviderFastEmbed
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.MaxLength == 0 {
		cfg.Embeddings.MaxLength = 512
	}
	if cfg.Embeddings.ChunkSize == 0 {
		cfg.Embeddings.ChunkSize = DefaultChunkSize
	}

	if cfg.SageMaker.ContentType == "" {
		cfg.SageMaker.ContentType = "application/json"
	}
	if cfg.SageMaker.Accepts == "" {
		cfg.SageMaker.Accepts = "application/json"
	}
	if cfg.SageMaker.InputKey == "" {
		cfg.SageMaker.InputKey = "text_inputs"
	}
	if cfg.SageMaker.OutputPath == "" {
		cfg.SageMaker.OutputPath = "embedding"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "embedkit"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - the provider is unknown
//   - chunk size is not positive
//   - the sagemaker provider is selected without endpoint name or region
//   - the log format is neither json nor console
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case ProviderSageMaker:
		if c.SageMaker.EndpointName == "" {
			return errors.New("sagemaker.endpoint_name is required for the sagemaker provider")
		}
		if c.SageMaker.Region == "" {
			return errors.New("sagemaker.region is required for the sagemaker provider")
		}
	case ProviderFastEmbed, ProviderFake:
	default:
		return fmt.Errorf("unknown embeddings provider %q (want %s, %s or %s)",
			c.Embeddings.Provider, ProviderSageMaker, ProviderFastEmbed, ProviderFake)
	}

	if c.Embeddings.ChunkSize <= 0 {
		return fmt.Errorf("embeddings.chunk_size must be positive, got %d", c.Embeddings.ChunkSize)
	}
	if c.Embeddings.MaxLength < 0 {
		return fmt.Errorf("embeddings.max_length cannot be negative, got %d", c.Embeddings.MaxLength)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.ExportInterval.Duration() <= 0 {
			return errors.New("telemetry.export_interval must be positive")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
		}
	}

	return nil
}
