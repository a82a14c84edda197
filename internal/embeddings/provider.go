package embeddings

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/logging"
)

// EndpointConfigFromApp builds an EndpointConfig from application config,
// using a JSONContentHandler for the wire format.
func EndpointConfigFromApp(cfg *config.Config) EndpointConfig {
	sm := cfg.SageMaker
	return EndpointConfig{
		EndpointName: sm.EndpointName,
		Region:       sm.Region,
		Profile:      sm.Profile,
		ContentHandler: NewJSONContentHandler(JSONContentHandlerConfig{
			ContentType: sm.ContentType,
			Accepts:     sm.Accepts,
			InputKey:    sm.InputKey,
			OutputPath:  sm.OutputPath,
		}),
		ModelKwargs: sm.ModelKwargs,
		Options: EndpointOptions{
			CustomAttributes:        sm.CustomAttributes,
			TargetModel:             sm.TargetModel,
			TargetVariant:           sm.TargetVariant,
			TargetContainerHostname: sm.TargetContainerHostname,
			InferenceComponentName:  sm.InferenceComponentName,
		},
		ChunkSize: cfg.Embeddings.ChunkSize,
		Dimension: sm.Dimension,
	}
}

// LocalModelConfigFromApp builds a LocalModelConfig from application config.
func LocalModelConfigFromApp(cfg *config.Config) LocalModelConfig {
	return LocalModelConfig{
		Model:     cfg.Embeddings.Model,
		CacheDir:  cfg.Embeddings.CacheDir,
		MaxLength: cfg.Embeddings.MaxLength,
	}
}

// NewProvider creates the provider selected by cfg.Embeddings.Provider.
func NewProvider(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *Metrics, opts ...EndpointOption) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	switch cfg.Embeddings.Provider {
	case config.ProviderSageMaker:
		all := append([]EndpointOption{WithLogger(logger), WithMetrics(metrics)}, opts...)
		return NewEndpointEmbedder(ctx, EndpointConfigFromApp(cfg), all...)
	case config.ProviderFastEmbed, "":
		return NewLocalModelEmbedder(LocalModelConfigFromApp(cfg),
			WithLocalLogger(logger),
			WithLocalMetrics(metrics),
		)
	case config.ProviderFake:
		return NewFakeEmbedder(), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Embeddings.Provider)
	}
}
