package embeddings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedkit/internal/logging"
)

const (
	// DefaultModel is the local model used when none is configured.
	DefaultModel = "BAAI/bge-small-en-v1.5"

	defaultMaxLength = 512
	defaultBatchSize = 256

	providerFastEmbed = "fastembed"
)

// knownModelDimensions lists the local models and their output sizes.
var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// ModelDimension reports the output size of a known local model.
func ModelDimension(model string) (int, bool) {
	dim, ok := knownModelDimensions[model]
	return dim, ok
}

func supportedModelList() string {
	names := make([]string, 0, len(knownModelDimensions))
	for name := range knownModelDimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// localModel is a loaded in-process embedding model.
type localModel interface {
	Embed(texts []string, batchSize int) ([][]float32, error)
	Destroy() error
}

// loadLocalModel loads a model and reports its dimension. Replaced in tests.
var loadLocalModel = loadFastEmbed

// LocalModelConfig configures a LocalModelEmbedder.
type LocalModelConfig struct {
	// Model is a known model name, e.g. BAAI/bge-small-en-v1.5 (default),
	// BAAI/bge-base-en-v1.5 or sentence-transformers/all-MiniLM-L6-v2.
	Model string
	// CacheDir holds downloaded model files. Defaults to ~/.cache/embedkit/models.
	CacheDir string
	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
	// BatchSize is the number of texts the runtime processes at once. Defaults to 256.
	BatchSize int
	// ShowProgress prints model download progress.
	ShowProgress bool
}

func (c *LocalModelConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultModelCacheDir()
	}
	if c.MaxLength == 0 {
		c.MaxLength = defaultMaxLength
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
}

// Validate reports out-of-range settings.
func (c *LocalModelConfig) Validate() error {
	if c.MaxLength < 0 {
		return fmt.Errorf("%w: max length cannot be negative", ErrInvalidConfig)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// LocalModelEmbedder runs an ONNX embedding model in process.
//
// The model is loaded once in the constructor. Calls share it under a read
// lock; Close takes the write lock, so in-flight calls finish first.
type LocalModelEmbedder struct {
	mu        sync.RWMutex
	model     localModel
	modelName string
	dimension int
	batchSize int
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// LocalOption customizes NewLocalModelEmbedder.
type LocalOption func(*LocalModelEmbedder)

// WithLocalLogger sets the logger.
func WithLocalLogger(l *logging.Logger) LocalOption {
	return func(e *LocalModelEmbedder) { e.logger = l }
}

// WithLocalMetrics sets the metrics recorder.
func WithLocalMetrics(m *Metrics) LocalOption {
	return func(e *LocalModelEmbedder) { e.metrics = m }
}

// NewLocalModelEmbedder loads the configured model. Unknown models, load
// failures, and builds without the local runtime return ErrInvalidConfig.
func NewLocalModelEmbedder(cfg LocalModelConfig, opts ...LocalOption) (*LocalModelEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	e := &LocalModelEmbedder{
		modelName: cfg.Model,
		batchSize: cfg.BatchSize,
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	e.logger = e.logger.Named("fastembed").With(zap.String("model", cfg.Model))

	model, dim, err := loadLocalModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: loading model %q: %w", ErrInvalidConfig, cfg.Model, err)
	}
	e.model = model
	e.dimension = dim

	e.logger.Info(context.Background(), "local model loaded",
		zap.Int("dimension", dim),
		zap.String("cache_dir", cfg.CacheDir),
	)
	return e, nil
}

// EmbedDocuments embeds all texts in one model invocation.
func (e *LocalModelEmbedder) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := e.tracer.Start(ctx, "embeddings.EmbedDocuments", trace.WithAttributes(
		attribute.String("embedding.provider", providerFastEmbed),
		attribute.String("embedding.model", e.modelName),
		attribute.Int("embedding.texts", len(texts)),
	))
	start := time.Now()
	defer func() {
		e.metrics.RecordGeneration(ctx, providerFastEmbed, e.modelName, "documents", time.Since(start), len(texts), err)
		endSpan(span, err)
	}()

	return e.embed(ctx, normalizeTexts(texts))
}

// EmbedQuery embeds a single text.
func (e *LocalModelEmbedder) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	ctx, span := e.tracer.Start(ctx, "embeddings.EmbedQuery", trace.WithAttributes(
		attribute.String("embedding.provider", providerFastEmbed),
		attribute.String("embedding.model", e.modelName),
	))
	start := time.Now()
	defer func() {
		e.metrics.RecordGeneration(ctx, providerFastEmbed, e.modelName, "query", time.Since(start), 1, err)
		endSpan(span, err)
	}()

	vecs, err := e.embed(ctx, []string{normalizeText(text)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *LocalModelEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, ctx.Err())
	default:
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.model == nil {
		return nil, fmt.Errorf("%w: embedder is closed", ErrEmbeddingFailed)
	}

	vecs, err := e.model.Embed(texts, e.batchSize)
	if err != nil {
		e.logger.Warn(ctx, "local model failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: model returned %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimension returns the embedding dimension of the loaded model.
func (e *LocalModelEmbedder) Dimension() int {
	return e.dimension
}

// Close releases the model. Later calls fail with ErrEmbeddingFailed.
func (e *LocalModelEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return nil
	}
	err := e.model.Destroy()
	e.model = nil
	return err
}
