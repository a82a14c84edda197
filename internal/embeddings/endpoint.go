package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedkit/internal/logging"
)

const (
	// DefaultChunkSize is the number of texts per endpoint request when none is configured.
	DefaultChunkSize = 64

	providerSageMaker = "sagemaker"
)

// Invoker is the subset of the SageMaker runtime client used for inference.
// *sagemakerruntime.Client satisfies it.
type Invoker interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// EndpointOptions are passed through unchanged on every request.
type EndpointOptions struct {
	CustomAttributes        string
	TargetModel             string
	TargetVariant           string
	TargetContainerHostname string
	InferenceComponentName  string
	InferenceID             string
}

// EndpointConfig configures an EndpointEmbedder.
type EndpointConfig struct {
	// EndpointName is the deployed inference endpoint. Required.
	EndpointName string
	// Region is the AWS region hosting the endpoint. Required unless an
	// Invoker is supplied.
	Region string
	// Profile selects a named shared-credentials profile; empty uses the
	// default credential chain.
	Profile string
	// ContentHandler encodes requests and decodes responses. Required.
	ContentHandler ContentHandler
	// ModelKwargs are merged into every request body.
	ModelKwargs map[string]any
	// Options are optional request parameters.
	Options EndpointOptions
	// ChunkSize bounds the texts per request. Defaults to DefaultChunkSize.
	ChunkSize int
	// Dimension is reported by Dimension(); 0 means unknown.
	Dimension int
}

// Validate reports missing or out-of-range settings.
func (c *EndpointConfig) Validate() error {
	if c.EndpointName == "" {
		return fmt.Errorf("%w: endpoint name is required", ErrInvalidConfig)
	}
	if c.ContentHandler == nil {
		return fmt.Errorf("%w: content handler is required", ErrInvalidConfig)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("%w: %w: got %d", ErrInvalidConfig, ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// EndpointOption customizes NewEndpointEmbedder.
type EndpointOption func(*endpointOptions)

type endpointOptions struct {
	invoker     Invoker
	inferenceID string
	logger      *logging.Logger
	metrics     *Metrics
	awsOptions  []func(*awsconfig.LoadOptions) error
}

// WithInvoker supplies the runtime client directly, skipping AWS config and
// credential resolution.
func WithInvoker(inv Invoker) EndpointOption {
	return func(o *endpointOptions) { o.invoker = inv }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) EndpointOption {
	return func(o *endpointOptions) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) EndpointOption {
	return func(o *endpointOptions) { o.metrics = m }
}

// WithInferenceID tags every request with id unless EndpointOptions already
// sets one. SageMaker records it in capture data for correlation.
func WithInferenceID(id string) EndpointOption {
	return func(o *endpointOptions) { o.inferenceID = id }
}

// WithAWSConfigOptions appends options to config.LoadDefaultConfig.
func WithAWSConfigOptions(fns ...func(*awsconfig.LoadOptions) error) EndpointOption {
	return func(o *endpointOptions) { o.awsOptions = append(o.awsOptions, fns...) }
}

// EndpointEmbedder generates embeddings by invoking a SageMaker endpoint.
//
// Document batches are split into windows of at most ChunkSize texts and
// sent one window at a time, in order. Any failing window aborts the call.
type EndpointEmbedder struct {
	client    Invoker
	endpoint  string
	handler   ContentHandler
	kwargs    map[string]any
	options   EndpointOptions
	chunkSize int
	dimension int
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// NewEndpointEmbedder validates cfg and builds a runtime client.
//
// Credentials are resolved eagerly so a missing profile or unreachable
// credential source fails here with ErrInvalidConfig rather than on the
// first request.
func NewEndpointEmbedder(ctx context.Context, cfg EndpointConfig, opts ...EndpointOption) (*EndpointEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := endpointOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	client := o.invoker
	if client == nil {
		if cfg.Region == "" {
			return nil, fmt.Errorf("%w: region is required", ErrInvalidConfig)
		}
		c, err := newRuntimeClient(ctx, cfg, o.awsOptions)
		if err != nil {
			return nil, err
		}
		client = c
	}

	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	options := cfg.Options
	if options.InferenceID == "" {
		options.InferenceID = o.inferenceID
	}

	kwargs := make(map[string]any, len(cfg.ModelKwargs))
	for k, v := range cfg.ModelKwargs {
		kwargs[k] = v
	}

	e := &EndpointEmbedder{
		client:    client,
		endpoint:  cfg.EndpointName,
		handler:   cfg.ContentHandler,
		kwargs:    kwargs,
		options:   options,
		chunkSize: chunkSize,
		dimension: cfg.Dimension,
		logger:    o.logger.Named("sagemaker").With(zap.String("endpoint", cfg.EndpointName)),
		metrics:   o.metrics,
		tracer:    otel.Tracer(instrumentationName),
	}

	e.logger.Debug(ctx, "endpoint embedder ready",
		zap.String("region", cfg.Region),
		zap.Int("chunk_size", chunkSize),
	)
	return e, nil
}

func newRuntimeClient(ctx context.Context, cfg EndpointConfig, extra []func(*awsconfig.LoadOptions) error) (*sagemakerruntime.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	loadOpts = append(loadOpts, extra...)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config: %v", ErrInvalidConfig, err)
	}
	if awsCfg.Credentials == nil {
		return nil, fmt.Errorf("%w: no AWS credentials configured", ErrInvalidConfig)
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("%w: resolving AWS credentials: %v", ErrInvalidConfig, err)
	}

	return sagemakerruntime.NewFromConfig(awsCfg), nil
}

// EmbedDocuments embeds texts using the configured chunk size.
func (e *EndpointEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedDocumentsChunked(ctx, texts, e.chunkSize)
}

// EmbedDocumentsChunked embeds texts in windows of at most chunkSize.
//
// Empty input returns an empty result without contacting the endpoint. On
// the first failing window the call returns ErrEmbeddingFailed and no
// partial results; later windows are not sent.
func (e *EndpointEmbedder) EmbedDocumentsChunked(ctx context.Context, texts []string, chunkSize int) (vectors [][]float32, err error) {
	windows, err := planWindows(len(texts), chunkSize)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := e.tracer.Start(ctx, "embeddings.EmbedDocuments", trace.WithAttributes(
		attribute.String("embedding.provider", providerSageMaker),
		attribute.String("embedding.endpoint", e.endpoint),
		attribute.Int("embedding.texts", len(texts)),
		attribute.Int("embedding.windows", len(windows)),
	))
	start := time.Now()
	defer func() {
		e.metrics.RecordGeneration(ctx, providerSageMaker, e.endpoint, "documents", time.Since(start), len(texts), err)
		endSpan(span, err)
	}()

	normalized := normalizeTexts(texts)
	out := make([][]float32, 0, len(texts))
	for i, w := range windows {
		vecs, err := e.invokeWindow(ctx, normalized[w.start:w.end])
		if err != nil {
			e.logger.Warn(ctx, "endpoint window failed",
				zap.Int("window", i),
				zap.Int("windows", len(windows)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("window %d of %d: %w", i+1, len(windows), err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single text in one request.
func (e *EndpointEmbedder) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	ctx, span := e.tracer.Start(ctx, "embeddings.EmbedQuery", trace.WithAttributes(
		attribute.String("embedding.provider", providerSageMaker),
		attribute.String("embedding.endpoint", e.endpoint),
	))
	start := time.Now()
	defer func() {
		e.metrics.RecordGeneration(ctx, providerSageMaker, e.endpoint, "query", time.Since(start), 1, err)
		endSpan(span, err)
	}()

	vecs, err := e.invokeWindow(ctx, []string{normalizeText(text)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// invokeWindow sends one request and checks the response carries one vector
// per text.
func (e *EndpointEmbedder) invokeWindow(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := e.handler.TransformInput(texts, e.kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrEmbeddingFailed, err)
	}

	start := time.Now()
	resp, err := e.client.InvokeEndpoint(ctx, e.buildInput(body))
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, ctxErr)
		}
		return nil, fmt.Errorf("%w: invoking endpoint %s: %v", ErrEmbeddingFailed, e.endpoint, err)
	}
	e.metrics.RecordWindow(ctx, providerSageMaker, e.endpoint, len(texts), elapsed)

	vecs, err := e.handler.TransformOutput(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: endpoint returned %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}

	e.logger.Debug(ctx, "endpoint window embedded",
		zap.Int("texts", len(texts)),
		zap.Duration("duration", elapsed),
	)
	return vecs, nil
}

func (e *EndpointEmbedder) buildInput(body []byte) *sagemakerruntime.InvokeEndpointInput {
	in := &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(e.endpoint),
		Body:         body,
		ContentType:  aws.String(e.handler.ContentType()),
		Accept:       aws.String(e.handler.Accepts()),
	}
	if v := e.options.CustomAttributes; v != "" {
		in.CustomAttributes = aws.String(v)
	}
	if v := e.options.TargetModel; v != "" {
		in.TargetModel = aws.String(v)
	}
	if v := e.options.TargetVariant; v != "" {
		in.TargetVariant = aws.String(v)
	}
	if v := e.options.TargetContainerHostname; v != "" {
		in.TargetContainerHostname = aws.String(v)
	}
	if v := e.options.InferenceComponentName; v != "" {
		in.InferenceComponentName = aws.String(v)
	}
	if v := e.options.InferenceID; v != "" {
		in.InferenceId = aws.String(v)
	}
	return in
}

// Dimension returns the configured dimension, or 0 if unknown.
func (e *EndpointEmbedder) Dimension() int {
	return e.dimension
}

// Close is a no-op; the runtime client holds no releasable resources.
func (e *EndpointEmbedder) Close() error {
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
