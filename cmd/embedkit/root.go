package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
	"github.com/fyrsmithlabs/embedkit/internal/logging"
	"github.com/fyrsmithlabs/embedkit/internal/telemetry"
)

const tracerName = "github.com/fyrsmithlabs/embedkit/cmd/embedkit"

// rootOptions holds global flags and the runtime built from them.
type rootOptions struct {
	configPath string
	provider   string
	logLevel   string
	chunkSize  int

	telemetryOpts []telemetry.Option

	// app is set once setup succeeds and torn down by execute.
	app *app
}

// app is the per-invocation runtime built from config and flags.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	requestID string
	span      trace.Span
}

type appKey struct{}

func appFrom(ctx context.Context) *app {
	a, _ := ctx.Value(appKey{}).(*app)
	return a
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embedkit",
		Short: "Generate text embeddings with SageMaker or local ONNX models",
		Long: `embedkit turns text into embedding vectors.

Providers:
  sagemaker  a SageMaker inference endpoint (texts sent in bounded windows)
  fastembed  a local ONNX model (requires the ONNX runtime; see "embedkit onnx install")
  fake       deterministic 10-dimensional vectors for testing

Configuration is read from ~/.config/embedkit/config.yaml and EMBEDKIT_*
environment variables; flags override both.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.app = a

			ctx, span := a.telemetry.Tracer(tracerName).Start(cmd.Context(), cmd.CommandPath())
			a.span = span
			ctx = context.WithValue(ctx, appKey{}, a)
			ctx = logging.WithRequestID(ctx, a.requestID)
			ctx = logging.WithCommand(ctx, cmd.CommandPath())
			ctx = logging.WithLogger(ctx, a.logger)
			cmd.SetContext(ctx)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/embedkit/config.yaml)")
	flags.StringVar(&opts.provider, "provider", "", "embedding provider: sagemaker, fastembed or fake")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	flags.IntVar(&opts.chunkSize, "chunk-size", 0, "texts per endpoint request (sagemaker only)")

	cmd.AddCommand(newEmbedCmd(), newQueryCmd(), newONNXCmd())
	return cmd
}

// execute runs cmd and then tears down whatever setup started. Teardown runs
// when the command fails too, so the failed run's spans, metrics and logs
// are exported.
func execute(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	err := cmd.ExecuteContext(ctx)
	if closeErr := opts.app.close(context.WithoutCancel(ctx), err); err == nil {
		err = closeErr
	}
	return err
}

// setup loads config, applies flag overrides, and starts logging and
// telemetry. Logs go to logOut so stdout carries only command output.
func setup(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Read(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.provider != "" {
		cfg.Embeddings.Provider = opts.provider
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.chunkSize != 0 {
		cfg.Embeddings.ChunkSize = opts.chunkSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry), opts.telemetryOpts...)
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	logCfg.Output.Writer = zapcore.AddSync(logOut)
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		requestID: uuid.NewString(),
	}

	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", health.Reasons))
	}
	return a, nil
}

// provider builds the configured embedding provider.
func (a *app) provider(ctx context.Context) (embeddings.Provider, error) {
	metrics := embeddings.NewMetrics(a.logger.Underlying())
	return embeddings.NewProvider(ctx, a.cfg, a.logger, metrics,
		embeddings.WithInferenceID(a.requestID),
	)
}

// close ends the command span, recording runErr on it, then flushes and
// stops telemetry.
func (a *app) close(ctx context.Context, runErr error) error {
	if a == nil {
		return nil
	}
	if runErr != nil {
		a.logger.Error(logging.WithRequestID(ctx, a.requestID), "command failed", zap.Error(runErr))
		if a.span != nil {
			a.span.RecordError(runErr)
			a.span.SetStatus(codes.Error, runErr.Error())
		}
	}
	if a.span != nil {
		a.span.End()
	}

	err := a.telemetry.Shutdown(ctx)
	_ = a.logger.Sync()
	return err
}
