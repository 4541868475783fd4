package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/nowucca/introducing-mcp/pkg/config"
	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/exercises"
	"github.com/nowucca/introducing-mcp/pkg/llm"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/memory"
	"github.com/nowucca/introducing-mcp/pkg/observability"
)

const serviceName = "introducing-mcp"

// app holds the process-wide dependencies built from configuration
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *observability.PrometheusMetricsProvider
	tracing *observability.TracingProvider
	memory  memory.Store
}

// newApp loads configuration and builds logging, metrics, tracing and the
// context memory store. role names the process side in log output.
func newApp(ctx context.Context, role string) (*app, error) {
	cfg, err := config.Load(v, envFile)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, mcperrors.ConfigError(config.KeyLogLevel, err.Error())
	}
	logger := logging.New(logging.Config{Level: level, Format: cfg.LogFormat, Role: role})
	if cfg.EnvFile != "" {
		logger.Debug("Loaded env file", logging.String("path", cfg.EnvFile))
	}

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Addr:           cfg.MetricsAddr,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	if err := metrics.Start(ctx); err != nil {
		return nil, err
	}

	tracing, err := observability.NewTracingProvider(observability.TracingConfigFrom(cfg.Tracing, serviceName, version))
	if err != nil {
		_ = metrics.Shutdown(ctx)
		return nil, err
	}

	store, err := memory.Open(ctx, cfg.Memory, logger)
	if err != nil {
		_ = metrics.Shutdown(ctx)
		_ = tracing.Shutdown(ctx)
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, metrics: metrics, tracing: tracing, memory: store}, nil
}

func (a *app) close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	err := errors.Join(
		a.memory.Close(),
		a.tracing.Shutdown(ctx),
		a.metrics.Shutdown(ctx),
	)
	_ = a.logger.Sync()
	return err
}

// selector builds the OpenAI selector when any of the exercises talks to the
// model. A missing key is not an error here: flows that require the model
// report it themselves.
func (a *app) selector(list ...exercises.Exercise) llm.ToolSelector {
	needed := false
	for _, e := range list {
		if e.LLM != exercises.LLMNone {
			needed = true
		}
	}
	if !needed {
		return nil
	}

	s, err := llm.NewOpenAISelector(a.cfg.OpenAI, a.logger)
	if err != nil {
		a.logger.Warn("No LLM available", logging.ErrorField(err))
		return nil
	}
	return s
}

func (a *app) runner(out io.Writer, sel llm.ToolSelector) *exercises.Runner {
	return &exercises.Runner{
		Out:      out,
		In:       os.Stdin,
		Logger:   a.logger,
		Config:   a.cfg,
		Selector: sel,
		Memory:   a.memory,
		Tracing:  a.tracing,
		Metrics:  a.metrics,
	}
}
