// Package app assembles the runtime: model service, provider sessions, tool
// registry, dispatcher and query loop. It owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/dispatch"
	"github.com/harun/mcpagent/pkg/provider"
	"github.com/harun/mcpagent/pkg/registry"
)

// Option customizes New.
type Option func(*options)

type options struct {
	dialer provider.Dialer
	model  agent.ModelService
}

// WithDialer replaces the stdio dialer used for every provider.
func WithDialer(d provider.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithModelService replaces the configured model backend.
func WithModelService(m agent.ModelService) Option {
	return func(o *options) { o.model = m }
}

// App is a started runtime. Every provider in it is Ready when New returns.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	group      *provider.Group
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	loop       *agent.Loop
	metrics    *observability.Server

	startTime time.Time
	closeOnce sync.Once
	closeErr  error
}

// Status is a point-in-time view of the runtime.
type Status struct {
	Uptime    time.Duration     `json:"uptime"`
	Providers map[string]string `json:"providers"`
	Tools     int               `json:"tools"`
	Backend   string            `json:"backend"`
}

// New starts every configured provider and builds the registry. On any
// failure everything started so far is closed and the error returned.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
		}
	}
	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	model := o.model
	if model == nil {
		var err error
		model, err = agent.NewModelService(agent.ModelConfig{
			Backend:     cfg.Model.Backend,
			BaseURL:     cfg.Model.BaseURL,
			APIKey:      cfg.Model.APIKey,
			Model:       cfg.Model.Name,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxTokens,
			Timeout:     cfg.Model.Timeout,
			MaxRetries:  cfg.Model.MaxRetries,
		}, logger)
		if err != nil {
			a.shutdownAmbient()
			return nil, err
		}
	}

	configs := cfg.ProviderConfigs()
	logger.Info().Int("providers", len(configs)).Msg("Starting tool providers")

	group, err := provider.StartAll(ctx, configs, provider.GroupOptions{
		Dialer:        o.dialer,
		Logger:        logger,
		StartTimeout:  cfg.Agent.StartTimeout,
		OnStateChange: a.onProviderState,
	})
	if err != nil {
		a.shutdownAmbient()
		return nil, fmt.Errorf("failed to start providers: %w", err)
	}
	a.group = group

	sessions := group.Sessions()
	providers := make([]registry.Provider, 0, len(sessions))
	for _, s := range sessions {
		providers = append(providers, s)
	}
	reg, err := registry.Build(ctx, providers, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	a.registry = reg
	for name, count := range countByProvider(reg.Descriptors()) {
		observability.SetRegisteredTools(name, count)
	}

	a.dispatcher = dispatch.New(reg, dispatch.Options{
		MaxOutputChars: cfg.Agent.MaxOutputChars,
		CallTimeout:    cfg.Agent.CallTimeout,
	}, logger)

	a.loop = agent.NewLoop(model, reg, a.dispatcher, agent.LoopOptions{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Model:        cfg.Model.Name,
		Temperature:  cfg.Model.Temperature,
		MaxTokens:    cfg.Model.MaxTokens,
		MaxRounds:    cfg.Agent.MaxRounds,
		MaxParallel:  cfg.Agent.MaxParallelDispatch,
	}, logger)

	if cfg.Metrics.Addr != "" {
		srv, err := observability.StartServer(cfg.Metrics.Addr, a.providerStates, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		a.metrics = srv
	}

	logger.Info().
		Int("providers", len(sessions)).
		Int("tools", reg.Len()).
		Str("backend", model.Backend()).
		Msg("Runtime ready")

	return a, nil
}

// Ask answers one query.
func (a *App) Ask(ctx context.Context, query string) (*agent.Result, error) {
	return a.loop.Run(ctx, query)
}

// Registry returns the tool registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Tools returns the registered tools in catalog order.
func (a *App) Tools() []registry.Descriptor {
	return a.registry.Descriptors()
}

// Dispatcher returns the tool dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (a *App) MetricsAddr() string {
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}

// Status reports provider states and the registry size.
func (a *App) Status() Status {
	st := Status{
		Uptime:    time.Since(a.startTime),
		Providers: a.providerStates(),
	}
	if a.registry != nil {
		st.Tools = a.registry.Len()
	}
	st.Backend = a.cfg.Model.Backend
	return st
}

// Close stops the metrics server and closes every provider session. It is
// safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.metrics != nil {
			if err := a.metrics.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.group != nil {
			if err := a.group.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.shutdownAmbient()
		a.closeErr = errors.Join(errs...)
		a.logger.Info().Msg("Runtime stopped")
	})
	return a.closeErr
}

func (a *App) shutdownAmbient() {
	if a.cfg.Tracing.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	if err := observability.CloseAuditLogger(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close audit log")
	}
}

func (a *App) onProviderState(name string, state provider.State) {
	observability.SetProviderReady(name, state == provider.StateReady)
	switch state {
	case provider.StateReady:
		observability.RecordProviderStart(name, true)
	case provider.StateFailed:
		observability.RecordProviderStart(name, false)
	}
	observability.RecordProviderAudit(context.Background(), name, state.String(), nil)
	a.logger.Debug().Str("provider", name).Str("state", state.String()).Msg("Provider state changed")
}

func (a *App) providerStates() map[string]string {
	out := make(map[string]string)
	if a.group == nil {
		return out
	}
	for _, s := range a.group.Sessions() {
		out[s.Name()] = s.State().String()
	}
	return out
}

func countByProvider(descs []registry.Descriptor) map[string]int {
	counts := make(map[string]int)
	for _, d := range descs {
		counts[d.ProviderName]++
	}
	return counts
}
