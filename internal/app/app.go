// Package app wires the personaset stages into a runnable pipeline.
//
// [New] builds every component from a [config.Config]: the transcript
// source, the pairing engine, the cleaning stage and the publishers. For
// testing, inject doubles via functional options (WithSource, WithCleaner,
// WithSinks). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/personaset/internal/cleaning"
	"github.com/MrWong99/personaset/internal/cleaning/llmclean"
	"github.com/MrWong99/personaset/internal/cleaning/patternclean"
	"github.com/MrWong99/personaset/internal/config"
	"github.com/MrWong99/personaset/internal/corpus"
	"github.com/MrWong99/personaset/internal/datasetstore"
	"github.com/MrWong99/personaset/internal/observe"
	"github.com/MrWong99/personaset/internal/pairing"
	"github.com/MrWong99/personaset/internal/publish"
	"github.com/MrWong99/personaset/internal/resilience"
)

// App owns the pipeline components and their lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics

	source    corpus.Source
	engine    *pairing.Engine
	cleaner   cleaning.TextCleaner
	stage     *cleaning.Stage
	sinks     []publish.Sink
	publisher *publish.Publisher
	store     *datasetstore.Store

	// closers are called in reverse order by Close.
	closers []func()
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a transcript source instead of creating one from config.
func WithSource(s corpus.Source) Option {
	return func(a *App) { a.source = s }
}

// WithCleaner injects a text cleaner instead of creating one from config.
func WithCleaner(c cleaning.TextCleaner) Option {
	return func(a *App) { a.cleaner = c }
}

// WithSinks injects the publish sinks instead of creating them from config.
func WithSinks(sinks ...publish.Sink) Option {
	return func(a *App) { a.sinks = sinks }
}

// WithStore injects the dataset store used for run and failure records.
func WithStore(s *datasetstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry replaces the registry holding the LLM provider factories.
// By default every built-in provider is registered.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// New creates an App from cfg. Components are built lazily where they need
// external resources: the cleaner on first use, the sinks and the store
// only when Publish or Build run. Call [App.Close] when done.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinProviders(a.registry)
	}

	engine, err := pairing.New(cfg.Persona.Speaker, cfg.Persona.SystemPrompt,
		pairing.WithAliases(cfg.Persona.Aliases))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.engine = engine

	if a.source == nil {
		a.source, err = NewSource(cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Source returns the transcript source.
func (a *App) Source() corpus.Source { return a.source }

// Engine returns the pairing engine.
func (a *App) Engine() *pairing.Engine { return a.engine }

// Close releases every resource acquired by the App.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewSource builds the transcript source described by cfg.
func NewSource(cfg config.SourceConfig) (corpus.Source, error) {
	cols := corpus.Columns{Speaker: cfg.Columns.Speaker, Episode: cfg.Columns.Episode, Text: cfg.Columns.Text}
	switch cfg.Kind {
	case config.SourceCSV:
		return corpus.NewCSV(cfg.Path, cols), nil
	case config.SourceJSONL:
		return corpus.NewJSONL(cfg.Path, cols), nil
	case config.SourceHuggingFace:
		var opts []corpus.HFOption
		if cfg.BaseURL != "" {
			opts = append(opts, corpus.WithRowsBaseURL(cfg.BaseURL))
		}
		if cfg.Token != "" {
			opts = append(opts, corpus.WithToken(cfg.Token))
		}
		return corpus.NewHuggingFace(cfg.Dataset, cfg.Subset, cfg.Split, cols, opts...), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// NewCleaner builds the text cleaner described by cfg. The llm cleaner is
// wrapped in a fallback group with one circuit breaker per provider and in
// per-call retries.
func NewCleaner(cfg config.CleanerConfig, reg *config.Registry, m *observe.Metrics) (cleaning.TextCleaner, error) {
	switch cfg.Kind {
	case config.CleanerIdentity:
		return cleaning.Identity, nil

	case config.CleanerPattern:
		return patternclean.New(cfg.Patterns...)

	case config.CleanerLLM:
		primary, err := createLLM(reg, cfg.Provider)
		if err != nil {
			return nil, err
		}
		group := resilience.NewLLMFallback(primary, cfg.Provider.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  cfg.CircuitBreaker.MaxFailures,
				ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
			},
			Metrics: m,
		})
		for _, fb := range cfg.Fallbacks {
			p, err := createLLM(reg, fb)
			if err != nil {
				return nil, err
			}
			group.AddFallback(fb.Name, p)
		}

		var opts []llmclean.Option
		if cfg.Temperature != nil {
			opts = append(opts, llmclean.WithTemperature(*cfg.Temperature))
		}
		c, err := llmclean.New(group, opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("cleaner ready", "kind", cfg.Kind, "providers", strings.Join(group.Names(), ","))
		return cleaning.WithRetry(c, resilience.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     cfg.Retry.Backoff,
		}), nil

	default:
		return nil, fmt.Errorf("unknown cleaner kind %q", cfg.Kind)
	}
}

// Stage returns the cleaning stage, building the cleaner on first use.
func (a *App) Stage() (*cleaning.Stage, error) {
	if a.stage != nil {
		return a.stage, nil
	}
	if a.cleaner == nil {
		c, err := NewCleaner(a.cfg.Cleaner, a.registry, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("app: build cleaner: %w", err)
		}
		a.cleaner = c
	}
	stage, err := cleaning.New(cleaning.Config{
		Cleaner:     a.cleaner,
		Instruction: a.cfg.Cleaner.Instruction,
		Concurrency: a.cfg.Cleaner.Concurrency,
		CallTimeout: a.cfg.Cleaner.CallTimeout,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.stage = stage
	return stage, nil
}

// Publisher returns the publisher over every configured sink, connecting
// to PostgreSQL on first use.
func (a *App) Publisher(ctx context.Context) (*publish.Publisher, error) {
	if a.publisher != nil {
		return a.publisher, nil
	}
	if a.sinks == nil {
		sinks, err := a.buildSinks(ctx)
		if err != nil {
			return nil, err
		}
		a.sinks = sinks
	}
	if len(a.sinks) == 0 {
		return nil, errors.New("app: no publish sink configured")
	}
	a.publisher = publish.NewPublisher(a.metrics, a.sinks...)
	return a.publisher, nil
}

func (a *App) buildSinks(ctx context.Context) ([]publish.Sink, error) {
	pc := a.cfg.Publish
	var sinks []publish.Sink

	if pc.JSONL.Path != "" {
		sinks = append(sinks, publish.NewJSONL(pc.JSONL.Path, ""))
	}
	if pc.Hub.Repo != "" {
		hub, err := publish.NewHub(publish.HubConfig{
			Repo:       pc.Hub.Repo,
			Token:      pc.Hub.Token,
			Private:    pc.Hub.Private,
			PathInRepo: pc.Hub.PathInRepo,
			Branch:     pc.Hub.Branch,
			BaseURL:    pc.Hub.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		sinks = append(sinks, hub)
	}
	if pc.Postgres.DSN != "" {
		store, err := a.Store(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publish.NewPostgres(store, datasetstore.Run{
			Dataset: pc.Postgres.Dataset,
			Stage:   datasetstore.StageCleaned,
			Persona: a.cfg.Persona.Speaker,
			Source:  a.source.Name(),
		}))
	}
	return sinks, nil
}

// Store returns the dataset store, or nil when PostgreSQL is not configured.
func (a *App) Store(ctx context.Context) (*datasetstore.Store, error) {
	if a.store != nil || a.cfg.Publish.Postgres.DSN == "" {
		return a.store, nil
	}
	store, closeFn, err := datasetstore.Open(ctx, a.cfg.Publish.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, closeFn)
	return store, nil
}
