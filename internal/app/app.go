// Package app assembles a running legacylens instance from configuration:
// result store, program graph, source loader, stage pipeline, task manager
// and the request service shared by the JSON-RPC and MCP surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dusk-indust/legacylens/internal/config"
	"github.com/dusk-indust/legacylens/internal/enhance"
	"github.com/dusk-indust/legacylens/internal/graph"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
	"github.com/dusk-indust/legacylens/internal/rpc"
	"github.com/dusk-indust/legacylens/internal/stages"
)

// App holds the wired components. Run drives the task manager; Close
// releases the stores.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Reporter *orchestrator.Reporter
	Manager  *orchestrator.Manager
	Results  *results.Manager
	Graph    graph.Store
	Sources  *stages.SourceLoader
	Service  *rpc.Service

	store    results.Store
	profiles map[string]stages.Profile
}

// Option adjusts the components New builds.
type Option func(*options)

type options struct {
	enhancer  enhance.Enhancer
	retriever enhance.Retriever
}

// WithEnhancer replaces the configured enhancer.
func WithEnhancer(e enhance.Enhancer) Option {
	return func(o *options) { o.enhancer = e }
}

// WithRetriever replaces the configured retriever.
func WithRetriever(r enhance.Retriever) Option {
	return func(o *options) { o.retriever = r }
}

// New builds an App from cfg. The task manager is not started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	policies, err := cfg.Policies()
	if err != nil {
		return nil, err
	}

	store, err := results.Open(cfg.StoreOptions(logger))
	if err != nil {
		return nil, err
	}
	g, err := graph.Open(ctx, cfg.Graph.Backend, cfg.Graph.Path)
	if err != nil {
		store.Close()
		return nil, err
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Reporter: orchestrator.NewReporter(),
		Graph:    g,
		store:    store,
		profiles: cfg.Profiles(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Results = results.NewManager(store, results.WithLogger(logger))
	a.Sources = stages.NewSourceLoader(cfg.Sources.Root)
	if cfg.Sources.MaxBytes > 0 {
		a.Sources.MaxBytes = cfg.Sources.MaxBytes
	}

	enhancer, retriever := o.enhancer, o.retriever
	if enhancer == nil {
		if enhancer, err = newEnhancer(cfg.Enhancer, logger); err != nil {
			a.Close()
			return nil, err
		}
	}
	if retriever == nil {
		if retriever, err = newRetriever(cfg.Enhancer.Retriever, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	build, err := stages.Build(stages.Deps{
		Recorder:  a.Results,
		Graph:     g,
		Profiles:  a.profiles,
		Enhancer:  enhancer,
		Retriever: retriever,
		Summaries: a.Results,
		Logger:    logger,
	}, policies)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Manager = orchestrator.NewManager(cfg.ManagerConfig(), build, a.Results,
		orchestrator.WithLoader(a.Sources.Load),
		orchestrator.WithFinishHook(a.Sources.Release),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(orchestrator.NewMetrics(a.Registry)),
		orchestrator.WithReporter(a.Reporter),
	)
	a.Service = rpc.NewService(a.Manager, a.Results,
		rpc.WithSources(a.Sources),
		rpc.WithGraph(g),
		rpc.WithDefaults(a.TaskDefaults),
	)
	return a, nil
}

// TaskDefaults fills empty task fields from the configured defaults and
// selects the configured benchmark profile for analysis tasks. A profile
// that is not configured rejects the task before it is queued.
func (a *App) TaskDefaults(tc orchestrator.TaskContext) (orchestrator.TaskContext, error) {
	tc, err := a.Config.TaskContext(tc)
	if err != nil || tc.SourceID == "" {
		return tc, err
	}
	if name := tc.Meta(stages.MetaBenchmark, ""); name != "" {
		if _, ok := a.profiles[name]; !ok {
			return tc, &orchestrator.ValidationError{
				Field:  "benchmark",
				Reason: fmt.Sprintf("unknown profile %q (known: %v)", name, slices.Sorted(maps.Keys(a.profiles))),
			}
		}
		return tc, nil
	}
	tc = tc.Clone()
	if tc.Metadata == nil {
		tc.Metadata = make(map[string]string, 1)
	}
	tc.Metadata[stages.MetaBenchmark] = a.Config.Benchmark.Default
	return tc, nil
}

// Run drives the task manager until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Manager.Run(ctx)
}

// Close stops event delivery and closes the stores.
func (a *App) Close() error {
	if a.Reporter != nil {
		a.Reporter.Close()
	}
	var errs []error
	if a.Graph != nil {
		errs = append(errs, a.Graph.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func newEnhancer(cfg config.EnhancerConfig, logger *slog.Logger) (enhance.Enhancer, error) {
	switch cfg.Provider {
	case "", "none":
		return enhance.NoopEnhancer{}, nil
	case "openai":
		return enhance.NewOpenAIEnhancer(enhance.OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			SystemPrompt:      cfg.SystemPrompt,
			MaxTokens:         cfg.MaxTokens,
			Temperature:       cfg.Temperature,
			RequestsPerMinute: cfg.RequestsPerMinute,
			Logger:            logger,
		})
	default:
		return nil, fmt.Errorf("app: unknown enhancer provider %q", cfg.Provider)
	}
}

func newRetriever(cfg config.RetrieverConfig, logger *slog.Logger) (enhance.Retriever, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "weaviate":
		return enhance.NewWeaviateRetriever(enhance.WeaviateConfig{
			Host:   cfg.Host,
			Class:  cfg.Class,
			APIKey: cfg.APIKey,
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("app: unknown retriever provider %q", cfg.Provider)
	}
}
