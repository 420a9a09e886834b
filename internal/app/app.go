// Package app wires configuration, providers, the vector index, the
// session store, and the conversational pipeline into a running assistant.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/docqa/internal/awsconfig"
	"github.com/haasonsaas/docqa/internal/config"
	"github.com/haasonsaas/docqa/internal/conversation"
	"github.com/haasonsaas/docqa/internal/embeddings"
	"github.com/haasonsaas/docqa/internal/embeddings/bedrock"
	"github.com/haasonsaas/docqa/internal/embeddings/gemini"
	"github.com/haasonsaas/docqa/internal/embeddings/openai"
	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/internal/llm/providers"
	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/internal/rag/index"
	"github.com/haasonsaas/docqa/internal/rag/parser"
	"github.com/haasonsaas/docqa/internal/rag/source"
	"github.com/haasonsaas/docqa/internal/sessions"
)

// tokenCacheSize bounds the memoized per-turn token counts.
const tokenCacheSize = 8192

// App owns every long-lived component of the assistant.
type App struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry
	tracer   *observability.Tracer

	traceShutdown func(context.Context) error

	model    *llm.Client
	counter  llm.TokenCounter
	embedder *embeddings.Client
	manager  *index.Manager
	store    sessions.Store
	locker   sessions.Locker
	service  *conversation.Service
	remote   documentSource

	// buildMu serializes index builds between startup and the watcher.
	buildMu sync.Mutex
	wg      sync.WaitGroup
}

// Option overrides a component, mainly for tests.
type Option func(*options)

type options struct {
	logger    *observability.Logger
	registry  *prometheus.Registry
	chat      llm.Provider
	counter   llm.TokenCounter
	embedding embeddings.Provider
	remote    documentSource
}

// documentSource refreshes the local document from remote storage.
type documentSource interface {
	Fetch(ctx context.Context) (bool, error)
	URI() string
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithChatProvider replaces the configured chat model provider.
func WithChatProvider(p llm.Provider, counter llm.TokenCounter) Option {
	return func(o *options) {
		o.chat = p
		o.counter = counter
	}
}

// WithEmbeddingProvider replaces the configured embedding provider.
func WithEmbeddingProvider(p embeddings.Provider) Option {
	return func(o *options) { o.embedding = p }
}

// WithDocumentSource replaces the S3 source built from document.s3.
func WithDocumentSource(src documentSource) Option {
	return func(o *options) { o.remote = src }
}

// New builds every component except the index, which Initialize loads or
// builds.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: o.logger, registry: o.registry}
	if a.logger == nil {
		a.logger = observability.NewLogger(observability.LogConfig{
			Level:     cfg.Logging.Level,
			Format:    cfg.Logging.Format,
			AddSource: cfg.Logging.AddSource,
		})
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.metrics = observability.NewMetrics(a.registry)
	a.tracer, a.traceShutdown = observability.NewTracer(observability.TraceConfig{
		ServiceName:    "docqa",
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.TraceEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		EnableInsecure: cfg.Observability.TraceInsecure,
	})

	chat, counter := o.chat, o.counter
	if chat == nil {
		var err error
		chat, counter, err = providers.New(ctx, cfg.LLM, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("llm provider: %w", err)
		}
	}
	if counter == nil {
		counter = llm.EstimateCounter{}
	}
	a.counter = llm.NewCachingCounter(counter, tokenCacheSize)
	a.model = llm.NewClient(chat,
		llm.WithRetryPolicy(cfg.Retry),
		llm.WithMetrics(a.metrics),
		llm.WithTracer(a.tracer),
		llm.WithLogger(a.logger),
	)

	embedding := o.embedding
	if embedding == nil {
		var err error
		embedding, err = newEmbeddingProvider(ctx, cfg.Embeddings, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
	}
	a.embedder = embeddings.NewClient(embedding, embeddings.ClientConfig{
		BatchSize: cfg.Index.EmbedBatchSize,
		Policy:    cfg.Retry,
		Metrics:   a.metrics,
		Tracer:    a.tracer,
	})

	manager, err := index.NewManager(index.Config{
		Dir:           cfg.Index.Dir,
		SourcePath:    cfg.Document.Path,
		ChunkStrategy: cfg.Index.ChunkStrategy,
		ChunkSize:     cfg.Index.ChunkSize,
		ChunkOverlap:  cfg.Index.ChunkOverlap,
	}, a.embedder, index.WithLogger(a.logger), index.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("index manager: %w", err)
	}
	a.manager = manager

	a.store, a.locker, err = sessions.Open(ctx, cfg.Sessions.Backend, cfg.Sessions.DSN, cfg.Conversation.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	a.remote = o.remote
	if a.remote == nil && cfg.Document.S3.Enabled() {
		awsCfg, err := awsconfig.Load(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		a.remote, err = source.NewS3(awsCfg, cfg.Document.S3, cfg.Document.Path)
		if err != nil {
			return nil, err
		}
	}

	a.service = conversation.NewService(a.metrics)
	return a, nil
}

func newEmbeddingProvider(ctx context.Context, cfg config.EmbeddingsConfig, awsSettings config.AWSConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "bedrock":
		awsCfg, err := awsconfig.Load(ctx, awsSettings)
		if err != nil {
			return nil, err
		}
		return bedrock.New(bedrock.Config{AWS: awsCfg, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "gemini":
		return gemini.New(gemini.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "openai":
		return openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Logger() *observability.Logger { return a.logger }
func (a *App) Metrics() *observability.Metrics { return a.metrics }
func (a *App) Tracer() *observability.Tracer { return a.tracer }
func (a *App) Registry() *prometheus.Registry { return a.registry }
func (a *App) Service() *conversation.Service { return a.service }
func (a *App) Store() sessions.Store { return a.store }
func (a *App) IndexManager() *index.Manager { return a.manager }

// Initialize loads or builds the index and installs a pipeline over it.
// On failure the service is marked failed and the error carries
// KindExtractionFailure or KindInitializationFailure.
func (a *App) Initialize(ctx context.Context, force bool) (*index.Result, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	if a.remote != nil {
		changed, err := a.remote.Fetch(ctx)
		if err != nil {
			err = &conversation.Error{Kind: conversation.KindInitializationFailure, Op: "fetch document", Err: err}
			a.service.Fail(err)
			a.logger.Error(ctx, "initialization failed", "kind", conversation.KindOf(err), "error", err)
			return nil, err
		}
		if changed {
			a.logger.Info(ctx, "downloaded document", "source", a.remote.URI(), "path", a.cfg.Document.Path)
		}
	}

	idx, result, err := a.manager.LoadOrBuild(ctx, force)
	if err != nil {
		err = classifyInitError(err)
		a.service.Fail(err)
		a.logger.Error(ctx, "initialization failed", "kind", conversation.KindOf(err), "error", err)
		return nil, err
	}

	pipeline, err := a.newPipeline(idx)
	if err != nil {
		err = &conversation.Error{Kind: conversation.KindInitializationFailure, Op: "build pipeline", Err: err}
		a.service.Fail(err)
		return nil, err
	}
	a.service.Install(pipeline, result.ChunkCount, result.Fingerprint)
	a.logger.Info(ctx, "assistant ready", "mode", result.Mode, "chunks", result.ChunkCount, "duration", result.Duration)
	return result, nil
}

// Start initializes in the background so the HTTP server can answer
// readiness probes (and reject questions) while the index is built.
func (a *App) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_, _ = a.Initialize(ctx, false)
	}()
}

func classifyInitError(err error) error {
	if errors.Is(err, parser.ErrNoText) {
		return &conversation.Error{Kind: conversation.KindExtractionFailure, Op: "extract document text", Err: err}
	}
	return &conversation.Error{Kind: conversation.KindInitializationFailure, Op: "load or build index", Err: err}
}

func (a *App) newPipeline(idx *index.Index) (*conversation.Pipeline, error) {
	cfg := a.cfg
	temperature := cfg.LLM.Temperature

	retriever, err := conversation.NewRetriever(a.embedder, idx, cfg.Index.TopK)
	if err != nil {
		return nil, err
	}
	prompts := conversation.PromptsFromConfig(cfg.Prompts)

	return conversation.NewPipeline(conversation.PipelineConfig{
		Store:        a.store,
		Locker:       a.locker,
		Trimmer:      conversation.NewTrimmer(a.counter, cfg.Retry),
		Reformulator: conversation.NewReformulator(a.model, prompts.Contextualize, &temperature, a.logger),
		Retriever:    retriever,
		Generator: conversation.NewGenerator(a.model, conversation.GeneratorConfig{
			Prompts:     prompts,
			Temperature: &temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Fallback:    cfg.Conversation.FallbackAnswer,
			Logger:      a.logger,
		}),
		HistoryTokenBudget: cfg.Conversation.HistoryTokenBudget,
		Logger:             a.logger,
		Metrics:            a.metrics,
		Tracer:             a.tracer,
	})
}

// Close waits for background work and releases the session store and
// tracer.
func (a *App) Close(ctx context.Context) error {
	a.wg.Wait()
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session store: %w", err))
	}
	if err := a.traceShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	return errors.Join(errs...)
}
