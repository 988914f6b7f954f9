// Package app assembles the pipeline components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"ragagent/internal/agent"
	"ragagent/internal/checkpoint"
	"ragagent/internal/chunker"
	"ragagent/internal/config"
	"ragagent/internal/domain"
	"ragagent/internal/embedding/hashing"
	embopenai "ragagent/internal/embedding/openai"
	"ragagent/internal/evaluation"
	"ragagent/internal/feedback"
	llmopenai "ragagent/internal/llm/openai"
	"ragagent/internal/loader"
	"ragagent/internal/retrieval"
	"ragagent/internal/service"
	"ragagent/internal/vectorstore"
	"ragagent/internal/vectorstore/memory"
	"ragagent/internal/vectorstore/qdrant"
)

// NewEmbedder builds the configured embedder.
func NewEmbedder(cfg *config.AppConfig, logger *zap.Logger) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Embedder.Dimension), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, domain.NewError(domain.KindConfig, "openai embedder config missing", nil)
		}
		dim := oc.Dimension
		if dim == 0 {
			dim = cfg.Embedder.Dimension
		}
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Dimension:  dim,
			BatchSize:  oc.BatchSize,
			Timeout:    config.Seconds(oc.TimeoutSecs),
			MaxRetries: config.IntValue(oc.MaxRetries),
		}, logger)
		if err != nil {
			return nil, domain.Wrapf(domain.KindConfig, err, "openai embedder")
		}
		return client, nil
	default:
		return nil, domain.NewError(domain.KindConfig, "unknown embedder", fmt.Errorf("%q", cfg.Embedder.Type))
	}
}

// NewStorage returns an empty store of the configured type, ready to be built.
func NewStorage(cfg *config.AppConfig) (vectorstore.Storage, error) {
	switch cfg.VectorStore.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "qdrant":
		return newQdrant(cfg)
	default:
		return nil, domain.NewError(domain.KindConfig, "unknown vector store", fmt.Errorf("%q", cfg.VectorStore.Type))
	}
}

// OpenIndex attaches to an index built earlier and checks that it matches the
// configured embedder.
func OpenIndex(ctx context.Context, cfg *config.AppConfig, embedder domain.Embedder, logger *zap.Logger) (vectorstore.Storage, error) {
	switch cfg.VectorStore.Type {
	case "memory", "":
		store, meta, err := memory.Load(cfg.VectorStore.Path, memory.Expectation{
			Dimension: embedder.Dimension(),
			Embedder:  embedder.Name(),
		})
		if err != nil {
			return nil, err
		}
		logger.Info("index loaded",
			zap.String("path", cfg.VectorStore.Path),
			zap.Int("entries", meta.Count),
			zap.Int("dimension", meta.Dimension),
			zap.String("created_at", meta.CreatedAt))
		return store, nil
	case "qdrant":
		store, err := newQdrant(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.Open(ctx); err != nil {
			return nil, err
		}
		if want := embedder.Dimension(); want > 0 && store.Dimension() != want {
			return nil, domain.NewError(domain.KindQuery, domain.ErrDimensionMismatch.Message,
				fmt.Errorf("collection has %d dimensions, embedder produces %d", store.Dimension(), want))
		}
		logger.Info("qdrant collection opened",
			zap.String("collection", cfg.VectorStore.Qdrant.Collection),
			zap.Int("dimension", store.Dimension()))
		return store, nil
	default:
		return nil, domain.NewError(domain.KindConfig, "unknown vector store", fmt.Errorf("%q", cfg.VectorStore.Type))
	}
}

func newQdrant(cfg *config.AppConfig) (*qdrant.Storage, error) {
	qc := cfg.VectorStore.Qdrant
	if qc == nil {
		return nil, domain.NewError(domain.KindConfig, "qdrant config missing", nil)
	}
	var key string
	if qc.APIKeyEnv != "" {
		key = os.Getenv(qc.APIKeyEnv)
	}
	return qdrant.NewStorage(qdrant.Config{
		URL:        qc.URL,
		APIKey:     key,
		Collection: qc.Collection,
		Timeout:    config.Seconds(qc.TimeoutSecs),
	}), nil
}

// Ingest loads the knowledge base, rebuilds the index and persists it.
func Ingest(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (service.IngestStats, error) {
	embedder, err := NewEmbedder(cfg, logger)
	if err != nil {
		return service.IngestStats{}, err
	}
	store, err := NewStorage(cfg)
	if err != nil {
		return service.IngestStats{}, err
	}
	ch, err := chunker.NewWindowChunker(cfg.Chunker.ChunkSize, config.IntValue(cfg.Chunker.Overlap))
	if err != nil {
		return service.IngestStats{}, err
	}
	batch := 64
	if cfg.Embedder.OpenAI != nil && cfg.Embedder.OpenAI.BatchSize > 0 {
		batch = cfg.Embedder.OpenAI.BatchSize
	}
	svc := service.NewIngestService(loader.New(cfg.Documents.Dir, cfg.Documents.Patterns), ch, embedder, store, batch, logger)
	stats, err := svc.Ingest(ctx)
	if err != nil {
		return stats, err
	}
	if err := service.Persist(store, cfg.VectorStore.Path, embedder); err != nil {
		return stats, err
	}
	return stats, nil
}

// NewGenerator builds the chat model client.
func NewGenerator(cfg *config.AppConfig, logger *zap.Logger) (*llmopenai.Generator, error) {
	g, err := llmopenai.NewGenerator(llmopenai.Config{
		BaseURL:     cfg.Generator.BaseURL,
		APIKeyEnv:   cfg.Generator.APIKeyEnv,
		Model:       cfg.Generator.Model,
		Temperature: cfg.Generator.Temperature,
		Timeout:     config.Seconds(cfg.Generator.TimeoutSecs),
	}, logger)
	if err != nil {
		return nil, domain.Wrapf(domain.KindConfig, err, "generator")
	}
	return g, nil
}

// Checkpointer is a conversation store that owns resources.
type Checkpointer interface {
	agent.Checkpointer
	io.Closer
}

// NewCheckpointer opens the configured conversation store.
func NewCheckpointer(ctx context.Context, cfg *config.AppConfig) (Checkpointer, error) {
	switch cfg.Checkpoint.Type {
	case "memory", "":
		return checkpoint.NewMemory(), nil
	case "sqlite":
		return checkpoint.OpenSQLite(ctx, cfg.Checkpoint.Path)
	default:
		return nil, domain.NewError(domain.KindConfig, "unknown checkpoint store", fmt.Errorf("%q", cfg.Checkpoint.Type))
	}
}

// NewDispatcher wires the generator to the knowledge base search tool and the
// system info tool.
func NewDispatcher(cfg *config.AppConfig, generator domain.Generator, searcher agent.Searcher, logger *zap.Logger) (*agent.Dispatcher, error) {
	tools := []agent.Tool{
		agent.NewSearchTool(searcher, cfg.Retriever.K),
		agent.NewSystemInfoTool(),
	}
	return agent.NewDispatcher(generator, tools, agent.DispatcherConfig{
		SystemPrompt:      cfg.Agent.SystemPrompt,
		MaxToolRounds:     cfg.Agent.MaxToolRounds,
		ParallelTools:     cfg.Agent.ParallelTools,
		GenerationTimeout: config.Seconds(cfg.Generator.TimeoutSecs),
		ToolTimeout:       config.Seconds(cfg.Agent.ToolTimeoutSecs),
		GenerationRetries: config.IntValue(cfg.Generator.MaxRetries),
	}, logger)
}

// NewJudge builds the configured metric judge.
func NewJudge(cfg *config.AppConfig, embedder domain.Embedder, logger *zap.Logger) (evaluation.Judge, error) {
	jc := cfg.Evaluation.Judge
	switch jc.Type {
	case "lexical", "":
		return evaluation.NewLexicalJudge(), nil
	case "llm":
		gc := cfg.Generator
		if jc.Model != "" {
			gc.Model = jc.Model
		}
		model, err := llmopenai.NewGenerator(llmopenai.Config{
			BaseURL:   gc.BaseURL,
			APIKeyEnv: gc.APIKeyEnv,
			Model:     gc.Model,
			Timeout:   config.Seconds(gc.TimeoutSecs),
		}, logger)
		if err != nil {
			return nil, domain.Wrapf(domain.KindConfig, err, "judge model")
		}
		var emb domain.Embedder
		if jc.EmbedRelevancy {
			emb = embedder
		}
		return evaluation.NewLLMJudge(model, emb, jc.RequestsPerSecond), nil
	default:
		return nil, domain.NewError(domain.KindConfig, "unknown judge", fmt.Errorf("%q", jc.Type))
	}
}

// FeedbackSink is a sink that may own a connection.
type FeedbackSink interface {
	domain.FeedbackSink
	io.Closer
}

type nopCloser struct{ domain.FeedbackSink }

func (nopCloser) Close() error { return nil }

// NewFeedbackSink opens the configured feedback sink. The postgres DSN is read
// from the environment variable named in the config.
func NewFeedbackSink(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (FeedbackSink, error) {
	switch cfg.Feedback.Type {
	case "none":
		return nopCloser{feedback.NoneSink{}}, nil
	case "log", "":
		return nopCloser{feedback.NewLogSink(logger)}, nil
	case "postgres":
		dsn := os.Getenv(cfg.Feedback.DSNEnv)
		if dsn == "" {
			return nil, domain.NewError(domain.KindConfig, "missing feedback DSN", fmt.Errorf("env %s is empty", cfg.Feedback.DSNEnv))
		}
		return feedback.OpenPostgres(ctx, dsn, logger)
	default:
		return nil, domain.NewError(domain.KindConfig, "unknown feedback sink", fmt.Errorf("%q", cfg.Feedback.Type))
	}
}

// App is the query-time pipeline: index, retriever and agent.
type App struct {
	Config    *config.AppConfig
	Logger    *zap.Logger
	Embedder  domain.Embedder
	Store     vectorstore.Storage
	Retriever *retrieval.Retriever
	Agent     *agent.Agent

	closers []io.Closer
}

// Open assembles the query-time pipeline over an existing index.
func Open(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	generator, err := NewGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}
	return OpenWithGenerator(ctx, cfg, generator, logger)
}

// OpenWithGenerator is Open with a caller-supplied generator.
func OpenWithGenerator(ctx context.Context, cfg *config.AppConfig, generator domain.Generator, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	embedder, err := NewEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := OpenIndex(ctx, cfg, embedder, logger)
	if err != nil {
		return nil, err
	}
	retriever := retrieval.New(embedder, store, config.Seconds(cfg.Retriever.TimeoutSecs))
	dispatcher, err := NewDispatcher(cfg, generator, retriever, logger)
	if err != nil {
		return nil, err
	}
	memory, err := NewCheckpointer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{
		Config:    cfg,
		Logger:    logger,
		Embedder:  embedder,
		Store:     store,
		Retriever: retriever,
		Agent:     agent.New(dispatcher, memory, logger),
		closers:   []io.Closer{memory},
	}, nil
}

// EvaluationRunner builds the evaluation harness on top of the app's agent.
// The returned sink must be closed by the caller.
func (a *App) EvaluationRunner(ctx context.Context) (*evaluation.Runner, FeedbackSink, error) {
	judge, err := NewJudge(a.Config, a.Embedder, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	sink, err := NewFeedbackSink(ctx, a.Config, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	ev := evaluation.NewEvaluator(judge, a.Config.Evaluation.Concurrency, config.Seconds(a.Config.Evaluation.TimeoutSecs), a.Logger)
	return evaluation.NewRunner(a.Agent, a.Retriever, a.Config.Retriever.K, ev, sink, a.Logger), sink, nil
}

// Close releases the resources opened by Open.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
