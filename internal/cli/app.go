package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"docrag/internal/chunk"
	"docrag/internal/config"
	"docrag/internal/encoding"
	"docrag/internal/ingest"
	"docrag/internal/llm"
	"docrag/internal/model"
	"docrag/internal/normalize"
	"docrag/internal/objstore"
	"docrag/internal/retrieval"
	"docrag/internal/store"
	"docrag/internal/synth"
	"docrag/internal/util"
)

// App holds the wired engine for one command invocation. Store-level
// commands (status, rm) use it as returned by newApp; ingest and ask call
// buildEngine first, which is where backend credentials are required.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    *store.SQLiteStore
	Pipeline *ingest.Pipeline
	Service  *retrieval.Service
}

// newApp loads config, builds the logger, and opens the store. The caller
// must Close it.
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return nil, &exitCodeError{code: ExitConfigInvalid, msg: err.Error()}
	}
	if globalFlags.StateDir != "" {
		cfg.StateDir = globalFlags.StateDir
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	st := store.NewSQLiteStore(cfg.DatabasePath(), logger)
	if err := st.Init(ctx); err != nil {
		return nil, &exitCodeError{code: ExitStoreFailure, msg: err.Error()}
	}

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  st,
	}, nil
}

// buildEngine wires the encoders, pipeline, and retrieval service. Only
// commands that talk to the embedding or generation backends need it;
// store-level commands stay usable without an API key.
func (a *App) buildEngine() error {
	cfg := a.Config

	openaiClient, err := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		EmbedModel:      cfg.OpenAI.EmbedModel,
		ChatModel:       cfg.OpenAI.ChatModel,
		EncodeTimeout:   cfg.OpenAI.EncodeTimeout.Std(),
		GenerateTimeout: cfg.OpenAI.GenerateTimeout.Std(),
	})
	if err != nil {
		return &exitCodeError{code: ExitConfigInvalid, msg: err.Error() + " (set OPENAI_API_KEY)"}
	}

	var imageEncoder model.ImageEncoder
	if cfg.CLIP.BaseURL != "" {
		imageEncoder = llm.NewCLIPClient(cfg.CLIP.BaseURL, cfg.CLIP.APIKey)
	}

	fuser, err := encoding.NewFuser(openaiClient, imageEncoder, cfg.Embedding.Dim, a.Logger)
	if err != nil {
		return err
	}

	chunker, err := chunk.New(chunk.Config{
		MaxChunkTokens: cfg.Chunking.MaxChunkTokens,
		OverlapTokens:  cfg.Chunking.OverlapTokens,
	})
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if cfg.Embedding.RateLimitRPS > 0 {
		burst := cfg.Embedding.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Embedding.RateLimitRPS), burst)
	}

	retryPolicy := util.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
	}

	a.Pipeline = ingest.New(ingest.Options{
		Store:            a.Store,
		Objects:          objstore.NewFSStore(cfg.ObjectsDir()),
		Normalizer:       normalize.New(a.Logger),
		Chunker:          chunker,
		Fuser:            fuser,
		Limiter:          limiter,
		Retry:            retryPolicy,
		EmbedConcurrency: cfg.Embedding.Concurrency,
		Logger:           a.Logger,
	})

	a.Service = retrieval.NewService(a.Store, fuser, synth.New(openaiClient, a.Logger), retrieval.Config{
		K:           cfg.Retrieval.K,
		Threshold:   cfg.Retrieval.Threshold,
		TokenBudget: cfg.Retrieval.TokenBudget,
	}, retryPolicy, a.Logger)

	return nil
}

func (a *App) Close() {
	_ = a.Store.Close()
	_ = a.Logger.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if globalFlags.Debug {
		lvl = zapcore.DebugLevel
	} else if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	if globalFlags.Quiet && lvl < zapcore.WarnLevel {
		lvl = zapcore.WarnLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	if globalFlags.Debug {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}
