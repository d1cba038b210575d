package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/agents"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/config"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/cost"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/notify"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/pipeline"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/scrape"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/store"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/tracking"
	anthropicpkg "github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/anthropic"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/gemini"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/jina"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/knowledge"
)

const defaultSQLitePath = "validator.db"

// pipelineEnv holds everything the run/batch/serve commands share.
type pipelineEnv struct {
	Store    store.Store
	Broker   *notify.Broker
	Sessions *tracking.Sessions
	Registry *pipeline.Registry
	Pipeline *pipeline.Pipeline

	closers []io.Closer
}

// Close releases provider clients and the store.
func (pe *pipelineEnv) Close() {
	for _, c := range pe.closers {
		_ = c.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initProvider builds the model provider named by llm.provider.
func initProvider(ctx context.Context) (llm.Provider, io.Closer, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, nil, eris.Wrap(err, "init gemini")
		}
		p := llm.NewGeminiProvider(client)
		return p, p, nil
	case config.ProviderAnthropic:
		return llm.NewAnthropicProvider(anthropicpkg.NewClient(cfg.Anthropic.Key)), nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}

// initPipeline validates config for mode and wires the store, providers,
// stages and orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode config.Mode) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	provider, closer, err := initProvider(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closer != nil {
		env.closers = append(env.closers, closer)
	}

	jinaClient := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
	fetcher := scrape.NewReferenceChain(jinaClient, nil)

	adapterOpts := []llm.Option{
		llm.WithConfig(cfg.AdapterOptions()),
		llm.WithFetcher(fetcher),
		llm.WithCostCalculator(cost.NewCalculator(cfg.Rates())),
	}
	if cfg.LLM.RatePerSec > 0 {
		adapterOpts = append(adapterOpts, llm.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.LLM.RatePerSec), max(cfg.LLM.Burst, 1))))
	}
	adapter := llm.NewAdapter(provider, adapterOpts...)

	env.Broker = notify.NewBroker(32)
	tracker := tracking.NewTracker(st, env.Broker)

	var stageOpts []agents.Option
	if cfg.Knowledge.BaseURL != "" {
		kc := knowledge.NewClient(cfg.Knowledge.BaseURL, cfg.Knowledge.Key,
			knowledge.WithRateLimit(cfg.Knowledge.RatePerSec, 2))
		stageOpts = append(stageOpts, agents.WithKnowledge(kc))
		zap.L().Info("knowledge retrieval enabled", zap.String("base_url", cfg.Knowledge.BaseURL))
	} else {
		zap.L().Debug("VALIDATOR_KNOWLEDGE_BASE_URL not set, knowledge retrieval disabled")
	}
	stages := agents.New(adapter, tracker, cfg.AgentsOptions(), stageOpts...)

	env.Sessions = tracking.NewSessions(st, cfg.SessionsOptions())
	env.Registry = pipeline.NewRegistry()
	env.Pipeline = pipeline.New(stages, env.Sessions, env.Broker, env.Registry, cfg.PipelineOptions())

	zap.L().Info("pipeline ready",
		zap.String("provider", provider.Name()),
		zap.String("store", cfg.Store.Driver),
	)
	return env, nil
}
