package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adpilot-ai/adpilot/internal/agent"
	"github.com/adpilot-ai/adpilot/internal/approval"
	"github.com/adpilot-ai/adpilot/internal/bus"
	"github.com/adpilot-ai/adpilot/internal/cache"
	"github.com/adpilot-ai/adpilot/internal/config"
	"github.com/adpilot-ai/adpilot/internal/executor"
	"github.com/adpilot-ai/adpilot/internal/intent"
	"github.com/adpilot-ai/adpilot/internal/policy"
	"github.com/adpilot-ai/adpilot/internal/provider"
	"github.com/adpilot-ai/adpilot/internal/store"
	"github.com/adpilot-ai/adpilot/internal/tier"
	"github.com/adpilot-ai/adpilot/internal/tools"
	"github.com/adpilot-ai/adpilot/internal/trace"
)

// runtime holds the wired components shared by the serve, agent, and
// plans commands.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	bus      *bus.MessageBus
	registry *tools.Registry
	exec     *executor.Executor
	plans    *approval.Manager
	loop     *agent.Loop
	recorder trace.Recorder

	closers []func() error
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config warning: %v (using defaults)\n", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Paths.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.Paths.DataDir, "adpilot.db"))
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, store: st, bus: bus.NewMessageBus()}
	rt.closers = append(rt.closers, st.Close)

	var prov provider.LLMProvider
	if cfg.Providers.OpenAI.APIKey != "" {
		prov = provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Model.Name)
	}

	// Backends: real integrations plug in here; demo clients serve local
	// runs so the whole pipeline works without credentials.
	accountCache := cache.Open(cfg.Cache.RedisEnabled, cfg.Cache.RedisURL,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger)
	rt.registry = tools.NewRegistry()
	tools.RegisterDomainTools(rt.registry,
		tools.NewCachedAdsClient(tools.NewDemoAdsClient(), accountCache),
		tools.NewDemoCRMClient(),
		tools.NewDemoMessagingClient(),
	)

	window := time.Duration(cfg.Agent.IdempotencyWindowMinutes) * time.Minute
	rt.exec = executor.New(rt.registry, st, window, logger)
	// The approval window is operator-tunable at runtime through the
	// settings table.
	approvalTTL := st.SettingDuration("approval_ttl_seconds", 24*time.Hour)
	rt.plans = approval.NewManager(st, rt.exec, approvalTTL, logger)

	recorders := trace.Multi{trace.NewStoreRecorder(st, logger)}
	if cfg.Trace.KafkaEnabled && cfg.Trace.Brokers != "" {
		kr := trace.NewKafkaRecorderFromCSV(cfg.Trace.Brokers, cfg.Trace.Topic, logger)
		recorders = append(recorders, kr)
		rt.closers = append(rt.closers, kr.Close)
	}
	rt.recorder = recorders

	integrations := intent.Integrations{
		Ads:       cfg.Integrations.Ads,
		CRM:       cfg.Integrations.CRM,
		Messaging: cfg.Integrations.Messaging,
	}
	rt.loop = agent.NewLoop(agent.Options{
		Provider:            prov,
		Model:               cfg.Model.Name,
		MaxIterations:       cfg.Model.MaxToolIterations,
		MaxStreamIterations: cfg.Model.MaxStreamIterations,
		StreamTimeout:       time.Duration(cfg.Model.StreamTimeoutSecs) * time.Second,
		Registry:            rt.registry,
		Classifier:          intent.NewClassifier(prov, cfg.Model.Name),
		Policies:            policy.NewEngine(),
		Tiers:               tier.NewManager(),
		Executor:            rt.exec,
		Plans:               rt.plans,
		Store:               st,
		Recorder:            rt.recorder,
		Bus:                 rt.bus,
		DefaultMode:         cfg.Agent.Mode,
		LockStale:           time.Duration(cfg.Agent.LockStaleSeconds) * time.Second,
		Integrations:        integrations,
		AccountIDs:          cfg.Integrations.AccountIDs,
		Logger:              logger,
	})
	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close failed", "error", err)
		}
	}
}
