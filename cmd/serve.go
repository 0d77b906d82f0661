package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calder-ai/calder/internal/auto"
	"github.com/calder-ai/calder/internal/bootstrap"
	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/channels"
	"github.com/calder-ai/calder/internal/channels/discord"
	"github.com/calder-ai/calder/internal/channels/telegram"
	"github.com/calder-ai/calder/internal/channels/web"
	"github.com/calder-ai/calder/internal/compaction"
	"github.com/calder-ai/calder/internal/config"
	"github.com/calder-ai/calder/internal/gateway"
	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/mcp"
	"github.com/calder-ai/calder/internal/memory"
	"github.com/calder-ai/calder/internal/pipeline"
	"github.com/calder-ai/calder/internal/plan"
	"github.com/calder-ai/calder/internal/runtime"
	"github.com/calder-ai/calder/internal/sessions"
	"github.com/calder-ai/calder/internal/skills"
	"github.com/calder-ai/calder/internal/telemetry"
	"github.com/calder-ai/calder/internal/tools"
	"github.com/calder-ai/calder/internal/turn"
	"github.com/calder-ai/calder/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent runtime and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if !hasProviderKey(cfg) {
		fmt.Fprintln(os.Stderr, "No provider API key configured.")
		fmt.Fprintln(os.Stderr, "Run `calder onboard` or set CALDER_OPENAI_API_KEY.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	workspace := cfg.WorkspacePath()
	skillsDir := config.ExpandHome(cfg.SkillsDir)
	if created, err := bootstrap.EnsureWorkspace(workspace, skillsDir); err != nil {
		slog.Error("workspace setup failed", "workspace", workspace, "error", err)
		os.Exit(1)
	} else if len(created) > 0 {
		slog.Info("workspace seeded", "files", created)
	}

	// Model routing
	router := buildRouter(cfg)

	// Stores, all under the workspace root
	sessStore, err := sessions.NewStore(workspace)
	if err != nil {
		fatal("sessions store", err)
	}
	pointers, err := sessions.NewPointerRegistry(workspace)
	if err != nil {
		fatal("pointer registry", err)
	}
	sessRouter := sessions.NewRouter(sessStore, pointers)

	memStore, err := memory.NewStore(workspace)
	if err != nil {
		fatal("memory store", err)
	}
	planStore, err := plan.NewStore(workspace)
	if err != nil {
		fatal("plan store", err)
	}
	autoStore, err := auto.NewStore(workspace)
	if err != nil {
		fatal("auto store", err)
	}

	// Skills with hot reload
	skillMgr, err := skills.NewManager(skillsDir)
	if err != nil {
		fatal("skills manager", err)
	}
	if err := skillMgr.Watch(); err != nil {
		slog.Warn("skills hot reload unavailable", "error", err)
	}
	defer skillMgr.Close()

	// Tools
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, nil).
		WithTimeout(time.Duration(cfg.Turn.ToolTimeoutSeconds) * time.Second)
	planMgr := plan.NewManager(planStore, executor)

	fileTools := tools.NewFileTools(workspace, true)
	fileTools.AllowPaths(skillsDir)
	fileTools.RegisterAll(registry)
	registry.Register(tools.NewExecTool(workspace, true, false))
	registry.Register(tools.NewWebFetchTool())
	registry.Register(tools.NewWebSearchTool(os.Getenv("CALDER_BRAVE_API_KEY")))
	registry.Register(plan.SetContentTool(planMgr, func(ctx context.Context) string {
		if tc, ok := turn.FromContext(ctx); ok {
			return tc.PlanID
		}
		return ""
	}))

	// Channels and bus
	msgBus := bus.NewInMemoryBus()
	channelMgr := channels.NewManager()

	auto.RegisterTools(registry, autoStore, func(ctx context.Context) string {
		if tc, ok := turn.FromContext(ctx); ok {
			return tc.SessionKey
		}
		return ""
	}, channelNotify(channelMgr, autoStore))

	// MCP tool servers declared by skills
	pool := mcp.NewPool(registry, 0)
	go pool.Run(ctx)
	go ensureSkillServers(ctx, pool, skillMgr)

	// Compaction, summarizing through the balanced tier
	var summarizer compaction.Summarizer
	if sel, err := router.Resolve(llm.TierBalanced, "", ""); err == nil {
		summarizer = compaction.NewLLMSummarizer(sel.Provider, sel.Model)
	}
	compactor := compaction.New(compaction.Config{
		KeepLastMessages: cfg.Turn.KeepLastMessages,
		MaxContextTokens: cfg.Turn.MaxContextTokens,
	}, summarizer)

	// Gateway, which is also the web channel's delivery hub
	gw := gateway.NewServer(gateway.Config{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		Token:          cfg.Gateway.Token,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, msgBus)

	registerChannels(cfg, msgBus, channelMgr, gw)

	// Pipeline in execution order
	pipe := pipeline.New()
	pipe.MustAdd(
		pipeline.InputSanitization{},
		pipeline.SkillRouting{Skills: skillMgr},
		pipeline.AutoCompaction{Sessions: sessStore, Compactor: compactor},
		pipeline.ContextBuilding{
			BasePrompt:       bootstrap.AgentPrompt(workspace),
			Memory:           memStore,
			Skills:           skillMgr,
			Auto:             autoStore,
			MemorySoftBudget: cfg.Memory.SoftTokenBudget,
			MemoryHardBudget: cfg.Memory.HardTokenBudget,
			DefaultTier:      llm.Tier(cfg.DefaultTier),
		},
		pipeline.DynamicTier{Sessions: sessStore},
		pipeline.ToolLoop{
			Sessions:          sessStore,
			Router:            router,
			Registry:          registry,
			Executor:          executor,
			Plans:             planMgr,
			MaxLlmCalls:       cfg.Turn.MaxLlmCalls,
			MaxToolExecutions: cfg.Turn.MaxToolExecutions,
		},
		pipeline.MemoryPersist{Memory: memStore},
		pipeline.RagIndexing{},
		pipeline.Preparation{},
		pipeline.FeedbackGuarantee{},
		pipeline.ResponseRouting{Channels: channelMgr},
	)

	orch := runtime.NewOrchestrator(runtime.Options{
		Pipeline:     pipe,
		Router:       sessRouter,
		Store:        sessStore,
		Plans:        planMgr,
		Channels:     channelMgr,
		Events:       broadcastEvents(gw),
		TurnDeadline: time.Duration(cfg.Turn.DeadlineMinutes) * time.Minute,
	})
	defer orch.Shutdown()

	// Webhook ingress needs the synchronous turn path
	gw.SetHooks(gateway.NewHookHandler(hooksConfig(cfg), orch, orch))

	consumer := gateway.NewConsumer(msgBus, orch,
		time.Duration(cfg.Gateway.InboundDebounceMs)*time.Millisecond)
	go consumer.Run(ctx)

	go func() {
		if err := gw.Start(ctx); err != nil {
			slog.Error("gateway stopped", "error", err)
			stop()
		}
	}()
	if cfg.Tailscale.Enabled {
		go func() {
			if err := gw.ServeTailscale(ctx, cfg.Tailscale.Hostname); err != nil {
				slog.Error("tsnet listener failed", "error", err)
			}
		}()
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("channel start failed", "error", err)
	}
	defer channelMgr.StopAll(context.Background())

	if cfg.Scheduler.Enabled {
		sched := auto.NewScheduler(autoStore, orch, channelMgr,
			time.Duration(cfg.Scheduler.IntervalMinutes)*time.Minute)
		go sched.Run(ctx)
	}

	// Config hot reload: currently only logs; a restart picks the rest up.
	stopWatch, err := config.Watch(ctx, cfgPath, func(next *config.Config) {
		slog.Info("config file changed; restart to apply runtime settings")
	})
	if err == nil {
		defer stopWatch()
	}

	slog.Info("calder running",
		"version", Version,
		"workspace", workspace,
		"gateway", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
	<-ctx.Done()
	slog.Info("shutting down")
}

func fatal(what string, err error) {
	slog.Error(what+" init failed", "error", err)
	os.Exit(1)
}

func hasProviderKey(cfg *config.Config) bool {
	for _, p := range cfg.Providers {
		if p.APIKey != "" {
			return true
		}
	}
	return false
}

func buildRouter(cfg *config.Config) *llm.Router {
	tiers := make(map[llm.Tier]llm.ModelSpec, len(cfg.Tiers))
	for name, spec := range cfg.Tiers {
		tiers[llm.Tier(name)] = llm.ModelSpec{
			Provider:        spec.Provider,
			Model:           spec.Model,
			ReasoningEffort: spec.ReasoningEffort,
		}
	}
	router := llm.NewRouter(tiers)
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			slog.Warn("provider has no API key, skipping", "provider", name)
			continue
		}
		router.RegisterProvider(llm.NewOpenAIProvider(llm.OpenAIConfig{
			Name:         name,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			CallTimeout:  time.Duration(cfg.Turn.LlmCallTimeoutSec) * time.Second,
		}))
		slog.Info("provider registered", "provider", name, "model", pc.DefaultModel)
	}
	return router
}

func registerChannels(cfg *config.Config, msgBus bus.MessageBus, mgr *channels.Manager, gw *gateway.Server) {
	if tg := cfg.Channels.Telegram; tg.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token:       tg.Token,
			AllowFrom:   tg.AllowFrom,
			MsgsPerSec:  tg.MsgsPerSec,
			MaxImageDim: tg.MaxImageDim,
		}, msgBus)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
		} else {
			mgr.Register(ch)
		}
	}
	if dc := cfg.Channels.Discord; dc.Enabled {
		ch, err := discord.New(discord.Config{
			Token:       dc.Token,
			AllowFrom:   dc.AllowFrom,
			MsgsPerSec:  dc.MsgsPerSec,
			MaxImageDim: dc.MaxImageDim,
		}, msgBus)
		if err != nil {
			slog.Error("discord channel init failed", "error", err)
		} else {
			mgr.Register(ch)
		}
	}
	if cfg.Channels.Web.Enabled {
		mgr.Register(web.New(gw, msgBus, cfg.Channels.Web.AllowFrom))
	}
}

func hooksConfig(cfg *config.Config) gateway.HooksConfig {
	out := gateway.HooksConfig{
		Token:        cfg.Hooks.Token,
		MaxBodyBytes: cfg.Hooks.MaxBodyBytes,
	}
	for _, m := range cfg.Hooks.Mappings {
		out.Mappings = append(out.Mappings, gateway.HookMapping{
			Name:   m.Name,
			Token:  m.HookToken(),
			Secret: m.HookSecret(),
			ChatID: m.ChatID,
		})
	}
	return out
}

// broadcastEvents forwards runtime events to attached gateway clients.
func broadcastEvents(gw *gateway.Server) turn.EventFunc {
	return func(ev turn.Event) {
		gw.Broadcast(protocol.NewEvent(protocol.EventChatStatus, map[string]any{
			"event":      ev.Name,
			"sessionKey": ev.SessionKey,
			"data":       ev.Data,
		}))
	}
}

// channelNotify adapts goal milestones onto the registered notification
// target, dropping them when none is set.
func channelNotify(mgr *channels.Manager, store *auto.Store) func(goalID, text string) {
	return func(goalID, text string) {
		target := store.NotifyTarget()
		if target == nil {
			return
		}
		mgr.Notify(*target, fmt.Sprintf("[goal %s] %s", goalID, text))
	}
}

// ensureSkillServers keeps MCP tool servers running for skills that declare
// one. The pool is idempotent, so hot reloaded skills are picked up on the
// next sweep.
func ensureSkillServers(ctx context.Context, pool *mcp.Pool, mgr *skills.Manager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		for _, s := range mgr.List() {
			if s.MCPCommand == "" {
				continue
			}
			if err := pool.EnsureSkill(ctx, s.Name, s.MCPCommand, s.MCPArgs); err != nil {
				slog.Warn("mcp server start failed", "skill", s.Name, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
