// Command sensai is the tiered NPC assistant server: it classifies player
// questions, routes them through the rule, local-model and remote-model
// tiers, and answers in the voice of the configured NPC tutor.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/sensai/internal/config"
	"github.com/MrWong99/sensai/internal/conversation"
	"github.com/MrWong99/sensai/internal/dialog"
	"github.com/MrWong99/sensai/internal/health"
	"github.com/MrWong99/sensai/internal/knowledge"
	"github.com/MrWong99/sensai/internal/observe"
	"github.com/MrWong99/sensai/internal/persona"
	"github.com/MrWong99/sensai/internal/prompt"
	"github.com/MrWong99/sensai/internal/resilience"
	"github.com/MrWong99/sensai/internal/router"
	"github.com/MrWong99/sensai/internal/template"
	"github.com/MrWong99/sensai/internal/tier"
	"github.com/MrWong99/sensai/internal/usage"
	"github.com/MrWong99/sensai/pkg/modelclient"
	oaembed "github.com/MrWong99/sensai/pkg/provider/embeddings/openai"
	"github.com/MrWong99/sensai/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", false, "reload hot-applicable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sensai: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sensai: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it without
	// replacing the handler.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("sensai starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "sensai"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()
	stats := observe.NewStats()
	obs := tier.Observer{Stats: stats, Metrics: metrics}

	// ── Conversation store ────────────────────────────────────────────────────
	var store conversation.Store
	var pgStore *conversation.PostgresStore
	if dsn := cfg.Conversation.PostgresDSN; dsn != "" {
		pgStore, err = conversation.NewPostgresStore(ctx, dsn, cfg.Conversation.MaxHistory)
		if err != nil {
			slog.Error("failed to connect conversation store", "err", err)
			return 1
		}
		defer pgStore.Close()
		store = pgStore
		slog.Info("conversation store connected", "backend", "postgres")
	} else {
		store = conversation.NewMemoryStore(cfg.Conversation.MaxHistory)
		slog.Info("conversation store ready", "backend", "memory")
	}
	convs := conversation.NewManager(store)
	if interval := cfg.Conversation.CleanupInterval.Std(); interval > 0 {
		go conversation.RunGC(ctx, store, interval, cfg.Conversation.CleanupAge.Std())
	}

	promptOpts := []prompt.Option{prompt.WithConversation(convs)}

	// ── World knowledge (optional) ────────────────────────────────────────────
	var knowStore *knowledge.PostgresStore
	if cfg.Knowledge.PostgresDSN != "" {
		embedder, err := oaembed.New(cfg.Knowledge.Embeddings.APIKey, cfg.Knowledge.Embeddings.Model,
			embeddingOpts(cfg.Knowledge.Embeddings)...)
		if err != nil {
			slog.Error("failed to build embeddings provider", "err", err)
			return 1
		}
		knowStore, err = knowledge.NewPostgresStore(ctx, cfg.Knowledge.PostgresDSN, embedder)
		if err != nil {
			slog.Error("failed to connect knowledge store", "err", err)
			return 1
		}
		defer knowStore.Close()
		promptOpts = append(promptOpts, prompt.WithKnowledge(knowStore, cfg.Knowledge.TopK))
		slog.Info("knowledge store connected", "top_k", cfg.Knowledge.TopK,
			"embedding_model", cfg.Knowledge.Embeddings.Model)
	}

	prompts := prompt.NewBuilder(promptOpts...)
	retryCfg := retryConfig(cfg.Retry)

	// ── Tiers ─────────────────────────────────────────────────────────────────
	var processors []tier.Processor

	var tier1 *tier.Tier1
	if cfg.Tier1.Enabled {
		tier1, err = buildTier1(cfg.Tier1)
		if err != nil {
			slog.Error("failed to build rule tier", "err", err)
			return 1
		}
		processors = append(processors, tier1)
	}

	var localClient *modelclient.LocalClient
	if cfg.Tier2.Enabled {
		localClient, err = buildLocalClient(cfg.Tier2)
		if err != nil {
			slog.Error("failed to build local model client", "err", err)
			return 1
		}
		processors = append(processors, tier.NewTier2(localClient, prompts, tier.Tier2Config{
			SmallModel:   cfg.Tier2.SmallModel,
			LargeModel:   cfg.Tier2.LargeModel,
			Temperature:  cfg.Tier2.Temperature,
			MaxTokens:    cfg.Tier2.MaxTokens,
			Retry:        retryCfg,
			Fallback:     tier1,
			Conversation: convs,
			Observer:     obs,
		}))
		slog.Info("local model tier ready",
			"provider", cfg.Tier2.Provider,
			"small_model", cfg.Tier2.SmallModel,
			"large_model", cfg.Tier2.LargeModel,
			"cache", cfg.Tier2.Cache.Dir != "",
		)
	}

	var ledger *usage.Ledger
	if cfg.Tier3.Enabled {
		ledger, err = buildLedger(cfg.Quota)
		if err != nil {
			slog.Error("failed to build usage ledger", "err", err)
			return 1
		}
		remote, err := buildRemoteClient(cfg.Tier3, ledger)
		if err != nil {
			slog.Error("failed to build remote model client", "err", err)
			return 1
		}
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "tier3 remote model",
			MaxFailures:  cfg.Tier3.BreakerMaxFailures,
			ResetTimeout: cfg.Tier3.BreakerResetTimeout.Std(),
		})
		processors = append(processors, tier.NewTier3(remote, prompts, tier.Tier3Config{
			Model:        cfg.Tier3.Model,
			Temperature:  cfg.Tier3.Temperature,
			MaxTokens:    cfg.Tier3.MaxTokens,
			Retry:        retryCfg,
			Conversation: convs,
			Breaker:      breaker,
			Observer:     obs,
		}))
		slog.Info("remote model tier ready", "endpoint", cfg.Tier3.Endpoint, "model", cfg.Tier3.Model)
	}

	// ── Persona formatter ─────────────────────────────────────────────────────
	formatter, err := buildFormatter(cfg.Persona)
	if err != nil {
		slog.Error("failed to build persona formatter", "err", err)
		return 1
	}

	rt := router.New(router.Config{
		Processors: processors,
		Formatter:  formatter,
		Stats:      stats,
		Metrics:    metrics,
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", askHandler(rt))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, rt.Metrics())
	})
	if ledger != nil {
		mux.HandleFunc("GET /usage", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, ledger.Summary())
		})
	}
	if localClient != nil {
		mux.HandleFunc("GET /cache", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, localClient.CacheInfo())
		})
	}

	var checkers []health.Checker
	if pgStore != nil {
		checkers = append(checkers, health.Checker{
			Name: "conversations",
			Check: func(ctx context.Context) error {
				_, err := pgStore.Get(ctx, "healthcheck")
				return err
			},
		})
	}
	if knowStore != nil {
		checkers = append(checkers, health.Checker{
			Name: "knowledge",
			Check: func(ctx context.Context) error {
				_, err := knowStore.Search(ctx, "healthcheck", 1, nil)
				return err
			},
		})
	}
	health.New(checkers...).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), new, level, ledger, rt)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Component wiring ──────────────────────────────────────────────────────────

// buildTier1 assembles the rule tier from the built-in pattern set and
// decision trees, or from the configured override files.
func buildTier1(cfg config.Tier1Config) (*tier.Tier1, error) {
	patterns := template.DefaultPatternSet()
	if cfg.PatternsFile != "" {
		var err error
		patterns, err = template.LoadPatternSet(cfg.PatternsFile)
		if err != nil {
			return nil, fmt.Errorf("load pattern set: %w", err)
		}
	}
	templates, err := template.NewEngine(patterns)
	if err != nil {
		return nil, fmt.Errorf("build template engine: %w", err)
	}

	treeList := dialog.DefaultTrees()
	if cfg.TreesFile != "" {
		treeList, err = dialog.LoadTrees(cfg.TreesFile)
		if err != nil {
			return nil, fmt.Errorf("load decision trees: %w", err)
		}
	}
	trees, err := dialog.NewEngine(treeList)
	if err != nil {
		return nil, fmt.Errorf("build dialog engine: %w", err)
	}
	return tier.NewTier1(templates, trees), nil
}

// buildLocalClient creates the tier2 backend via the provider registry and
// wraps it with the response cache when one is configured.
func buildLocalClient(cfg config.Tier2Config) (*modelclient.LocalClient, error) {
	provider, err := config.DefaultRegistry().CreateLocalModel(cfg)
	if err != nil {
		return nil, err
	}
	var opts []modelclient.LocalOption
	if cfg.Cache.Dir != "" {
		opts = append(opts, modelclient.WithCache(modelclient.CacheConfig{
			Dir:        cfg.Cache.Dir,
			TTL:        cfg.Cache.TTL.Std(),
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.Cache.MaxBytes,
		}))
	}
	return modelclient.NewLocalClient(provider, cfg.SmallModel, opts...)
}

// buildLedger creates the usage ledger, persisted to the configured file.
func buildLedger(cfg config.QuotaConfig) (*usage.Ledger, error) {
	var opts []usage.Option
	if cfg.LedgerFile != "" {
		fs, err := usage.NewFileStore(cfg.LedgerFile)
		if err != nil {
			return nil, fmt.Errorf("open ledger file: %w", err)
		}
		opts = append(opts, usage.WithPersister(fs))
	}
	return usage.NewLedger(usageQuota(cfg), opts...)
}

// buildRemoteClient creates the signed tier3 client.
func buildRemoteClient(cfg config.Tier3Config, ledger *usage.Ledger) (*modelclient.RemoteClient, error) {
	signer := &modelclient.HMACSigner{
		KeyID:  cfg.SigningKeyID,
		Secret: []byte(cfg.SigningSecret),
	}
	var opts []modelclient.RemoteOption
	if cfg.MaxTokens > 0 {
		opts = append(opts, modelclient.WithMaxTokens(cfg.MaxTokens))
	}
	return modelclient.NewRemoteClient(cfg.Endpoint, cfg.Model, signer, ledger, opts...)
}

// buildFormatter creates the NPC persona formatter from the built-in profiles
// or the configured profiles file.
func buildFormatter(cfg config.PersonaConfig) (*persona.Formatter, error) {
	registry := persona.DefaultRegistry()
	if cfg.ProfilesFile != "" {
		var err error
		registry, err = persona.LoadRegistry(cfg.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("load persona profiles: %w", err)
		}
	}
	var opts []persona.FormatterOption
	if cfg.MaxLength > 0 {
		opts = append(opts, persona.WithMaxLength(cfg.MaxLength))
	}
	return persona.NewFormatter(registry, cfg.Seed, opts...), nil
}

// retryConfig converts the loaded retry section into the resilience knobs
// shared by the model tiers. The tiers set Name and the retry predicates.
func retryConfig(cfg config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     cfg.BaseDelay.Std(),
		MaxDelay:      cfg.MaxDelay.Std(),
		BackoffFactor: cfg.BackoffFactor,
		Jitter:        cfg.Jitter,
	}
}

// embeddingOpts converts the embeddings section into backend options.
func embeddingOpts(cfg config.EmbeddingsConfig) []oaembed.Option {
	var opts []oaembed.Option
	if cfg.BaseURL != "" {
		opts = append(opts, oaembed.WithBaseURL(cfg.BaseURL))
	}
	return opts
}

// usageQuota converts the loaded quota section into ledger limits.
func usageQuota(cfg config.QuotaConfig) usage.Quota {
	rates := make(map[string]usage.ModelRate, len(cfg.ModelRates))
	for model, r := range cfg.ModelRates {
		rates[model] = usage.ModelRate{InputPer1K: r.InputPer1K, OutputPer1K: r.OutputPer1K}
	}
	return usage.Quota{
		DailyTokenLimit:    cfg.DailyTokenLimit,
		HourlyRequestLimit: cfg.HourlyRequestLimit,
		MonthlyCostLimit:   cfg.MonthlyCostLimit,
		ModelRates:         rates,
		DefaultRate:        usage.ModelRate{InputPer1K: cfg.DefaultRate.InputPer1K, OutputPer1K: cfg.DefaultRate.OutputPer1K},
	}
}

// applyReload applies the hot-reloadable parts of a config change. Settings
// baked into running components (models, endpoints, stores, retry and persona
// wiring) take effect on the next restart.
func applyReload(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, ledger *usage.Ledger, rt *router.Router) {
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.QuotaChanged {
		if ledger != nil {
			ledger.SetQuota(usageQuota(cfg.Quota))
			slog.Info("quota limits reloaded")
		} else {
			slog.Warn("quota changed but no ledger is running; enable tier3 and restart")
		}
	}
	for name, enabled := range d.TiersChanged {
		rt.SetTierEnabled(types.Tier(name), enabled)
		slog.Info("tier toggled", "tier", name, "enabled", enabled)
	}
	if d.PersonaChanged {
		slog.Warn("persona settings changed; restart to apply")
	}
	if d.RetryChanged {
		slog.Warn("retry settings changed; restart to apply")
	}
}

// ── HTTP handlers ─────────────────────────────────────────────────────────────

// maxRequestBody caps /ask request bodies.
const maxRequestBody = 64 << 10

// askHandler answers one player question. The request is a [types.Request];
// the response is a [router.Response]. Missing request IDs are assigned.
func askHandler(rt *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
			return
		}
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}
		writeJSON(w, http.StatusOK, rt.Handle(r.Context(), req))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Sensai — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printTier("Tier1 rules", cfg.Tier1.Enabled, "")
	printTier("Tier2 local", cfg.Tier2.Enabled, cfg.Tier2.Provider+" / "+cfg.Tier2.SmallModel)
	printTier("Tier3 remote", cfg.Tier3.Enabled, cfg.Tier3.Model)
	backend := "memory"
	if cfg.Conversation.PostgresDSN != "" {
		backend = "postgres"
	}
	fmt.Printf("║  Conversations   : %-19s║\n", backend)
	fmt.Printf("║  Listen addr     : %-19s║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printTier(name string, enabled bool, detail string) {
	value := "(disabled)"
	if enabled {
		value = "enabled"
		if detail != "" && detail != " / " {
			value = detail
		}
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-15s : %-19s║\n", name, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
