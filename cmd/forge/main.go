// Forge orchestrates the regulatory-access core and the autonomous
// diagnostic-session core behind a single gin HTTP surface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/api"
	"github.com/forge-health/compliance-diagnostics/pkg/audit"
	"github.com/forge-health/compliance-diagnostics/pkg/breach"
	"github.com/forge-health/compliance-diagnostics/pkg/config"
	"github.com/forge-health/compliance-diagnostics/pkg/consent"
	"github.com/forge-health/compliance-diagnostics/pkg/database"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/engine"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/ontology"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/scoring"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/session"
	"github.com/forge-health/compliance-diagnostics/pkg/dsar"
	"github.com/forge-health/compliance-diagnostics/pkg/ghostcouncil"
	"github.com/forge-health/compliance-diagnostics/pkg/knowledgegraph"
	"github.com/forge-health/compliance-diagnostics/pkg/llm"
	"github.com/forge-health/compliance-diagnostics/pkg/masking"
	"github.com/forge-health/compliance-diagnostics/pkg/repository"
	"github.com/forge-health/compliance-diagnostics/pkg/security/auth"
	"github.com/forge-health/compliance-diagnostics/pkg/security/blacklist"
	"github.com/forge-health/compliance-diagnostics/pkg/security/policy"
	"github.com/forge-health/compliance-diagnostics/pkg/security/token"
	"github.com/forge-health/compliance-diagnostics/pkg/slack"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newLogger() *slog.Logger {
	var handler slog.Handler
	if getEnv("LOG_FORMAT", "json") == "text" {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}

// newBlacklist builds the Redis-backed revoked-token index when a Redis
// URL is configured, falling back to the bounded in-process store
// otherwise, per spec §4.1's fail-open posture when the shared store is
// unavailable.
func newBlacklist(cfg config.SecurityConfig, c clock.Clock, logger *slog.Logger) blacklist.Store {
	if cfg.RedisURL == "" {
		logger.Warn("no REDIS_URL configured, using in-process token blacklist")
		return blacklist.NewLocal(cfg.BlacklistLocalCap, c)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL, falling back to in-process token blacklist", "error", err)
		return blacklist.NewLocal(cfg.BlacklistLocalCap, c)
	}
	client := redis.NewClient(opts)
	return blacklist.NewRedis(client, cfg.BlacklistKeyPrefix, cfg.BlacklistLocalCap, c)
}

// newLLMProvider picks a backend in order of preference: Anthropic, then
// an OpenAI-compatible endpoint (OpenAI itself or a configured Ollama
// URL), falling back to llm.MockProvider when nothing is configured —
// Ghost Council deliberation then runs in mock mode rather than the
// process refusing to start.
func newLLMProvider(cfg config.GhostCouncilConfig) llm.Provider {
	switch {
	case cfg.AnthropicAPIKey != "":
		return llm.NewAnthropicProvider(cfg.AnthropicAPIKey, "")
	case cfg.OpenAIAPIKey != "":
		return llm.NewOpenAICompatibleProvider("openai", "https://api.openai.com/v1", cfg.OpenAIAPIKey, "gpt-4o-mini")
	case cfg.OllamaURL != "":
		return llm.NewOpenAICompatibleProvider("ollama", cfg.OllamaURL, "", "llama3")
	default:
		return &llm.MockProvider{}
	}
}

func main() {
	logger := newLogger()
	slog.SetDefault(logger)

	configDir := getEnv("CONFIG_DIR", "./deploy/config")
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("no .env file loaded, continuing with existing environment", "path", envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load database configuration", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	logger.Info("connected to database and applied migrations")

	c := clock.Real{}

	repo := repository.New(dbClient.Pool)

	kg := knowledgegraph.New(dbClient.Pool)
	if err := kg.Seed(ctx); err != nil {
		logger.Error("failed to seed knowledge graph catalog", "error", err)
		os.Exit(1)
	}

	ont := ontology.NewService(4096)
	ont.Load(ontology.DefaultTerms())

	bl := newBlacklist(cfg.Security, c, logger)
	defer func() {
		if err := bl.Close(); err != nil {
			logger.Error("error closing token blacklist", "error", err)
		}
	}()
	verifier := token.NewVerifier(cfg.Security.JWTSecret, bl)

	auditLog := audit.NewLog(repo, c)
	_ = auditLog

	dsarWorkflow := dsar.NewWorkflow(repo, c)
	consentRegistry := consent.NewRegistry(repo, c)

	notifier := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_BREACH_CHANNEL"),
		DashboardURL: os.Getenv("COMPLIANCE_DASHBOARD_URL"),
	})
	if notifier == nil {
		logger.Warn("no SLACK_BOT_TOKEN/SLACK_BREACH_CHANNEL configured, breach alerts will not be delivered to Slack")
	}
	breachWorkflow := breach.NewWorkflow(repo, notifier, c)

	scorer := scoring.NewScorer(scoring.DefaultConfig())
	diagEngine := engine.New(kg, ont, scorer, c)
	sessionController := session.NewController(diagEngine, c)
	sessionController.Start(ctx)
	defer sessionController.Stop()

	deadlineTicker := time.NewTicker(cfg.Deadlines.SchedulerInterval)
	go func() {
		defer deadlineTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-deadlineTicker.C:
				n, err := breachWorkflow.CheckDeadlines(ctx)
				if err != nil {
					logger.Error("breach deadline sweep failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("breach deadline sweep fired alerts", "count", n)
				}
			}
		}
	}()

	provider := newLLMProvider(cfg.GhostCouncil)
	if _, mock := provider.(*llm.MockProvider); mock {
		logger.Warn("no LLM provider configured (ANTHROPIC_API_KEY/OPENAI_API_KEY/OLLAMA_URL), ghost council deliberation runs in mock mode")
	}
	councilCfg := ghostcouncil.DefaultConfig()
	councilCfg.CacheEnabled = cfg.GhostCouncil.CacheEnabled
	councilCfg.CacheCapacity = cfg.GhostCouncil.CacheCapacity
	councilCfg.CacheTTL = cfg.GhostCouncil.CacheTTL
	deliberator := ghostcouncil.New(councilCfg, provider, masking.NewService(4096))

	abacEvaluator, err := policy.NewABACEvaluator(ctx)
	if err != nil {
		logger.Error("failed to load attribute policy evaluator", "error", err)
		os.Exit(1)
	}
	policyEngine := policy.NewEngine(policy.ModelHybrid, policy.DefaultRoles(), nil, abacEvaluator)

	directory := auth.NewRoleDirectory()
	if cfg.Security.SeedAdminPassword != "" {
		directory.Set("admin", []string{"admin"}, []string{"read", "write", "delete", "admin", "export", "configure"})
	} else {
		logger.Warn("no SEED_ADMIN_PASSWORD configured, no bootstrap admin subject seeded")
	}

	passwordService := auth.NewPersistedPasswordService(auth.DefaultPasswordPolicy(), c, repo)
	if cfg.Security.SeedAdminPassword != "" {
		if err := passwordService.ChangePassword(ctx, "admin", cfg.Security.SeedAdminPassword); err != nil {
			logger.Error("failed to seed bootstrap admin password", "error", err)
		}
	}
	authSessions := auth.NewPersistedSessionService(c, cfg.Security.SessionDuration, cfg.Security.PrivilegedSessionDuration, cfg.Security.IdleTimeout, repo)
	mfaService := auth.NewMFAService(c, cfg.Security.MFAChallengeTTL, cfg.Security.MFAMaxAttempts)

	handlers := &api.Handlers{
		DSAR:         dsarWorkflow,
		Consent:      consentRegistry,
		Breach:       breachWorkflow,
		Sessions:     sessionController,
		Council:      deliberator,
		Verifier:     verifier,
		Blacklist:    bl,
		Directory:    directory,
		Policy:       policyEngine,
		Passwords:    passwordService,
		AuthSessions: authSessions,
		MFA:          mfaService,
	}
	router := api.NewRouter(verifier, policyEngine, handlers)

	httpPort := getEnv("HTTP_PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "port", httpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
