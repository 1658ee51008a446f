// Package config loads the umbrella configuration for the compliance and
// diagnostic cores from environment variables, following the same
// sub-registry-holding-struct shape the rest of this codebase uses for
// configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object. Each field is an
// independently-constructed sub-registry; nothing here is global mutable
// state — callers build one Config at startup and inject it everywhere.
type Config struct {
	Security    SecurityConfig
	Diagnosis   DiagnosisConfig
	GhostCouncil GhostCouncilConfig
	Deadlines   DeadlineConfig
}

// SecurityConfig holds settings for the Credential Verifier, Token
// Blacklist, and Authentication & MFA components.
type SecurityConfig struct {
	JWTSecret         string
	RedisURL          string
	BlacklistKeyPrefix string
	BlacklistLocalCap int
	SeedAdminPassword string
	SessionDuration        time.Duration
	PrivilegedSessionDuration time.Duration
	IdleTimeout       time.Duration
	MFAChallengeTTL   time.Duration
	MFAMaxAttempts    int
}

// DiagnosisConfig holds defaults for the Diagnosis Engine and Session
// Controller.
type DiagnosisConfig struct {
	SessionTimeout        time.Duration
	IdleTimeout           time.Duration
	AgentTimeout          time.Duration
	CoordinatorTimeout    time.Duration
	MaxRetries            int
	MaxIterations         int
	ConfidenceThreshold   float64
	EliminationThreshold  float64
	EarlyTerminationThreshold float64
	MaxQuestionsPerIteration int
	MinInformationGain    float64
	MinPhenotypeOverlap   float64
	CleanupInterval       time.Duration
	EventStreamIdleTimeout time.Duration
}

// GhostCouncilConfig holds settings for the Deliberator.
type GhostCouncilConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaURL       string
	CacheEnabled    bool
	CacheCapacity   int
	CacheTTL        time.Duration
}

// DeadlineConfig holds the breach-notification alert scheduler tick.
type DeadlineConfig struct {
	SchedulerInterval time.Duration
}

// Load reads Config from the process environment, applying the defaults
// spec.md names throughout §4.
func Load() (Config, error) {
	secret := firstNonEmpty(os.Getenv("COMPLIANCE_JWT_SECRET"), os.Getenv("JWT_SECRET_KEY"))
	if secret == "" {
		return Config{}, fmt.Errorf("COMPLIANCE_JWT_SECRET or JWT_SECRET_KEY is required")
	}

	cfg := Config{
		Security: SecurityConfig{
			JWTSecret:                 secret,
			RedisURL:                  firstNonEmpty(os.Getenv("REDIS_URL"), os.Getenv("COMPLIANCE_REDIS_URL")),
			BlacklistKeyPrefix:        "forge:token:blacklist:",
			BlacklistLocalCap:         envInt("BLACKLIST_LOCAL_CAP", 50000),
			SeedAdminPassword:         os.Getenv("SEED_ADMIN_PASSWORD"),
			SessionDuration:           envDuration("SESSION_DURATION", 8*time.Hour),
			PrivilegedSessionDuration: envDuration("PRIVILEGED_SESSION_DURATION", 4*time.Hour),
			IdleTimeout:               envDuration("SESSION_IDLE_TIMEOUT", 15*time.Minute),
			MFAChallengeTTL:           envDuration("MFA_CHALLENGE_TTL", 5*time.Minute),
			MFAMaxAttempts:            envInt("MFA_MAX_ATTEMPTS", 3),
		},
		Diagnosis: DiagnosisConfig{
			SessionTimeout:             envDuration("DIAGNOSIS_SESSION_TIMEOUT", time.Hour),
			IdleTimeout:                envDuration("DIAGNOSIS_IDLE_TIMEOUT", 30*time.Minute),
			AgentTimeout:               envDuration("DIAGNOSIS_AGENT_TIMEOUT", 30*time.Second),
			CoordinatorTimeout:         envDuration("DIAGNOSIS_COORDINATOR_TIMEOUT", 120*time.Second),
			MaxRetries:                 envInt("DIAGNOSIS_MAX_RETRIES", 3),
			MaxIterations:              envInt("DIAGNOSIS_MAX_ITERATIONS", 10),
			ConfidenceThreshold:        envFloat("DIAGNOSIS_CONFIDENCE_THRESHOLD", 0.85),
			EliminationThreshold:       envFloat("DIAGNOSIS_ELIMINATION_THRESHOLD", 0.10),
			EarlyTerminationThreshold:  envFloat("DIAGNOSIS_EARLY_TERMINATION_THRESHOLD", 0.9),
			MaxQuestionsPerIteration:   envInt("DIAGNOSIS_MAX_QUESTIONS", 3),
			MinInformationGain:         envFloat("DIAGNOSIS_MIN_INFORMATION_GAIN", 0.01),
			MinPhenotypeOverlap:        envFloat("DIAGNOSIS_MIN_PHENOTYPE_OVERLAP", 0.3),
			CleanupInterval:            envDuration("DIAGNOSIS_CLEANUP_INTERVAL", 60*time.Second),
			EventStreamIdleTimeout:     envDuration("DIAGNOSIS_EVENT_STREAM_IDLE_TIMEOUT", 30*time.Minute),
		},
		GhostCouncil: GhostCouncilConfig{
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
			OllamaURL:       os.Getenv("OLLAMA_URL"),
			CacheEnabled:    envBool("GHOST_COUNCIL_CACHE_ENABLED", true),
			CacheCapacity:   envInt("GHOST_COUNCIL_CACHE_CAPACITY", 1000),
			CacheTTL:        envDuration("GHOST_COUNCIL_CACHE_TTL", 30*24*time.Hour),
		},
		Deadlines: DeadlineConfig{
			SchedulerInterval: envDuration("BREACH_SCHEDULER_INTERVAL", 15*time.Minute),
		},
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
