// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	Env           string
	DatabaseURL   string
	RedisURL      string // empty selects the in-process cache
	GatewayToken  string
	SessionSecret string
	AllowOrigins  string

	CacheTTLGlobal     time.Duration
	CacheTTLPeriodic   time.Duration
	CacheTTLTournament time.Duration
	CacheTimeout       time.Duration
	StoreTimeout       time.Duration

	TieBreakGlobal     string
	TieBreakPeriodic   string
	TieBreakTournament string

	PeriodSchedule string
	PrizeTable     string // JSON; empty uses the built-in table

	AntiCheatMaxScore  int64
	AntiCheatFlagScore int64
	AntiCheatURL       string

	SubmitRatePerSec float64
	SubmitBurst      int

	AnalyticsURL   string
	EventQueueSize int

	ArchiveBucket     string
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	ProfileSyncURL    string
	ProfileSyncEvery  time.Duration
	SchedulerInterval time.Duration
	AutoAdvance       bool
	ClaimWorkers      int
	ClaimQueueSize    int
	MigrationsDir     string
}

// Load reads the environment. Missing required values and malformed
// optional values are reported as errors.
func Load() (*Config, error) {
	_ = godotenv.Load()

	r := &reader{}
	cfg := &Config{
		Port:          r.str("PORT", "5200"),
		Env:           r.str("ENV", "development"),
		DatabaseURL:   r.required("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		GatewayToken:  r.required("GAME_SERVICE_TOKEN"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		AllowOrigins:  r.str("ALLOWED_ORIGINS", "http://localhost:3000"),

		CacheTTLGlobal:     r.duration("CACHE_TTL_GLOBAL", 5*time.Minute),
		CacheTTLPeriodic:   r.duration("CACHE_TTL_PERIODIC", time.Minute),
		CacheTTLTournament: r.duration("CACHE_TTL_TOURNAMENT", 30*time.Second),
		CacheTimeout:       r.duration("CACHE_TIMEOUT", 50*time.Millisecond),
		StoreTimeout:       r.duration("STORE_TIMEOUT", 3*time.Second),

		TieBreakGlobal:     r.oneOf("TIEBREAK_GLOBAL", "earliest", "earliest", "latest"),
		TieBreakPeriodic:   r.oneOf("TIEBREAK_PERIODIC", "earliest", "earliest", "latest"),
		TieBreakTournament: r.oneOf("TIEBREAK_TOURNAMENT", "earliest", "earliest", "latest"),

		PeriodSchedule: r.str("PERIOD_SCHEDULE", "0 0 * * 1"),
		PrizeTable:     os.Getenv("PRIZE_TABLE"),

		AntiCheatMaxScore:  r.int64("ANTICHEAT_MAX_SCORE", 10_000_000),
		AntiCheatFlagScore: r.int64("ANTICHEAT_FLAG_SCORE", 1_000_000),
		AntiCheatURL:       os.Getenv("ANTICHEAT_URL"),

		SubmitRatePerSec: r.float("SUBMIT_RATE_PER_SEC", 2),
		SubmitBurst:      r.int("SUBMIT_BURST", 5),

		AnalyticsURL:   os.Getenv("ANALYTICS_URL"),
		EventQueueSize: r.int("EVENT_QUEUE_SIZE", 1024),

		ArchiveBucket:     os.Getenv("ARCHIVE_BUCKET"),
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		ProfileSyncURL:    os.Getenv("PROFILE_SYNC_URL"),
		ProfileSyncEvery:  r.duration("PROFILE_SYNC_INTERVAL", 15*time.Second),
		SchedulerInterval: r.duration("SCHEDULER_INTERVAL", time.Minute),
		AutoAdvance:       r.bool("AUTO_ADVANCE_TOURNAMENTS", true),
		ClaimWorkers:      r.int("CLAIM_WORKERS", 8),
		ClaimQueueSize:    r.int("CLAIM_QUEUE_SIZE", 1024),
		MigrationsDir:     r.str("MIGRATIONS_DIR", "migrations"),
	}

	if cfg.ArchiveBucket != "" && (cfg.R2AccountID == "" || cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "") {
		r.fail("ARCHIVE_BUCKET requires R2_ACCOUNT_ID, R2_ACCESS_KEY_ID and R2_SECRET_ACCESS_KEY")
	}
	if cfg.SubmitBurst < 1 && cfg.SubmitRatePerSec > 0 {
		r.fail("SUBMIT_BURST must be at least 1")
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(r.errs, "; "))
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

type reader struct {
	errs []string
}

func (r *reader) fail(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		r.fail("%s is required", key)
	}
	return v
}

func (r *reader) oneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(r.str(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	r.fail("%s must be one of %s", key, strings.Join(allowed, ", "))
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		r.fail("%s: invalid duration %q", key, raw)
		return def
	}
	return d
}

func (r *reader) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		r.fail("%s: invalid integer %q", key, raw)
		return def
	}
	return n
}

func (r *reader) int64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		r.fail("%s: invalid integer %q", key, raw)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		r.fail("%s: invalid number %q", key, raw)
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail("%s: invalid boolean %q", key, raw)
		return def
	}
	return b
}
