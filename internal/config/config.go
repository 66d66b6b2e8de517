// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, authentication, the
// realtime policy knobs (rate limiting, dedup, presence, receipts), and the
// Redis backplane.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings. The allowed
// origins are also consulted by the WebSocket upgrader's origin check.
type CORSConfig struct {
	AllowedOrigins []string
}

// AuthConfig defines bearer-credential verification settings.
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify connection tokens.
	JWTSecret string
	// Issuer, when non-empty, is required to match the token "iss" claim.
	Issuer string
}

// RedisConfig defines the shared-cache backplane settings. When Addr is empty
// or the server is unreachable at startup, the process runs on in-memory
// state only.
type RedisConfig struct {
	Addr     string // host:port, empty disables Redis entirely
	Password string
	DB       int
}

// RealtimeConfig holds the policy constants of the coordination core. The
// defaults mirror the documented product policy but are deliberately
// configurable rather than hard-coded.
type RealtimeConfig struct {
	// Sliding-window rate limit on message sends.
	RateLimitMax    int           // max accepted sends per window
	RateLimitWindow time.Duration // trailing window length

	// DedupTTL is how long an idempotency-token reservation is held.
	DedupTTL time.Duration

	// Presence bookkeeping.
	PresenceTTL   time.Duration // heartbeat record expiry
	PresenceGrace time.Duration // delay before asserting offline on disconnect

	// Read-receipt batching policy.
	ReceiptBatchThreshold int           // participant count at which batching kicks in
	ReceiptFlushInterval  time.Duration // background flush cadence

	// Transport-level guards on a single connection.
	WriteBufferSize int           // per-client outbound queue length
	PongTimeout     time.Duration // read deadline extension on pong/heartbeat
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-realtime")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath string // SQLite path

	// Upgrade-edge rate limiting (per client IP, token bucket)
	UpgradeRPS   float64 // tokens per second (>= 0)
	UpgradeBurst int     // bucket size (>= 1)

	CORS     CORSConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Realtime RealtimeConfig
	OTEL     OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Upgrade-edge limiting
		UpgradeRPS:   getfloat("UPGRADE_RPS", 5.0),
		UpgradeBurst: getint("UPGRADE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", ""),
			Issuer:    getenv("JWT_ISSUER", ""),
		},

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		Realtime: RealtimeConfig{
			RateLimitMax:          getint("RATE_LIMIT_MAX", 30),
			RateLimitWindow:       getdur("RATE_LIMIT_WINDOW", 60*time.Second),
			DedupTTL:              getdur("DEDUP_TTL", 300*time.Second),
			PresenceTTL:           getdur("PRESENCE_TTL", 30*time.Second),
			PresenceGrace:         getdur("PRESENCE_GRACE", 5*time.Second),
			ReceiptBatchThreshold: getint("RECEIPT_BATCH_THRESHOLD", 10),
			ReceiptFlushInterval:  getdur("RECEIPT_FLUSH_INTERVAL", 10*time.Second),
			WriteBufferSize:       getint("WS_WRITE_BUFFER", 64),
			PongTimeout:           getdur("WS_PONG_TIMEOUT", 60*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-realtime"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.UpgradeRPS < 0 {
		return cfg, errors.New("UPGRADE_RPS must be >= 0")
	}
	if cfg.UpgradeBurst < 1 {
		return cfg, errors.New("UPGRADE_BURST must be >= 1")
	}
	rt := cfg.Realtime
	if rt.RateLimitMax < 1 {
		return cfg, errors.New("RATE_LIMIT_MAX must be >= 1")
	}
	if rt.RateLimitWindow <= 0 || rt.DedupTTL <= 0 || rt.PresenceTTL <= 0 || rt.PresenceGrace <= 0 || rt.ReceiptFlushInterval <= 0 {
		return cfg, errors.New("realtime durations must be positive")
	}
	if rt.ReceiptBatchThreshold < 2 {
		return cfg, errors.New("RECEIPT_BATCH_THRESHOLD must be >= 2")
	}
	if rt.WriteBufferSize < 1 {
		return cfg, errors.New("WS_WRITE_BUFFER must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
