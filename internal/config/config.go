// Package config loads the server configuration from environment variables.
// Unset variables take defaults; set but malformed ones are errors, and Load
// reports every problem at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-offers-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig defines bearer-credential settings.
type AuthConfig struct {
	JWTSecret string        // JWT_SECRET (HS256 signing key, required)
	Leeway    time.Duration // JWT_LEEWAY tolerated clock skew
}

// StompConfig defines the websocket/STOMP endpoint settings.
type StompConfig struct {
	Endpoint     string        // STOMP_ENDPOINT (e.g. "/ws")
	WriteTimeout time.Duration // STOMP_WRITE_TIMEOUT per frame
	PingInterval time.Duration // STOMP_PING_INTERVAL websocket keepalive
}

// SweeperConfig defines the unread-notification sweeper schedule.
type SweeperConfig struct {
	Period          time.Duration // SWEEP_PERIOD between cycles
	UnreadThreshold time.Duration // UNREAD_THRESHOLD minimum unread age
	Timeout         time.Duration // SWEEP_TIMEOUT upper bound per cycle
}

// SMTPConfig defines outbound mail settings. An empty Host selects the
// logging transport instead of SMTP.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Language string // NOTIFY_LANG BCP 47 tag for template casing
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	// Credentials, real-time channel, background work, mail
	Auth    AuthConfig
	Stomp   StompConfig
	Sweeper SweeperConfig
	SMTP    SMTPConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid
	MaxBodyBytes   int64         // request body cap

	// Observability
	OTEL OTELConfig
}

// Load reads, normalizes and validates the configuration.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.duration("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.duration("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.duration("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.flag("LOG_PRETTY", false),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DBPath: e.str("DB_PATH", "app.db"),

		Auth: AuthConfig{
			JWTSecret: e.str("JWT_SECRET", ""),
			Leeway:    e.duration("JWT_LEEWAY", 0),
		},
		Stomp: StompConfig{
			Endpoint:     normalizeBasePath(e.str("STOMP_ENDPOINT", "/ws")),
			WriteTimeout: e.duration("STOMP_WRITE_TIMEOUT", 10*time.Second),
			PingInterval: e.duration("STOMP_PING_INTERVAL", 30*time.Second),
		},
		Sweeper: SweeperConfig{
			Period:          e.duration("SWEEP_PERIOD", 10*time.Minute),
			UnreadThreshold: e.duration("UNREAD_THRESHOLD", 5*time.Minute),
			Timeout:         e.duration("SWEEP_TIMEOUT", 2*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     e.str("SMTP_HOST", ""),
			Port:     e.integer("SMTP_PORT", 587),
			Username: e.str("SMTP_USERNAME", ""),
			Password: e.str("SMTP_PASSWORD", ""),
			From:     e.str("SMTP_FROM", "no-reply@localhost"),
			Language: e.str("NOTIFY_LANG", "en"),
		},

		RateRPS:   e.float("RATE_RPS", 5.0),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		MaxBodyBytes:   int64(e.integer("MAX_BODY_BYTES", 1<<20)),

		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-offers-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	errs := append(e.errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error, fatal, panic", cfg.LogLevel))
	}
	check(strings.TrimSpace(cfg.Port) != "", "PORT must not be empty")
	check(cfg.ReadTimeout > 0 && cfg.ReadHeaderTimeout > 0 && cfg.WriteTimeout > 0 && cfg.IdleTimeout > 0,
		"server timeouts must be positive")
	check(cfg.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(cfg.DBPath) != "", "DB_PATH must not be empty")

	check(strings.TrimSpace(cfg.Auth.JWTSecret) != "", "JWT_SECRET is required")
	check(cfg.Auth.Leeway >= 0, "JWT_LEEWAY must be >= 0")

	check(cfg.Stomp.Endpoint != "/", "STOMP_ENDPOINT must not be the root path")
	check(cfg.Stomp.Endpoint != cfg.APIBasePath, "STOMP_ENDPOINT must differ from API_BASE_PATH")
	check(cfg.Stomp.WriteTimeout > 0 && cfg.Stomp.PingInterval > 0, "STOMP timeouts must be positive")

	check(cfg.Sweeper.Period > 0, "SWEEP_PERIOD must be positive")
	check(cfg.Sweeper.UnreadThreshold > 0, "UNREAD_THRESHOLD must be positive")
	check(cfg.Sweeper.Timeout > 0 && cfg.Sweeper.Timeout <= cfg.Sweeper.Period,
		"SWEEP_TIMEOUT must be positive and no longer than SWEEP_PERIOD")
	if cfg.SMTP.Host != "" {
		check(cfg.SMTP.Port > 0 && cfg.SMTP.Port <= 65535, "SMTP_PORT must be in 1..65535")
	}

	check(cfg.MaxBodyBytes > 0, "MAX_BODY_BYTES must be > 0")
	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// env reads typed variables and records the ones that fail to parse.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(k, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", k, v, err))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return f
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}

func (e *env) flag(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, errors.New("not a boolean"))
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and no trailing '/' (except root).
func normalizeBasePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
