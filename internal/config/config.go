package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// StaffTokenHash is an argon2id hash of the shared staff token used by
	// the admin status endpoint.
	StaffTokenHash string

	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string

	CurrencyCode       string
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	IdempotencyTTL      time.Duration
	WebhookReplayTTL    time.Duration
	FinalizeDedupWindow time.Duration
	FinalizeGuardTTL    time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int

	TelegramBotToken string
	TelegramChatID   string
	NotifyMaxRetry   int
	NotifyRetention  time.Duration

	MigrationsDir string
	AutoMigrate   bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   valueOrDefault(k.String("JWT_ISSUER"), "resto-auth"),
		JWTAudience: strings.TrimSpace(k.String("JWT_AUDIENCE")),

		StaffTokenHash: strings.TrimSpace(k.String("STAFF_TOKEN_HASH")),

		PaymentProvider:     valueOrDefault(k.String("PAYMENT_PROVIDER"), "stripe"),
		StripeSecretKey:     k.String("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:       strings.TrimSpace(k.String("STRIPE_BASE_URL")),

		CurrencyCode:       valueOrDefault(k.String("CURRENCY_CODE"), "usd"),
		CheckoutSuccessURL: strings.TrimSpace(k.String("CHECKOUT_SUCCESS_URL")),
		CheckoutCancelURL:  strings.TrimSpace(k.String("CHECKOUT_CANCEL_URL")),

		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "48h"),
		FinalizeDedupWindow: parseDuration(k.String("FINALIZE_DEDUP_WINDOW"), "5m"),
		FinalizeGuardTTL:    parseDuration(k.String("FINALIZE_GUARD_TTL"), "24h"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 60),

		TelegramBotToken: k.String("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   k.String("TELEGRAM_CHAT_ID"),
		NotifyMaxRetry:   parseInt(k.String("NOTIFY_MAX_RETRY"), 5),
		NotifyRetention:  parseDuration(k.String("NOTIFY_RETENTION"), "168h"),

		MigrationsDir: valueOrDefault(k.String("MIGRATIONS_DIR"), "migrations"),
		AutoMigrate:   parseBool(k.String("AUTO_MIGRATE")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.PaymentProvider == "stripe" && cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
