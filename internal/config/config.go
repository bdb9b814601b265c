package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	ListenAddr  string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Facilitator FacilitatorConfig
	Gateway     GatewayConfig
	Webhook     WebhookConfig
	Sweep       SweepConfig

	// Org defaults applied when an organization has no explicit settings row.
	DefaultEscrowHoldHours    int
	DefaultFreeTierLimit      int
	DefaultFreeTierPeriodDays int

	RedisAddr     string
	RedisPassword string

	GeoIPDatabasePath string
}

// FacilitatorConfig selects and configures the payment facilitator variant.
type FacilitatorConfig struct {
	// Kind is one of "remote", "cdp" or "simulated".
	Kind          string
	URL           string
	AuthToken     string
	CDPAPIKeyID   string
	CDPAPISecret  string
	VerifyTimeout time.Duration
	SettleTimeout time.Duration

	QuoteSigningSecret string
	QuoteTTL           time.Duration
}

// GatewayConfig bounds the upstream forward path.
type GatewayConfig struct {
	ForwardTimeout     time.Duration
	ForwardMaxAttempts int
	ForwardBackoffBase time.Duration
}

// WebhookConfig bounds outbound event delivery.
type WebhookConfig struct {
	DeliveryTimeout time.Duration
	QueueSize       int
	Workers         int
	RetryDelays     []time.Duration
}

// SweepConfig drives the periodic escrow release job.
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
}

const (
	FacilitatorRemote    = "remote"
	FacilitatorCDP       = "cdp"
	FacilitatorSimulated = "simulated"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "x402gate"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "x402gate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Facilitator: FacilitatorConfig{
			Kind:               normalizeFacilitatorKind(getenv("FACILITATOR_KIND", FacilitatorSimulated)),
			URL:                strings.TrimSpace(getenv("FACILITATOR_URL", "")),
			AuthToken:          strings.TrimSpace(getenv("FACILITATOR_AUTH_TOKEN", "")),
			CDPAPIKeyID:        strings.TrimSpace(getenv("CDP_API_KEY_ID", "")),
			CDPAPISecret:       strings.TrimSpace(getenv("CDP_API_SECRET", "")),
			VerifyTimeout:      getenvDuration("FACILITATOR_VERIFY_TIMEOUT", 10*time.Second),
			SettleTimeout:      getenvDuration("FACILITATOR_SETTLE_TIMEOUT", 30*time.Second),
			QuoteSigningSecret: getenv("QUOTE_SIGNING_SECRET", "dev-quote-secret"),
			QuoteTTL:           getenvDuration("QUOTE_TTL", 5*time.Minute),
		},
		Gateway: GatewayConfig{
			ForwardTimeout:     getenvDuration("FORWARD_TIMEOUT", 30*time.Second),
			ForwardMaxAttempts: getenvInt("FORWARD_MAX_ATTEMPTS", 3),
			ForwardBackoffBase: getenvDuration("FORWARD_BACKOFF_BASE", 200*time.Millisecond),
		},
		Webhook: WebhookConfig{
			DeliveryTimeout: getenvDuration("WEBHOOK_DELIVERY_TIMEOUT", 10*time.Second),
			QueueSize:       getenvInt("WEBHOOK_QUEUE_SIZE", 1024),
			Workers:         getenvInt("WEBHOOK_WORKERS", 4),
			RetryDelays:     []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
		},
		Sweep: SweepConfig{
			Interval:  getenvDuration("ESCROW_SWEEP_INTERVAL", time.Minute),
			BatchSize: getenvInt("ESCROW_SWEEP_BATCH_SIZE", 100),
		},

		DefaultEscrowHoldHours:    getenvInt("DEFAULT_ESCROW_HOLD_HOURS", 24),
		DefaultFreeTierLimit:      getenvInt("DEFAULT_FREE_TIER_LIMIT", 0),
		DefaultFreeTierPeriodDays: getenvInt("DEFAULT_FREE_TIER_PERIOD_DAYS", 30),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		GeoIPDatabasePath: strings.TrimSpace(getenv("GEOIP_DATABASE_PATH", "")),
	}

	return cfg
}

func normalizeFacilitatorKind(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FacilitatorRemote:
		return FacilitatorRemote
	case FacilitatorCDP:
		return FacilitatorCDP
	default:
		return FacilitatorSimulated
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
