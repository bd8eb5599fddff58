package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	PayPal         PayPalConfig
	Checkout       CheckoutConfig
	Reconciliation ReconciliationConfig
	Log            LogConfig
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	Schema       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&search_path=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode, d.Schema,
	)
}

// RedisConfig leaves the order cache disabled when Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig leaves event publishing disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers     []string
	OrdersTopic string
}

type PayPalConfig struct {
	Gateway  string // paypal | sandbox
	BaseURL  string
	ClientID string
	Secret   string
	// SandboxURL is where the sandbox gateway sends buyers to approve.
	SandboxURL string
}

type CheckoutConfig struct {
	Currency       string
	ReturnURL      string
	CancelURL      string
	GatewayTimeout time.Duration
}

type ReconciliationConfig struct {
	Enabled      bool
	Interval     time.Duration
	StaleAfter   time.Duration
	AbandonAfter time.Duration
	BatchSize    int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 5000),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database: DatabaseConfig{
			Host:         getEnvString("BLUEPRINT_DB_HOST", "localhost"),
			Port:         getEnvString("BLUEPRINT_DB_PORT", "5432"),
			User:         getEnvString("BLUEPRINT_DB_USERNAME", "postgres"),
			Password:     getEnvString("BLUEPRINT_DB_PASSWORD", "postgres"),
			Name:         getEnvString("BLUEPRINT_DB_DATABASE", "shop"),
			Schema:       getEnvString("BLUEPRINT_DB_SCHEMA", "public"),
			SSLMode:      getEnvString("BLUEPRINT_DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("BLUEPRINT_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("BLUEPRINT_DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvDuration("BLUEPRINT_DB_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", ""),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_ORDER_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS", nil),
			OrdersTopic: getEnvString("KAFKA_ORDERS_TOPIC", "shop.orders"),
		},
		PayPal: PayPalConfig{
			Gateway:  getEnvString("PAYMENT_GATEWAY", "paypal"),
			BaseURL:  getEnvString("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ClientID: getEnvString("PAYPAL_CLIENT_ID", ""),
			Secret:   getEnvString("PAYPAL_CLIENT_SECRET", ""),
			SandboxURL: getEnvString("SANDBOX_APPROVAL_URL",
				fmt.Sprintf("http://localhost:%d/sandbox", getEnvInt("PORT", 5000))),
		},
		Checkout: CheckoutConfig{
			Currency:       getEnvString("CHECKOUT_CURRENCY", "USD"),
			ReturnURL:      getEnvString("CHECKOUT_RETURN_URL", "http://localhost:5173/shop/paypal-return"),
			CancelURL:      getEnvString("CHECKOUT_CANCEL_URL", "http://localhost:5173/shop/paypal-cancel"),
			GatewayTimeout: getEnvDuration("CHECKOUT_GATEWAY_TIMEOUT", 10*time.Second),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:      getEnvBool("RECONCILE_ENABLED", true),
			Interval:     getEnvDuration("RECONCILE_INTERVAL", time.Minute),
			StaleAfter:   getEnvDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
			AbandonAfter: getEnvDuration("RECONCILE_ABANDON_AFTER", 3*time.Hour),
			BatchSize:    getEnvInt("RECONCILE_BATCH_SIZE", 50),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
	}
}

func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
