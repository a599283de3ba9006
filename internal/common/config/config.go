package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Service    ServiceConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	JWT        JWTConfig
	Wallet     WalletConfig
	Activation ActivationConfig
	Radius     RadiusConfig
	Sync       SyncConfig
	Metrics    MetricsConfig
}

type ServiceConfig struct {
	Name          string
	Port          string
	InternalPort  string
	Environment   string
	StorageDriver string // postgres | memory
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	GroupID string
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

type WalletConfig struct {
	ReservationTTL  time.Duration
	BalanceCacheTTL time.Duration
	LockTTL         time.Duration
	SweepSchedule   string
}

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

type ActivationConfig struct {
	MaxRetries       int
	Backoff          string
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ExternalTimeout  time.Duration
	Workers          int
	PollInterval     time.Duration
	RecoverySchedule string
}

type RadiusConfig struct {
	BaseURL string
	APIKey  string
}

type SyncConfig struct {
	BaseURL        string
	APIKey         string
	PageSize       int
	MaxPageRetries int
	Schedule       string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration for the named service from the environment.
// Service-specific ports are read from <SERVICE>_PORT and <SERVICE>_INTERNAL_PORT.
func Load(service string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	prefix := strings.ToUpper(service)
	setDefaults(v, prefix)

	cfg := &Config{
		Service: ServiceConfig{
			Name:          service,
			Port:          v.GetString(prefix + "_PORT"),
			InternalPort:  v.GetString(prefix + "_INTERNAL_PORT"),
			Environment:   v.GetString("ENVIRONMENT"),
			StorageDriver: strings.ToLower(v.GetString("STORAGE_DRIVER")),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetString("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			DBName:          v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("KAFKA_ENABLED"),
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("JWT_SECRET"),
			AccessTokenTTL: v.GetDuration("JWT_ACCESS_TOKEN_TTL"),
		},
		Wallet: WalletConfig{
			ReservationTTL:  v.GetDuration("WALLET_RESERVATION_TTL"),
			BalanceCacheTTL: v.GetDuration("WALLET_BALANCE_CACHE_TTL"),
			LockTTL:         v.GetDuration("WALLET_LOCK_TTL"),
			SweepSchedule:   v.GetString("WALLET_SWEEP_SCHEDULE"),
		},
		Activation: ActivationConfig{
			MaxRetries:       v.GetInt("ACTIVATION_MAX_RETRIES"),
			Backoff:          strings.ToLower(v.GetString("ACTIVATION_BACKOFF")),
			BaseDelay:        v.GetDuration("ACTIVATION_BASE_DELAY"),
			MaxDelay:         v.GetDuration("ACTIVATION_MAX_DELAY"),
			ExternalTimeout:  v.GetDuration("ACTIVATION_EXTERNAL_TIMEOUT"),
			Workers:          v.GetInt("ACTIVATION_WORKERS"),
			PollInterval:     v.GetDuration("ACTIVATION_POLL_INTERVAL"),
			RecoverySchedule: v.GetString("ACTIVATION_RECOVERY_SCHEDULE"),
		},
		Radius: RadiusConfig{
			BaseURL: v.GetString("RADIUS_API_URL"),
			APIKey:  v.GetString("RADIUS_API_KEY"),
		},
		Sync: SyncConfig{
			BaseURL:        v.GetString("SYNC_API_URL"),
			APIKey:         v.GetString("SYNC_API_KEY"),
			PageSize:       v.GetInt("SYNC_PAGE_SIZE"),
			MaxPageRetries: v.GetInt("SYNC_MAX_PAGE_RETRIES"),
			Schedule:       v.GetString("SYNC_SCHEDULE"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
			Path:    v.GetString("METRICS_PATH"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+"_PORT", "8080")
	v.SetDefault(prefix+"_INTERNAL_PORT", "9080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("STORAGE_DRIVER", "postgres")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "openradius_billing")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KAFKA_ENABLED", true)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "openradius-"+strings.ToLower(prefix))

	v.SetDefault("JWT_SECRET", "change-me")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", "15m")

	v.SetDefault("WALLET_RESERVATION_TTL", "2m")
	v.SetDefault("WALLET_BALANCE_CACHE_TTL", "10m")
	v.SetDefault("WALLET_LOCK_TTL", "30s")
	v.SetDefault("WALLET_SWEEP_SCHEDULE", "@every 1m")

	v.SetDefault("ACTIVATION_MAX_RETRIES", 3)
	v.SetDefault("ACTIVATION_BACKOFF", BackoffExponential)
	v.SetDefault("ACTIVATION_BASE_DELAY", "5s")
	v.SetDefault("ACTIVATION_MAX_DELAY", "5m")
	v.SetDefault("ACTIVATION_EXTERNAL_TIMEOUT", "10s")
	v.SetDefault("ACTIVATION_WORKERS", 8)
	v.SetDefault("ACTIVATION_POLL_INTERVAL", "1s")
	v.SetDefault("ACTIVATION_RECOVERY_SCHEDULE", "@every 30s")

	v.SetDefault("RADIUS_API_URL", "http://localhost:5000")
	v.SetDefault("RADIUS_API_KEY", "")

	v.SetDefault("SYNC_API_URL", "http://localhost:5000")
	v.SetDefault("SYNC_API_KEY", "")
	v.SetDefault("SYNC_PAGE_SIZE", 100)
	v.SetDefault("SYNC_MAX_PAGE_RETRIES", 3)
	v.SetDefault("SYNC_SCHEDULE", "0 3 * * *")

	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", "/metrics")
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Service.StorageDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Service.StorageDriver)
	}

	a := c.Activation
	if a.MaxRetries < 1 {
		return fmt.Errorf("ACTIVATION_MAX_RETRIES must be at least 1")
	}
	if a.Backoff != BackoffFixed && a.Backoff != BackoffExponential {
		return fmt.Errorf("ACTIVATION_BACKOFF must be %q or %q", BackoffFixed, BackoffExponential)
	}
	if a.BaseDelay < 0 || a.MaxDelay < a.BaseDelay {
		return fmt.Errorf("ACTIVATION_MAX_DELAY must be >= ACTIVATION_BASE_DELAY")
	}
	if a.ExternalTimeout <= 0 {
		return fmt.Errorf("ACTIVATION_EXTERNAL_TIMEOUT must be positive")
	}
	if a.Workers < 1 {
		return fmt.Errorf("ACTIVATION_WORKERS must be at least 1")
	}
	// The activation lock is held across the external call.
	if c.Wallet.LockTTL > 0 && c.Wallet.LockTTL <= a.ExternalTimeout {
		return fmt.Errorf("WALLET_LOCK_TTL must exceed ACTIVATION_EXTERNAL_TIMEOUT")
	}

	if c.Wallet.ReservationTTL <= 0 {
		return fmt.Errorf("WALLET_RESERVATION_TTL must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when Kafka is enabled")
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
