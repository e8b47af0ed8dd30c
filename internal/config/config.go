/**
 * @description
 * This package handles the configuration management for arcdrop. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), shared by the API and scheduler binaries.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for arcdrop.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`
	RenewalQueue   string `mapstructure:"RENEWAL_QUEUE"`

	CircleAPIBase                string `mapstructure:"CIRCLE_API_BASE"`
	CircleAPIKey                 string `mapstructure:"CIRCLE_API_KEY"`
	CircleEntitySecretCiphertext string `mapstructure:"CIRCLE_ENTITY_SECRET_CIPHERTEXT"`
	CircleBlockchain             string `mapstructure:"CIRCLE_BLOCKCHAIN"`
	MockWallets                  bool   `mapstructure:"ARCDROP_MOCK_WALLETS"`
	WalletFallbackEnabled        bool   `mapstructure:"WALLET_FALLBACK_ENABLED"`
	GaslessSigningKey            string `mapstructure:"GASLESS_SIGNING_KEY"`
	ProviderTimeoutSeconds       int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`

	PayRateLimitPerMinute    int    `mapstructure:"PAY_RATE_LIMIT_PER_MINUTE"`
	IdempotencyTTLMinutes    int    `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`
	PendingTipTimeoutMinutes int    `mapstructure:"PENDING_TIP_TIMEOUT_MINUTES"`
	RenewalJobSchedule       string `mapstructure:"RENEWAL_JOB_SCHEDULE"`
	TipReconcileJobSchedule  string `mapstructure:"TIP_RECONCILE_JOB_SCHEDULE"`
	RenewalBatchSize         int    `mapstructure:"RENEWAL_BATCH_SIZE"`

	ModularClientURL    string `mapstructure:"MODULAR_CLIENT_URL"`
	ModularClientKey    string `mapstructure:"MODULAR_CLIENT_KEY"`
	ModularDefaultChain string `mapstructure:"MODULAR_DEFAULT_CHAIN"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_KEY_PREFIX", "arcdrop")
	viper.SetDefault("EVENTS_EXCHANGE", "arcdrop.events")
	viper.SetDefault("RENEWAL_QUEUE", "arcdrop.subscription_renewals")
	viper.SetDefault("CIRCLE_API_BASE", "https://api.circle.com")
	viper.SetDefault("ARCDROP_MOCK_WALLETS", false)
	viper.SetDefault("WALLET_FALLBACK_ENABLED", true)
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PAY_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", 1440)
	viper.SetDefault("PENDING_TIP_TIMEOUT_MINUTES", 30)
	viper.SetDefault("RENEWAL_JOB_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("TIP_RECONCILE_JOB_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("RENEWAL_BATCH_SIZE", 100)
	viper.SetDefault("MODULAR_DEFAULT_CHAIN", "base-sepolia")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("RENEWAL_QUEUE")
	_ = viper.BindEnv("CIRCLE_API_BASE")
	_ = viper.BindEnv("CIRCLE_API_KEY")
	_ = viper.BindEnv("CIRCLE_ENTITY_SECRET_CIPHERTEXT")
	_ = viper.BindEnv("CIRCLE_BLOCKCHAIN")
	_ = viper.BindEnv("ARCDROP_MOCK_WALLETS")
	_ = viper.BindEnv("WALLET_FALLBACK_ENABLED")
	_ = viper.BindEnv("GASLESS_SIGNING_KEY")
	_ = viper.BindEnv("PROVIDER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PAY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("IDEMPOTENCY_TTL_MINUTES")
	_ = viper.BindEnv("PENDING_TIP_TIMEOUT_MINUTES")
	_ = viper.BindEnv("RENEWAL_JOB_SCHEDULE")
	_ = viper.BindEnv("TIP_RECONCILE_JOB_SCHEDULE")
	_ = viper.BindEnv("RENEWAL_BATCH_SIZE")
	_ = viper.BindEnv("MODULAR_CLIENT_URL", "MODULAR_CLIENT_URL", "NEXT_PUBLIC_CIRCLE_CLIENT_URL")
	_ = viper.BindEnv("MODULAR_CLIENT_KEY", "MODULAR_CLIENT_KEY", "NEXT_PUBLIC_CIRCLE_CLIENT_KEY")
	_ = viper.BindEnv("MODULAR_DEFAULT_CHAIN")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.CircleAPIBase = strings.TrimRight(strings.TrimSpace(config.CircleAPIBase), "/")
	config.CircleAPIKey = strings.TrimSpace(config.CircleAPIKey)
	config.CircleEntitySecretCiphertext = strings.TrimSpace(config.CircleEntitySecretCiphertext)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "arcdrop"
	}
	if config.ProviderTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"invalid PROVIDER_TIMEOUT_SECONDS; using default\" value=%d", config.ProviderTimeoutSeconds)
		config.ProviderTimeoutSeconds = 15
	}
	if config.PendingTipTimeoutMinutes <= 0 {
		config.PendingTipTimeoutMinutes = 30
	}
	if config.RenewalBatchSize <= 0 {
		config.RenewalBatchSize = 100
	}
	if strings.TrimSpace(config.ModularDefaultChain) == "" {
		config.ModularDefaultChain = "base-sepolia"
	}

	return
}

// CircleConfigured reports whether real custody calls can be made.
func (c Config) CircleConfigured() bool {
	return !c.MockWallets && c.CircleAPIKey != "" && c.CircleEntitySecretCiphertext != ""
}

// ModularConfigured reports whether the modular wallet client settings are present.
func (c Config) ModularConfigured() bool {
	return strings.TrimSpace(c.ModularClientURL) != "" && strings.TrimSpace(c.ModularClientKey) != ""
}

// ProviderTimeout is the per-call deadline for custody and bridge calls.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// PendingTipTimeout is the age after which a PENDING tip is failed by reconciliation.
func (c Config) PendingTipTimeout() time.Duration {
	return time.Duration(c.PendingTipTimeoutMinutes) * time.Minute
}

// IdempotencyTTL is how long a replayable /pay response is retained.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMinutes) * time.Minute
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
