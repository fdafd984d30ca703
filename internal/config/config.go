/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * Gateway credentials are only ever supplied here; adapters receive them at
 * construction and never read the environment themselves.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payout-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	GatewayEventQueue    string `mapstructure:"GATEWAY_EVENT_QUEUE"`
	AuthJWKSURL          string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	// Settlement behavior.
	PayoutCooldownSeconds    int    `mapstructure:"PAYOUT_COOLDOWN_SECONDS"`
	GatewayTimeoutSeconds    int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	SubmitRateLimitPerMinute int    `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`
	PendingSweepSchedule     string `mapstructure:"PENDING_SWEEP_SCHEDULE"`
	PendingStaleAfterSeconds int    `mapstructure:"PENDING_STALE_AFTER_SECONDS"`

	// Gateway credentials.
	AeronpayBaseURL      string `mapstructure:"AERONPAY_BASE_URL"`
	AeronpayClientID     string `mapstructure:"AERONPAY_CLIENT_ID"`
	AeronpayClientSecret string `mapstructure:"AERONPAY_CLIENT_SECRET"`
	SevapayBaseURL       string `mapstructure:"SEVAPAY_BASE_URL"`
	SevapayMerchantID    string `mapstructure:"SEVAPAY_MERCHANT_ID"`
	SevapaySecretKey     string `mapstructure:"SEVAPAY_SECRET_KEY"`
	KatlaBaseURL         string `mapstructure:"KATLA_BASE_URL"`
	KatlaAPIToken        string `mapstructure:"KATLA_API_TOKEN"`
	P2IBaseURL           string `mapstructure:"P2I_BASE_URL"`
	P2IClientID          string `mapstructure:"P2I_CLIENT_ID"`
	P2IClientSecret      string `mapstructure:"P2I_CLIENT_SECRET"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("GATEWAY_EVENT_QUEUE", "payout_service.gateway_updates")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wepay:rate_limit")
	viper.SetDefault("PAYOUT_COOLDOWN_SECONDS", 10)
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 45)
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("PENDING_SWEEP_SCHEDULE", "@every 2m")
	viper.SetDefault("PENDING_STALE_AFTER_SECONDS", 300)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYOUT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_EVENT_QUEUE")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYOUT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYOUT_COOLDOWN_SECONDS")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SUBMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PENDING_SWEEP_SCHEDULE")
	_ = viper.BindEnv("PENDING_STALE_AFTER_SECONDS")
	_ = viper.BindEnv("AERONPAY_BASE_URL")
	_ = viper.BindEnv("AERONPAY_CLIENT_ID")
	_ = viper.BindEnv("AERONPAY_CLIENT_SECRET")
	_ = viper.BindEnv("SEVAPAY_BASE_URL")
	_ = viper.BindEnv("SEVAPAY_MERCHANT_ID")
	_ = viper.BindEnv("SEVAPAY_SECRET_KEY")
	_ = viper.BindEnv("KATLA_BASE_URL")
	_ = viper.BindEnv("KATLA_API_TOKEN")
	_ = viper.BindEnv("P2I_BASE_URL")
	_ = viper.BindEnv("P2I_CLIENT_ID")
	_ = viper.BindEnv("P2I_CLIENT_SECRET")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYOUT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "wepay:rate_limit"
	}

	if config.PayoutCooldownSeconds < 0 {
		log.Printf("level=warn component=config msg=\"negative payout cooldown configured; coercing to zero\" cooldown_seconds=%d", config.PayoutCooldownSeconds)
		config.PayoutCooldownSeconds = 0
	}
	if config.GatewayTimeoutSeconds <= 0 {
		config.GatewayTimeoutSeconds = 45
	}
	if config.SubmitRateLimitPerMinute <= 0 {
		config.SubmitRateLimitPerMinute = 60
	}
	if strings.TrimSpace(config.PendingSweepSchedule) == "" {
		config.PendingSweepSchedule = "@every 2m"
	}
	if config.PendingStaleAfterSeconds <= 0 {
		config.PendingStaleAfterSeconds = 300
	}

	return
}
