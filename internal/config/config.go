/**
 * @description
 * This file handles the configuration management for the billing-service.
 * It uses the 'viper' library to load configuration from environment variables,
 * providing a centralized and consistent way to manage application settings.
 */
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	AuthJWTSecret              string `mapstructure:"AUTH_JWT_SECRET"`
	AuthJWTIssuer              string `mapstructure:"AUTH_JWT_ISSUER"`
	BillingWebhookSecret       string `mapstructure:"BILLING_WEBHOOK_SECRET"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	APIKeyRateLimit            int    `mapstructure:"API_KEY_RATE_LIMIT"`
	APIKeyRateWindowSeconds    int    `mapstructure:"API_KEY_RATE_WINDOW_SECONDS"`
	SubscriptionExpirySchedule string `mapstructure:"SUBSCRIPTION_EXPIRY_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("API_KEY_RATE_LIMIT", 10)
	viper.SetDefault("API_KEY_RATE_WINDOW_SECONDS", 3600)
	viper.SetDefault("SUBSCRIPTION_EXPIRY_SCHEDULE", "*/10 * * * *")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("AUTH_JWT_ISSUER")
	_ = viper.BindEnv("BILLING_WEBHOOK_SECRET")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("API_KEY_RATE_LIMIT")
	_ = viper.BindEnv("API_KEY_RATE_WINDOW_SECONDS")
	_ = viper.BindEnv("SUBSCRIPTION_EXPIRY_SCHEDULE")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}
	if config.DatabaseURL == "" {
		err = fmt.Errorf("DATABASE_URL must be set")
		return
	}
	if config.AuthJWTSecret == "" {
		err = fmt.Errorf("AUTH_JWT_SECRET must be set")
		return
	}
	if config.BillingWebhookSecret == "" {
		err = fmt.Errorf("BILLING_WEBHOOK_SECRET must be set")
	}
	return
}
