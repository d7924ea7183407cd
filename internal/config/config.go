/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
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

// Config holds all the configuration variables for the finance service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventExchange           string `mapstructure:"EVENT_EXCHANGE"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	TokenTTLHours           int    `mapstructure:"TOKEN_TTL_HOURS"`
	Timezone                string `mapstructure:"TIMEZONE"`
	RootAdminUsername       string `mapstructure:"ROOT_ADMIN_USERNAME"`
	LLMAPIBaseURL           string `mapstructure:"LLM_API_BASE_URL"`
	LLMAPIKey               string `mapstructure:"LLM_API_KEY"`
	LLMModel                string `mapstructure:"LLM_MODEL"`
	LLMTimeoutSeconds       int    `mapstructure:"LLM_TIMEOUT_SECONDS"`
	AgentRateLimitPerMinute int    `mapstructure:"AGENT_RATE_LIMIT_PER_MINUTE"`
	GrantReconcileSchedule  string `mapstructure:"GRANT_RECONCILE_SCHEDULE"`
	GrantDeadlineSchedule   string `mapstructure:"GRANT_DEADLINE_SCHEDULE"`
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
	viper.SetDefault("EVENT_EXCHANGE", "finance_events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "aayatana:rate_limit")
	viper.SetDefault("TOKEN_TTL_HOURS", 24)
	viper.SetDefault("TIMEZONE", "Asia/Kolkata")
	viper.SetDefault("ROOT_ADMIN_USERNAME", "Admin")
	viper.SetDefault("LLM_API_BASE_URL", "https://api.openai.com/v1")
	viper.SetDefault("LLM_MODEL", "gpt-4o")
	viper.SetDefault("LLM_TIMEOUT_SECONDS", 30)
	viper.SetDefault("AGENT_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("GRANT_RECONCILE_SCHEDULE", "0 2 * * *")
	viper.SetDefault("GRANT_DEADLINE_SCHEDULE", "0 9 * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "FINANCE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("TOKEN_TTL_HOURS")
	_ = viper.BindEnv("TIMEZONE")
	_ = viper.BindEnv("ROOT_ADMIN_USERNAME")
	_ = viper.BindEnv("LLM_API_BASE_URL")
	_ = viper.BindEnv("LLM_API_KEY", "LLM_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("LLM_MODEL")
	_ = viper.BindEnv("LLM_TIMEOUT_SECONDS")
	_ = viper.BindEnv("AGENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("GRANT_RECONCILE_SCHEDULE")
	_ = viper.BindEnv("GRANT_DEADLINE_SCHEDULE")

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
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "aayatana:rate_limit"
	}
	config.RootAdminUsername = strings.TrimSpace(config.RootAdminUsername)
	if config.RootAdminUsername == "" {
		config.RootAdminUsername = "Admin"
	}
	if config.TokenTTLHours <= 0 {
		config.TokenTTLHours = 24
	}
	if config.LLMTimeoutSeconds <= 0 {
		config.LLMTimeoutSeconds = 30
	}
	if config.AgentRateLimitPerMinute <= 0 {
		config.AgentRateLimitPerMinute = 20
	}
	if strings.TrimSpace(config.Timezone) == "" {
		config.Timezone = "Asia/Kolkata"
	}

	return
}
