package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram struct {
		Token     string
		WebAppURL string
		AdminID   int64
	}
	Server struct {
		Port string
	}
	OpenAI struct {
		APIKey  string
		BaseURL string
		Model   string
	}
	Dev struct {
		Enabled bool
		UserID  int64
	}
	Payment struct {
		CardDescription string
		SBPPhone        string
		ExternalURL     string
	}
	Stripe struct {
		SecretKey  string
		WebhookKey string
	}
	DB struct {
		Driver       string // "memory" or "postgres"
		Host         string
		Port         string
		User         string
		Password     string
		DBName       string
		SSLMode      string
		MaxOpenConns int
		ConnLifetime time.Duration
	}
	ShutdownTimeout time.Duration
}

// Load reads config.{yaml,json} if present, otherwise falls back to
// environment variables (a .env file is honored either way).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.arkana-bot")

	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("OpenAI.Model", "gpt-4o-mini")
	v.SetDefault("Server.Port", "3001")
	v.SetDefault("DB.Driver", "memory")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fromEnv(), nil
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyEnvFallbacks(&cfg)
	return &cfg, nil
}

func fromEnv() *Config {
	cfg := &Config{}
	cfg.Server.Port = getEnvOr("API_PORT", "3001")
	cfg.OpenAI.Model = getEnvOr("OPENAI_MODEL", "gpt-4o-mini")
	cfg.DB.Driver = getEnvOr("DB_DRIVER", "memory")
	cfg.DB.Host = getEnvOr("DB_HOST", "localhost")
	cfg.DB.Port = getEnvOr("DB_PORT", "5432")
	cfg.DB.User = getEnvOr("DB_USER", "postgres")
	cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
	cfg.DB.DBName = getEnvOr("DB_NAME", "arkana_bot")
	cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", "disable")
	cfg.DB.MaxOpenConns = 20
	cfg.DB.ConnLifetime = 5 * time.Minute
	cfg.ShutdownTimeout = 10 * time.Second
	applyEnvFallbacks(cfg)
	return cfg
}

// applyEnvFallbacks maps the flat .env names used in deployment onto the
// nested config, for values not already set.
func applyEnvFallbacks(cfg *Config) {
	setIfEmpty(&cfg.Telegram.Token, os.Getenv("BOT_TOKEN"))
	setIfEmpty(&cfg.Telegram.WebAppURL, os.Getenv("WEBAPP_URL"))
	setIfEmpty(&cfg.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY"))
	setIfEmpty(&cfg.OpenAI.BaseURL, strings.TrimRight(os.Getenv("OPENAI_BASE_URL"), "/"))
	setIfEmpty(&cfg.Payment.CardDescription, os.Getenv("PAYMENT_CARD_DESCRIPTION"))
	setIfEmpty(&cfg.Payment.SBPPhone, os.Getenv("PAYMENT_SBP_PHONE"))
	setIfEmpty(&cfg.Payment.ExternalURL, os.Getenv("EXTERNAL_PAYMENT_URL"))
	setIfEmpty(&cfg.Stripe.SecretKey, os.Getenv("STRIPE_SECRET_KEY"))
	setIfEmpty(&cfg.Stripe.WebhookKey, os.Getenv("STRIPE_WEBHOOK_KEY"))

	if !cfg.Dev.Enabled {
		cfg.Dev.Enabled = os.Getenv("APP_ENV") != "production"
	}
	if cfg.Dev.UserID == 0 {
		cfg.Dev.UserID = parseID(os.Getenv("DEV_USER_ID"))
	}
	if cfg.Telegram.AdminID == 0 {
		cfg.Telegram.AdminID = parseID(os.Getenv("ADMIN_ID"))
	}
	if cfg.Dev.UserID == 0 {
		cfg.Dev.UserID = cfg.Telegram.AdminID
	}
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = value
	}
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
