package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	WebhookSecret  string        `mapstructure:"ROUNDED_WEBHOOK_SECRET"`
	AIBaseURL      string        `mapstructure:"AI_BASE_URL"`
	AIAPIKey       string        `mapstructure:"AI_API_KEY"`
	AIModel        string        `mapstructure:"AI_MODEL"`
	AITimeout      time.Duration `mapstructure:"AI_TIMEOUT"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	// Empty defaults so AutomaticEnv can populate these during Unmarshal.
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("ROUNDED_WEBHOOK_SECRET", "")
	v.SetDefault("AI_BASE_URL", "")
	v.SetDefault("AI_API_KEY", "")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_TIMEOUT", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
