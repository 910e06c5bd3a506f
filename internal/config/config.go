package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	OpenAIAPIKey  string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel   string        `mapstructure:"OPENAI_MODEL"`
	AITimeout     time.Duration `mapstructure:"AI_TIMEOUT"`
	AITemperature float64       `mapstructure:"AI_TEMPERATURE"`

	FollowupMinLength int `mapstructure:"FOLLOWUP_MIN_LENGTH"`

	DBLockTimeout   time.Duration `mapstructure:"DB_LOCK_TIMEOUT"`
	DBRetryAttempts int           `mapstructure:"DB_RETRY_ATTEMPTS"`
	DBRetryBackoff  time.Duration `mapstructure:"DB_RETRY_BACKOFF"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`

	SlackBotToken string `mapstructure:"SLACK_BOT_TOKEN"`
	SlackChannel  string `mapstructure:"SLACK_CHANNEL"`
}

var keys = []string{
	"ENV", "PORT", "DATABASE_URL", "CORS_ALLOWED_ORIGINS", "REQUEST_TIMEOUT", "LOG_LEVEL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "AI_TIMEOUT", "AI_TEMPERATURE",
	"FOLLOWUP_MIN_LENGTH", "DB_LOCK_TIMEOUT", "DB_RETRY_ATTEMPTS", "DB_RETRY_BACKOFF",
	"REDIS_URL", "CACHE_TTL", "SLACK_BOT_TOKEN", "SLACK_CHANNEL",
}

// Load reads configuration from .env in the working directory, overridden by
// process environment variables.
func Load() (Config, error) {
	return LoadFile(".env")
}

func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "5000")
	v.SetDefault("DATABASE_URL", "sqlite://tickets.db")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("OPENAI_MODEL", "gpt-4.1-mini")
	v.SetDefault("AI_TIMEOUT", "45s")
	v.SetDefault("AI_TEMPERATURE", 0.2)
	v.SetDefault("FOLLOWUP_MIN_LENGTH", 300)
	v.SetDefault("DB_LOCK_TIMEOUT", "5s")
	v.SetDefault("DB_RETRY_ATTEMPTS", 3)
	v.SetDefault("DB_RETRY_BACKOFF", "100ms")
	v.SetDefault("CACHE_TTL", "30s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
