package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the runtime configuration of the backend.
type Config struct {
	Environment    string        `mapstructure:"environment"`
	HTTPAddr       string        `mapstructure:"http_addr"`
	DatabaseURL    string        `mapstructure:"database_url"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	UploadDir      string        `mapstructure:"upload_dir"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	Log   LogConfig   `mapstructure:"log"`
	Redis RedisConfig `mapstructure:"redis"`
	AI    AIConfig    `mapstructure:"ai"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type AIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

const devJWTSecret = "your_secret_key_please_change_in_production"

// loadConfig reads config.yaml (optional), a .env file (optional) and the
// environment, in increasing order of precedence.
func loadConfig(paths ...string) (*Config, error) {
	for _, p := range []string{".env", "../.env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	applyDefaults(v)

	_ = v.BindEnv("environment", "APP_ENV", "GO_ENV")
	_ = v.BindEnv("http_addr", "HTTP_ADDR")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR", "REDIS_URL")
	_ = v.BindEnv("ai.api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY", "AI_API_KEY")
	_ = v.BindEnv("ai.model", "GEMINI_MODEL", "AI_MODEL")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("database_url", "user=admin password=password dbname=loveai sslmode=disable")
	v.SetDefault("jwt_secret", devJWTSecret)
	v.SetDefault("token_ttl", 7*24*time.Hour)
	v.SetDefault("upload_dir", "./uploads")
	v.SetDefault("allowed_origins", []string{
		"http://localhost:5173", "http://127.0.0.1:5173",
		"http://localhost:3000", "http://127.0.0.1:3000",
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", time.Hour)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.timeout", 20*time.Second)
}

func validateConfig(cfg *Config) error {
	if cfg.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("database_url is required")
	}
	if cfg.Environment == "production" && (cfg.JWTSecret == devJWTSecret || len(cfg.JWTSecret) < 32) {
		return errors.New("jwt_secret must be set to at least 32 characters in production")
	}
	return nil
}
