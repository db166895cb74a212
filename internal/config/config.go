// Package config resolves runtime settings once at startup from an optional
// .env file, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Predict  PredictConfig  `mapstructure:"predict"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LogLevel string         `mapstructure:"log_level"`
}

// PredictConfig locates the prediction backend. A zero Timeout means the
// upload never times out.
type PredictConfig struct {
	BaseURL string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ResultTTL       time.Duration `mapstructure:"result_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig enables submission metrics when DSN is set.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

// env maps each key to the variable that overrides it.
var env = map[string]string{
	"predict.api_url":         "PREDICT_API_URL",
	"predict.timeout":         "PREDICT_TIMEOUT",
	"server.addr":             "HTTP_ADDR",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"server.result_ttl":       "RESULT_TTL",
	"redis.addr":              "REDIS_ADDR",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"database.dsn":            "DATABASE_DSN",
	"auth.jwt_secret":         "JWT_SECRET",
	"auth.jwt_audience":       "JWT_AUDIENCE",
	"log_level":               "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("predict.api_url", "http://localhost:5000")
	v.SetDefault("predict.timeout", "0s")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.result_ttl", "15m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("log_level", "info")
}

// Load reads .env (if present), then configFile (if non-empty), then the
// environment. Later sources win.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}
	return load(viper.New(), configFile)
}

func load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s failed: %w", name, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	cfg.Predict.BaseURL = strings.TrimSpace(cfg.Predict.BaseURL)
	return &cfg, nil
}

// Validate checks the settings every entrypoint depends on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Predict.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("predict api url %q is not an absolute url", c.Predict.BaseURL)
	}
	if c.Predict.Timeout < 0 {
		return errors.New("predict timeout must not be negative")
	}
	return nil
}

// ValidateServer additionally checks what the web server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Redis.Addr == "" {
		return errors.New("redis addr is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("jwt secret is required")
	}
	if c.Server.ResultTTL <= 0 {
		return errors.New("result ttl must be positive")
	}
	return nil
}
