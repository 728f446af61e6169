package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Redis struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"redis"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Geo struct {
		MaxMindPath   string `mapstructure:"maxmind_path"`
		DatasetPath   string `mapstructure:"dataset_path"`
		CacheTTLHours int    `mapstructure:"cache_ttl_hours"`
	} `mapstructure:"geo"`

	Reputation struct {
		DatasetPath string `mapstructure:"dataset_path"`
	} `mapstructure:"reputation"`

	RateLimit struct {
		Requests      int `mapstructure:"requests"`
		WindowSeconds int `mapstructure:"window_seconds"`
	} `mapstructure:"rate_limit"`

	DecisionCache struct {
		TTLSeconds int `mapstructure:"ttl_seconds"`
	} `mapstructure:"decision_cache"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
	if c.Redis.Addr == "" { c.Redis.Addr = "localhost:6379" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Geo.CacheTTLHours <= 0 { c.Geo.CacheTTLHours = 24 }
	if c.RateLimit.Requests <= 0 { c.RateLimit.Requests = 120 }
	if c.RateLimit.WindowSeconds <= 0 { c.RateLimit.WindowSeconds = 60 }
	if c.DecisionCache.TTLSeconds <= 0 { c.DecisionCache.TTLSeconds = 60 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) GeoCacheTTL() time.Duration { return time.Duration(c.Geo.CacheTTLHours) * time.Hour }

func (c Config) RateWindow() time.Duration { return time.Duration(c.RateLimit.WindowSeconds) * time.Second }

func (c Config) DecisionTTL() time.Duration { return time.Duration(c.DecisionCache.TTLSeconds) * time.Second }
