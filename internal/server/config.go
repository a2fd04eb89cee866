// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat relay.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "CHAT"
	configFileName = "chat"
)

// RateLimitConfig defines the parameters for per-session message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refillInterval"`
}

// Config holds the server configuration settings.
type Config struct {
	Port            string          `mapstructure:"port"`
	MetricsPath     string          `mapstructure:"metricsPath"`
	AllowedOrigins  []string        `mapstructure:"allowedOrigins"`
	MaxMessageSize  int64           `mapstructure:"maxMessageSize"`
	SendBufferSize  int             `mapstructure:"sendBufferSize"`
	DefaultRoom     string          `mapstructure:"defaultRoom"`
	RateLimit       RateLimitConfig `mapstructure:"rateLimit"`
	PingInterval    time.Duration   `mapstructure:"pingInterval"`
	PongTimeout     time.Duration   `mapstructure:"pongTimeout"`
	WriteTimeout    time.Duration   `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdownTimeout"`
	LogLevel        string          `mapstructure:"logLevel"`
}

func defaultConfig() Config {
	return Config{
		Port:        ":8080",
		MetricsPath: "/metrics",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 8192,
		SendBufferSize: 256,
		DefaultRoom:    "Général",
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		PingInterval:    54 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig()

	v.SetDefault("port", d.Port)
	v.SetDefault("metricsPath", d.MetricsPath)
	v.SetDefault("allowedOrigins", d.AllowedOrigins)
	v.SetDefault("maxMessageSize", d.MaxMessageSize)
	v.SetDefault("sendBufferSize", d.SendBufferSize)
	v.SetDefault("defaultRoom", d.DefaultRoom)

	v.SetDefault("rateLimit.burst", d.RateLimit.Burst)
	v.SetDefault("rateLimit.refillInterval", d.RateLimit.RefillInterval)

	v.SetDefault("pingInterval", d.PingInterval)
	v.SetDefault("pongTimeout", d.PongTimeout)
	v.SetDefault("writeTimeout", d.WriteTimeout)
	v.SetDefault("shutdownTimeout", d.ShutdownTimeout)
	v.SetDefault("logLevel", d.LogLevel)
}

// LoadConfig builds a Config from defaults, an optional YAML file and CHAT_*
// environment variables, in increasing order of precedence. An empty path
// looks for chat.yaml in the working directory and tolerates its absence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file error: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings that cannot be repaired by falling back to defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DefaultRoom) == "" {
		return errors.New("default room must not be empty")
	}
	if strings.ContainsAny(c.DefaultRoom, "[]") {
		return errors.New("default room must not contain brackets")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size must not be negative")
	}
	if c.PingInterval > 0 && c.PongTimeout > 0 && c.PingInterval >= c.PongTimeout {
		return errors.New("ping interval should be less than pong timeout")
	}
	return nil
}

// sanitized returns a copy of c with every unset or invalid field replaced by
// its default.
func (c Config) sanitized() Config {
	d := defaultConfig()

	if c.Port == "" {
		c.Port = d.Port
	}
	if c.MetricsPath == "" {
		c.MetricsPath = d.MetricsPath
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if strings.TrimSpace(c.DefaultRoom) == "" {
		c.DefaultRoom = d.DefaultRoom
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = d.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = c.PingInterval + c.PingInterval/9
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

func parseOrigins(origins []string) []string {
	parts := make([]string, 0, len(origins))
	for _, o := range origins {
		for _, p := range strings.Split(o, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	return parts
}
