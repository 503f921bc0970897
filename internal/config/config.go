package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Admission AdmissionConfig `mapstructure:"admission"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type WebhookConfig struct {
	// Secret is the shared HMAC secret tokens are signed with. An empty
	// secret makes every submission fail with a 500 until configured.
	Secret      string `mapstructure:"secret"`
	MaxBodySize int64  `mapstructure:"max_body_size"`
}

type AdmissionConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MaxEvents int           `mapstructure:"max_events"`
	Window    time.Duration `mapstructure:"window"`
	// Backend selects the window store: "memory" or "redis".
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.max_body_size", 65536)
	v.SetDefault("admission.enabled", true)
	v.SetDefault("admission.max_events", 10)
	v.SetDefault("admission.window", "1m")
	v.SetDefault("admission.backend", "memory")
	v.SetDefault("admission.redis_url", "redis://localhost:6379")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "relay.events")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/relay")
	}

	// Environment variables override
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
