// Package config loads missionflow settings from an optional YAML file and
// MISSIONFLOW_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MISSIONFLOW_LLM_MODEL.
const EnvPrefix = "MISSIONFLOW"

type Config struct {
	DatabaseURL      string        `mapstructure:"database_url"`
	EventBus         string        `mapstructure:"event_bus"`
	LogLevel         string        `mapstructure:"log_level"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	StorePayloads    bool          `mapstructure:"store_payloads"`

	LLM      LLMConfig      `mapstructure:"llm"`
	KB       KBConfig       `mapstructure:"kb"`
	Missions MissionsConfig `mapstructure:"missions"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	OTel     OTelConfig     `mapstructure:"otel"`
}

type LLMConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type KBConfig struct {
	Root string `mapstructure:"root"`
}

type MissionsConfig struct {
	Dir string `mapstructure:"dir"`
}

// BackendConfig selects where task, deadline and draft actions land.
type BackendConfig struct {
	Type           string            `mapstructure:"type"`
	Dir            string            `mapstructure:"dir"`
	BaseURL        string            `mapstructure:"base_url"`
	Headers        map[string]string `mapstructure:"headers"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	RetryAttempts  int               `mapstructure:"retry_attempts"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Queue    string `mapstructure:"queue"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type OTelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "./data/missionflow.db")
	v.SetDefault("event_bus", "gochannel")
	v.SetDefault("log_level", "info")
	v.SetDefault("tick_interval", "15s")
	v.SetDefault("failure_threshold", 5)
	v.SetDefault("store_payloads", false)
	v.SetDefault("llm.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("kb.root", "./kb")
	v.SetDefault("missions.dir", "")
	v.SetDefault("backend.type", "file")
	v.SetDefault("backend.dir", "./data/actions")
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("backend.retry_attempts", 3)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "missionflow")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.queue", "missionflow:domain-events")
	v.SetDefault("http.port", 9091)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "missionflow")
}

// Load reads path when it is not empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.EventBus {
	case "gochannel", "kafka":
	default:
		return fmt.Errorf("%w: unsupported event_bus %q", ErrInvalidConfig, c.EventBus)
	}

	switch c.Backend.Type {
	case "file", "http":
	default:
		return fmt.Errorf("%w: unsupported backend.type %q", ErrInvalidConfig, c.Backend.Type)
	}

	if c.Backend.Type == "http" && c.Backend.BaseURL == "" {
		return fmt.Errorf("%w: backend.base_url is required for the http backend", ErrInvalidConfig)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	}

	if c.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure_threshold must be positive", ErrInvalidConfig)
	}

	return nil
}
