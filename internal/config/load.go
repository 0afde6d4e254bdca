package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "VISTA"

// setDefaults registers a default for every key, which also makes the key
// visible to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 20<<20)
	v.SetDefault("server.max_image_pixels", 40_000_000)

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.key_prefix", "task_storage:")
	v.SetDefault("store.ttl", "1h")
	v.SetDefault("store.fallback", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("database.url", "")

	v.SetDefault("broker.backend", "redis")
	v.SetDefault("broker.queue_prefix", "task_queue:")

	v.SetDefault("nats.url", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_id", "vista-workers")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.pop_timeout", "1s")
	v.SetDefault("worker.idle_sleep", "500ms")
	v.SetDefault("worker.reconnect_backoff", "5s")
	v.SetDefault("worker.processing_timeout", "10m")
	v.SetDefault("worker.embedded", false)
	v.SetDefault("worker.health_port", 8001)

	v.SetDefault("gateway.inline_fallback", true)
	v.SetDefault("gateway.stale_grace", "1m")

	v.SetDefault("files.upload_dir", "uploads")
	v.SetDefault("files.output_dir", "output")

	v.SetDefault("processing.renderer", "local")
	v.SetDefault("processing.upscale_factor", 2.0)
	v.SetDefault("processing.denoise_sigma", 0.8)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)
}

// Load configuration from environment variables and optionally config files.
// Environment variables (VISTA_SERVER_PORT, VISTA_STORE_BACKEND, ...) take
// precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vista")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the settings that depend on the selected backends.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	switch {
	case cfg.Store.Backend == "postgres" && cfg.Database.URL == "":
		return fmt.Errorf("config validation failed: database.url is required for the postgres store")
	case cfg.Broker.Backend == "nats" && cfg.NATS.URL == "":
		return fmt.Errorf("config validation failed: nats.url is required for the nats broker")
	case cfg.Broker.Backend == "kafka" && len(cfg.Kafka.Brokers) == 0:
		return fmt.Errorf("config validation failed: kafka.brokers is required for the kafka broker")
	case cfg.Processing.Renderer == "gemini" && cfg.LLM.GeminiAPIKey == "":
		return fmt.Errorf("config validation failed: llm.gemini_api_key is required for the gemini renderer")
	}

	return nil
}
