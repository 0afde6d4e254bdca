package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Store      StoreConfig      `mapstructure:"store" validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Broker     BrokerConfig     `mapstructure:"broker" validate:"required"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Worker     WorkerConfig     `mapstructure:"worker" validate:"required"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Files      FilesConfig      `mapstructure:"files" validate:"required"`
	Processing ProcessingConfig `mapstructure:"processing" validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	// MaxImagePixels caps width*height of an upload, checked before decoding.
	MaxImagePixels int64 `mapstructure:"max_image_pixels" validate:"gt=0"`
}

// StoreConfig selects and tunes the task store.
type StoreConfig struct {
	Backend   string        `mapstructure:"backend" validate:"required,oneof=redis postgres memory"`
	KeyPrefix string        `mapstructure:"key_prefix" validate:"required"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
	// Fallback enables the process-local store used while the shared store is unreachable.
	Fallback bool `mapstructure:"fallback"`
}

// RedisConfig contains the Redis connection settings shared by the store and broker.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr" validate:"required,hostname_port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0"`
	PoolSize    int           `mapstructure:"pool_size" validate:"gte=0"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// BrokerConfig selects the queue broker.
type BrokerConfig struct {
	Backend     string `mapstructure:"backend" validate:"required,oneof=redis memory nats kafka"`
	QueuePrefix string `mapstructure:"queue_prefix" validate:"required"`
}

// NATSConfig contains the NATS connection settings.
type NATSConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// KafkaConfig contains the Kafka connection settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" validate:"dive,hostname_port"`
	GroupID string   `mapstructure:"group_id"`
}

// WorkerConfig tunes the worker pool.
type WorkerConfig struct {
	Count             int           `mapstructure:"count" validate:"gte=1"`
	PopTimeout        time.Duration `mapstructure:"pop_timeout" validate:"gt=0"`
	IdleSleep         time.Duration `mapstructure:"idle_sleep" validate:"gt=0"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff" validate:"gt=0"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout" validate:"gt=0"`
	// Embedded runs a worker pool inside the gateway process.
	Embedded bool `mapstructure:"embedded"`
	// HealthPort is the listen port of the standalone worker's health endpoint.
	HealthPort int `mapstructure:"health_port" validate:"gt=0,lt=65536"`
}

// GatewayConfig tunes the request gateway.
type GatewayConfig struct {
	// InlineFallback lets a poll on a queued task execute it in the gateway process.
	InlineFallback bool `mapstructure:"inline_fallback"`
	// StaleGrace is added to the processing timeout before a poll force-fails
	// a task stuck in processing.
	StaleGrace time.Duration `mapstructure:"stale_grace" validate:"gte=0"`
}

// FilesConfig locates the artifact directories.
type FilesConfig struct {
	UploadDir string `mapstructure:"upload_dir" validate:"required"`
	OutputDir string `mapstructure:"output_dir" validate:"required"`
}

// ProcessingConfig selects the image processing backends.
type ProcessingConfig struct {
	Renderer      string  `mapstructure:"renderer" validate:"required,oneof=local gemini"`
	UpscaleFactor float64 `mapstructure:"upscale_factor" validate:"gte=1,lte=4"`
	DenoiseSigma  float64 `mapstructure:"denoise_sigma" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
	// MaxRetries is the number of retries after a transient API failure.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	// RetryDelaySeconds is the base delay of the exponential backoff.
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds" validate:"gte=1"`
}
