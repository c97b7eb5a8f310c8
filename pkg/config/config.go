package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Zilliz    ZillizConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Sync      SyncConfig
	Assistant AssistantConfig
	External  ExternalConfig
	NATS      NATSConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	ReadTimeout      int
	WriteTimeout     int
	BodyLimit        int
	MaxMessageLength int
	AllowedOrigins   []string
	Development      bool
}

type SQLiteConfig struct {
	Path string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL int
}

type LLMConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	ClassifierModel string
	EmbeddingModel  string
	Temperature     float32
	MaxTokens       int
	TimeoutSec      int
}

type SyncConfig struct {
	DebounceSec    int
	BatchSize      int
	MaxAttempts    int
	CreateDelaySec int
	OnStartup      bool
}

type AssistantConfig struct {
	SearchTopK     int
	PageSize       int
	DefaultCity    string
	NamedayCountry string
	Timezone       string
}

type ExternalConfig struct {
	GeocodingURL string
	WeatherURL   string
	NamedayURL   string
	TimeoutSec   int
}

type NATSConfig struct {
	Enabled        bool
	URL            string
	ChangeSubject  string
	RequestSubject string
	QueueGroup     string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (s SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceSec) * time.Second
}

func (s SyncConfig) CreateDelay() time.Duration {
	return time.Duration(s.CreateDelaySec) * time.Second
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.EmbeddingTTL) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/trackbot")

	v.SetEnvPrefix("TRACKBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Zilliz.VectorDim <= 0 {
		return fmt.Errorf("invalid config: zilliz.vectorDim must be positive, got %d", c.Zilliz.VectorDim)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("invalid config: sync.batchSize must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("invalid config: sync.maxAttempts must be positive, got %d", c.Sync.MaxAttempts)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxMessageLength", 2000)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/tracker.db")

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "project_items")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", 86400)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.classifierModel", "gpt-4o-mini")
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("sync.debounceSec", 30)
	v.SetDefault("sync.batchSize", 100)
	v.SetDefault("sync.maxAttempts", 5)
	v.SetDefault("sync.createDelaySec", 2)
	v.SetDefault("sync.onStartup", false)

	v.SetDefault("assistant.searchTopK", 5)
	v.SetDefault("assistant.pageSize", 100)
	v.SetDefault("assistant.defaultCity", "Prague")
	v.SetDefault("assistant.namedayCountry", "cz")
	v.SetDefault("assistant.timezone", "Europe/Prague")

	v.SetDefault("external.geocodingURL", "https://geocoding-api.open-meteo.com/v1/search")
	v.SetDefault("external.weatherURL", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("external.namedayURL", "https://nameday.abalin.net/api/V1/today")
	v.SetDefault("external.timeoutSec", 10)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.changeSubject", "tracker.changes")
	v.SetDefault("nats.requestSubject", "assistant.messages")
	v.SetDefault("nats.queueGroup", "trackbot")

	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
