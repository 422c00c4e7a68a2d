package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	AI        AIConfig        `mapstructure:"ai"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `mapstructure:"host"` // default: "0.0.0.0"
	Port int    `mapstructure:"port"` // default: 8080
	Mode string `mapstructure:"mode"` // "debug", "release", "test"; default: "release"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // default: 5s
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless"` // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int `mapstructure:"max_pages"` // default: 10

	DefaultProxy string `mapstructure:"proxy"`

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `mapstructure:"no_sandbox"`

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `mapstructure:"bin"`
}

// EngineConfig controls the multi-engine racing dispatcher.
type EngineConfig struct {
	// Engines lists the enabled engines in escalation order.
	// Known names: "http", "rod", "rod-stealth", "chromedp".
	Engines []string `mapstructure:"engines"` // default: [http, rod, rod-stealth]

	// EscalationDelays is the staged start delay for each engine.
	EscalationDelays []time.Duration `mapstructure:"escalation_delays"` // default: [0s, 2s, 5s]

	// DomainMemoryTTL is how long a winning engine is remembered per domain.
	DomainMemoryTTL time.Duration `mapstructure:"domain_memory_ttl"` // default: 1h
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	// Backend is "memory", "redis" or "memcached".
	Backend string `mapstructure:"backend"` // default: "memory"

	MaxEntries    int           `mapstructure:"max_entries"`    // default: 1000
	TTL           time.Duration `mapstructure:"ttl"`            // default: 60s
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // default: 60s

	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db"`
	MemcachedServers string `mapstructure:"memcached_servers"`
}

// RetryConfig controls fetch retries.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"` // default: 3
	Initial    time.Duration `mapstructure:"initial"`     // default: 1s
	Multiplier float64       `mapstructure:"multiplier"`  // default: 2
	Max        time.Duration `mapstructure:"max"`         // default: 30s
}

// WebhookConfig controls asynchronous delivery.
type WebhookConfig struct {
	Workers     int           `mapstructure:"workers"`      // default: 4
	QueueSize   int           `mapstructure:"queue_size"`   // default: 256
	MaxAttempts int           `mapstructure:"max_attempts"` // default: 3
	Initial     time.Duration `mapstructure:"initial"`      // default: 1s
	Multiplier  float64       `mapstructure:"multiplier"`   // default: 5
	Max         time.Duration `mapstructure:"max"`          // default: 30s
	Timeout     time.Duration `mapstructure:"timeout"`      // default: 10s
}

// TasksConfig controls the async task registry.
type TasksConfig struct {
	Retention     time.Duration `mapstructure:"retention"`      // default: 1h
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // default: 60s
	MaxConcurrent int           `mapstructure:"max_concurrent"` // default: 16
}

// ExtractConfig controls the extraction dispatcher.
type ExtractConfig struct {
	// Concurrency bounds how many categories run at once per page.
	Concurrency int `mapstructure:"concurrency"` // default: 4
}

// AIConfig selects the AI analyzer backend.
type AIConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint), "anthropic",
	// or empty to disable AI extraction.
	Provider  string        `mapstructure:"provider"`
	BaseURL   string        `mapstructure:"base_url"` // empty uses the provider default
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`      // empty uses the provider default
	MaxTokens int           `mapstructure:"max_tokens"` // default: 1024
	Timeout   time.Duration `mapstructure:"timeout"`    // default: 60s

	// MaxInputChars truncates page text sent to the model.
	MaxInputChars int `mapstructure:"max_input_chars"` // default: 48000
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"` // default: true
	APIKeys []string `mapstructure:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"rps"`   // default: 5
	Burst             int     `mapstructure:"burst"` // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // default: "info"
	Format string `mapstructure:"format"` // "json" or "text"; default: "json"
}

// EnvPrefix prefixes every environment override, e.g. SCRAPEFLOW_SERVER_PORT.
const EnvPrefix = "SCRAPEFLOW"

// Load reads config.yaml from the working directory when present and
// applies SCRAPEFLOW_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return load(v)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_pages", 10)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.bin", "")

	v.SetDefault("engine.engines", []string{"http", "rod", "rod-stealth"})
	v.SetDefault("engine.escalation_delays", []time.Duration{0, 2 * time.Second, 5 * time.Second})
	v.SetDefault("engine.domain_memory_ttl", time.Hour)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.ttl", 60*time.Second)
	v.SetDefault("cache.sweep_interval", 60*time.Second)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.memcached_servers", "localhost:11211")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial", time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max", 30*time.Second)

	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_size", 256)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial", time.Second)
	v.SetDefault("webhook.multiplier", 5.0)
	v.SetDefault("webhook.max", 30*time.Second)
	v.SetDefault("webhook.timeout", 10*time.Second)

	v.SetDefault("tasks.retention", time.Hour)
	v.SetDefault("tasks.sweep_interval", 60*time.Second)
	v.SetDefault("tasks.max_concurrent", 16)

	v.SetDefault("extract.concurrency", 4)

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("ai.max_input_chars", 48000)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
