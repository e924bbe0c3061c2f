// Package config loads process configuration: built-in defaults, then an
// optional YAML file, then INTEL_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/cascade"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/tier"
)

const (
	EnvPrefix     = "INTEL_"
	ConfigFileEnv = "INTEL_CONFIG_FILE"
)

type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Kafka       KafkaConfig       `koanf:"kafka"`
	Engine      EngineConfig      `koanf:"engine"`
	Monitor     MonitorConfig     `koanf:"monitor"`
	Tiers       TiersConfig       `koanf:"tiers"`
	Batch       BatchConfig       `koanf:"batch"`
	Webhook     WebhookConfig     `koanf:"webhook"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Log         LogConfig         `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// URL empty runs against the in-memory store.
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
	Migrate  bool   `koanf:"migrate"`
}

type RedisConfig struct {
	// Addr empty keeps rate limits, idempotency keys and baselines in process.
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type KafkaConfig struct {
	Brokers       []string `koanf:"brokers"`
	TopicUpdates  string   `koanf:"topic_updates"`
	ConsumerGroup string   `koanf:"consumer_group"`
}

type EngineConfig struct {
	cascade.Params    `koanf:",squash"`
	DefaultWindowDays int `koanf:"default_window_days"`
}

type MonitorConfig struct {
	Interval      time.Duration `koanf:"interval"`
	CascadeDelta  float64       `koanf:"cascade_delta"`
	RiskThreshold float64       `koanf:"risk_threshold"`
	ScanInterval  time.Duration `koanf:"scan_interval"`
	ScanLimit     int           `koanf:"scan_limit"`
	EventBuffer   int           `koanf:"event_buffer"`
	// BaselineTTL bounds how long an idle baseline survives in the store.
	BaselineTTL time.Duration `koanf:"baseline_ttl"`
}

type TiersConfig struct {
	Free         contracts.UsageLimits `koanf:"free"`
	Professional contracts.UsageLimits `koanf:"professional"`
	Enterprise   contracts.UsageLimits `koanf:"enterprise"`
}

func (t TiersConfig) Catalog() tier.Catalog {
	return tier.Catalog{
		contracts.TierFree:         t.Free,
		contracts.TierProfessional: t.Professional,
		contracts.TierEnterprise:   t.Enterprise,
	}
}

type BatchConfig struct {
	MaxSize   int `koanf:"max_size"`
	ChunkSize int `koanf:"chunk_size"`
}

type WebhookConfig struct {
	Workers           int           `koanf:"workers"`
	QueueSize         int           `koanf:"queue_size"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxAttempts       int           `koanf:"max_attempts"`
	SigningSecret     string        `koanf:"signing_secret"`
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
}

type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	Rate    float64 `koanf:"rate"`
	Burst   int     `koanf:"burst"`
	MaxKeys int     `koanf:"max_keys"`
}

type IdempotencyConfig struct {
	Enabled    bool          `koanf:"enabled"`
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]any {
	p := cascade.DefaultParams()
	cat := tier.DefaultCatalog()
	return map[string]any{
		"http.addr":             ":8080",
		"http.read_timeout":     "10s",
		"http.write_timeout":    "0s",
		"http.shutdown_timeout": "10s",

		"database.url":       "",
		"database.max_conns": 10,
		"database.migrate":   true,

		"redis.addr": "",
		"redis.db":   0,

		"kafka.brokers":        []string{"localhost:19092"},
		"kafka.topic_updates":  "intel.updates",
		"kafka.consumer_group": "intel-webhooks",

		"engine.type_weight":         p.TypeWeight,
		"engine.temporal_weight":     p.TemporalWeight,
		"engine.entity_weight":       p.EntityWeight,
		"engine.relevance_floor":     p.RelevanceFloor,
		"engine.max_hops":            p.MaxHops,
		"engine.hop_decay":           p.HopDecay,
		"engine.chain_threshold":     p.ChainThreshold,
		"engine.default_window_days": 30,

		"monitor.interval":       "30s",
		"monitor.cascade_delta":  5.0,
		"monitor.risk_threshold": 80.0,
		"monitor.scan_interval":  "60s",
		"monitor.scan_limit":     20,
		"monitor.event_buffer":   32,
		"monitor.baseline_ttl":   "24h",

		"tiers.free.analyses_per_month":           cat[contracts.TierFree].AnalysesPerMonth,
		"tiers.free.max_time_window_days":         cat[contracts.TierFree].MaxTimeWindowDays,
		"tiers.professional.analyses_per_month":   cat[contracts.TierProfessional].AnalysesPerMonth,
		"tiers.professional.max_time_window_days": cat[contracts.TierProfessional].MaxTimeWindowDays,
		"tiers.enterprise.analyses_per_month":     cat[contracts.TierEnterprise].AnalysesPerMonth,
		"tiers.enterprise.max_time_window_days":   cat[contracts.TierEnterprise].MaxTimeWindowDays,

		"batch.max_size":   50,
		"batch.chunk_size": 10,

		"webhook.workers":            4,
		"webhook.queue_size":         1000,
		"webhook.timeout":            "10s",
		"webhook.max_attempts":       3,
		"webhook.signing_secret":     "",
		"webhook.reconcile_interval": "30s",

		"ratelimit.enabled":  true,
		"ratelimit.rate":     5.0,
		"ratelimit.burst":    20,
		"ratelimit.max_keys": 10000,

		"idempotency.enabled":     true,
		"idempotency.ttl":         "24h",
		"idempotency.max_entries": 10000,

		"log.level":  "info",
		"log.format": "json",
	}
}

// Load reads the file named by INTEL_CONFIG_FILE, if any.
func Load() (Config, error) {
	return LoadFile(strings.TrimSpace(os.Getenv(ConfigFileEnv)))
}

// LoadFile layers defaults, the YAML file at path (skipped when empty) and
// the environment. INTEL_MONITOR__RISK_THRESHOLD sets monitor.risk_threshold.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %q: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Engine.Params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Engine.DefaultWindowDays <= 0 {
		errs = append(errs, errors.New("engine: default window must be positive"))
	}
	if err := c.Tiers.Catalog().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tiers: %w", err))
	}
	if c.Monitor.Interval <= 0 || c.Monitor.ScanInterval <= 0 {
		errs = append(errs, errors.New("monitor: intervals must be positive"))
	}
	if c.Monitor.CascadeDelta < 0 {
		errs = append(errs, errors.New("monitor: cascade delta must be non-negative"))
	}
	if c.Monitor.RiskThreshold < 0 || c.Monitor.RiskThreshold > 100 {
		errs = append(errs, errors.New("monitor: risk threshold must be in [0,100]"))
	}
	if c.Monitor.ScanLimit <= 0 {
		errs = append(errs, errors.New("monitor: scan limit must be positive"))
	}
	if c.Batch.MaxSize <= 0 || c.Batch.ChunkSize <= 0 {
		errs = append(errs, errors.New("batch: sizes must be positive"))
	}
	if c.Webhook.Workers <= 0 || c.Webhook.MaxAttempts <= 0 {
		errs = append(errs, errors.New("webhook: workers and max attempts must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit: rate and burst must be positive"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka: at least one broker is required"))
	}
	return errors.Join(errs...)
}
