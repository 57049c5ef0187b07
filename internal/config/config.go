package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
    instance *Config
    once     sync.Once
)

// Config represents the complete proxy configuration
// Aggregates all component configurations for centralized management
// DefaultConfig is always the baseline; an optional YAML file may override
// any field it names, the cache/pool/limits constants included
type Config struct {
    Server    ServerConfig    `yaml:"server" json:"server"`
    Cache     CacheConfig     `yaml:"cache" json:"cache"`
    Pool      PoolConfig      `yaml:"pool" json:"pool"`
    Limits    LimitsConfig    `yaml:"limits" json:"limits"`
    RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
    Stats     StatsConfig     `yaml:"stats" json:"stats"`
    Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
    Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
}

// ServerConfig defines the listening port for the forward proxy
// Always set from the single positional CLI argument, not the config file
type ServerConfig struct {
    Port int `yaml:"port" json:"port"`
}

// CacheConfig defines the in-memory LRU response cache bounds
type CacheConfig struct {
    MaxCacheSize  int `yaml:"maxCacheSize" json:"maxCacheSize" default:"1049000"`
    MaxObjectSize int `yaml:"maxObjectSize" json:"maxObjectSize" default:"102400"`
}

// PoolConfig defines the worker pool and connection queue sizing
type PoolConfig struct {
    Workers       int `yaml:"workers" json:"workers" default:"4"`
    QueueCapacity int `yaml:"queueCapacity" json:"queueCapacity" default:"16"`
}

// LimitsConfig bounds request/header line lengths
type LimitsConfig struct {
    MaxLine int `yaml:"maxLine" json:"maxLine" default:"8192"`
}

// RateLimitConfig defines per-client connection admission control
// A non-positive Capacity disables limiting entirely
type RateLimitConfig struct {
    Enabled    bool `yaml:"enabled" json:"enabled" default:"false"`
    Capacity   int  `yaml:"capacity" json:"capacity" default:"100"`
    RefillRate int  `yaml:"refillRate" json:"refillRate" default:"20"`
}

// StatsConfig controls the periodic cache-stats sampler cadence
type StatsConfig struct {
    Interval time.Duration `yaml:"interval" json:"interval" default:"30s"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint
type MetricsConfig struct {
    Enabled bool   `yaml:"enabled" json:"enabled" default:"false"`
    Addr    string `yaml:"addr" json:"addr" default:":9090"`
}

// TracingConfig defines OpenTelemetry tracing configuration
// Controls distributed tracing and observability
type TracingConfig struct {
    Enabled        bool    `yaml:"enabled" json:"enabled" default:"false"`
    ServiceName    string  `yaml:"serviceName" json:"serviceName" default:"cacheproxy"`
    ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion" default:"1.0.0"`
    Environment    string  `yaml:"environment" json:"environment" default:"development"`
    JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
    OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
    SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio" default:"0.1"`
}

// DefaultConfig returns configuration with the proxy's default constants.
// This is always the baseline; file overrides start from it
func DefaultConfig() *Config {
    return &Config{
        Server: ServerConfig{
            Port: 9999,
        },
        Cache: CacheConfig{
            MaxCacheSize:  1049000,
            MaxObjectSize: 102400,
        },
        Pool: PoolConfig{
            Workers:       4,
            QueueCapacity: 16,
        },
        Limits: LimitsConfig{
            MaxLine: 8192,
        },
        RateLimit: RateLimitConfig{
            Enabled:    false,
            Capacity:   100,
            RefillRate: 20,
        },
        Stats: StatsConfig{
            Interval: 30 * time.Second,
        },
        Metrics: MetricsConfig{
            Enabled: false,
            Addr:    ":9090",
        },
        Tracing: TracingConfig{
            Enabled:        false,
            ServiceName:    "cacheproxy",
            ServiceVersion: "1.0.0",
            Environment:    "development",
            SamplingRatio:  0.1,
        },
    }
}

// GetInstance returns the singleton config instance
// Uses sync.Once to ensure thread-safe lazy initialisation
func GetInstance() *Config {
    once.Do(func() {
        instance = DefaultConfig()
    })
    return instance
}

// LoadConfig loads overrides from an optional YAML file and installs the
// result as the singleton instance. It only takes effect if the singleton
// has not been initialised yet; after GetInstance has run, the loaded
// config is discarded. A missing file is not an error: the proxy's one
// required input is the port, supplied separately via SetPort
func LoadConfig(path string) error {
    cfg, err := loadFromFile(path)
    if err != nil {
        return err
    }

    once.Do(func() {
        instance = cfg
    })
    return nil
}

// SetPort overrides the singleton's listening port
// Called once at startup with the CLI's positional port argument, which
// always wins over any config file value
func SetPort(port int) {
    GetInstance().Server.Port = port
}

// loadFromFile reads optional ambient configuration from a YAML file
// A missing file falls back silently to DefaultConfig; a malformed file
// that does exist is reported as an error
func loadFromFile(path string) (*Config, error) {
    cfg := DefaultConfig()

    data, err := os.ReadFile(path)
    if err != nil {
        if os.IsNotExist(err) {
            return cfg, nil
        }
        return nil, err
    }

    if err := yaml.Unmarshal(data, cfg); err != nil {
        return nil, err
    }

    return cfg, nil
}
