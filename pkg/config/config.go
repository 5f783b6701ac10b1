// Package config loads and validates pipeline configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// stage (Pairs, Align, Cluster, Quotes) and for the optional Kafka transport,
// Redis cache, logging, and metrics subsystems. Command-line flags take
// precedence over everything here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Pairs   PairsConfig   `yaml:"pairs"`
	Align   AlignConfig   `yaml:"align"`
	Cluster ClusterConfig `yaml:"cluster"`
	Quotes  QuotesConfig  `yaml:"quotes"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// PairsConfig controls candidate pair enumeration over an index part.
type PairsConfig struct {
	MaxSeries  int     `yaml:"maxSeries"`
	MaxDF      int     `yaml:"maxDf"`
	ModP       int     `yaml:"modp"`
	ModRec     int     `yaml:"modrec"`
	Step       int     `yaml:"step"`
	Stride     int     `yaml:"stride"`
	WordLength float64 `yaml:"wordLength"`
	StopFile   string  `yaml:"stopFile"`
	SeriesMap  string  `yaml:"seriesMap"`
	Shards     int     `yaml:"shards"`
}

// Upper returns the cross-count ceiling implied by MaxSeries.
func (p PairsConfig) Upper() int {
	return p.MaxSeries * (p.MaxSeries - 1) / 2
}

// AlignConfig controls passage discovery and local alignment.
type AlignConfig struct {
	Ngram      int     `yaml:"ngram"`
	MinMatches int     `yaml:"minMatches"`
	MaxGap     int     `yaml:"maxGap"`
	MinDensity float64 `yaml:"minDensity"`
	GapOpen    float64 `yaml:"gapOpen"`
	GapExtend  float64 `yaml:"gapExtend"`
}

// ClusterConfig controls single-link clustering of alignment records.
type ClusterConfig struct {
	MinOverlap      int     `yaml:"minOverlap"`
	RelativeOverlap float64 `yaml:"relativeOverlap"`
	MaxProportion   float64 `yaml:"maxProportion"`
	MaxRepeats      int     `yaml:"maxRepeats"`
}

// QuotesConfig controls reference-text quote hunting.
type QuotesConfig struct {
	Gram        int     `yaml:"gram"`
	MaxCount    int     `yaml:"maxCount"`
	MaxGap      int     `yaml:"maxGap"`
	MinScore    float64 `yaml:"minScore"`
	Context     int     `yaml:"context"`
	BadDocs     string  `yaml:"badDocs"`
	LMPath      string  `yaml:"lm"`
	DetectLang  bool    `yaml:"detectLanguage"`
	Pretty      bool    `yaml:"pretty"`
	WordAligns  bool    `yaml:"words"`
	URLTemplate string  `yaml:"urlTemplate"`
}

// KafkaConfig holds broker and topic settings for the optional record
// transport between the pairs and merge stages.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	PairTopic     string   `yaml:"pairTopic"`
	BatchSize     int      `yaml:"batchSize"`
}

// RedisConfig holds connection parameters for the optional document-token
// cache used by the scores stage.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus scrape server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with the documented defaults for
// any missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the stage defaults from the CLI reference.
func Default() *Config {
	return &Config{
		Pairs: PairsConfig{
			MaxSeries:  100,
			MaxDF:      100,
			ModP:       1,
			ModRec:     1,
			Step:       0,
			Stride:     1000,
			WordLength: 1.5,
			Shards:     1,
		},
		Align: AlignConfig{
			Ngram:      5,
			MinMatches: 1,
			MaxGap:     100,
			MinDensity: 0.2,
			GapOpen:    5,
			GapExtend:  0.5,
		},
		Cluster: ClusterConfig{
			MinOverlap:      0,
			RelativeOverlap: 0.5,
			MaxProportion:   1.0,
			MaxRepeats:      4,
		},
		Quotes: QuotesConfig{
			Gram:     5,
			MaxCount: 1000,
			MaxGap:   200,
			MinScore: 0,
			Context:  50,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "passim-merge",
			PairTopic:     "passim-pairs",
			BatchSize:     1000,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate rejects configurations no stage could run with.
func (c *Config) Validate() error {
	if c.Pairs.Stride < 1 {
		return fmt.Errorf("pairs.stride must be >= 1, got %d", c.Pairs.Stride)
	}
	if c.Pairs.ModP < 1 || c.Pairs.ModRec < 1 {
		return fmt.Errorf("pairs.modp and pairs.modrec must be >= 1")
	}
	if c.Pairs.Shards < 1 {
		return fmt.Errorf("pairs.shards must be >= 1, got %d", c.Pairs.Shards)
	}
	if c.Align.Ngram < 0 {
		return fmt.Errorf("align.ngram must be >= 0, got %d", c.Align.Ngram)
	}
	if c.Cluster.RelativeOverlap < 0 || c.Cluster.RelativeOverlap > 1 {
		return fmt.Errorf("cluster.relativeOverlap must be in [0,1], got %f", c.Cluster.RelativeOverlap)
	}
	return nil
}

// applyEnvOverrides reads PASSIM_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PASSIM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("PASSIM_KAFKA_PAIR_TOPIC"); v != "" {
		cfg.Kafka.PairTopic = v
	}
	if v := os.Getenv("PASSIM_KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
	if v := os.Getenv("PASSIM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PASSIM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PASSIM_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PASSIM_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PASSIM_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
		}
	}
}
