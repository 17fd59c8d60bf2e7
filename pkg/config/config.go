// Package config loads and validates peer configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Postgres, Kafka, Redis, Store, DHT, Transfer, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level peer configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	DHT       DHTConfig       `yaml:"dht"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Profiling ProfilingConfig `yaml:"profiling"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds process lifecycle settings.
type ServerConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexTransfer  string `yaml:"indexTransfer"`
	DocumentIngest string `yaml:"documentIngest"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// StoreConfig controls the local posting store's memory threshold, flush
// interval, and segment merge policy.
type StoreConfig struct {
	DataDir                string        `yaml:"dataDir"`
	SegmentMaxSize         int64         `yaml:"segmentMaxSize"`
	FlushInterval          time.Duration `yaml:"flushInterval"`
	MergeInterval          time.Duration `yaml:"mergeInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
}

// DHTConfig controls chunk selection and the autonomous distribution cycle.
type DHTConfig struct {
	PeerID               string        `yaml:"peerId"`
	RingPosition         string        `yaml:"ringPosition"`
	Address              string        `yaml:"address"`
	RedundancyFactor     int           `yaml:"redundancyFactor"`
	MinContainerPostings int           `yaml:"minContainerPostings"`
	MaxContainerPostings int           `yaml:"maxContainerPostings"`
	MaxTimeMillis        int64         `yaml:"maxTimeMillis"`
	CycleInterval        time.Duration `yaml:"cycleInterval"`
	MaxTransferFailures  int           `yaml:"maxTransferFailures"`
	PeerRefreshInterval  time.Duration `yaml:"peerRefreshInterval"`
	SeedPeers            []SeedPeer    `yaml:"seedPeers"`
}

// SeedPeer is a statically configured peer used before the registry answers.
type SeedPeer struct {
	ID           string `yaml:"id"`
	RingPosition string `yaml:"ringPosition"`
	Address      string `yaml:"address"`
}

// TargetCount is the number of candidate peers requested per cycle.
func (d DHTConfig) TargetCount() int {
	return d.RedundancyFactor*3 + 1
}

// TransferConfig controls the outbound queues that deliver chunks.
type TransferConfig struct {
	QueueCount       int           `yaml:"queueCount"`
	QueueSize        int           `yaml:"queueSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// ProfilingConfig controls the in-process event history.
type ProfilingConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
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

// Validate rejects settings the distribution cycle cannot run with.
func (c *Config) Validate() error {
	d := c.DHT
	if d.PeerID == "" {
		return fmt.Errorf("dht.peerId must be set")
	}
	if d.RedundancyFactor < 0 {
		return fmt.Errorf("dht.redundancyFactor must be >= 0, got %d", d.RedundancyFactor)
	}
	if d.MinContainerPostings < 0 || d.MaxContainerPostings <= 0 {
		return fmt.Errorf("dht container bounds must be positive (min=%d, max=%d)", d.MinContainerPostings, d.MaxContainerPostings)
	}
	if d.MinContainerPostings > d.MaxContainerPostings {
		return fmt.Errorf("dht.minContainerPostings (%d) exceeds maxContainerPostings (%d)", d.MinContainerPostings, d.MaxContainerPostings)
	}
	if d.MaxTimeMillis < -1 {
		return fmt.Errorf("dht.maxTimeMillis must be -1 or >= 0, got %d", d.MaxTimeMillis)
	}
	if d.CycleInterval <= 0 || d.PeerRefreshInterval <= 0 {
		return fmt.Errorf("dht.cycleInterval and dht.peerRefreshInterval must be > 0")
	}
	if c.Transfer.QueueCount <= 0 {
		return fmt.Errorf("transfer.queueCount must be > 0, got %d", c.Transfer.QueueCount)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "dhtpeer",
			User:            "dhtpeer",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "dhtpeer-group",
			Topics: KafkaTopics{
				IndexTransfer:  "dht-index-transfer",
				DocumentIngest: "document-ingest",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Store: StoreConfig{
			DataDir:                "data/index",
			SegmentMaxSize:         32 << 20,
			FlushInterval:          30 * time.Second,
			MergeInterval:          5 * time.Minute,
			MaxSegmentsBeforeMerge: 8,
		},
		DHT: DHTConfig{
			PeerID:               "local",
			RedundancyFactor:     3,
			MinContainerPostings: 100,
			MaxContainerPostings: 1000,
			MaxTimeMillis:        60000,
			CycleInterval:        10 * time.Second,
			MaxTransferFailures:  3,
			PeerRefreshInterval:  time.Minute,
		},
		Transfer: TransferConfig{
			QueueCount:       4,
			QueueSize:        50,
			FlushInterval:    time.Second,
			RetryAttempts:    3,
			RetryDelay:       200 * time.Millisecond,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Profiling: ProfilingConfig{
			Enabled:   true,
			Interval:  time.Second,
			Retention: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DHT_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DHT_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DHT_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DHT_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DHT_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DHT_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DHT_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DHT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DHT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DHT_STORE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("DHT_PEER_ID"); v != "" {
		cfg.DHT.PeerID = v
	}
	if v := os.Getenv("DHT_RING_POSITION"); v != "" {
		cfg.DHT.RingPosition = v
	}
	if v := os.Getenv("DHT_PEER_ADDRESS"); v != "" {
		cfg.DHT.Address = v
	}
	if v := os.Getenv("DHT_REDUNDANCY_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DHT.RedundancyFactor = n
		}
	}
	if v := os.Getenv("DHT_MIN_CONTAINER_POSTINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DHT.MinContainerPostings = n
		}
	}
	if v := os.Getenv("DHT_MAX_CONTAINER_POSTINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DHT.MaxContainerPostings = n
		}
	}
	if v := os.Getenv("DHT_MAX_TIME_MILLIS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DHT.MaxTimeMillis = n
		}
	}
	if v := os.Getenv("DHT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DHT_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DHT_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
