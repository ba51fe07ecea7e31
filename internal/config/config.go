package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Commit policies
const (
	CommitAlways    = "always"
	CommitOnSuccess = "on_success"
)

// Commit orders
const (
	CommitUnordered = "unordered"
	CommitSequenced = "sequenced"
)

// Config holds runtime configuration for the sink worker and the load generator.
type Config struct {
	Kafka   KafkaConfig   `json:"kafka" yaml:"kafka"`
	Batch   BatchConfig   `json:"batch" yaml:"batch"`
	Streams StreamsConfig `json:"streams" yaml:"streams"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	Log     LogConfig     `json:"log" yaml:"log"`
	LoadGen LoadGenConfig `json:"loadgen" yaml:"loadgen"`
}

// KafkaConfig holds broker connection and consumer settings.
type KafkaConfig struct {
	Brokers  []string `json:"brokers" yaml:"brokers"`
	Topic    string   `json:"topic" yaml:"topic"`
	GroupID  string   `json:"group_id" yaml:"group_id"`
	ClientID string   `json:"client_id" yaml:"client_id"`

	// StartOffset applies when the group has no committed offset: earliest or latest
	StartOffset string `json:"start_offset" yaml:"start_offset"`

	MinBytes int           `json:"min_bytes" yaml:"min_bytes"`
	MaxBytes int           `json:"max_bytes" yaml:"max_bytes"`
	MaxWait  time.Duration `json:"max_wait" yaml:"max_wait"`

	// PartitionBuffer is the capacity of each per-partition record channel
	PartitionBuffer int `json:"partition_buffer" yaml:"partition_buffer"`

	Producer ProducerConfig `json:"producer" yaml:"producer"`
}

// ProducerConfig holds Kafka writer settings used by the load generator.
type ProducerConfig struct {
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	RequiredAcks int           `json:"required_acks" yaml:"required_acks"`
	Compression  string        `json:"compression" yaml:"compression"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

// BatchConfig holds the batching and commit protocol settings.
type BatchConfig struct {
	MaxSize int           `json:"max_size" yaml:"max_size"`
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`

	// MaxInFlight caps concurrently processed batches per partition, 0 is unbounded.
	// A partition at the cap stops reading; once its buffer fills, fetching
	// waits for it and other partitions wait too.
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight"`

	CommitPolicy string `json:"commit_policy" yaml:"commit_policy"`
	CommitOrder  string `json:"commit_order" yaml:"commit_order"`
}

// StreamsConfig holds stream catalog settings.
type StreamsConfig struct {
	// CatalogPath is the Pebble directory for stream metadata, empty keeps it in memory
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`

	// Mapping renames topics to stream names; unmapped topics keep their name
	Mapping map[string]string `json:"mapping" yaml:"mapping"`
}

// StorageConfig holds staging and upload settings.
type StorageConfig struct {
	Dir            string `json:"dir" yaml:"dir"`
	MaxSegmentRows int64  `json:"max_segment_rows" yaml:"max_segment_rows"`
	SyncWrites     bool   `json:"sync_writes" yaml:"sync_writes"`

	// MaxSegmentAge finalizes segments open longer than this, 0 disables
	MaxSegmentAge time.Duration `json:"max_segment_age" yaml:"max_segment_age"`
	// UploadInterval is how often aged segments are rotated and finalized ones uploaded, 0 disables
	UploadInterval time.Duration `json:"upload_interval" yaml:"upload_interval"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds object storage settings for finalized segments.
type S3Config struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	Bucket            string `json:"bucket" yaml:"bucket"`
	Prefix            string `json:"prefix" yaml:"prefix"`
	Region            string `json:"region" yaml:"region"`
	Endpoint          string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle      bool   `json:"use_path_style" yaml:"use_path_style"`
	DeleteAfterUpload bool   `json:"delete_after_upload" yaml:"delete_after_upload"`
}

// HTTPConfig holds the admin server settings.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// LoadGenConfig holds settings for the synthetic log producer.
type LoadGenConfig struct {
	TotalLogs         int `json:"total_logs" yaml:"total_logs"`
	Rate              int `json:"rate" yaml:"rate"`
	Partitions        int `json:"partitions" yaml:"partitions"`
	ReplicationFactor int `json:"replication_factor" yaml:"replication_factor"`
	ReportEvery       int `json:"report_every" yaml:"report_every"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			Topic:           "local-logs-stream",
			GroupID:         "kafkasink",
			ClientID:        "kafkasink",
			StartOffset:     "earliest",
			MinBytes:        1,
			MaxBytes:        10 * 1024 * 1024,
			MaxWait:         500 * time.Millisecond,
			PartitionBuffer: 10000,
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    1000,
				BatchTimeout: 100 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "lz4",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Batch: BatchConfig{
			MaxSize:      10000,
			MaxWait:      10 * time.Second,
			MaxInFlight:  0,
			CommitPolicy: CommitAlways,
			CommitOrder:  CommitUnordered,
		},
		Streams: StreamsConfig{
			CatalogPath: "./data/catalog",
		},
		Storage: StorageConfig{
			Dir:            "./data/staging",
			MaxSegmentRows: 100000,
			MaxSegmentAge:  5 * time.Minute,
			UploadInterval: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		LoadGen: LoadGenConfig{
			TotalLogs:         100,
			Rate:              50,
			Partitions:        6,
			ReplicationFactor: 1,
			ReportEvery:       5000,
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: at least one broker is required"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required"))
	}
	if c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("kafka.group_id is required"))
	}
	switch c.Kafka.StartOffset {
	case "", "earliest", "latest":
	default:
		errs = append(errs, fmt.Errorf("kafka.start_offset must be earliest or latest, got %q", c.Kafka.StartOffset))
	}

	if c.Batch.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_size must be positive, got %d", c.Batch.MaxSize))
	}
	if c.Batch.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_wait must be positive, got %s", c.Batch.MaxWait))
	}
	if c.Batch.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("batch.max_in_flight must not be negative, got %d", c.Batch.MaxInFlight))
	}
	switch c.Batch.CommitPolicy {
	case CommitAlways, CommitOnSuccess:
	default:
		errs = append(errs, fmt.Errorf("batch.commit_policy must be %s or %s, got %q", CommitAlways, CommitOnSuccess, c.Batch.CommitPolicy))
	}
	switch c.Batch.CommitOrder {
	case CommitUnordered, CommitSequenced:
	default:
		errs = append(errs, fmt.Errorf("batch.commit_order must be %s or %s, got %q", CommitUnordered, CommitSequenced, c.Batch.CommitOrder))
	}

	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required"))
	}
	if c.Storage.MaxSegmentAge < 0 {
		errs = append(errs, fmt.Errorf("storage.max_segment_age must not be negative, got %s", c.Storage.MaxSegmentAge))
	}
	if c.Storage.UploadInterval < 0 {
		errs = append(errs, fmt.Errorf("storage.upload_interval must not be negative, got %s", c.Storage.UploadInterval))
	}
	if c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		errs = append(errs, errors.New("storage.s3.bucket is required when s3 is enabled"))
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}

	return cfg, nil
}

// LoadFromEnv applies KAFKASINK_ prefixed environment overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("KAFKASINK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("KAFKASINK_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("KAFKASINK_KAFKA_GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}
	if v := os.Getenv("KAFKASINK_KAFKA_START_OFFSET"); v != "" {
		cfg.Kafka.StartOffset = v
	}

	// Batch configuration
	if v := os.Getenv("KAFKASINK_BATCH_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MaxSize = n
		}
	}
	if v := os.Getenv("KAFKASINK_BATCH_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Batch.MaxWait = d
		}
	}
	if v := os.Getenv("KAFKASINK_BATCH_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MaxInFlight = n
		}
	}
	if v := os.Getenv("KAFKASINK_BATCH_COMMIT_POLICY"); v != "" {
		cfg.Batch.CommitPolicy = v
	}
	if v := os.Getenv("KAFKASINK_BATCH_COMMIT_ORDER"); v != "" {
		cfg.Batch.CommitOrder = v
	}

	// Storage configuration
	if v := os.Getenv("KAFKASINK_STREAMS_CATALOG_PATH"); v != "" {
		cfg.Streams.CatalogPath = v
	}
	if v := os.Getenv("KAFKASINK_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("KAFKASINK_STORAGE_MAX_SEGMENT_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.MaxSegmentAge = d
		}
	}
	if v := os.Getenv("KAFKASINK_STORAGE_UPLOAD_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.UploadInterval = d
		}
	}
	if v := os.Getenv("KAFKASINK_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Enabled = true
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("KAFKASINK_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("KAFKASINK_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	if v := os.Getenv("KAFKASINK_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("KAFKASINK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Load generator variables are read without the prefix
	if v := os.Getenv("TOTAL_LOGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoadGen.TotalLogs = n
		}
	}
	if v := os.Getenv("LOG_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoadGen.Rate = n
		}
	}
	if v := os.Getenv("NUM_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoadGen.Partitions = n
		}
	}
	if v := os.Getenv("REPLICATION_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoadGen.ReplicationFactor = n
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the file at path when one is given, otherwise the defaults, and
// applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	return cfg, nil
}
