package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"
)

// Storage kinds accepted in storage.kind.
const (
	StorageKindS3    = "s3"
	StorageKindMinio = "minio"
)

// Configuration represents the complete storage layer configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Storage     StorageConfig     `yaml:"storage"`
	Performance PerformanceConfig `yaml:"performance"`
	Cache       CacheConfig       `yaml:"cache"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"` // "json" or "text"
	MetricsPort int    `yaml:"metrics_port"`
}

// StorageConfig selects and configures the remote backend
type StorageConfig struct {
	Kind    string        `yaml:"kind"`
	Bucket  string        `yaml:"bucket"`
	S3      S3Config      `yaml:"s3"`
	Minio   MinioConfig   `yaml:"minio"`
	Request RequestConfig `yaml:"request"`
}

// S3Config represents S3 endpoint and client settings
type S3Config struct {
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	SessionToken    string        `yaml:"session_token"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	VersionID       string        `yaml:"version_id"`
	MaxRetries      int           `yaml:"max_retries"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	StorageClass    string        `yaml:"storage_class"`

	// CargoShip accelerated single part uploads
	UseCargoShip         bool `yaml:"use_cargoship"`
	CargoShipConcurrency int  `yaml:"cargoship_concurrency"`
}

// MinioConfig represents settings for the minio backend
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	MaxRetries      int    `yaml:"max_retries"`
}

// RequestConfig holds the request tunables that may be swapped at runtime
type RequestConfig struct {
	MaxSingleReadRetries     int     `yaml:"max_single_read_retries"`
	MinUploadPartSize        string  `yaml:"min_upload_part_size"`
	MaxSinglePartUploadSize  string  `yaml:"max_single_part_upload_size"`
	ListObjectKeysSize       int     `yaml:"list_object_keys_size"`
	ObjectsChunkSizeToDelete int     `yaml:"objects_chunk_size_to_delete"`
	MinBytesForSeek          string  `yaml:"min_bytes_for_seek"`
	MaxGetRPS                float64 `yaml:"max_get_rps"`
	MaxPutRPS                float64 `yaml:"max_put_rps"`
	ReadMethod               string  `yaml:"read_method"` // "read" or "threadpool"
}

// PerformanceConfig represents worker pool sizing
type PerformanceConfig struct {
	ReaderPoolSize int `yaml:"reader_pool_size"`
	WriterPoolSize int `yaml:"writer_pool_size"`
}

// CacheConfig represents the local file cache configuration
type CacheConfig struct {
	Enabled                bool   `yaml:"enabled"`
	BasePath               string `yaml:"base_path"`
	MaxSize                string `yaml:"max_size"`
	MaxEntries             int    `yaml:"max_entries"`
	ReadOnly               bool   `yaml:"read_only"`
	CacheOnWriteOperations bool   `yaml:"cache_on_write_operations"`
	Compression            string `yaml:"compression"` // "none", "zstd" or "lz4"
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Namespace    string            `yaml:"namespace"`
	Path         string            `yaml:"path"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// TracingConfig represents tracing settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "json",
			MetricsPort: 8080,
		},
		Storage: StorageConfig{
			Kind: StorageKindS3,
			S3: S3Config{
				Region:               "us-east-1",
				MaxRetries:           10,
				ConnectTimeout:       10 * time.Second,
				RequestTimeout:       30 * time.Second,
				StorageClass:         "STANDARD",
				CargoShipConcurrency: 8,
			},
			Minio: MinioConfig{
				Region:     "us-east-1",
				MaxRetries: 10,
			},
			Request: RequestConfig{
				MaxSingleReadRetries:     4,
				MinUploadPartSize:        "16MiB",
				MaxSinglePartUploadSize:  "32MiB",
				ListObjectKeysSize:       1000,
				ObjectsChunkSizeToDelete: 1000,
				MinBytesForSeek:          "1MiB",
				ReadMethod:               "read",
			},
		},
		Performance: PerformanceConfig{
			ReaderPoolSize: 16,
			WriterPoolSize: 16,
		},
		Cache: CacheConfig{
			Enabled:     false,
			BasePath:    "/var/cache/objstore",
			MaxSize:     "10GiB",
			MaxEntries:  100000,
			Compression: "none",
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "objstore",
				Path:      "/metrics",
				CustomLabels: map[string]string{
					"service": "objstore",
				},
			},
			Tracing: TracingConfig{
				Enabled:     true,
				ServiceName: "objstore",
			},
		},
	}
}

// Clone returns a deep copy so callers can derive configurations without sharing maps.
func (c *Configuration) Clone() *Configuration {
	out := *c
	if c.Monitoring.Metrics.CustomLabels != nil {
		out.Monitoring.Metrics.CustomLabels = make(map[string]string, len(c.Monitoring.Metrics.CustomLabels))
		for k, v := range c.Monitoring.Metrics.CustomLabels {
			out.Monitoring.Metrics.CustomLabels[k] = v
		}
	}
	return &out
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("OBJSTORE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("OBJSTORE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("OBJSTORE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}

	// Storage settings
	if val := os.Getenv("OBJSTORE_STORAGE_KIND"); val != "" {
		c.Storage.Kind = val
	}
	if val := os.Getenv("OBJSTORE_BUCKET"); val != "" {
		c.Storage.Bucket = val
	}
	if val := os.Getenv("OBJSTORE_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("OBJSTORE_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("OBJSTORE_S3_ACCESS_KEY_ID"); val != "" {
		c.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("OBJSTORE_S3_SECRET_ACCESS_KEY"); val != "" {
		c.Storage.S3.SecretAccessKey = val
	}
	if val := os.Getenv("OBJSTORE_S3_FORCE_PATH_STYLE"); val != "" {
		c.Storage.S3.ForcePathStyle = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OBJSTORE_MINIO_ENDPOINT"); val != "" {
		c.Storage.Minio.Endpoint = val
	}
	if val := os.Getenv("OBJSTORE_MINIO_ACCESS_KEY_ID"); val != "" {
		c.Storage.Minio.AccessKeyID = val
	}
	if val := os.Getenv("OBJSTORE_MINIO_SECRET_ACCESS_KEY"); val != "" {
		c.Storage.Minio.SecretAccessKey = val
	}
	if val := os.Getenv("OBJSTORE_S3_MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			c.Storage.S3.MaxRetries = retries
		}
	}

	// Request tunables
	if val := os.Getenv("OBJSTORE_MIN_UPLOAD_PART_SIZE"); val != "" {
		c.Storage.Request.MinUploadPartSize = val
	}
	if val := os.Getenv("OBJSTORE_LIST_OBJECT_KEYS_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Storage.Request.ListObjectKeysSize = n
		}
	}
	if val := os.Getenv("OBJSTORE_OBJECTS_CHUNK_SIZE_TO_DELETE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Storage.Request.ObjectsChunkSizeToDelete = n
		}
	}
	if val := os.Getenv("OBJSTORE_READ_METHOD"); val != "" {
		c.Storage.Request.ReadMethod = val
	}

	// Cache settings
	if val := os.Getenv("OBJSTORE_CACHE_ENABLED"); val != "" {
		c.Cache.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OBJSTORE_CACHE_PATH"); val != "" {
		c.Cache.BasePath = val
	}
	if val := os.Getenv("OBJSTORE_CACHE_SIZE"); val != "" {
		c.Cache.MaxSize = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Storage.Kind {
	case StorageKindS3, StorageKindMinio:
	default:
		return fmt.Errorf("invalid storage kind: %q", c.Storage.Kind)
	}

	if c.Storage.Kind == StorageKindMinio && c.Storage.Minio.Endpoint == "" {
		return fmt.Errorf("minio endpoint is required for storage kind %q", StorageKindMinio)
	}

	req := c.Storage.Request
	if req.ListObjectKeysSize <= 0 || req.ListObjectKeysSize > 1000 {
		return fmt.Errorf("list_object_keys_size must be in [1, 1000], got %d", req.ListObjectKeysSize)
	}
	if req.ObjectsChunkSizeToDelete <= 0 || req.ObjectsChunkSizeToDelete > 1000 {
		return fmt.Errorf("objects_chunk_size_to_delete must be in [1, 1000], got %d", req.ObjectsChunkSizeToDelete)
	}
	if req.MaxSingleReadRetries < 0 {
		return fmt.Errorf("max_single_read_retries cannot be negative")
	}
	if req.MaxGetRPS < 0 || req.MaxPutRPS < 0 {
		return fmt.Errorf("max_get_rps and max_put_rps cannot be negative")
	}
	if req.ReadMethod != "read" && req.ReadMethod != "threadpool" {
		return fmt.Errorf("invalid read_method: %q", req.ReadMethod)
	}

	partSize, err := ParseSize(req.MinUploadPartSize)
	if err != nil {
		return fmt.Errorf("min_upload_part_size: %w", err)
	}
	// S3 rejects non-final parts below 5 MiB.
	if partSize < 5*humanize.MiByte {
		return fmt.Errorf("min_upload_part_size must be at least 5MiB, got %s", req.MinUploadPartSize)
	}
	if _, err := ParseSize(req.MaxSinglePartUploadSize); err != nil {
		return fmt.Errorf("max_single_part_upload_size: %w", err)
	}
	if _, err := ParseSize(req.MinBytesForSeek); err != nil {
		return fmt.Errorf("min_bytes_for_seek: %w", err)
	}

	if c.Performance.ReaderPoolSize <= 0 {
		return fmt.Errorf("reader_pool_size must be greater than 0")
	}
	if c.Performance.WriterPoolSize <= 0 {
		return fmt.Errorf("writer_pool_size must be greater than 0")
	}

	if c.Cache.Enabled {
		if c.Cache.BasePath == "" {
			return fmt.Errorf("cache base_path is required when the cache is enabled")
		}
		if _, err := ParseSize(c.Cache.MaxSize); err != nil {
			return fmt.Errorf("cache max_size: %w", err)
		}
		switch c.Cache.Compression {
		case "", "none", "zstd", "lz4":
		default:
			return fmt.Errorf("invalid cache compression: %q", c.Cache.Compression)
		}
	}

	return nil
}

// ParseSize parses a human readable size such as "16MiB" or "2GB".
func ParseSize(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}
