package config

import (
	"errors"
)

// StorageBackend selects the object store images are read from.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Source adapter read-ahead size in bytes; default 1024.
	ChunkSize int `mapstructure:"chunk_size"`

	// Limits.  0 = no limit.
	MaxImageBytes int64 `mapstructure:"max_image_bytes"` // encoded input
	// MaxPixels caps width*height from the header.  The raster is allocated
	// in one piece before any pixel data is read, so a tiny file can claim
	// MaxPixels*4 bytes; the default of 1<<26 bounds that at 256 MiB.
	MaxPixels int64 `mapstructure:"max_pixels"`

	// Batch decoding.
	WorkerCount int `mapstructure:"worker_count"` // default: runtime.NumCPU()

	// Storage.
	Storage StorageBackend `mapstructure:"storage"`
	Local   LocalConfig    `mapstructure:"local"`
	S3      S3Config       `mapstructure:"s3"`

	// Logging.
	LogLevel    string `mapstructure:"log_level"`   // "debug", "info", "warn", "error"
	Environment string `mapstructure:"environment"` // "prod", "test" or anything else for development
}

// LocalConfig configures the local filesystem object store.
type LocalConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// S3Config configures the S3 object store.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"` // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		ChunkSize:   1024,
		MaxPixels:   1 << 26,
		WorkerCount: 0, // resolved at runtime to NumCPU
		Storage:     StorageLocal,
		Local:       LocalConfig{RootDir: "."},
		LogLevel:    "info",
		Environment: "development",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.MaxImageBytes < 0 {
		return errors.New("config: MaxImageBytes must not be negative")
	}
	if c.MaxPixels < 0 {
		return errors.New("config: MaxPixels must not be negative")
	}
	if c.WorkerCount < 0 {
		return errors.New("config: WorkerCount must not be negative")
	}
	switch c.Storage {
	case StorageLocal, "":
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("config: S3.Bucket is required for the s3 storage backend")
		}
	default:
		return errors.New("config: unknown storage backend " + string(c.Storage))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "":
	default:
		return errors.New("config: LogLevel must be one of debug, info, warn, error")
	}
	return nil
}
