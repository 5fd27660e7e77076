package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. IMAGELOADER_CHUNK_SIZE or IMAGELOADER_S3_BUCKET.
const EnvPrefix = "IMAGELOADER"

// Load builds a Config from defaults, an optional .env file, an optional YAML
// config file and the environment, in increasing order of precedence.
// Empty paths are skipped.
func Load(configFile, envFile string) (Config, error) {
	return LoadViper(NewViper(), configFile, envFile)
}

// LoadViper is Load on a caller-supplied viper instance, typically one with
// command-line flags already bound.
func LoadViper(v *viper.Viper, configFile, envFile string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return Config{}, fmt.Errorf("failed to stat config file: %w", err)
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// NewViper returns a viper instance seeded with Default() and bound to the
// IMAGELOADER_* environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`, `-`, `_`))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("max_image_bytes", d.MaxImageBytes)
	v.SetDefault("max_pixels", d.MaxPixels)
	v.SetDefault("worker_count", d.WorkerCount)
	v.SetDefault("storage", string(d.Storage))
	v.SetDefault("local.root_dir", d.Local.RootDir)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("environment", d.Environment)
	return v
}

// FromViper unmarshals and validates a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: nil viper instance")
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}
