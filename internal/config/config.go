// Package config loads clinicalcore settings from an optional YAML file,
// environment overrides and defaults, applied in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Blob       BlobConfig       `yaml:"blob" json:"blob"`
	Dictionary DictionaryConfig `yaml:"dictionary" json:"dictionary"`
	Migration  MigrationConfig  `yaml:"migration" json:"migration"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// StorageConfig selects the persistent store backend.
type StorageConfig struct {
	Driver      string `yaml:"driver" json:"driver"`
	SQLitePath  string `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" json:"-"`
}

// BlobConfig selects the blob backend used for dictionaries and reports.
type BlobConfig struct {
	Driver string   `yaml:"driver" json:"driver"`
	FSRoot string   `yaml:"fs_root" json:"fs_root"`
	S3     S3Config `yaml:"s3" json:"s3"`
}

// S3Config holds S3 or MinIO settings. Credentials come from the default AWS
// chain.
type S3Config struct {
	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

// DictionaryConfig names the dictionary served by the schema provider.
type DictionaryConfig struct {
	Name      string `yaml:"name" json:"name"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// MigrationConfig tunes the donor sweep.
type MigrationConfig struct {
	PageSize             int           `yaml:"page_size" json:"page_size"`
	Workers              int           `yaml:"workers" json:"workers"`
	SubmissionDrainDelay time.Duration `yaml:"submission_drain_delay" json:"submission_drain_delay"`
}

// LogConfig selects the logger mode (dev or prod).
type LogConfig struct {
	Mode string `yaml:"mode" json:"mode"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: "sqlite", SQLitePath: "./clinicalcore.db"},
		Blob:    BlobConfig{Driver: "fs", FSRoot: "./blobdata", S3: S3Config{Region: "us-east-1"}},
		Dictionary: DictionaryConfig{
			Name:      "ARGO-Clinical",
			CacheSize: 16,
		},
		Migration: MigrationConfig{
			PageSize:             20,
			Workers:              4,
			SubmissionDrainDelay: 2 * time.Second,
		},
		Log: LogConfig{Mode: "dev"},
	}
}

// Load reads path (skipped when empty), then applies CLINICALCORE_* variables
// from the process environment and finally the defaults.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return applyDefaults(cfg), nil
}

// Parse decodes YAML bytes without applying defaults. Unknown keys are
// rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to the zero config.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CLINICALCORE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("CLINICALCORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("CLINICALCORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("CLINICALCORE_BLOB_DRIVER", &cfg.Blob.Driver)
	str("CLINICALCORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("CLINICALCORE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("CLINICALCORE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("CLINICALCORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("CLINICALCORE_DICTIONARY_NAME", &cfg.Dictionary.Name)
	str("CLINICALCORE_LOG_MODE", &cfg.Log.Mode)

	if v, ok := lookup("CLINICALCORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		cfg.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"CLINICALCORE_DICTIONARY_CACHE_SIZE", &cfg.Dictionary.CacheSize},
		{"CLINICALCORE_MIGRATION_PAGE_SIZE", &cfg.Migration.PageSize},
		{"CLINICALCORE_MIGRATION_WORKERS", &cfg.Migration.Workers},
	}
	for _, in := range ints {
		v, ok := lookup(in.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", in.name, err)
		}
		*in.dst = n
	}
	if v, ok := lookup("CLINICALCORE_SUBMISSION_DRAIN_DELAY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CLINICALCORE_SUBMISSION_DRAIN_DELAY: %w", err)
		}
		cfg.Migration.SubmissionDrainDelay = d
	}
	return nil
}

func applyDefaults(cfg Config) Config {
	def := Default()
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = def.Storage.SQLitePath
	}
	if cfg.Blob.Driver == "" {
		cfg.Blob.Driver = def.Blob.Driver
	}
	if cfg.Blob.FSRoot == "" {
		cfg.Blob.FSRoot = def.Blob.FSRoot
	}
	if cfg.Blob.S3.Region == "" {
		cfg.Blob.S3.Region = def.Blob.S3.Region
	}
	if cfg.Dictionary.Name == "" {
		cfg.Dictionary.Name = def.Dictionary.Name
	}
	if cfg.Dictionary.CacheSize <= 0 {
		cfg.Dictionary.CacheSize = def.Dictionary.CacheSize
	}
	if cfg.Migration.PageSize <= 0 {
		cfg.Migration.PageSize = def.Migration.PageSize
	}
	if cfg.Migration.Workers <= 0 {
		cfg.Migration.Workers = def.Migration.Workers
	}
	if cfg.Migration.SubmissionDrainDelay <= 0 {
		cfg.Migration.SubmissionDrainDelay = def.Migration.SubmissionDrainDelay
	}
	if cfg.Log.Mode == "" {
		cfg.Log.Mode = def.Log.Mode
	}
	return cfg
}
