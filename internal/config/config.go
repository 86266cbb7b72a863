package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when no config file is found.
var ErrNoConfig = errors.New("no learnlog config file found")

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendS3         = "s3"
)

const (
	DefaultRetentionDays   = 90
	DefaultCleanupInterval = 24 * time.Hour
	DefaultConcurrency     = 16
)

// Config is the parsed learnlog configuration.
type Config struct {
	// Storage selects and configures the object store.
	Storage Storage `yaml:"storage" toml:"storage" json:"storage"`

	// Retention controls the expired-log janitor.
	Retention Retention `yaml:"retention" toml:"retention" json:"retention"`

	// Concurrency bounds parallel record fetches and batch creates. Default: 16.
	Concurrency int `yaml:"concurrency" toml:"concurrency" json:"concurrency"`
}

// Storage configures the object store backend.
type Storage struct {
	// Backend is one of memory, filesystem, sqlite, postgres, s3. Default: sqlite.
	Backend string `yaml:"backend" toml:"backend" json:"backend"`

	// Dir is the object directory for the filesystem backend.
	Dir string `yaml:"dir" toml:"dir" json:"dir"`

	// Path is the database file for the sqlite backend. Default: learnlog.db.
	Path string `yaml:"path" toml:"path" json:"path"`

	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn" toml:"dsn" json:"dsn"`

	// Table overrides the table name for SQL backends.
	Table string `yaml:"table" toml:"table" json:"table"`

	S3 S3 `yaml:"s3" toml:"s3" json:"s3"`
}

// S3 configures the s3 backend.
type S3 struct {
	Bucket          string `yaml:"bucket" toml:"bucket" json:"bucket"`
	Region          string `yaml:"region" toml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Prefix          string `yaml:"prefix" toml:"prefix" json:"prefix"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key" json:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" toml:"use_path_style" json:"use_path_style"`
}

// Retention configures soft-delete of expired records.
type Retention struct {
	// Days a record stays live. Default: 90.
	Days int `yaml:"days" toml:"days" json:"days"`

	// Interval between janitor runs. Default: 24h.
	Interval Duration `yaml:"interval" toml:"interval" json:"interval"`
}

// Duration wraps time.Duration for custom parsing.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load finds and parses a learnlog config file from the given directory.
func Load(dir string) (*Config, string, error) {
	candidates := []struct {
		name   string
		parser func([]byte, *Config) error
	}{
		{".learnlog.yaml", parseYAML},
		{".learnlog.yml", parseYAML},
		{".learnlog.toml", parseTOML},
		{".learnlog.json", parseJSON},
		{"learnlog.yaml", parseYAML},
		{"learnlog.yml", parseYAML},
		{"learnlog.toml", parseTOML},
		{"learnlog.json", parseJSON},
	}

	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue // File doesn't exist, try next
		}

		cfg, err := LoadFile(path, data, c.parser)
		if err != nil {
			return nil, c.name, err
		}
		return cfg, c.name, nil
	}

	return nil, "", ErrNoConfig
}

// LoadFile parses data with parser, then validates and applies defaults.
func LoadFile(path string, data []byte, parser func([]byte, *Config) error) (*Config, error) {
	name := filepath.Base(path)
	var cfg Config
	if err := parser(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	// Apply defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	return &cfg, nil
}

// ParserFor returns the parser matching a file extension.
func ParserFor(path string) (func([]byte, *Config) error, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return parseYAML, nil
	case ".toml":
		return parseTOML, nil
	case ".json":
		return parseJSON, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict: error on unknown fields
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

// ApplyEnv overrides config values from LEARNLOG_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LEARNLOG_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("LEARNLOG_DATA_DIR"); v != "" {
		c.Storage.Dir = filepath.Join(v, "objects")
		c.Storage.Path = filepath.Join(v, "learnlog.db")
	}
	if v := os.Getenv("LEARNLOG_DATABASE_URL"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("LEARNLOG_S3_BUCKET"); v != "" {
		c.Storage.S3.Bucket = v
	}
	if v := os.Getenv("LEARNLOG_S3_ENDPOINT"); v != "" {
		c.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("LEARNLOG_S3_ACCESS_KEY_ID"); v != "" {
		c.Storage.S3.AccessKeyID = v
	}
	if v := os.Getenv("LEARNLOG_S3_SECRET_ACCESS_KEY"); v != "" {
		c.Storage.S3.SecretAccessKey = v
	}
	if v := os.Getenv("LEARNLOG_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Retention.Days = days
		}
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendFilesystem:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the filesystem backend")
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Retention.Days < 0 {
		return errors.New("retention.days must not be negative")
	}
	if c.Retention.Interval < 0 {
		return errors.New("retention.interval must not be negative")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.Path == "" {
		c.Storage.Path = "learnlog.db"
	}
	if c.Retention.Days == 0 {
		c.Retention.Days = DefaultRetentionDays
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = Duration(DefaultCleanupInterval)
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
}
