package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	content := `storage:
  backend: postgres
  dsn: postgres://localhost/learnlog
  table: events
retention:
  days: 30
  interval: 6h
concurrency: 4
`
	if err := os.WriteFile(filepath.Join(dir, ".learnlog.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != ".learnlog.yaml" {
		t.Errorf("expected .learnlog.yaml, got %s", filename)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.DSN != "postgres://localhost/learnlog" || cfg.Storage.Table != "events" {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Retention.Days != 30 {
		t.Errorf("expected 30 days, got %d", cfg.Retention.Days)
	}
	if cfg.Retention.Interval.Duration() != 6*time.Hour {
		t.Errorf("expected 6h, got %v", cfg.Retention.Interval.Duration())
	}
	if cfg.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Concurrency)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	content := `[storage]
backend = "s3"

[storage.s3]
bucket = "learnlog"
endpoint = "http://localhost:9000"
use_path_style = true

[retention]
interval = "30m"
`
	if err := os.WriteFile(filepath.Join(dir, ".learnlog.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != ".learnlog.toml" {
		t.Errorf("expected .learnlog.toml, got %s", filename)
	}
	if cfg.Storage.S3.Bucket != "learnlog" || !cfg.Storage.S3.UsePathStyle {
		t.Errorf("unexpected s3 config: %+v", cfg.Storage.S3)
	}
	if cfg.Retention.Interval.Duration() != 30*time.Minute {
		t.Errorf("expected 30m, got %v", cfg.Retention.Interval.Duration())
	}
	if cfg.Retention.Days != DefaultRetentionDays {
		t.Errorf("expected default retention, got %d", cfg.Retention.Days)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{"storage": {"backend": "filesystem", "dir": "/var/lib/learnlog"}, "retention": {"interval": "2h"}}`
	if err := os.WriteFile(filepath.Join(dir, ".learnlog.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != ".learnlog.json" {
		t.Errorf("expected .learnlog.json, got %s", filename)
	}
	if cfg.Storage.Dir != "/var/lib/learnlog" {
		t.Errorf("expected /var/lib/learnlog, got %q", cfg.Storage.Dir)
	}
	if cfg.Retention.Interval.Duration() != 2*time.Hour {
		t.Errorf("expected 2h, got %v", cfg.Retention.Interval.Duration())
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()

	// Both files exist, the dot-prefixed YAML wins.
	if err := os.WriteFile(filepath.Join(dir, ".learnlog.yaml"), []byte("storage:\n  backend: memory\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "learnlog.toml"), []byte("[storage]\nbackend = \"sqlite\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != ".learnlog.yaml" {
		t.Errorf("expected .learnlog.yaml to win, got %s", filename)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("expected memory, got %q", cfg.Storage.Backend)
	}
}

func TestLoadYAMLUnknownField(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "learnlog.yaml"), []byte("storage:\n  backend: memory\n  bucket: nope\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(dir); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "learnlog.yaml"), []byte("retention:\n  interval: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected invalid duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"filesystem without dir", Config{Storage: Storage{Backend: BackendFilesystem}}, "storage.dir"},
		{"postgres without dsn", Config{Storage: Storage{Backend: BackendPostgres}}, "storage.dsn"},
		{"s3 without bucket", Config{Storage: Storage{Backend: BackendS3}}, "storage.s3.bucket"},
		{"unknown backend", Config{Storage: Storage{Backend: "redis"}}, "unknown storage backend"},
		{"negative retention", Config{Storage: Storage{Backend: BackendMemory}, Retention: Retention{Days: -1}}, "retention.days"},
		{"negative concurrency", Config{Storage: Storage{Backend: BackendMemory}, Concurrency: -2}, "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("expected sqlite, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Path != "learnlog.db" {
		t.Errorf("expected learnlog.db, got %q", cfg.Storage.Path)
	}
	if cfg.Retention.Days != DefaultRetentionDays {
		t.Errorf("expected %d days, got %d", DefaultRetentionDays, cfg.Retention.Days)
	}
	if cfg.Retention.Interval.Duration() != DefaultCleanupInterval {
		t.Errorf("expected %v, got %v", DefaultCleanupInterval, cfg.Retention.Interval.Duration())
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("expected %d, got %d", DefaultConcurrency, cfg.Concurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestNoConfigError(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir)
	if !errors.Is(err, ErrNoConfig) {
		t.Errorf("expected ErrNoConfig, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LEARNLOG_BACKEND", "filesystem")
	t.Setenv("LEARNLOG_DATA_DIR", "/data")
	t.Setenv("LEARNLOG_DATABASE_URL", "postgres://db/learnlog")
	t.Setenv("LEARNLOG_S3_BUCKET", "logs")
	t.Setenv("LEARNLOG_RETENTION_DAYS", "14")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Storage.Backend != BackendFilesystem {
		t.Errorf("expected filesystem, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Dir != filepath.Join("/data", "objects") {
		t.Errorf("expected /data/objects, got %q", cfg.Storage.Dir)
	}
	if cfg.Storage.DSN != "postgres://db/learnlog" || cfg.Storage.S3.Bucket != "logs" {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Retention.Days != 14 {
		t.Errorf("expected 14 days, got %d", cfg.Retention.Days)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("env config should validate: %v", err)
	}
}

func TestParserFor(t *testing.T) {
	for _, name := range []string{"a.yaml", "a.yml", "a.toml", "a.json"} {
		if _, err := ParserFor(name); err != nil {
			t.Errorf("ParserFor(%q): %v", name, err)
		}
	}
	if _, err := ParserFor("a.ini"); err == nil {
		t.Error("expected error for .ini")
	}
}
