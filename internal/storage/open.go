package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/junyiacademy/learnlog/internal/config"
)

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.Storage, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}

	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory storage, records will not survive restart")
		return NewMemory(), nil
	case config.BackendFilesystem:
		dir := cfg.Dir
		if dir == "" {
			dir = DefaultDataDir()
		}
		log.Info("initializing storage", "backend", cfg.Backend, "dir", dir)
		return NewFilesystem(dir, log)
	case config.BackendSQLite, "":
		path := cfg.Path
		if path == "" {
			path = "learnlog.db"
		}
		log.Info("initializing storage", "backend", config.BackendSQLite, "path", path)
		return NewSQLite(path)
	case config.BackendPostgres:
		log.Info("initializing storage", "backend", cfg.Backend)
		return NewPostgres(cfg.DSN, cfg.Table)
	case config.BackendS3:
		log.Info("initializing storage", "backend", cfg.Backend, "bucket", cfg.S3.Bucket, "endpoint", cfg.S3.Endpoint)
		return NewS3(ctx, S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			UsePathStyle:    cfg.S3.UsePathStyle,
		}, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
