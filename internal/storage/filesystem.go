package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	tmpSuffix = ".tmp"

	// maxNameLen keeps file names under NAME_MAX once escaped.
	maxNameLen = 200
	// hashedPrefix marks files named by key hash. QueryEscape never emits '#'.
	hashedPrefix = "#"
)

// FilesystemStore stores each object as a file on disk.
// The file name is the query-escaped key: {dir}/{escaped key}. Keys whose
// escaped form is too long are stored as {dir}/#{sha256 of key}, with the
// key on the first line of the file.
type FilesystemStore struct {
	dir string
	log *slog.Logger
}

// NewFilesystem creates a new filesystem-based store rooted at dir.
func NewFilesystem(dir string, log *slog.Logger) (*FilesystemStore, error) {
	if log == nil {
		log = slog.Default()
	}

	// Create the directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return &FilesystemStore{dir: dir, log: log}, nil
}

// DefaultDataDir returns the default object directory.
func DefaultDataDir() string {
	if dataDir := os.Getenv("LEARNLOG_DATA_DIR"); dataDir != "" {
		return filepath.Join(dataDir, "objects")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "objects"
	}
	return filepath.Join(home, ".learnlog", "objects")
}

func fileName(key string) (name string, hashed bool) {
	name = url.QueryEscape(key)
	if len(name) <= maxNameLen {
		return name, false
	}
	sum := sha256.Sum256([]byte(key))
	return hashedPrefix + hex.EncodeToString(sum[:]), true
}

// splitHashed separates the key header from the value of a hashed file.
func splitHashed(data []byte) (key string, value []byte, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", nil, false
	}
	return string(data[:i]), data[i+1:], true
}

func (s *FilesystemStore) path(key string) (string, bool) {
	name, hashed := fileName(key)
	return filepath.Join(s.dir, name), hashed
}

func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, hashed := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	if hashed {
		k, value, ok := splitHashed(data)
		if !ok || k != key {
			return nil, fmt.Errorf("read object %s: key header mismatch", filepath.Base(path))
		}
		return value, nil
	}
	return data, nil
}

// Set writes to a temp file and renames it over the target so readers never
// see a partially written object.
func (s *FilesystemStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, "obj-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	path, hashed := s.path(key)

	if hashed {
		value = append([]byte(key+"\n"), value...)
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write object: %w", err)
	}
	if err := f.Sync(); err != nil {
		s.log.Warn("failed to sync object file", "key", key, "error", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename object: %w", err)
	}
	return nil
}

func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	var objs []Object
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		if strings.HasPrefix(e.Name(), hashedPrefix) {
			data, found, err := s.read(e.Name())
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			key, value, ok := splitHashed(data)
			if !ok {
				s.log.Warn("skipping hashed file without key header", "name", e.Name())
				continue
			}
			if !hasPrefix(key, prefix) {
				continue
			}
			objs = append(objs, Object{Key: key, Value: value})
			continue
		}
		key, err := url.QueryUnescape(e.Name())
		if err != nil {
			s.log.Warn("skipping file with undecodable name", "name", e.Name(), "error", err)
			continue
		}
		if !hasPrefix(key, prefix) {
			continue
		}
		data, found, err := s.read(e.Name())
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		objs = append(objs, Object{Key: key, Value: data})
	}
	sortObjects(objs)
	return objs, nil
}

// read reports found=false when the file was removed after ReadDir.
func (s *FilesystemStore) read(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read object: %w", err)
	}
	return data, true, nil
}

// Close is a no-op; files are closed after every operation.
func (s *FilesystemStore) Close() error {
	return nil
}
