// Package storage provides the key/value object stores that log records and
// their indices are persisted in.
// It supports memory and SQLite (for development and tests), the local
// filesystem, PostgreSQL, and S3-compatible object storage (for production).
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is a flat key/value object store.
// There are no transactions and no compare-and-swap: Set always overwrites.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or overwrites the value at key.
	Set(ctx context.Context, key string, value []byte) error

	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Close releases the backend's resources.
	Close() error
}

// Object is a stored key/value pair returned by List.
type Object struct {
	Key   string
	Value []byte
}

// sortObjects orders objects by key, which every List implementation promises.
func sortObjects(objs []Object) {
	sort.Slice(objs, func(i, j int) bool {
		return objs[i].Key < objs[j].Key
	})
}

func hasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}
