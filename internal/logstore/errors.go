package logstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/junyiacademy/learnlog/internal/storage"
)

var (
	// ErrNotFound is returned by Get for a missing record.
	ErrNotFound = storage.ErrNotFound

	ErrScopeRequired   = errors.New("userId is required")
	ErrInvalidID       = errors.New("invalid identifier")
	ErrInvalidType     = errors.New("invalid log type")
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrInvalidPeriod   = errors.New("invalid period")
)

// IndexError reports that a record was written but one or more of its index
// lists could not be updated. The record is durable and can be re-indexed
// with RebuildIndex.
type IndexError struct {
	RecordKey string
	IndexKeys []string
	Err       error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index record %s in %s: %v", e.RecordKey, strings.Join(e.IndexKeys, ", "), e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// BatchItemError wraps the failure of one element of CreateBatch.
type BatchItemError struct {
	Index int
	Err   error
}

func (e *BatchItemError) Error() string {
	return fmt.Sprintf("batch item %d: %v", e.Index, e.Err)
}

func (e *BatchItemError) Unwrap() error {
	return e.Err
}
