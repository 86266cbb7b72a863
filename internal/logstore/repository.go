// Package logstore records learning-session events in a key/value object
// store and indexes them by user, program and task.
//
// Records live at log:{userId}:{programId}:{taskId}:{id}. Every create also
// appends the record key to three index lists (user, program and task). Index
// updates are serialized per index key inside one process, so concurrent
// creates in a process never lose entries. Several processes writing the same
// scope can still race; RebuildIndex reconstructs indices from a prefix scan.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/junyiacademy/learnlog/internal/storage"
)

const (
	// DefaultRetentionDays is used when CleanupExpiredLogs gets a non-positive value.
	DefaultRetentionDays = 90

	defaultConcurrency = 16
)

// Repository owns the key scheme, indices and queries over log records.
type Repository struct {
	store       storage.Store
	log         *slog.Logger
	now         func() time.Time
	newID       func() string
	concurrency int
	locks       *keyedMutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Repository) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// WithConcurrency bounds parallel record fetches and batch creates.
func WithConcurrency(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRepository creates a repository over store.
func NewRepository(store storage.Store, opts ...Option) *Repository {
	r := &Repository{
		store:       store,
		log:         slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		concurrency: defaultConcurrency,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateParams describes a record to create.
type CreateParams struct {
	UserID    string
	ProgramID string
	TaskID    string
	Type      Type
	Message   string
	Data      Payload
	Metadata  map[string]any
	Severity  Severity  // default: info
	Timestamp time.Time // logical event time; default: now
}

func (p CreateParams) validate() error {
	if err := validateTaskScope(p.UserID, p.ProgramID, p.TaskID); err != nil {
		return err
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if p.Data != nil && p.Data.Kind() != p.Type {
		return fmt.Errorf("%w: %s payload on %s record", ErrInvalidType, p.Data.Kind(), p.Type)
	}
	if p.Severity != "" && !p.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, p.Severity)
	}
	return nil
}

// Create writes a new record and appends its key to the user, program and
// task indices.
//
// A failed record write returns (nil, err). If the record was written but an
// index update failed, the record is returned together with an *IndexError.
func (r *Repository) Create(ctx context.Context, p CreateParams) (*Record, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	rec := &Record{
		ID:        r.newID(),
		UserID:    p.UserID,
		ProgramID: p.ProgramID,
		TaskID:    p.TaskID,
		Type:      p.Type,
		Severity:  p.Severity,
		Message:   p.Message,
		Data:      p.Data,
		Metadata:  p.Metadata,
		Timestamp: p.Timestamp.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	if p.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	key := rec.Key()
	if err := r.put(ctx, key, rec); err != nil {
		return nil, err
	}

	if err := r.indexRecord(ctx, rec.Scope(), key); err != nil {
		r.log.Warn("record written but not fully indexed", "key", key, "error", err)
		return rec, err
	}
	return rec, nil
}

// CreateBatch creates every record concurrently. The result is aligned with
// params; an element is nil when its record could not be written. Failures
// are reported as *BatchItemError values joined into the returned error.
// Successful writes are never rolled back.
func (r *Repository) CreateBatch(ctx context.Context, params []CreateParams) ([]*Record, error) {
	recs := make([]*Record, len(params))
	errs := make([]error, len(params))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, p := range params {
		g.Go(func() error {
			rec, err := r.Create(ctx, p)
			recs[i] = rec
			if err != nil {
				errs[i] = &BatchItemError{Index: i, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	return recs, errors.Join(errs...)
}

// Get fetches a record by its composite key.
func (r *Repository) Get(ctx context.Context, userID, programID, taskID, id string) (*Record, error) {
	if err := validateTaskScope(userID, programID, taskID); err != nil {
		return nil, err
	}
	if err := validateID("id", id); err != nil {
		return nil, err
	}
	return r.fetch(ctx, RecordKey(userID, programID, taskID, id))
}

// SoftDelete marks a record deleted. It returns false when the record does
// not exist or was already deleted; deletedAt never changes once set.
// Indices are left untouched until CleanupIndex runs.
func (r *Repository) SoftDelete(ctx context.Context, userID, programID, taskID, id string) (bool, error) {
	rec, err := r.Get(ctx, userID, programID, taskID, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.markDeleted(ctx, rec)
}

func (r *Repository) markDeleted(ctx context.Context, rec *Record) (bool, error) {
	if rec.Deleted() {
		return false, nil
	}
	now := r.now().UTC()
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	if err := r.put(ctx, rec.Key(), rec); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupExpiredLogs soft-deletes every live record whose timestamp is older
// than retentionDays and returns how many it deleted. It scans the whole
// record keyspace and belongs in a scheduled job, not on a request path.
func (r *Repository) CleanupExpiredLogs(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := r.now().UTC().AddDate(0, 0, -retentionDays)

	recs, err := r.scan(ctx, recordPrefix)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range recs {
		if rec.Deleted() || !rec.Timestamp.Before(cutoff) {
			continue
		}
		deleted, err := r.markDeleted(ctx, rec)
		if err != nil {
			return count, fmt.Errorf("expire %s: %w", rec.Key(), err)
		}
		if deleted {
			count++
		}
	}

	r.log.Info("expired logs cleaned up", "retention_days", retentionDays, "cutoff", cutoff, "deleted", count)
	return count, nil
}

func (r *Repository) put(ctx context.Context, key string, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write record %s: %w", key, err)
	}
	return nil
}

func (r *Repository) fetch(ctx context.Context, key string) (*Record, error) {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", key, err)
	}
	return decodeRecord(data)
}

// fetchAll loads the records behind keys concurrently, preserving key order.
// Keys whose record is missing or undecodable are skipped.
func (r *Repository) fetchAll(ctx context.Context, keys []string) ([]*Record, error) {
	recs := make([]*Record, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			data, err := r.store.Get(gctx, key)
			if errors.Is(err, storage.ErrNotFound) {
				r.log.Debug("index entry points at missing record", "key", key)
				return nil
			}
			if err != nil {
				return fmt.Errorf("read record %s: %w", key, err)
			}
			rec, err := decodeRecord(data)
			if err != nil {
				r.log.Warn("skipping undecodable record", "key", key, "error", err)
				return nil
			}
			recs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := recs[:0]
	for _, rec := range recs {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// scan decodes every record under prefix.
func (r *Repository) scan(ctx context.Context, prefix string) ([]*Record, error) {
	objs, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list records under %s: %w", prefix, err)
	}
	recs := make([]*Record, 0, len(objs))
	for _, obj := range objs {
		rec, err := decodeRecord(obj.Value)
		if err != nil {
			r.log.Warn("skipping undecodable record", "key", obj.Key, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
