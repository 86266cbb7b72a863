package logstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultOrderBy sorts newest first.
const DefaultOrderBy = "timestamp:desc"

// QueryOptions selects, filters and pages records. UserID is required;
// ProgramID and TaskID narrow the scope.
type QueryOptions struct {
	UserID    string
	ProgramID string
	TaskID    string

	Type      Type
	Severity  Severity
	StartTime *time.Time // inclusive
	EndTime   *time.Time // inclusive

	IncludeDeleted bool

	OrderBy string // field:asc|desc, default timestamp:desc
	Limit   int    // 0 means no limit
	Offset  int
}

// Scope returns the hierarchy scope the options select.
func (o QueryOptions) Scope() Scope {
	return Scope{UserID: o.UserID, ProgramID: o.ProgramID, TaskID: o.TaskID}
}

type orderField func(a, b *Record) int

var orderFields = map[string]orderField{
	"timestamp": func(a, b *Record) int { return a.Timestamp.Compare(b.Timestamp) },
	"createdAt": func(a, b *Record) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updatedAt": func(a, b *Record) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
	"type":      func(a, b *Record) int { return strings.Compare(string(a.Type), string(b.Type)) },
	"severity":  func(a, b *Record) int { return cmp.Compare(a.Severity.rank(), b.Severity.rank()) },
	"message":   func(a, b *Record) int { return strings.Compare(a.Message, b.Message) },
	"id":        func(a, b *Record) int { return strings.Compare(a.ID, b.ID) },
}

// parseOrder splits "field:dir" and returns a comparator that breaks ties by
// record key so repeated queries page consistently.
func parseOrder(orderBy string) (func(a, b *Record) int, error) {
	if orderBy == "" {
		orderBy = DefaultOrderBy
	}
	field, dir, _ := strings.Cut(orderBy, ":")
	compare, ok := orderFields[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidOrder, field)
	}

	desc := false
	switch strings.ToLower(dir) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidOrder, dir)
	}

	return func(a, b *Record) int {
		c := compare(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	}, nil
}

// Query returns the records matching opts.
//
// A task scope is read with a prefix scan of its record keys. Program and
// user scopes are read through their index lists. Filters are applied in
// memory, then the result is sorted, offset and limited, in that order.
func (r *Repository) Query(ctx context.Context, opts QueryOptions) ([]*Record, error) {
	scope := opts.Scope()
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, opts.Type)
	}
	if opts.Severity != "" && !opts.Severity.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, opts.Severity)
	}
	compare, err := parseOrder(opts.OrderBy)
	if err != nil {
		return nil, err
	}

	candidates, err := r.candidates(ctx, scope)
	if err != nil {
		return nil, err
	}

	recs := make([]*Record, 0, len(candidates))
	for _, rec := range candidates {
		if matches(rec, opts) {
			recs = append(recs, rec)
		}
	}

	slices.SortStableFunc(recs, compare)

	return paginate(recs, opts.Offset, opts.Limit), nil
}

// candidates resolves the unfiltered record set of a scope.
func (r *Repository) candidates(ctx context.Context, s Scope) ([]*Record, error) {
	if s.level() == levelTask {
		return r.scan(ctx, RecordPrefix(s))
	}

	keys, err := r.readIndex(ctx, IndexKey(s))
	if err != nil {
		return nil, err
	}
	keys = dedupe(keys)

	recs, err := r.fetchAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	// Guard against index entries that point outside the scope.
	prefix := RecordPrefix(s)
	out := recs[:0]
	for _, rec := range recs {
		if strings.HasPrefix(rec.Key(), prefix) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(rec *Record, opts QueryOptions) bool {
	if rec.Deleted() && !opts.IncludeDeleted {
		return false
	}
	if opts.Type != "" && rec.Type != opts.Type {
		return false
	}
	if opts.Severity != "" && rec.Severity != opts.Severity {
		return false
	}
	if opts.StartTime != nil && rec.Timestamp.Before(*opts.StartTime) {
		return false
	}
	if opts.EndTime != nil && rec.Timestamp.After(*opts.EndTime) {
		return false
	}
	return true
}

func paginate(recs []*Record, offset, limit int) []*Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []*Record{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
