package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
)

// DefaultTable is the table SQL backends keep objects in.
const DefaultTable = "learnlog_objects"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqlStore is the key/value logic shared by the SQLite and Postgres backends.
// Both dialects accept the same statements; only placeholders differ.
type sqlStore struct {
	db    *sql.DB
	table string
	sb    sq.StatementBuilderType
	now   func() time.Time
}

func newSQLStore(db *sql.DB, table string, placeholder sq.PlaceholderFormat) (*sqlStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &sqlStore{
		db:    db,
		table: table,
		sb:    sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:   time.Now,
	}, nil
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	query, args, err := s.sb.Select("obj_value").
		From(s.table).
		Where(sq.Eq{"obj_key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	var value []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return value, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value []byte) error {
	query, args, err := s.sb.Insert(s.table).
		Columns("obj_key", "obj_value", "updated_at").
		Values(key, value, s.now().UTC()).
		Suffix("ON CONFLICT (obj_key) DO UPDATE SET obj_value = excluded.obj_value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set object: %w", err)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, prefix string) ([]Object, error) {
	qb := s.sb.Select("obj_key", "obj_value").From(s.table)
	if prefix != "" {
		// substr is byte-exact and case-sensitive, unlike LIKE
		qb = qb.Where(sq.Expr("substr(obj_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix))
	}
	query, args, err := qb.OrderBy("obj_key ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var objs []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Key, &o.Value); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	// Collation differences between databases must not leak into ordering.
	sortObjects(objs)
	return objs, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
