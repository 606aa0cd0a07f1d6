// Package postgres stores the reference snapshot in a PostgreSQL table with a
// pgvector embedding column, so several MonitorAI instances can share one
// curated set of graded calls.
//
// Ranking still happens in process: [Source.Load] reads the whole table once
// at startup into an immutable reference.Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/monitorai/internal/reference"
)

// DefaultTable is the table used when no WithTable option is given.
const DefaultTable = "reference_cases"

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

var _ reference.Source = (*Source)(nil)

// Open creates a pool for dsn with pgvector types registered on every
// connection. No connection is made until the pool is first used, so an
// unreachable server only surfaces in [Source.Load] and in pings.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("reference postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("reference postgres: create pool: %w", err)
	}
	return pool, nil
}

// Connect is [Open] followed by a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reference postgres: ping: %w", err)
	}
	return pool, nil
}

// Source reads and writes reference cases in a single table.
// It is safe for concurrent use.
type Source struct {
	pool  *pgxpool.Pool
	table string
}

// Option configures a Source.
type Option func(*Source)

// WithTable overrides the table name.
func WithTable(name string) Option {
	return func(s *Source) {
		if name != "" {
			s.table = name
		}
	}
}

// NewSource returns a Source backed by pool. The pool must have pgvector
// types registered (see [Connect]).
func NewSource(pool *pgxpool.Pool, opts ...Option) *Source {
	s := &Source{pool: pool, table: DefaultTable}
	for _, o := range opts {
		o(s)
	}
	return s
}

// String implements fmt.Stringer for log output.
func (s *Source) String() string { return "postgres:" + s.table }

func (s *Source) ident() string { return pgx.Identifier{s.table}.Sanitize() }

// ddl returns the schema with the vector dimension baked into the column type.
func (s *Source) ddl(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %s (
    id              TEXT         PRIMARY KEY,
    position        INTEGER      NOT NULL,
    embedding       vector(%d)   NOT NULL,
    expected_score  INTEGER      NOT NULL,
    checklist       JSON         NOT NULL DEFAULT '{}',
    imported_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`, s.ident(), dims)
}

// Migrate creates the table if it does not exist. It is idempotent.
//
// checklist is stored as JSON rather than JSONB so that the order of keys
// outside the rubric survives a round trip.
func (s *Source) Migrate(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("reference postgres: migrate: dimensions must be positive, got %d", dims)
	}
	if _, err := s.pool.Exec(ctx, s.ddl(dims)); err != nil {
		return fmt.Errorf("reference postgres: migrate: %w", err)
	}
	return nil
}

// Load implements reference.Source. A missing table reports
// reference.ErrSnapshotNotFound.
func (s *Source) Load(ctx context.Context) (*reference.Store, error) {
	q := fmt.Sprintf(`SELECT id, embedding, expected_score, checklist FROM %s ORDER BY position, id`, s.ident())
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%w: table %s", reference.ErrSnapshotNotFound, s.table)
		}
		return nil, fmt.Errorf("reference postgres: query: %w", err)
	}

	cases, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (reference.Case, error) {
		var (
			c         reference.Case
			vec       pgvector.Vector
			checklist []byte
		)
		if err := row.Scan(&c.ID, &vec, &c.Metadata.ExpectedScore, &checklist); err != nil {
			return c, err
		}
		c.Embedding = vec.Slice()
		if err := json.Unmarshal(checklist, &c.Metadata.Checklist); err != nil {
			return c, fmt.Errorf("%w: case %q: %w", reference.ErrCorruptSnapshot, c.ID, err)
		}
		return c, nil
	})
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%w: table %s", reference.ErrSnapshotNotFound, s.table)
		}
		return nil, fmt.Errorf("reference postgres: collect rows: %w", err)
	}
	return reference.NewStore(cases)
}

// Import replaces the table contents with store in a single transaction,
// creating the table first if needed. Store order is preserved.
func (s *Source) Import(ctx context.Context, store *reference.Store) (int64, error) {
	if store.Len() == 0 {
		return 0, errors.New("reference postgres: import: store is empty")
	}
	if err := s.Migrate(ctx, store.Dimensions()); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("reference postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM "+s.ident()); err != nil {
		return 0, fmt.Errorf("reference postgres: clear: %w", err)
	}

	rows := make([][]any, 0, store.Len())
	for i, c := range store.All() {
		checklist, err := json.Marshal(c.Metadata.Checklist)
		if err != nil {
			return 0, fmt.Errorf("reference postgres: encode checklist %q: %w", c.ID, err)
		}
		rows = append(rows, []any{c.ID, i, pgvector.NewVector(c.Embedding), c.Metadata.ExpectedScore, string(checklist)})
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{s.table},
		[]string{"id", "position", "embedding", "expected_score", "checklist"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("reference postgres: copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("reference postgres: commit: %w", err)
	}
	return n, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
