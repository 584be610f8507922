// Package metadata reads image rows from the relational store.
//
// The images table is the source of truth for the numeric id (nid) and the
// mutable delta attribute. It is maintained by external processes; this
// package only reads it.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a filename has no row in the images table.
var ErrNotFound = errors.New("metadata record not found")

// Record is one row of the images table.
type Record struct {
	Filename string
	NID      int64
	Delta    float64
}

// Store reads image metadata from Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a connection pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return New(pool), nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// All returns every image row.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT filename, nid, delta FROM images`)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Filename, &r.NID, &r.Delta); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading image rows: %w", err)
	}
	return records, nil
}

// Get returns the row for one filename (bare, as stored in the table).
func (s *Store) Get(ctx context.Context, filename string) (Record, error) {
	var r Record
	err := s.pool.QueryRow(ctx,
		`SELECT filename, nid, delta FROM images WHERE filename = $1`, filename,
	).Scan(&r.Filename, &r.NID, &r.Delta)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return Record{}, fmt.Errorf("querying image %s: %w", filename, err)
	}
	return r, nil
}

// Filenames returns every filename in the images table, unnormalized.
func (s *Store) Filenames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT filename FROM images`)
	if err != nil {
		return nil, fmt.Errorf("querying filenames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning filename: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading filenames: %w", err)
	}
	return names, nil
}
