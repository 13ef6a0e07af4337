package content

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PuzzleStore reads the puzzle pool from the puzzles table.
type PuzzleStore struct {
	db *pgxpool.Pool
}

func NewPuzzleStore(db *pgxpool.Pool) *PuzzleStore {
	return &PuzzleStore{db: db}
}

func (s *PuzzleStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS puzzles (
			id         SERIAL PRIMARY KEY,
			category   TEXT NOT NULL,
			solution   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create puzzles table: %w", err)
	}
	return nil
}

func (s *PuzzleStore) Insert(ctx context.Context, e PuzzleEntry) error {
	query := `INSERT INTO puzzles (category, solution) VALUES ($1, $2)`

	if _, err := s.db.Exec(ctx, query, e.Category, e.Solution); err != nil {
		return fmt.Errorf("failed to insert puzzle: %w", err)
	}
	return nil
}

func (s *PuzzleStore) List(ctx context.Context) ([]PuzzleEntry, error) {
	query := `
		SELECT category, solution
		FROM puzzles
		ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query puzzles: %w", err)
	}
	defer rows.Close()

	var entries []PuzzleEntry
	for rows.Next() {
		var e PuzzleEntry
		if err := rows.Scan(&e.Category, &e.Solution); err != nil {
			return nil, fmt.Errorf("failed to scan puzzle: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read puzzles: %w", err)
	}

	return entries, nil
}

// LoadPool builds the pool from the table; an empty table is an error.
func (s *PuzzleStore) LoadPool(ctx context.Context) (*Pool, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewPool(entries)
}
