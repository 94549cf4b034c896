package envelope

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func (s *PostgresStorage) Get(ctx context.Context, id string) (*Envelope, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, total_nano, spent_nano, window_seconds, window_start, created_at, agents FROM envelopes WHERE id = $1",
		id)

	var env Envelope
	err := row.Scan(&env.ID, &env.TotalNano, &env.SpentNano, &env.WindowSeconds,
		&env.WindowStart, &env.CreatedAt, pq.Array(&env.Agents))
	if err == sql.ErrNoRows {
		return nil, nil // Not found is valid, the ledger decides whether that is an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}
	return &env, nil
}

func (s *PostgresStorage) Set(ctx context.Context, env *Envelope) error {
	// Upsert logic to handle both new and existing envelopes
	query := `
		INSERT INTO envelopes (id, total_nano, spent_nano, window_seconds, window_start, created_at, agents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			spent_nano = EXCLUDED.spent_nano,
			window_start = EXCLUDED.window_start,
			agents = EXCLUDED.agents
	`
	_, err := s.db.ExecContext(ctx, query, env.ID, env.TotalNano, env.SpentNano,
		env.WindowSeconds, env.WindowStart, env.CreatedAt, pq.Array(env.Agents))
	if err != nil {
		return fmt.Errorf("failed to persist envelope: %w", err)
	}
	return nil
}
