package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresStore keeps checkpoints in a postgres table keyed by entity type, entity and key
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and verifies the connection
func NewPostgresStore(ctx context.Context, dsn, table string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

// Name returns "postgres"
func (s *PostgresStore) Name() string { return "postgres" }

// Migrate creates the checkpoint table
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresDDL(s.table)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}

	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Entries reads the rows of an entity type
func (s *PostgresStore) Entries(ctx context.Context, entityTypeID int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT entity_id, key, timestamp FROM %s
		WHERE entity_type_id = $1 AND entity_id <> ''
		ORDER BY entity_id, key`, s.table), entityTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		e := Entry{EntityTypeID: entityTypeID}
		if err := rows.Scan(&e.EntityID, &e.Key, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}

		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}

	return out, rows.Err()
}

// Upsert writes every row in a single batch
func (s *PostgresStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	query := postgresUpsert(s.table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.EntityTypeID, e.EntityID, e.Key, e.Timestamp.UTC())
	}

	results := s.pool.SendBatch(ctx, batch)

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to upsert checkpoint %d: %w", i, err)
		}
	}

	return results.Close()
}

// Delete removes matching rows
func (s *PostgresStore) Delete(ctx context.Context, entityTypeID int, keys, entities []string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE entity_type_id = $1`, s.table)
	args := []any{entityTypeID}

	if len(keys) > 0 {
		args = append(args, keys)
		query += fmt.Sprintf(" AND key = ANY($%d)", len(args))
	}

	if len(entities) > 0 {
		args = append(args, entities)
		query += fmt.Sprintf(" AND entity_id = ANY($%d)", len(args))
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}

	return nil
}

// LastExecution reads the sentinel row
func (s *PostgresStore) LastExecution(ctx context.Context, entityTypeID int) (*time.Time, error) {
	var ts time.Time

	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT timestamp FROM %s
		WHERE entity_type_id = $1 AND entity_id = '' AND key = ''`, s.table), entityTypeID).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read last execution: %w", err)
	}

	ts = ts.UTC()

	return &ts, nil
}

func postgresDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			entity_type_id INTEGER NOT NULL,
			entity_id TEXT NOT NULL,
			key TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			last_update TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (entity_type_id, entity_id, key)
		)`, table)
}

func postgresUpsert(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (entity_type_id, entity_id, key, timestamp, last_update)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (entity_type_id, entity_id, key)
		DO UPDATE SET timestamp = EXCLUDED.timestamp, last_update = now()`, table)
}
