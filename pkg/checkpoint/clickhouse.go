package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/kpt/pkg/clickhouse"
)

// ClickHouseStore keeps checkpoints in a ReplacingMergeTree table. Inserts
// replace rows with the same entity type, entity and key once merged, and
// reads use FINAL.
type ClickHouseStore struct {
	client clickhouse.ClientInterface
	table  string
}

var _ Store = (*ClickHouseStore)(nil)

// clickhouseRow is the JSONEachRow form of a checkpoint. FORMAT JSON quotes
// 64-bit integers, so reads never select entity_type_id.
type clickhouseRow struct {
	EntityTypeID int    `json:"entity_type_id"`
	EntityID     string `json:"entity_id"`
	Key          string `json:"key"`
	Timestamp    string `json:"timestamp"`
	LastUpdate   string `json:"last_update,omitempty"`
}

// NewClickHouseStore creates a store over table (database qualified or not)
func NewClickHouseStore(client clickhouse.ClientInterface, table string) *ClickHouseStore {
	return &ClickHouseStore{client: client, table: table}
}

// Name returns "clickhouse"
func (s *ClickHouseStore) Name() string { return "clickhouse" }

// Migrate creates the checkpoint table when it does not exist
func (s *ClickHouseStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			entity_type_id Int64,
			entity_id String,
			key String,
			timestamp DateTime64(3, 'UTC'),
			last_update DateTime64(3, 'UTC') DEFAULT now64(3)
		)
		ENGINE = ReplacingMergeTree(last_update)
		ORDER BY (entity_type_id, entity_id, key)
	`, s.table)

	if _, err := s.client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to create checkpoint table %s: %w", s.table, err)
	}

	return nil
}

// Entries reads the merged checkpoint rows of an entity type
func (s *ClickHouseStore) Entries(ctx context.Context, entityTypeID int) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT entity_id, key, toString(timestamp) AS timestamp
		FROM %s FINAL
		WHERE entity_type_id = %d AND entity_id != ''
		ORDER BY entity_id, key
	`, s.table, entityTypeID)

	var rows []clickhouseRow
	if err := s.client.QueryMany(ctx, query, &rows); err != nil {
		return nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}

	out := make([]Entry, 0, len(rows))

	for _, r := range rows {
		ts, err := clickhouse.ParseTime(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s/%s: %w", r.EntityID, r.Key, err)
		}

		out = append(out, Entry{EntityTypeID: entityTypeID, EntityID: r.EntityID, Key: r.Key, Timestamp: ts})
	}

	return out, nil
}

// Upsert inserts rows in one JSONEachRow statement
func (s *ClickHouseStore) Upsert(ctx context.Context, entries []Entry) error {
	now := time.Now().UTC().Format(clickhouse.DateTimeLayout)
	rows := make([]clickhouseRow, 0, len(entries))

	for _, e := range entries {
		rows = append(rows, clickhouseRow{
			EntityTypeID: e.EntityTypeID,
			EntityID:     e.EntityID,
			Key:          e.Key,
			Timestamp:    e.Timestamp.UTC().Format(clickhouse.DateTimeLayout),
			LastUpdate:   now,
		})
	}

	return s.client.BulkInsert(ctx, s.table, rows)
}

// Delete removes matching rows with a lightweight delete
func (s *ClickHouseStore) Delete(ctx context.Context, entityTypeID int, keys, entities []string) error {
	conditions := []string{fmt.Sprintf("entity_type_id = %d", entityTypeID)}

	if len(keys) > 0 {
		conditions = append(conditions, fmt.Sprintf("key IN (%s)", clickhouse.QuoteList(keys)))
	}

	if len(entities) > 0 {
		conditions = append(conditions, fmt.Sprintf("entity_id IN (%s)", clickhouse.QuoteList(entities)))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, strings.Join(conditions, " AND "))

	if _, err := s.client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}

	return nil
}

// LastExecution reads the sentinel row
func (s *ClickHouseStore) LastExecution(ctx context.Context, entityTypeID int) (*time.Time, error) {
	query := fmt.Sprintf(`
		SELECT count() AS n, toString(max(timestamp)) AS timestamp
		FROM %s FINAL
		WHERE entity_type_id = %d AND entity_id = '' AND key = ''
	`, s.table, entityTypeID)

	var result struct {
		N         uint64 `json:"n,string"`
		Timestamp string `json:"timestamp"`
	}

	if err := s.client.QueryOne(ctx, query, &result); err != nil {
		return nil, fmt.Errorf("failed to read last execution: %w", err)
	}

	if result.N == 0 {
		return nil, nil
	}

	ts, err := clickhouse.ParseTime(result.Timestamp)
	if err != nil {
		return nil, err
	}

	return &ts, nil
}
