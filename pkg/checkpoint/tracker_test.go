package checkpoint

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/kpt/internal/testutil"
	"github.com/ethpandaops/kpt/pkg/clickhouse"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestTrackerAddKeepsLatest(t *testing.T) {
	tr := NewTracker(testLogger(), NewMemoryStore(), 7, true)

	tr.Add("speed", "a", t0)
	tr.Add("speed", "a", t0.Add(-time.Hour))
	tr.Add("speed", "a", t0.Add(time.Minute))
	tr.Add("temp", "a", t0)

	assert.Equal(t, []Entry{
		{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0.Add(time.Minute)},
		{EntityTypeID: 7, EntityID: "a", Key: "temp", Timestamp: t0},
	}, tr.Pending())
}

func TestTrackerRecord(t *testing.T) {
	f, err := frame.New([]string{models.EntityIDColumn, models.TimestampColumn},
		frame.NewColumn(models.EntityIDColumn, frame.KindString, "a", "a", "b", "b"),
		frame.NewColumn(models.TimestampColumn, frame.KindTime, t0, t0.Add(time.Minute), t0, t0.Add(time.Minute)),
		frame.NewColumn("speed", frame.KindFloat, 1.0, nil, 3.0, 4.0),
		frame.NewColumn("site", frame.KindString, "x", "x", "y", "y"),
	)
	require.NoError(t, err)

	tr := NewTracker(testLogger(), NewMemoryStore(), 7, true)
	tr.Record(f, []string{"speed", "missing"})

	assert.Equal(t, []Entry{
		{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0},
		{EntityTypeID: 7, EntityID: "b", Key: "speed", Timestamp: t0.Add(time.Minute)},
	}, tr.Pending())

	dev := NewTracker(testLogger(), NewMemoryStore(), 7, false)
	dev.Record(f, []string{"speed"})
	assert.Empty(t, dev.Pending())
}

func TestTrackerFlushWritesSentinel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr := NewTracker(testLogger(), store, 7, true)

	last, err := tr.LastExecution(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	tr.Add("speed", "a", t0)
	require.NoError(t, tr.Flush(ctx, t0.Add(time.Hour)))
	assert.Empty(t, tr.Pending())

	last, err = tr.LastExecution(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(time.Hour), *last)

	entries, err := store.Entries(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0}}, entries)
}

func TestTrackerLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []Entry{
		{EntityTypeID: 7, EntityID: "fresh", Key: "speed", Timestamp: t0.Add(-30 * time.Minute)},
		{EntityTypeID: 7, EntityID: "fresh", Key: "temp", Timestamp: t0.Add(-10 * time.Minute)},
		{EntityTypeID: 7, EntityID: "recent", Key: "speed", Timestamp: t0.Add(-50 * time.Minute)},
		{EntityTypeID: 7, EntityID: "stale", Key: "speed", Timestamp: t0.Add(-5 * time.Hour)},
		{EntityTypeID: 7, EntityID: "done", Key: "speed", Timestamp: t0},
		{EntityTypeID: 7, EntityID: "other-metric", Key: "pressure", Timestamp: t0.Add(-time.Minute)},
		{EntityTypeID: 8, EntityID: "foreign", Key: "speed", Timestamp: t0},
	}))

	tr := NewTracker(testLogger(), store, 7, true)

	latest := map[string]time.Time{
		"fresh":        t0,
		"recent":       t0.Add(2 * time.Hour), // capped at launch
		"stale":        t0,
		"done":         t0,
		"brand-new":    t0,
		"other-metric": t0,
	}

	state, err := tr.Load(ctx, []string{"speed", "temp"}, latest, t0)
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh", "recent"}, state.Updated)
	require.NotNil(t, state.UpdatedStart)
	assert.Equal(t, t0.Add(-50*time.Minute), *state.UpdatedStart)

	assert.Equal(t, []string{"stale"}, state.Stale)
	require.NotNil(t, state.StaleStart)
	assert.Equal(t, t0.Add(-5*time.Hour), *state.StaleStart)

	assert.Equal(t, []string{"brand-new", "other-metric"}, state.New)

	cp, ok := state.Checkpoint("fresh")
	require.True(t, ok)
	assert.Equal(t, t0.Add(-10*time.Minute), cp)
	assert.False(t, state.Empty())
}

func TestTrackerLoadWithoutCheckpoints(t *testing.T) {
	tr := NewTracker(testLogger(), NewMemoryStore(), 7, true)

	state, err := tr.Load(context.Background(), nil, map[string]time.Time{"b": t0, "a": t0}, t0)
	require.NoError(t, err)

	assert.True(t, state.Empty())
	assert.Equal(t, []string{"a", "b"}, state.New)
	assert.Empty(t, state.Updated)
	assert.Empty(t, state.Stale)
	assert.Nil(t, state.UpdatedStart)
}

func TestTrackerClean(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []Entry{
		{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0},
		{EntityTypeID: 7, EntityID: "a", Key: "temp", Timestamp: t0},
		{EntityTypeID: 7, EntityID: "b", Key: "speed", Timestamp: t0},
	}))

	require.NoError(t, NewTracker(testLogger(), store, 7, false).Clean(ctx, nil, nil))

	tr := NewTracker(testLogger(), store, 7, true)
	require.NoError(t, tr.Clean(ctx, []string{"speed"}, []string{"a"}))

	entries, err := store.Entries(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, tr.Clean(ctx, nil, nil))

	entries, err = store.Entries(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClickHouseStore(t *testing.T) {
	srv := testutil.NewClickHouseServer(t, func(query string) (int, string) {
		switch {
		case strings.Contains(query, "count() AS n"):
			return http.StatusOK, testutil.JSONResult(
				[]testutil.Col{{Name: "n", Type: "UInt64"}, {Name: "timestamp", Type: "String"}},
				map[string]any{"n": "1", "timestamp": "2024-03-05 12:00:00.000"},
			)
		case strings.Contains(query, "SELECT entity_id, key"):
			return http.StatusOK, testutil.JSONResult(
				[]testutil.Col{{Name: "entity_id", Type: "String"}, {Name: "key", Type: "String"}, {Name: "timestamp", Type: "String"}},
				map[string]any{"entity_id": "a", "key": "speed", "timestamp": "2024-03-05 11:00:00.000"},
			)
		default:
			return http.StatusOK, ""
		}
	})

	client, err := clickhouse.NewClient(testLogger(), &clickhouse.Config{URL: srv.URL})
	require.NoError(t, err)

	ctx := context.Background()
	store := NewClickHouseStore(client, "kpi.kpt_checkpoints")

	require.NoError(t, store.Migrate(ctx))
	assert.Len(t, srv.QueriesContaining("ReplacingMergeTree(last_update)"), 1)
	assert.Len(t, srv.QueriesContaining("last_update DateTime64(3, 'UTC')"), 1)

	entries, err := store.Entries(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0.Add(-time.Hour)}}, entries)
	assert.Empty(t, srv.QueriesContaining("SELECT entity_type_id"), "Int64 columns come back quoted and are not read")

	last, err := store.LastExecution(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, t0, *last)

	require.NoError(t, store.Upsert(ctx, []Entry{{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0}}))
	inserts := srv.QueriesContaining("INSERT INTO kpi.kpt_checkpoints FORMAT JSONEachRow")
	require.Len(t, inserts, 1)
	assert.Contains(t, inserts[0], `"timestamp":"2024-03-05 12:00:00.000"`)
	assert.Contains(t, inserts[0], `"entity_type_id":7`)
	assert.Contains(t, inserts[0], `"last_update":`)

	require.NoError(t, store.Delete(ctx, 7, []string{"speed"}, []string{"a", "b"}))
	assert.Len(t, srv.QueriesContaining("DELETE FROM kpi.kpt_checkpoints WHERE entity_type_id = 7 AND key IN ('speed') AND entity_id IN ('a', 'b')"), 1)
}

func TestPostgresStatements(t *testing.T) {
	ddl := postgresDDL(`"kpt_checkpoints"`)
	for _, column := range []string{"entity_type_id", "entity_id", "key", "timestamp", "last_update"} {
		assert.Contains(t, ddl, column+" ")
	}

	assert.Contains(t, ddl, "PRIMARY KEY (entity_type_id, entity_id, key)")

	upsert := postgresUpsert(`"kpt_checkpoints"`)
	assert.Contains(t, upsert, `INSERT INTO "kpt_checkpoints" (entity_type_id, entity_id, key, timestamp, last_update)`)
	assert.Contains(t, upsert, "last_update = now()")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "clickhouse", cfg: Config{Backend: BackendClickHouse}},
		{name: "memory", cfg: Config{Backend: BackendMemory}},
		{name: "postgres without dsn", cfg: Config{Backend: BackendPostgres}, wantErr: ErrDSNRequired},
		{name: "postgres", cfg: Config{Backend: BackendPostgres, Postgres: PostgresConfig{DSN: "postgres://localhost/kpi"}}},
		{name: "unknown", cfg: Config{Backend: "db2"}, wantErr: ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}
}
