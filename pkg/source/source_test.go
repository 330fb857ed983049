package source

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/kpt/internal/testutil"
	"github.com/ethpandaops/kpt/pkg/checkpoint"
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

func testItems() *models.DataItems {
	return models.NewDataItems([]models.DataItem{
		{Name: "speed", Type: models.DataItemMetric, ColumnName: "SPEED", ColumnType: models.ColumnNumber},
		{Name: "site", Type: models.DataItemDimension, ColumnName: "SITE", ColumnType: models.ColumnLiteral},
		{Name: "avg_speed", Type: models.DataItemDerived, ColumnType: models.ColumnNumber},
		{Name: "state", Type: models.DataItemDerived, ColumnType: models.ColumnLiteral, SourceTableName: "kpi_states"},
	})
}

func testTables() Tables {
	return Tables{
		Schema:          "iot",
		Metrics:         "pumps",
		Dimensions:      "pumps_dim",
		TimestampColumn: "RCV_TIMESTAMP_UTC",
		EntityColumn:    models.SourceEntityIDColumn,
	}
}

var (
	metricMeta = []testutil.Col{{Name: "id", Type: "String"}, {Name: "timestamp", Type: "String"}, {Name: "speed", Type: "Nullable(Float64)"}}
	dimMeta    = []testutil.Col{{Name: "id", Type: "String"}, {Name: "site", Type: "String"}}
	latestMeta = []testutil.Col{{Name: "entity_id", Type: "String"}, {Name: "latest_timestamp", Type: "String"}}
)

func metricRow(id string, ts time.Time, v float64) map[string]any {
	return map[string]any{"id": id, "timestamp": ts.Format(clickhouse.DateTimeLayout), "speed": v}
}

// respond serves a pump fleet: a has a checkpoint, b is new
func respond(query string) (int, string) {
	switch {
	case strings.Contains(query, "pumps_dim"):
		return http.StatusOK, testutil.JSONResult(dimMeta,
			map[string]any{"id": "a", "site": "north"},
			map[string]any{"id": "b", "site": "south"},
		)
	case strings.Contains(query, "latest_timestamp"):
		return http.StatusOK, testutil.JSONResult(latestMeta,
			map[string]any{"entity_id": "a", "latest_timestamp": t0.Format(clickhouse.DateTimeLayout)},
			map[string]any{"entity_id": "b", "latest_timestamp": t0.Format(clickhouse.DateTimeLayout)},
		)
	case strings.Contains(query, "IN ('a')"):
		return http.StatusOK, testutil.JSONResult(metricMeta,
			metricRow("a", t0.Add(-20*time.Minute), 1),
			metricRow("a", t0.Add(-5*time.Minute), 2),
		)
	case strings.Contains(query, "IN ('b')"):
		return http.StatusOK, testutil.JSONResult(metricMeta, metricRow("b", t0.Add(-time.Hour), 3))
	case strings.Contains(query, "`pumps`"):
		return http.StatusOK, testutil.JSONResult(metricMeta,
			metricRow("a", t0.Add(-20*time.Minute), 1),
			metricRow("b", t0.Add(-time.Hour), 3),
		)
	default:
		return http.StatusOK, ""
	}
}

type countingCleaner struct{ calls int }

func (c *countingCleaner) DeleteAll(context.Context) (int, error) {
	c.calls++
	return 0, nil
}

func newLoader(t *testing.T, store checkpoint.Store, cleaner CacheCleaner) (*Loader, *testutil.ClickHouseServer) {
	t.Helper()

	srv := testutil.NewClickHouseServer(t, respond)

	client, err := clickhouse.NewClient(testLogger(), &clickhouse.Config{URL: srv.URL})
	require.NoError(t, err)

	reader := NewReader(testLogger(), client, testTables(), testItems())
	tracker := checkpoint.NewTracker(testLogger(), store, 7, true)

	return NewLoader(testLogger(), reader, tracker, cleaner, testItems(), "pumps", true), srv
}

func TestRenderMetrics(t *testing.T) {
	start := t0.Add(-time.Hour)

	sql, err := render("metrics", query{
		Table:           "`iot`.`pumps`",
		EntityColumn:    "deviceid",
		TimestampColumn: "RCV_TIMESTAMP_UTC",
		Columns:         []selectColumn{{Name: "speed", Column: "SPEED"}},
		Entities:        quoteAll([]string{"a", "b"}),
		Start:           clickhouse.Quote(start.Format(clickhouse.DateTimeLayout)),
		End:             clickhouse.Quote(t0.Format(clickhouse.DateTimeLayout)),
		NotNull:         []string{"`SPEED` IS NOT NULL"},
	})
	require.NoError(t, err)

	for _, fragment := range []string{
		"`SPEED` AS `speed`",
		"FROM `iot`.`pumps`",
		"IN ('a', 'b')",
		"`RCV_TIMESTAMP_UTC` > parseDateTime64BestEffort('2024-03-05 11:00:00.000', 3, 'UTC')",
		"`RCV_TIMESTAMP_UTC` <= parseDateTime64BestEffort('2024-03-05 12:00:00.000', 3, 'UTC')",
		"AND (`SPEED` IS NOT NULL)",
		"ORDER BY `id`, `timestamp`",
	} {
		assert.Contains(t, sql, fragment)
	}

	open, err := render("metrics", query{Table: "`pumps`", EntityColumn: "deviceid", TimestampColumn: "ts"})
	require.NoError(t, err)
	assert.NotContains(t, open, " IN (")
	assert.NotContains(t, open, "parseDateTime64BestEffort")
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunk([]string{"a", "b", "c", "d", "e"}, 2))
	assert.Equal(t, [][]string{{"a"}}, chunk([]string{"a"}, 2))
}

func TestReaderChunksEntities(t *testing.T) {
	srv := testutil.NewClickHouseServer(t, func(string) (int, string) {
		return http.StatusOK, testutil.JSONResult(metricMeta)
	})

	client, err := clickhouse.NewClient(testLogger(), &clickhouse.Config{URL: srv.URL})
	require.NoError(t, err)

	reader := NewReader(testLogger(), client, testTables(), testItems())
	reader.chunkSize = 2

	f, err := reader.Metrics(context.Background(), []string{"speed"}, nil, nil, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.NumRows())
	assert.Equal(t, []string{models.EntityIDColumn, models.TimestampColumn, "speed"}, f.ColumnNames())
	assert.Len(t, srv.Queries(), 2)
}

func TestLoadIncremental(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []checkpoint.Entry{
		{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0.Add(-10 * time.Minute)},
	}))

	cleaner := &countingCleaner{}
	loader, srv := newLoader(t, store, cleaner)

	loaded, err := loader.Load(ctx, []string{"speed", "site", "avg_speed"}, t0, LoadOptions{})
	require.NoError(t, err)

	assert.False(t, loaded.IgnoreCache)
	assert.Equal(t, 0, cleaner.calls)
	require.NotNil(t, loaded.Start)
	assert.Equal(t, t0.Add(-10*time.Minute), *loaded.Start)

	f := loaded.Frame
	require.Equal(t, 2, f.NumRows())
	assert.Equal(t, []string{models.EntityIDColumn, models.TimestampColumn}, f.Index())

	assert.Equal(t, "a", f.Value(models.EntityIDColumn, 0))
	assert.Equal(t, t0.Add(-5*time.Minute), f.Value(models.TimestampColumn, 0))
	assert.Equal(t, 2.0, f.Value("speed", 0))
	assert.Equal(t, "north", f.Value("site", 0))

	assert.Equal(t, "b", f.Value(models.EntityIDColumn, 1))
	assert.Equal(t, "south", f.Value("site", 1))

	updated := srv.QueriesContaining("IN ('a')")
	require.Len(t, updated, 1)
	assert.Contains(t, updated[0], "> parseDateTime64BestEffort('2024-03-05 11:50:00.000', 3, 'UTC')")

	fresh := srv.QueriesContaining("IN ('b')")
	require.Len(t, fresh, 1)
	assert.NotContains(t, fresh[0], "> parseDateTime64BestEffort")
}

func TestLoadWithoutCheckpointsDropsCache(t *testing.T) {
	cleaner := &countingCleaner{}
	loader, _ := newLoader(t, checkpoint.NewMemoryStore(), cleaner)

	loaded, err := loader.Load(context.Background(), []string{"speed"}, t0, LoadOptions{})
	require.NoError(t, err)

	assert.True(t, loaded.IgnoreCache)
	assert.Equal(t, 1, cleaner.calls)
	assert.Nil(t, loaded.Start)
	assert.Equal(t, 2, loaded.Frame.NumRows())
	assert.False(t, loaded.Frame.Has("site"))
}

func TestLoadForced(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []checkpoint.Entry{
		{EntityTypeID: 7, EntityID: "a", Key: "speed", Timestamp: t0},
	}))

	cleaner := &countingCleaner{}
	loader, srv := newLoader(t, store, cleaner)

	loaded, err := loader.Load(ctx, []string{"speed"}, t0, LoadOptions{Force: true})
	require.NoError(t, err)

	assert.True(t, loaded.IgnoreCache)
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, 2, loaded.Frame.NumRows())
	assert.Empty(t, srv.QueriesContaining("latest_timestamp"))

	entries, err := store.Entries(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersister(t *testing.T) {
	srv := testutil.NewClickHouseServer(t, testutil.Empty)

	client, err := clickhouse.NewClient(testLogger(), &clickhouse.Config{URL: srv.URL})
	require.NoError(t, err)

	f, err := frame.New([]string{models.EntityIDColumn, models.TimestampColumn, "site"},
		frame.NewColumn(models.EntityIDColumn, frame.KindString, "a", "b"),
		frame.NewColumn(models.TimestampColumn, frame.KindTime, t0, t0),
		frame.NewColumn("site", frame.KindString, "north", "south"),
		frame.NewColumn("avg_speed", frame.KindFloat, 1.5, nil),
		frame.NewColumn("state", frame.KindString, "ok", "alarm"),
	)
	require.NoError(t, err)

	p := NewPersister(client, "iot", testItems())
	p.now = func() time.Time { return t0 }

	grain := &models.Granularity{Name: "daily", Frequency: "D", Dimensions: []string{"site"}, EntityFirst: true}
	require.NoError(t, p.Persist(context.Background(), f, []string{"avg_speed", "state"}, grain))

	values := srv.QueriesContaining("INSERT INTO `iot`.`kpi_values`")
	require.Len(t, values, 1)
	assert.Contains(t, values[0], `"SITE":"north"`)
	assert.Contains(t, values[0], `"value_n":1.5`)
	assert.Equal(t, 2, strings.Count(values[0], "\n"), "one statement line plus one row")

	states := srv.QueriesContaining("INSERT INTO `iot`.`kpi_states`")
	require.Len(t, states, 1)
	assert.Contains(t, states[0], `"value_s":"alarm"`)
	assert.Contains(t, states[0], `"timestamp":"2024-03-05 12:00:00.000"`)
}
