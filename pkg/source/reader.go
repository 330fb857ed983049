package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/clickhouse"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
)

// EntityChunkSize bounds the entity list of a single statement
const EntityChunkSize = 20000

// ErrNoMetricsTable is returned when the entity type has no metrics table
var ErrNoMetricsTable = errors.New("entity type has no metrics table")

// Tables locates the raw data of an entity type
type Tables struct {
	Schema          string
	Metrics         string
	Dimensions      string
	TimestampColumn string
	EntityColumn    string
}

// TablesOf returns the tables an engine input points to
func TablesOf(in *models.EngineInput) Tables {
	ts := in.MetricTimestampColumn
	if ts == "" {
		ts = "rcv_timestamp_utc"
	}

	return Tables{
		Schema:          in.SchemaName,
		Metrics:         in.MetricsTableName,
		Dimensions:      in.DimensionsTable,
		TimestampColumn: ts,
		EntityColumn:    models.SourceEntityIDColumn,
	}
}

func (t Tables) qualified(table string) string {
	if t.Schema == "" {
		return clickhouse.Identifier(table)
	}

	return clickhouse.Identifier(t.Schema) + "." + clickhouse.Identifier(table)
}

// Reader queries raw metrics and dimensions
type Reader struct {
	log       logrus.FieldLogger
	client    clickhouse.ClientInterface
	tables    Tables
	items     *models.DataItems
	chunkSize int
}

// NewReader creates a reader over the tables of an entity type
func NewReader(log logrus.FieldLogger, client clickhouse.ClientInterface, tables Tables, items *models.DataItems) *Reader {
	return &Reader{
		log:       log.WithField("component", "source_reader"),
		client:    client,
		tables:    tables,
		items:     items,
		chunkSize: EntityChunkSize,
	}
}

// LatestTimestamps returns the newest timestamp per entity across metrics,
// considering only rows where the metric is set
func (r *Reader) LatestTimestamps(ctx context.Context, metrics []string) (map[string]time.Time, error) {
	if r.tables.Metrics == "" {
		return nil, ErrNoMetricsTable
	}

	latest := make(map[string]time.Time)

	for _, name := range metrics {
		item, ok := r.items.Get(name)
		if !ok {
			continue
		}

		sql, err := render("latest", query{
			Table:           r.tables.qualified(r.tables.Metrics),
			EntityColumn:    r.tables.EntityColumn,
			TimestampColumn: r.tables.TimestampColumn,
			Column:          item.Column(),
		})
		if err != nil {
			return nil, err
		}

		var rows []struct {
			EntityID string `json:"entity_id"`
			Latest   string `json:"latest_timestamp"`
		}

		if err := r.client.QueryMany(ctx, sql, &rows); err != nil {
			return nil, fmt.Errorf("failed to read latest timestamps of %s: %w", name, err)
		}

		for _, row := range rows {
			ts, err := clickhouse.ParseTime(row.Latest)
			if err != nil {
				return nil, fmt.Errorf("latest timestamp of %s: %w", row.EntityID, err)
			}

			if current, ok := latest[row.EntityID]; !ok || current.Before(ts) {
				latest[row.EntityID] = ts
			}
		}
	}

	return latest, nil
}

// Metrics reads metric rows with start < timestamp <= end. Nil bounds are
// open and an empty entity list reads every entity.
func (r *Reader) Metrics(ctx context.Context, metrics []string, start, end *time.Time, entities []string) (*frame.Frame, error) {
	if r.tables.Metrics == "" {
		return nil, ErrNoMetricsTable
	}

	q := query{
		Table:           r.tables.qualified(r.tables.Metrics),
		EntityColumn:    r.tables.EntityColumn,
		TimestampColumn: r.tables.TimestampColumn,
	}

	for _, name := range metrics {
		item, ok := r.items.Get(name)
		if !ok {
			continue
		}

		q.Columns = append(q.Columns, selectColumn{Name: name, Column: item.Column()})
		q.NotNull = append(q.NotNull, clickhouse.Identifier(item.Column())+" IS NOT NULL")
	}

	if start != nil {
		q.Start = clickhouse.Quote(start.UTC().Format(clickhouse.DateTimeLayout))
	}

	if end != nil {
		q.End = clickhouse.Quote(end.UTC().Format(clickhouse.DateTimeLayout))
	}

	index := []string{models.EntityIDColumn, models.TimestampColumn}
	schema := []*frame.Column{
		frame.NewColumn(models.EntityIDColumn, frame.KindString),
		frame.NewColumn(models.TimestampColumn, frame.KindTime),
	}

	for _, c := range q.Columns {
		schema = append(schema, frame.NewColumn(c.Name, r.items.Kind(c.Name)))
	}

	chunks, err := r.readChunks(ctx, "metrics", q, entities, index, schema)
	if err != nil {
		return nil, err
	}

	f := frame.Concat(chunks...)

	r.log.WithFields(logrus.Fields{
		"metrics":  len(q.Columns),
		"entities": len(entities),
		"rows":     f.NumRows(),
	}).Debug("Loaded raw metrics")

	return f, nil
}

// Dimensions reads the dimension values of entities, keyed by entity id
func (r *Reader) Dimensions(ctx context.Context, dimensions []string, entities []string) (*frame.Frame, error) {
	index := []string{models.EntityIDColumn}
	schema := []*frame.Column{frame.NewColumn(models.EntityIDColumn, frame.KindString)}

	q := query{
		Table:        r.tables.qualified(r.tables.Dimensions),
		EntityColumn: r.tables.EntityColumn,
	}

	for _, name := range dimensions {
		item, ok := r.items.Get(name)
		if !ok {
			continue
		}

		q.Columns = append(q.Columns, selectColumn{Name: name, Column: item.Column()})
		schema = append(schema, frame.NewColumn(name, r.items.Kind(name)))
	}

	if r.tables.Dimensions == "" || len(q.Columns) == 0 {
		return frame.New(index, schema...)
	}

	chunks, err := r.readChunks(ctx, "dimensions", q, entities, index, schema)
	if err != nil {
		return nil, err
	}

	return frame.Concat(chunks...), nil
}

// readChunks runs tmpl once per entity chunk. The first frame is an empty
// frame carrying schema so the concatenation keeps its column order.
func (r *Reader) readChunks(ctx context.Context, tmpl string, q query, entities, index []string, schema []*frame.Column) ([]*frame.Frame, error) {
	batches := [][]string{nil}
	if len(entities) > 0 {
		batches = chunk(entities, r.chunkSize)
	}

	empty, err := frame.New(index, schema...)
	if err != nil {
		return nil, err
	}

	kinds := make(map[string]frame.Kind, len(schema))
	for _, c := range schema {
		kinds[c.Name] = c.Kind
	}

	out := make([]*frame.Frame, 0, len(batches)+1)
	out = append(out, empty)

	for _, batch := range batches {
		q.Entities = quoteAll(batch)

		sql, err := render(tmpl, q)
		if err != nil {
			return nil, err
		}

		result, err := r.client.QueryRows(ctx, sql)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", tmpl, err)
		}

		f, err := toFrame(result, index, kinds)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	return out, nil
}

// toFrame converts a result set, coercing values into the declared kinds
func toFrame(result *clickhouse.Result, index []string, kinds map[string]frame.Kind) (*frame.Frame, error) {
	columns := make([]*frame.Column, 0, len(result.Columns))

	for _, meta := range result.Columns {
		kind, ok := kinds[meta.Name]
		if !ok {
			kind = frame.KindAny
		}

		values := make([]any, len(result.Rows))
		for i, row := range result.Rows {
			values[i] = frame.Convert(normalize(row[meta.Name]), kind)
		}

		columns = append(columns, frame.NewColumn(meta.Name, kind, values...))
	}

	return frame.New(index, columns...)
}

func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}

	if f, err := n.Float64(); err == nil {
		return f
	}

	return n.String()
}

func chunk(list []string, size int) [][]string {
	var out [][]string

	for size < len(list) {
		out = append(out, list[:size])
		list = list[size:]
	}

	return append(out, list)
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = clickhouse.Quote(v)
	}

	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}

	return false
}
