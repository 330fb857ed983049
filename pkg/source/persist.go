package source

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethpandaops/kpt/pkg/clickhouse"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/pipeline"
)

// DefaultKPITable receives derived metrics whose item names no table
const DefaultKPITable = "kpi_values"

// Value columns of the KPI tables, one per column type
const (
	valueNumber  = "value_n"
	valueBoolean = "value_b"
	valueString  = "value_s"
	valueTime    = "value_t"
)

// Persister writes derived metric values into the KPI tables, one row per
// entity, timestamp, grain dimensions and item
type Persister struct {
	client clickhouse.ClientInterface
	schema string
	items  *models.DataItems
	now    func() time.Time
}

var _ pipeline.Persister = (*Persister)(nil)

// NewPersister creates a persister writing into schema
func NewPersister(client clickhouse.ClientInterface, schema string, items *models.DataItems) *Persister {
	return &Persister{client: client, schema: schema, items: items, now: time.Now}
}

// Persist writes the non-null values of columns
func (p *Persister) Persist(ctx context.Context, f *frame.Frame, columns []string, grain *models.Granularity) error {
	tables := make(map[string][]map[string]any)
	order := make([]string, 0, 1)
	updated := p.now().UTC().Format(clickhouse.DateTimeLayout)

	for _, name := range columns {
		item, ok := p.items.Get(name)
		if !ok {
			continue
		}

		table := item.SourceTableName
		if table == "" {
			table = DefaultKPITable
		}

		if _, seen := tables[table]; !seen {
			order = append(order, table)
		}

		valueColumn := valueColumnOf(item.ColumnType)

		for row := 0; row < f.NumRows(); row++ {
			v := f.Value(name, row)
			if v == nil {
				continue
			}

			record := map[string]any{
				"entity_id":   "",
				"key":         name,
				"last_update": updated,
				valueColumn:   encodeValue(v, item.ColumnType),
			}

			if id, ok := f.Value(models.EntityIDColumn, row).(string); ok {
				record["entity_id"] = id
			}

			if ts, ok := f.Value(models.TimestampColumn, row).(time.Time); ok {
				record["timestamp"] = ts.UTC().Format(clickhouse.DateTimeLayout)
			}

			if grain != nil {
				for _, dim := range grain.Dimensions {
					column := dim
					if d, ok := p.items.Get(dim); ok {
						column = d.Column()
					}

					record[column] = encodeValue(f.Value(dim, row), "")
				}
			}

			tables[table] = append(tables[table], record)
		}
	}

	for _, table := range order {
		if err := p.client.BulkInsert(ctx, p.qualified(table), tables[table]); err != nil {
			return fmt.Errorf("failed to persist into %s: %w", table, err)
		}
	}

	return nil
}

func (p *Persister) qualified(table string) string {
	if p.schema == "" {
		return clickhouse.Identifier(table)
	}

	return clickhouse.Identifier(p.schema) + "." + clickhouse.Identifier(table)
}

func valueColumnOf(t models.ColumnType) string {
	switch t {
	case models.ColumnNumber:
		return valueNumber
	case models.ColumnBoolean:
		return valueBoolean
	case models.ColumnTimestamp:
		return valueTime
	default:
		return valueString
	}
}

func encodeValue(v any, t models.ColumnType) any {
	if v == nil {
		return nil
	}

	switch t {
	case models.ColumnNumber:
		if f, ok := frame.ToFloat(v); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}

		return nil
	case models.ColumnBoolean:
		return frame.Convert(v, frame.KindBool)
	}

	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(clickhouse.DateTimeLayout)
	}

	if t == "" {
		return v
	}

	return frame.FormatValue(v)
}
