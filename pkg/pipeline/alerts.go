package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Alert is one raised alert flag
type Alert struct {
	EntityTypeID int
	EntityID     string
	Timestamp    time.Time
	Name         string
	Value        any
}

// AlertSink publishes alerts
type AlertSink interface {
	Publish(ctx context.Context, alerts []Alert) error
}

// ProduceAlerts publishes a row for every set value of the alert columns
// among Columns. Alert columns are data items tagged ALERT.
type ProduceAlerts struct {
	log          logrus.FieldLogger
	sink         AlertSink
	items        *models.DataItems
	entityTypeID int
	Columns      []string
}

// Name returns the stage name
func (p *ProduceAlerts) Name() string { return "ProduceAlerts" }

// Execute publishes alerts and returns f unchanged
func (p *ProduceAlerts) Execute(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	if p.sink == nil {
		return f, nil
	}

	var alerts []Alert

	for _, name := range p.Columns {
		item, ok := p.items.Get(name)
		if !ok || !item.HasTag(models.TagAlert) {
			continue
		}

		c, ok := f.Column(name)
		if !ok {
			continue
		}

		for r, v := range c.Values {
			if !raised(v) {
				continue
			}

			ts, _ := f.Value(models.TimestampColumn, r).(time.Time)

			alerts = append(alerts, Alert{
				EntityTypeID: p.entityTypeID,
				EntityID:     frame.FormatValue(f.Value(models.EntityIDColumn, r)),
				Timestamp:    ts,
				Name:         name,
				Value:        v,
			})
		}
	}

	if len(alerts) == 0 {
		return f, nil
	}

	if err := p.sink.Publish(ctx, alerts); err != nil {
		return nil, fmt.Errorf("failed to publish %d alerts: %w", len(alerts), err)
	}

	observability.RecordAlertsProduced(len(alerts))
	p.log.WithField("alerts", len(alerts)).Info("Produced alerts")

	return f, nil
}

func raised(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "false"
	default:
		return true
	}
}

// RedisAlertSink appends alerts to a redis stream
type RedisAlertSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisAlertSink creates a sink writing to stream, trimmed to about maxLen
// entries when maxLen is positive
func NewRedisAlertSink(client *redis.Client, stream string, maxLen int64) *RedisAlertSink {
	return &RedisAlertSink{client: client, stream: stream, maxLen: maxLen}
}

// Publish adds all alerts in one round trip
func (s *RedisAlertSink) Publish(ctx context.Context, alerts []Alert) error {
	pipe := s.client.Pipeline()

	for _, a := range alerts {
		args := &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]any{
				"entity_type_id": strconv.Itoa(a.EntityTypeID),
				"entity_id":      a.EntityID,
				"timestamp":      a.Timestamp.UTC().Format(time.RFC3339Nano),
				"alert":          a.Name,
				"value":          frame.FormatValue(a.Value),
			},
		}

		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}

		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add alerts to stream %s: %w", s.stream, err)
	}

	return nil
}
