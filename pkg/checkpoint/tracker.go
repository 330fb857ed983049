package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/sirupsen/logrus"
)

// StaleAfter is the gap past which an entity with new data is read from its
// own stale start instead of the common start of recently updated entities.
const StaleAfter = 60 * time.Minute

// State is the checkpoint classification of the entities having raw data
type State struct {
	// Checkpoints is the latest checkpoint per entity across the requested metrics
	Checkpoints map[string]time.Time
	// Updated entities have new data within StaleAfter of their checkpoint
	Updated      []string
	UpdatedStart *time.Time
	// Stale entities have new data more than StaleAfter past their checkpoint
	Stale      []string
	StaleStart *time.Time
	// New entities have no checkpoint at all
	New []string
}

// Empty reports whether no checkpoint exists
func (s *State) Empty() bool {
	return len(s.Checkpoints) == 0
}

// Checkpoint returns the checkpoint of an entity
func (s *State) Checkpoint(entity string) (time.Time, bool) {
	ts, ok := s.Checkpoints[entity]
	return ts, ok
}

// Tracker collects checkpoints during a run and writes them once the run succeeds
type Tracker struct {
	log            logrus.FieldLogger
	store          Store
	entityTypeID   int
	productionMode bool

	mu      sync.Mutex
	pending map[string]map[string]time.Time // entity -> metric -> ts
}

// NewTracker creates a tracker for an entity type. Outside production mode
// nothing is written or deleted.
func NewTracker(log logrus.FieldLogger, store Store, entityTypeID int, productionMode bool) *Tracker {
	return &Tracker{
		log:            log.WithFields(logrus.Fields{"component": "checkpoint", "entity_type_id": entityTypeID}),
		store:          store,
		entityTypeID:   entityTypeID,
		productionMode: productionMode,
		pending:        make(map[string]map[string]time.Time),
	}
}

// Add records ts for metric and entity, keeping the latest
func (t *Tracker) Add(metric, entity string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	metrics, ok := t.pending[entity]
	if !ok {
		metrics = make(map[string]time.Time)
		t.pending[entity] = metrics
	}

	if current, ok := metrics[metric]; !ok || current.Before(ts) {
		metrics[metric] = ts
	}
}

// Record adds the latest timestamp per entity of every metric column of f
// holding a value
func (t *Tracker) Record(f *frame.Frame, metrics []string) {
	if !t.productionMode || f == nil {
		return
	}

	for _, metric := range metrics {
		if !f.Has(metric) || f.IsIndex(metric) {
			continue
		}

		for row := 0; row < f.NumRows(); row++ {
			if f.Value(metric, row) == nil {
				continue
			}

			entity, ok := f.Value(models.EntityIDColumn, row).(string)
			if !ok {
				continue
			}

			ts, ok := f.Value(models.TimestampColumn, row).(time.Time)
			if !ok {
				continue
			}

			t.Add(metric, entity, ts)
		}
	}
}

// Pending returns the collected entries sorted by entity and metric
func (t *Tracker) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.pending))

	for entity, metrics := range t.pending {
		for metric, ts := range metrics {
			out = append(out, Entry{EntityTypeID: t.entityTypeID, EntityID: entity, Key: metric, Timestamp: ts})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}

		return out[i].Key < out[j].Key
	})

	return out
}

// Flush upserts the collected entries together with the execution sentinel
// stamped with launch
func (t *Tracker) Flush(ctx context.Context, launch time.Time) error {
	if !t.productionMode {
		return nil
	}

	entries := append(t.Pending(), Entry{EntityTypeID: t.entityTypeID, Timestamp: launch})

	if err := t.store.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("failed to upsert checkpoints: %w", err)
	}

	t.mu.Lock()
	t.pending = make(map[string]map[string]time.Time)
	t.mu.Unlock()

	observability.RecordCheckpointsWritten(t.store.Name(), len(entries))
	t.log.WithField("entries", len(entries)).Info("Checkpoints upserted")

	return nil
}

// LastExecution returns the launch time of the last successful run
func (t *Tracker) LastExecution(ctx context.Context) (*time.Time, error) {
	return t.store.LastExecution(ctx, t.entityTypeID)
}

// Clean removes checkpoints of metrics and entities. Empty lists match everything.
func (t *Tracker) Clean(ctx context.Context, metrics, entities []string) error {
	if !t.productionMode {
		return nil
	}

	if err := t.store.Delete(ctx, t.entityTypeID, metrics, entities); err != nil {
		return err
	}

	t.log.WithFields(logrus.Fields{"metrics": len(metrics), "entities": len(entities)}).Info("Checkpoints deleted")

	return nil
}

// Load classifies the entities of latest, the newest raw timestamp per
// entity, against the stored checkpoints of metrics. Raw timestamps past
// launch are capped at launch.
func (t *Tracker) Load(ctx context.Context, metrics []string, latest map[string]time.Time, launch time.Time) (*State, error) {
	entries, err := t.store.Entries(ctx, t.entityTypeID)
	if err != nil {
		return nil, err
	}

	state := &State{Checkpoints: make(map[string]time.Time)}

	for _, e := range entries {
		if len(metrics) > 0 && !contains(metrics, e.Key) {
			continue
		}

		if current, ok := state.Checkpoints[e.EntityID]; !ok || current.Before(e.Timestamp) {
			state.Checkpoints[e.EntityID] = e.Timestamp
		}
	}

	entities := make([]string, 0, len(latest))
	for entity := range latest {
		entities = append(entities, entity)
	}

	sort.Strings(entities)

	for _, entity := range entities {
		ts := latest[entity]
		if ts.After(launch) {
			ts = launch
		}

		last, ok := state.Checkpoints[entity]
		if !ok {
			state.New = append(state.New, entity)
			continue
		}

		gap := ts.Sub(last)

		switch {
		case gap <= 0:
			// no data past the checkpoint
		case gap <= StaleAfter:
			state.Updated = append(state.Updated, entity)
			state.UpdatedStart = earliest(state.UpdatedStart, last)
		default:
			state.Stale = append(state.Stale, entity)
			state.StaleStart = earliest(state.StaleStart, last)
		}
	}

	t.log.WithFields(logrus.Fields{
		"checkpoints": len(state.Checkpoints),
		"updated":     len(state.Updated),
		"stale":       len(state.Stale),
		"new":         len(state.New),
	}).Debug("Loaded checkpoints")

	return state, nil
}

func earliest(current *time.Time, ts time.Time) *time.Time {
	if current == nil || ts.Before(*current) {
		return &ts
	}

	return current
}
