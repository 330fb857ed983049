package schedule

import (
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
)

// Result is the processing queue of a run after schedules were applied
type Result struct {
	Queue []string
	// Skipped are undue KPIs without due descendants
	Skipped []string
	// Held are undue KPIs kept because a descendant still runs
	Held []string
	// Start is the earliest backtrack point, nil when no KPI backtracks
	Start *time.Time
}

// Backtracking reports whether the run recomputes a past range
func (r *Result) Backtracking() bool {
	return r.Start != nil
}

// Apply removes undue KPIs from queue and computes the backtrack start of the
// remaining ones. An undue KPI is only skipped when every KPI depending on it
// is undue too.
func Apply(log logrus.FieldLogger, tree *models.Tree, queue []string, last *time.Time, launch time.Time) (*Result, error) {
	log = log.WithField("component", "schedule")

	undue := make(map[string]bool)
	inQueue := make(map[string]bool, len(queue))

	for _, name := range queue {
		inQueue[name] = true

		d := declaration(tree, name)
		if d == nil || d.Schedule == nil {
			continue
		}

		due, err := IsDue(d.Schedule, last, launch)
		if err != nil {
			return nil, fmt.Errorf("kpi %s: %w", d.Label(), err)
		}

		if !due {
			undue[name] = true
		}
	}

	res := &Result{}
	skipped := make(map[string]bool)

	for _, name := range queue {
		if !undue[name] {
			continue
		}

		if allUndue(tree, name, inQueue, undue) {
			skipped[name] = true
			res.Skipped = append(res.Skipped, name)
		} else {
			res.Held = append(res.Held, name)
		}
	}

	if len(undue) > 0 {
		log.WithFields(logrus.Fields{
			"skipped": res.Skipped,
			"held":    res.Held,
		}).Info("KPIs with undue schedule")
	}

	for _, name := range queue {
		if skipped[name] {
			continue
		}

		res.Queue = append(res.Queue, name)

		d := declaration(tree, name)
		if d == nil || d.Backtrack == nil {
			continue
		}

		if d.Schedule != nil && d.Schedule.StartingAt == "" {
			return nil, fmt.Errorf("kpi %s: %w", d.Label(), ErrMissingStartingAt)
		}

		point, err := BacktrackPoint(d.Backtrack, d.Schedule, launch)
		if err != nil {
			log.WithError(err).WithField("kpi", d.Label()).Warn("Ignoring invalid backtrack")
			continue
		}

		if res.Start == nil || point.Before(*res.Start) {
			res.Start = &point
		}
	}

	if res.Start != nil {
		log.WithField("start", res.Start.Format(time.RFC3339)).Debug("Running with backtrack")
	}

	return res, nil
}

func declaration(tree *models.Tree, name string) *models.Declaration {
	n, ok := tree.Node(name)
	if !ok {
		return nil
	}

	return n.Declaration
}

// allUndue reports whether every queued KPI transitively depending on name is
// undue. Sidecar outputs stand for the KPI producing them.
func allUndue(tree *models.Tree, name string, inQueue, undue map[string]bool) bool {
	for _, child := range tree.AllDescendants(name) {
		key := child

		if d := declaration(tree, child); d != nil && !inQueue[child] {
			if targets := d.Targets(); len(targets) > 0 {
				key = targets[0]
			}
		}

		if inQueue[key] && !undue[key] {
			return false
		}
	}

	return true
}
