package engine

import (
	"context"
	"time"

	"github.com/ethpandaops/kpt/pkg/admin"
	"github.com/ethpandaops/kpt/pkg/checkpoint"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
)

// Fixed stages reported to the run log besides the generated ones
const (
	StageLoadingDimensions = "LoadingDimensions"
	StageLoadingRawMetrics = "LoadingRawMetrics"
	StageInitializeGrain   = "InitializeGrain"
	StageReload            = "AggregationReloadUpdate"
	StageFinalize          = "FinalizePipeline"
)

// RunOptions selects what a run computes
type RunOptions struct {
	Tenant       string
	EntityTypeID int
	// Trigger names who started the run, recorded in the run log
	Trigger string
	// Force reprocesses everything, ignoring checkpoints and cached aggregates
	Force    bool
	Entities []string
	Start    *time.Time
	End      *time.Time
	// Input skips the metadata lookup
	Input *models.EngineInput
}

// RunContext is the state of one run. A fresh one is created for every run
// and dropped when it ends.
type RunContext struct {
	ID          string
	Launch      time.Time
	Input       *models.EngineInput
	Items       *models.DataItems
	Checkpoints *checkpoint.Tracker
	// Backtrack is set when a KPI recomputes a past range, disabling the cache
	Backtrack bool
	// IgnoreCache is set when the loaded data invalidates cached aggregates
	IgnoreCache bool
	// Results holds the output per grain key, nil for incomplete grains
	Results map[string]*frame.Frame
}

// Result is what a run produced
type Result struct {
	RunID       string
	Launch      time.Time
	TotalStages int
	Skipped     []string
	// Grains holds the output per grain key, the raw level under models.NoGranularity
	Grains map[string]*frame.Frame
}

// Grain returns the output of a grain, nil when it was incomplete or not computed
func (r *Result) Grain(g *models.Granularity) *frame.Frame {
	if r == nil || r.Grains == nil {
		return nil
	}

	return r.Grains[g.Key()]
}

// RunLog records the progress of runs
type RunLog interface {
	Start(ctx context.Context, run *admin.Run) (*admin.Run, error)
	UpdateStage(ctx context.Context, id, stage string) error
	SetTotalStages(ctx context.Context, id string, total int) error
	Finish(ctx context.Context, id string, runErr error) error
}

// progress forwards stage transitions to the run log. Failures are logged
// and never stop a run.
type progress struct {
	log   logrus.FieldLogger
	runs  RunLog
	runID string
}

func (p *progress) StageStarted(ctx context.Context, stage string) {
	if p.runs == nil || p.runID == "" {
		return
	}

	if err := p.runs.UpdateStage(ctx, p.runID, stage); err != nil {
		p.log.WithError(err).WithField("stage", stage).Warn("Failed to update run log stage")
	}
}

func (p *progress) setTotal(ctx context.Context, total int) {
	if p.runs == nil || p.runID == "" {
		return
	}

	if err := p.runs.SetTotalStages(ctx, p.runID, total); err != nil {
		p.log.WithError(err).Warn("Failed to set total stages")
	}
}
