package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/admin"
	"github.com/ethpandaops/kpt/pkg/cache"
	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/checkpoint"
	"github.com/ethpandaops/kpt/pkg/clickhouse"
	"github.com/ethpandaops/kpt/pkg/dependencies"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/metadata"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/ethpandaops/kpt/pkg/pipeline"
	"github.com/ethpandaops/kpt/pkg/schedule"
	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoEngineInput is returned when a run has neither an input nor a metadata source
var ErrNoEngineInput = errors.New("no engine input available")

// Dependencies are the backends a Service runs against
type Dependencies struct {
	Metadata    metadata.Source
	ClickHouse  clickhouse.ClientInterface
	Checkpoints checkpoint.Store
	Cache       cache.Store
	Runs        RunLog
	Alerts      pipeline.AlertSink
	Registry    *catalog.Registry
}

// Service executes the KPI pipeline of entity types
type Service struct {
	log  logrus.FieldLogger
	cfg  *RunConfig
	deps Dependencies
	now  func() time.Time
}

// NewService creates the pipeline service
func NewService(log logrus.FieldLogger, cfg *RunConfig, deps Dependencies) *Service {
	if deps.Checkpoints == nil {
		deps.Checkpoints = checkpoint.NewMemoryStore()
	}

	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryStore()
	}

	return &Service{
		log:  log.WithField("service", "engine"),
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
	}
}

// Run executes the pipeline of one entity type. The run log entry is closed
// with the outcome; a failed run leaves checkpoints untouched.
func (s *Service) Run(ctx context.Context, opts RunOptions) (result *Result, err error) {
	rc := &RunContext{
		ID:      uuid.NewString(),
		Launch:  s.now().UTC(),
		Results: make(map[string]*frame.Frame),
	}

	log := s.log.WithFields(logrus.Fields{
		"tenant":         opts.Tenant,
		"entity_type_id": opts.EntityTypeID,
	})

	entityType := fmt.Sprintf("%d", opts.EntityTypeID)

	observability.RecordRunStart(entityType)

	prog := &progress{log: log, runs: s.deps.Runs}

	if s.deps.Runs != nil {
		run, startErr := s.deps.Runs.Start(ctx, &admin.Run{
			Tenant:       opts.Tenant,
			EntityTypeID: opts.EntityTypeID,
			Trigger:      opts.Trigger,
			LaunchedAt:   rc.Launch,
		})
		if startErr != nil {
			log.WithError(startErr).Warn("Failed to record run start")
		} else {
			rc.ID = run.ID
			prog.runID = run.ID
		}
	}

	log = log.WithField("run_id", rc.ID)
	prog.log = log

	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
			log.WithError(err).Error("Execution of KPI pipeline has failed")
		}

		observability.RecordRunComplete(entityType, status, time.Since(rc.Launch).Seconds())

		if prog.runID != "" {
			// the run log is closed even when ctx was cancelled
			finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()

			if finishErr := s.deps.Runs.Finish(finishCtx, prog.runID, err); finishErr != nil {
				log.WithError(finishErr).Warn("Failed to finish run log entry")
			}
		}
	}()

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	return s.execute(ctx, log, rc, prog, opts)
}

func (s *Service) execute(ctx context.Context, log logrus.FieldLogger, rc *RunContext, prog *progress, opts RunOptions) (*Result, error) {
	input, err := s.engineInput(ctx, opts)
	if err != nil {
		return nil, err
	}

	rc.Input = input
	rc.Items = input.Items()

	log = log.WithField("entity_type", input.EntityTypeName)

	result := &Result{RunID: rc.ID, Launch: rc.Launch, Grains: rc.Results}

	decls, err := input.ResolveDeclarations()
	if err != nil {
		return nil, err
	}

	cat := catalog.New(input.CatalogFunctions, s.deps.Registry)

	tree, err := dependencies.NewBuilder(log, cat, rc.Items).Build(decls)
	if err != nil {
		return nil, err
	}

	queue := dependencies.ProcessingQueue(tree)
	if len(queue) == 0 {
		log.Info("Execution of KPI pipeline was successful, there were no KPIs to be processed")
		prog.setTotal(ctx, 0)

		return result, nil
	}

	rc.Checkpoints = checkpoint.NewTracker(log, s.deps.Checkpoints, input.EntityTypeID, s.cfg.ProductionMode)

	last, err := rc.Checkpoints.LastExecution(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last execution: %w", err)
	}

	scheduled, err := schedule.Apply(log, tree.Tree, queue, last, rc.Launch)
	if err != nil {
		return nil, err
	}

	result.Skipped = scheduled.Skipped

	if len(scheduled.Queue) == 0 {
		log.Info("Execution of KPI pipeline was successful, no KPI is due")
		prog.setTotal(ctx, 0)

		return result, nil
	}

	rc.Backtrack = scheduled.Backtracking()

	plan, err := dependencies.BuildPlan(log, tree, scheduled.Queue, cat)
	if err != nil {
		return nil, err
	}

	result.TotalStages = plan.TotalStages(cat)
	prog.setTotal(ctx, result.TotalStages)

	r := &runner{
		Service: s,
		log:     log,
		rc:      rc,
		prog:    prog,
		tree:    tree,
		plan:    plan,
		cat:     cat,
		cache:   cache.NewFrameCache(log, s.deps.Cache, opts.Tenant, input.EntityTypeName, input.EntityTypeID),
	}

	if err := r.run(ctx, scheduled, opts); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"grains":   len(plan.Steps),
		"stages":   result.TotalStages,
		"duration": time.Since(rc.Launch).String(),
	}).Info("Execution of KPI pipeline was successful")

	return result, nil
}

func (s *Service) engineInput(ctx context.Context, opts RunOptions) (*models.EngineInput, error) {
	if opts.Input != nil {
		return opts.Input, nil
	}

	if s.deps.Metadata == nil {
		return nil, ErrNoEngineInput
	}

	return s.deps.Metadata.EngineInput(ctx, opts.Tenant, opts.EntityTypeID)
}

// RunPipeline runs the pipeline described by a queued task
func (s *Service) RunPipeline(ctx context.Context, payload tasks.PipelinePayload) error {
	_, err := s.Run(ctx, RunOptions{
		Tenant:       payload.Tenant,
		EntityTypeID: payload.EntityTypeID,
		Trigger:      payload.Trigger,
		Force:        payload.Force,
		Entities:     payload.Entities,
		Start:        payload.Start,
		End:          payload.End,
	})

	return err
}

// Tree builds the dependency tree of an entity type without running it
func (s *Service) Tree(ctx context.Context, tenant string, entityTypeID int) (*dependencies.Result, error) {
	input, err := s.engineInput(ctx, RunOptions{Tenant: tenant, EntityTypeID: entityTypeID})
	if err != nil {
		return nil, err
	}

	decls, err := input.ResolveDeclarations()
	if err != nil {
		return nil, err
	}

	cat := catalog.New(input.CatalogFunctions, s.deps.Registry)

	return dependencies.NewBuilder(s.log, cat, input.Items()).Build(decls)
}
