package pipeline

import (
	"context"
	"time"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Progress is told about every stage before it runs
type Progress interface {
	StageStarted(ctx context.Context, stage string)
}

// Pipeline runs stages sequentially, each receiving the output of the previous one
type Pipeline struct {
	log      logrus.FieldLogger
	stages   []Stage
	progress Progress
	label    string
}

// New creates a pipeline. Progress may be nil.
func New(log logrus.FieldLogger, label string, stages []Stage, progress Progress) *Pipeline {
	return &Pipeline{
		log:      log.WithFields(logrus.Fields{"component": "pipeline", "pipeline": label}),
		stages:   stages,
		progress: progress,
		label:    label,
	}
}

// Stages returns the stages of the pipeline
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Execute runs every stage over f and returns the final frame
func (p *Pipeline) Execute(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if p.progress != nil {
			p.progress.StageStarted(ctx, stage.Name())
		}

		start := time.Now()

		out, err := stage.Execute(ctx, f)
		if err != nil {
			observability.RecordStageError(stage.Name())
			p.log.WithError(err).WithField("stage", stage.Name()).Error("Stage failed")

			return nil, err
		}

		observability.RecordStageDuration(stage.Name(), time.Since(start).Seconds())

		p.log.WithFields(logrus.Fields{
			"stage": stage.Name(),
			"rows":  out.NumRows(),
		}).Debug("Stage completed")

		f = out
	}

	return f, nil
}
