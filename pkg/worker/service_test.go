package worker

import (
	"context"
	"io"
	"testing"

	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

type recordingRunner struct {
	calls []tasks.PipelinePayload
}

func (r *recordingRunner) RunPipeline(_ context.Context, payload tasks.PipelinePayload) error {
	r.calls = append(r.calls, payload)
	return nil
}

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, (&Config{}).Validate(), ErrInvalidConcurrency)
	require.NoError(t, (&Config{Concurrency: 1}).Validate())
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	_, err := NewService(testLogger(), &Config{}, &asynq.RedisClientOpt{}, &recordingRunner{})
	require.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestServeMuxRoutesPipelineRuns(t *testing.T) {
	runner := &recordingRunner{}
	mux := NewServeMux(testLogger(), runner)

	task, err := tasks.NewPipelineTask(tasks.PipelinePayload{Tenant: "acme", EntityTypeID: 3})
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), task))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, 3, runner.calls[0].EntityTypeID)

	err = mux.ProcessTask(context.Background(), asynq.NewTask("unknown:type", nil))
	require.Error(t, err)
}
