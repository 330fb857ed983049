package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	r "github.com/ethpandaops/kpt/pkg/redis"
	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"empty", Config{DefaultCron: "@every 15m"}, nil},
		{"default cron", Config{DefaultCron: "@every 15m", EntityTypes: []Entry{{EntityTypeID: 1}}}, nil},
		{"standard cron", Config{EntityTypes: []Entry{{EntityTypeID: 1, Cron: "*/5 * * * *"}}}, nil},
		{"descriptor", Config{EntityTypes: []Entry{{EntityTypeID: 1, Cron: "@hourly"}}}, nil},
		{"bad cron", Config{EntityTypes: []Entry{{EntityTypeID: 1, Cron: "every five minutes"}}}, ErrInvalidCron},
		{"missing cron", Config{EntityTypes: []Entry{{EntityTypeID: 1}}}, ErrInvalidCron},
		{"bad id", Config{DefaultCron: "@daily", EntityTypes: []Entry{{EntityTypeID: 0}}}, ErrInvalidEntityType},
		{"duplicate", Config{DefaultCron: "@daily", EntityTypes: []Entry{{EntityTypeID: 2}, {EntityTypeID: 2}}}, ErrDuplicateEntityType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tt.err)
		})
	}

	bad := Config{Location: "Mars/Olympus_Mons"}
	require.Error(t, bad.Validate())
}

func TestBuildTasks(t *testing.T) {
	cfg := &Config{
		DefaultCron: "@every 15m",
		TaskTimeout: time.Hour,
		EntityTypes: []Entry{
			{EntityTypeID: 1},
			{EntityTypeID: 2, Cron: "0 6 * * *", Force: true},
		},
	}

	scheduled, err := BuildTasks(cfg, "acme")
	require.NoError(t, err)
	require.Len(t, scheduled, 2)

	assert.Equal(t, "@every 15m", scheduled[0].Spec)
	assert.Equal(t, "0 6 * * *", scheduled[1].Spec)

	payload, err := tasks.ParsePipelinePayload(scheduled[1].Task)
	require.NoError(t, err)
	assert.Equal(t, "acme", payload.Tenant)
	assert.Equal(t, 2, payload.EntityTypeID)
	assert.True(t, payload.Force)
	assert.Equal(t, tasks.TriggerSchedule, payload.Trigger)

	var queue any
	for _, o := range scheduled[1].Opts {
		if o.Type() == asynq.QueueOpt {
			queue = o.Value()
		}
	}

	assert.Equal(t, tasks.QueueName, queue)

	_, err = BuildTasks(cfg, "")
	require.ErrorIs(t, err, tasks.ErrTenantRequired)
}

func TestDisabledSchedulerStartsAndStops(t *testing.T) {
	cfg := &Config{Enabled: false, DefaultCron: "@daily", EntityTypes: []Entry{{EntityTypeID: 1}}}

	svc, err := NewService(testLogger(), cfg, "acme", &redis.Options{Addr: "127.0.0.1:0"}, &r.Config{Prefix: "kpt"})
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := &Config{EntityTypes: []Entry{{EntityTypeID: -1}}}

	_, err := NewService(testLogger(), cfg, "acme", &redis.Options{}, &r.Config{})
	require.ErrorIs(t, err, ErrInvalidEntityType)
}
