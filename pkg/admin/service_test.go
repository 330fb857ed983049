package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethpandaops/kpt/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, keep int64) *Service {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)

	return NewService(client, "kpt", time.Hour, keep)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, 10)

	launched := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return launched.Add(time.Minute) }

	run, err := svc.Start(ctx, &Run{Tenant: "acme", EntityTypeID: 7, EntityType: "pumps", LaunchedAt: launched})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, StatusRunning, run.Status)

	require.NoError(t, svc.SetTotalStages(ctx, run.ID, 3))
	require.NoError(t, svc.UpdateStage(ctx, run.ID, "LoadingRawMetrics"))
	require.NoError(t, svc.UpdateStage(ctx, run.ID, "Aggregation"))

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalStages)
	assert.Equal(t, 2, got.StagesDone)
	assert.Equal(t, "Aggregation", got.Stage)

	require.NoError(t, svc.Finish(ctx, run.ID, nil))

	got, err = svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, time.Minute, got.Duration())
}

func TestFinishWithError(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, 10)

	run, err := svc.Start(ctx, &Run{Tenant: "acme", EntityTypeID: 7})
	require.NoError(t, err)

	require.NoError(t, svc.Finish(ctx, run.ID, errors.New("boom")))

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestRecentIsCappedAndNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, 2)

	var ids []string

	for i := 0; i < 3; i++ {
		run, err := svc.Start(ctx, &Run{Tenant: "acme", EntityTypeID: 7})
		require.NoError(t, err)

		ids = append(ids, run.ID)
	}

	_, err := svc.Start(ctx, &Run{Tenant: "acme", EntityTypeID: 8})
	require.NoError(t, err)

	runs, err := svc.Recent(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	runs, err = svc.Recent(ctx, 7, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, 10)

	_, err := svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
	require.ErrorIs(t, svc.UpdateStage(ctx, "missing", "x"), ErrRunNotFound)
}

func TestExpiredRunsAreSkipped(t *testing.T) {
	ctx := context.Background()

	mr, client := testutil.NewMiniredisClient(t)
	svc := NewService(client, "kpt", time.Minute, 10)

	_, err := svc.Start(ctx, &Run{Tenant: "acme", EntityTypeID: 7})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	runs, err := svc.Recent(ctx, 7, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, (&Config{}).Validate(), ErrInvalidKeep)
	require.NoError(t, (&Config{Keep: 1}).Validate())
}
