package engine

import (
	"context"
	"io"
	"testing"

	"github.com/ethpandaops/kpt/internal/testutil"
	"github.com/ethpandaops/kpt/pkg/cache"
	"github.com/ethpandaops/kpt/pkg/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationLifecycle(t *testing.T) {
	mr, _ := testutil.NewMiniredisClient(t)
	srv := testutil.NewClickHouseServer(t, testutil.Empty)

	cfg := validConfig(t)
	cfg.MetricsAddr = ""
	cfg.Redis.URL = testutil.RedisURL(mr)
	cfg.ClickHouse.URL = srv.URL
	cfg.Checkpoint.Backend = checkpoint.BackendMemory
	cfg.Cache.Backend = cache.BackendMemory
	cfg.API.Enabled = true
	cfg.API.Addr = "127.0.0.1:0"

	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx := context.Background()

	app, err := NewApplication(ctx, log, cfg, Roles{API: true, Scheduler: true})
	require.NoError(t, err)

	assert.NotNil(t, app.Engine())
	assert.NotNil(t, app.Queue())
	assert.Nil(t, app.worker)

	require.NoError(t, app.Start(ctx))
	assert.Contains(t, srv.Queries(), "SELECT 1")

	require.NoError(t, app.Stop())
}

func TestApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Tenant = ""

	_, err := NewApplication(context.Background(), logrus.New(), cfg, AllRoles())
	require.ErrorIs(t, err, ErrTenantRequired)
}
