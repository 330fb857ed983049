package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeWindow(t *testing.T) {
	tests := []struct {
		name      string
		flags     rangeFlags
		wantStart *time.Time
		wantErr   bool
	}{
		{name: "open", flags: rangeFlags{}},
		{
			name:      "start only",
			flags:     rangeFlags{start: "2024-03-01T02:00:00+02:00"},
			wantStart: ptr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		},
		{name: "inverted", flags: rangeFlags{start: "2024-03-05T00:00:00Z", end: "2024-03-01T00:00:00Z"}, wantErr: true},
		{name: "malformed", flags: rangeFlags{end: "yesterday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, _, err := tt.flags.window()
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
tenant: acme
logging: debug
metadata:
  baseUrl: http://metadata.local
clickhouse:
  url: http://clickhouse.local:8123
redis:
  url: redis://localhost:6379/0
scheduler:
  entityTypes:
    - entityTypeId: 7
      cron: "*/5 * * * *"
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Tenant)
	assert.Equal(t, "kpt", cfg.Redis.Prefix)
	assert.True(t, cfg.Engine.ProductionMode)
	require.Len(t, cfg.Scheduler.EntityTypes, 1)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Spec(cfg.Scheduler.EntityTypes[0]))

	require.NoError(t, os.WriteFile(path, []byte("logging: info\n"), 0o600))

	_, err = loadConfig(path)
	require.Error(t, err, "a config without tenant is rejected")
}
