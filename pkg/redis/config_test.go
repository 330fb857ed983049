package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, (&Config{}).Validate(), ErrURLRequired)

	cfg := &Config{URL: "redis://localhost:6379/2"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "kpt", cfg.Prefix)
	assert.Equal(t, "kpt:runs", cfg.PrefixKey("runs"))
	assert.Equal(t, "runs", (&Config{}).PrefixKey("runs"))
}

func TestOptions(t *testing.T) {
	opts, err := (&Config{URL: "redis://:secret@cache:6380/2"}).Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	asynqOpts := NewAsynqRedisOptions(opts)
	assert.Equal(t, "cache:6380", asynqOpts.Addr)
	assert.Equal(t, "secret", asynqOpts.Password)
	assert.Equal(t, 2, asynqOpts.DB)

	_, err = (&Config{URL: "://nope"}).Options()
	require.Error(t, err)
}
