package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	frames   map[string]*frame.Frame
	failLoad bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{frames: make(map[string]*frame.Frame)}
}

func cacheKey(dep, grain *models.Granularity, legacy bool) string {
	key := dep.Key() + "__" + grain.Key()
	if legacy {
		key = "legacy/" + key
	}

	return key
}

func (m *memoryCache) Retrieve(_ context.Context, dep, grain *models.Granularity, legacy bool) (*frame.Frame, error) {
	if m.failLoad {
		return nil, errors.New("boom")
	}

	return m.frames[cacheKey(dep, grain, legacy)], nil
}

func (m *memoryCache) Store(_ context.Context, dep, grain *models.Granularity, f *frame.Frame) error {
	m.frames[cacheKey(dep, grain, false)] = f
	return nil
}

func (m *memoryCache) Delete(_ context.Context, dep, grain *models.Granularity, legacy bool) error {
	delete(m.frames, cacheKey(dep, grain, legacy))
	return nil
}

func inputFrame(t *testing.T, ids []string, ts []time.Time, speed []any) *frame.Frame {
	t.Helper()

	idValues := make([]any, len(ids))
	for i, id := range ids {
		idValues[i] = id
	}

	tsValues := make([]any, len(ts))
	for i, v := range ts {
		tsValues[i] = v
	}

	f, err := frame.New([]string{models.EntityIDColumn, models.TimestampColumn},
		frame.NewColumn(models.EntityIDColumn, frame.KindString, idValues...),
		frame.NewColumn(models.TimestampColumn, frame.KindTime, tsValues...),
		frame.NewColumn("speed", frame.KindFloat, speed...),
	)
	require.NoError(t, err)

	return f
}

func TestReloaderMergesAndEvicts(t *testing.T) {
	daily := &models.Granularity{Name: "daily", Frequency: "D", EntityFirst: true}
	cache := newMemoryCache()

	cache.frames[cacheKey(nil, daily, false)] = inputFrame(t,
		[]string{"a", "a", "a"},
		[]time.Time{day0.Add(-2 * time.Hour), day0.Add(30 * time.Minute), day0.Add(5 * time.Hour)},
		[]any{1.0, 2.0, 3.0},
	)

	r := NewReloader(testLogger(), testItems(), cache, ReloadOptions{ProductionMode: true})

	in := inputFrame(t, []string{"a", "a"}, []time.Time{day0.Add(5 * time.Hour), day0.Add(6 * time.Hour)}, []any{nil, 4.0})

	out, err := r.Execute(context.Background(), in, nil, daily)
	require.NoError(t, err)

	// The row from the previous day is evicted, the 05:00 NULL is backfilled.
	assert.Equal(t, 3, out.NumRows())
	assert.Equal(t, 3.0, lookup(t, out, "a", day0.Add(5*time.Hour), "speed"))
	assert.Equal(t, 4.0, lookup(t, out, "a", day0.Add(6*time.Hour), "speed"))
	assert.Equal(t, 2.0, lookup(t, out, "a", day0.Add(30*time.Minute), "speed"))

	assert.Same(t, out, cache.frames[cacheKey(nil, daily, false)])
}

func TestReloaderConcatOnly(t *testing.T) {
	daily := &models.Granularity{Name: "daily", Frequency: "D", EntityFirst: true}
	cache := newMemoryCache()
	cache.frames[cacheKey(nil, daily, false)] = inputFrame(t, []string{"a"}, []time.Time{day0.Add(time.Hour)}, []any{1.0})

	r := NewReloader(testLogger(), testItems(), cache, ReloadOptions{ConcatOnly: true})

	out, err := r.Execute(context.Background(),
		inputFrame(t, []string{"a"}, []time.Time{day0.Add(time.Hour)}, []any{2.0}), nil, daily)
	require.NoError(t, err)

	assert.Equal(t, 2, out.NumRows())
	assert.Equal(t, 1.0, out.Value("speed", 0))
	assert.Equal(t, 2.0, out.Value("speed", 1))
}

func TestReloaderLegacyMigration(t *testing.T) {
	daily := &models.Granularity{Name: "daily", Frequency: "D", EntityFirst: true}
	cache := newMemoryCache()
	cache.frames[cacheKey(nil, daily, true)] = inputFrame(t, []string{"b"}, []time.Time{day0}, []any{9.0})

	r := NewReloader(testLogger(), testItems(), cache, ReloadOptions{ProductionMode: true})

	out, err := r.Execute(context.Background(),
		inputFrame(t, []string{"a"}, []time.Time{day0.Add(time.Hour)}, []any{2.0}), nil, daily)
	require.NoError(t, err)

	assert.Equal(t, 2, out.NumRows())
	assert.NotContains(t, cache.frames, cacheKey(nil, daily, true))
	assert.Contains(t, cache.frames, cacheKey(nil, daily, false))
}

func TestReloaderIndexMismatch(t *testing.T) {
	daily := &models.Granularity{Name: "daily", Frequency: "D", EntityFirst: true}
	cache := newMemoryCache()

	cached := inputFrame(t, []string{"a"}, []time.Time{day0}, []any{1.0})
	require.NoError(t, cached.SetIndex([]string{models.EntityIDColumn}))
	cache.frames[cacheKey(nil, daily, false)] = cached

	r := NewReloader(testLogger(), testItems(), cache, ReloadOptions{})

	_, err := r.Execute(context.Background(),
		inputFrame(t, []string{"a"}, []time.Time{day0}, []any{2.0}), nil, daily)
	require.ErrorIs(t, err, frame.ErrIndexMismatch)
}

func TestReloaderSkips(t *testing.T) {
	daily := &models.Granularity{Name: "daily", Frequency: "D", EntityFirst: true}

	tests := []struct {
		name      string
		opts      ReloadOptions
		failLoad  bool
		wantRows  int
		wantStore bool
	}{
		{name: "backtrack", opts: ReloadOptions{Backtrack: true, ProductionMode: true}, wantRows: 1},
		{name: "ignore cache", opts: ReloadOptions{IgnoreCache: true, ProductionMode: true}, wantRows: 1, wantStore: true},
		{name: "failed load", opts: ReloadOptions{ProductionMode: true}, failLoad: true, wantRows: 1, wantStore: true},
		{name: "test mode", opts: ReloadOptions{}, wantRows: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemoryCache()
			cache.failLoad = tt.failLoad
			cached := inputFrame(t, []string{"z"}, []time.Time{day0}, []any{1.0})
			cache.frames[cacheKey(nil, daily, false)] = cached

			r := NewReloader(testLogger(), testItems(), cache, tt.opts)

			out, err := r.Execute(context.Background(),
				inputFrame(t, []string{"a"}, []time.Time{day0.Add(time.Hour)}, []any{2.0}), nil, daily)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, out.NumRows())

			stored := cache.frames[cacheKey(nil, daily, false)]
			if tt.wantStore {
				assert.Same(t, out, stored)
			} else {
				assert.Same(t, cached, stored)
			}
		})
	}
}

func TestReloaderDimensionWatermark(t *testing.T) {
	grain := &models.Granularity{Name: "shift", Dimensions: []string{models.ShiftDayDimension}, EntityFirst: true}
	cache := newMemoryCache()

	withShift := func(f *frame.Frame, days ...any) *frame.Frame {
		require.NoError(t, f.Set(frame.NewColumn(models.ShiftDayDimension, frame.KindString, days...)))
		return f
	}

	cache.frames[cacheKey(nil, grain, false)] = withShift(
		inputFrame(t, []string{"a", "a"}, []time.Time{day0.Add(-time.Hour), day0}, []any{1.0, 2.0}),
		"2024-03-04", "2024-03-05",
	)

	r := NewReloader(testLogger(), testItems(), cache, ReloadOptions{})

	in := withShift(inputFrame(t, []string{"a", "a"}, []time.Time{day0.Add(time.Hour), day0.Add(2 * time.Hour)},
		[]any{3.0, 4.0}), "2024-03-05", nil)

	out, err := r.Execute(context.Background(), in, nil, grain)
	require.NoError(t, err)

	// The NULL shift day row is dropped and the 2024-03-04 cached row evicted.
	assert.Equal(t, 2, out.NumRows())
	assert.Equal(t, 2.0, lookup(t, out, "a", day0, "speed"))
}
