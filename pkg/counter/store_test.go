package counter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_IncrementAggregates(t *testing.T) {
	t.Parallel()

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Increment(ctx, "SegmentEditor", "apply", "2026-08-24"))
			require.NoError(t, store.Increment(ctx, "SegmentEditor", "apply", "2026-08-24"))
			require.NoError(t, store.Increment(ctx, "SegmentEditor", "apply", "2026-08-25"))
			require.NoError(t, store.Increment(ctx, "Markups", "place-point", "2026-08-25"))

			counts, err := store.Pending(ctx)
			require.NoError(t, err)
			assert.Equal(t, []Count{
				{Component: "SegmentEditor", Event: "apply", Day: "2026-08-24", Times: 2},
				{Component: "Markups", Event: "place-point", Day: "2026-08-25", Times: 1},
				{Component: "SegmentEditor", Event: "apply", Day: "2026-08-25", Times: 1},
			}, counts)
		})
	}
}

func TestStore_IncrementValidatesKey(t *testing.T) {
	t.Parallel()

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.ErrorIs(t, store.Increment(ctx, "", "apply", "2026-08-25"), ErrEmptyComponent)
			assert.ErrorIs(t, store.Increment(ctx, "SegmentEditor", "", "2026-08-25"), ErrEmptyEvent)
			assert.ErrorIs(t, store.Increment(ctx, "SegmentEditor", "apply", ""), ErrEmptyDay)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Increment(ctx, "SampleData", "download", "2026-08-25"))
			require.NoError(t, store.Clear(ctx))

			counts, err := store.Pending(ctx)
			require.NoError(t, err)
			assert.Empty(t, counts)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Increment(ctx, "VolumeRendering", "apply", "2026-08-25"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	counts, err := reopened.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(1), counts[0].Times)
}

func TestSQLiteStore_RecoversFromCorruptDatabase(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "usage.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("this is not a sqlite database"), 0o644))

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Increment(context.Background(), "SegmentEditor", "apply", "2026-08-25"))

	// The corrupt file was moved aside, not destroyed.
	_, err = os.Stat(dbPath + ".bak")
	assert.NoError(t, err)
}

func TestSQLiteStore_MigrationsApplied(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer store.Close()

	applied, err := NewMigrationManager(store.db).GetAppliedMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, applied, len(getAllMigrations()))
	assert.Equal(t, "001_add_unique_counter_index", applied[0].Name)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	counts := []Count{
		{Component: "SegmentEditor", Event: "apply", Day: "2026-08-24", Times: 2},
		{Component: "SegmentEditor", Event: "undo", Day: "2026-08-25", Times: 1},
		{Component: "Markups", Event: "place-point", Day: "2026-08-25", Times: 5},
	}

	summary := Summarize(counts)
	assert.Equal(t, int64(8), summary.Total)
	assert.Equal(t, []GroupCount{
		{Name: "2026-08-24", Times: 2},
		{Name: "2026-08-25", Times: 6},
	}, summary.ByDay)
	assert.Equal(t, []GroupCount{
		{Name: "Markups", Times: 5},
		{Name: "SegmentEditor", Times: 3},
	}, summary.ByComponent)
	assert.Equal(t, []GroupCount{
		{Name: "place-point", Times: 5},
		{Name: "apply", Times: 2},
		{Name: "undo", Times: 1},
	}, summary.ByEvent)
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	summary := Summarize(nil)
	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.ByDay)
}
