package migration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/domain/core/entities"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// seedStore fills a fake source with a small connected graph
func seedStore(t *testing.T, store *fakeStore, memories, relationships int) {
	t.Helper()
	ctx := context.Background()

	var ids []*entities.Memory
	for i := 0; i < memories; i++ {
		memory, err := entities.NewMemory(entities.MemoryTypeInsight,
			fmt.Sprintf("memory %d", i), fmt.Sprintf("content for memory %d", i), nil)
		require.NoError(t, err)
		require.NoError(t, store.SaveMemory(ctx, memory))
		ids = append(ids, memory)
	}
	for i := 0; i < relationships && i+1 < len(ids); i++ {
		rel, err := entities.NewRelationship(ids[i].ID, ids[i+1].ID,
			entities.RelationRelatedTo, entities.RelationshipProperties{})
		require.NoError(t, err)
		require.NoError(t, store.SaveRelationship(ctx, rel))
	}
}

func TestMigrate_RoundTrip(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	seedStore(t, source, 5, 3)

	opts := DefaultOptions()
	opts.SampleSize = 5

	result, err := NewManager(nil, nil).Migrate(context.Background(), source, target, opts)

	require.NoError(t, err)
	assert.Equal(t, PhaseDone, result.Phase)
	assert.Equal(t, int64(5), result.MemoriesMigrated)
	assert.Equal(t, int64(3), result.RelationshipsMigrated)
	assert.Equal(t, int64(0), result.MemoriesSkipped)

	count, err := target.CountMemories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestMigrate_SmallBatches(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("sqlite")
	seedStore(t, source, 7, 4)

	opts := DefaultOptions()
	opts.BatchSize = 2

	result, err := NewManager(nil, nil).Migrate(context.Background(), source, target, opts)

	require.NoError(t, err)
	assert.Equal(t, int64(7), result.MemoriesMigrated)
	assert.Equal(t, int64(4), result.RelationshipsMigrated)
}

func TestMigrate_DryRun(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	seedStore(t, source, 3, 1)

	opts := DefaultOptions()
	opts.DryRun = true

	result, err := NewManager(nil, nil).Migrate(context.Background(), source, target, opts)

	require.NoError(t, err)
	assert.Equal(t, PhaseDryRunDone, result.Phase)
	assert.True(t, result.DryRun)
	assert.Equal(t, int64(3), result.MemoriesMigrated, "dry run reports what would move")

	count, err := target.CountMemories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "dry run must not write to the target")
	assert.Equal(t, 0, target.initSchemaCalls, "dry run must not create schema either")
}

func TestMigrate_SkipDuplicates(t *testing.T) {
	ctx := context.Background()
	source := newFakeStore("sqlite")
	target := newFakeStore("sqlite")
	seedStore(t, source, 3, 0)

	// Pre-seed the target with one of the source memories
	existing, err := source.GetMemory(ctx, source.memories[source.memOrder[0]].ID)
	require.NoError(t, err)
	require.NoError(t, target.SaveMemory(ctx, existing))

	opts := DefaultOptions()
	opts.SkipDuplicates = true

	result, err := NewManager(nil, nil).Migrate(ctx, source, target, opts)

	require.NoError(t, err)
	assert.Equal(t, int64(2), result.MemoriesMigrated)
	assert.Equal(t, int64(1), result.MemoriesSkipped)
}

func TestMigrate_ImportFailureRollsBack(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	seedStore(t, source, 4, 0)

	target.failSaveAfter = 3

	result, err := NewManager(nil, nil).Migrate(context.Background(), source, target, DefaultOptions())

	require.Error(t, err)
	assert.True(t, pkgerrors.IsBackend(err), "the original cause comes back, not the rollback status")
	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, 1, target.clearCalls, "failed import must clear the target")
}

func TestMigrate_VerificationFailureRollsBack(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	seedStore(t, source, 3, 0)

	// Counts will match but sampled content will differ
	target.corruptOnSave = true

	opts := DefaultOptions()
	opts.SampleSize = 3

	result, err := NewManager(nil, nil).Migrate(context.Background(), source, target, opts)

	require.Error(t, err)
	assert.True(t, pkgerrors.IsIntegrity(err))
	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, 1, target.clearCalls)
}

func TestMigrate_VerifyRejectsExtraTargetRows(t *testing.T) {
	ctx := context.Background()
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	seedStore(t, source, 3, 0)

	// A row the archive knows nothing about makes the counts diverge
	foreign, err := entities.NewMemory(entities.MemoryTypeInsight, "pre-existing", "", nil)
	require.NoError(t, err)
	require.NoError(t, target.SaveMemory(ctx, foreign))

	opts := DefaultOptions()
	opts.SkipDuplicates = true
	opts.RollbackOnFailure = false

	result, err := NewManager(nil, nil).Migrate(ctx, source, target, opts)

	require.Error(t, err)
	assert.True(t, pkgerrors.IsIntegrity(err))
	assert.Contains(t, err.Error(), "expected exactly")
	assert.Equal(t, PhaseFailed, result.Phase)
}

func TestMigrate_RollbackDisabled(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	seedStore(t, source, 4, 0)

	target.failSaveAfter = 2

	opts := DefaultOptions()
	opts.RollbackOnFailure = false

	result, err := NewManager(nil, nil).Migrate(context.Background(), source, target, opts)

	require.Error(t, err)
	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, 0, target.clearCalls, "partial data stays when rollback is off")
}

func TestMigrate_RollbackFailureReported(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	seedStore(t, source, 3, 0)

	target.failSaveAfter = 2
	target.clearAllErr = fmt.Errorf("disk full")

	_, err := NewManager(nil, nil).Migrate(context.Background(), source, target, DefaultOptions())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback also failed")
}

func TestMigrate_CapabilityMismatchWarnsOnly(t *testing.T) {
	source := newFakeStore("sqlite")
	target := newFakeStore("dynamodb")
	target.fts = false
	target.tx = false
	seedStore(t, source, 2, 1)

	result, err := NewManager(nil, nil).Migrate(context.Background(), source, target, DefaultOptions())

	require.NoError(t, err, "capability mismatches must not block the migration")
	assert.Equal(t, PhaseDone, result.Phase)
	assert.Len(t, result.Warnings, 2)
}

func TestMigrate_NilSource(t *testing.T) {
	target := newFakeStore("sqlite")

	result, err := NewManager(nil, nil).Migrate(context.Background(), nil, target, DefaultOptions())

	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, PhaseValidatingSource, result.Phase)
}

func TestRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newFakeStore("sqlite")
	seedStore(t, source, 4, 2)

	archive, err := Export(ctx, source, 0)
	require.NoError(t, err)

	target := newFakeStore("sqlite")
	opts := DefaultOptions()
	opts.SampleSize = 4

	result, err := NewManager(nil, nil).Restore(ctx, target, archive, opts)

	require.NoError(t, err)
	assert.Equal(t, PhaseDone, result.Phase)
	assert.Equal(t, int64(4), result.MemoriesMigrated)
	assert.Equal(t, int64(2), result.RelationshipsMigrated)
}

func TestRestore_IsIdempotentWithSkipDuplicates(t *testing.T) {
	ctx := context.Background()
	source := newFakeStore("sqlite")
	seedStore(t, source, 3, 1)

	archive, err := Export(ctx, source, 0)
	require.NoError(t, err)

	target := newFakeStore("sqlite")
	opts := DefaultOptions()
	opts.SkipDuplicates = true

	_, err = NewManager(nil, nil).Restore(ctx, target, archive, opts)
	require.NoError(t, err)

	result, err := NewManager(nil, nil).Restore(ctx, target, archive, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.MemoriesMigrated)
	assert.Equal(t, int64(3), result.MemoriesSkipped)
	assert.Equal(t, int64(1), result.RelationshipsSkipped)
}
