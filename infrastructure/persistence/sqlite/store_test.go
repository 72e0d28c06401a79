package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

func newTestStore(t *testing.T, cfg *config.DomainConfig) *Store {
	t.Helper()
	ctx := context.Background()

	store := New(filepath.Join(t.TempDir(), "test.db"), cfg, zap.NewNop())
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.InitializeSchema(ctx))
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func saveMemory(t *testing.T, store *Store, memType entities.MemoryType, title, content string) *entities.Memory {
	t.Helper()
	memory, err := entities.NewMemory(memType, title, content, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveMemory(context.Background(), memory))
	return memory
}

func saveRelationship(t *testing.T, store *Store, from, to valueobjects.MemoryID, relType entities.RelationType) *entities.Relationship {
	t.Helper()
	rel, err := entities.NewRelationship(from, to, relType, entities.RelationshipProperties{})
	require.NoError(t, err)
	require.NoError(t, store.SaveRelationship(context.Background(), rel))
	return rel
}

func TestSaveGetMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	memory, err := entities.NewMemory(entities.MemoryTypeSolution, "wal mode", "switch to wal for concurrent readers", nil)
	require.NoError(t, err)
	require.NoError(t, memory.SetTags([]string{"sqlite", "performance"}, nil))
	require.NoError(t, memory.SetImportance(0.9))
	memory.Summary = "use wal"
	memory.Context = entities.MemoryContext{Project: "engram", Languages: []string{"go"}}
	require.NoError(t, store.SaveMemory(ctx, memory))

	got, err := store.GetMemory(ctx, memory.ID)

	require.NoError(t, err)
	assert.True(t, got.ID.Equals(memory.ID))
	assert.Equal(t, memory.Type, got.Type)
	assert.Equal(t, memory.Title, got.Title)
	assert.Equal(t, memory.Content, got.Content)
	assert.Equal(t, memory.Summary, got.Summary)
	assert.Equal(t, []string{"performance", "sqlite"}, got.Tags)
	assert.Equal(t, 0.9, got.Importance)
	assert.Equal(t, "engram", got.Context.Project)
	assert.True(t, got.CreatedAt.Equal(memory.CreatedAt))
}

func TestGetMemory_NotFound(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.GetMemory(context.Background(), valueobjects.NewMemoryID())

	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSaveMemory_Upsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	memory := saveMemory(t, store, entities.MemoryTypeTask, "first title", "content")

	require.NoError(t, memory.UpdateContent("second title", "revised content", nil))
	require.NoError(t, store.SaveMemory(ctx, memory))

	got, err := store.GetMemory(ctx, memory.ID)
	require.NoError(t, err)
	assert.Equal(t, "second title", got.Title)
	assert.Equal(t, "revised content", got.Content)

	count, err := store.CountMemories(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteMemory_CascadesRelationships(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeProblem, "slow queries", "")
	b := saveMemory(t, store, entities.MemoryTypeSolution, "add an index", "")
	saveRelationship(t, store, b.ID, a.ID, entities.RelationSolves)

	require.NoError(t, store.DeleteMemory(ctx, a.ID))

	_, err := store.GetMemory(ctx, a.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	count, err := store.CountRelationships(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "relationships touching the memory must go with it")

	err = store.DeleteMemory(ctx, a.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestListMemories_TypeFilterAndPagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	for i := 0; i < 3; i++ {
		saveMemory(t, store, entities.MemoryTypeInsight, "insight", "")
	}
	saveMemory(t, store, entities.MemoryTypeTask, "task", "")

	insight := entities.MemoryTypeInsight
	page, err := store.ListMemories(ctx, abstractions.MemoryFilter{Type: &insight},
		common.PageRequest{Limit: 2, Offset: 0})

	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.PageInfo.Total)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, 2, page.PageInfo.NextOffset)

	rest, err := store.ListMemories(ctx, abstractions.MemoryFilter{Type: &insight},
		common.PageRequest{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1)
	assert.False(t, rest.PageInfo.HasMore)
}

func TestListMemories_TagAndProjectFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	tagged, err := entities.NewMemory(entities.MemoryTypeReference, "tagged", "", nil)
	require.NoError(t, err)
	require.NoError(t, tagged.SetTags([]string{"go", "sqlite"}, nil))
	tagged.Context = entities.MemoryContext{Project: "engram"}
	require.NoError(t, store.SaveMemory(ctx, tagged))
	saveMemory(t, store, entities.MemoryTypeReference, "untagged", "")

	page, err := store.ListMemories(ctx, abstractions.MemoryFilter{Tags: []string{"go"}},
		common.DefaultPageRequest())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].ID.Equals(tagged.ID))

	page, err = store.ListMemories(ctx, abstractions.MemoryFilter{Project: "engram"},
		common.DefaultPageRequest())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].ID.Equals(tagged.ID))
}

func TestSearchMemories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	target := saveMemory(t, store, entities.MemoryTypeInsight, "connection pooling", "reuse database connections to avoid handshake cost")
	saveMemory(t, store, entities.MemoryTypeInsight, "unrelated", "nothing to see here")

	require.True(t, store.SupportsFullTextSearch(), "the embedded build ships FTS5")

	page, err := store.SearchMemories(ctx, "handshake", common.DefaultPageRequest())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].ID.Equals(target.ID))

	page, err = store.SearchMemories(ctx, "no-such-word", common.DefaultPageRequest())
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = store.SearchMemories(ctx, "   ", common.DefaultPageRequest())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestSearchMemories_TracksUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	memory := saveMemory(t, store, entities.MemoryTypeInsight, "original", "about caching")

	require.NoError(t, memory.UpdateContent("original", "about sharding instead", nil))
	require.NoError(t, store.SaveMemory(ctx, memory))

	page, err := store.SearchMemories(ctx, "caching", common.DefaultPageRequest())
	require.NoError(t, err)
	assert.Empty(t, page.Items, "the search index must follow updates")

	page, err = store.SearchMemories(ctx, "sharding", common.DefaultPageRequest())
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestSaveRelationship_MissingEndpoint(t *testing.T) {
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "exists", "")

	rel, err := entities.NewRelationship(a.ID, valueobjects.NewMemoryID(),
		entities.RelationBlocks, entities.RelationshipProperties{})
	require.NoError(t, err)

	err = store.SaveRelationship(context.Background(), rel)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSaveRelationship_CycleConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	c := saveMemory(t, store, entities.MemoryTypeTask, "c", "")
	saveRelationship(t, store, a.ID, b.ID, entities.RelationDependsOn)
	saveRelationship(t, store, b.ID, c.ID, entities.RelationDependsOn)

	// c -> a closes a loop of the same type
	rel, err := entities.NewRelationship(c.ID, a.ID, entities.RelationDependsOn, entities.RelationshipProperties{})
	require.NoError(t, err)
	err = store.SaveRelationship(ctx, rel)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	// The same edge under a different type is fine
	saveRelationship(t, store, c.ID, a.ID, entities.RelationRelatedTo)
}

func TestSaveRelationship_AllowCyclesOverride(t *testing.T) {
	cfg := config.DefaultDomainConfig()
	cfg.AllowCycles = true
	store := newTestStore(t, cfg)

	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	saveRelationship(t, store, a.ID, b.ID, entities.RelationDependsOn)
	saveRelationship(t, store, b.ID, a.ID, entities.RelationDependsOn)

	count, err := store.CountRelationships(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestInvalidateRelationship(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	rel := saveRelationship(t, store, a.ID, b.ID, entities.RelationPrecedes)

	successor := valueobjects.NewRelationshipID()
	at := rel.ValidFrom.Add(time.Hour)
	require.NoError(t, store.InvalidateRelationship(ctx, rel.ID, at, &successor))

	got, err := store.GetRelationship(ctx, rel.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ValidUntil)
	assert.True(t, got.ValidUntil.Equal(at))
	require.NotNil(t, got.InvalidatedBy)
	assert.True(t, got.InvalidatedBy.Equals(successor))
	assert.True(t, got.RecordedAt.Equal(rel.RecordedAt), "recorded_at never changes")

	// Invalidating twice is a conflict
	err = store.InvalidateRelationship(ctx, rel.ID, at.Add(time.Hour), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	err = store.InvalidateRelationship(ctx, valueobjects.NewRelationshipID(), at, nil)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestListRelationships_CurrentOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	closed := saveRelationship(t, store, a.ID, b.ID, entities.RelationRelatedTo)
	require.NoError(t, store.InvalidateRelationship(ctx, closed.ID, closed.ValidFrom.Add(time.Minute), nil))
	open := saveRelationship(t, store, a.ID, b.ID, entities.RelationRelatedTo)

	page, err := store.ListRelationships(ctx,
		abstractions.RelationshipFilter{CurrentOnly: true}, common.DefaultPageRequest())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].ID.Equals(open.ID))

	all, err := store.ListRelationships(ctx,
		abstractions.RelationshipFilter{}, common.DefaultPageRequest())
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)
}

func TestRelationshipsAsOf_HalfOpenInterval(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	rel := saveRelationship(t, store, a.ID, b.ID, entities.RelationRelatedTo)

	until := rel.ValidFrom.Add(time.Hour)
	require.NoError(t, store.InvalidateRelationship(ctx, rel.ID, until, nil))

	tests := []struct {
		name string
		at   time.Time
		hits int
	}{
		{"before valid_from", rel.ValidFrom.Add(-time.Second), 0},
		{"at valid_from", rel.ValidFrom, 1},
		{"inside the interval", rel.ValidFrom.Add(30 * time.Minute), 1},
		{"at valid_until", until, 0},
		{"after valid_until", until.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rels, err := store.RelationshipsAsOf(ctx, a.ID, tt.at)
			require.NoError(t, err)
			assert.Len(t, rels, tt.hits)
		})
	}
}

func TestRelationshipHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	c := saveMemory(t, store, entities.MemoryTypeTask, "c", "")

	first := saveRelationship(t, store, a.ID, b.ID, entities.RelationRelatedTo)
	second := saveRelationship(t, store, a.ID, c.ID, entities.RelationRelatedTo)
	require.NoError(t, store.InvalidateRelationship(ctx, first.ID, first.ValidFrom.Add(time.Minute), &second.ID))
	saveRelationship(t, store, a.ID, b.ID, entities.RelationDependsOn)

	history, err := store.RelationshipHistory(ctx, a.ID, entities.RelationRelatedTo)

	require.NoError(t, err)
	require.Len(t, history, 2, "invalidated versions stay, other types do not")
	assert.True(t, history[0].ID.Equals(second.ID), "newest valid_from comes first")
	assert.True(t, history[1].ID.Equals(first.ID))

	other, err := store.RelationshipHistory(ctx, b.ID, entities.RelationRelatedTo)
	require.NoError(t, err)
	assert.Empty(t, other, "history is keyed on the origin memory")
}

func TestRelationshipsRecordedSince(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	rel := saveRelationship(t, store, a.ID, b.ID, entities.RelationRelatedTo)

	rels, err := store.RelationshipsRecordedSince(ctx, rel.RecordedAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	rels, err = store.RelationshipsRecordedSince(ctx, rel.RecordedAt)
	require.NoError(t, err)
	assert.Empty(t, rels, "the boundary instant itself is excluded")
}

func TestNeighbors_BothDirections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	c := saveMemory(t, store, entities.MemoryTypeTask, "c", "")
	saveRelationship(t, store, a.ID, b.ID, entities.RelationBlocks)
	saveRelationship(t, store, c.ID, a.ID, entities.RelationFollows)

	neighbors, err := store.Neighbors(ctx, a.ID, nil)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)

	byID := map[string]bool{}
	for _, n := range neighbors {
		byID[n.MemoryID.String()] = n.Outgoing
	}
	assert.True(t, byID[b.ID.String()], "a -> b is outgoing")
	assert.False(t, byID[c.ID.String()], "c -> a is incoming")

	filtered, err := store.Neighbors(ctx, a.ID, []entities.RelationType{entities.RelationBlocks})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.True(t, filtered[0].MemoryID.Equals(b.ID))
}

func TestSuccessors_CurrentSameTypeOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	c := saveMemory(t, store, entities.MemoryTypeTask, "c", "")
	saveRelationship(t, store, a.ID, b.ID, entities.RelationDependsOn)
	saveRelationship(t, store, a.ID, c.ID, entities.RelationRelatedTo)
	closed := saveRelationship(t, store, a.ID, c.ID, entities.RelationDependsOn)
	require.NoError(t, store.InvalidateRelationship(ctx, closed.ID, closed.ValidFrom.Add(time.Minute), nil))

	successors, err := store.Successors(ctx, a.ID, entities.RelationDependsOn)

	require.NoError(t, err)
	require.Len(t, successors, 1, "closed edges and other types do not count")
	assert.True(t, successors[0].Equals(b.ID))
}

func TestExecute_RawSQL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	saveMemory(t, store, entities.MemoryTypeTask, "raw", "")

	result, err := store.Execute(ctx, `SELECT title FROM memories WHERE type = ?`,
		[]interface{}{"task"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, result.Columns)
	require.Len(t, result.Rows, 1)

	result, err = store.Execute(ctx, `UPDATE memories SET summary = ?`,
		[]interface{}{"bulk"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RowsAffected)
}

func TestClearAll_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	a := saveMemory(t, store, entities.MemoryTypeTask, "a", "")
	b := saveMemory(t, store, entities.MemoryTypeTask, "b", "")
	saveRelationship(t, store, a.ID, b.ID, entities.RelationRelatedTo)

	require.NoError(t, store.ClearAll(ctx))
	require.NoError(t, store.ClearAll(ctx), "clearing an empty database succeeds")

	status, err := store.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, int64(0), status.MemoryCount)
	assert.Equal(t, int64(0), status.RelationshipCount)
}

func TestStore_RequiresConnection(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "never-connected.db"), nil, zap.NewNop())

	_, err := store.GetMemory(context.Background(), valueobjects.NewMemoryID())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConnection(err))

	status, err := store.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)
}

func TestStore_Capabilities(t *testing.T) {
	store := newTestStore(t, nil)
	assert.True(t, store.SupportsTransactions())
	assert.True(t, store.SupportsFullTextSearch())
}
