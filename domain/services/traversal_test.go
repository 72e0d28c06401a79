package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
)

// fakeLister serves neighbors from a static undirected adjacency list
type fakeLister struct {
	neighbors map[string][]Neighbor
	calls     int
}

func (l *fakeLister) Neighbors(ctx context.Context, id valueobjects.MemoryID, typeFilter []entities.RelationType) ([]Neighbor, error) {
	l.calls++
	return l.neighbors[id.String()], nil
}

func link(graph map[string][]Neighbor, from, to valueobjects.MemoryID, relType entities.RelationType) {
	rel, _ := entities.NewRelationship(from, to, relType, entities.RelationshipProperties{})
	graph[from.String()] = append(graph[from.String()], Neighbor{MemoryID: to, Relationship: rel, Outgoing: true})
	graph[to.String()] = append(graph[to.String()], Neighbor{MemoryID: from, Relationship: rel, Outgoing: false})
}

func TestTraverser_DepthOne(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	c := valueobjects.NewMemoryID()
	graph := make(map[string][]Neighbor)
	link(graph, a, b, entities.RelationRelatedTo)
	link(graph, b, c, entities.RelationRelatedTo)

	traverser := NewTraverser(&fakeLister{neighbors: graph}, 10)
	results, err := traverser.Related(context.Background(), a, 1, nil)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].MemoryID.Equals(b))
	assert.Equal(t, 1, results[0].Depth)
}

func TestTraverser_DepthTwo(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	c := valueobjects.NewMemoryID()
	graph := make(map[string][]Neighbor)
	link(graph, a, b, entities.RelationRelatedTo)
	link(graph, b, c, entities.RelationRelatedTo)

	traverser := NewTraverser(&fakeLister{neighbors: graph}, 10)
	results, err := traverser.Related(context.Background(), a, 2, nil)

	require.NoError(t, err)
	require.Len(t, results, 2)

	depths := map[string]int{}
	for _, r := range results {
		depths[r.MemoryID.String()] = r.Depth
	}
	assert.Equal(t, 1, depths[b.String()])
	assert.Equal(t, 2, depths[c.String()])
}

func TestTraverser_CyclicGraphTerminates(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	c := valueobjects.NewMemoryID()
	graph := make(map[string][]Neighbor)
	link(graph, a, b, entities.RelationRelatedTo)
	link(graph, b, c, entities.RelationRelatedTo)
	link(graph, c, a, entities.RelationRelatedTo)

	traverser := NewTraverser(&fakeLister{neighbors: graph}, 10)
	results, err := traverser.Related(context.Background(), a, 10, nil)

	require.NoError(t, err)
	// The start memory itself never appears, and each node appears once
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.MemoryID.Equals(a))
	}
}

func TestTraverser_ShortestDepthWins(t *testing.T) {
	// a connects to c both directly and through b; c must report depth 1
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	c := valueobjects.NewMemoryID()
	graph := make(map[string][]Neighbor)
	link(graph, a, b, entities.RelationRelatedTo)
	link(graph, a, c, entities.RelationRelatedTo)
	link(graph, b, c, entities.RelationRelatedTo)

	traverser := NewTraverser(&fakeLister{neighbors: graph}, 10)
	results, err := traverser.Related(context.Background(), a, 5, nil)

	require.NoError(t, err)
	for _, r := range results {
		if r.MemoryID.Equals(c) {
			assert.Equal(t, 1, r.Depth)
		}
	}
}

func TestTraverser_DepthClamped(t *testing.T) {
	ids := make([]valueobjects.MemoryID, 6)
	for i := range ids {
		ids[i] = valueobjects.NewMemoryID()
	}
	graph := make(map[string][]Neighbor)
	for i := 0; i < len(ids)-1; i++ {
		link(graph, ids[i], ids[i+1], entities.RelationFollows)
	}

	traverser := NewTraverser(&fakeLister{neighbors: graph}, 3)
	results, err := traverser.Related(context.Background(), ids[0], 100, nil)

	require.NoError(t, err)
	assert.Len(t, results, 3, "depth must be clamped to the traverser maximum")
}

func TestTraverser_ZeroStart(t *testing.T) {
	traverser := NewTraverser(&fakeLister{}, 10)
	_, err := traverser.Related(context.Background(), valueobjects.MemoryID{}, 1, nil)
	assert.Error(t, err)
}
