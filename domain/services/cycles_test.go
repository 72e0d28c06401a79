package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// fakeGraph serves Successors and Neighbors from a static adjacency list,
// keyed by relation type
type fakeGraph struct {
	edges map[entities.RelationType]map[string][]valueobjects.MemoryID
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{edges: make(map[entities.RelationType]map[string][]valueobjects.MemoryID)}
}

func (g *fakeGraph) add(relType entities.RelationType, from, to valueobjects.MemoryID) {
	if g.edges[relType] == nil {
		g.edges[relType] = make(map[string][]valueobjects.MemoryID)
	}
	g.edges[relType][from.String()] = append(g.edges[relType][from.String()], to)
}

func (g *fakeGraph) Successors(ctx context.Context, id valueobjects.MemoryID, relType entities.RelationType) ([]valueobjects.MemoryID, error) {
	return g.edges[relType][id.String()], nil
}

func TestCycleDetector_DirectCycle(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	graph := newFakeGraph()
	graph.add(entities.RelationDependsOn, a, b)

	detector := NewCycleDetector(false)
	err := detector.Check(context.Background(), graph, b, a, entities.RelationDependsOn)

	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestCycleDetector_TransitiveCycle(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	c := valueobjects.NewMemoryID()
	graph := newFakeGraph()
	graph.add(entities.RelationDependsOn, a, b)
	graph.add(entities.RelationDependsOn, b, c)

	detector := NewCycleDetector(false)

	// c -> a closes a three-node loop
	err := detector.Check(context.Background(), graph, c, a, entities.RelationDependsOn)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestCycleDetector_TypesAreIndependent(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	graph := newFakeGraph()
	graph.add(entities.RelationDependsOn, a, b)

	detector := NewCycleDetector(false)

	// The existing a -> b edge is DEPENDS_ON; a RELATED_TO edge b -> a is
	// not a cycle of that type
	err := detector.Check(context.Background(), graph, b, a, entities.RelationRelatedTo)
	assert.NoError(t, err)
}

func TestCycleDetector_NoCycle(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	c := valueobjects.NewMemoryID()
	graph := newFakeGraph()
	graph.add(entities.RelationDependsOn, a, b)

	detector := NewCycleDetector(false)
	assert.NoError(t, detector.Check(context.Background(), graph, a, c, entities.RelationDependsOn))
}

func TestCycleDetector_AllowCyclesOverride(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()
	graph := newFakeGraph()
	graph.add(entities.RelationDependsOn, a, b)

	detector := NewCycleDetector(true)
	assert.NoError(t, detector.Check(context.Background(), graph, b, a, entities.RelationDependsOn))
}

func TestCycleDetector_SelfLoop(t *testing.T) {
	a := valueobjects.NewMemoryID()
	detector := NewCycleDetector(false)

	err := detector.Check(context.Background(), newFakeGraph(), a, a, entities.RelationDependsOn)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestCycleDetector_CancelledContext(t *testing.T) {
	a := valueobjects.NewMemoryID()
	b := valueobjects.NewMemoryID()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	detector := NewCycleDetector(false)
	err := detector.Check(ctx, newFakeGraph(), a, b, entities.RelationDependsOn)
	assert.Error(t, err)
}
