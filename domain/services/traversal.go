package services

import (
	"context"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// Neighbor is one hop from a memory along a current relationship, in either
// direction.
type Neighbor struct {
	MemoryID     valueobjects.MemoryID  `json:"memory_id"`
	Relationship *entities.Relationship `json:"relationship"`
	Outgoing     bool                   `json:"outgoing"`
}

// NeighborLister is the port each engine implements so traversal lives in one
// place. It returns current neighbors only; typeFilter narrows by relation
// type when non-empty.
type NeighborLister interface {
	Neighbors(ctx context.Context, id valueobjects.MemoryID, typeFilter []entities.RelationType) ([]Neighbor, error)
}

// RelatedMemory is a traversal hit: the memory reached, the depth it was
// first reached at, and the relationship that reached it.
type RelatedMemory struct {
	MemoryID valueobjects.MemoryID  `json:"memory_id"`
	Depth    int                    `json:"depth"`
	Via      *entities.Relationship `json:"via"`
}

// Traverser walks the graph breadth-first from a start memory
type Traverser struct {
	lister   NeighborLister
	maxDepth int
}

// NewTraverser creates a traverser with an upper bound on depth
func NewTraverser(lister NeighborLister, maxDepth int) *Traverser {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &Traverser{lister: lister, maxDepth: maxDepth}
}

// Related performs a breadth-first traversal from start, bounded by depth.
// Each reachable memory appears exactly once, at its shortest depth, so the
// walk terminates on cyclic graphs. Depth is clamped to the traverser's
// maximum; the start memory itself is not returned.
func (t *Traverser) Related(ctx context.Context, start valueobjects.MemoryID, depth int, typeFilter []entities.RelationType) ([]RelatedMemory, error) {
	if start.IsZero() {
		return nil, pkgerrors.NewValidationError("start memory id cannot be empty")
	}
	if depth <= 0 {
		depth = 1
	}
	if depth > t.maxDepth {
		depth = t.maxDepth
	}

	visited := map[valueobjects.MemoryID]bool{start: true}
	frontier := []valueobjects.MemoryID{start}
	var results []RelatedMemory

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []valueobjects.MemoryID
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, pkgerrors.Wrap(err, "traversal cancelled")
			}

			neighbors, err := t.lister.Neighbors(ctx, id, typeFilter)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n.MemoryID] {
					continue
				}
				visited[n.MemoryID] = true
				results = append(results, RelatedMemory{
					MemoryID: n.MemoryID,
					Depth:    level,
					Via:      n.Relationship,
				})
				next = append(next, n.MemoryID)
			}
		}
		frontier = next
	}

	return results, nil
}
