package services

import (
	"context"
	"fmt"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// SuccessorLister returns the targets of current outgoing relationships of
// the given type. Engines implement it so cycle checks run against live data,
// for SQLite inside the same transaction as the insert.
type SuccessorLister interface {
	Successors(ctx context.Context, id valueobjects.MemoryID, relType entities.RelationType) ([]valueobjects.MemoryID, error)
}

// CycleDetector guards relationship creation against cycles within a single
// relation type. Edges of different types never interact.
type CycleDetector struct {
	allowCycles bool
}

// NewCycleDetector creates a cycle detector honoring the allow-cycles override
func NewCycleDetector(allowCycles bool) *CycleDetector {
	return &CycleDetector{allowCycles: allowCycles}
}

// Check returns a Conflict error when adding from -> to of the given type
// would close a cycle among current relationships of that type. A path from
// to back to from means the new edge completes a loop. No-op when cycles are
// allowed.
func (d *CycleDetector) Check(ctx context.Context, lister SuccessorLister, from, to valueobjects.MemoryID, relType entities.RelationType) error {
	if d.allowCycles {
		return nil
	}
	if from.Equals(to) {
		return cycleConflict(relType)
	}

	reachable, err := d.pathExists(ctx, lister, to, from, relType, make(map[valueobjects.MemoryID]bool))
	if err != nil {
		return err
	}
	if reachable {
		return cycleConflict(relType)
	}
	return nil
}

// pathExists runs a depth-first search for target starting at current,
// following only outgoing edges of relType
func (d *CycleDetector) pathExists(ctx context.Context, lister SuccessorLister, current, target valueobjects.MemoryID, relType entities.RelationType, visited map[valueobjects.MemoryID]bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, pkgerrors.Wrap(err, "cycle check cancelled")
	}
	if current.Equals(target) {
		return true, nil
	}
	if visited[current] {
		return false, nil
	}
	visited[current] = true

	successors, err := lister.Successors(ctx, current, relType)
	if err != nil {
		return false, err
	}
	for _, next := range successors {
		found, err := d.pathExists(ctx, lister, next, target, relType, visited)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func cycleConflict(relType entities.RelationType) error {
	return pkgerrors.NewConflictError(fmt.Sprintf(
		"relationship would create a cycle of type %s; set allow_cycles to permit cyclic graphs", relType))
}
