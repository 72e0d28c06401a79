package entities

import (
	"fmt"
	"time"

	"github.com/engramdb/engram/domain/core/valueobjects"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// RelationType classifies a directed edge between two memories. The set is
// closed: unknown types are rejected at the boundary.
type RelationType string

// Causal relations
const (
	RelationCauses   RelationType = "CAUSES"
	RelationCausedBy RelationType = "CAUSED_BY"
	RelationTriggers RelationType = "TRIGGERS"
	RelationPrevents RelationType = "PREVENTS"
)

// Solution relations
const (
	RelationSolves        RelationType = "SOLVES"
	RelationSolvedBy      RelationType = "SOLVED_BY"
	RelationAlternativeTo RelationType = "ALTERNATIVE_TO"
	RelationImproves      RelationType = "IMPROVES"
)

// Context relations
const (
	RelationPartOf     RelationType = "PART_OF"
	RelationContains   RelationType = "CONTAINS"
	RelationRelatedTo  RelationType = "RELATED_TO"
	RelationReferences RelationType = "REFERENCES"
)

// Learning relations
const (
	RelationLearnedFrom RelationType = "LEARNED_FROM"
	RelationTeaches     RelationType = "TEACHES"
	RelationContradicts RelationType = "CONTRADICTS"
	RelationConfirms    RelationType = "CONFIRMS"
)

// Similarity relations
const (
	RelationSimilarTo   RelationType = "SIMILAR_TO"
	RelationDuplicateOf RelationType = "DUPLICATE_OF"
	RelationVariantOf   RelationType = "VARIANT_OF"
)

// Workflow relations
const (
	RelationDependsOn  RelationType = "DEPENDS_ON"
	RelationBlocks     RelationType = "BLOCKS"
	RelationFollows    RelationType = "FOLLOWS"
	RelationPrecedes   RelationType = "PRECEDES"
	RelationParallelTo RelationType = "PARALLEL_TO"
)

// Quality relations
const (
	RelationRefines    RelationType = "REFINES"
	RelationDeprecates RelationType = "DEPRECATES"
	RelationValidates  RelationType = "VALIDATES"
)

// RelationTypes lists every valid relation type
func RelationTypes() []RelationType {
	return []RelationType{
		RelationCauses, RelationCausedBy, RelationTriggers, RelationPrevents,
		RelationSolves, RelationSolvedBy, RelationAlternativeTo, RelationImproves,
		RelationPartOf, RelationContains, RelationRelatedTo, RelationReferences,
		RelationLearnedFrom, RelationTeaches, RelationContradicts, RelationConfirms,
		RelationSimilarTo, RelationDuplicateOf, RelationVariantOf,
		RelationDependsOn, RelationBlocks, RelationFollows, RelationPrecedes, RelationParallelTo,
		RelationRefines, RelationDeprecates, RelationValidates,
	}
}

var relationTypeSet = func() map[RelationType]bool {
	set := make(map[RelationType]bool)
	for _, t := range RelationTypes() {
		set[t] = true
	}
	return set
}()

// IsValidRelationType checks membership in the relation type enumeration
func IsValidRelationType(t RelationType) bool {
	return relationTypeSet[t]
}

// RelationshipProperties carries optional edge metadata
type RelationshipProperties struct {
	Strength   float64 `json:"strength,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Relationship is a directed, typed, bi-temporal edge between two memories.
//
// ValidFrom/ValidUntil bound the interval during which the asserted fact
// holds (nil ValidUntil means currently valid). RecordedAt is the moment the
// system learned the fact and never changes. InvalidatedBy points at the
// relationship that superseded this one, when one exists.
type Relationship struct {
	ID            valueobjects.RelationshipID  `json:"id"`
	FromID        valueobjects.MemoryID        `json:"from_id"`
	ToID          valueobjects.MemoryID        `json:"to_id"`
	Type          RelationType                 `json:"type"`
	Properties    RelationshipProperties       `json:"properties"`
	ValidFrom     time.Time                    `json:"valid_from"`
	ValidUntil    *time.Time                   `json:"valid_until,omitempty"`
	RecordedAt    time.Time                    `json:"recorded_at"`
	InvalidatedBy *valueobjects.RelationshipID `json:"invalidated_by,omitempty"`
}

// NewRelationship creates a relationship valid from now, recorded now
func NewRelationship(from, to valueobjects.MemoryID, relType RelationType, props RelationshipProperties) (*Relationship, error) {
	if !IsValidRelationType(relType) {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("unknown relation type %q", relType))
	}
	if from.IsZero() || to.IsZero() {
		return nil, pkgerrors.NewValidationError("relationship endpoints cannot be empty")
	}
	if from.Equals(to) {
		return nil, pkgerrors.NewValidationError("relationship cannot connect a memory to itself")
	}
	if err := validateProperties(props); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Relationship{
		ID:         valueobjects.NewRelationshipID(),
		FromID:     from,
		ToID:       to,
		Type:       relType,
		Properties: props,
		ValidFrom:  now,
		RecordedAt: now,
	}, nil
}

func validateProperties(props RelationshipProperties) error {
	if props.Strength < 0 || props.Strength > 1 {
		return pkgerrors.NewValidationError("strength must be within [0, 1]")
	}
	if props.Confidence < 0 || props.Confidence > 1 {
		return pkgerrors.NewValidationError("confidence must be within [0, 1]")
	}
	return nil
}

// IsCurrent reports whether the relationship has not been closed
func (r *Relationship) IsCurrent() bool {
	return r.ValidUntil == nil
}

// ValidAt reports whether the relationship was valid at the given instant.
// The validity interval is half-open: [ValidFrom, ValidUntil).
func (r *Relationship) ValidAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	return r.ValidUntil == nil || t.Before(*r.ValidUntil)
}

// Invalidate closes the validity interval at the given instant. A second
// invalidation is a Conflict. The row itself is never deleted; history
// queries continue to see it.
func (r *Relationship) Invalidate(at time.Time, successor *valueobjects.RelationshipID) error {
	if r.ValidUntil != nil {
		return pkgerrors.NewConflictError(
			fmt.Sprintf("relationship %s is already invalidated", r.ID))
	}
	if at.Before(r.ValidFrom) {
		return pkgerrors.NewValidationError("invalidation time precedes valid_from")
	}
	at = at.UTC()
	r.ValidUntil = &at
	r.InvalidatedBy = successor
	return nil
}
