package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/domain/core/valueobjects"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

func TestNewRelationship_Success(t *testing.T) {
	from := valueobjects.NewMemoryID()
	to := valueobjects.NewMemoryID()

	rel, err := NewRelationship(from, to, RelationSolves, RelationshipProperties{Strength: 0.8})

	require.NoError(t, err)
	assert.False(t, rel.ID.IsZero())
	assert.True(t, rel.IsCurrent())
	assert.Nil(t, rel.ValidUntil)
	assert.Nil(t, rel.InvalidatedBy)
	assert.Equal(t, rel.ValidFrom, rel.RecordedAt)
}

func TestNewRelationship_Validation(t *testing.T) {
	from := valueobjects.NewMemoryID()
	to := valueobjects.NewMemoryID()

	tests := []struct {
		name    string
		from    valueobjects.MemoryID
		to      valueobjects.MemoryID
		relType RelationType
		props   RelationshipProperties
	}{
		{"unknown type", from, to, RelationType("BEFRIENDS"), RelationshipProperties{}},
		{"zero from", valueobjects.MemoryID{}, to, RelationCauses, RelationshipProperties{}},
		{"zero to", from, valueobjects.MemoryID{}, RelationCauses, RelationshipProperties{}},
		{"self loop", from, from, RelationCauses, RelationshipProperties{}},
		{"strength out of range", from, to, RelationCauses, RelationshipProperties{Strength: 1.5}},
		{"confidence out of range", from, to, RelationCauses, RelationshipProperties{Confidence: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRelationship(tt.from, tt.to, tt.relType, tt.props)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestRelationship_ValidAt_HalfOpen(t *testing.T) {
	rel, err := NewRelationship(valueobjects.NewMemoryID(), valueobjects.NewMemoryID(), RelationDependsOn, RelationshipProperties{})
	require.NoError(t, err)

	until := rel.ValidFrom.Add(time.Hour)
	require.NoError(t, rel.Invalidate(until, nil))

	assert.False(t, rel.ValidAt(rel.ValidFrom.Add(-time.Nanosecond)), "before valid_from")
	assert.True(t, rel.ValidAt(rel.ValidFrom), "valid_from is inclusive")
	assert.True(t, rel.ValidAt(until.Add(-time.Nanosecond)), "just before valid_until")
	assert.False(t, rel.ValidAt(until), "valid_until is exclusive")
	assert.False(t, rel.ValidAt(until.Add(time.Hour)), "after valid_until")
}

func TestRelationship_Invalidate(t *testing.T) {
	rel, err := NewRelationship(valueobjects.NewMemoryID(), valueobjects.NewMemoryID(), RelationRefines, RelationshipProperties{})
	require.NoError(t, err)

	successor := valueobjects.NewRelationshipID()
	require.NoError(t, rel.Invalidate(rel.ValidFrom.Add(time.Minute), &successor))
	assert.False(t, rel.IsCurrent())
	require.NotNil(t, rel.InvalidatedBy)
	assert.True(t, rel.InvalidatedBy.Equals(successor))

	// Second invalidation is a conflict, not a silent overwrite
	err = rel.Invalidate(rel.ValidFrom.Add(2*time.Minute), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestRelationship_Invalidate_BeforeValidFrom(t *testing.T) {
	rel, err := NewRelationship(valueobjects.NewMemoryID(), valueobjects.NewMemoryID(), RelationBlocks, RelationshipProperties{})
	require.NoError(t, err)

	err = rel.Invalidate(rel.ValidFrom.Add(-time.Second), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.True(t, rel.IsCurrent())
}

func TestIsValidRelationType(t *testing.T) {
	for _, relType := range RelationTypes() {
		assert.True(t, IsValidRelationType(relType))
	}
	assert.False(t, IsValidRelationType(RelationType("causes")), "enumeration is case sensitive")
}
