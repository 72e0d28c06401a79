package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// MemoryID is a value object representing a unique memory identifier
// Value objects are immutable and have no identity beyond their value
type MemoryID struct {
	value string
}

// NewMemoryID creates a new random MemoryID
func NewMemoryID() MemoryID {
	return MemoryID{value: uuid.New().String()}
}

// NewMemoryIDFromString creates a MemoryID from an existing string
func NewMemoryIDFromString(id string) (MemoryID, error) {
	if id == "" {
		return MemoryID{}, errors.New("memory ID cannot be empty")
	}
	if !isValidUUID(id) {
		return MemoryID{}, errors.New("memory ID must be a valid UUID")
	}
	return MemoryID{value: id}, nil
}

// String returns the string representation of the MemoryID
func (id MemoryID) String() string {
	return id.value
}

// Equals checks if two MemoryIDs are equal
func (id MemoryID) Equals(other MemoryID) bool {
	return id.value == other.value
}

// IsZero checks if the MemoryID is the zero value
func (id MemoryID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id MemoryID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *MemoryID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("MemoryID must be a string")
	}
	id.value = string(data[1 : len(data)-1])
	return nil
}

// RelationshipID is a value object representing a unique relationship identifier
type RelationshipID struct {
	value string
}

// NewRelationshipID creates a new random RelationshipID
func NewRelationshipID() RelationshipID {
	return RelationshipID{value: uuid.New().String()}
}

// NewRelationshipIDFromString creates a RelationshipID from an existing string
func NewRelationshipIDFromString(id string) (RelationshipID, error) {
	if id == "" {
		return RelationshipID{}, errors.New("relationship ID cannot be empty")
	}
	if !isValidUUID(id) {
		return RelationshipID{}, errors.New("relationship ID must be a valid UUID")
	}
	return RelationshipID{value: id}, nil
}

// String returns the string representation of the RelationshipID
func (id RelationshipID) String() string {
	return id.value
}

// Equals checks if two RelationshipIDs are equal
func (id RelationshipID) Equals(other RelationshipID) bool {
	return id.value == other.value
}

// IsZero checks if the RelationshipID is the zero value
func (id RelationshipID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id RelationshipID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *RelationshipID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("RelationshipID must be a string")
	}
	id.value = string(data[1 : len(data)-1])
	return nil
}

// isValidUUID validates if a string is a valid UUID
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
