package valueobjects

import (
	"time"

	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// Validity is a value object for the validity-time window of a fact:
// the interval during which the fact was true in the modeled world.
// A nil until means "currently valid".
type Validity struct {
	from  time.Time
	until *time.Time
}

// NewValidity creates a validity window with validation
func NewValidity(from time.Time, until *time.Time) (Validity, error) {
	if from.IsZero() {
		return Validity{}, pkgerrors.NewValidationError("valid_from cannot be zero")
	}
	if until != nil && until.Before(from) {
		return Validity{}, pkgerrors.NewValidationError("valid_until must not precede valid_from")
	}
	return Validity{from: from, until: until}, nil
}

// From returns the start of the validity window
func (v Validity) From() time.Time {
	return v.from
}

// Until returns the end of the validity window, nil when still valid
func (v Validity) Until() *time.Time {
	return v.until
}

// IsCurrent reports whether the window is still open
func (v Validity) IsCurrent() bool {
	return v.until == nil
}

// Contains reports whether t falls within [from, until)
func (v Validity) Contains(t time.Time) bool {
	if t.Before(v.from) {
		return false
	}
	if v.until == nil {
		return true
	}
	return t.Before(*v.until)
}

// Close ends the window at the given time
func (v Validity) Close(at time.Time) (Validity, error) {
	return NewValidity(v.from, &at)
}
