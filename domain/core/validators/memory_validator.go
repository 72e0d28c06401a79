package validators

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/domain/core/entities"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

var tagPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// MemoryValidator validates memory-related input before any write
type MemoryValidator struct {
	cfg *config.DomainConfig
}

// NewMemoryValidator creates a memory validator bound to the domain config
func NewMemoryValidator(cfg *config.DomainConfig) *MemoryValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &MemoryValidator{cfg: cfg}
}

// ValidateType rejects memory types outside the closed enumeration
func (v *MemoryValidator) ValidateType(memType entities.MemoryType) error {
	if !entities.IsValidMemoryType(memType) {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("unknown memory type %q", memType))
	}
	return nil
}

// ValidateTitle enforces title length bounds
func (v *MemoryValidator) ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	length := utf8.RuneCountInString(title)
	if length < v.cfg.MinTitleLength {
		return pkgerrors.NewValidationError("title cannot be empty")
	}
	if length > v.cfg.MaxTitleLength {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("title exceeds maximum length of %d characters", v.cfg.MaxTitleLength))
	}
	return nil
}

// ValidateContent enforces the content size limit
func (v *MemoryValidator) ValidateContent(content string) error {
	if utf8.RuneCountInString(content) > v.cfg.MaxContentLength {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("content exceeds maximum length of %d characters", v.cfg.MaxContentLength))
	}
	return nil
}

// ValidateTags checks tag count, length, and character set after normalization
func (v *MemoryValidator) ValidateTags(tags []string) error {
	normalized := entities.NormalizeTags(tags)
	if len(normalized) > v.cfg.MaxTagsPerMemory {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("maximum tags reached: %d", v.cfg.MaxTagsPerMemory))
	}
	for _, tag := range normalized {
		if utf8.RuneCountInString(tag) > v.cfg.MaxTagLength {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("tag %q exceeds maximum length of %d characters", tag, v.cfg.MaxTagLength))
		}
		if !tagPattern.MatchString(tag) {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("tag %q contains invalid characters", tag))
		}
	}
	return nil
}

// ValidateImportance bounds the importance score to [0, 1]
func (v *MemoryValidator) ValidateImportance(importance float64) error {
	if importance < 0 || importance > 1 {
		return pkgerrors.NewValidationError("importance must be within [0, 1]")
	}
	return nil
}

// RelationshipValidator validates relationship-related input
type RelationshipValidator struct{}

// NewRelationshipValidator creates a relationship validator
func NewRelationshipValidator() *RelationshipValidator {
	return &RelationshipValidator{}
}

// ValidateRelation rejects bad relation types and self-referential edges
func (v *RelationshipValidator) ValidateRelation(fromID, toID string, relType entities.RelationType) error {
	if !entities.IsValidRelationType(relType) {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("unknown relation type %q", relType))
	}
	if fromID == "" || toID == "" {
		return pkgerrors.NewValidationError("relationship endpoints cannot be empty")
	}
	if fromID == toID {
		return pkgerrors.NewValidationError("relationship cannot connect a memory to itself")
	}
	return nil
}

// ValidateProperties bounds strength and confidence to [0, 1]
func (v *RelationshipValidator) ValidateProperties(props entities.RelationshipProperties) error {
	if props.Strength < 0 || props.Strength > 1 {
		return pkgerrors.NewValidationError("strength must be within [0, 1]")
	}
	if props.Confidence < 0 || props.Confidence > 1 {
		return pkgerrors.NewValidationError("confidence must be within [0, 1]")
	}
	return nil
}
