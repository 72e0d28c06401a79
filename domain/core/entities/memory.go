package entities

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/domain/core/valueobjects"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// MemoryType classifies a stored memory. The storage engine never infers
// semantics from the type beyond enumeration membership.
type MemoryType string

const (
	MemoryTypeProblem      MemoryType = "problem"
	MemoryTypeSolution     MemoryType = "solution"
	MemoryTypePattern      MemoryType = "pattern"
	MemoryTypeInsight      MemoryType = "insight"
	MemoryTypeTask         MemoryType = "task"
	MemoryTypeProject      MemoryType = "project"
	MemoryTypeReference    MemoryType = "reference"
	MemoryTypeConversation MemoryType = "conversation"
)

// MemoryTypes lists every valid memory type
func MemoryTypes() []MemoryType {
	return []MemoryType{
		MemoryTypeProblem,
		MemoryTypeSolution,
		MemoryTypePattern,
		MemoryTypeInsight,
		MemoryTypeTask,
		MemoryTypeProject,
		MemoryTypeReference,
		MemoryTypeConversation,
	}
}

// IsValidMemoryType checks membership in the memory type enumeration
func IsValidMemoryType(t MemoryType) bool {
	for _, known := range MemoryTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// MemoryContext carries structured context about where a memory originated.
// It is opaque to the storage engine.
type MemoryContext struct {
	Project   string   `json:"project,omitempty"`
	Files     []string `json:"files,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Memory is a node in the knowledge graph: a typed unit of recorded
// knowledge owned by the caller.
type Memory struct {
	ID         valueobjects.MemoryID `json:"id"`
	Type       MemoryType            `json:"type"`
	Title      string                `json:"title"`
	Content    string                `json:"content"`
	Summary    string                `json:"summary,omitempty"`
	Tags       []string              `json:"tags,omitempty"`
	Importance float64               `json:"importance"`
	Context    MemoryContext         `json:"context"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewMemory creates a memory with full business rule validation
func NewMemory(memType MemoryType, title, content string, cfg *config.DomainConfig) (*Memory, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	title = strings.TrimSpace(title)

	if !IsValidMemoryType(memType) {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("unknown memory type %q", memType))
	}

	if title == "" {
		return nil, pkgerrors.NewValidationError("title cannot be empty")
	}

	titleLength := utf8.RuneCountInString(title)
	if titleLength < cfg.MinTitleLength {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("title too short: minimum %d characters required", cfg.MinTitleLength))
	}
	if titleLength > cfg.MaxTitleLength {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("title exceeds maximum length of %d characters", cfg.MaxTitleLength))
	}

	if utf8.RuneCountInString(content) > cfg.MaxContentLength {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("content exceeds maximum length of %d characters", cfg.MaxContentLength))
	}

	now := time.Now().UTC()
	return &Memory{
		ID:         valueobjects.NewMemoryID(),
		Type:       memType,
		Title:      title,
		Content:    content,
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// SetTags replaces the tag set after normalization: tags are lower-cased,
// trimmed, deduplicated, and sorted for stable comparison
func (m *Memory) SetTags(tags []string, cfg *config.DomainConfig) error {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	normalized := NormalizeTags(tags)
	if len(normalized) > cfg.MaxTagsPerMemory {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("maximum tags reached: %d", cfg.MaxTagsPerMemory))
	}
	for _, tag := range normalized {
		if utf8.RuneCountInString(tag) > cfg.MaxTagLength {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("tag %q exceeds maximum length of %d characters", tag, cfg.MaxTagLength))
		}
	}

	m.Tags = normalized
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// SetImportance sets the importance score, bounded to [0, 1]
func (m *Memory) SetImportance(importance float64) error {
	if importance < 0 || importance > 1 {
		return pkgerrors.NewValidationError("importance must be within [0, 1]")
	}
	m.Importance = importance
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateContent updates title and content with validation
func (m *Memory) UpdateContent(title, content string, cfg *config.DomainConfig) error {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return pkgerrors.NewValidationError("title cannot be empty")
	}
	if utf8.RuneCountInString(title) > cfg.MaxTitleLength {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("title exceeds maximum length of %d characters", cfg.MaxTitleLength))
	}
	if utf8.RuneCountInString(content) > cfg.MaxContentLength {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("content exceeds maximum length of %d characters", cfg.MaxContentLength))
	}

	m.Title = title
	m.Content = content
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// NormalizeTags lower-cases, trims, deduplicates, and sorts a tag set
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}
	sort.Strings(normalized)
	return normalized
}
