package entities

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/domain/config"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

func TestNewMemory_Success(t *testing.T) {
	memory, err := NewMemory(MemoryTypeInsight, "  Indexes beat scans  ", "Sequential scans dominate once the working set misses cache.", nil)

	require.NoError(t, err)
	assert.False(t, memory.ID.IsZero())
	assert.Equal(t, MemoryTypeInsight, memory.Type)
	assert.Equal(t, "Indexes beat scans", memory.Title, "title should be trimmed")
	assert.Equal(t, 0.5, memory.Importance, "importance defaults to 0.5")
	assert.False(t, memory.CreatedAt.IsZero())
	assert.Equal(t, memory.CreatedAt, memory.UpdatedAt)
}

func TestNewMemory_Validation(t *testing.T) {
	cfg := config.DefaultDomainConfig()

	tests := []struct {
		name    string
		memType MemoryType
		title   string
		content string
	}{
		{"unknown type", MemoryType("daydream"), "valid title", "content"},
		{"empty title", MemoryTypeTask, "   ", "content"},
		{"title too long", MemoryTypeTask, strings.Repeat("x", cfg.MaxTitleLength+1), "content"},
		{"content too long", MemoryTypeTask, "valid title", strings.Repeat("x", cfg.MaxContentLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMemory(tt.memType, tt.title, tt.content, cfg)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestNewMemory_TitleLengthCountsRunes(t *testing.T) {
	cfg := config.DefaultDomainConfig()

	// Multi-byte characters must count as single characters
	title := strings.Repeat("ä", cfg.MaxTitleLength)
	_, err := NewMemory(MemoryTypeReference, title, "content", cfg)
	assert.NoError(t, err)

	_, err = NewMemory(MemoryTypeReference, title+"ä", "content", cfg)
	assert.Error(t, err)
}

func TestSetTags_Normalizes(t *testing.T) {
	memory, err := NewMemory(MemoryTypePattern, "retry with backoff", "", nil)
	require.NoError(t, err)

	err = memory.SetTags([]string{"  Go ", "retry", "GO", "", "retry"}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"go", "retry"}, memory.Tags)
}

func TestSetTags_Limits(t *testing.T) {
	cfg := config.DefaultDomainConfig()
	memory, err := NewMemory(MemoryTypePattern, "tag limits", "", cfg)
	require.NoError(t, err)

	tooMany := make([]string, cfg.MaxTagsPerMemory+1)
	for i := range tooMany {
		tooMany[i] = "tag-" + strings.Repeat("a", i+1)
	}
	assert.Error(t, memory.SetTags(tooMany, cfg))

	assert.Error(t, memory.SetTags([]string{strings.Repeat("a", cfg.MaxTagLength+1)}, cfg))
}

func TestSetImportance_Bounds(t *testing.T) {
	memory, err := NewMemory(MemoryTypeProblem, "importance bounds", "", nil)
	require.NoError(t, err)

	assert.NoError(t, memory.SetImportance(0))
	assert.NoError(t, memory.SetImportance(1))
	assert.Error(t, memory.SetImportance(-0.01))
	assert.Error(t, memory.SetImportance(1.01))
	assert.Equal(t, 1.0, memory.Importance, "failed set must not change the score")
}

func TestUpdateContent(t *testing.T) {
	memory, err := NewMemory(MemoryTypeSolution, "original", "before", nil)
	require.NoError(t, err)

	require.NoError(t, memory.UpdateContent("revised", "after", nil))
	assert.Equal(t, "revised", memory.Title)
	assert.Equal(t, "after", memory.Content)

	assert.Error(t, memory.UpdateContent("", "after", nil))
}
