package common

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPageRequest_Clamps(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
	}{
		{"defaults on zero limit", 0, 0, DefaultPageLimit, 0},
		{"defaults on negative limit", -5, 0, DefaultPageLimit, 0},
		{"caps at max", MaxPageLimit + 1, 0, MaxPageLimit, 0},
		{"negative offset floors to zero", 10, -3, 10, 0},
		{"valid values pass through", 25, 100, 25, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewPageRequest(tt.limit, tt.offset)
			assert.Equal(t, tt.wantLimit, req.Limit)
			assert.Equal(t, tt.wantOffset, req.Offset)
		})
	}
}

func TestNewPageInfo(t *testing.T) {
	info := NewPageInfo(PageRequest{Limit: 10, Offset: 0}, 25)
	assert.True(t, info.HasMore)
	assert.Equal(t, int64(25), info.Total)
	assert.Equal(t, 10, info.NextOffset)

	last := NewPageInfo(PageRequest{Limit: 10, Offset: 20}, 25)
	assert.False(t, last.HasMore)
	assert.Equal(t, 25, last.NextOffset, "the last page pins next_offset to the total")
}

func TestExtractPageRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/memories?limit=20&offset=40", nil)
	req := ExtractPageRequest(r)
	assert.Equal(t, 20, req.Limit)
	assert.Equal(t, 40, req.Offset)

	r = httptest.NewRequest("GET", "/memories?limit=junk&offset=-1", nil)
	req = ExtractPageRequest(r)
	assert.Equal(t, DefaultPageLimit, req.Limit)
	assert.Equal(t, 0, req.Offset)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 3, TotalPages(25, 10))
	assert.Equal(t, 2, TotalPages(20, 10))
	assert.Equal(t, 0, TotalPages(10, 0))
	assert.Equal(t, 1, TotalPages(1, 10))
}
