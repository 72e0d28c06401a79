package common

import (
	"net/http"
	"strconv"
)

// Pagination bounds for listing operations. Offsets are not stable if the
// underlying data changes between pages.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

// PageRequest represents limit/offset pagination parameters
type PageRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// DefaultPageRequest returns the default pagination parameters
func DefaultPageRequest() PageRequest {
	return PageRequest{
		Limit:  DefaultPageLimit,
		Offset: 0,
	}
}

// NewPageRequest builds a request with limit clamped to [1, MaxPageLimit]
// and a non-negative offset
func NewPageRequest(limit, offset int) PageRequest {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return PageRequest{Limit: limit, Offset: offset}
}

// ExtractPageRequest extracts pagination parameters from an HTTP request
func ExtractPageRequest(r *http.Request) PageRequest {
	params := DefaultPageRequest()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			params.Limit = l
		}
	}

	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			params.Offset = o
		}
	}

	return NewPageRequest(params.Limit, params.Offset)
}

// PageInfo contains pagination metadata for a result page. Totals are int64
// because they come from engine COUNT queries.
type PageInfo struct {
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	Total      int64 `json:"total"`
	HasMore    bool  `json:"has_more"`
	NextOffset int   `json:"next_offset"`
}

// NewPageInfo builds pagination metadata from a request and total count
func NewPageInfo(req PageRequest, total int64) PageInfo {
	next := int64(req.Offset) + int64(req.Limit)
	hasMore := next < total
	if !hasMore {
		next = total
	}
	return PageInfo{
		Limit:      req.Limit,
		Offset:     req.Offset,
		Total:      total,
		HasMore:    hasMore,
		NextOffset: int(next),
	}
}

// TotalPages returns the number of pages needed for total items
func TotalPages(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	pages := total / int64(limit)
	if total%int64(limit) > 0 {
		pages++
	}
	return int(pages)
}
