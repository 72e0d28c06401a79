package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypeDetection(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		check   func(error) bool
		status  int
	}{
		{"validation", NewValidationError("bad"), IsValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("memory", "abc"), IsNotFound, http.StatusNotFound},
		{"conflict", NewConflictError("cycle"), IsConflict, http.StatusConflict},
		{"connection", NewConnectionError("sqlite", nil), IsConnection, http.StatusServiceUnavailable},
		{"backend", NewBackendError("save", nil), IsBackend, http.StatusInternalServerError},
		{"integrity", NewIntegrityError("checksum"), IsIntegrity, http.StatusInternalServerError},
		{"internal", NewInternalError("boom"), IsInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.status, GetAppError(tt.err).HTTPStatus)
		})
	}
}

func TestNotFoundError_NamesResource(t *testing.T) {
	err := NewNotFoundError("relationship", "r-42")

	assert.Contains(t, err.Error(), "relationship r-42 not found")
	assert.Equal(t, "relationship", err.Details["resource"])
	assert.Equal(t, "r-42", err.Details["id"])
}

func TestIsType_SeesThroughWrapping(t *testing.T) {
	inner := NewNotFoundError("memory", "abc")
	wrapped := fmt.Errorf("loading graph: %w", inner)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestUnwrap_ExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewConnectionError("remote", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap(t *testing.T) {
	appErr := Wrap(NewValidationError("empty title"), "creating memory")
	require.NotNil(t, appErr)
	assert.True(t, IsValidation(appErr), "wrapping keeps the original type")
	assert.Contains(t, appErr.Error(), "creating memory: empty title")

	plain := Wrap(errors.New("boom"), "saving")
	assert.True(t, IsInternal(plain))

	assert.Nil(t, Wrap(nil, "no-op"))
}

func TestWrapf(t *testing.T) {
	err := Wrapf(NewBackendError("query", errors.New("locked")), "page %d", 3)
	assert.True(t, IsBackend(err))
	assert.Contains(t, err.Error(), "page 3")
}

func TestGetAppError_Plain(t *testing.T) {
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.False(t, IsAppError(errors.New("plain")))
}
