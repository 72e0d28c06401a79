package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

type storeRequest struct {
	Title      string  `validate:"required,max=10"`
	Kind       string  `validate:"required,oneof=problem solution"`
	Importance float64 `validate:"gte=0,lte=1"`
}

func TestValidateStruct_Passes(t *testing.T) {
	err := ValidateStruct(storeRequest{Title: "ok", Kind: "problem", Importance: 0.5})
	assert.NoError(t, err)
}

func TestValidateStruct_ReturnsValidationKind(t *testing.T) {
	err := ValidateStruct(storeRequest{Kind: "mystery", Importance: 2})

	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	appErr := pkgerrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Contains(t, appErr.Message, "title is required")
	assert.Contains(t, appErr.Message, "kind must be one of")
	assert.Contains(t, appErr.Details, "title")
	assert.Contains(t, appErr.Details, "importance")
}
