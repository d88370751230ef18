package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"min=1"`
	Kind  string `json:"kind" validate:"omitempty,oneof=session injection"`
}

func TestValidate(t *testing.T) {
	v := New()

	require.NoError(t, v.Validate(sample{Name: "x", Count: 2, Kind: "session"}))

	err := v.Validate(sample{Count: 0, Kind: "other"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Message, "name is required")
	assert.Contains(t, appErr.Message, "count must be at least 1")
	assert.Contains(t, appErr.Message, "kind must be one of: session, injection")
}
