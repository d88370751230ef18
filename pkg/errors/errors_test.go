package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_StatusCode(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name   string
		err    *AppError
		status int
		code   string
	}{
		{"not found", NotFound("protocol", nil), http.StatusNotFound, "not_found"},
		{"validation", Validation("count must be positive", nil), http.StatusBadRequest, "validation"},
		{"conflict", Conflict("no sessions remaining", nil), http.StatusConflict, "conflict"},
		{"upstream", Upstream(cause), http.StatusBadGateway, "upstream"},
		{"unknown", &AppError{Message: "boom"}, http.StatusInternalServerError, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.Equal(t, tt.code, tt.err.Code.String())
		})
	}
}

func TestAppError_Message(t *testing.T) {
	assert.Equal(t, "protocol not found", NotFound("protocol", nil).Error())

	err := Upstream(errors.New("connection refused"))
	assert.Equal(t, "storage unavailable: connection refused", err.Error())
	assert.Equal(t, "storage unavailable", err.Message)
}

func TestCodeOf_Wrapped(t *testing.T) {
	cause := errors.New("row missing")
	err := fmt.Errorf("load protocol: %w", NotFound("protocol", cause))

	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, ErrorCode(0), CodeOf(errors.New("plain")))
	assert.False(t, IsValidation(nil))
	assert.True(t, IsUpstream(Upstream(nil)))
}
