// Package handler holds helpers shared by the resource handlers.
package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/httputil"
)

// ParamID parses the named path parameter as a UUID, responding 400 when it
// is malformed.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithBadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON decodes the body into req, responding 400 on failure. An empty
// body is allowed when optional is set.
func BindJSON(c *gin.Context, req interface{}, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		httputil.RespondWithBadRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// ParseDate parses an optional YYYY-MM-DD value. Empty yields nil.
func ParseDate(c *gin.Context, field, value string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	t, err := model.ParseDate(value)
	if err != nil {
		httputil.RespondWithBadRequest(c, field+" must be a YYYY-MM-DD date")
		return nil, false
	}
	return &t, true
}
