package journey

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/handler"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/httputil"
)

type JourneyService interface {
	CreateTemplate(ctx context.Context, req model.CreateTemplateRequest) (*model.JourneyTemplate, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, req model.UpdateTemplateRequest) (*model.JourneyTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*model.JourneyTemplate, error)
	ListTemplates(ctx context.Context, programType string) ([]*model.JourneyTemplate, error)
	AssignTemplate(ctx context.Context, protocolID uuid.UUID, templateID *uuid.UUID) (*model.AdvanceResult, error)
	Advance(ctx context.Context, protocolID uuid.UUID, req model.AdvanceRequest) (*model.AdvanceResult, error)
	ListEvents(ctx context.Context, protocolID uuid.UUID) ([]*model.JourneyEvent, error)
}

type Handler struct {
	service JourneyService
}

func NewHandler(service JourneyService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	templates := r.Group("/journey-templates")
	{
		templates.GET("", h.ListTemplates)
		templates.POST("", h.CreateTemplate)
		templates.GET("/:id", h.GetTemplate)
		templates.PUT("/:id", h.UpdateTemplate)
	}

	journey := r.Group("/protocols/:id/journey")
	{
		journey.POST("/advance", h.Advance)
		journey.POST("/assign", h.AssignTemplate)
		journey.GET("/events", h.ListEvents)
	}
}

func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.service.ListTemplates(c.Request.Context(), c.Query("program_type"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, templates)
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	var req model.CreateTemplateRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	tmpl, err := h.service.CreateTemplate(c.Request.Context(), req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, tmpl)
}

func (h *Handler) GetTemplate(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	tmpl, err := h.service.GetTemplate(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tmpl)
}

func (h *Handler) UpdateTemplate(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateTemplateRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	tmpl, err := h.service.UpdateTemplate(c.Request.Context(), id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tmpl)
}

func (h *Handler) Advance(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.AdvanceRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	result, err := h.service.Advance(c.Request.Context(), id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

type assignRequest struct {
	TemplateID *uuid.UUID `json:"template_id"`
}

func (h *Handler) AssignTemplate(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !handler.BindJSON(c, &req, true) {
		return
	}
	result, err := h.service.AssignTemplate(c.Request.Context(), id, req.TemplateID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) ListEvents(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	events, err := h.service.ListEvents(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, events)
}
