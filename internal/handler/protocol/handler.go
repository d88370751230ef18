package protocol

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/handler"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/httputil"
)

type ProtocolService interface {
	CreateProtocol(ctx context.Context, req model.CreateProtocolRequest) (*model.ProtocolResult, error)
	GetProtocol(ctx context.Context, id uuid.UUID) (*model.ProtocolDetail, error)
	ListProtocols(ctx context.Context, patientID uuid.UUID, filter model.ProtocolFilter) ([]*model.Protocol, error)
	DeleteProtocol(ctx context.Context, id uuid.UUID) error
	ApplyPurchase(ctx context.Context, purchaseID uuid.UUID) (*model.ProtocolResult, error)
}

type LedgerService interface {
	LogSession(ctx context.Context, req model.LogSessionRequest) (*model.LedgerResult, error)
	DeleteLogEntry(ctx context.Context, logID uuid.UUID) (*model.LedgerResult, error)
	AddSessions(ctx context.Context, protocolID uuid.UUID, req model.AddSessionsRequest) (*model.LedgerResult, error)
	DeductSessions(ctx context.Context, protocolID uuid.UUID, req model.DeductSessionsRequest) (*model.LedgerResult, error)
	LogEvent(ctx context.Context, protocolID uuid.UUID, req model.LogEventRequest) (*model.LedgerResult, error)
	ExtendSupply(ctx context.Context, protocolID uuid.UUID, req model.ExtendSupplyRequest) (*model.LedgerResult, error)
	ToggleDayCompletion(ctx context.Context, protocolID uuid.UUID, dayNumber int) (*model.DayToggleResult, error)
	ListLogEntries(ctx context.Context, protocolID uuid.UUID) ([]*model.ProtocolLog, error)
}

type PackageService interface {
	FindUsablePackages(ctx context.Context, patientID uuid.UUID, category string) ([]*model.PackageSummary, error)
}

type FollowUpService interface {
	ScheduleForProtocol(ctx context.Context, protocolID uuid.UUID, fallbackStart time.Time) (*model.FollowUpResult, error)
	ListFollowUps(ctx context.Context, protocolID uuid.UUID) ([]*model.FollowUpLab, error)
}

type Handler struct {
	protocols ProtocolService
	ledger    LedgerService
	packages  PackageService
	followUps FollowUpService
}

func NewHandler(protocols ProtocolService, ledger LedgerService, packages PackageService, followUps FollowUpService) *Handler {
	return &Handler{
		protocols: protocols,
		ledger:    ledger,
		packages:  packages,
		followUps: followUps,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	protocols := r.Group("/protocols")
	{
		protocols.POST("", h.CreateProtocol)
		protocols.GET("/:id", h.GetProtocol)
		protocols.DELETE("/:id", h.DeleteProtocol)
		protocols.POST("/:id/sessions", h.LogSession)
		protocols.GET("/:id/logs", h.ListLogEntries)
		protocols.POST("/:id/log-entries", h.LogEvent)
		protocols.POST("/:id/add-sessions", h.AddSessions)
		protocols.POST("/:id/deduct-sessions", h.DeductSessions)
		protocols.POST("/:id/extend", h.ExtendSupply)
		protocols.POST("/:id/days/:day/toggle", h.ToggleDay)
		protocols.POST("/:id/follow-ups/first", h.ScheduleFirstFollowUp)
		protocols.GET("/:id/follow-ups", h.ListFollowUps)
	}
	r.DELETE("/protocol-logs/:id", h.DeleteLogEntry)
	r.POST("/purchases/:id/apply", h.ApplyPurchase)

	patients := r.Group("/patients")
	{
		patients.GET("/:id/protocols", h.ListProtocols)
		patients.GET("/:id/packages", h.FindUsablePackages)
	}
}

type createProtocolRequest struct {
	PatientID      uuid.UUID            `json:"patient_id"`
	Name           string               `json:"name"`
	ProgramType    model.ProgramType    `json:"program_type"`
	DeliveryMethod model.DeliveryMethod `json:"delivery_method"`
	TotalSessions  *int                 `json:"total_sessions"`
	StartDate      string               `json:"start_date"`
	EndDate        string               `json:"end_date"`
	PurchaseID     *uuid.UUID           `json:"purchase_id"`
	Notes          *string              `json:"notes"`
}

func (h *Handler) CreateProtocol(c *gin.Context) {
	var req createProtocolRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	start, ok := handler.ParseDate(c, "start_date", req.StartDate)
	if !ok {
		return
	}
	end, ok := handler.ParseDate(c, "end_date", req.EndDate)
	if !ok {
		return
	}

	result, err := h.protocols.CreateProtocol(c.Request.Context(), model.CreateProtocolRequest{
		PatientID:      req.PatientID,
		Name:           req.Name,
		ProgramType:    req.ProgramType,
		DeliveryMethod: req.DeliveryMethod,
		TotalSessions:  req.TotalSessions,
		StartDate:      start,
		EndDate:        end,
		PurchaseID:     req.PurchaseID,
		Notes:          req.Notes,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, result)
}

func (h *Handler) GetProtocol(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	detail, err := h.protocols.GetProtocol(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, detail)
}

func (h *Handler) ListProtocols(c *gin.Context) {
	patientID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var filter model.ProtocolFilter
	if s := c.Query("status"); s != "" {
		status := model.ProtocolStatus(s)
		filter.Status = &status
	}
	if s := c.Query("program_type"); s != "" {
		pt, err := model.ParseProgramType(s)
		if err != nil {
			httputil.RespondWithBadRequest(c, err.Error())
			return
		}
		filter.ProgramType = &pt
	}

	protocols, err := h.protocols.ListProtocols(c.Request.Context(), patientID, filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, protocols)
}

func (h *Handler) DeleteProtocol(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.protocols.DeleteProtocol(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"id": id, "deleted": true})
}

type logSessionRequest struct {
	OccurredOn  string        `json:"occurred_on"`
	LogType     model.LogType `json:"log_type"`
	Measurement *float64      `json:"measurement"`
	Notes       *string       `json:"notes"`
}

func (h *Handler) LogSession(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req logSessionRequest
	if !handler.BindJSON(c, &req, true) {
		return
	}
	occurred, ok := handler.ParseDate(c, "occurred_on", req.OccurredOn)
	if !ok {
		return
	}

	in := model.LogSessionRequest{
		ProtocolID:  id,
		LogType:     req.LogType,
		Measurement: req.Measurement,
		Notes:       req.Notes,
	}
	if occurred != nil {
		in.OccurredOn = *occurred
	}
	result, err := h.ledger.LogSession(c.Request.Context(), in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, result)
}

func (h *Handler) ListLogEntries(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	logs, err := h.ledger.ListLogEntries(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, logs)
}

func (h *Handler) DeleteLogEntry(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	result, err := h.ledger.DeleteLogEntry(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) AddSessions(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.AddSessionsRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	result, err := h.ledger.AddSessions(c.Request.Context(), id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) DeductSessions(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.DeductSessionsRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	result, err := h.ledger.DeductSessions(c.Request.Context(), id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

type logEventRequest struct {
	LogType    model.LogType `json:"log_type"`
	OccurredOn string        `json:"occurred_on"`
	Reason     string        `json:"reason"`
	Notes      *string       `json:"notes"`
}

func (h *Handler) LogEvent(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req logEventRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	occurred, ok := handler.ParseDate(c, "occurred_on", req.OccurredOn)
	if !ok {
		return
	}

	in := model.LogEventRequest{
		LogType: req.LogType,
		Reason:  req.Reason,
		Notes:   req.Notes,
	}
	if occurred != nil {
		in.OccurredOn = *occurred
	}
	result, err := h.ledger.LogEvent(c.Request.Context(), id, in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, result)
}

func (h *Handler) ExtendSupply(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.ExtendSupplyRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	result, err := h.ledger.ExtendSupply(c.Request.Context(), id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) ToggleDay(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		httputil.RespondWithBadRequest(c, "day must be a number")
		return
	}
	result, err := h.ledger.ToggleDayCompletion(c.Request.Context(), id, day)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) ApplyPurchase(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	result, err := h.protocols.ApplyPurchase(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) FindUsablePackages(c *gin.Context) {
	patientID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	packages, err := h.packages.FindUsablePackages(c.Request.Context(), patientID, c.Query("category"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, packages)
}

type scheduleFollowUpRequest struct {
	StartDate string `json:"start_date"`
}

func (h *Handler) ScheduleFirstFollowUp(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req scheduleFollowUpRequest
	if !handler.BindJSON(c, &req, true) {
		return
	}
	start, ok := handler.ParseDate(c, "start_date", req.StartDate)
	if !ok {
		return
	}
	fallback := time.Now()
	if start != nil {
		fallback = *start
	}

	result, err := h.followUps.ScheduleForProtocol(c.Request.Context(), id, fallback)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if result.Created {
		httputil.RespondWithCreated(c, result)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) ListFollowUps(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	labs, err := h.followUps.ListFollowUps(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, labs)
}
