package checkin

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/handler"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/httputil"
)

type CheckInService interface {
	RecordCheckIn(ctx context.Context, req model.CheckInRequest) (*model.CheckIn, error)
}

type Handler struct {
	service CheckInService
}

func NewHandler(service CheckInService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/check-ins", h.RecordCheckIn)
}

type checkInRequest struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	ProtocolID  *uuid.UUID `json:"protocol_id"`
	CheckInDate string     `json:"check_in_date"`
	EnergyScore *int       `json:"energy_score"`
	SleepScore  *int       `json:"sleep_score"`
	MoodScore   *int       `json:"mood_score"`
	Weight      *float64   `json:"weight"`
	Notes       *string    `json:"notes"`
}

func (h *Handler) RecordCheckIn(c *gin.Context) {
	var req checkInRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}
	date, ok := handler.ParseDate(c, "check_in_date", req.CheckInDate)
	if !ok {
		return
	}

	in := model.CheckInRequest{
		PatientID:   req.PatientID,
		ProtocolID:  req.ProtocolID,
		EnergyScore: req.EnergyScore,
		SleepScore:  req.SleepScore,
		MoodScore:   req.MoodScore,
		Weight:      req.Weight,
		Notes:       req.Notes,
	}
	if date != nil {
		in.CheckInDate = *date
	}
	checkIn, err := h.service.RecordCheckIn(c.Request.Context(), in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, checkIn)
}
