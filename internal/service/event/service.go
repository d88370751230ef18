package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
)

// Emitter records events for the CRM and notification layer. Nothing is
// sent directly; the outbox processor relays them.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload interface{}) error
}

// ProtocolPayload accompanies protocol.* events.
type ProtocolPayload struct {
	ProtocolID    uuid.UUID            `json:"protocol_id"`
	PatientID     uuid.UUID            `json:"patient_id"`
	ProgramType   model.ProgramType    `json:"program_type"`
	Status        model.ProtocolStatus `json:"status"`
	TotalSessions *int                 `json:"total_sessions,omitempty"`
	SessionsUsed  int                  `json:"sessions_used"`
	EndDate       *time.Time           `json:"end_date,omitempty"`
}

func NewProtocolPayload(p *model.Protocol) ProtocolPayload {
	return ProtocolPayload{
		ProtocolID:    p.ID,
		PatientID:     p.PatientID,
		ProgramType:   p.ProgramType,
		Status:        p.Status,
		TotalSessions: p.TotalSessions,
		SessionsUsed:  p.SessionsUsed,
		EndDate:       p.EndDate,
	}
}

// StageChangedPayload accompanies journey.stage_changed.
type StageChangedPayload struct {
	ProtocolID    uuid.UUID         `json:"protocol_id"`
	PatientID     uuid.UUID         `json:"patient_id"`
	PreviousStage *string           `json:"previous_stage"`
	NewStage      string            `json:"new_stage"`
	TriggerType   model.TriggerType `json:"trigger_type"`
	TriggeredBy   string            `json:"triggered_by"`
}

type Service struct {
	outbox repository.OutboxRepository
	logger *logger.Logger
}

func NewService(outbox repository.OutboxRepository, logger *logger.Logger) *Service {
	return &Service{
		outbox: outbox,
		logger: logger,
	}
}

func (s *Service) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payloadJSON,
		Status:    model.OutboxStatusPending,
	}
	if err := s.outbox.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.logger.Debug("event queued", "event_id", event.ID.String(), "event_type", eventType)
	return nil
}
