package followup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

type Config struct {
	// WindowDays is the gap between protocol start and the first lab re-test.
	WindowDays int
}

type Service struct {
	store   repository.Store
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(store repository.Store, config Config, logger *logger.Logger, metrics *metrics.Metrics) *Service {
	if config.WindowDays <= 0 {
		config.WindowDays = model.FollowUpWindowDays
	}
	return &Service{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// ScheduleFirstFollowUp creates the first lab re-test for hormone and
// weight-loss protocols. Calling it again returns the existing record.
// Other program types are not applicable and get an empty result.
func (s *Service) ScheduleFirstFollowUp(ctx context.Context, req model.ScheduleFollowUpRequest) (*model.FollowUpResult, error) {
	if err := service.Validate(req); err != nil {
		return nil, err
	}
	if req.StartDate.IsZero() {
		return nil, apperrors.Validation("start_date is required", nil)
	}
	pt, err := model.ParseProgramType(req.ProgramType)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	if !pt.RequiresFollowUpLabs() {
		return &model.FollowUpResult{Applicable: false}, nil
	}

	existing, err := s.store.FollowUps().GetByType(ctx, req.ProtocolID, model.FollowUpTypeFirst)
	if err == nil {
		return &model.FollowUpResult{FollowUp: existing, Applicable: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, service.StoreError(err, "follow-up")
	}

	lab := &model.FollowUpLab{
		ProtocolID:     req.ProtocolID,
		PatientID:      req.PatientID,
		FollowUpNumber: 1,
		FollowUpType:   model.FollowUpTypeFirst,
		ProtocolLabel:  pt.Label(),
		DueDate:        model.DateOf(req.StartDate).AddDate(0, 0, s.config.WindowDays),
		Status:         model.FollowUpStatusDue,
	}
	created, err := s.store.FollowUps().CreateIfAbsent(ctx, lab)
	if err != nil {
		return nil, service.StoreError(err, "follow-up")
	}
	if !created {
		// lost the insert race; the winner's row is the record
		lab, err = s.store.FollowUps().GetByType(ctx, req.ProtocolID, model.FollowUpTypeFirst)
		if err != nil {
			return nil, service.StoreError(err, "follow-up")
		}
		return &model.FollowUpResult{FollowUp: lab, Applicable: true}, nil
	}

	s.metrics.FollowUpsScheduled.Inc()
	s.logger.Info("first follow-up scheduled",
		"protocol_id", req.ProtocolID.String(), "due_date", lab.DueDate.Format(model.DateLayout))
	return &model.FollowUpResult{FollowUp: lab, Created: true, Applicable: true}, nil
}

// ScheduleForProtocol schedules the first follow-up from a stored protocol.
func (s *Service) ScheduleForProtocol(ctx context.Context, protocolID uuid.UUID, fallbackStart time.Time) (*model.FollowUpResult, error) {
	p, err := s.store.Protocols().Get(ctx, protocolID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	start := fallbackStart
	if p.StartDate != nil {
		start = *p.StartDate
	}
	return s.ScheduleFirstFollowUp(ctx, model.ScheduleFollowUpRequest{
		ProtocolID:  p.ID,
		PatientID:   p.PatientID,
		ProgramType: string(p.ProgramType),
		StartDate:   start,
	})
}

func (s *Service) ListFollowUps(ctx context.Context, protocolID uuid.UUID) ([]*model.FollowUpLab, error) {
	if _, err := s.store.Protocols().Get(ctx, protocolID); err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	labs, err := s.store.FollowUps().ListByProtocol(ctx, protocolID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	return labs, nil
}
