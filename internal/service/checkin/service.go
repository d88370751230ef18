package checkin

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
)

type Service struct {
	store  repository.Store
	logger *logger.Logger
	now    func() time.Time
}

func NewService(store repository.Store, logger *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RecordCheckIn stores the patient's check-in for the day. A second
// submission on the same day replaces the first.
func (s *Service) RecordCheckIn(ctx context.Context, req model.CheckInRequest) (*model.CheckIn, error) {
	if err := service.Validate(req); err != nil {
		return nil, err
	}
	if _, err := s.store.Patients().Get(ctx, req.PatientID); err != nil {
		return nil, service.StoreError(err, "patient")
	}
	if req.ProtocolID != nil {
		p, err := s.store.Protocols().Get(ctx, *req.ProtocolID)
		if err != nil {
			return nil, service.StoreError(err, "protocol")
		}
		if p.PatientID != req.PatientID {
			return nil, apperrors.Validation("protocol does not belong to patient", nil)
		}
	}

	date := req.CheckInDate
	if date.IsZero() {
		date = s.now()
	}
	checkIn := &model.CheckIn{
		PatientID:    req.PatientID,
		ProtocolID:   req.ProtocolID,
		CheckInDate:  model.DateOf(date),
		EnergyScore:  req.EnergyScore,
		SleepScore:   req.SleepScore,
		MoodScore:    req.MoodScore,
		OverallScore: OverallScore(req.EnergyScore, req.SleepScore, req.MoodScore),
		Weight:       req.Weight,
		Notes:        req.Notes,
	}
	if err := s.store.CheckIns().Upsert(ctx, checkIn); err != nil {
		return nil, service.StoreError(err, "check-in")
	}

	s.logger.Debug("check-in recorded",
		"patient_id", req.PatientID.String(), "date", checkIn.CheckInDate.Format(model.DateLayout))
	return checkIn, nil
}

func (s *Service) GetCheckIn(ctx context.Context, patientID uuid.UUID, date time.Time) (*model.CheckIn, error) {
	checkIn, err := s.store.CheckIns().Get(ctx, patientID, date)
	if err != nil {
		return nil, service.StoreError(err, "check-in")
	}
	return checkIn, nil
}

// OverallScore is the mean of the supplied scores rounded half away from
// zero, or nil when none were given.
func OverallScore(scores ...*int) *int {
	sum, n := 0, 0
	for _, sc := range scores {
		if sc != nil {
			sum += *sc
			n++
		}
	}
	if n == 0 {
		return nil
	}
	overall := int(math.Round(float64(sum) / float64(n)))
	return &overall
}
