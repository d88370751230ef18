package packages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
)

// Service finds the protocols a new service delivery may be billed against.
type Service struct {
	store repository.Store
	now   func() time.Time
}

func NewService(store repository.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// FindUsablePackages lists the patient's active protocols that still have
// entitlement left, optionally narrowed to a service category.
func (s *Service) FindUsablePackages(ctx context.Context, patientID uuid.UUID, category string) ([]*model.PackageSummary, error) {
	if _, err := s.store.Patients().Get(ctx, patientID); err != nil {
		return nil, service.StoreError(err, "patient")
	}

	active := model.ProtocolStatusActive
	filter := model.ProtocolFilter{Status: &active}
	if strings.TrimSpace(category) != "" {
		pt, ok := model.ProgramTypeForCategory(category)
		if !ok {
			return nil, apperrors.Validation(fmt.Sprintf("unknown service category %q; known categories: %s",
				category, strings.Join(model.ServiceCategories(), ", ")), nil)
		}
		filter.ProgramType = &pt
	}

	protocols, err := s.store.Protocols().ListByPatient(ctx, patientID, filter)
	if err != nil {
		return nil, service.StoreError(err, "patient")
	}

	asOf := s.now()
	today := model.DateOf(asOf)
	summaries := make([]*model.PackageSummary, 0, len(protocols))
	for _, p := range protocols {
		if !usable(p, asOf) {
			continue
		}
		summary := &model.PackageSummary{
			ProtocolID:        p.ID,
			Name:              p.Name,
			ProgramType:       p.ProgramType,
			DeliveryMethod:    p.DeliveryMethod,
			TotalSessions:     p.TotalSessions,
			SessionsUsed:      p.SessionsUsed,
			SessionsRemaining: p.SessionsRemaining(),
			EndDate:           p.EndDate,
		}
		if p.EndDate != nil {
			days := model.DaysBetween(today, *p.EndDate)
			summary.DaysRemaining = &days
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// usable is true when another session may be deducted: status is still
// active as of today, a session-bounded pack has sessions left, and a
// take-home supply has not run past its end date.
func usable(p *model.Protocol, asOf time.Time) bool {
	if model.DeriveStatus(p, asOf) != model.ProtocolStatusActive {
		return false
	}
	if p.SessionBounded() && *p.SessionsRemaining() == 0 {
		return false
	}
	if p.IsTakeHome() && p.DateLapsed(asOf) {
		return false
	}
	return true
}
