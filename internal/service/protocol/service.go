package protocol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/followup"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/journey"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/ledger"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
)

const (
	ActionCreated        = "created"
	ActionSessionsAdded  = "sessions_added"
	ActionSupplyExtended = "supply_extended"
)

// Service owns protocol creation and removal. Usage counters belong to the
// ledger service and are never written here.
type Service struct {
	store     repository.Store
	events    event.Emitter
	ledger    *ledger.Service
	journeys  *journey.Service
	followUps *followup.Service
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(
	store repository.Store,
	events event.Emitter,
	ledger *ledger.Service,
	journeys *journey.Service,
	followUps *followup.Service,
	logger *logger.Logger,
) *Service {
	return &Service{
		store:     store,
		events:    events,
		ledger:    ledger,
		journeys:  journeys,
		followUps: followUps,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateProtocol opens a protocol for a patient and consumes its funding
// purchase in the same transaction. Assigning the default journey,
// scheduling follow-up labs and queueing the created event happen after
// commit; their failures come back as warnings.
func (s *Service) CreateProtocol(ctx context.Context, req model.CreateProtocolRequest) (*model.ProtocolResult, error) {
	if err := service.Validate(req); err != nil {
		return nil, err
	}
	pt, err := model.ParseProgramType(string(req.ProgramType))
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}

	today := model.DateOf(s.now())
	start := today
	if req.StartDate != nil {
		start = model.DateOf(*req.StartDate)
	}
	var end *time.Time
	if req.EndDate != nil {
		e := model.DateOf(*req.EndDate)
		if e.Before(start) {
			return nil, apperrors.Validation("end_date must not be before start_date", nil)
		}
		end = &e
	}

	if _, err := s.store.Patients().Get(ctx, req.PatientID); err != nil {
		return nil, service.StoreError(err, "patient")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = pt.Label()
	}
	p := &model.Protocol{
		PatientID:      req.PatientID,
		Name:           name,
		ProgramType:    pt,
		DeliveryMethod: req.DeliveryMethod,
		TotalSessions:  req.TotalSessions,
		SessionsUsed:   0,
		Status:         model.ProtocolStatusActive,
		StartDate:      &start,
		EndDate:        end,
		Notes:          req.Notes,
	}
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Protocols().Create(ctx, p); err != nil {
			return service.StoreError(err, "protocol")
		}
		if req.PurchaseID != nil {
			return service.ConsumePurchase(ctx, tx, *req.PurchaseID, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("protocol created",
		"protocol_id", p.ID.String(), "patient_id", p.PatientID.String(), "program_type", string(pt))

	warnings := service.NewWarnings(s.logger)
	p = s.assignJourney(ctx, warnings, p)
	if _, err := s.followUps.ScheduleFirstFollowUp(ctx, model.ScheduleFollowUpRequest{
		ProtocolID:  p.ID,
		PatientID:   p.PatientID,
		ProgramType: string(p.ProgramType),
		StartDate:   start,
	}); err != nil {
		warnings.Add(err, "failed to schedule follow-up labs", "protocol_id", p.ID.String())
	}
	if err := s.events.Emit(ctx, model.EventProtocolCreated, event.NewProtocolPayload(p)); err != nil {
		warnings.Add(err, "failed to queue "+model.EventProtocolCreated+" event", "protocol_id", p.ID.String())
	}

	return &model.ProtocolResult{
		Protocol: p,
		Action:   ActionCreated,
		Warnings: warnings.List(),
	}, nil
}

// assignJourney puts p on its program's default journey. A program without
// a default template simply has no journey.
func (s *Service) assignJourney(ctx context.Context, warnings *service.Warnings, p *model.Protocol) *model.Protocol {
	res, err := s.journeys.AssignTemplate(ctx, p.ID, nil)
	if apperrors.IsNotFound(err) {
		s.logger.Debug("no default journey template", "program_type", string(p.ProgramType))
		return p
	}
	if err != nil {
		warnings.Add(err, "failed to assign journey template", "protocol_id", p.ID.String())
		return p
	}
	warnings.Merge(res.Warnings)
	return res.Protocol
}

// GetProtocol returns the protocol with its status as of today and its ledger.
func (s *Service) GetProtocol(ctx context.Context, id uuid.UUID) (*model.ProtocolDetail, error) {
	p, err := s.store.Protocols().Get(ctx, id)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	logs, err := s.store.Logs().ListByProtocol(ctx, id)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	if logs == nil {
		logs = []*model.ProtocolLog{}
	}
	return &model.ProtocolDetail{
		Protocol:      p,
		DerivedStatus: model.DeriveStatus(p, s.now()),
		Logs:          logs,
	}, nil
}

// ListProtocols returns a patient's protocols, newest first.
func (s *Service) ListProtocols(ctx context.Context, patientID uuid.UUID, filter model.ProtocolFilter) ([]*model.Protocol, error) {
	if _, err := s.store.Patients().Get(ctx, patientID); err != nil {
		return nil, service.StoreError(err, "patient")
	}
	protocols, err := s.store.Protocols().ListByPatient(ctx, patientID, filter)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	return protocols, nil
}

// DeleteProtocol removes a protocol and everything recorded against it.
// Funding purchases are released so they can be applied again.
func (s *Service) DeleteProtocol(ctx context.Context, id uuid.UUID) error {
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Protocols().Get(ctx, id); err != nil {
			return err
		}
		if err := tx.Purchases().UnlinkProtocol(ctx, id); err != nil {
			return err
		}
		if err := tx.Logs().DeleteByProtocol(ctx, id); err != nil {
			return err
		}
		if err := tx.DayEntries().DeleteByProtocol(ctx, id); err != nil {
			return err
		}
		if err := tx.FollowUps().DeleteByProtocol(ctx, id); err != nil {
			return err
		}
		if err := tx.JourneyEvents().DeleteByProtocol(ctx, id); err != nil {
			return err
		}
		return tx.Protocols().Delete(ctx, id)
	})
	if err != nil {
		return service.StoreError(err, "protocol")
	}
	s.logger.Info("protocol deleted", "protocol_id", id.String())
	return nil
}

// ApplyPurchase turns a purchase into entitlement. An active protocol of the
// same program type is topped up: more sessions for in-clinic packs, more
// days for take-home supply. Without one a new protocol is created from the
// program's defaults.
func (s *Service) ApplyPurchase(ctx context.Context, purchaseID uuid.UUID) (*model.ProtocolResult, error) {
	purchase, err := s.store.Purchases().Get(ctx, purchaseID)
	if err != nil {
		return nil, service.StoreError(err, "purchase")
	}
	if purchase.Consumed() {
		return nil, apperrors.Conflict("purchase has already been applied to a protocol", repository.ErrAlreadyConsumed)
	}
	pt, ok := model.ProgramTypeForCategory(purchase.Category)
	if !ok {
		return nil, apperrors.Validation(fmt.Sprintf("unknown service category: %s. Valid categories: %s",
			purchase.Category, strings.Join(model.ServiceCategories(), ", ")), nil)
	}

	active := model.ProtocolStatusActive
	existing, err := s.store.Protocols().ListByPatient(ctx, purchase.PatientID, model.ProtocolFilter{
		Status:      &active,
		ProgramType: &pt,
	})
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}

	sessions := 1
	if purchase.SessionCount != nil {
		sessions = *purchase.SessionCount
	}
	defaults := defaultsFor(pt, sessions)

	if len(existing) > 0 {
		target := existing[0]
		note := stringPtr("Purchase: " + purchase.ItemName)
		if target.IsTakeHome() {
			days := defaults.days
			if purchase.SupplyDays != nil {
				days = *purchase.SupplyDays
			}
			res, err := s.ledger.ExtendSupply(ctx, target.ID, model.ExtendSupplyRequest{
				Days: days, PurchaseID: &purchase.ID, Notes: note,
			})
			if err != nil {
				return nil, err
			}
			return &model.ProtocolResult{Protocol: res.Protocol, Action: ActionSupplyExtended, Warnings: res.Warnings}, nil
		}
		res, err := s.ledger.AddSessions(ctx, target.ID, model.AddSessionsRequest{
			Count: sessions, PurchaseID: &purchase.ID, Notes: note,
		})
		if err != nil {
			return nil, err
		}
		return &model.ProtocolResult{Protocol: res.Protocol, Action: ActionSessionsAdded, Warnings: res.Warnings}, nil
	}

	start := model.DateOf(s.now())
	days := defaults.days
	if purchase.SupplyDays != nil {
		days = *purchase.SupplyDays
	}
	end := start.AddDate(0, 0, days)
	name := strings.TrimSpace(purchase.ItemName)
	if name == "" {
		name = pt.Label()
	}
	return s.CreateProtocol(ctx, model.CreateProtocolRequest{
		PatientID:      purchase.PatientID,
		Name:           name,
		ProgramType:    pt,
		DeliveryMethod: defaults.delivery,
		TotalSessions:  defaults.sessions,
		StartDate:      &start,
		EndDate:        &end,
		PurchaseID:     &purchase.ID,
	})
}

func stringPtr(s string) *string { return &s }
