package journey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

const (
	defaultTriggeredBy = "staff"
	defaultCacheTTL    = 5 * time.Minute
)

type Config struct {
	TemplateCacheTTL time.Duration
}

// Service moves protocols through the stages of their journey template.
type Service struct {
	store     repository.Store
	events    event.Emitter
	templates *cache.Cache
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(store repository.Store, events event.Emitter, config Config, logger *logger.Logger, metrics *metrics.Metrics) *Service {
	ttl := config.TemplateCacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		store:     store,
		events:    events,
		templates: cache.New(ttl, 2*ttl),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (s *Service) CreateTemplate(ctx context.Context, req model.CreateTemplateRequest) (*model.JourneyTemplate, error) {
	if err := service.Validate(req); err != nil {
		return nil, err
	}
	pt, err := model.ParseProgramType(string(req.ProgramType))
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	if err := req.Stages.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}

	tmpl := &model.JourneyTemplate{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(req.Name),
		ProgramType: pt,
		Stages:      req.Stages,
		IsDefault:   req.IsDefault,
	}

	// Unset the old default and set the new one in the same transaction.
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if tmpl.IsDefault {
			if err := tx.Templates().ClearDefault(ctx, pt, tmpl.ID); err != nil {
				return err
			}
		}
		return tx.Templates().Create(ctx, tmpl)
	})
	if err != nil {
		return nil, templateError(err, pt)
	}

	s.templates.Flush()
	s.logger.Info("journey template created", "template_id", tmpl.ID.String(), "program_type", string(pt), "default", tmpl.IsDefault)
	return tmpl, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id uuid.UUID, req model.UpdateTemplateRequest) (*model.JourneyTemplate, error) {
	if req.Stages != nil {
		if err := req.Stages.Validate(); err != nil {
			return nil, apperrors.Validation(err.Error(), err)
		}
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, apperrors.Validation("name is required", nil)
	}

	var tmpl *model.JourneyTemplate
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		tmpl, err = tx.Templates().Get(ctx, id)
		if err != nil {
			return service.StoreError(err, "journey template")
		}
		if req.Name != nil {
			tmpl.Name = strings.TrimSpace(*req.Name)
		}
		if req.Stages != nil {
			tmpl.Stages = *req.Stages
		}
		if req.IsDefault != nil {
			tmpl.IsDefault = *req.IsDefault
		}
		if tmpl.IsDefault {
			if err := tx.Templates().ClearDefault(ctx, tmpl.ProgramType, tmpl.ID); err != nil {
				return err
			}
		}
		return tx.Templates().Update(ctx, tmpl)
	})
	if err != nil {
		pt := model.ProgramType("")
		if tmpl != nil {
			pt = tmpl.ProgramType
		}
		return nil, templateError(err, pt)
	}

	s.templates.Flush()
	return tmpl, nil
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*model.JourneyTemplate, error) {
	key := "template:" + id.String()
	if cached, found := s.templates.Get(key); found {
		return cached.(*model.JourneyTemplate).Clone(), nil
	}

	tmpl, err := s.store.Templates().Get(ctx, id)
	if err != nil {
		return nil, service.StoreError(err, "journey template")
	}
	s.templates.Set(key, tmpl.Clone(), cache.DefaultExpiration)
	return tmpl, nil
}

// ListTemplates lists every template, or those of one program type.
func (s *Service) ListTemplates(ctx context.Context, programType string) ([]*model.JourneyTemplate, error) {
	var filter *model.ProgramType
	if strings.TrimSpace(programType) != "" {
		pt, err := model.ParseProgramType(programType)
		if err != nil {
			return nil, apperrors.Validation(err.Error(), err)
		}
		filter = &pt
	}

	templates, err := s.store.Templates().List(ctx, filter)
	if err != nil {
		return nil, service.StoreError(err, "journey template")
	}
	return templates, nil
}

// AssignTemplate attaches a template, or the program type's default when
// templateID is nil, and puts the protocol on its first stage.
func (s *Service) AssignTemplate(ctx context.Context, protocolID uuid.UUID, templateID *uuid.UUID) (*model.AdvanceResult, error) {
	p, err := s.store.Protocols().Get(ctx, protocolID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}

	var tmpl *model.JourneyTemplate
	if templateID != nil {
		tmpl, err = s.GetTemplate(ctx, *templateID)
		if err != nil {
			return nil, err
		}
		if tmpl.ProgramType != p.ProgramType {
			return nil, apperrors.Validation(fmt.Sprintf("template is for %s, protocol is %s", tmpl.ProgramType, p.ProgramType), nil)
		}
	} else {
		tmpl, err = s.store.Templates().GetDefault(ctx, p.ProgramType)
		if err != nil {
			return nil, service.StoreError(err, fmt.Sprintf("default journey template for %s", p.ProgramType))
		}
	}
	if len(tmpl.Stages) == 0 {
		return nil, apperrors.Validation("template has no stages", nil)
	}

	first := tmpl.Stages[0].Key
	updated, err := s.store.Protocols().UpdateJourney(ctx, p.ID, &first, &tmpl.ID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}

	return s.recordTransition(ctx, updated, p.CurrentJourneyStage, first, model.TriggerAutomatic, model.TriggeredBySystem, nil), nil
}

// Advance moves a protocol to newStage. With a template assigned the stage
// must be one of its keys. The stage change stands even when the audit
// event cannot be written; that failure comes back as a warning.
func (s *Service) Advance(ctx context.Context, protocolID uuid.UUID, req model.AdvanceRequest) (*model.AdvanceResult, error) {
	if err := service.Validate(req); err != nil {
		return nil, err
	}
	newStage := strings.TrimSpace(req.NewStage)
	if newStage == "" {
		return nil, apperrors.Validation("new_stage is required", nil)
	}

	p, err := s.store.Protocols().Get(ctx, protocolID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}

	if p.JourneyTemplateID != nil {
		tmpl, err := s.GetTemplate(ctx, *p.JourneyTemplateID)
		if err != nil {
			return nil, err
		}
		if tmpl.Stages.Index(newStage) < 0 {
			return nil, apperrors.Validation(fmt.Sprintf("invalid stage: %s. Valid stages: %s",
				newStage, strings.Join(tmpl.Stages.Keys(), ", ")), nil)
		}
	}

	trigger := req.TriggerType
	if trigger == "" {
		trigger = model.TriggerManual
	}
	triggeredBy := strings.TrimSpace(req.TriggeredBy)
	if triggeredBy == "" {
		triggeredBy = defaultTriggeredBy
	}

	updated, err := s.store.Protocols().UpdateJourney(ctx, p.ID, &newStage, p.JourneyTemplateID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}

	return s.recordTransition(ctx, updated, p.CurrentJourneyStage, newStage, trigger, triggeredBy, req.Notes), nil
}

// ListEvents returns the protocol's stage history, newest first.
func (s *Service) ListEvents(ctx context.Context, protocolID uuid.UUID) ([]*model.JourneyEvent, error) {
	if _, err := s.store.Protocols().Get(ctx, protocolID); err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	events, err := s.store.JourneyEvents().ListByProtocol(ctx, protocolID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	return events, nil
}

// AdvanceDue moves every active protocol whose current stage's auto
// conditions all hold as of asOf on to the next stage. A protocol advances
// at most one stage per pass.
func (s *Service) AdvanceDue(ctx context.Context, asOf time.Time) (*model.AutoAdvanceReport, error) {
	candidates, err := s.store.Protocols().ListJourneyCandidates(ctx)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}

	report := &model.AutoAdvanceReport{Advanced: []*model.JourneyEvent{}}
	warnings := service.NewWarnings(s.logger)
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Evaluated++

		next, ok, err := s.nextDueStage(ctx, p, asOf)
		if err != nil {
			warnings.Add(err, "failed to evaluate journey", "protocol_id", p.ID.String())
			continue
		}
		if !ok {
			continue
		}

		notes := fmt.Sprintf("Auto-advanced from %s", *p.CurrentJourneyStage)
		res, err := s.Advance(ctx, p.ID, model.AdvanceRequest{
			NewStage:    next,
			TriggerType: model.TriggerAutomatic,
			TriggeredBy: model.TriggeredBySystem,
			Notes:       &notes,
		})
		if err != nil {
			warnings.Add(err, "failed to advance journey", "protocol_id", p.ID.String())
			continue
		}
		if res.Event != nil {
			report.Advanced = append(report.Advanced, res.Event)
		}
		report.Warnings = append(report.Warnings, res.Warnings...)
	}
	report.Warnings = append(report.Warnings, warnings.List()...)

	s.logger.Info("journey auto-advance finished",
		"evaluated", report.Evaluated, "advanced", len(report.Advanced))
	return report, nil
}

// nextDueStage reports the stage p should move to, if its current stage's
// conditions are all met.
func (s *Service) nextDueStage(ctx context.Context, p *model.Protocol, asOf time.Time) (string, bool, error) {
	tmpl, err := s.GetTemplate(ctx, *p.JourneyTemplateID)
	if err != nil {
		return "", false, err
	}
	idx := tmpl.Stages.Index(*p.CurrentJourneyStage)
	if idx < 0 || idx == len(tmpl.Stages)-1 {
		return "", false, nil
	}
	stage := tmpl.Stages[idx]
	if len(stage.AutoConditions) == 0 {
		return "", false, nil
	}

	enteredAt := p.UpdatedAt
	ev, err := s.store.JourneyEvents().LatestForStage(ctx, p.ID, stage.Key)
	switch {
	case err == nil:
		enteredAt = ev.CreatedAt
	case !errors.Is(err, repository.ErrNotFound):
		return "", false, err
	}

	for key, value := range stage.AutoConditions {
		met, known := model.EvaluateCondition(key, value, p, enteredAt, asOf)
		if !known {
			s.logger.Warn("unknown auto-advance condition", "protocol_id", p.ID.String(), "stage", stage.Key, "condition", key)
			return "", false, nil
		}
		if !met {
			return "", false, nil
		}
	}
	return tmpl.Stages[idx+1].Key, true, nil
}

// recordTransition writes the audit event and queues the notification after
// the stage has already changed. Failures become warnings.
func (s *Service) recordTransition(ctx context.Context, p *model.Protocol, previous *string, newStage string, trigger model.TriggerType, triggeredBy string, notes *string) *model.AdvanceResult {
	s.metrics.JourneyTransitions.WithLabelValues(string(trigger)).Inc()
	warnings := service.NewWarnings(s.logger)

	ev := &model.JourneyEvent{
		ProtocolID:    p.ID,
		PatientID:     p.PatientID,
		PreviousStage: previous,
		NewStage:      newStage,
		TriggerType:   trigger,
		TriggeredBy:   triggeredBy,
		Notes:         notes,
	}
	if err := s.store.JourneyEvents().Create(ctx, ev); err != nil {
		warnings.Add(err, "stage changed but journey event was not recorded", "protocol_id", p.ID.String(), "new_stage", newStage)
		ev = nil
	}

	payload := event.StageChangedPayload{
		ProtocolID:    p.ID,
		PatientID:     p.PatientID,
		PreviousStage: previous,
		NewStage:      newStage,
		TriggerType:   trigger,
		TriggeredBy:   triggeredBy,
	}
	if err := s.events.Emit(ctx, model.EventJourneyStageChanged, payload); err != nil {
		warnings.Add(err, "failed to queue "+model.EventJourneyStageChanged+" event", "protocol_id", p.ID.String())
	}

	return &model.AdvanceResult{Protocol: p, Event: ev, Warnings: warnings.List()}
}

func templateError(err error, pt model.ProgramType) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return apperrors.Conflict(fmt.Sprintf("another default journey template exists for %s", pt), err)
	}
	return service.StoreError(err, "journey template")
}
