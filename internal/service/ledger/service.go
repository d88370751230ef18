package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

type Config struct {
	// MaxCASAttempts bounds how often a counter update is retried after
	// losing a version race.
	MaxCASAttempts int
}

// Service is the only writer of protocol usage counters.
type Service struct {
	store   repository.Store
	events  event.Emitter
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store repository.Store, events event.Emitter, config Config, logger *logger.Logger, metrics *metrics.Metrics) *Service {
	if config.MaxCASAttempts < 1 {
		config.MaxCASAttempts = 3
	}
	return &Service{
		store:   store,
		events:  events,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// LogSession appends a session or injection line and consumes one session.
// A pack with nothing left is refused.
func (s *Service) LogSession(ctx context.Context, req model.LogSessionRequest) (result *model.LedgerResult, err error) {
	defer func() { s.metrics.ObserveLedger("log_session", err) }()

	if err := service.Validate(req); err != nil {
		return nil, err
	}
	occurred := req.OccurredOn
	if occurred.IsZero() {
		occurred = s.now()
	}

	var entry *model.ProtocolLog
	p, err := s.mutate(ctx, req.ProtocolID, func(tx repository.Store, p *model.Protocol) error {
		if p.SessionsExhausted() {
			return apperrors.Conflict(fmt.Sprintf("pack only has %d sessions remaining", *p.SessionsRemaining()), nil)
		}

		logType := req.LogType
		if logType == "" {
			logType = sessionLogType(p)
		}
		entry = &model.ProtocolLog{
			ProtocolID:  p.ID,
			PatientID:   p.PatientID,
			LogDate:     model.DateOf(occurred),
			LogType:     logType,
			Measurement: req.Measurement,
			Notes:       req.Notes,
		}
		if err := tx.Logs().Create(ctx, entry); err != nil {
			return err
		}

		p.SessionsUsed++
		p.Status = model.SessionStatus(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsLogged.Inc()

	warnings := service.NewWarnings(s.logger)
	completed := p.Status == model.ProtocolStatusCompleted
	if completed {
		s.emit(ctx, warnings, model.EventProtocolCompleted, p)
	}

	return &model.LedgerResult{
		Protocol:      p,
		Log:           entry,
		SessionNumber: p.SessionsUsed,
		Completed:     completed,
		Warnings:      warnings.List(),
	}, nil
}

// DeleteLogEntry removes a ledger line and reverses its effect on the
// counters. A protocol completed only because its sessions ran out becomes
// active again.
func (s *Service) DeleteLogEntry(ctx context.Context, logID uuid.UUID) (result *model.LedgerResult, err error) {
	defer func() { s.metrics.ObserveLedger("delete_log_entry", err) }()

	entry, err := s.store.Logs().Get(ctx, logID)
	if err != nil {
		return nil, service.StoreError(err, "log entry")
	}

	p, err := s.mutate(ctx, entry.ProtocolID, func(tx repository.Store, p *model.Protocol) error {
		if err := tx.Logs().Delete(ctx, logID); err != nil {
			return service.StoreError(err, "log entry")
		}
		if entry.LogType.ConsumesSession() && p.SessionsUsed > 0 {
			p.SessionsUsed--
			p.Status = model.ReconcileStatus(p, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &model.LedgerResult{
		Protocol:      p,
		Log:           entry,
		SessionNumber: p.SessionsUsed,
		Completed:     p.Status == model.ProtocolStatusCompleted,
	}, nil
}

// AddSessions tops up a pack. A protocol without a session limit gets one,
// counted on top of the sessions it has already used. The funding purchase
// is consumed in the same transaction.
func (s *Service) AddSessions(ctx context.Context, protocolID uuid.UUID, req model.AddSessionsRequest) (result *model.LedgerResult, err error) {
	defer func() { s.metrics.ObserveLedger("add_sessions", err) }()

	if err := service.Validate(req); err != nil {
		return nil, err
	}

	today := model.DateOf(s.now())
	var entry *model.ProtocolLog
	p, err := s.mutate(ctx, protocolID, func(tx repository.Store, p *model.Protocol) error {
		before := p.SessionsUsed
		if p.TotalSessions != nil {
			before = max(*p.TotalSessions, p.SessionsUsed)
		}
		after := before + req.Count
		p.TotalSessions = &after
		p.Status = model.SessionStatus(p)

		note := fmt.Sprintf("Sessions: %d → %d", before, after)
		if req.Notes != nil && *req.Notes != "" {
			note += "\n" + *req.Notes
		}
		entry = &model.ProtocolLog{
			ProtocolID: p.ID,
			PatientID:  p.PatientID,
			LogDate:    today,
			LogType:    model.LogTypeRenewal,
			Notes:      &note,
		}
		if err := tx.Logs().Create(ctx, entry); err != nil {
			return err
		}
		if req.PurchaseID != nil {
			return service.ConsumePurchase(ctx, tx, *req.PurchaseID, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	warnings := service.NewWarnings(s.logger)
	s.emit(ctx, warnings, model.EventProtocolRenewed, p)

	return &model.LedgerResult{
		Protocol:      p,
		Log:           entry,
		SessionNumber: p.SessionsUsed,
		Warnings:      warnings.List(),
	}, nil
}

// DeductSessions consumes count sessions at once, for sessions paid for out
// of an existing pack. Each session gets its own ledger line so any one of
// them can be deleted later.
func (s *Service) DeductSessions(ctx context.Context, protocolID uuid.UUID, req model.DeductSessionsRequest) (result *model.LedgerResult, err error) {
	defer func() { s.metrics.ObserveLedger("deduct_sessions", err) }()

	if err := service.Validate(req); err != nil {
		return nil, err
	}

	today := model.DateOf(s.now())
	var entry *model.ProtocolLog
	p, err := s.mutate(ctx, protocolID, func(tx repository.Store, p *model.Protocol) error {
		if remaining := p.SessionsRemaining(); remaining != nil && *remaining < req.Count {
			return apperrors.Conflict(fmt.Sprintf("pack only has %d sessions remaining", *remaining), nil)
		}

		before := p.SessionsUsed
		note := fmt.Sprintf("Deducted %d sessions (%d → %d used)", req.Count, before, before+req.Count)
		if p.TotalSessions != nil {
			note = fmt.Sprintf("Deducted %d sessions (%d → %d used of %d)", req.Count, before, before+req.Count, *p.TotalSessions)
		}
		if req.Notes != nil && *req.Notes != "" {
			note += "\n" + *req.Notes
		}
		for i := 0; i < req.Count; i++ {
			entry = &model.ProtocolLog{
				ProtocolID: p.ID,
				PatientID:  p.PatientID,
				LogDate:    today,
				LogType:    sessionLogType(p),
				Notes:      &note,
			}
			if err := tx.Logs().Create(ctx, entry); err != nil {
				return err
			}
		}

		p.SessionsUsed += req.Count
		p.Status = model.SessionStatus(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsLogged.Add(float64(req.Count))

	warnings := service.NewWarnings(s.logger)
	completed := p.Status == model.ProtocolStatusCompleted
	if completed {
		s.emit(ctx, warnings, model.EventProtocolCompleted, p)
	}

	return &model.LedgerResult{
		Protocol:      p,
		Log:           entry,
		SessionNumber: p.SessionsUsed,
		Completed:     completed,
		Warnings:      warnings.List(),
	}, nil
}

// LogEvent records a ledger line that uses no session, such as a missed
// dose. The counters and status are left alone.
func (s *Service) LogEvent(ctx context.Context, protocolID uuid.UUID, req model.LogEventRequest) (result *model.LedgerResult, err error) {
	defer func() { s.metrics.ObserveLedger("log_event", err) }()

	if err := service.Validate(req); err != nil {
		return nil, err
	}
	logType := req.LogType
	if logType == "" {
		logType = model.LogTypeMissed
	}
	occurred := req.OccurredOn
	if occurred.IsZero() {
		occurred = s.now()
	}

	note := strings.TrimSpace(req.Reason)
	if logType == model.LogTypeMissed {
		note = "Missed: " + note
	}
	if req.Notes != nil && *req.Notes != "" {
		note += "\n" + *req.Notes
	}

	var (
		p     *model.Protocol
		entry *model.ProtocolLog
	)
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		p, err = tx.Protocols().Get(ctx, protocolID)
		if err != nil {
			return err
		}
		entry = &model.ProtocolLog{
			ProtocolID: p.ID,
			PatientID:  p.PatientID,
			LogDate:    model.DateOf(occurred),
			LogType:    logType,
			Notes:      &note,
		}
		return tx.Logs().Create(ctx, entry)
	})
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}

	return &model.LedgerResult{
		Protocol:      p,
		Log:           entry,
		SessionNumber: p.SessionsUsed,
		Completed:     p.Status == model.ProtocolStatusCompleted,
	}, nil
}

// ExtendSupply pushes a take-home protocol's end date out. A lapsed supply
// is extended from today rather than from its old end date. The funding
// purchase is consumed in the same transaction.
func (s *Service) ExtendSupply(ctx context.Context, protocolID uuid.UUID, req model.ExtendSupplyRequest) (result *model.LedgerResult, err error) {
	defer func() { s.metrics.ObserveLedger("extend_supply", err) }()

	if err := service.Validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	today := model.DateOf(now)
	p, err := s.mutate(ctx, protocolID, func(tx repository.Store, p *model.Protocol) error {
		if !p.IsTakeHome() {
			return apperrors.Validation("supply can only be extended on take-home protocols", nil)
		}

		base := today
		if p.EndDate != nil && model.DateOf(*p.EndDate).After(today) {
			base = model.DateOf(*p.EndDate)
		}
		end := base.AddDate(0, 0, req.Days)
		p.EndDate = &end
		if p.StartDate == nil {
			p.StartDate = &today
		}

		p.AppendNote(today, fmt.Sprintf("Supply extended by %d days to %s", req.Days, end.Format(model.DateLayout)))
		if req.Notes != nil && *req.Notes != "" {
			p.AppendNote(today, *req.Notes)
		}
		p.Status = model.DeriveStatus(p, now)
		if req.PurchaseID != nil {
			return service.ConsumePurchase(ctx, tx, *req.PurchaseID, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	warnings := service.NewWarnings(s.logger)
	s.emit(ctx, warnings, model.EventProtocolRenewed, p)

	return &model.LedgerResult{
		Protocol:      p,
		SessionNumber: p.SessionsUsed,
		Completed:     p.Status == model.ProtocolStatusCompleted,
		Warnings:      warnings.List(),
	}, nil
}

// ToggleDayCompletion flips one day of a calendar course and recounts the
// completed days, so repeated toggles never drift the counter.
func (s *Service) ToggleDayCompletion(ctx context.Context, protocolID uuid.UUID, dayNumber int) (result *model.DayToggleResult, err error) {
	defer func() { s.metrics.ObserveLedger("toggle_day", err) }()

	if dayNumber < 1 {
		return nil, apperrors.Validation("day number must be at least 1", nil)
	}

	now := s.now()
	var (
		entry *model.DayEntry
		count int
	)
	p, err := s.mutate(ctx, protocolID, func(tx repository.Store, p *model.Protocol) error {
		if p.TotalSessions != nil && dayNumber > *p.TotalSessions {
			return apperrors.Validation(fmt.Sprintf("day number must be between 1 and %d", *p.TotalSessions), nil)
		}

		var err error
		entry, err = tx.DayEntries().Get(ctx, p.ID, dayNumber)
		if errors.Is(err, repository.ErrNotFound) {
			entry = &model.DayEntry{ProtocolID: p.ID, PatientID: p.PatientID, DayNumber: dayNumber}
		} else if err != nil {
			return err
		}

		entry.Completed = !entry.Completed
		entry.CompletedAt = nil
		if entry.Completed {
			at := now.UTC()
			entry.CompletedAt = &at
		}
		if err := tx.DayEntries().Upsert(ctx, entry); err != nil {
			return err
		}

		count, err = tx.DayEntries().CountCompleted(ctx, p.ID)
		if err != nil {
			return err
		}
		p.SessionsUsed = count
		p.Status = model.ReconcileStatus(p, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &model.DayToggleResult{
		Protocol:      p,
		Day:           entry,
		DaysCompleted: count,
		Completed:     p.Status == model.ProtocolStatusCompleted,
	}, nil
}

// ListLogEntries returns the ledger, newest first.
func (s *Service) ListLogEntries(ctx context.Context, protocolID uuid.UUID) ([]*model.ProtocolLog, error) {
	if _, err := s.store.Protocols().Get(ctx, protocolID); err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	logs, err := s.store.Logs().ListByProtocol(ctx, protocolID)
	if err != nil {
		return nil, service.StoreError(err, "protocol")
	}
	return logs, nil
}

// mutate reads the protocol, lets apply change it inside a transaction and
// writes it back only if nobody else wrote in between. A lost race re-reads
// and re-applies, up to MaxCASAttempts times.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, apply func(tx repository.Store, p *model.Protocol) error) (*model.Protocol, error) {
	for attempt := 1; attempt <= s.config.MaxCASAttempts; attempt++ {
		var updated *model.Protocol
		err := s.store.WithTx(ctx, func(tx repository.Store) error {
			p, err := tx.Protocols().Get(ctx, id)
			if err != nil {
				return service.StoreError(err, "protocol")
			}
			expected := p.Version
			if err := apply(tx, p); err != nil {
				return err
			}
			if err := tx.Protocols().UpdateCounters(ctx, p, expected); err != nil {
				return err
			}
			updated = p
			return nil
		})
		if errors.Is(err, repository.ErrStaleVersion) {
			s.metrics.CASRetries.Inc()
			s.logger.Debug("protocol version moved, retrying", "protocol_id", id.String(), "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, service.StoreError(err, "protocol")
		}
		return updated, nil
	}

	s.logger.Warn("gave up on protocol update", "protocol_id", id.String(), "attempts", s.config.MaxCASAttempts)
	return nil, apperrors.Conflict("protocol was modified concurrently, retry", repository.ErrStaleVersion)
}

// sessionLogType is session for in-clinic protocols and injection for
// take-home ones.
func sessionLogType(p *model.Protocol) model.LogType {
	if p.IsTakeHome() {
		return model.LogTypeInjection
	}
	return model.LogTypeSession
}

func (s *Service) emit(ctx context.Context, warnings *service.Warnings, eventType string, p *model.Protocol) {
	if err := s.events.Emit(ctx, eventType, event.NewProtocolPayload(p)); err != nil {
		warnings.Add(err, "failed to queue "+eventType+" event", "protocol_id", p.ID.String())
	}
}
