package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleVersion is returned by compare-and-swap updates when the row
	// changed since it was read.
	ErrStaleVersion = errors.New("stale version")
	// ErrAlreadyConsumed is returned when a purchase has already funded a protocol.
	ErrAlreadyConsumed = errors.New("purchase already consumed")
	// ErrDuplicate is returned when a write would break a uniqueness rule.
	ErrDuplicate = errors.New("duplicate record")
)

// All repository interfaces in one file
type (
	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByCRMContactID(ctx context.Context, contactID string) (*model.Patient, error)
	}

	ProtocolRepository interface {
		Create(ctx context.Context, protocol *model.Protocol) error
		Get(ctx context.Context, id uuid.UUID) (*model.Protocol, error)
		ListByPatient(ctx context.Context, patientID uuid.UUID, filter model.ProtocolFilter) ([]*model.Protocol, error)
		// ListJourneyCandidates returns active protocols with an assigned template.
		ListJourneyCandidates(ctx context.Context) ([]*model.Protocol, error)
		// UpdateCounters writes sessions, dates, status and notes when the stored
		// version still equals expectedVersion, and bumps the version.
		UpdateCounters(ctx context.Context, protocol *model.Protocol, expectedVersion int) error
		UpdateJourney(ctx context.Context, id uuid.UUID, stage *string, templateID *uuid.UUID) (*model.Protocol, error)
		// CompleteExpired completes every active protocol whose end date is on
		// or before cutoff and whose program type is not excluded, in one
		// statement, and returns the rows it changed.
		CompleteExpired(ctx context.Context, cutoff time.Time, excluded []model.ProgramType, now time.Time) ([]*model.Protocol, error)
		Delete(ctx context.Context, id uuid.UUID) error
	}

	ProtocolLogRepository interface {
		Create(ctx context.Context, log *model.ProtocolLog) error
		Get(ctx context.Context, id uuid.UUID) (*model.ProtocolLog, error)
		Delete(ctx context.Context, id uuid.UUID) error
		ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.ProtocolLog, error)
		DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error
	}

	DayEntryRepository interface {
		Get(ctx context.Context, protocolID uuid.UUID, dayNumber int) (*model.DayEntry, error)
		// Upsert inserts or replaces the entry keyed by (protocol_id, day_number).
		Upsert(ctx context.Context, entry *model.DayEntry) error
		CountCompleted(ctx context.Context, protocolID uuid.UUID) (int, error)
		DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error
	}

	PurchaseRepository interface {
		Create(ctx context.Context, purchase *model.Purchase) error
		Get(ctx context.Context, id uuid.UUID) (*model.Purchase, error)
		// MarkConsumed links the purchase to a protocol unless it is already
		// consumed, in which case it returns ErrAlreadyConsumed.
		MarkConsumed(ctx context.Context, id, protocolID uuid.UUID) error
		UnlinkProtocol(ctx context.Context, protocolID uuid.UUID) error
	}

	JourneyTemplateRepository interface {
		Create(ctx context.Context, template *model.JourneyTemplate) error
		Get(ctx context.Context, id uuid.UUID) (*model.JourneyTemplate, error)
		// Update writes name, stages and is_default and bumps the version.
		Update(ctx context.Context, template *model.JourneyTemplate) error
		List(ctx context.Context, programType *model.ProgramType) ([]*model.JourneyTemplate, error)
		GetDefault(ctx context.Context, programType model.ProgramType) (*model.JourneyTemplate, error)
		// ClearDefault unsets is_default on every template of programType except keep.
		ClearDefault(ctx context.Context, programType model.ProgramType, keep uuid.UUID) error
	}

	JourneyEventRepository interface {
		Create(ctx context.Context, event *model.JourneyEvent) error
		ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.JourneyEvent, error)
		// LatestForStage returns the most recent event that entered stage.
		LatestForStage(ctx context.Context, protocolID uuid.UUID, stage string) (*model.JourneyEvent, error)
		DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error
	}

	FollowUpRepository interface {
		GetByType(ctx context.Context, protocolID uuid.UUID, followUpType string) (*model.FollowUpLab, error)
		// CreateIfAbsent inserts unless (protocol_id, follow_up_type) exists and
		// reports whether a row was written.
		CreateIfAbsent(ctx context.Context, lab *model.FollowUpLab) (bool, error)
		ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.FollowUpLab, error)
		DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error
	}

	CheckInRepository interface {
		// Upsert is keyed by (patient_id, check_in_date).
		Upsert(ctx context.Context, checkIn *model.CheckIn) error
		Get(ctx context.Context, patientID uuid.UUID, date time.Time) (*model.CheckIn, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
	}

	// Store groups the repositories so a service can run several of them in
	// one transaction.
	Store interface {
		Patients() PatientRepository
		Protocols() ProtocolRepository
		Logs() ProtocolLogRepository
		DayEntries() DayEntryRepository
		Purchases() PurchaseRepository
		Templates() JourneyTemplateRepository
		JourneyEvents() JourneyEventRepository
		FollowUps() FollowUpRepository
		CheckIns() CheckInRepository
		Outbox() OutboxRepository
		// WithTx runs fn against a transaction-bound Store. Returning an error
		// rolls everything back. Nested calls join the outer transaction.
		WithTx(ctx context.Context, fn func(tx Store) error) error
	}
)
