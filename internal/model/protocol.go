package model

import (
	"time"

	"github.com/google/uuid"
)

type ProtocolStatus string

const (
	ProtocolStatusActive    ProtocolStatus = "active"
	ProtocolStatusCompleted ProtocolStatus = "completed"
)

// Protocol is a patient's treatment entitlement.
type Protocol struct {
	ID                  uuid.UUID      `db:"id" json:"id"`
	PatientID           uuid.UUID      `db:"patient_id" json:"patient_id"`
	Name                string         `db:"name" json:"name"`
	ProgramType         ProgramType    `db:"program_type" json:"program_type"`
	DeliveryMethod      DeliveryMethod `db:"delivery_method" json:"delivery_method"`
	TotalSessions       *int           `db:"total_sessions" json:"total_sessions"`
	SessionsUsed        int            `db:"sessions_used" json:"sessions_used"`
	Status              ProtocolStatus `db:"status" json:"status"`
	StartDate           *time.Time     `db:"start_date" json:"start_date"`
	EndDate             *time.Time     `db:"end_date" json:"end_date"`
	CurrentJourneyStage *string        `db:"current_journey_stage" json:"current_journey_stage"`
	JourneyTemplateID   *uuid.UUID     `db:"journey_template_id" json:"journey_template_id"`
	Notes               *string        `db:"notes" json:"notes,omitempty"`
	Version             int            `db:"version" json:"version"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// SessionBounded reports whether total_sessions limits the protocol.
func (p *Protocol) SessionBounded() bool {
	return p.TotalSessions != nil
}

func (p *Protocol) IsTakeHome() bool {
	return p.DeliveryMethod == DeliveryTakeHome
}

// SessionsRemaining is nil for protocols without a session limit.
func (p *Protocol) SessionsRemaining() *int {
	if p.TotalSessions == nil {
		return nil
	}
	return intPtr(max(*p.TotalSessions-p.SessionsUsed, 0))
}

// SessionsExhausted reports whether every session has been consumed.
func (p *Protocol) SessionsExhausted() bool {
	return p.TotalSessions != nil && p.SessionsUsed >= *p.TotalSessions
}

// DateLapsed reports whether the end date is strictly before asOf.
func (p *Protocol) DateLapsed(asOf time.Time) bool {
	return p.EndDate != nil && DateOf(*p.EndDate).Before(DateOf(asOf))
}

// AppendNote adds a dated line to the notes field.
func (p *Protocol) AppendNote(on time.Time, note string) {
	line := "[" + DateOf(on).Format(DateLayout) + "] " + note
	if p.Notes == nil || *p.Notes == "" {
		p.Notes = stringPtr(line)
		return
	}
	p.Notes = stringPtr(*p.Notes + "\n\n" + line)
}

// Clone returns a copy that shares no pointers with p.
func (p *Protocol) Clone() *Protocol {
	c := *p
	if p.TotalSessions != nil {
		c.TotalSessions = intPtr(*p.TotalSessions)
	}
	if p.StartDate != nil {
		t := *p.StartDate
		c.StartDate = &t
	}
	if p.EndDate != nil {
		t := *p.EndDate
		c.EndDate = &t
	}
	if p.CurrentJourneyStage != nil {
		c.CurrentJourneyStage = stringPtr(*p.CurrentJourneyStage)
	}
	if p.JourneyTemplateID != nil {
		id := *p.JourneyTemplateID
		c.JourneyTemplateID = &id
	}
	if p.Notes != nil {
		c.Notes = stringPtr(*p.Notes)
	}
	return &c
}

// DeriveStatus is the single rule for whether a protocol is over as of a
// given day: every session consumed, or the end date passed for a program
// type that expires by date.
func DeriveStatus(p *Protocol, asOf time.Time) ProtocolStatus {
	if p.SessionsExhausted() {
		return ProtocolStatusCompleted
	}
	if p.ProgramType.ExpiresByDate() && p.DateLapsed(asOf) {
		return ProtocolStatusCompleted
	}
	return ProtocolStatusActive
}

// SessionStatus considers session exhaustion only.
func SessionStatus(p *Protocol) ProtocolStatus {
	if p.SessionsExhausted() {
		return ProtocolStatusCompleted
	}
	return ProtocolStatusActive
}

// ReconcileStatus recomputes status after a counter moved down. A protocol
// that was completed by date stays completed; one completed only by session
// exhaustion is reactivated.
func ReconcileStatus(p *Protocol, asOf time.Time) ProtocolStatus {
	if p.Status == ProtocolStatusCompleted {
		return DeriveStatus(p, asOf)
	}
	return SessionStatus(p)
}

// ProtocolFilter narrows protocol listings.
type ProtocolFilter struct {
	Status      *ProtocolStatus
	ProgramType *ProgramType
}

type CreateProtocolRequest struct {
	PatientID      uuid.UUID      `json:"patient_id" validate:"required"`
	Name           string         `json:"name"`
	ProgramType    ProgramType    `json:"program_type" validate:"required"`
	DeliveryMethod DeliveryMethod `json:"delivery_method" validate:"required,oneof=in_clinic take_home"`
	TotalSessions  *int           `json:"total_sessions" validate:"omitempty,min=1"`
	StartDate      *time.Time     `json:"start_date"`
	EndDate        *time.Time     `json:"end_date"`
	PurchaseID     *uuid.UUID     `json:"purchase_id"`
	Notes          *string        `json:"notes"`
}

// ProtocolDetail is a protocol with its status as of today and its ledger.
type ProtocolDetail struct {
	Protocol      *Protocol      `json:"protocol"`
	DerivedStatus ProtocolStatus `json:"derived_status"`
	Logs          []*ProtocolLog `json:"logs"`
}

// ProtocolResult is returned by lifecycle operations that may leave warnings.
type ProtocolResult struct {
	Protocol *Protocol `json:"protocol"`
	// Action is "created", "sessions_added" or "supply_extended".
	Action   string   `json:"action"`
	Warnings []string `json:"warnings,omitempty"`
}

// PackageSummary describes a protocol a new service delivery may bill against.
type PackageSummary struct {
	ProtocolID        uuid.UUID      `json:"protocol_id"`
	Name              string         `json:"name"`
	ProgramType       ProgramType    `json:"program_type"`
	DeliveryMethod    DeliveryMethod `json:"delivery_method"`
	TotalSessions     *int           `json:"total_sessions"`
	SessionsUsed      int            `json:"sessions_used"`
	SessionsRemaining *int           `json:"sessions_remaining"`
	EndDate           *time.Time     `json:"end_date"`
	DaysRemaining     *int           `json:"days_remaining"`
}

// SweepReport is the manifest of one expiration sweep.
type SweepReport struct {
	AsOf      time.Time   `json:"as_of"`
	Cutoff    time.Time   `json:"cutoff"`
	Count     int         `json:"count"`
	Protocols []*Protocol `json:"protocols"`
	Warnings  []string    `json:"warnings,omitempty"`
}
