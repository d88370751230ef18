package model

import (
	"time"

	"github.com/google/uuid"
)

type LogType string

const (
	LogTypeInjection LogType = "injection"
	LogTypeSession   LogType = "session"
	LogTypeRenewal   LogType = "renewal"
	LogTypeMissed    LogType = "missed"
	LogTypeOther     LogType = "other"
)

// ConsumesSession reports whether a ledger line of this type counts against
// the protocol's sessions.
func (t LogType) ConsumesSession() bool {
	return t == LogTypeInjection || t == LogTypeSession
}

// ProtocolLog is one ledger line. Lines are never edited, only deleted.
type ProtocolLog struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ProtocolID  uuid.UUID `db:"protocol_id" json:"protocol_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	LogDate     time.Time `db:"log_date" json:"log_date"`
	LogType     LogType   `db:"log_type" json:"log_type"`
	Measurement *float64  `db:"measurement" json:"measurement,omitempty"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DayEntry tracks adherence for one day of a calendar-style course.
type DayEntry struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ProtocolID  uuid.UUID  `db:"protocol_id" json:"protocol_id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DayNumber   int        `db:"day_number" json:"day_number"`
	Completed   bool       `db:"completed" json:"completed"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

type LogSessionRequest struct {
	ProtocolID uuid.UUID `json:"protocol_id" validate:"required"`
	OccurredOn time.Time `json:"occurred_on"`
	// LogType defaults to session for in-clinic protocols and injection for
	// take-home ones.
	LogType     LogType  `json:"log_type" validate:"omitempty,oneof=session injection"`
	Measurement *float64 `json:"measurement"`
	Notes       *string  `json:"notes"`
}

type AddSessionsRequest struct {
	Count      int        `json:"count" validate:"required,min=1"`
	PurchaseID *uuid.UUID `json:"purchase_id"`
	Notes      *string    `json:"notes"`
}

type DeductSessionsRequest struct {
	Count int     `json:"count" validate:"required,min=1"`
	Notes *string `json:"notes"`
}

// LogEventRequest records a line that uses no session. LogType defaults to
// missed.
type LogEventRequest struct {
	LogType    LogType   `json:"log_type" validate:"omitempty,oneof=missed other"`
	OccurredOn time.Time `json:"occurred_on"`
	Reason     string    `json:"reason" validate:"required,max=500"`
	Notes      *string   `json:"notes"`
}

type ExtendSupplyRequest struct {
	Days       int        `json:"days" validate:"required,min=1"`
	PurchaseID *uuid.UUID `json:"purchase_id"`
	Notes      *string    `json:"notes"`
}

// LedgerResult is returned by every ledger mutation.
type LedgerResult struct {
	Protocol *Protocol    `json:"protocol"`
	Log      *ProtocolLog `json:"log,omitempty"`
	// SessionNumber is sessions_used after the operation.
	SessionNumber int      `json:"session_number"`
	Completed     bool     `json:"completed"`
	Warnings      []string `json:"warnings,omitempty"`
}

type DayToggleResult struct {
	Protocol      *Protocol `json:"protocol"`
	Day           *DayEntry `json:"day"`
	DaysCompleted int       `json:"days_completed"`
	Completed     bool      `json:"completed"`
}
