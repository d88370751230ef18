package model

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is a paid transaction that may fund exactly one protocol.
type Purchase struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	Category        string     `db:"category" json:"category"`
	ItemName        string     `db:"item_name" json:"item_name"`
	Amount          float64    `db:"amount" json:"amount"`
	SessionCount    *int       `db:"session_count" json:"session_count,omitempty"`
	SupplyDays      *int       `db:"supply_days" json:"supply_days,omitempty"`
	ProtocolID      *uuid.UUID `db:"protocol_id" json:"protocol_id,omitempty"`
	ProtocolCreated bool       `db:"protocol_created" json:"protocol_created"`
	PurchasedAt     time.Time  `db:"purchased_at" json:"purchased_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Consumed reports whether the purchase already funded a protocol.
func (p *Purchase) Consumed() bool {
	return p.ProtocolCreated
}
