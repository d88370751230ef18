package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient is owned by the patient directory; protocols only reference it.
type Patient struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CRMContactID *string   `db:"crm_contact_id" json:"crm_contact_id,omitempty"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Email        *string   `db:"email" json:"email,omitempty"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}
