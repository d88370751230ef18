package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckIn is a patient's self-reported adherence and symptom snapshot.
// There is at most one per patient per day.
type CheckIn struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProtocolID   *uuid.UUID `db:"protocol_id" json:"protocol_id,omitempty"`
	CheckInDate  time.Time  `db:"check_in_date" json:"check_in_date"`
	EnergyScore  *int       `db:"energy_score" json:"energy_score,omitempty"`
	SleepScore   *int       `db:"sleep_score" json:"sleep_score,omitempty"`
	MoodScore    *int       `db:"mood_score" json:"mood_score,omitempty"`
	OverallScore *int       `db:"overall_score" json:"overall_score,omitempty"`
	Weight       *float64   `db:"weight" json:"weight,omitempty"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

type CheckInRequest struct {
	PatientID   uuid.UUID  `json:"patient_id" validate:"required"`
	ProtocolID  *uuid.UUID `json:"protocol_id"`
	CheckInDate time.Time  `json:"check_in_date"`
	EnergyScore *int       `json:"energy_score" validate:"omitempty,min=1,max=10"`
	SleepScore  *int       `json:"sleep_score" validate:"omitempty,min=1,max=10"`
	MoodScore   *int       `json:"mood_score" validate:"omitempty,min=1,max=10"`
	Weight      *float64   `json:"weight" validate:"omitempty,gt=0"`
	Notes       *string    `json:"notes"`
}
