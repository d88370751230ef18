package model

import (
	"time"

	"github.com/google/uuid"
)

type FollowUpStatus string

const (
	FollowUpStatusDue       FollowUpStatus = "due"
	FollowUpStatusScheduled FollowUpStatus = "scheduled"
	FollowUpStatusCompleted FollowUpStatus = "completed"
)

const (
	FollowUpTypeFirst = "first"
	// FollowUpWindowDays is the clinical 8-week re-test window.
	FollowUpWindowDays = 56
)

type FollowUpLab struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	ProtocolID     uuid.UUID      `db:"protocol_id" json:"protocol_id"`
	PatientID      uuid.UUID      `db:"patient_id" json:"patient_id"`
	FollowUpNumber int            `db:"follow_up_number" json:"follow_up_number"`
	FollowUpType   string         `db:"follow_up_type" json:"follow_up_type"`
	ProtocolLabel  string         `db:"protocol_label" json:"protocol_label"`
	DueDate        time.Time      `db:"due_date" json:"due_date"`
	Status         FollowUpStatus `db:"status" json:"status"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

type ScheduleFollowUpRequest struct {
	ProtocolID  uuid.UUID `json:"protocol_id" validate:"required"`
	PatientID   uuid.UUID `json:"patient_id" validate:"required"`
	ProgramType string    `json:"program_type" validate:"required"`
	StartDate   time.Time `json:"start_date"`
}

type FollowUpResult struct {
	FollowUp *FollowUpLab `json:"follow_up,omitempty"`
	// Created is false when an existing record was returned.
	Created bool `json:"created"`
	// Applicable is false for program types without follow-up labs.
	Applicable bool `json:"applicable"`
}
