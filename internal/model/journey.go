package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JourneyStage is one milestone in a template. AutoConditions, when set, are
// the conditions under which a protocol leaves this stage for the next one.
type JourneyStage struct {
	Key            string                 `json:"key"`
	Label          string                 `json:"label"`
	Description    string                 `json:"description,omitempty"`
	AutoConditions map[string]interface{} `json:"auto_conditions,omitempty"`
}

// JourneyStages is stored as a JSON array.
type JourneyStages []JourneyStage

// Value returns a string so lib/pq sends it as text rather than bytea.
func (s JourneyStages) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *JourneyStages) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JourneyStages", src)
	}
	return json.Unmarshal(data, s)
}

// Keys returns the stage keys in order.
func (s JourneyStages) Keys() []string {
	keys := make([]string, len(s))
	for i, st := range s {
		keys[i] = st.Key
	}
	return keys
}

// Index returns the position of key, or -1.
func (s JourneyStages) Index(key string) int {
	for i, st := range s {
		if st.Key == key {
			return i
		}
	}
	return -1
}

func (s JourneyStages) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("template needs at least one stage")
	}
	seen := make(map[string]bool, len(s))
	for _, st := range s {
		key := strings.TrimSpace(st.Key)
		if key == "" {
			return fmt.Errorf("stage key is required")
		}
		if seen[key] {
			return fmt.Errorf("duplicate stage key %q", key)
		}
		seen[key] = true
	}
	return nil
}

type JourneyTemplate struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	Name        string        `db:"name" json:"name"`
	ProgramType ProgramType   `db:"program_type" json:"program_type"`
	Stages      JourneyStages `db:"stages" json:"stages"`
	IsDefault   bool          `db:"is_default" json:"is_default"`
	Version     int           `db:"version" json:"version"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

func (t *JourneyTemplate) Clone() *JourneyTemplate {
	c := *t
	c.Stages = append(JourneyStages(nil), t.Stages...)
	return &c
}

type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAutomatic TriggerType = "automatic"
)

const TriggeredBySystem = "system"

// JourneyEvent is the immutable audit row for a stage change.
type JourneyEvent struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	ProtocolID    uuid.UUID   `db:"protocol_id" json:"protocol_id"`
	PatientID     uuid.UUID   `db:"patient_id" json:"patient_id"`
	PreviousStage *string     `db:"previous_stage" json:"previous_stage"`
	NewStage      string      `db:"new_stage" json:"new_stage"`
	TriggerType   TriggerType `db:"trigger_type" json:"trigger_type"`
	TriggeredBy   string      `db:"triggered_by" json:"triggered_by"`
	Notes         *string     `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

type CreateTemplateRequest struct {
	Name        string        `json:"name" validate:"required"`
	ProgramType ProgramType   `json:"program_type" validate:"required"`
	Stages      JourneyStages `json:"stages" validate:"required"`
	IsDefault   bool          `json:"is_default"`
}

type UpdateTemplateRequest struct {
	Name      *string        `json:"name"`
	Stages    *JourneyStages `json:"stages"`
	IsDefault *bool          `json:"is_default"`
}

type AdvanceRequest struct {
	NewStage    string      `json:"new_stage" validate:"required"`
	TriggerType TriggerType `json:"trigger_type" validate:"omitempty,oneof=manual automatic"`
	TriggeredBy string      `json:"triggered_by"`
	Notes       *string     `json:"notes"`
}

type AdvanceResult struct {
	Protocol *Protocol     `json:"protocol"`
	Event    *JourneyEvent `json:"event,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// AutoAdvanceReport summarises one pass of automatic advancement.
type AutoAdvanceReport struct {
	Evaluated int             `json:"evaluated"`
	Advanced  []*JourneyEvent `json:"advanced"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Supported auto-advance condition keys.
const (
	ConditionDaysElapsed        = "days_elapsed"
	ConditionDaysOnProtocol     = "days_on_protocol"
	ConditionSessionsCompleted  = "sessions_completed"
	ConditionSessionsAtMidpoint = "sessions_at_midpoint"
	ConditionEndingSoon         = "protocol_ending_soon"
)

// EvaluateCondition checks one auto-advance condition against protocol data.
// The second return value is false for keys this package cannot evaluate.
func EvaluateCondition(key string, value interface{}, p *Protocol, stageEnteredAt, asOf time.Time) (met bool, known bool) {
	switch key {
	case ConditionDaysElapsed:
		n, ok := conditionInt(value)
		return ok && DaysBetween(stageEnteredAt, asOf) >= n, true
	case ConditionDaysOnProtocol:
		n, ok := conditionInt(value)
		if !ok || p.StartDate == nil {
			return false, true
		}
		return DaysBetween(*p.StartDate, asOf) >= n, true
	case ConditionSessionsCompleted:
		n, ok := conditionInt(value)
		return ok && p.SessionsUsed >= n, true
	case ConditionSessionsAtMidpoint:
		if on, ok := value.(bool); !ok || !on {
			return false, true
		}
		if p.TotalSessions == nil || *p.TotalSessions == 0 {
			return false, true
		}
		return p.SessionsUsed >= *p.TotalSessions/2, true
	case ConditionEndingSoon:
		n, ok := conditionInt(value)
		if !ok || p.EndDate == nil {
			return false, true
		}
		left := DaysBetween(asOf, *p.EndDate)
		return left >= 0 && left <= n, true
	default:
		return false, false
	}
}

func conditionInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return int(math.Ceil(n)), true
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
