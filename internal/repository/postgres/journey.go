package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

type templateRepository struct {
	q sqlx.ExtContext
}

const templateColumns = `id, name, program_type, stages, is_default, version, created_at, updated_at`

func (r *templateRepository) Create(ctx context.Context, t *model.JourneyTemplate) error {
	query := `
		INSERT INTO journey_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.Name, t.ProgramType, t.Stages, t.IsDefault, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create journey template: %w", err)
	}
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.JourneyTemplate, error) {
	var t model.JourneyTemplate
	if err := sqlx.GetContext(ctx, r.q, &t, `SELECT `+templateColumns+` FROM journey_templates WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *templateRepository) Update(ctx context.Context, t *model.JourneyTemplate) error {
	query := `
		UPDATE journey_templates
		SET name = $1, stages = $2, is_default = $3, version = version + 1, updated_at = $4
		WHERE id = $5
		RETURNING version
	`
	now := time.Now().UTC()
	err := sqlx.GetContext(ctx, r.q, &t.Version, query, t.Name, t.Stages, t.IsDefault, now, t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return notFound(err)
	}
	t.UpdatedAt = now
	return nil
}

func (r *templateRepository) List(ctx context.Context, programType *model.ProgramType) ([]*model.JourneyTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM journey_templates`
	var args []interface{}
	if programType != nil {
		query += ` WHERE program_type = $1`
		args = append(args, *programType)
	}
	query += ` ORDER BY program_type, is_default DESC, name`

	var templates []*model.JourneyTemplate
	if err := sqlx.SelectContext(ctx, r.q, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list journey templates: %w", err)
	}
	return templates, nil
}

func (r *templateRepository) GetDefault(ctx context.Context, programType model.ProgramType) (*model.JourneyTemplate, error) {
	var t model.JourneyTemplate
	query := `
		SELECT ` + templateColumns + `
		FROM journey_templates
		WHERE program_type = $1 AND is_default
		ORDER BY updated_at DESC
		LIMIT 1
	`
	if err := sqlx.GetContext(ctx, r.q, &t, query, programType); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *templateRepository) ClearDefault(ctx context.Context, programType model.ProgramType, keep uuid.UUID) error {
	query := `
		UPDATE journey_templates
		SET is_default = FALSE, updated_at = NOW()
		WHERE program_type = $1 AND is_default AND id <> $2
	`
	if _, err := r.q.ExecContext(ctx, query, programType, keep); err != nil {
		return fmt.Errorf("failed to clear default template: %w", err)
	}
	return nil
}

type journeyEventRepository struct {
	q sqlx.ExtContext
}

const journeyEventColumns = `id, protocol_id, patient_id, previous_stage, new_stage, trigger_type, triggered_by, notes, created_at`

func (r *journeyEventRepository) Create(ctx context.Context, e *model.JourneyEvent) error {
	query := `
		INSERT INTO journey_events (` + journeyEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()

	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.ProtocolID, e.PatientID, e.PreviousStage, e.NewStage,
		e.TriggerType, e.TriggeredBy, e.Notes, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create journey event: %w", err)
	}
	return nil
}

func (r *journeyEventRepository) ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.JourneyEvent, error) {
	query := `
		SELECT ` + journeyEventColumns + `
		FROM journey_events
		WHERE protocol_id = $1
		ORDER BY created_at DESC
	`
	var events []*model.JourneyEvent
	if err := sqlx.SelectContext(ctx, r.q, &events, query, protocolID); err != nil {
		return nil, fmt.Errorf("failed to list journey events: %w", err)
	}
	return events, nil
}

func (r *journeyEventRepository) LatestForStage(ctx context.Context, protocolID uuid.UUID, stage string) (*model.JourneyEvent, error) {
	query := `
		SELECT ` + journeyEventColumns + `
		FROM journey_events
		WHERE protocol_id = $1 AND new_stage = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var e model.JourneyEvent
	if err := sqlx.GetContext(ctx, r.q, &e, query, protocolID, stage); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *journeyEventRepository) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM journey_events WHERE protocol_id = $1`, protocolID); err != nil {
		return fmt.Errorf("failed to delete journey events: %w", err)
	}
	return nil
}

type followUpRepository struct {
	q sqlx.ExtContext
}

const followUpColumns = `id, protocol_id, patient_id, follow_up_number, follow_up_type, protocol_label, due_date, status, created_at`

func (r *followUpRepository) GetByType(ctx context.Context, protocolID uuid.UUID, followUpType string) (*model.FollowUpLab, error) {
	var lab model.FollowUpLab
	query := `SELECT ` + followUpColumns + ` FROM protocol_follow_up_labs WHERE protocol_id = $1 AND follow_up_type = $2`
	if err := sqlx.GetContext(ctx, r.q, &lab, query, protocolID, followUpType); err != nil {
		return nil, notFound(err)
	}
	return &lab, nil
}

func (r *followUpRepository) CreateIfAbsent(ctx context.Context, lab *model.FollowUpLab) (bool, error) {
	query := `
		INSERT INTO protocol_follow_up_labs (` + followUpColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (protocol_id, follow_up_type) DO NOTHING
	`
	if lab.ID == uuid.Nil {
		lab.ID = uuid.New()
	}
	lab.CreatedAt = time.Now().UTC()

	res, err := r.q.ExecContext(ctx, query,
		lab.ID, lab.ProtocolID, lab.PatientID, lab.FollowUpNumber, lab.FollowUpType,
		lab.ProtocolLabel, model.DateOf(lab.DueDate), lab.Status, lab.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create follow-up lab: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create follow-up lab: %w", err)
	}
	return n > 0, nil
}

func (r *followUpRepository) ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.FollowUpLab, error) {
	query := `
		SELECT ` + followUpColumns + `
		FROM protocol_follow_up_labs
		WHERE protocol_id = $1
		ORDER BY follow_up_number
	`
	var labs []*model.FollowUpLab
	if err := sqlx.SelectContext(ctx, r.q, &labs, query, protocolID); err != nil {
		return nil, fmt.Errorf("failed to list follow-up labs: %w", err)
	}
	return labs, nil
}

func (r *followUpRepository) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM protocol_follow_up_labs WHERE protocol_id = $1`, protocolID); err != nil {
		return fmt.Errorf("failed to delete follow-up labs: %w", err)
	}
	return nil
}

var _ repository.FollowUpRepository = (*followUpRepository)(nil)

// isUniqueViolation reports a postgres 23505 error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
