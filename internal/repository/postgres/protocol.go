package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

const protocolColumns = `id, patient_id, name, program_type, delivery_method, total_sessions,
	sessions_used, status, start_date, end_date, current_journey_stage,
	journey_template_id, notes, version, created_at, updated_at`

type protocolRepository struct {
	q sqlx.ExtContext
}

func (r *protocolRepository) Create(ctx context.Context, p *model.Protocol) error {
	query := `
		INSERT INTO protocols (` + protocolColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := r.q.ExecContext(ctx, query,
		p.ID,
		p.PatientID,
		p.Name,
		p.ProgramType,
		p.DeliveryMethod,
		p.TotalSessions,
		p.SessionsUsed,
		p.Status,
		p.StartDate,
		p.EndDate,
		p.CurrentJourneyStage,
		p.JourneyTemplateID,
		p.Notes,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create protocol: %w", err)
	}
	return nil
}

func (r *protocolRepository) Get(ctx context.Context, id uuid.UUID) (*model.Protocol, error) {
	var p model.Protocol
	err := sqlx.GetContext(ctx, r.q, &p, `SELECT `+protocolColumns+` FROM protocols WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *protocolRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, filter model.ProtocolFilter) ([]*model.Protocol, error) {
	conds := []string{"patient_id = $1"}
	args := []interface{}{patientID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProgramType != nil {
		args = append(args, *filter.ProgramType)
		conds = append(conds, fmt.Sprintf("program_type = $%d", len(args)))
	}

	query := `SELECT ` + protocolColumns + ` FROM protocols WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC, id`

	var protocols []*model.Protocol
	if err := sqlx.SelectContext(ctx, r.q, &protocols, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list protocols: %w", err)
	}
	return protocols, nil
}

func (r *protocolRepository) ListJourneyCandidates(ctx context.Context) ([]*model.Protocol, error) {
	query := `
		SELECT ` + protocolColumns + `
		FROM protocols
		WHERE status = 'active'
		AND journey_template_id IS NOT NULL
		AND current_journey_stage IS NOT NULL
		ORDER BY created_at DESC, id
	`
	var protocols []*model.Protocol
	if err := sqlx.SelectContext(ctx, r.q, &protocols, query); err != nil {
		return nil, fmt.Errorf("failed to list journey candidates: %w", err)
	}
	return protocols, nil
}

func (r *protocolRepository) UpdateCounters(ctx context.Context, p *model.Protocol, expectedVersion int) error {
	query := `
		UPDATE protocols
		SET total_sessions = $1,
			sessions_used = $2,
			status = $3,
			start_date = $4,
			end_date = $5,
			notes = $6,
			version = version + 1,
			updated_at = $7
		WHERE id = $8 AND version = $9
	`
	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx, query,
		p.TotalSessions,
		p.SessionsUsed,
		p.Status,
		p.StartDate,
		p.EndDate,
		p.Notes,
		now,
		p.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update protocol: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update protocol: %w", err)
	}
	if n == 0 {
		ok, err := exists(ctx, r.q, "protocols", p.ID)
		if err != nil {
			return fmt.Errorf("failed to check protocol: %w", err)
		}
		if !ok {
			return repository.ErrNotFound
		}
		return repository.ErrStaleVersion
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = now
	return nil
}

func (r *protocolRepository) UpdateJourney(ctx context.Context, id uuid.UUID, stage *string, templateID *uuid.UUID) (*model.Protocol, error) {
	query := `
		UPDATE protocols
		SET current_journey_stage = $1, journey_template_id = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING ` + protocolColumns
	var p model.Protocol
	if err := sqlx.GetContext(ctx, r.q, &p, query, stage, templateID, id); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *protocolRepository) CompleteExpired(ctx context.Context, cutoff time.Time, excluded []model.ProgramType, now time.Time) ([]*model.Protocol, error) {
	names := make([]string, len(excluded))
	for i, pt := range excluded {
		names[i] = string(pt)
	}

	query := `
		UPDATE protocols
		SET status = 'completed', updated_at = $1, version = version + 1
		WHERE status = 'active'
		AND end_date IS NOT NULL
		AND end_date <= $2
		AND NOT (program_type = ANY($3))
		RETURNING ` + protocolColumns

	var protocols []*model.Protocol
	if err := sqlx.SelectContext(ctx, r.q, &protocols, query, now, model.DateOf(cutoff), pq.Array(names)); err != nil {
		return nil, fmt.Errorf("failed to complete expired protocols: %w", err)
	}
	return protocols, nil
}

func (r *protocolRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM protocols WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete protocol: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type patientRepository struct {
	q sqlx.ExtContext
}

const patientColumns = `id, crm_contact_id, first_name, last_name, email, phone, created_at, updated_at`

func (r *patientRepository) Create(ctx context.Context, p *model.Patient) error {
	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := r.q.ExecContext(ctx, query,
		p.ID, p.CRMContactID, p.FirstName, p.LastName, p.Email, p.Phone, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var p model.Patient
	if err := sqlx.GetContext(ctx, r.q, &p, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *patientRepository) GetByCRMContactID(ctx context.Context, contactID string) (*model.Patient, error) {
	var p model.Patient
	if err := sqlx.GetContext(ctx, r.q, &p, `SELECT `+patientColumns+` FROM patients WHERE crm_contact_id = $1`, contactID); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
