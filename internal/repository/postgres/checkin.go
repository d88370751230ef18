package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
)

type checkInRepository struct {
	q sqlx.ExtContext
}

const checkInColumns = `id, patient_id, protocol_id, check_in_date, energy_score, sleep_score,
	mood_score, overall_score, weight, notes, created_at, updated_at`

func (r *checkInRepository) Upsert(ctx context.Context, c *model.CheckIn) error {
	query := `
		INSERT INTO check_ins (` + checkInColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (patient_id, check_in_date) DO UPDATE
		SET protocol_id = EXCLUDED.protocol_id,
			energy_score = EXCLUDED.energy_score,
			sleep_score = EXCLUDED.sleep_score,
			mood_score = EXCLUDED.mood_score,
			overall_score = EXCLUDED.overall_score,
			weight = EXCLUDED.weight,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CheckInDate = model.DateOf(c.CheckInDate)
	now := time.Now().UTC()

	row := r.q.QueryRowxContext(ctx, query,
		c.ID,
		c.PatientID,
		c.ProtocolID,
		c.CheckInDate,
		c.EnergyScore,
		c.SleepScore,
		c.MoodScore,
		c.OverallScore,
		c.Weight,
		c.Notes,
		now,
	)
	if err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert check-in: %w", err)
	}
	return nil
}

func (r *checkInRepository) Get(ctx context.Context, patientID uuid.UUID, date time.Time) (*model.CheckIn, error) {
	var c model.CheckIn
	query := `SELECT ` + checkInColumns + ` FROM check_ins WHERE patient_id = $1 AND check_in_date = $2`
	if err := sqlx.GetContext(ctx, r.q, &c, query, patientID, model.DateOf(date)); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}
