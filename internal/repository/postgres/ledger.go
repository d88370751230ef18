package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

type logRepository struct {
	q sqlx.ExtContext
}

const logColumns = `id, protocol_id, patient_id, log_date, log_type, measurement, notes, created_at`

func (r *logRepository) Create(ctx context.Context, log *model.ProtocolLog) error {
	query := `
		INSERT INTO protocol_logs (` + logColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now().UTC()

	_, err := r.q.ExecContext(ctx, query,
		log.ID,
		log.ProtocolID,
		log.PatientID,
		model.DateOf(log.LogDate),
		log.LogType,
		log.Measurement,
		log.Notes,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create protocol log: %w", err)
	}
	return nil
}

func (r *logRepository) Get(ctx context.Context, id uuid.UUID) (*model.ProtocolLog, error) {
	var log model.ProtocolLog
	if err := sqlx.GetContext(ctx, r.q, &log, `SELECT `+logColumns+` FROM protocol_logs WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

func (r *logRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM protocol_logs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete protocol log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *logRepository) ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.ProtocolLog, error) {
	query := `
		SELECT ` + logColumns + `
		FROM protocol_logs
		WHERE protocol_id = $1
		ORDER BY log_date DESC, created_at DESC
	`
	var logs []*model.ProtocolLog
	if err := sqlx.SelectContext(ctx, r.q, &logs, query, protocolID); err != nil {
		return nil, fmt.Errorf("failed to list protocol logs: %w", err)
	}
	return logs, nil
}

func (r *logRepository) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM protocol_logs WHERE protocol_id = $1`, protocolID); err != nil {
		return fmt.Errorf("failed to delete protocol logs: %w", err)
	}
	return nil
}

type dayEntryRepository struct {
	q sqlx.ExtContext
}

const dayEntryColumns = `id, protocol_id, patient_id, day_number, completed, completed_at, created_at, updated_at`

func (r *dayEntryRepository) Get(ctx context.Context, protocolID uuid.UUID, dayNumber int) (*model.DayEntry, error) {
	var entry model.DayEntry
	query := `SELECT ` + dayEntryColumns + ` FROM protocol_day_entries WHERE protocol_id = $1 AND day_number = $2`
	if err := sqlx.GetContext(ctx, r.q, &entry, query, protocolID, dayNumber); err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (r *dayEntryRepository) Upsert(ctx context.Context, entry *model.DayEntry) error {
	query := `
		INSERT INTO protocol_day_entries (` + dayEntryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (protocol_id, day_number) DO UPDATE
		SET completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now().UTC()

	row := r.q.QueryRowxContext(ctx, query,
		entry.ID,
		entry.ProtocolID,
		entry.PatientID,
		entry.DayNumber,
		entry.Completed,
		entry.CompletedAt,
		now,
	)
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert day entry: %w", err)
	}
	return nil
}

func (r *dayEntryRepository) CountCompleted(ctx context.Context, protocolID uuid.UUID) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM protocol_day_entries WHERE protocol_id = $1 AND completed`
	if err := sqlx.GetContext(ctx, r.q, &n, query, protocolID); err != nil {
		return 0, fmt.Errorf("failed to count day entries: %w", err)
	}
	return n, nil
}

func (r *dayEntryRepository) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM protocol_day_entries WHERE protocol_id = $1`, protocolID); err != nil {
		return fmt.Errorf("failed to delete day entries: %w", err)
	}
	return nil
}

type purchaseRepository struct {
	q sqlx.ExtContext
}

const purchaseColumns = `id, patient_id, category, item_name, amount, session_count, supply_days,
	protocol_id, protocol_created, purchased_at, created_at`

func (r *purchaseRepository) Create(ctx context.Context, p *model.Purchase) error {
	query := `
		INSERT INTO purchases (` + purchaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = p.CreatedAt
	}

	_, err := r.q.ExecContext(ctx, query,
		p.ID,
		p.PatientID,
		p.Category,
		p.ItemName,
		p.Amount,
		p.SessionCount,
		p.SupplyDays,
		p.ProtocolID,
		p.ProtocolCreated,
		p.PurchasedAt,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

func (r *purchaseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Purchase, error) {
	var p model.Purchase
	if err := sqlx.GetContext(ctx, r.q, &p, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *purchaseRepository) MarkConsumed(ctx context.Context, id, protocolID uuid.UUID) error {
	query := `
		UPDATE purchases
		SET protocol_id = $1, protocol_created = TRUE
		WHERE id = $2 AND NOT protocol_created
	`
	res, err := r.q.ExecContext(ctx, query, protocolID, id)
	if err != nil {
		return fmt.Errorf("failed to mark purchase consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark purchase consumed: %w", err)
	}
	if n == 0 {
		ok, err := exists(ctx, r.q, "purchases", id)
		if err != nil {
			return fmt.Errorf("failed to check purchase: %w", err)
		}
		if !ok {
			return repository.ErrNotFound
		}
		return repository.ErrAlreadyConsumed
	}
	return nil
}

func (r *purchaseRepository) UnlinkProtocol(ctx context.Context, protocolID uuid.UUID) error {
	query := `UPDATE purchases SET protocol_id = NULL, protocol_created = FALSE WHERE protocol_id = $1`
	if _, err := r.q.ExecContext(ctx, query, protocolID); err != nil {
		return fmt.Errorf("failed to unlink purchases: %w", err)
	}
	return nil
}
