package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

// Store implements repository.Store on PostgreSQL. A Store returned inside
// WithTx routes every query through the transaction.
type Store struct {
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// GetDB returns the database instance
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx executes a function within a transaction
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Patients() repository.PatientRepository { return &patientRepository{q: s.q} }
func (s *Store) Protocols() repository.ProtocolRepository { return &protocolRepository{q: s.q} }
func (s *Store) Logs() repository.ProtocolLogRepository { return &logRepository{q: s.q} }
func (s *Store) DayEntries() repository.DayEntryRepository { return &dayEntryRepository{q: s.q} }
func (s *Store) Purchases() repository.PurchaseRepository { return &purchaseRepository{q: s.q} }
func (s *Store) Templates() repository.JourneyTemplateRepository {
	return &templateRepository{q: s.q}
}
func (s *Store) JourneyEvents() repository.JourneyEventRepository {
	return &journeyEventRepository{q: s.q}
}
func (s *Store) FollowUps() repository.FollowUpRepository { return &followUpRepository{q: s.q} }
func (s *Store) CheckIns() repository.CheckInRepository { return &checkInRepository{q: s.q} }
func (s *Store) Outbox() repository.OutboxRepository { return &outboxRepository{q: s.q} }

// notFound maps sql.ErrNoRows onto the repository sentinel.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

// exists reports whether a row with id is present in table.
func exists(ctx context.Context, q sqlx.QueryerContext, table string, id interface{}) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, q, &ok, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), id)
	return ok, err
}
