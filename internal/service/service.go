// Package service holds the helpers shared by the domain services.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/validator"
)

var requestValidator = validator.New()

// Validate checks a request's struct tags.
func Validate(req interface{}) error {
	return requestValidator.Validate(req)
}

// StoreError turns a repository error into an AppError. AppErrors pass
// through unchanged.
func StoreError(err error, resource string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(resource, err)
	}
	return apperrors.Upstream(err)
}

// ConsumePurchase links a purchase to the protocol it funds. It must run in
// the same transaction as the entitlement change so a purchase funds at most
// one change: a purchase that is already consumed fails with a conflict and
// the caller's transaction rolls back.
func ConsumePurchase(ctx context.Context, tx repository.Store, purchaseID, protocolID uuid.UUID) error {
	err := tx.Purchases().MarkConsumed(ctx, purchaseID, protocolID)
	if errors.Is(err, repository.ErrAlreadyConsumed) {
		return apperrors.Conflict("purchase has already been applied to a protocol", err)
	}
	return StoreError(err, "purchase")
}

// Warnings collects failures of secondary writes made after the primary
// change committed. They are logged and returned, never rolled back.
type Warnings struct {
	log  *logger.Logger
	list []string
}

func NewWarnings(log *logger.Logger) *Warnings {
	return &Warnings{log: log}
}

// Add records a failed secondary write. fields are logged key/value pairs.
func (w *Warnings) Add(err error, msg string, fields ...interface{}) {
	w.log.Warn(msg, append(fields, "error", err.Error())...)
	w.list = append(w.list, fmt.Sprintf("%s: %s", msg, reason(err)))
}

// Merge appends warnings already logged by another service.
func (w *Warnings) Merge(list []string) {
	w.list = append(w.list, list...)
}

// List returns nil when nothing failed.
func (w *Warnings) List() []string {
	return w.list
}

// reason keeps storage internals out of caller-visible warnings.
func reason(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, repository.ErrAlreadyConsumed):
		return "purchase already applied"
	case errors.Is(err, repository.ErrNotFound):
		return "record not found"
	default:
		return "storage unavailable"
	}
}
