// Package reconcile is the operator-facing state machine over unmatched and
// ambiguous payments. It is the single writer for those entries: the
// matching engine only ever creates them.
package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
)

// Workflow applies operator decisions to unmatched entries
type Workflow struct {
	entries      ports.UnmatchedRepository
	reservations ports.ReservationRepository
	payments     ports.PaymentRepository
	logger       *zap.Logger
}

// New creates a Workflow
func New(entries ports.UnmatchedRepository, reservations ports.ReservationRepository, payments ports.PaymentRepository, logger *zap.Logger) *Workflow {
	return &Workflow{
		entries:      entries,
		reservations: reservations,
		payments:     payments,
		logger:       logger,
	}
}

// ConfirmMatch resolves an entry to a specific order. The order must be one
// of the recorded candidates, unless the candidate list is empty, in which
// case the operator may supply any valid order. Confirming marks the
// reservation matched and propagates the resolution onto the payment record.
func (w *Workflow) ConfirmMatch(ctx context.Context, paymentID, orderID string) error {
	entry, err := w.entries.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if entry.IsTerminal() {
		return domain.ErrEntryAlreadyProcessed.
			WithDetail("payment_id", paymentID).
			WithDetail("status", string(entry.Status))
	}
	if !entry.AcceptsOrder(orderID) {
		return domain.ErrEntryCandidateInvalid.
			WithDetail("payment_id", paymentID).
			WithDetail("order_id", orderID)
	}

	// The order must actually exist; out-of-band ids are operator input.
	if _, err := w.reservations.GetByOrderID(ctx, orderID); err != nil {
		return err
	}

	if err := w.reservations.UpdateStatus(ctx, orderID, domain.ReservationStatusMatched); err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "commit confirmed match", err)
	}

	entry.Status = domain.EntryStatusConfirmed
	entry.ConfirmedOrderID = orderID
	if err := w.entries.Update(ctx, entry); err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "update entry", err)
	}

	// An operator decision is definitive, so confidence becomes 100.
	if err := w.payments.UpdateResolution(ctx, paymentID, orderID, 100); err != nil && !domain.IsNotFoundError(err) {
		return domain.WrapError(domain.ErrorCodeStorageError, "propagate resolution", err)
	}

	w.logger.Info("operator confirmed match",
		zap.String("payment_id", paymentID),
		zap.String("order_id", orderID),
	)
	return nil
}

// IgnorePayment terminally discards an unmatched payment. No reservation is
// touched.
func (w *Workflow) IgnorePayment(ctx context.Context, paymentID string) error {
	entry, err := w.entries.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if entry.IsTerminal() {
		return domain.ErrEntryAlreadyProcessed.
			WithDetail("payment_id", paymentID).
			WithDetail("status", string(entry.Status))
	}

	entry.Status = domain.EntryStatusIgnored
	if err := w.entries.Update(ctx, entry); err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "update entry", err)
	}

	w.logger.Info("operator ignored payment", zap.String("payment_id", paymentID))
	return nil
}

// ListOpen returns entries still awaiting an operator decision
func (w *Workflow) ListOpen(ctx context.Context) ([]*domain.UnmatchedEntry, error) {
	return w.entries.ListOpen(ctx)
}
