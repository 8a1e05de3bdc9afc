package postgres

import (
	"context"

	"github.com/lumipay/reconciliation-service/internal/domain"
)

// UnmatchedRepo implements ports.UnmatchedRepository
type UnmatchedRepo struct {
	db *DB
}

const entryColumns = `
	payment_id, amount::text, payment_method, candidate_order_ids,
	confirmed_order_id, status, created_at`

// Create inserts an unmatched entry
func (r *UnmatchedRepo) Create(ctx context.Context, entry *domain.UnmatchedEntry) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO unmatched_entries
			(payment_id, amount, payment_method, candidate_order_ids,
			 confirmed_order_id, status, created_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6, $7)`,
		entry.PaymentID,
		entry.Amount.String(),
		string(entry.PaymentMethod),
		entry.CandidateOrderID,
		entry.ConfirmedOrderID,
		string(entry.Status),
		entry.CreatedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "insert unmatched entry", err)
	}
	return nil
}

// GetByPaymentID returns the entry for a payment
func (r *UnmatchedRepo) GetByPaymentID(ctx context.Context, paymentID string) (*domain.UnmatchedEntry, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM unmatched_entries
		WHERE payment_id = $1`,
		paymentID,
	)
	entry, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrEntryNotFound.WithDetail("payment_id", paymentID)
		}
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "get unmatched entry", err)
	}
	return entry, nil
}

// Update replaces an entry's mutable fields
func (r *UnmatchedRepo) Update(ctx context.Context, entry *domain.UnmatchedEntry) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE unmatched_entries
		SET candidate_order_ids = $2, confirmed_order_id = $3, status = $4
		WHERE payment_id = $1`,
		entry.PaymentID,
		entry.CandidateOrderID,
		entry.ConfirmedOrderID,
		string(entry.Status),
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "update unmatched entry", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound.WithDetail("payment_id", entry.PaymentID)
	}
	return nil
}

// ListOpen returns entries still awaiting operator action
func (r *UnmatchedRepo) ListOpen(ctx context.Context) ([]*domain.UnmatchedEntry, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM unmatched_entries
		WHERE status = 'unmatched'
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "list open entries", err)
	}
	defer rows.Close()

	var out []*domain.UnmatchedEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeStorageError, "scan unmatched entry", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "iterate unmatched entries", err)
	}
	return out, nil
}

func scanEntry(row rowScanner) (*domain.UnmatchedEntry, error) {
	var (
		entry  domain.UnmatchedEntry
		amount string
		method string
		status string
	)
	err := row.Scan(
		&entry.PaymentID,
		&amount,
		&method,
		&entry.CandidateOrderID,
		&entry.ConfirmedOrderID,
		&status,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if entry.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	entry.PaymentMethod = domain.PaymentMethod(method)
	entry.Status = domain.EntryStatus(status)
	return &entry, nil
}
