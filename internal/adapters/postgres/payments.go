package postgres

import (
	"context"

	"github.com/lumipay/reconciliation-service/internal/domain"
)

// PaymentRepo implements ports.PaymentRepository
type PaymentRepo struct {
	db *DB
}

const paymentColumns = `
	id, amount::text, payment_method, raw_text, resolved_reference,
	customer_type, match_confidence, merchant_id, status,
	notification_status, received_at`

// Create inserts a payment record
func (r *PaymentRepo) Create(ctx context.Context, payment *domain.PaymentRecord) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO payment_records
			(id, amount, payment_method, raw_text, resolved_reference,
			 customer_type, match_confidence, merchant_id, status,
			 notification_status, received_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payment.ID,
		payment.Amount.String(),
		string(payment.PaymentMethod),
		payment.RawText,
		payment.ResolvedReference,
		string(payment.CustomerType),
		payment.MatchConfidence,
		payment.MerchantID,
		payment.Status,
		string(payment.NotificationStatus),
		payment.ReceivedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "insert payment record", err)
	}
	return nil
}

// GetByID returns a payment by id
func (r *PaymentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_records
		WHERE id = $1`,
		id,
	)
	payment, err := scanPayment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPaymentNotFound.WithDetail("payment_id", id)
		}
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "get payment record", err)
	}
	return payment, nil
}

// UpdateResolution sets the resolved reference and confidence
func (r *PaymentRepo) UpdateResolution(ctx context.Context, id, resolvedReference string, confidence int) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE payment_records
		SET resolved_reference = $2, match_confidence = $3
		WHERE id = $1`,
		id, resolvedReference, confidence,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "update payment resolution", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	return nil
}

// UpdateNotificationStatus records the callback outcome
func (r *PaymentRepo) UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE payment_records
		SET notification_status = $2
		WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "update notification status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	return nil
}

// ListNeedingNotification returns successful payments still owing a callback
func (r *PaymentRepo) ListNeedingNotification(ctx context.Context) ([]*domain.PaymentRecord, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_records
		WHERE status = 'success'
		  AND notification_status IN ('pending', 'failed')
		ORDER BY received_at ASC`,
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "list pending notifications", err)
	}
	defer rows.Close()

	var out []*domain.PaymentRecord
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeStorageError, "scan payment record", err)
		}
		out = append(out, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "iterate payment records", err)
	}
	return out, nil
}

func scanPayment(row rowScanner) (*domain.PaymentRecord, error) {
	var (
		payment      domain.PaymentRecord
		amount       string
		method       string
		customerType string
		status       string
	)
	err := row.Scan(
		&payment.ID,
		&amount,
		&method,
		&payment.RawText,
		&payment.ResolvedReference,
		&customerType,
		&payment.MatchConfidence,
		&payment.MerchantID,
		&payment.Status,
		&status,
		&payment.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	if payment.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	payment.PaymentMethod = domain.PaymentMethod(method)
	payment.CustomerType = domain.CustomerType(customerType)
	payment.NotificationStatus = domain.NotificationStatus(status)
	return &payment, nil
}
