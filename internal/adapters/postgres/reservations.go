package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumipay/reconciliation-service/internal/domain"
)

// ReservationRepo implements ports.ReservationRepository
type ReservationRepo struct {
	db *DB
}

const reservationColumns = `
	order_id, requested_amount::text, final_amount::text, surcharge_cents,
	payment_method, status, created_at, expires_at`

// Create inserts a reservation; a second reservation per order fails
func (r *ReservationRepo) Create(ctx context.Context, reservation *domain.AmountReservation) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO amount_reservations
			(order_id, requested_amount, final_amount, surcharge_cents,
			 payment_method, status, created_at, expires_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6, $7, $8)`,
		reservation.OrderID,
		reservation.RequestedAmount.String(),
		reservation.FinalAmount.String(),
		reservation.SurchargeCents,
		string(reservation.PaymentMethod),
		string(reservation.Status),
		reservation.CreatedAt,
		reservation.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrReservationExists.WithDetail("order_id", reservation.OrderID)
		}
		return domain.WrapError(domain.ErrorCodeStorageError, "insert reservation", err)
	}
	return nil
}

// GetByOrderID returns the reservation for an order
func (r *ReservationRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.AmountReservation, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM amount_reservations
		WHERE order_id = $1`,
		orderID,
	)
	reservation, err := scanReservation(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrReservationNotFound.WithDetail("order_id", orderID)
		}
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "get reservation", err)
	}
	return reservation, nil
}

// FindActive returns pending same-method reservations created after the
// cutoff whose final amount is within tolerance of amount
func (r *ReservationRepo) FindActive(ctx context.Context, method domain.PaymentMethod, createdAfter time.Time, amount decimal.Decimal) ([]*domain.AmountReservation, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM amount_reservations
		WHERE status = 'pending'
		  AND payment_method = $1
		  AND created_at > $2
		  AND abs(final_amount - $3::numeric) < $4::numeric
		ORDER BY created_at ASC`,
		string(method),
		createdAfter,
		amount.String(),
		domain.AmountTolerance.String(),
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "find active reservations", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

// UpdateStatus transitions a reservation. Rewriting the current status is a
// no-op so concurrent matchers cannot conflict.
func (r *ReservationRepo) UpdateStatus(ctx context.Context, orderID string, status domain.ReservationStatus) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE amount_reservations
		SET status = $2
		WHERE order_id = $1`,
		orderID,
		string(status),
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "update reservation status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound.WithDetail("order_id", orderID)
	}
	return nil
}

// ExpireBefore marks stale pending reservations expired
func (r *ReservationRepo) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE amount_reservations
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, domain.WrapError(domain.ErrorCodeStorageError, "expire reservations", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.AmountReservation, error) {
	var (
		reservation domain.AmountReservation
		requested   string
		final       string
		method      string
		status      string
	)
	err := row.Scan(
		&reservation.OrderID,
		&requested,
		&final,
		&reservation.SurchargeCents,
		&method,
		&status,
		&reservation.CreatedAt,
		&reservation.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if reservation.RequestedAmount, err = parseAmount(requested); err != nil {
		return nil, err
	}
	if reservation.FinalAmount, err = parseAmount(final); err != nil {
		return nil, err
	}
	reservation.PaymentMethod = domain.PaymentMethod(method)
	reservation.Status = domain.ReservationStatus(status)
	return &reservation, nil
}

func scanReservations(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*domain.AmountReservation, error) {
	var out []*domain.AmountReservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeStorageError, "scan reservation", err)
		}
		out = append(out, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "iterate reservations", err)
	}
	return out, nil
}
