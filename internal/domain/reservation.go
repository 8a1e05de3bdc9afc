package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the payment app a notification came from
type PaymentMethod string

const (
	PaymentMethodAlipay  PaymentMethod = "alipay"
	PaymentMethodWechat  PaymentMethod = "wechat"
	PaymentMethodUnknown PaymentMethod = "unknown"
)

// IsConcrete reports whether the method names a real payment app.
// Only concrete methods participate in reservations and matching.
func (m PaymentMethod) IsConcrete() bool {
	return m == PaymentMethodAlipay || m == PaymentMethodWechat
}

// ReservationStatus is the lifecycle state of an amount reservation
type ReservationStatus string

const (
	ReservationStatusPending ReservationStatus = "pending"
	ReservationStatusMatched ReservationStatus = "matched"
	ReservationStatusExpired ReservationStatus = "expired"
)

// AmountTolerance is the equality tolerance for amount comparisons.
// Payment apps report amounts to the cent; anything within a cent is equal.
var AmountTolerance = decimal.NewFromFloat(0.01)

// AmountsEqual reports whether a and b are within AmountTolerance
func AmountsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(AmountTolerance)
}

// AmountReservation reserves a disambiguated amount/method window for one
// order so an incoming payment of that exact amount identifies the order.
// Exactly one reservation exists per order.
type AmountReservation struct {
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
	OrderID         string            `json:"order_id"`
	RequestedAmount decimal.Decimal   `json:"requested_amount"`
	FinalAmount     decimal.Decimal   `json:"final_amount"`
	SurchargeCents  int64             `json:"surcharge_cents"`
	PaymentMethod   PaymentMethod     `json:"payment_method"`
	Status          ReservationStatus `json:"status"`
}

// HasSurcharge reports whether a disambiguating surcharge was applied
func (r *AmountReservation) HasSurcharge() bool {
	return r.SurchargeCents > 0
}

// IsTerminal reports whether the reservation can no longer transition
func (r *AmountReservation) IsTerminal() bool {
	return r.Status == ReservationStatusMatched || r.Status == ReservationStatusExpired
}

// IsExpiredAt reports whether a still-pending reservation has passed its
// window at the given instant. Sweep-on-read depends on this, not on Status.
func (r *AmountReservation) IsExpiredAt(now time.Time) bool {
	return r.Status == ReservationStatusPending && now.After(r.ExpiresAt)
}

// IsLiveAt reports whether the reservation is a valid match candidate
func (r *AmountReservation) IsLiveAt(now time.Time) bool {
	return r.Status == ReservationStatusPending && !now.After(r.ExpiresAt)
}
