package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumipay/reconciliation-service/internal/domain"
)

// ReservationRepository persists amount reservations
type ReservationRepository interface {
	Create(ctx context.Context, reservation *domain.AmountReservation) error
	GetByOrderID(ctx context.Context, orderID string) (*domain.AmountReservation, error)

	// FindActive returns pending reservations for method created after the
	// cutoff whose final amount is within tolerance of amount. This is the
	// collision/candidate query shared by the allocator and matcher.
	FindActive(ctx context.Context, method domain.PaymentMethod, createdAfter time.Time, amount decimal.Decimal) ([]*domain.AmountReservation, error)

	// UpdateStatus transitions a reservation. Writing an already-applied
	// terminal status is a no-op, not an error.
	UpdateStatus(ctx context.Context, orderID string, status domain.ReservationStatus) error

	// ExpireBefore marks every pending reservation with expiresAt < now as
	// expired and returns how many rows changed. Idempotent.
	ExpireBefore(ctx context.Context, now time.Time) (int, error)
}

// PaymentRepository persists incoming payment records
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.PaymentRecord) error
	GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error)

	// UpdateResolution sets the resolved order reference and confidence
	UpdateResolution(ctx context.Context, id, resolvedReference string, confidence int) error

	// UpdateNotificationStatus is the dispatcher's only write
	UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus) error

	// ListNeedingNotification returns successful payments whose callback is
	// pending or failed
	ListNeedingNotification(ctx context.Context) ([]*domain.PaymentRecord, error)
}

// UnmatchedRepository persists unmatched/ambiguous entries
type UnmatchedRepository interface {
	Create(ctx context.Context, entry *domain.UnmatchedEntry) error
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.UnmatchedEntry, error)
	Update(ctx context.Context, entry *domain.UnmatchedEntry) error
	ListOpen(ctx context.Context) ([]*domain.UnmatchedEntry, error)
}

// MerchantRepository persists merchant profiles
type MerchantRepository interface {
	GetByID(ctx context.Context, id string) (*domain.MerchantProfile, error)
	GetByCode(ctx context.Context, code string) (*domain.MerchantProfile, error)
	Upsert(ctx context.Context, profile *domain.MerchantProfile) error
}

// ConfigStore is the key/value system-configuration store backing the
// TTL config cache
type ConfigStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}
