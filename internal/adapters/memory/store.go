// Package memory provides mutex-protected in-memory implementations of the
// repository ports. It backs tests and single-node deployments; the postgres
// adapter is the durable alternative behind the same interfaces.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumipay/reconciliation-service/internal/domain"
)

// Store holds every engine entity in memory. Repositories returned from it
// share one lock, so cross-entity reads never see torn writes.
type Store struct {
	mu           sync.RWMutex
	reservations map[string]*domain.AmountReservation
	payments     map[string]*domain.PaymentRecord
	entries      map[string]*domain.UnmatchedEntry
	merchants    map[string]*domain.MerchantProfile
	config       map[string]string
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		reservations: make(map[string]*domain.AmountReservation),
		payments:     make(map[string]*domain.PaymentRecord),
		entries:      make(map[string]*domain.UnmatchedEntry),
		merchants:    make(map[string]*domain.MerchantProfile),
		config:       make(map[string]string),
	}
}

// Reservations returns the reservation repository view of the store
func (s *Store) Reservations() *ReservationRepo { return &ReservationRepo{store: s} }

// Payments returns the payment repository view of the store
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{store: s} }

// Unmatched returns the unmatched-entry repository view of the store
func (s *Store) Unmatched() *UnmatchedRepo { return &UnmatchedRepo{store: s} }

// Merchants returns the merchant repository view of the store
func (s *Store) Merchants() *MerchantRepo { return &MerchantRepo{store: s} }

// Config returns the system-config store view
func (s *Store) Config() *ConfigRepo { return &ConfigRepo{store: s} }

// ReservationRepo implements ports.ReservationRepository
type ReservationRepo struct {
	store *Store
}

// Create stores a new reservation; a second reservation per order fails
func (r *ReservationRepo) Create(ctx context.Context, reservation *domain.AmountReservation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.reservations[reservation.OrderID]; exists {
		return domain.ErrReservationExists.WithDetail("order_id", reservation.OrderID)
	}
	clone := *reservation
	r.store.reservations[reservation.OrderID] = &clone
	return nil
}

// GetByOrderID returns the reservation for an order
func (r *ReservationRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.AmountReservation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	reservation, ok := r.store.reservations[orderID]
	if !ok {
		return nil, domain.ErrReservationNotFound.WithDetail("order_id", orderID)
	}
	clone := *reservation
	return &clone, nil
}

// FindActive returns pending same-method reservations created after the
// cutoff whose final amount is within tolerance of amount
func (r *ReservationRepo) FindActive(ctx context.Context, method domain.PaymentMethod, createdAfter time.Time, amount decimal.Decimal) ([]*domain.AmountReservation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.AmountReservation
	for _, res := range r.store.reservations {
		if res.Status != domain.ReservationStatusPending || res.PaymentMethod != method {
			continue
		}
		if !res.CreatedAt.After(createdAfter) {
			continue
		}
		if !domain.AmountsEqual(res.FinalAmount, amount) {
			continue
		}
		clone := *res
		out = append(out, &clone)
	}
	sortByCreatedAt(out)
	return out, nil
}

// UpdateStatus transitions a reservation; rewriting the current status is a
// no-op so concurrent matchers cannot conflict
func (r *ReservationRepo) UpdateStatus(ctx context.Context, orderID string, status domain.ReservationStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	reservation, ok := r.store.reservations[orderID]
	if !ok {
		return domain.ErrReservationNotFound.WithDetail("order_id", orderID)
	}
	reservation.Status = status
	return nil
}

// ExpireBefore marks stale pending reservations expired
func (r *ReservationRepo) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	expired := 0
	for _, res := range r.store.reservations {
		if res.Status == domain.ReservationStatusPending && res.ExpiresAt.Before(now) {
			res.Status = domain.ReservationStatusExpired
			expired++
		}
	}
	return expired, nil
}

// PaymentRepo implements ports.PaymentRepository
type PaymentRepo struct {
	store *Store
}

// Create stores a new payment record
func (r *PaymentRepo) Create(ctx context.Context, payment *domain.PaymentRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	clone := *payment
	r.store.payments[payment.ID] = &clone
	return nil
}

// GetByID returns a payment by id
func (r *PaymentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	payment, ok := r.store.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	clone := *payment
	return &clone, nil
}

// UpdateResolution sets the resolved reference and confidence
func (r *PaymentRepo) UpdateResolution(ctx context.Context, id, resolvedReference string, confidence int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	payment, ok := r.store.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	payment.ResolvedReference = resolvedReference
	payment.SetConfidence(confidence)
	return nil
}

// UpdateNotificationStatus records the callback outcome
func (r *PaymentRepo) UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	payment, ok := r.store.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	payment.NotificationStatus = status
	return nil
}

// ListNeedingNotification returns successful payments still owing a callback
func (r *PaymentRepo) ListNeedingNotification(ctx context.Context) ([]*domain.PaymentRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.PaymentRecord
	for _, p := range r.store.payments {
		if p.NeedsNotification() {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// UnmatchedRepo implements ports.UnmatchedRepository
type UnmatchedRepo struct {
	store *Store
}

// Create stores a new unmatched entry
func (r *UnmatchedRepo) Create(ctx context.Context, entry *domain.UnmatchedEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.entries[entry.PaymentID] = cloneEntry(entry)
	return nil
}

// GetByPaymentID returns the entry for a payment
func (r *UnmatchedRepo) GetByPaymentID(ctx context.Context, paymentID string) (*domain.UnmatchedEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	entry, ok := r.store.entries[paymentID]
	if !ok {
		return nil, domain.ErrEntryNotFound.WithDetail("payment_id", paymentID)
	}
	return cloneEntry(entry), nil
}

// Update replaces an entry
func (r *UnmatchedRepo) Update(ctx context.Context, entry *domain.UnmatchedEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.entries[entry.PaymentID]; !ok {
		return domain.ErrEntryNotFound.WithDetail("payment_id", entry.PaymentID)
	}
	r.store.entries[entry.PaymentID] = cloneEntry(entry)
	return nil
}

// ListOpen returns entries still awaiting operator action
func (r *UnmatchedRepo) ListOpen(ctx context.Context) ([]*domain.UnmatchedEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.UnmatchedEntry
	for _, e := range r.store.entries {
		if e.Status == domain.EntryStatusUnmatched {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MerchantRepo implements ports.MerchantRepository
type MerchantRepo struct {
	store *Store
}

// GetByID returns a merchant profile by id
func (r *MerchantRepo) GetByID(ctx context.Context, id string) (*domain.MerchantProfile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, m := range r.store.merchants {
		if m.ID == id {
			clone := *m
			return &clone, nil
		}
	}
	return nil, domain.ErrMerchantNotFound.WithDetail("merchant_id", id)
}

// GetByCode returns a merchant profile by its unique code
func (r *MerchantRepo) GetByCode(ctx context.Context, code string) (*domain.MerchantProfile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	merchant, ok := r.store.merchants[code]
	if !ok {
		return nil, domain.ErrMerchantNotFound.WithDetail("code", code)
	}
	clone := *merchant
	return &clone, nil
}

// Upsert creates or replaces a merchant profile, keyed by code
func (r *MerchantRepo) Upsert(ctx context.Context, profile *domain.MerchantProfile) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	clone := *profile
	r.store.merchants[profile.Code] = &clone
	return nil
}

// ConfigRepo implements ports.ConfigStore
type ConfigRepo struct {
	store *Store
}

// GetValue returns a config value and whether it was present
func (r *ConfigRepo) GetValue(ctx context.Context, key string) (string, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	value, ok := r.store.config[key]
	return value, ok, nil
}

// SetValue stores a config value
func (r *ConfigRepo) SetValue(ctx context.Context, key, value string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.config[key] = value
	return nil
}

func cloneEntry(entry *domain.UnmatchedEntry) *domain.UnmatchedEntry {
	clone := *entry
	clone.CandidateOrderID = append([]string(nil), entry.CandidateOrderID...)
	return &clone
}

func sortByCreatedAt(reservations []*domain.AmountReservation) {
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].CreatedAt.Before(reservations[j].CreatedAt)
	})
}
