// Package allocator assigns collision-avoided amounts to new orders. When a
// pending reservation already holds the requested amount, a small
// repeated-digit surcharge (0.11 .. 0.99, then 1.11 .. 9.99) disambiguates
// the new order; repeated digits are easy for a human payer to type.
package allocator

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

var allocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "amount_allocations_total",
	Help: "Amount allocations by surcharge tier",
}, []string{"tier"}) // none, two_digit, three_digit, exhausted

var (
	twoDigitCents   = []int64{11, 22, 33, 44, 55, 66, 77, 88, 99}
	threeDigitCents = []int64{111, 222, 333, 444, 555, 666, 777, 888, 999}
)

// Allocation is the amount presented to the payer for one order
type Allocation struct {
	OrderID        string
	FinalAmount    decimal.Decimal
	SurchargeCents int64
}

// Allocator creates amount reservations with collision avoidance
type Allocator struct {
	reservations    ports.ReservationRepository
	clock           timeutil.Clock
	logger          *zap.Logger
	rng             *rand.Rand
	collisionWindow time.Duration
	expiryWindow    time.Duration
}

// Option configures an Allocator
type Option func(*Allocator)

// WithClock overrides the clock
func WithClock(clock timeutil.Clock) Option {
	return func(a *Allocator) { a.clock = clock }
}

// WithRand overrides the surcharge shuffle source for deterministic tests
func WithRand(rng *rand.Rand) Option {
	return func(a *Allocator) { a.rng = rng }
}

// WithWindows overrides the collision and expiry windows
func WithWindows(collision, expiry time.Duration) Option {
	return func(a *Allocator) {
		a.collisionWindow = collision
		a.expiryWindow = expiry
	}
}

// New creates an Allocator. Both windows default to 15 minutes.
func New(reservations ports.ReservationRepository, logger *zap.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		reservations:    reservations,
		clock:           timeutil.SystemClock{},
		logger:          logger,
		rng:             rand.New(rand.NewSource(timeutil.Now().UnixNano())),
		collisionWindow: 15 * time.Minute,
		expiryWindow:    15 * time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate picks a collision-avoided amount for the order, persists the
// reservation, and returns what the payer should be asked to pay.
func (a *Allocator) Allocate(ctx context.Context, orderID string, requested decimal.Decimal, method domain.PaymentMethod, allowSurcharge bool) (*Allocation, error) {
	if !requested.IsPositive() {
		return nil, domain.ErrValidationAmountInvalid.WithDetail("amount", requested.String())
	}
	if !method.IsConcrete() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "payment method must be alipay or wechat")
	}
	if existing, err := a.reservations.GetByOrderID(ctx, orderID); err == nil && existing != nil {
		return nil, domain.ErrReservationExists.WithDetail("order_id", orderID)
	}

	now := a.clock.Now()
	cutoff := now.Add(-a.collisionWindow)

	finalAmount := requested
	var surchargeCents int64

	colliding, err := a.reservations.FindActive(ctx, method, cutoff, requested)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "scan colliding reservations", err)
	}

	if len(colliding) > 0 && allowSurcharge {
		finalAmount, surchargeCents, err = a.pickSurcharge(ctx, requested, method, cutoff)
		if err != nil {
			return nil, err
		}
		switch {
		case surchargeCents == 0:
			a.logger.Warn("surcharge space exhausted, accepting duplicate-amount risk",
				zap.String("order_id", orderID),
				zap.String("amount", requested.String()),
			)
			allocations.WithLabelValues("exhausted").Inc()
		case surchargeCents < 100:
			allocations.WithLabelValues("two_digit").Inc()
		default:
			allocations.WithLabelValues("three_digit").Inc()
		}
	} else {
		allocations.WithLabelValues("none").Inc()
	}

	reservation := &domain.AmountReservation{
		OrderID:         orderID,
		RequestedAmount: requested,
		FinalAmount:     finalAmount,
		SurchargeCents:  surchargeCents,
		PaymentMethod:   method,
		Status:          domain.ReservationStatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(a.expiryWindow),
	}
	if err := a.reservations.Create(ctx, reservation); err != nil {
		return nil, err
	}

	a.logger.Info("created amount reservation",
		zap.String("order_id", orderID),
		zap.String("method", string(method)),
		zap.String("final_amount", finalAmount.String()),
		zap.Int64("surcharge_cents", surchargeCents),
	)

	return &Allocation{OrderID: orderID, FinalAmount: finalAmount, SurchargeCents: surchargeCents}, nil
}

// pickSurcharge tries shuffled two-digit repeated-digit surcharges, then the
// three-digit tier, returning the first collision-free amount. A zero
// surcharge means every candidate collided and the caller falls back to the
// unmodified amount.
func (a *Allocator) pickSurcharge(ctx context.Context, requested decimal.Decimal, method domain.PaymentMethod, cutoff time.Time) (decimal.Decimal, int64, error) {
	shuffled := make([]int64, len(twoDigitCents))
	copy(shuffled, twoDigitCents)
	a.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for _, tier := range [][]int64{shuffled, threeDigitCents} {
		for _, cents := range tier {
			candidate := applySurcharge(requested, cents)
			colliding, err := a.reservations.FindActive(ctx, method, cutoff, candidate)
			if err != nil {
				return decimal.Decimal{}, 0, domain.WrapError(domain.ErrorCodeStorageError, "probe surcharge candidate", err)
			}
			if len(colliding) == 0 {
				return candidate, cents, nil
			}
		}
	}

	return requested, 0, nil
}

// applySurcharge computes floor(requested) + cents/100
func applySurcharge(requested decimal.Decimal, cents int64) decimal.Decimal {
	return requested.Floor().Add(decimal.New(cents, -2))
}
