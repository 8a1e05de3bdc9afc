package allocator

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/adapters/memory"
	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

func newTestAllocator(t *testing.T) (*Allocator, *memory.ReservationRepo, *timeutil.FakeClock) {
	t.Helper()
	repo := memory.NewStore().Reservations()
	clock := timeutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	alloc := New(repo, zap.NewNop(),
		WithClock(clock),
		WithRand(rand.New(rand.NewSource(1))),
	)
	return alloc, repo, clock
}

func TestAllocate_NoCollisionKeepsAmount(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()

	got, err := alloc.Allocate(ctx, "ORD-1", decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	assert.True(t, got.FinalAmount.Equal(decimal.RequireFromString("10.00")))
	assert.Zero(t, got.SurchargeCents)
}

func TestAllocate_CollisionAddsTwoDigitSurcharge(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, "ORD-1", decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	got, err := alloc.Allocate(ctx, "ORD-2", decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	assert.Contains(t, []int64{11, 22, 33, 44, 55, 66, 77, 88, 99}, got.SurchargeCents)
	expected := decimal.RequireFromString("10.00").Floor().Add(decimal.New(got.SurchargeCents, -2))
	assert.True(t, got.FinalAmount.Equal(expected),
		"final %s want %s", got.FinalAmount, expected)
}

func TestAllocate_SurchargeIsRelativeToFloor(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, "ORD-1", decimal.RequireFromString("10.73"), domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	got, err := alloc.Allocate(ctx, "ORD-2", decimal.RequireFromString("10.73"), domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	require.NotZero(t, got.SurchargeCents)
	// 10.73 -> floor 10 + surcharge, e.g. 10.11, never 10.84
	assert.True(t, got.FinalAmount.Sub(decimal.NewFromInt(10)).Equal(decimal.New(got.SurchargeCents, -2)))
}

func TestAllocate_NeverProducesEqualFinalAmounts(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("25.00")

	seen := make(map[string]string)
	for i := 0; i < 10; i++ {
		orderID := string(rune('A' + i))
		got, err := alloc.Allocate(ctx, orderID, amount, domain.PaymentMethodWechat, true)
		require.NoError(t, err)

		key := got.FinalAmount.StringFixed(2)
		if prev, dup := seen[key]; dup {
			t.Fatalf("orders %s and %s share final amount %s", prev, orderID, key)
		}
		seen[key] = orderID
	}
}

func TestAllocate_ExhaustedTwoDigitTierFallsToThreeDigit(t *testing.T) {
	alloc, repo, clock := newTestAllocator(t)
	ctx := context.Background()
	now := clock.Now()
	amount := decimal.RequireFromString("50.00")

	// Occupy the base amount and all nine two-digit surcharge slots.
	occupy := func(orderID string, amt decimal.Decimal) {
		require.NoError(t, repo.Create(ctx, &domain.AmountReservation{
			OrderID:         orderID,
			RequestedAmount: amt,
			FinalAmount:     amt,
			PaymentMethod:   domain.PaymentMethodAlipay,
			Status:          domain.ReservationStatusPending,
			CreatedAt:       now,
			ExpiresAt:       now.Add(15 * time.Minute),
		}))
	}
	occupy("BASE", amount)
	for _, cents := range []int64{11, 22, 33, 44, 55, 66, 77, 88, 99} {
		occupy(decimal.New(cents, 0).String(), amount.Floor().Add(decimal.New(cents, -2)))
	}

	got, err := alloc.Allocate(ctx, "ORD-X", amount, domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	assert.Contains(t, []int64{111, 222, 333, 444, 555, 666, 777, 888, 999}, got.SurchargeCents)
}

func TestAllocate_FullyExhaustedFallsBackToRequested(t *testing.T) {
	alloc, repo, clock := newTestAllocator(t)
	ctx := context.Background()
	now := clock.Now()
	amount := decimal.RequireFromString("50.00")

	occupy := func(orderID string, amt decimal.Decimal) {
		require.NoError(t, repo.Create(ctx, &domain.AmountReservation{
			OrderID:         orderID,
			RequestedAmount: amt,
			FinalAmount:     amt,
			PaymentMethod:   domain.PaymentMethodAlipay,
			Status:          domain.ReservationStatusPending,
			CreatedAt:       now,
			ExpiresAt:       now.Add(15 * time.Minute),
		}))
	}
	occupy("BASE", amount)
	for _, cents := range append([]int64{11, 22, 33, 44, 55, 66, 77, 88, 99},
		111, 222, 333, 444, 555, 666, 777, 888, 999) {
		occupy(decimal.New(cents, 0).String(), amount.Floor().Add(decimal.New(cents, -2)))
	}

	got, err := alloc.Allocate(ctx, "ORD-X", amount, domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	assert.Zero(t, got.SurchargeCents)
	assert.True(t, got.FinalAmount.Equal(amount))
}

func TestAllocate_SurchargeDisabledKeepsCollidingAmount(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("10.00")

	_, err := alloc.Allocate(ctx, "ORD-1", amount, domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	got, err := alloc.Allocate(ctx, "ORD-2", amount, domain.PaymentMethodAlipay, false)
	require.NoError(t, err)
	assert.True(t, got.FinalAmount.Equal(amount))
	assert.Zero(t, got.SurchargeCents)
}

func TestAllocate_CollisionScopedToMethod(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("10.00")

	_, err := alloc.Allocate(ctx, "ORD-ali", amount, domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	got, err := alloc.Allocate(ctx, "ORD-wx", amount, domain.PaymentMethodWechat, true)
	require.NoError(t, err)
	assert.Zero(t, got.SurchargeCents)
}

func TestAllocate_CollisionWindowExpires(t *testing.T) {
	alloc, _, clock := newTestAllocator(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("10.00")

	_, err := alloc.Allocate(ctx, "ORD-1", amount, domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	// Outside the 15-minute collision window the old reservation no longer
	// forces a surcharge.
	clock.Advance(16 * time.Minute)

	got, err := alloc.Allocate(ctx, "ORD-2", amount, domain.PaymentMethodAlipay, true)
	require.NoError(t, err)
	assert.Zero(t, got.SurchargeCents)
}

func TestAllocate_DuplicateOrderFails(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, "ORD-1", decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, true)
	require.NoError(t, err)

	_, err = alloc.Allocate(ctx, "ORD-1", decimal.RequireFromString("20.00"), domain.PaymentMethodAlipay, true)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeReservationExists))
}

func TestAllocate_RejectsInvalidInput(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, "ORD-1", decimal.Zero, domain.PaymentMethodAlipay, true)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationAmountInvalid))

	_, err = alloc.Allocate(ctx, "ORD-1", decimal.RequireFromString("10.00"), domain.PaymentMethodUnknown, true)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}
