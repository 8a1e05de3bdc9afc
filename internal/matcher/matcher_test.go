package matcher

import (
	"context"
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

type fixture struct {
	engine       *Engine
	reservations *memory.ReservationRepo
	unmatched    *memory.UnmatchedRepo
	clock        *timeutil.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := timeutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{
		engine:       New(store.Reservations(), store.Unmatched(), zap.NewNop(), WithClock(clock)),
		reservations: store.Reservations(),
		unmatched:    store.Unmatched(),
		clock:        clock,
	}
}

func (f *fixture) addReservation(t *testing.T, orderID, amount string, method domain.PaymentMethod, age time.Duration) {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	createdAt := f.clock.Now().Add(-age)
	require.NoError(t, f.reservations.Create(context.Background(), &domain.AmountReservation{
		OrderID:         orderID,
		RequestedAmount: amt,
		FinalAmount:     amt,
		PaymentMethod:   method,
		Status:          domain.ReservationStatusPending,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(15 * time.Minute),
	}))
}

func TestMatch_SingleCandidateCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addReservation(t, "ORD-1", "10.00", domain.PaymentMethodAlipay, time.Second)

	result, err := f.engine.Match(ctx, decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, "PAY-1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeAutoMatched, result.Outcome)
	assert.Equal(t, "ORD-1", result.SuggestedOrderID)
	assert.Equal(t, 100, result.Confidence)

	res, err := f.reservations.GetByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusMatched, res.Status)
}

func TestMatch_SecondIdenticalPaymentFindsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addReservation(t, "ORD-1", "10.00", domain.PaymentMethodAlipay, time.Second)
	amount := decimal.RequireFromString("10.00")

	first, err := f.engine.Match(ctx, amount, domain.PaymentMethodAlipay, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoMatched, first.Outcome)

	second, err := f.engine.Match(ctx, amount, domain.PaymentMethodAlipay, "PAY-2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, second.Outcome)
	assert.False(t, second.Matched())

	entry, err := f.unmatched.GetByPaymentID(ctx, "PAY-2")
	require.NoError(t, err)
	assert.Empty(t, entry.CandidateOrderID)
	assert.Equal(t, domain.EntryStatusUnmatched, entry.Status)
}

func TestMatch_NoCandidateRecordsUnmatchedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.engine.Match(ctx, decimal.RequireFromString("42.00"), domain.PaymentMethodWechat, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, result.Outcome)

	entry, err := f.unmatched.GetByPaymentID(ctx, "PAY-1")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("42.00")))
	assert.Equal(t, domain.PaymentMethodWechat, entry.PaymentMethod)
}

func TestMatch_AmbiguousIsAdvisoryOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Three reservations share the amount; the oldest is the suggestion.
	f.addReservation(t, "ORD-newest", "10.00", domain.PaymentMethodAlipay, time.Minute)
	f.addReservation(t, "ORD-oldest", "10.00", domain.PaymentMethodAlipay, 10*time.Minute)
	f.addReservation(t, "ORD-middle", "10.00", domain.PaymentMethodAlipay, 5*time.Minute)

	result, err := f.engine.Match(ctx, decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, "PAY-1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeAmbiguous, result.Outcome)
	assert.True(t, result.Matched())
	assert.Equal(t, "ORD-oldest", result.SuggestedOrderID)
	assert.Equal(t, 33, result.Confidence) // round(100/3)
	assert.Equal(t, []string{"ORD-oldest", "ORD-middle", "ORD-newest"}, result.CandidateOrderID)

	// No reservation was committed.
	for _, orderID := range []string{"ORD-oldest", "ORD-middle", "ORD-newest"} {
		res, err := f.reservations.GetByOrderID(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.ReservationStatusPending, res.Status, orderID)
	}

	entry, err := f.unmatched.GetByPaymentID(ctx, "PAY-1")
	require.NoError(t, err)
	assert.Len(t, entry.CandidateOrderID, 3)
}

func TestMatch_ConfidenceRounding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addReservation(t, "ORD-1", "10.00", domain.PaymentMethodAlipay, time.Minute)
	f.addReservation(t, "ORD-2", "10.00", domain.PaymentMethodAlipay, 2*time.Minute)

	result, err := f.engine.Match(ctx, decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, 50, result.Confidence)
}

func TestMatch_MethodMustAgree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addReservation(t, "ORD-1", "10.00", domain.PaymentMethodAlipay, time.Second)

	result, err := f.engine.Match(ctx, decimal.RequireFromString("10.00"), domain.PaymentMethodWechat, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, result.Outcome)
}

func TestMatch_ToleranceIsOneCent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addReservation(t, "ORD-1", "10.00", domain.PaymentMethodAlipay, time.Second)

	// Within a cent: matches.
	result, err := f.engine.Match(ctx, decimal.RequireFromString("10.005"), domain.PaymentMethodAlipay, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoMatched, result.Outcome)
}

func TestMatch_ExpiredReservationNeverMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addReservation(t, "ORD-stale", "10.00", domain.PaymentMethodAlipay, time.Second)

	// The reservation's window elapses; its stored status is still a stale
	// "pending" until something sweeps.
	f.clock.Advance(16 * time.Minute)

	result, err := f.engine.Match(ctx, decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, result.Outcome)

	res, err := f.reservations.GetByOrderID(ctx, "ORD-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, res.Status)
}

func TestMatch_SurchargedAmountOnlyMatchesItsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two concurrent orders disambiguated by surcharge: 10.00 and 10.11.
	f.addReservation(t, "ORD-base", "10.00", domain.PaymentMethodAlipay, time.Minute)
	f.addReservation(t, "ORD-surcharged", "10.11", domain.PaymentMethodAlipay, time.Second)

	result, err := f.engine.Match(ctx, decimal.RequireFromString("10.11"), domain.PaymentMethodAlipay, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoMatched, result.Outcome)
	assert.Equal(t, "ORD-surcharged", result.SuggestedOrderID)

	// The base amount still has exactly one candidate.
	result, err = f.engine.Match(ctx, decimal.RequireFromString("10.00"), domain.PaymentMethodAlipay, "PAY-2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoMatched, result.Outcome)
	assert.Equal(t, "ORD-base", result.SuggestedOrderID)
}

func TestSweep_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addReservation(t, "ORD-1", "10.00", domain.PaymentMethodAlipay, time.Second)

	f.clock.Advance(20 * time.Minute)

	require.NoError(t, f.engine.Sweep(ctx))
	require.NoError(t, f.engine.Sweep(ctx))

	res, err := f.reservations.GetByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, res.Status)
}
