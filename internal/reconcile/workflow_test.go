package reconcile

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
)

type fixture struct {
	workflow *Workflow
	store    *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	return &fixture{
		workflow: New(store.Unmatched(), store.Reservations(), store.Payments(), zap.NewNop()),
		store:    store,
	}
}

func (f *fixture) seed(t *testing.T, paymentID string, candidates []string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, orderID := range candidates {
		require.NoError(t, f.store.Reservations().Create(ctx, &domain.AmountReservation{
			OrderID:         orderID,
			RequestedAmount: decimal.RequireFromString("10.00"),
			FinalAmount:     decimal.RequireFromString("10.00"),
			PaymentMethod:   domain.PaymentMethodAlipay,
			Status:          domain.ReservationStatusPending,
			CreatedAt:       now,
			ExpiresAt:       now.Add(15 * time.Minute),
		}))
	}
	require.NoError(t, f.store.Unmatched().Create(ctx, &domain.UnmatchedEntry{
		PaymentID:        paymentID,
		Amount:           decimal.RequireFromString("10.00"),
		PaymentMethod:    domain.PaymentMethodAlipay,
		CandidateOrderID: candidates,
		Status:           domain.EntryStatusUnmatched,
		CreatedAt:        now,
	}))
	require.NoError(t, f.store.Payments().Create(ctx, &domain.PaymentRecord{
		ID:                 paymentID,
		Amount:             decimal.RequireFromString("10.00"),
		PaymentMethod:      domain.PaymentMethodAlipay,
		Status:             domain.PaymentStatusSuccess,
		NotificationStatus: domain.NotificationStatusPending,
		ReceivedAt:         now,
	}))
}

func TestConfirmMatch_CommitsCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "PAY-1", []string{"ORD-1", "ORD-2"})

	require.NoError(t, f.workflow.ConfirmMatch(ctx, "PAY-1", "ORD-2"))

	res, err := f.store.Reservations().GetByOrderID(ctx, "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusMatched, res.Status)

	// The unchosen candidate stays pending.
	other, err := f.store.Reservations().GetByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusPending, other.Status)

	entry, err := f.store.Unmatched().GetByPaymentID(ctx, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusConfirmed, entry.Status)
	assert.Equal(t, "ORD-2", entry.ConfirmedOrderID)

	payment, err := f.store.Payments().GetByID(ctx, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-2", payment.ResolvedReference)
	assert.Equal(t, 100, payment.ConfidenceOrZero())
}

func TestConfirmMatch_RejectsNonCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "PAY-1", []string{"ORD-1", "ORD-2"})

	err := f.workflow.ConfirmMatch(ctx, "PAY-1", "ORD-99")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEntryCandidateInvalid))
}

func TestConfirmMatch_EmptyCandidatesAcceptsOutOfBandOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "PAY-1", nil)

	// The out-of-band order must exist as a reservation.
	now := time.Now().UTC()
	require.NoError(t, f.store.Reservations().Create(ctx, &domain.AmountReservation{
		OrderID:         "ORD-manual",
		RequestedAmount: decimal.RequireFromString("10.00"),
		FinalAmount:     decimal.RequireFromString("10.00"),
		PaymentMethod:   domain.PaymentMethodAlipay,
		Status:          domain.ReservationStatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(15 * time.Minute),
	}))

	require.NoError(t, f.workflow.ConfirmMatch(ctx, "PAY-1", "ORD-manual"))

	res, err := f.store.Reservations().GetByOrderID(ctx, "ORD-manual")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusMatched, res.Status)
}

func TestConfirmMatch_UnknownOrderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "PAY-1", nil)

	err := f.workflow.ConfirmMatch(ctx, "PAY-1", "ORD-ghost")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeReservationNotFound))
}

func TestConfirmMatch_AlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "PAY-1", []string{"ORD-1"})

	require.NoError(t, f.workflow.ConfirmMatch(ctx, "PAY-1", "ORD-1"))

	err := f.workflow.ConfirmMatch(ctx, "PAY-1", "ORD-1")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEntryAlreadyProcessed))
}

func TestIgnorePayment_TerminalAndLeavesReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "PAY-1", []string{"ORD-1"})

	require.NoError(t, f.workflow.IgnorePayment(ctx, "PAY-1"))

	entry, err := f.store.Unmatched().GetByPaymentID(ctx, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusIgnored, entry.Status)

	res, err := f.store.Reservations().GetByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusPending, res.Status)

	// Ignoring twice is workflow misuse.
	err = f.workflow.IgnorePayment(ctx, "PAY-1")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEntryAlreadyProcessed))

	// So is confirming an ignored entry.
	err = f.workflow.ConfirmMatch(ctx, "PAY-1", "ORD-1")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEntryAlreadyProcessed))
}

func TestIgnorePayment_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	err := f.workflow.IgnorePayment(context.Background(), "PAY-ghost")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEntryNotFound))
}

func TestListOpen_ExcludesResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "PAY-1", []string{"ORD-1"})
	f.seed(t, "PAY-2", []string{"ORD-2"})

	require.NoError(t, f.workflow.IgnorePayment(ctx, "PAY-1"))

	open, err := f.workflow.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "PAY-2", open[0].PaymentID)
}
