package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAmountsEqual(t *testing.T) {
	tests := []struct {
		name  string
		a     string
		b     string
		equal bool
	}{
		{"identical", "10.00", "10.00", true},
		{"sub-cent difference", "10.001", "10.00", true},
		{"exactly one cent apart", "10.01", "10.00", false},
		{"surcharge distinguishes", "10.11", "10.00", false},
		{"large equal", "9999.99", "9999.99", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := decimal.RequireFromString(tt.a)
			b := decimal.RequireFromString(tt.b)
			assert.Equal(t, tt.equal, AmountsEqual(a, b))
			assert.Equal(t, tt.equal, AmountsEqual(b, a))
		})
	}
}

func TestReservation_Lifecycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	res := &AmountReservation{
		OrderID:         "ORD-1",
		RequestedAmount: decimal.RequireFromString("10.00"),
		FinalAmount:     decimal.RequireFromString("10.11"),
		SurchargeCents:  11,
		PaymentMethod:   PaymentMethodAlipay,
		Status:          ReservationStatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(15 * time.Minute),
	}

	assert.True(t, res.HasSurcharge())
	assert.False(t, res.IsTerminal())
	assert.True(t, res.IsLiveAt(now))
	assert.True(t, res.IsLiveAt(now.Add(15*time.Minute)))

	assert.False(t, res.IsLiveAt(now.Add(15*time.Minute+time.Second)))
	assert.True(t, res.IsExpiredAt(now.Add(16*time.Minute)))

	res.Status = ReservationStatusMatched
	assert.True(t, res.IsTerminal())
	assert.False(t, res.IsExpiredAt(now.Add(16*time.Minute)))
}

func TestPaymentMethod_IsConcrete(t *testing.T) {
	assert.True(t, PaymentMethodAlipay.IsConcrete())
	assert.True(t, PaymentMethodWechat.IsConcrete())
	assert.False(t, PaymentMethodUnknown.IsConcrete())
}

func TestUnmatchedEntry_AcceptsOrder(t *testing.T) {
	entry := &UnmatchedEntry{
		PaymentID:        "PAY-1",
		CandidateOrderID: []string{"ORD-1", "ORD-2"},
		Status:           EntryStatusUnmatched,
	}

	assert.True(t, entry.AcceptsOrder("ORD-1"))
	assert.False(t, entry.AcceptsOrder("ORD-9"))

	// no candidates recorded: operator may supply any order out-of-band
	empty := &UnmatchedEntry{PaymentID: "PAY-2", Status: EntryStatusUnmatched}
	assert.True(t, empty.AcceptsOrder("ORD-9"))
}

func TestMerchantProfile_Defaults(t *testing.T) {
	m := &MerchantProfile{Code: DefaultMerchantCode, CallbackURL: "https://example.com/cb", IsActive: true}

	assert.True(t, m.IsDefault())
	assert.True(t, m.CanDeliver())
	assert.Equal(t, 30*time.Second, m.Timeout())
	assert.Equal(t, 1, m.MaxAttempts())

	m.TimeoutSeconds = 5
	m.RetryCount = 3
	assert.Equal(t, 5*time.Second, m.Timeout())
	assert.Equal(t, 3, m.MaxAttempts())

	m.IsActive = false
	assert.False(t, m.CanDeliver())
}

func TestPaymentRecord_NeedsNotification(t *testing.T) {
	p := &PaymentRecord{Status: PaymentStatusSuccess, NotificationStatus: NotificationStatusPending}
	assert.True(t, p.NeedsNotification())

	p.NotificationStatus = NotificationStatusFailed
	assert.True(t, p.NeedsNotification())

	p.NotificationStatus = NotificationStatusSent
	assert.False(t, p.NeedsNotification())
}
