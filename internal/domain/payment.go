package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationStatus tracks delivery of the merchant callback for a payment
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// CustomerType is the optional tier extracted from the notification text
type CustomerType string

const (
	CustomerTypeReturning CustomerType = "returning"
	CustomerTypeNew       CustomerType = "new"
)

// PaymentRecord is one accepted payment notification. Immutable once
// created except for ResolvedReference, MatchConfidence and
// NotificationStatus.
type PaymentRecord struct {
	ReceivedAt         time.Time          `json:"received_at"`
	ID                 string             `json:"id"`
	Amount             decimal.Decimal    `json:"amount"`
	PaymentMethod      PaymentMethod      `json:"payment_method"`
	RawText            string             `json:"raw_text"`
	ResolvedReference  string             `json:"resolved_reference"`
	CustomerType       CustomerType       `json:"customer_type,omitempty"`
	MatchConfidence    *int               `json:"match_confidence,omitempty"`
	MerchantID         string             `json:"merchant_id,omitempty"`
	Status             string             `json:"status"`
	NotificationStatus NotificationStatus `json:"notification_status"`
}

// PaymentStatusSuccess is the only payment status the engine records:
// a notification that parsed is a payment that happened.
const PaymentStatusSuccess = "success"

// NeedsNotification reports whether the merchant callback is still owed
func (p *PaymentRecord) NeedsNotification() bool {
	return p.Status == PaymentStatusSuccess &&
		(p.NotificationStatus == NotificationStatusPending || p.NotificationStatus == NotificationStatusFailed)
}

// SetConfidence records the match confidence (0-100)
func (p *PaymentRecord) SetConfidence(confidence int) {
	p.MatchConfidence = &confidence
}

// ConfidenceOrZero returns the match confidence, or 0 when unset
func (p *PaymentRecord) ConfidenceOrZero() int {
	if p.MatchConfidence == nil {
		return 0
	}
	return *p.MatchConfidence
}
