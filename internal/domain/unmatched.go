package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus is the reconciliation state of an unmatched/ambiguous payment
type EntryStatus string

const (
	EntryStatusUnmatched EntryStatus = "unmatched"
	EntryStatusMatched   EntryStatus = "matched"
	EntryStatusConfirmed EntryStatus = "confirmed"
	EntryStatusIgnored   EntryStatus = "ignored"
)

// UnmatchedEntry is created when the matching engine cannot produce a single
// high-confidence match. Its lifecycle is driven exclusively by the
// reconciliation workflow; confirmed and ignored are terminal.
type UnmatchedEntry struct {
	CreatedAt        time.Time       `json:"created_at"`
	PaymentID        string          `json:"payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	CandidateOrderID []string        `json:"candidate_order_ids"`
	ConfirmedOrderID string          `json:"confirmed_order_id,omitempty"`
	Status           EntryStatus     `json:"status"`
}

// IsTerminal reports whether the entry has been resolved by an operator
func (e *UnmatchedEntry) IsTerminal() bool {
	return e.Status == EntryStatusConfirmed || e.Status == EntryStatusIgnored
}

// HasCandidate reports whether orderID is one of the recorded candidates
func (e *UnmatchedEntry) HasCandidate(orderID string) bool {
	for _, id := range e.CandidateOrderID {
		if id == orderID {
			return true
		}
	}
	return false
}

// AcceptsOrder reports whether an operator may confirm orderID for this
// entry. An empty candidate list means the payment matched nothing, so any
// order supplied out-of-band is acceptable.
func (e *UnmatchedEntry) AcceptsOrder(orderID string) bool {
	if len(e.CandidateOrderID) == 0 {
		return true
	}
	return e.HasCandidate(orderID)
}
