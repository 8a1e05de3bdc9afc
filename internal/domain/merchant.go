package domain

import (
	"time"
)

// DefaultMerchantCode is the distinguished fallback profile. It always
// exists and is used when an order or payment has no explicit merchant.
const DefaultMerchantCode = "default"

// MerchantProfile holds the callback destination and signing credentials
// for one merchant system
type MerchantProfile struct {
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	CallbackURL    string    `json:"callback_url"`
	SigningKey     string    `json:"signing_key"`
	RetryCount     int       `json:"retry_count"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	IsActive       bool      `json:"is_active"`
}

// IsDefault reports whether this is the distinguished fallback profile
func (m *MerchantProfile) IsDefault() bool {
	return m.Code == DefaultMerchantCode
}

// CanDeliver reports whether the profile is usable as a callback destination
func (m *MerchantProfile) CanDeliver() bool {
	return m.IsActive && m.CallbackURL != ""
}

// Timeout returns the per-request delivery timeout, falling back to 30s
func (m *MerchantProfile) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// MaxAttempts returns the bounded retry count for deliveries, minimum 1
func (m *MerchantProfile) MaxAttempts() int {
	if m.RetryCount < 1 {
		return 1
	}
	return m.RetryCount
}
