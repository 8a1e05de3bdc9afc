// Package signing implements the canonical HMAC-SHA256 request signature
// shared by outbound merchant notifications and inbound merchant callbacks.
// Both directions use one trust primitive: sorted key=value pairs joined
// with '&', keyed by the merchant signing key.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

const (
	// DefaultReplayWindow is the maximum clock skew between signing and
	// verification
	DefaultReplayWindow = 300 * time.Second

	// nonceLength is the minimum nonce size in characters
	nonceLength = 16

	fieldSignature = "signature"
	fieldTimestamp = "timestamp"
	fieldNonce     = "nonce"
	fieldAPIKey    = "api_key"
)

// Signer signs and verifies flat field maps with one merchant key
type Signer struct {
	key          string
	clock        timeutil.Clock
	nonce        func() string
	replayWindow time.Duration
}

// Option configures a Signer
type Option func(*Signer)

// WithClock overrides the clock used for timestamps and replay checks
func WithClock(clock timeutil.Clock) Option {
	return func(s *Signer) { s.clock = clock }
}

// WithNonce overrides nonce generation for deterministic tests
func WithNonce(nonce func() string) Option {
	return func(s *Signer) { s.nonce = nonce }
}

// WithReplayWindow overrides the replay window
func WithReplayWindow(window time.Duration) Option {
	return func(s *Signer) { s.replayWindow = window }
}

// New creates a Signer for the given signing key
func New(key string, opts ...Option) *Signer {
	s := &Signer{
		key:          key,
		clock:        timeutil.SystemClock{},
		nonce:        GenerateNonce,
		replayWindow: DefaultReplayWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateNonce returns a random hex string of nonceLength characters
func GenerateNonce() string {
	buf := make([]byte, nonceLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process has no entropy source left
		panic(fmt.Sprintf("signing: read random: %v", err))
	}
	return hex.EncodeToString(buf)[:nonceLength]
}

// Sign returns a copy of fields with timestamp, nonce and signature added.
// Existing timestamp/nonce values are kept so a caller can re-sign a
// payload it constructed earlier.
func (s *Signer) Sign(fields map[string]interface{}) map[string]interface{} {
	signed := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		if k == fieldSignature {
			continue
		}
		signed[k] = v
	}
	if _, ok := signed[fieldTimestamp]; !ok {
		signed[fieldTimestamp] = s.clock.Now().Unix()
	}
	if _, ok := signed[fieldNonce]; !ok {
		signed[fieldNonce] = s.nonce()
	}

	signed[fieldSignature] = s.compute(signed)
	return signed
}

// Verify checks the signature and replay window of a signed field map.
// The timestamp is checked before any signature work so replays fail fast.
func (s *Signer) Verify(fields map[string]interface{}) error {
	presented, ok := fields[fieldSignature].(string)
	if !ok || presented == "" {
		return domain.ErrSignatureMissing
	}

	ts, ok := numericField(fields[fieldTimestamp])
	if !ok {
		return domain.ErrTimestampExpired.WithDetail("reason", "timestamp missing or non-numeric")
	}
	skew := s.clock.Now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > s.replayWindow {
		return domain.ErrTimestampExpired.WithDetail("skew_seconds", skew)
	}

	expected := s.compute(fields)

	presentedRaw, err := hex.DecodeString(presented)
	if err != nil {
		return domain.ErrSignatureInvalid.WithDetail("reason", "signature is not hex")
	}
	expectedRaw, _ := hex.DecodeString(expected)
	if !hmac.Equal(presentedRaw, expectedRaw) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// VerifyCallback parses a signed JSON body, verifies it, and returns the
// business fields with the signature envelope removed
func (s *Signer) VerifyCallback(body []byte) (map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "callback body is not JSON", err)
	}
	if err := s.Verify(fields); err != nil {
		return nil, err
	}

	business := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch k {
		case fieldSignature, fieldTimestamp, fieldNonce:
			continue
		}
		business[k] = v
	}
	return business, nil
}

// compute canonicalizes fields (excluding signature, including api_key) and
// returns the hex HMAC-SHA256 signature
func (s *Signer) compute(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields)+1)
	for k, v := range fields {
		if k == fieldSignature || v == nil {
			continue
		}
		keys = append(keys, k)
	}
	keys = append(keys, fieldAPIKey)
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if k == fieldAPIKey {
			b.WriteString(s.key)
		} else {
			b.WriteString(formatValue(fields[k]))
		}
	}

	mac := hmac.New(sha256.New, []byte(s.key))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// formatValue renders a field the way the canonical form expects: numbers
// without trailing zeros, so a payload round-tripped through JSON signs
// identically
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func numericField(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
