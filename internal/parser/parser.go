// Package parser turns free-text payment notifications, as copied out of a
// mobile payment app, into structured payment fields. It performs no I/O and
// is deterministic apart from the synthetic-reference fallback, which is
// injectable for tests.
package parser

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

var (
	amountPattern = regexp.MustCompile(`收款?([\d.]+)元`)

	// Reference labels, in priority order. The literal "0" and empty values
	// are treated as absent.
	referencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)UID[：:]\s*([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`用户ID[：:]\s*([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`订单号[：:]\s*([A-Za-z0-9_-]+)`),
	}

	alipayMarkers = []string{"com.eg.android.AlipayGphone", "支付宝", "余额"}
	wechatMarkers = []string{"com.tencent.mm", "微信"}
)

// PaymentInfo is the structured result of parsing one notification
type PaymentInfo struct {
	ParsedAt      time.Time
	Amount        decimal.Decimal
	Reference     string
	CustomerType  domain.CustomerType
	PaymentMethod domain.PaymentMethod

	// Synthetic marks a generated fallback reference. Callers must treat it
	// as low-confidence and prefer the matching engine's own resolution.
	Synthetic bool
}

// RefGenerator produces a synthetic reference when the text carries none
type RefGenerator func() string

// Parser parses notification text. The zero-value configuration uses the
// system clock and a timestamp+random synthetic reference.
type Parser struct {
	clock       timeutil.Clock
	generateRef RefGenerator
}

// Option configures a Parser
type Option func(*Parser)

// WithClock overrides the clock used for ParsedAt and synthetic references
func WithClock(clock timeutil.Clock) Option {
	return func(p *Parser) { p.clock = clock }
}

// WithRefGenerator overrides the synthetic-reference generator
func WithRefGenerator(gen RefGenerator) Option {
	return func(p *Parser) { p.generateRef = gen }
}

// New creates a Parser
func New(opts ...Option) *Parser {
	p := &Parser{clock: timeutil.SystemClock{}}
	for _, opt := range opts {
		opt(p)
	}
	if p.generateRef == nil {
		p.generateRef = func() string {
			return fmt.Sprintf("%d%04d", p.clock.Now().UnixMilli(), rand.Intn(10000))
		}
	}
	return p
}

// Parse extracts payment fields from message. It returns a PARSE_FAILED
// domain error when no positive amount can be found.
func (p *Parser) Parse(message string) (*PaymentInfo, error) {
	amountMatch := amountPattern.FindStringSubmatch(message)
	if amountMatch == nil {
		return nil, domain.WrapError(domain.ErrorCodeParseFailed, "no amount in message", nil)
	}

	amount, err := decimal.NewFromString(amountMatch[1])
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeParseFailed, "unparseable amount", err).
			WithDetail("raw_amount", amountMatch[1])
	}
	if !amount.IsPositive() {
		return nil, domain.WrapError(domain.ErrorCodeParseFailed, "amount must be positive", nil).
			WithDetail("raw_amount", amountMatch[1])
	}

	reference, synthetic := p.extractReference(message)

	return &PaymentInfo{
		Amount:        amount,
		Reference:     reference,
		Synthetic:     synthetic,
		CustomerType:  classifyCustomer(message),
		PaymentMethod: detectMethod(message),
		ParsedAt:      p.clock.Now(),
	}, nil
}

func (p *Parser) extractReference(message string) (string, bool) {
	for _, pattern := range referencePatterns {
		if m := pattern.FindStringSubmatch(message); m != nil {
			if ref := m[1]; ref != "" && ref != "0" {
				return ref, false
			}
		}
	}
	return p.generateRef(), true
}

func detectMethod(message string) domain.PaymentMethod {
	if containsAny(message, alipayMarkers) {
		return domain.PaymentMethodAlipay
	}
	if containsAny(message, wechatMarkers) {
		return domain.PaymentMethodWechat
	}
	return domain.PaymentMethodUnknown
}

func classifyCustomer(message string) domain.CustomerType {
	switch {
	case strings.Contains(message, "老顾客"):
		return domain.CustomerTypeReturning
	case strings.Contains(message, "新客户"), strings.Contains(message, "新顾客"):
		return domain.CustomerTypeNew
	default:
		return ""
	}
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
