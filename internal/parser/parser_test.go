package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

func newTestParser() *Parser {
	clock := timeutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(
		WithClock(clock),
		WithRefGenerator(func() string { return "SYN-0001" }),
	)
}

func TestParse_AlipayWithReference(t *testing.T) {
	p := newTestParser()

	info, err := p.Parse("【com.eg.android.AlipayGphone】你已收款25.50元 UID：ORD12345")
	require.NoError(t, err)

	assert.True(t, info.Amount.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, "ORD12345", info.Reference)
	assert.False(t, info.Synthetic)
	assert.Equal(t, domain.PaymentMethodAlipay, info.PaymentMethod)
}

func TestParse_WechatBrandMarker(t *testing.T) {
	p := newTestParser()

	info, err := p.Parse("微信支付 收款10.00元 订单号：WX-778899")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentMethodWechat, info.PaymentMethod)
	assert.Equal(t, "WX-778899", info.Reference)
}

func TestParse_UnknownMethod(t *testing.T) {
	p := newTestParser()

	info, err := p.Parse("收款8.88元 UID：X1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodUnknown, info.PaymentMethod)
}

func TestParse_SyntheticReference(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name    string
		message string
	}{
		{"no label", "支付宝 收款12.00元"},
		{"literal zero", "支付宝 收款12.00元 UID：0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := p.Parse(tt.message)
			require.NoError(t, err)
			assert.Equal(t, "SYN-0001", info.Reference)
			assert.True(t, info.Synthetic)
		})
	}
}

func TestParse_NoAmount(t *testing.T) {
	p := newTestParser()

	_, err := p.Parse("支付宝到账通知 UID：ORD1")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeParseFailed))
}

func TestParse_ZeroAmount(t *testing.T) {
	p := newTestParser()

	_, err := p.Parse("支付宝 收款0元")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeParseFailed))
}

func TestParse_MalformedAmount(t *testing.T) {
	p := newTestParser()

	_, err := p.Parse("支付宝 收款10.5.1元")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeParseFailed))
}

func TestParse_CustomerType(t *testing.T) {
	p := newTestParser()

	info, err := p.Parse("支付宝 收款30.00元 UID：A1 老顾客")
	require.NoError(t, err)
	assert.Equal(t, domain.CustomerTypeReturning, info.CustomerType)

	info, err = p.Parse("微信 收款30.00元 UID：A2 新客户下单")
	require.NoError(t, err)
	assert.Equal(t, domain.CustomerTypeNew, info.CustomerType)

	info, err = p.Parse("微信 收款30.00元 UID：A3")
	require.NoError(t, err)
	assert.Empty(t, info.CustomerType)
}

func TestParse_Deterministic(t *testing.T) {
	p := newTestParser()
	msg := "支付宝 收款66.00元 UID：SAME"

	a, err := p.Parse(msg)
	require.NoError(t, err)
	b, err := p.Parse(msg)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
