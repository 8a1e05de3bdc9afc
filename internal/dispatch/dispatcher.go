// Package dispatch delivers signed settlement notifications to merchant
// callback endpoints. It is the only writer of a payment's notification
// status.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
	"github.com/lumipay/reconciliation-service/internal/services/sysconfig"
	"github.com/lumipay/reconciliation-service/internal/signing"
	"github.com/lumipay/reconciliation-service/pkg/resilience"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

const (
	userAgent     = "MerchantSDK/1.0"
	systemName    = "LumiPay/1.0"
	defaultBatch  = 5
	defaultPause  = 1 * time.Second
	maxErrorBytes = 512
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "callback_deliveries_total",
	Help: "Merchant callback deliveries by result",
}, []string{"result"}) // sent, failed, config_missing, url_invalid

// ConfigSource supplies operator-tunable delivery defaults for merchant
// profiles that carry no explicit retry or timeout settings
type ConfigSource interface {
	GetInt(ctx context.Context, key string, fallback int) int
}

// Dispatcher resolves merchant delivery settings and sends signed
// notifications with bounded timeouts and bounded retry
type Dispatcher struct {
	payments   ports.PaymentRepository
	merchants  ports.MerchantRepository
	client      *http.Client
	backoff     resilience.BackoffStrategy
	clock       timeutil.Clock
	logger      *zap.Logger
	config      ConfigSource
	validateURL func(string) (*url.URL, error)
	batchSize   int
	batchPause  time.Duration
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client. Per-request timeouts are applied
// via context, so the client itself needs no Timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) { d.client = client }
}

// WithBackoff overrides the inter-attempt backoff
func WithBackoff(backoff resilience.BackoffStrategy) Option {
	return func(d *Dispatcher) { d.backoff = backoff }
}

// WithClock overrides the clock used for payload timestamps
func WithClock(clock timeutil.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithURLValidator overrides destination URL validation. Tests deliver to
// loopback servers, which the default ValidateCallbackURL rejects.
func WithURLValidator(validate func(string) (*url.URL, error)) Option {
	return func(d *Dispatcher) { d.validateURL = validate }
}

// WithConfig sets the system-config source consulted when a merchant
// profile has no retry or timeout settings of its own
func WithConfig(config ConfigSource) Option {
	return func(d *Dispatcher) { d.config = config }
}

// WithBatch overrides bulk-retry batch size and inter-batch pause
func WithBatch(size int, pause time.Duration) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
		d.batchPause = pause
	}
}

// New creates a Dispatcher
func New(payments ports.PaymentRepository, merchants ports.MerchantRepository, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		payments:    payments,
		merchants:   merchants,
		client:      &http.Client{},
		backoff:     resilience.CallbackBackoff(),
		clock:       timeutil.SystemClock{},
		logger:      logger,
		validateURL: ValidateCallbackURL,
		batchSize:   defaultBatch,
		batchPause:  defaultPause,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify delivers the settlement notification for one payment. The outcome
// is recorded on the payment's notification status: 2xx within the
// merchant's timeout means sent, anything else means failed. Missing or
// unusable merchant configuration fails the delivery without retrying.
func (d *Dispatcher) Notify(ctx context.Context, payment *domain.PaymentRecord) error {
	merchant, err := d.resolveMerchant(ctx, payment.MerchantID)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeCallbackConfigMissing) {
			deliveries.WithLabelValues("config_missing").Inc()
		} else {
			deliveries.WithLabelValues("failed").Inc()
		}
		d.markFailed(ctx, payment.ID)
		return err
	}

	if _, err := d.validateURL(merchant.CallbackURL); err != nil {
		deliveries.WithLabelValues("url_invalid").Inc()
		d.logger.Error("callback URL rejected",
			zap.String("payment_id", payment.ID),
			zap.String("merchant_id", merchant.ID),
			zap.Error(err),
		)
		d.markFailed(ctx, payment.ID)
		return err
	}

	maxAttempts, timeout := d.deliverySettings(ctx, merchant)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, d.backoff.NextDelay(attempt-1)); err != nil {
				break
			}
		}
		lastErr = d.deliverOnce(ctx, payment, merchant, timeout)
		if lastErr == nil {
			deliveries.WithLabelValues("sent").Inc()
			if err := d.payments.UpdateNotificationStatus(ctx, payment.ID, domain.NotificationStatusSent); err != nil {
				return domain.WrapError(domain.ErrorCodeStorageError, "record delivery success", err)
			}
			d.logger.Info("merchant notified",
				zap.String("payment_id", payment.ID),
				zap.String("merchant_id", merchant.ID),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}
		d.logger.Warn("callback delivery attempt failed",
			zap.String("payment_id", payment.ID),
			zap.String("merchant_id", merchant.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(lastErr),
		)
	}

	deliveries.WithLabelValues("failed").Inc()
	d.markFailed(ctx, payment.ID)
	return lastErr
}

// NotifyByID loads a payment and delivers its notification
func (d *Dispatcher) NotifyByID(ctx context.Context, paymentID string) error {
	payment, err := d.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	return d.Notify(ctx, payment)
}

// RetryFailed redelivers every successful payment whose notification is
// still pending or failed. Records are processed in concurrent batches so
// outbound load stays bounded; a single record's own attempts remain
// serialized inside Notify. Returns how many deliveries succeeded.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	pending, err := d.payments.ListNeedingNotification(ctx)
	if err != nil {
		return 0, domain.WrapError(domain.ErrorCodeStorageError, "list pending notifications", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	d.logger.Info("retrying failed callbacks",
		zap.Int("total", len(pending)),
		zap.Int("batch_size", d.batchSize),
	)

	var succeeded atomic.Int64
	for start := 0; start < len(pending); start += d.batchSize {
		end := start + d.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for _, payment := range pending[start:end] {
			wg.Add(1)
			go func(p *domain.PaymentRecord) {
				defer wg.Done()
				if err := d.Notify(ctx, p); err == nil {
					succeeded.Add(1)
				}
			}(payment)
		}
		wg.Wait()

		if end < len(pending) {
			if err := sleepCtx(ctx, d.batchPause); err != nil {
				break
			}
		}
	}

	count := int(succeeded.Load())
	d.logger.Info("callback retry completed",
		zap.Int("total", len(pending)),
		zap.Int("succeeded", count),
	)
	return count, nil
}

// resolveMerchant picks the delivery profile: the payment's own active
// merchant first, then the default profile, then nothing.
func (d *Dispatcher) resolveMerchant(ctx context.Context, merchantID string) (*domain.MerchantProfile, error) {
	if merchantID != "" {
		merchant, err := d.merchants.GetByID(ctx, merchantID)
		if err == nil && merchant.CanDeliver() {
			return merchant, nil
		}
		if err != nil && !domain.IsNotFoundError(err) {
			return nil, domain.WrapError(domain.ErrorCodeStorageError, "load merchant profile", err)
		}
	}

	fallback, err := d.merchants.GetByCode(ctx, domain.DefaultMerchantCode)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, domain.ErrCallbackConfigMissing.WithDetail("merchant_id", merchantID)
		}
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "load default merchant profile", err)
	}
	if !fallback.CanDeliver() {
		return nil, domain.ErrCallbackConfigMissing.WithDetail("merchant_id", merchantID)
	}
	return fallback, nil
}

// deliverySettings resolves how many attempts a delivery gets and how long
// each attempt may run. Explicit merchant settings win; system config fills
// the gaps; domain defaults apply last.
func (d *Dispatcher) deliverySettings(ctx context.Context, merchant *domain.MerchantProfile) (int, time.Duration) {
	maxAttempts := merchant.MaxAttempts()
	timeout := merchant.Timeout()
	if d.config == nil {
		return maxAttempts, timeout
	}
	if merchant.RetryCount < 1 {
		if n := d.config.GetInt(ctx, sysconfig.KeyCallbackRetryTimes, 0); n > 0 {
			maxAttempts = n
		}
	}
	if merchant.TimeoutSeconds <= 0 {
		if secs := d.config.GetInt(ctx, sysconfig.KeyCallbackTimeout, 0); secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	return maxAttempts, timeout
}

func (d *Dispatcher) deliverOnce(ctx context.Context, payment *domain.PaymentRecord, merchant *domain.MerchantProfile, timeout time.Duration) error {
	signer := signing.New(merchant.SigningKey, signing.WithClock(d.clock))
	signed := signer.Sign(notificationPayload(payment))

	body, err := json.Marshal(signed)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "marshal notification payload", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, merchant.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "build notification request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("X-Payment-System", systemName)
	req.Header.Set("X-Merchant-Id", merchant.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDeliveryFailed, "send notification", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	return domain.ErrDeliveryFailed.
		WithDetail("status_code", resp.StatusCode).
		WithDetail("response", string(snippet))
}

// notificationPayload builds the contractual wire shape. The signer adds
// timestamp, nonce and signature.
func notificationPayload(payment *domain.PaymentRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"orderId":       payment.ID,
		"amount":        payment.Amount.InexactFloat64(),
		"uid":           payment.ResolvedReference,
		"paymentMethod": string(payment.PaymentMethod),
		"status":        payment.Status,
	}
	if payment.CustomerType != "" {
		fields["customerType"] = string(payment.CustomerType)
	}
	if payment.MerchantID != "" {
		fields["merchantId"] = payment.MerchantID
	}
	return fields
}

func (d *Dispatcher) markFailed(ctx context.Context, paymentID string) {
	if err := d.payments.UpdateNotificationStatus(ctx, paymentID, domain.NotificationStatusFailed); err != nil {
		d.logger.Error("failed to record delivery failure",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("delivery interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
