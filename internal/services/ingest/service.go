// Package ingest wires the pipeline for one incoming notification: parse the
// raw text, match it against live reservations, persist the payment record,
// and hand the result to the callback dispatcher.
package ingest

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
	"github.com/lumipay/reconciliation-service/internal/matcher"
	"github.com/lumipay/reconciliation-service/internal/parser"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

// Notifier delivers the merchant callback for a payment
type Notifier interface {
	Notify(ctx context.Context, payment *domain.PaymentRecord) error
}

// Result is the outcome of ingesting one notification
type Result struct {
	PaymentID  string
	Outcome    matcher.Outcome
	Matched    bool
	OrderRef   string
	Confidence int
}

// Service runs the ingest pipeline
type Service struct {
	parser   *parser.Parser
	engine   *matcher.Engine
	payments ports.PaymentRepository
	notifier Notifier
	clock    timeutil.Clock
	logger   *zap.Logger
	newID    func() string
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the clock used for ReceivedAt
func WithClock(clock timeutil.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator overrides payment id generation for deterministic tests
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// New creates an ingest Service
func New(p *parser.Parser, engine *matcher.Engine, payments ports.PaymentRepository, notifier Notifier, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		parser:   p,
		engine:   engine,
		payments: payments,
		notifier: notifier,
		clock:    timeutil.SystemClock{},
		logger:   logger,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest processes one raw notification text end to end. A parse failure is
// returned as a typed error; a payment that parses is always recorded, even
// when nothing matches. Callback delivery failures are logged but do not
// fail the ingest: the dispatcher has already marked the notification for
// retry.
func (s *Service) Ingest(ctx context.Context, rawText string) (*Result, error) {
	info, err := s.parser.Parse(rawText)
	if err != nil {
		return nil, err
	}

	paymentID := s.newID()
	record := &domain.PaymentRecord{
		ID:                 paymentID,
		Amount:             info.Amount,
		PaymentMethod:      info.PaymentMethod,
		RawText:            rawText,
		ResolvedReference:  info.Reference,
		CustomerType:       info.CustomerType,
		Status:             domain.PaymentStatusSuccess,
		NotificationStatus: domain.NotificationStatusPending,
		ReceivedAt:         s.clock.Now(),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "persist payment record", err)
	}

	match, err := s.engine.Match(ctx, info.Amount, info.PaymentMethod, paymentID)
	if err != nil {
		return nil, err
	}

	// A reference parsed from the text wins; a synthetic one defers to the
	// engine, and only a committed match may replace it.
	resolvedRef := info.Reference
	if info.Synthetic && match.Outcome == matcher.OutcomeAutoMatched {
		resolvedRef = match.SuggestedOrderID
	}
	if match.Matched() {
		if err := s.payments.UpdateResolution(ctx, paymentID, resolvedRef, match.Confidence); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeStorageError, "record match resolution", err)
		}
		record.ResolvedReference = resolvedRef
		record.SetConfidence(match.Confidence)
	}

	s.logger.Info("payment ingested",
		zap.String("payment_id", paymentID),
		zap.String("method", string(info.PaymentMethod)),
		zap.String("amount", info.Amount.String()),
		zap.String("outcome", match.Outcome.String()),
	)

	if err := s.notifier.Notify(ctx, record); err != nil {
		s.logger.Warn("merchant notification not delivered",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}

	return &Result{
		PaymentID:  paymentID,
		Outcome:    match.Outcome,
		Matched:    match.Matched(),
		OrderRef:   match.SuggestedOrderID,
		Confidence: match.Confidence,
	}, nil
}
