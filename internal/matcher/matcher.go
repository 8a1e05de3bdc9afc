// Package matcher resolves incoming payments against live amount
// reservations. Matching never commits an ambiguous result: a single
// candidate is matched automatically, anything else is handed to the
// reconciliation workflow with an advisory suggestion at most.
package matcher

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

var matchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payment_match_outcomes_total",
	Help: "Match decisions by outcome",
}, []string{"outcome"}) // no_match, auto_matched, ambiguous

// Outcome classifies a match decision
type Outcome int

const (
	// OutcomeNoMatch means no live reservation carried the amount
	OutcomeNoMatch Outcome = iota
	// OutcomeAutoMatched means exactly one reservation matched and was committed
	OutcomeAutoMatched
	// OutcomeAmbiguous means several reservations matched; the suggestion is
	// advisory and nothing was committed
	OutcomeAmbiguous
)

// String returns the metric label for the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeAutoMatched:
		return "auto_matched"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "no_match"
	}
}

// Result is a match decision. SuggestedOrderID is set for AutoMatched
// (committed) and Ambiguous (advisory only) outcomes.
type Result struct {
	Outcome          Outcome
	SuggestedOrderID string
	Confidence       int
	CandidateOrderID []string
}

// Matched reports whether the engine has an order suggestion, committed or not
func (r *Result) Matched() bool {
	return r.Outcome != OutcomeNoMatch
}

// Engine matches payments to reservations, sweeping expired reservations
// before every decision
type Engine struct {
	reservations ports.ReservationRepository
	unmatched    ports.UnmatchedRepository
	clock        timeutil.Clock
	logger       *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock
func WithClock(clock timeutil.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates a matching Engine
func New(reservations ports.ReservationRepository, unmatched ports.UnmatchedRepository, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		reservations: reservations,
		unmatched:    unmatched,
		clock:        timeutil.SystemClock{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sweep lazily expires stale pending reservations. It is idempotent and is
// run before every decision, so no background scheduler is needed.
func (e *Engine) Sweep(ctx context.Context) error {
	expired, err := e.reservations.ExpireBefore(ctx, e.clock.Now())
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "expire stale reservations", err)
	}
	if expired > 0 {
		e.logger.Info("expired stale reservations", zap.Int("count", expired))
	}
	return nil
}

// Match decides where an incoming payment belongs.
//
// Zero candidates record an unmatched entry; one candidate commits the
// reservation with confidence 100; several candidates record the full
// candidate list and return the oldest reservation as the advisory
// suggestion with confidence round(100/N), since the oldest order has
// waited longest and is the likeliest to be the one being paid.
func (e *Engine) Match(ctx context.Context, amount decimal.Decimal, method domain.PaymentMethod, paymentID string) (*Result, error) {
	if err := e.Sweep(ctx); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	candidates, err := e.reservations.FindActive(ctx, method, time.Time{}, amount)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "find match candidates", err)
	}
	candidates = liveOnly(candidates, now)

	switch len(candidates) {
	case 0:
		return e.recordNoMatch(ctx, amount, method, paymentID, now)
	case 1:
		return e.commitMatch(ctx, candidates[0], paymentID)
	default:
		return e.recordAmbiguous(ctx, candidates, amount, method, paymentID, now)
	}
}

func (e *Engine) recordNoMatch(ctx context.Context, amount decimal.Decimal, method domain.PaymentMethod, paymentID string, now time.Time) (*Result, error) {
	entry := &domain.UnmatchedEntry{
		PaymentID:     paymentID,
		Amount:        amount,
		PaymentMethod: method,
		Status:        domain.EntryStatusUnmatched,
		CreatedAt:     now,
	}
	if err := e.unmatched.Create(ctx, entry); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "record unmatched payment", err)
	}

	e.logger.Info("no reservation matched payment",
		zap.String("payment_id", paymentID),
		zap.String("amount", amount.String()),
		zap.String("method", string(method)),
	)
	matchOutcomes.WithLabelValues(OutcomeNoMatch.String()).Inc()
	return &Result{Outcome: OutcomeNoMatch}, nil
}

func (e *Engine) commitMatch(ctx context.Context, reservation *domain.AmountReservation, paymentID string) (*Result, error) {
	if err := e.reservations.UpdateStatus(ctx, reservation.OrderID, domain.ReservationStatusMatched); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "commit match", err)
	}

	e.logger.Info("payment auto-matched",
		zap.String("payment_id", paymentID),
		zap.String("order_id", reservation.OrderID),
	)
	matchOutcomes.WithLabelValues(OutcomeAutoMatched.String()).Inc()
	return &Result{
		Outcome:          OutcomeAutoMatched,
		SuggestedOrderID: reservation.OrderID,
		Confidence:       100,
		CandidateOrderID: []string{reservation.OrderID},
	}, nil
}

func (e *Engine) recordAmbiguous(ctx context.Context, candidates []*domain.AmountReservation, amount decimal.Decimal, method domain.PaymentMethod, paymentID string, now time.Time) (*Result, error) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	candidateIDs := make([]string, len(candidates))
	for i, c := range candidates {
		candidateIDs[i] = c.OrderID
	}
	confidence := int(math.Round(100 / float64(len(candidates))))

	entry := &domain.UnmatchedEntry{
		PaymentID:        paymentID,
		Amount:           amount,
		PaymentMethod:    method,
		CandidateOrderID: candidateIDs,
		Status:           domain.EntryStatusUnmatched,
		CreatedAt:        now,
	}
	if err := e.unmatched.Create(ctx, entry); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "record ambiguous payment", err)
	}

	e.logger.Info("ambiguous match, deferring to reconciliation",
		zap.String("payment_id", paymentID),
		zap.Int("candidates", len(candidates)),
		zap.String("suggested_order_id", candidates[0].OrderID),
		zap.Int("confidence", confidence),
	)
	matchOutcomes.WithLabelValues(OutcomeAmbiguous.String()).Inc()
	return &Result{
		Outcome:          OutcomeAmbiguous,
		SuggestedOrderID: candidates[0].OrderID,
		Confidence:       confidence,
		CandidateOrderID: candidateIDs,
	}, nil
}

// liveOnly filters out reservations whose window has elapsed. The sweep has
// already expired them in the store, but a stale pending row read before the
// sweep committed must still never match.
func liveOnly(reservations []*domain.AmountReservation, now time.Time) []*domain.AmountReservation {
	live := reservations[:0]
	for _, r := range reservations {
		if r.IsLiveAt(now) {
			live = append(live, r)
		}
	}
	return live
}
