// Package handlers exposes the reconciliation engine over HTTP: the webhook
// that receives raw notification text, the operator actions, and the inbound
// merchant callback verification endpoint.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/allocator"
	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
	"github.com/lumipay/reconciliation-service/internal/reconcile"
	"github.com/lumipay/reconciliation-service/internal/services/ingest"
	"github.com/lumipay/reconciliation-service/internal/signing"
	"github.com/lumipay/reconciliation-service/pkg/middleware"
)

const maxBodyBytes = 64 * 1024

// Retrier redelivers merchant notifications, one payment or all of them
type Retrier interface {
	RetryFailed(ctx context.Context) (int, error)
	NotifyByID(ctx context.Context, paymentID string) error
}

// API holds the HTTP surface of the engine
type API struct {
	ingest    *ingest.Service
	workflow  *reconcile.Workflow
	allocator *allocator.Allocator
	retrier   Retrier
	merchants ports.MerchantRepository
	limiter   *middleware.RateLimiter
	logger    *zap.Logger
}

// New creates the API
func New(ingestSvc *ingest.Service, workflow *reconcile.Workflow, alloc *allocator.Allocator, retrier Retrier, merchants ports.MerchantRepository, limiter *middleware.RateLimiter, logger *zap.Logger) *API {
	return &API{
		ingest:    ingestSvc,
		workflow:  workflow,
		allocator: alloc,
		retrier:   retrier,
		merchants: merchants,
		limiter:   limiter,
		logger:    logger,
	}
}

// Router builds the HTTP mux. Only the public webhook is rate limited; the
// operator endpoints sit behind whatever fronts the admin surface.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /webhook", a.limiter.Middleware(http.HandlerFunc(a.handleWebhook)))
	mux.HandleFunc("POST /api/orders", a.handleCreateOrder)
	mux.HandleFunc("POST /api/confirm-match", a.handleConfirmMatch)
	mux.HandleFunc("POST /api/ignore-payment", a.handleIgnorePayment)
	mux.HandleFunc("POST /api/retry-callbacks", a.handleRetryCallbacks)
	mux.HandleFunc("POST /api/merchant-callback", a.handleMerchantCallback)
	mux.HandleFunc("GET /api/unmatched", a.handleListUnmatched)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type webhookRequest struct {
	Text string `json:"text"`
}

type webhookResponse struct {
	PaymentID  string `json:"payment_id"`
	Matched    bool   `json:"matched"`
	OrderRef   string `json:"order_ref,omitempty"`
	Confidence int    `json:"confidence,omitempty"`
	Outcome    string `json:"outcome"`
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		a.writeError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "text is required"))
		return
	}

	result, err := a.ingest.Ingest(r.Context(), req.Text)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, webhookResponse{
		PaymentID:  result.PaymentID,
		Matched:    result.Matched,
		OrderRef:   result.OrderRef,
		Confidence: result.Confidence,
		Outcome:    result.Outcome.String(),
	})
}

type createOrderRequest struct {
	OrderID        string `json:"order_id"`
	Amount         string `json:"amount"`
	PaymentMethod  string `json:"payment_method"`
	AllowSurcharge bool   `json:"allow_surcharge"`
}

type createOrderResponse struct {
	OrderID        string `json:"order_id"`
	FinalAmount    string `json:"final_amount"`
	SurchargeCents int64  `json:"surcharge_cents"`
}

// handleCreateOrder reserves a collision-avoided payable amount for a new
// order. The returned final amount is what the payer is asked to transfer.
func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.OrderID == "" || req.Amount == "" {
		a.writeError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "order_id and amount are required"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		a.writeError(w, domain.ErrValidationAmountInvalid.WithDetail("amount", req.Amount))
		return
	}

	allocation, err := a.allocator.Allocate(r.Context(), req.OrderID, amount, domain.PaymentMethod(req.PaymentMethod), req.AllowSurcharge)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:        allocation.OrderID,
		FinalAmount:    allocation.FinalAmount.String(),
		SurchargeCents: allocation.SurchargeCents,
	})
}

type confirmRequest struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
}

func (a *API) handleConfirmMatch(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.PaymentID == "" || req.OrderID == "" {
		a.writeError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "payment_id and order_id are required"))
		return
	}
	if err := a.workflow.ConfirmMatch(r.Context(), req.PaymentID, req.OrderID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"confirmed": true})
}

type ignoreRequest struct {
	PaymentID string `json:"payment_id"`
}

func (a *API) handleIgnorePayment(w http.ResponseWriter, r *http.Request) {
	var req ignoreRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.PaymentID == "" {
		a.writeError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "payment_id is required"))
		return
	}
	if err := a.workflow.IgnorePayment(r.Context(), req.PaymentID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"ignored": true})
}

type retryRequest struct {
	PaymentID string `json:"payment_id"`
}

// handleRetryCallbacks redelivers one payment's notification when a
// payment_id is supplied, otherwise everything still pending or failed.
func (a *API) handleRetryCallbacks(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	// The body is optional; an empty or absent one means retry everything.
	_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)

	if req.PaymentID != "" {
		if err := a.retrier.NotifyByID(r.Context(), req.PaymentID); err != nil {
			a.writeError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"succeeded": 1})
		return
	}

	count, err := a.retrier.RetryFailed(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"succeeded": count})
}

func (a *API) handleListUnmatched(w http.ResponseWriter, r *http.Request) {
	entries, err := a.workflow.ListOpen(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleMerchantCallback verifies an inbound signed merchant callback. The
// merchant is identified by the X-Merchant-Id header, falling back to the
// default profile.
func (a *API) handleMerchantCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unreadable request body"))
		return
	}

	merchant, err := a.resolveCallbackMerchant(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	fields, err := signing.New(merchant.SigningKey).VerifyCallback(body)
	if err != nil {
		a.logger.Warn("merchant callback rejected",
			zap.String("merchant_id", merchant.ID),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"fields": fields,
	})
}

func (a *API) resolveCallbackMerchant(r *http.Request) (*domain.MerchantProfile, error) {
	if id := r.Header.Get("X-Merchant-Id"); id != "" {
		return a.merchants.GetByID(r.Context(), id)
	}
	return a.merchants.GetByCode(r.Context(), domain.DefaultMerchantCode)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		a.writeError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "request body is not valid JSON"))
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	code := domain.GetErrorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	message := err.Error()
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	a.writeJSON(w, status, errorResponse{Code: string(code), Message: message})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeParseFailed,
		domain.ErrorCodeValidationFailed,
		domain.ErrorCodeValidationAmountInvalid:
		return http.StatusBadRequest
	case domain.ErrorCodeSignatureInvalid,
		domain.ErrorCodeSignatureMissing,
		domain.ErrorCodeTimestampExpired:
		return http.StatusUnauthorized
	case domain.ErrorCodeReservationNotFound,
		domain.ErrorCodeEntryNotFound,
		domain.ErrorCodeMerchantNotFound,
		domain.ErrorCodePaymentNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeEntryAlreadyProcessed,
		domain.ErrorCodeEntryCandidateInvalid,
		domain.ErrorCodeReservationExists:
		return http.StatusConflict
	case domain.ErrorCodeCallbackConfigMissing,
		domain.ErrorCodeCallbackURLInvalid:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
