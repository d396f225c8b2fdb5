package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/theinterviewer/backend/internal/credits"
	"github.com/theinterviewer/backend/internal/middleware"
	"github.com/theinterviewer/backend/internal/payments"
)

// PaymentService is the subset of the payment service needed by the handler.
type PaymentService interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, creditAmount int) (*payments.Order, error)
	Verify(ctx context.Context, orderID, paymentID, signature string) (*payments.SettlementResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// PurchaseLimiter throttles order creation per user, on top of the per-IP
// limit the router applies to everything.
type PurchaseLimiter interface {
	Allow(key string) bool
	Remaining(key string) int
}

// PaymentHandler serves /api/v1/payments endpoints.
type PaymentHandler struct {
	Svc     PaymentService
	Limiter PurchaseLimiter
	Logger  *slog.Logger
}

// webhookSignatureHeader carries the HMAC the gateway computes over the raw body.
const webhookSignatureHeader = "X-Gateway-Signature"

// --- POST /api/v1/payments/orders ---

type createOrderRequest struct {
	Credits int `json:"credits"`
}

// CreateOrder handles POST /api/v1/payments/orders.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	key := "payment:" + userID.String()
	if !h.Limiter.Allow(key) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		http.Error(w, `{"error":"too many payment attempts, try again later"}`, http.StatusTooManyRequests)
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.Limiter.Remaining(key)))

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	order, err := h.Svc.CreateOrder(r.Context(), userID, req.Credits)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidCredits):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, credits.ErrUserNotFound):
			http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		case errors.Is(err, payments.ErrGateway):
			h.Logger.Error("gateway order failed", "user_id", userID, "error", err)
			http.Error(w, `{"error":"payment gateway unavailable"}`, http.StatusBadGateway)
		default:
			h.Logger.Error("create order failed", "user_id", userID, "error", err)
			http.Error(w, `{"error":"failed to create order"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// --- POST /api/v1/payments/verify ---

type verifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// Verify handles POST /api/v1/payments/verify, the synchronous settlement
// path racing the webhook.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		http.Error(w, `{"error":"order_id, payment_id and signature are required"}`, http.StatusBadRequest)
		return
	}

	result, err := h.Svc.Verify(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrOrderNotFound):
			http.Error(w, `{"error":"order not found"}`, http.StatusNotFound)
		case errors.Is(err, payments.ErrOrderExpired):
			writeJSON(w, http.StatusBadRequest, payments.SettlementResult{Message: "order expired"})
		case errors.Is(err, payments.ErrInvalidSignature):
			writeJSON(w, http.StatusBadRequest, payments.SettlementResult{Message: "signature verification failed"})
		case errors.Is(err, payments.ErrOrderClosed):
			writeJSON(w, http.StatusConflict, payments.SettlementResult{Message: "order is no longer open"})
		default:
			h.Logger.Error("verify failed", "order_id", req.OrderID, "error", err)
			http.Error(w, `{"error":"verification failed"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- POST /api/v1/payments/webhook ---

// Webhook handles the gateway's payment.captured notifications. The signature
// covers the raw body, so the body must be read before any JSON decoding.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	sig := r.Header.Get(webhookSignatureHeader)
	if err := h.Svc.HandleWebhook(r.Context(), payload, sig); err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
			return
		}
		h.Logger.Error("webhook processing failed", "error", err)
		http.Error(w, `{"error":"webhook processing failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
