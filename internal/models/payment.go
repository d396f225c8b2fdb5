package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses. REFUNDED is reserved: no code path transitions to it yet
// (refund flow pending product clarification).
const (
	PaymentStatusCreated  = "CREATED"
	PaymentStatusSuccess  = "SUCCESS"
	PaymentStatusFailed   = "FAILED"
	PaymentStatusRefunded = "REFUNDED"
)

// Payment is one gateway order. Rows are never deleted; status moves
// CREATED -> SUCCESS exactly once (settlement) or CREATED -> FAILED
// (bad signature, expiry, reaper sweep).
type Payment struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	GatewayOrderID   string     `json:"gateway_order_id"`
	GatewayPaymentID *string    `json:"gateway_payment_id,omitempty"`
	GatewaySignature *string    `json:"-"`
	Credits          int        `json:"credits"`
	AmountMinor      int64      `json:"amount_minor"`
	Currency         string     `json:"currency"`
	IdempotencyKey   string     `json:"-"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
