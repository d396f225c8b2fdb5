package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction types. A PURCHASE entry always references a Payment.
const (
	TxTypePurchase           = "PURCHASE"
	TxTypeInterviewDeduction = "INTERVIEW_DEDUCTION"
	TxTypeRefund             = "REFUND"
	TxTypeBonus              = "BONUS"
	TxTypeAdminAdjustment    = "ADMIN_ADJUSTMENT"
)

// CreditTransaction is an append-only audit record of one balance change.
// Delta is signed; BalanceAfter snapshots the balance the change produced.
type CreditTransaction struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Delta        int        `json:"delta"`
	BalanceAfter int        `json:"balance_after"`
	Type         string     `json:"type"`
	Description  string     `json:"description"`
	PaymentID    *uuid.UUID `json:"payment_id,omitempty"`
	SessionID    *uuid.UUID `json:"session_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
