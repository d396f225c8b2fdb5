package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/theinterviewer/backend/internal/credits"
	"github.com/theinterviewer/backend/internal/models"
)

// Purchase bounds, in credits.
const (
	MinPurchaseCredits = 25
	MaxPurchaseCredits = 10000
)

// DefaultExpiryWindow is how long an order stays settleable after creation.
const DefaultExpiryWindow = 15 * time.Minute

// MinorUnitsPerCredit converts credits to the gateway's minor currency units
// (1 credit = 1 currency unit = 100 minor units).
const MinorUnitsPerCredit = 100

var (
	ErrInvalidCredits   = fmt.Errorf("credits must be between %d and %d", MinPurchaseCredits, MaxPurchaseCredits)
	ErrOrderNotFound    = errors.New("payment order not found")
	ErrOrderExpired     = errors.New("payment order expired")
	ErrOrderClosed      = errors.New("payment order is no longer open")
	ErrInvalidSignature = errors.New("invalid payment signature")
)

// webhookEventCaptured is the only gateway event that settles an order.
const webhookEventCaptured = "payment.captured"

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PaymentRepo is the minimal payment repository interface for the service.
type PaymentRepo interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
	ClaimSuccessTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, gatewayPaymentID string, signature *string, completedAt time.Time) (bool, error)
}

// Ledger is the slice of the credit ledger the settlement engine needs.
type Ledger interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	CreditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, txType, description string, ref credits.Ref) (int, error)
}

// Order is what the client needs to open the gateway checkout.
type Order struct {
	GatewayOrderID string `json:"gateway_order_id"`
	AmountMinor    int64  `json:"amount"`
	Currency       string `json:"currency"`
	Credits        int    `json:"credits"`
	KeyID          string `json:"key_id"`
}

// SettlementResult reports the outcome of a settlement attempt. A repeated
// settle of an already-successful order yields Success with the originally
// credited amount.
type SettlementResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	CreditsAdded int    `json:"credits_added"`
	NewBalance   int    `json:"new_balance"`
}

// Service creates gateway orders and settles them exactly once. The
// synchronous verify call and the asynchronous webhook both funnel into
// settle, whose compare-and-swap on payment status makes the race benign.
type Service struct {
	pool     TxBeginner
	payments PaymentRepo
	ledger   Ledger
	gateway  Gateway

	keyID         string
	keySecret     []byte
	webhookSecret []byte
	currency      string
	expiryWindow  time.Duration
	log           *slog.Logger
}

func NewService(pool TxBeginner, payments PaymentRepo, ledger Ledger, gateway Gateway,
	keyID, keySecret, webhookSecret, currency string, expiryWindow time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if expiryWindow <= 0 {
		expiryWindow = DefaultExpiryWindow
	}
	return &Service{
		pool:          pool,
		payments:      payments,
		ledger:        ledger,
		gateway:       gateway,
		keyID:         keyID,
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
		currency:      currency,
		expiryWindow:  expiryWindow,
		log:           log,
	}
}

// CreateOrder validates the purchase, creates the gateway order, and persists
// a CREATED payment row. The row is written only after the gateway call
// succeeds, so a gateway failure or timeout leaves nothing behind.
func (s *Service) CreateOrder(ctx context.Context, userID uuid.UUID, creditAmount int) (*Order, error) {
	if creditAmount < MinPurchaseCredits || creditAmount > MaxPurchaseCredits {
		return nil, ErrInvalidCredits
	}
	if _, err := s.ledger.GetBalance(ctx, userID); err != nil {
		return nil, err
	}

	amountMinor := int64(creditAmount) * MinorUnitsPerCredit
	// Gateway receipts are capped at 40 chars.
	receipt := fmt.Sprintf("rcpt_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])

	orderID, err := s.gateway.CreateOrder(ctx, amountMinor, s.currency, receipt)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		UserID:         userID,
		GatewayOrderID: orderID,
		Credits:        creditAmount,
		AmountMinor:    amountMinor,
		Currency:       s.currency,
		IdempotencyKey: uuid.NewString(),
		Status:         models.PaymentStatusCreated,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.log.Info("payment order created", "order_id", orderID, "user_id", userID, "credits", creditAmount)
	return &Order{
		GatewayOrderID: orderID,
		AmountMinor:    amountMinor,
		Currency:       s.currency,
		Credits:        creditAmount,
		KeyID:          s.keyID,
	}, nil
}

// Verify is the synchronous settlement path: expiry check, idempotency check,
// signature check, then the claim-and-credit transaction.
func (s *Service) Verify(ctx context.Context, orderID, paymentID, signature string) (*SettlementResult, error) {
	payment, err := s.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if err := s.failIfExpired(ctx, payment); err != nil {
		return nil, err
	}

	if payment.Status == models.PaymentStatusSuccess {
		return s.alreadySettled(ctx, payment)
	}

	if !VerifySignature(s.keySecret, orderID, paymentID, signature) {
		s.log.Error("invalid payment signature", "order_id", orderID)
		if err := s.payments.MarkFailed(ctx, payment.ID); err != nil {
			s.log.Error("mark payment failed", "order_id", orderID, "error", err)
		}
		return nil, ErrInvalidSignature
	}

	return s.settle(ctx, payment, paymentID, &signature)
}

// HandleWebhook is the asynchronous settlement path. It authenticates the
// webhook envelope, then reuses the same claim-and-credit routine as Verify;
// whichever path claims the status first wins and the other is a no-op.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !VerifyWebhookSignature(s.webhookSecret, payload, signature) {
		s.log.Error("invalid webhook signature")
		return ErrInvalidSignature
	}

	var event struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string `json:"id"`
					OrderID string `json:"order_id"`
				} `json:"entity"`
			} `json:"payment"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("invalid webhook payload: %w", err)
	}

	if event.Event != webhookEventCaptured {
		s.log.Info("ignoring webhook event", "event", event.Event)
		return nil
	}

	entity := event.Payload.Payment.Entity
	payment, err := s.payments.GetByOrderID(ctx, entity.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Not an order of ours; acknowledge so the gateway stops retrying.
			s.log.Warn("webhook for unknown order", "order_id", entity.OrderID)
			return nil
		}
		return err
	}

	if payment.Status == models.PaymentStatusSuccess {
		s.log.Info("webhook for already settled order", "order_id", entity.OrderID)
		return nil
	}

	_, err = s.settle(ctx, payment, entity.ID, nil)
	switch {
	case err == nil:
		s.log.Info("webhook settled payment", "order_id", entity.OrderID)
		return nil
	case errors.Is(err, ErrOrderClosed):
		// Already failed (reaper sweep or signature failure); terminal, so ack.
		s.log.Warn("webhook for closed order", "order_id", entity.OrderID)
		return nil
	default:
		return err
	}
}

// settle claims the CREATED -> SUCCESS transition and applies the purchase
// credit in one transaction. Losing the claim to a concurrent settler of a
// now-successful order is reported as the idempotent success case.
func (s *Service) settle(ctx context.Context, payment *models.Payment, gatewayPaymentID string, signature *string) (*SettlementResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	claimed, err := s.payments.ClaimSuccessTx(ctx, tx, payment.ID, gatewayPaymentID, signature, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.payments.GetByOrderID(ctx, payment.GatewayOrderID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.PaymentStatusSuccess {
			return s.alreadySettled(ctx, current)
		}
		return nil, ErrOrderClosed
	}

	newBalance, err := s.ledger.CreditTx(ctx, tx, payment.UserID, payment.Credits,
		models.TxTypePurchase, "Credit purchase - Order: "+payment.GatewayOrderID,
		credits.Ref{PaymentID: &payment.ID})
	if err != nil {
		// Rollback undoes the status claim; the order stays CREATED and the
		// caller can retry.
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("payment settled", "order_id", payment.GatewayOrderID, "user_id", payment.UserID, "credits", payment.Credits)
	return &SettlementResult{
		Success:      true,
		Message:      "Payment successful",
		CreditsAdded: payment.Credits,
		NewBalance:   newBalance,
	}, nil
}

// failIfExpired enforces the authoritative expiry check: a stale order is
// moved to FAILED (if still open) and never settles, valid signature or not.
func (s *Service) failIfExpired(ctx context.Context, payment *models.Payment) error {
	if time.Since(payment.CreatedAt) <= s.expiryWindow {
		return nil
	}
	s.log.Error("payment order expired", "order_id", payment.GatewayOrderID, "created_at", payment.CreatedAt)
	if payment.Status == models.PaymentStatusCreated {
		if err := s.payments.MarkFailed(ctx, payment.ID); err != nil {
			s.log.Error("mark expired payment failed", "order_id", payment.GatewayOrderID, "error", err)
		}
	}
	return ErrOrderExpired
}

func (s *Service) alreadySettled(ctx context.Context, payment *models.Payment) (*SettlementResult, error) {
	balance, err := s.ledger.GetBalance(ctx, payment.UserID)
	if err != nil {
		return nil, err
	}
	return &SettlementResult{
		Success:      true,
		Message:      "Payment already processed",
		CreditsAdded: payment.Credits,
		NewBalance:   balance,
	}, nil
}
