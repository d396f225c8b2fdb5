package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/theinterviewer/backend/internal/credits"
	"github.com/theinterviewer/backend/internal/models"
)

const (
	testKeyID         = "key_test"
	testKeySecret     = "per-payment-secret"
	testWebhookSecret = "webhook-secret"
)

// ---------------------------------------------------------------------------
// In-memory mocks for PaymentRepo, Ledger, and Gateway.
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- PaymentRepo mock. ClaimSuccessTx is a real CAS under the mutex. ---

type mockPayments struct {
	mu       sync.Mutex
	byOrder map[string]*models.Payment
}

func newMockPayments(ps ...*models.Payment) *mockPayments {
	m := &mockPayments{byOrder: make(map[string]*models.Payment)}
	for _, p := range ps {
		cp := *p
		m.byOrder[p.GatewayOrderID] = &cp
	}
	return m
}

func (m *mockPayments) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrder[p.GatewayOrderID]; ok {
		return fmt.Errorf("duplicate gateway_order_id")
	}
	cp := *p
	cp.CreatedAt = time.Now()
	m.byOrder[p.GatewayOrderID] = &cp
	p.CreatedAt = cp.CreatedAt
	return nil
}

func (m *mockPayments) GetByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byOrder[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *mockPayments) MarkFailed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byOrder {
		if p.ID == id && p.Status == models.PaymentStatusCreated {
			p.Status = models.PaymentStatusFailed
		}
	}
	return nil
}

func (m *mockPayments) ClaimSuccessTx(_ context.Context, _ pgx.Tx, id uuid.UUID, gatewayPaymentID string, signature *string, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byOrder {
		if p.ID != id {
			continue
		}
		if p.Status != models.PaymentStatusCreated {
			return false, nil
		}
		p.Status = models.PaymentStatusSuccess
		p.GatewayPaymentID = &gatewayPaymentID
		p.GatewaySignature = signature
		p.CompletedAt = &completedAt
		return true, nil
	}
	return false, fmt.Errorf("payment %s not found", id)
}

func (m *mockPayments) get(orderID string) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byOrder[orderID]
	cp := *p
	return &cp
}

// --- Ledger mock ---

type mockLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	entries  []*models.CreditTransaction
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[uuid.UUID]int)}
}

func (m *mockLedger) GetBalance(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return 0, credits.ErrUserNotFound
	}
	return b, nil
}

func (m *mockLedger) CreditTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount int, txType, description string, ref credits.Ref) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		return 0, credits.ErrUserNotFound
	}
	m.balances[userID] += amount
	m.entries = append(m.entries, &models.CreditTransaction{
		ID: uuid.New(), UserID: userID, Delta: amount, BalanceAfter: m.balances[userID],
		Type: txType, Description: description, PaymentID: ref.PaymentID,
	})
	return m.balances[userID], nil
}

func (m *mockLedger) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- Gateway mock ---

type mockGateway struct {
	mu      sync.Mutex
	fail    bool
	orders int
}

func (m *mockGateway) CreateOrder(_ context.Context, _ int64, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", fmt.Errorf("%w: connection refused", ErrGateway)
	}
	m.orders++
	return fmt.Sprintf("order_%d", m.orders), nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type fixture struct {
	svc      *Service
	payments *mockPayments
	ledger   *mockLedger
	gateway  *mockGateway
}

func newFixture(ps ...*models.Payment) *fixture {
	payments := newMockPayments(ps...)
	ledger := newMockLedger()
	gateway := &mockGateway{}
	svc := NewService(mockPool{}, payments, ledger, gateway,
		testKeyID, testKeySecret, testWebhookSecret, "INR", DefaultExpiryWindow,
		slog.New(slog.DiscardHandler))
	return &fixture{svc: svc, payments: payments, ledger: ledger, gateway: gateway}
}

func (f *fixture) addUser(balance int) uuid.UUID {
	id := uuid.New()
	f.ledger.mu.Lock()
	f.ledger.balances[id] = balance
	f.ledger.mu.Unlock()
	return id
}

func pendingPayment(userID uuid.UUID, orderID string, creditAmount int, age time.Duration) *models.Payment {
	return &models.Payment{
		ID:             uuid.New(),
		UserID:         userID,
		GatewayOrderID: orderID,
		Credits:        creditAmount,
		AmountMinor:    int64(creditAmount) * MinorUnitsPerCredit,
		Currency:       "INR",
		IdempotencyKey: uuid.NewString(),
		Status:         models.PaymentStatusCreated,
		CreatedAt:      time.Now().Add(-age),
	}
}

func capturedWebhook(t *testing.T, orderID, paymentID string) (payload []byte, signature string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{"id": paymentID, "order_id": orderID},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook payload: %v", err)
	}
	return payload, ComputeWebhookSignature([]byte(testWebhookSecret), payload)
}

// ---------------------------------------------------------------------------
// CreateOrder
// ---------------------------------------------------------------------------

func TestCreateOrder(t *testing.T) {
	f := newFixture()
	userID := f.addUser(0)

	order, err := f.svc.CreateOrder(context.Background(), userID, 50)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.AmountMinor != 5000 {
		t.Errorf("amount: got %d minor units, want 5000", order.AmountMinor)
	}
	if order.Currency != "INR" || order.Credits != 50 || order.KeyID != testKeyID {
		t.Errorf("unexpected order: %+v", order)
	}

	p := f.payments.get(order.GatewayOrderID)
	if p.Status != models.PaymentStatusCreated {
		t.Errorf("payment status: got %s, want CREATED", p.Status)
	}
	if p.IdempotencyKey == "" {
		t.Error("payment should carry an idempotency key")
	}
	if p.UserID != userID {
		t.Error("payment should belong to the purchasing user")
	}
}

func TestCreateOrder_Bounds(t *testing.T) {
	f := newFixture()
	userID := f.addUser(0)

	for _, n := range []int{0, 10, 24, 10001} {
		if _, err := f.svc.CreateOrder(context.Background(), userID, n); !errors.Is(err, ErrInvalidCredits) {
			t.Errorf("CreateOrder(%d): expected ErrInvalidCredits, got %v", n, err)
		}
	}
	// Bounds are inclusive.
	for _, n := range []int{25, 10000} {
		if _, err := f.svc.CreateOrder(context.Background(), userID, n); err != nil {
			t.Errorf("CreateOrder(%d): %v", n, err)
		}
	}
}

func TestCreateOrder_UnknownUser(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.CreateOrder(context.Background(), uuid.New(), 50); !errors.Is(err, credits.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateOrder_GatewayFailureLeavesNoRow(t *testing.T) {
	f := newFixture()
	userID := f.addUser(0)
	f.gateway.fail = true

	if _, err := f.svc.CreateOrder(context.Background(), userID, 50); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	f.payments.mu.Lock()
	n := len(f.payments.byOrder)
	f.payments.mu.Unlock()
	if n != 0 {
		t.Errorf("gateway failure must not persist a payment row, found %d", n)
	}
}

// ---------------------------------------------------------------------------
// Verify
// ---------------------------------------------------------------------------

func TestVerify(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, 5*time.Minute)
	f := newFixture(p)
	f.ledger.balances[userID] = 75

	sig := ComputeSignature([]byte(testKeySecret), "order_1", "pay_1")
	res, err := f.svc.Verify(context.Background(), "order_1", "pay_1", sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Success || res.CreditsAdded != 50 || res.NewBalance != 125 {
		t.Errorf("unexpected result: %+v", res)
	}

	stored := f.payments.get("order_1")
	if stored.Status != models.PaymentStatusSuccess {
		t.Errorf("status: got %s, want SUCCESS", stored.Status)
	}
	if stored.GatewayPaymentID == nil || *stored.GatewayPaymentID != "pay_1" {
		t.Error("gateway payment id not recorded")
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at not recorded")
	}
	if n := f.ledger.entryCount(); n != 1 {
		t.Errorf("ledger entries: got %d, want 1", n)
	}
}

func TestVerify_SecondCallIsIdempotent(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, time.Minute)
	f := newFixture(p)
	f.ledger.balances[userID] = 0

	sig := ComputeSignature([]byte(testKeySecret), "order_1", "pay_1")
	if _, err := f.svc.Verify(context.Background(), "order_1", "pay_1", sig); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	res, err := f.svc.Verify(context.Background(), "order_1", "pay_1", sig)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if !res.Success || res.CreditsAdded != 50 || res.NewBalance != 50 {
		t.Errorf("unexpected idempotent result: %+v", res)
	}
	if n := f.ledger.entryCount(); n != 1 {
		t.Errorf("second verify must not credit again: %d entries", n)
	}
}

func TestVerify_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Verify(context.Background(), "order_missing", "pay_1", "sig"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestVerify_ExpiredOrderRejectedDespiteValidSignature(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, 16*time.Minute)
	f := newFixture(p)
	f.ledger.balances[userID] = 0

	sig := ComputeSignature([]byte(testKeySecret), "order_1", "pay_1")
	if _, err := f.svc.Verify(context.Background(), "order_1", "pay_1", sig); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}
	if got := f.payments.get("order_1").Status; got != models.PaymentStatusFailed {
		t.Errorf("expired order status: got %s, want FAILED", got)
	}
	if n := f.ledger.entryCount(); n != 0 {
		t.Errorf("expired order must not credit: %d entries", n)
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, time.Minute)
	f := newFixture(p)
	f.ledger.balances[userID] = 0

	if _, err := f.svc.Verify(context.Background(), "order_1", "pay_1", "deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if got := f.payments.get("order_1").Status; got != models.PaymentStatusFailed {
		t.Errorf("order status after bad signature: got %s, want FAILED", got)
	}
	if n := f.ledger.entryCount(); n != 0 {
		t.Errorf("bad signature must not credit: %d entries", n)
	}
}

func TestVerify_FailedOrderStaysClosed(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, time.Minute)
	p.Status = models.PaymentStatusFailed
	f := newFixture(p)
	f.ledger.balances[userID] = 0

	sig := ComputeSignature([]byte(testKeySecret), "order_1", "pay_1")
	if _, err := f.svc.Verify(context.Background(), "order_1", "pay_1", sig); !errors.Is(err, ErrOrderClosed) {
		t.Errorf("expected ErrOrderClosed, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

func TestHandleWebhook_Settles(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, time.Minute)
	f := newFixture(p)
	f.ledger.balances[userID] = 10

	payload, sig := capturedWebhook(t, "order_1", "pay_1")
	if err := f.svc.HandleWebhook(context.Background(), payload, sig); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	stored := f.payments.get("order_1")
	if stored.Status != models.PaymentStatusSuccess {
		t.Errorf("status: got %s, want SUCCESS", stored.Status)
	}
	if b, _ := f.ledger.GetBalance(context.Background(), userID); b != 60 {
		t.Errorf("balance: got %d, want 60", b)
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newFixture()
	payload, _ := capturedWebhook(t, "order_1", "pay_1")
	if err := f.svc.HandleWebhook(context.Background(), payload, "bad"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestHandleWebhook_AfterVerifyIsNoOp(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, time.Minute)
	f := newFixture(p)
	f.ledger.balances[userID] = 0

	sig := ComputeSignature([]byte(testKeySecret), "order_1", "pay_1")
	if _, err := f.svc.Verify(context.Background(), "order_1", "pay_1", sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	payload, whSig := capturedWebhook(t, "order_1", "pay_1")
	if err := f.svc.HandleWebhook(context.Background(), payload, whSig); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if n := f.ledger.entryCount(); n != 1 {
		t.Errorf("webhook after verify must not credit again: %d entries", n)
	}
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	userID := uuid.New()
	p := pendingPayment(userID, "order_1", 50, time.Minute)
	f := newFixture(p)
	f.ledger.balances[userID] = 0

	payload, err := json.Marshal(map[string]any{"event": "payment.failed"})
	if err != nil {
		t.Fatal(err)
	}
	sig := ComputeWebhookSignature([]byte(testWebhookSecret), payload)
	if err := f.svc.HandleWebhook(context.Background(), payload, sig); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if got := f.payments.get("order_1").Status; got != models.PaymentStatusCreated {
		t.Errorf("non-captured event must not settle: status %s", got)
	}
}

func TestHandleWebhook_UnknownOrderAcked(t *testing.T) {
	f := newFixture()
	payload, sig := capturedWebhook(t, "order_elsewhere", "pay_1")
	if err := f.svc.HandleWebhook(context.Background(), payload, sig); err != nil {
		t.Errorf("unknown order should be acked, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Race: verify and webhook settle concurrently
// ---------------------------------------------------------------------------

func TestConcurrentVerifyAndWebhook(t *testing.T) {
	for i := 0; i < 50; i++ {
		userID := uuid.New()
		p := pendingPayment(userID, "order_1", 50, time.Minute)
		f := newFixture(p)
		f.ledger.balances[userID] = 0

		sig := ComputeSignature([]byte(testKeySecret), "order_1", "pay_1")
		payload, whSig := capturedWebhook(t, "order_1", "pay_1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Verify(context.Background(), "order_1", "pay_1", sig); err != nil {
				t.Errorf("Verify: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := f.svc.HandleWebhook(context.Background(), payload, whSig); err != nil {
				t.Errorf("HandleWebhook: %v", err)
			}
		}()
		wg.Wait()

		if b, _ := f.ledger.GetBalance(context.Background(), userID); b != 50 {
			t.Fatalf("iteration %d: balance %d, want exactly one credit of 50", i, b)
		}
		if n := f.ledger.entryCount(); n != 1 {
			t.Fatalf("iteration %d: %d ledger entries, want 1", i, n)
		}
	}
}
