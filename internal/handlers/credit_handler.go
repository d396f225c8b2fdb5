package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/theinterviewer/backend/internal/credits"
	"github.com/theinterviewer/backend/internal/middleware"
	"github.com/theinterviewer/backend/internal/models"
)

// recentHistoryLimit caps the lightweight history endpoint.
const recentHistoryLimit = 10

// BalanceReader is the slice of the credit ledger the handler needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
}

// HistoryRepo lists ledger entries, newest first.
type HistoryRepo interface {
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

// CreditHandler serves /api/v1/credits endpoints.
type CreditHandler struct {
	Ledger  BalanceReader
	History HistoryRepo
	Logger  *slog.Logger
}

// Balance handles GET /api/v1/credits/balance.
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	balance, err := h.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, credits.ErrUserNotFound) {
			http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get balance failed", "user_id", userID, "error", err)
		http.Error(w, `{"error":"failed to fetch balance"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

// TransactionHistory handles GET /api/v1/credits/history.
func (h *CreditHandler) TransactionHistory(w http.ResponseWriter, r *http.Request) {
	h.listHistory(w, r, 0)
}

// RecentTransactions handles GET /api/v1/credits/history/recent.
func (h *CreditHandler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	h.listHistory(w, r, recentHistoryLimit)
}

func (h *CreditHandler) listHistory(w http.ResponseWriter, r *http.Request, limit int) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	txs, err := h.History.ListByUserID(r.Context(), userID, limit)
	if err != nil {
		h.Logger.Error("list transactions failed", "user_id", userID, "error", err)
		http.Error(w, `{"error":"failed to fetch transactions"}`, http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []*models.CreditTransaction{}
	}

	writeJSON(w, http.StatusOK, txs)
}
