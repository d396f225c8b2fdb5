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

// DebitLedger is the slice of the credit ledger the interview handler needs.
type DebitLedger interface {
	Debit(ctx context.Context, userID uuid.UUID, amount int, txType, description string, ref credits.Ref) (int, error)
}

// InterviewHandler serves /api/v1/interviews endpoints.
type InterviewHandler struct {
	Ledger DebitLedger
	Logger *slog.Logger
}

type startInterviewResponse struct {
	SessionID        string `json:"session_id"`
	CreditsRemaining int    `json:"credits_remaining"`
}

// Start handles POST /api/v1/interviews/start. The session fee is debited up
// front; without enough credits the session never starts.
func (h *InterviewHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	sessionID := uuid.New()
	remaining, err := h.Ledger.Debit(r.Context(), userID, models.InterviewCostCredits,
		models.TxTypeInterviewDeduction, "Interview session fee", credits.Ref{SessionID: &sessionID})
	if err != nil {
		switch {
		case errors.Is(err, credits.ErrInsufficientBalance):
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
		case errors.Is(err, credits.ErrUserNotFound):
			http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		default:
			h.Logger.Error("interview debit failed", "user_id", userID, "error", err)
			http.Error(w, `{"error":"failed to start interview"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, startInterviewResponse{
		SessionID:        sessionID.String(),
		CreditsRemaining: remaining,
	})
}
