package router

import (
	"net/http"

	"github.com/theinterviewer/backend/internal/auth"
	"github.com/theinterviewer/backend/internal/handlers"
	"github.com/theinterviewer/backend/internal/middleware"
)

// New returns an http.Handler that serves the API under /api/v1. Every route
// passes through the per-IP rate limit; everything except auth and the
// gateway webhook additionally requires a valid bearer token.
func New(
	authHandler *auth.Handler,
	paymentHandler *handlers.PaymentHandler,
	creditHandler *handlers.CreditHandler,
	interviewHandler *handlers.InterviewHandler,
	validator middleware.TokenValidator,
	generalLimiter middleware.KeyLimiter,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	requireAuth := middleware.JWTAuth(validator)
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return requireAuth(h).ServeHTTP
	}

	mux.HandleFunc(base+"/auth/register", methodPOST(authHandler.Register))
	mux.HandleFunc(base+"/auth/login", methodPOST(authHandler.Login))

	mux.HandleFunc(base+"/payments/orders", methodPOST(authed(paymentHandler.CreateOrder)))
	mux.HandleFunc(base+"/payments/verify", methodPOST(authed(paymentHandler.Verify)))
	// The gateway signs the webhook itself; no bearer token to present.
	mux.HandleFunc(base+"/payments/webhook", methodPOST(paymentHandler.Webhook))

	mux.HandleFunc(base+"/credits/balance", methodGET(authed(creditHandler.Balance)))
	mux.HandleFunc(base+"/credits/history", methodGET(authed(creditHandler.TransactionHistory)))
	mux.HandleFunc(base+"/credits/history/recent", methodGET(authed(creditHandler.RecentTransactions)))

	mux.HandleFunc(base+"/interviews/start", methodPOST(authed(interviewHandler.Start)))

	return middleware.RateLimit(generalLimiter)(mux)
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
