package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature returns the hex HMAC-SHA256 of "orderID|paymentID", the
// scheme the gateway signs per-payment confirmations with.
func ComputeSignature(secret []byte, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a per-payment signature in constant time.
func VerifySignature(secret []byte, orderID, paymentID, signature string) bool {
	expected := ComputeSignature(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ComputeWebhookSignature returns the hex HMAC-SHA256 of the raw webhook body
// under the webhook secret.
func ComputeWebhookSignature(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the webhook-level signature in constant time.
func VerifyWebhookSignature(secret, payload []byte, signature string) bool {
	expected := ComputeWebhookSignature(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
