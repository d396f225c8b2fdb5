package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrGateway wraps failures of the remote payment gateway.
var ErrGateway = errors.New("payment gateway error")

// Gateway creates orders in the external payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (gatewayOrderID string, err error)
}

// GatewayClient talks to the gateway's orders API over HTTP with basic auth.
type GatewayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

func NewGatewayClient(baseURL, keyID, keySecret string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL:    baseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ Gateway = (*GatewayClient)(nil)

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createOrderResponse struct {
	ID string `json:"id"`
}

// CreateOrder obtains a gateway order id. The request carries the client's
// timeout so a hung gateway cannot stall order creation indefinitely.
func (c *GatewayClient) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(createOrderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: order creation returned status %d: %s", ErrGateway, resp.StatusCode, snippet)
	}

	var out createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: invalid order response: %v", ErrGateway, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: order response missing id", ErrGateway)
	}
	return out.ID, nil
}
