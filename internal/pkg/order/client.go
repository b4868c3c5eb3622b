// Package order is the HTTP client for the order service.
package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
}

type validateRequest struct {
	Amount money.Amount `json:"amount"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type markPaidRequest struct {
	PaymentID string `json:"payment_id"`
}

func NewClient(cfg config.ServiceEndpoint) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		Token:   strings.TrimSpace(cfg.Token),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ValidateForPayment asks the order service whether orderID exists, is
// payable and totals amount. A 404 means the order does not exist.
func (c *Client) ValidateForPayment(ctx context.Context, orderID string, amount money.Amount) (bool, error) {
	var out validateResponse
	status, err := c.post(ctx, "/orders/"+url.PathEscape(orderID)+"/validate-payment", validateRequest{Amount: amount}, &out)
	if status == http.StatusNotFound || status == http.StatusUnprocessableEntity {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Valid, nil
}

// MarkPaid tells the order service the order was paid by paymentID.
// The order service treats repeated calls for the same payment as a no-op.
func (c *Client) MarkPaid(ctx context.Context, orderID, paymentID string) error {
	_, err := c.post(ctx, "/orders/"+url.PathEscape(orderID)+"/mark-paid", markPaidRequest{PaymentID: paymentID}, nil)
	return err
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) (int, error) {
	if c.BaseURL == "" {
		return 0, errors.New("ORDER_SERVICE_URL is not configured")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("order service %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("order service %s returned invalid json: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
