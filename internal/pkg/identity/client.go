// Package identity looks up user contact details in the identity service.
package identity

import (
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
)

var ErrUserNotFound = errors.New("user not found")

type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
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

func (c *Client) LookupEmail(ctx context.Context, userID string) (string, error) {
	if c.BaseURL == "" {
		return "", errors.New("IDENTITY_SERVICE_URL is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrUserNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("identity lookup failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out userResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Email) == "" {
		return "", fmt.Errorf("user %s has no email", userID)
	}
	return out.Email, nil
}
