package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

func TestValidateForPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/orders/order-1/validate-payment":
			var req validateRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(validateResponse{Valid: req.Amount == 10000})
		case "/orders/missing/validate-payment":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(config.ServiceEndpoint{BaseURL: srv.URL + "/", Token: "secret"})
	ctx := context.Background()

	ok, err := c.ValidateForPayment(ctx, "order-1", 10000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ValidateForPayment(ctx, "order-1", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ValidateForPayment(ctx, "missing", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.ValidateForPayment(ctx, "broken", 5)
	assert.Error(t, err)
}

func TestMarkPaid(t *testing.T) {
	var got markPaidRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/order-1/mark-paid", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(config.ServiceEndpoint{BaseURL: srv.URL})
	require.NoError(t, c.MarkPaid(context.Background(), "order-1", "pay-1"))
	assert.Equal(t, "pay-1", got.PaymentID)
}

func TestUnconfiguredClient(t *testing.T) {
	c := NewClient(config.ServiceEndpoint{})
	_, err := c.ValidateForPayment(context.Background(), "order-1", 1)
	assert.Error(t, err)
}
