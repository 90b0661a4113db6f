package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// newTestGateway points a gateway at a local server standing in for api.stripe.com
func newTestGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &StripeGateway{api: client.New("sk_test_gateway", &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})}
}

func TestGetAvailableBalanceSumsMatchingCurrency(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balance", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "balance",
			"livemode": false,
			"available": [
				{"amount": 500, "currency": "usd"},
				{"amount": 700, "currency": "eur"},
				{"amount": 250, "currency": "usd"}
			],
			"pending": [{"amount": 9999, "currency": "usd"}]
		}`))
	})

	total, err := gw.GetAvailableBalance(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(750), total)

	total, err = gw.GetAvailableBalance(context.Background(), "gbp")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetAvailableBalanceReportsAPIErrors(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "Invalid API Key provided"}}`))
	})

	_, err := gw.GetAvailableBalance(context.Background(), "usd")
	assert.Error(t, err)
}
