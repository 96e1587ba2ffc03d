package adapters_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/internal/adapters"
	"trading-order-core/libs/domain"
)

func TestPortfolioAdapter_CalculateImpactParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"available_buying_power":  "50000",
			"required_value":          "1000",
			"margin_impact_acceptable": true,
		})
	}))
	t.Cleanup(server.Close)

	a := adapters.NewPortfolioAdapter(server.URL, 5*time.Second, testBreaker())
	impact, err := a.CalculateImpact(context.Background(), "u1", "AAPL", 10, decimal.NewFromInt(1000), domain.SideBuy)
	if err != nil {
		t.Fatalf("calculate impact: %v", err)
	}
	if !impact.MarginImpactAcceptable {
		t.Fatal("expected margin impact acceptable")
	}
	if !impact.AvailableBuyingPower.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected buying power: %s", impact.AvailableBuyingPower)
	}
	if impact.FromFallback {
		t.Fatal("live response should not be marked as fallback")
	}
}

func TestPortfolioAdapter_UpdatePositionQueuesOnBreakerOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	tun := breakerTunablesThatTripFast()
	breaker := newBreakerFromTunables(tun)
	a := adapters.NewPortfolioAdapter(server.URL, time.Second, breaker)

	update := adapters.PositionUpdate{UserID: "u1", Symbol: "AAPL", Exchange: "NASDAQ", Side: domain.SideBuy, Quantity: 10, Price: decimal.NewFromInt(100), TradeID: "TR-1"}

	for i := 0; i < 6; i++ {
		_ = a.UpdatePosition(context.Background(), update)
	}

	if err := a.UpdatePosition(context.Background(), update); err != nil {
		t.Fatalf("expected fallback success once breaker trips, got: %v", err)
	}

	drained := a.DrainQueue()
	if len(drained) == 0 {
		t.Fatal("expected at least one queued update after breaker trips")
	}
}
