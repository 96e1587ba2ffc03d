package execution_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-order-core/internal/adapters"
	"trading-order-core/internal/execution"
	"trading-order-core/libs/domain"
	"trading-order-core/libs/resilience"
	"trading-order-core/libs/resultx"
)

func fastBreaker() *resilience.Breaker {
	t := resilience.Tunables{
		Name: "test", FailureRatePct: 60, SlowCallRatePct: 85,
		SlowCallDuration: 8 * time.Second, SlidingWindow: 20,
		MinCalls: 10, OpenDuration: 120 * time.Second, HalfOpenTrials: 2,
	}
	return resilience.New(t, resilience.DefaultClassifier, zerolog.Nop())
}

func defaultTunables() execution.Tunables {
	return execution.Tunables{
		Timeout:                 2 * time.Second,
		StatusPollInterval:      10 * time.Millisecond,
		MaxStatusPolls:          3,
		PartialFillThresholdPct: 50,
	}
}

func testOrder() *domain.Order {
	return &domain.Order{OrderID: "TM-1", UserID: "u1", Symbol: "AAPL", BrokerName: "alpaca", Quantity: 100, Side: domain.SideBuy, OrderType: domain.OrderTypeMarket}
}

func newTestBroker(server *httptest.Server) *adapters.BrokerAuthAdapter {
	return adapters.NewBrokerAuthAdapter(server.URL, "key", 5*time.Second, fastBreaker())
}

func connectionHandler(status string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "tok", "status": status, "expires_at": time.Now().Add(time.Hour),
		})
	}
}

func TestEngine_Execute_FilledImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connections/u1/alpaca":
			connectionHandler("CONNECTED")(w, r)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"BrokerOrderID": "B-1", "Status": "FILLED", "FilledQuantity": 100, "AvgFillPrice": 101.5,
			})
		}
	}))
	t.Cleanup(server.Close)

	engine := execution.NewEngine(newTestBroker(server), defaultTunables())
	result, err := engine.Execute(context.Background(), testOrder(), "corr-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != adapters.BrokerStatusFilled || result.FilledQuantity != 100 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEngine_Execute_IdempotencyViolationOnSecondCallForSameOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connections/u1/alpaca":
			connectionHandler("CONNECTED")(w, r)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-1", "Status": "FILLED", "FilledQuantity": 100, "AvgFillPrice": 100.0})
		}
	}))
	t.Cleanup(server.Close)

	engine := execution.NewEngine(newTestBroker(server), defaultTunables())
	order := testOrder()
	if _, err := engine.Execute(context.Background(), order, "corr-1"); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	_, err := engine.Execute(context.Background(), order, "corr-2")
	if err == nil {
		t.Fatal("expected idempotency violation on second execute for the same order-id")
	}
	issue, ok := err.(resultx.Issue)
	if !ok || issue.Code != resultx.CodeIdempotencyViolation {
		t.Fatalf("expected IDEMPOTENCY_VIOLATION, got %v", err)
	}
	if issue.Severity != resultx.SeverityCritical || issue.Retryable {
		t.Fatalf("idempotency violation must be CRITICAL and non-retryable, got %+v", issue)
	}
}

func TestEngine_Execute_RejectedIsNonRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connections/u1/alpaca":
			connectionHandler("CONNECTED")(w, r)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-2", "Status": "REJECTED", "Reason": "insufficient margin"})
		}
	}))
	t.Cleanup(server.Close)

	engine := execution.NewEngine(newTestBroker(server), defaultTunables())
	_, err := engine.Execute(context.Background(), testOrder(), "corr-1")
	issue, ok := err.(resultx.Issue)
	if !ok || issue.Code != resultx.CodeOrderRejected || issue.Retryable {
		t.Fatalf("expected non-retryable ORDER_REJECTED, got %v", err)
	}
}

func TestEngine_Execute_PendingPollsUntilFilled(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connections/u1/alpaca":
			connectionHandler("CONNECTED")(w, r)
		case r.URL.Path == "/brokers/alpaca/orders":
			_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-3", "Status": "PENDING"})
		default:
			polls++
			if polls < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-3", "Status": "PENDING"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-3", "Status": "FILLED", "FilledQuantity": 100, "AvgFillPrice": 100})
		}
	}))
	t.Cleanup(server.Close)

	engine := execution.NewEngine(newTestBroker(server), defaultTunables())
	result, err := engine.Execute(context.Background(), testOrder(), "corr-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != adapters.BrokerStatusFilled {
		t.Fatalf("expected eventual fill, got %+v", result)
	}
}

func TestEngine_Execute_PartialFillBelowThresholdIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connections/u1/alpaca":
			connectionHandler("CONNECTED")(w, r)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-4", "Status": "PARTIAL_FILL", "FilledQuantity": 10, "AvgFillPrice": 100})
		}
	}))
	t.Cleanup(server.Close)

	engine := execution.NewEngine(newTestBroker(server), defaultTunables())
	_, err := engine.Execute(context.Background(), testOrder(), "corr-1")
	issue, ok := err.(resultx.Issue)
	if !ok || issue.Code != resultx.CodePartialFill {
		t.Fatalf("expected PARTIAL_FILL for a 10/100 fill below the 50%% threshold, got %v", err)
	}
	if !issue.Retryable {
		t.Fatalf("a below-threshold partial fill must be retryable so the caller can retry the remainder")
	}
}

func TestEngine_Execute_PartialFillAtOrAboveThresholdIsAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connections/u1/alpaca":
			connectionHandler("CONNECTED")(w, r)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-5", "Status": "PARTIAL_FILL", "FilledQuantity": 60, "AvgFillPrice": 100})
		}
	}))
	t.Cleanup(server.Close)

	engine := execution.NewEngine(newTestBroker(server), defaultTunables())
	result, err := engine.Execute(context.Background(), testOrder(), "corr-1")
	if err != nil {
		t.Fatalf("a 60/100 fill rate clears the 50%% threshold and should be accepted: %v", err)
	}
	if result.FilledQuantity != 60 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFillRate(t *testing.T) {
	if execution.FillRate(50, 100) != 50 {
		t.Fatal("expected 50% fill rate")
	}
	if execution.FillRate(0, 0) != 0 {
		t.Fatal("expected 0 for zero-requested edge case")
	}
}
