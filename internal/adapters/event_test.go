package adapters_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-order-core/internal/adapters"
)

func TestEventAdapter_PublishSucceeds(t *testing.T) {
	var received bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = true
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	a := adapters.NewEventAdapter(server.URL, 5*time.Second, testBreaker(), zerolog.Nop())
	a.Publish(context.Background(), adapters.Event{Type: adapters.EventOrderExecuted, OrderID: "TM-1"})

	if !received {
		t.Fatal("expected the event bus to receive the publish call")
	}
}

func TestEventAdapter_PublishNeverPropagatesFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	tun := breakerTunablesThatTripFast()
	breaker := newBreakerFromTunables(tun)
	a := adapters.NewEventAdapter(server.URL, time.Second, breaker, zerolog.Nop())

	for i := 0; i < 5; i++ {
		a.Publish(context.Background(), adapters.Event{Type: adapters.EventOrderExecuted, OrderID: "TM-1"})
	}
	// No panic, no error return path exists: Publish is void by design (§4.7).
}
