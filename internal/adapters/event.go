package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"trading-order-core/libs/resilience"
)

// Event is published on order lifecycle transitions (§4.3 step 7, §4.7).
type Event struct {
	Type          string         `json:"type"`
	OrderID       string         `json:"order_id"`
	UserID        string         `json:"user_id"`
	CorrelationID string         `json:"correlation_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload"`
}

const (
	EventOrderExecuted = "ORDER_EXECUTED"
	EventOrderRejected = "ORDER_REJECTED"
	EventOrderCancelled = "ORDER_CANCELLED"
	EventOrderExpired  = "ORDER_EXPIRED"
)

// EventAdapter implements the C4 surface of §4.7: fire-and-forget publish.
// §4.4 names four breakers (order/risk/broker/portfolio), none dedicated to
// the event bus; callers wire the Order breaker in here, whose fallback
// always reports success — missed events are reconstructable from the
// audit trail, so a caller must never block or retry on a publish failure.
type EventAdapter struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	log        zerolog.Logger
}

func NewEventAdapter(baseURL string, timeout time.Duration, breaker *resilience.Breaker, log zerolog.Logger) *EventAdapter {
	return &EventAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		log:        log,
	}
}

// Publish ships a single event. Errors are logged, never returned to the
// caller: the event bus is always-succeed by contract (§4.4, §4.7).
func (e *EventAdapter) Publish(ctx context.Context, event Event) {
	fallback := func(ctx context.Context) (any, error) { return nil, nil }
	_, err := e.breaker.RunWithFallback(ctx, func(ctx context.Context) (any, error) {
		return nil, e.post(ctx, "/events", event)
	}, fallback)
	if err != nil {
		e.log.Warn().Str("event_type", event.Type).Str("order_id", event.OrderID).Err(err).Msg("event publish failed, relying on audit trail")
	}
}

// PublishBatch ships several events; ordering is best-effort, not guaranteed
// (§4.7).
func (e *EventAdapter) PublishBatch(ctx context.Context, events []Event) {
	fallback := func(ctx context.Context) (any, error) { return nil, nil }
	_, err := e.breaker.RunWithFallback(ctx, func(ctx context.Context) (any, error) {
		return nil, e.post(ctx, "/events/batch", events)
	}, fallback)
	if err != nil {
		e.log.Warn().Int("count", len(events)).Err(err).Msg("batch event publish failed, relying on audit trail")
	}
}

func (e *EventAdapter) post(ctx context.Context, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("adapters: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("adapters: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adapters: event bus request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("adapters: event bus %s returned %d: %s", path, resp.StatusCode, payload)
	}
	return nil
}
