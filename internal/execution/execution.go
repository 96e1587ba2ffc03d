// Package execution drives an accepted order to a terminal broker status
// (C9, §4.9): idempotency gate, connection acquisition, breaker-guarded
// placement, response classification, status polling and the partial-fill
// policy, grounded on the poll/placement shape of the jax trade-execution
// service's ExecuteTrade/pollOrderStatus.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/internal/adapters"
	"trading-order-core/libs/domain"
	"trading-order-core/libs/observability"
	"trading-order-core/libs/resultx"
)

// Result is the terminal outcome of a successful execute call (§4.9).
type Result struct {
	BrokerOrderID  string
	Status         adapters.BrokerOrderStatus
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal
}

// Tunables carries the §6.3 Execution options.
type Tunables struct {
	Timeout                 time.Duration
	StatusPollInterval      time.Duration
	MaxStatusPolls          int
	PartialFillThresholdPct float64
}

// Engine implements the C9 execute/cancel operations of §4.9. The broker
// field is the only outbound dependency it needs; routing (which broker,
// which connection) is resolved by the caller.
type Engine struct {
	broker   *adapters.BrokerAuthAdapter
	tunables Tunables

	mu         sync.Mutex
	idempotent map[string]string // order-id -> broker-order-id (§4.9 step 1)
}

func NewEngine(broker *adapters.BrokerAuthAdapter, tunables Tunables) *Engine {
	return &Engine{
		broker:     broker,
		tunables:   tunables,
		idempotent: make(map[string]string),
	}
}

// Execute drives order to a terminal broker status (§4.9).
func (e *Engine) Execute(ctx context.Context, order *domain.Order, correlationID string) (Result, error) {
	start := time.Now()
	result, err := e.execute(ctx, order, correlationID)
	observability.RecordExecutionLatency(order.BrokerName, time.Since(start))
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RecordOrderPlaced(order.BrokerName, outcome)
	return result, err
}

func (e *Engine) execute(ctx context.Context, order *domain.Order, correlationID string) (Result, error) {
	if err := e.reserveIdempotencySlot(order.OrderID); err != nil {
		return Result{}, err
	}

	conn, err := e.broker.GetConnection(ctx, order.UserID, order.BrokerName)
	if err != nil {
		return Result{}, resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodeBrokerAPIError,
			Message: fmt.Sprintf("no usable broker connection: %v", err),
			Severity: resultx.SeverityHigh, Retryable: true,
		}
	}

	placeCtx, cancel := context.WithTimeout(ctx, e.tunables.Timeout)
	defer cancel()
	resp, err := e.broker.SubmitOrder(placeCtx, conn, order, correlationID)
	if err != nil {
		if placeCtx.Err() != nil {
			return Result{}, resultx.Issue{
				Kind: resultx.KindExecution, Code: resultx.CodeExecutionTimeout,
				Message: "broker placement did not complete within timeout",
				Severity: resultx.SeverityHigh, Retryable: true,
			}
		}
		return Result{}, resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodeBrokerAPIError,
			Message: fmt.Sprintf("broker placement failed: %v", err),
			Severity: resultx.SeverityHigh, Retryable: true,
		}
	}

	e.recordBrokerOrderID(order.OrderID, resp.BrokerOrderID)

	result, err := e.classify(ctx, conn, resp, order.Quantity)
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// reserveIdempotencySlot inserts a placeholder entry BEFORE the broker call
// so a retried Execute on the same order-id never double-submits (§4.9
// step 1, §8 idempotency invariant).
func (e *Engine) reserveIdempotencySlot(orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.idempotent[orderID]; exists {
		return resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodeIdempotencyViolation,
			Message:  fmt.Sprintf("order %s already has a broker submission in flight", orderID),
			Severity: resultx.SeverityCritical, Retryable: false,
		}
	}
	e.idempotent[orderID] = ""
	return nil
}

func (e *Engine) recordBrokerOrderID(orderID, brokerOrderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotent[orderID] = brokerOrderID
}

// classify interprets the broker's returned status (§4.9 step 4) and, for
// PENDING, enters the poll loop.
func (e *Engine) classify(ctx context.Context, conn adapters.Connection, resp adapters.BrokerOrderResponse, requestedQty int64) (Result, error) {
	switch resp.Status {
	case adapters.BrokerStatusFilled:
		return toResult(resp), nil
	case adapters.BrokerStatusPartial:
		return e.applyPartialFillPolicy(resp, requestedQty)
	case adapters.BrokerStatusPending:
		return e.poll(ctx, conn, resp.BrokerOrderID, requestedQty)
	case adapters.BrokerStatusRejected:
		return Result{}, resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodeOrderRejected,
			Message:  resp.Reason,
			Severity: resultx.SeverityHigh, Retryable: false,
		}
	default: // CANCELLED, EXPIRED, FAILED
		return Result{}, resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodeSystemError,
			Message:  fmt.Sprintf("broker returned terminal status %s: %s", resp.Status, resp.Reason),
			Severity: resultx.SeverityCritical, Retryable: true,
		}
	}
}

// poll re-checks status up to MaxStatusPolls times at StatusPollInterval
// (§4.9 step 5), stopping on any terminal status.
func (e *Engine) poll(ctx context.Context, conn adapters.Connection, brokerOrderID string, requestedQty int64) (Result, error) {
	ticker := time.NewTicker(e.tunables.StatusPollInterval)
	defer ticker.Stop()

	for i := 0; i < e.tunables.MaxStatusPolls; i++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		resp, err := e.broker.GetStatus(ctx, conn, brokerOrderID)
		if err != nil {
			continue // transient poll failure, try again next tick
		}
		switch resp.Status {
		case adapters.BrokerStatusFilled:
			return toResult(resp), nil
		case adapters.BrokerStatusPartial:
			return e.applyPartialFillPolicy(resp, requestedQty)
		case adapters.BrokerStatusRejected:
			return Result{}, resultx.Issue{
				Kind: resultx.KindExecution, Code: resultx.CodeOrderRejected,
				Message:  resp.Reason,
				Severity: resultx.SeverityHigh, Retryable: false,
			}
		case adapters.BrokerStatusCancelled, adapters.BrokerStatusExpired, adapters.BrokerStatusFailed:
			return Result{}, resultx.Issue{
				Kind: resultx.KindExecution, Code: resultx.CodeSystemError,
				Message:  fmt.Sprintf("broker returned terminal status %s: %s", resp.Status, resp.Reason),
				Severity: resultx.SeverityCritical, Retryable: true,
			}
		case adapters.BrokerStatusPending:
			continue
		}
	}
	// Exhausted polls with the order still non-terminal: the caller leaves
	// the order SUBMITTED and the lifecycle scheduler takes over (§4.3 step 6).
	return Result{}, resultx.Issue{
		Kind: resultx.KindExecution, Code: resultx.CodeExecutionTimeout,
		Message:  fmt.Sprintf("order %s still non-terminal after %d polls", brokerOrderID, e.tunables.MaxStatusPolls),
		Severity: resultx.SeverityHigh, Retryable: true,
	}
}

// applyPartialFillPolicy accepts a partial fill as success when fill-rate is
// at least the configured threshold, else surfaces it as a retryable error
// for the remainder (§4.9 step 6, §9 redesign note).
func (e *Engine) applyPartialFillPolicy(resp adapters.BrokerOrderResponse, requestedQty int64) (Result, error) {
	result := toResult(resp)
	if !e.tunables.PartialFillAccepted(result.FilledQuantity, requestedQty) {
		return Result{}, resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodePartialFill,
			Message:  fmt.Sprintf("fill rate %.1f%% on %d/%d below the %.1f%% acceptance threshold", FillRate(result.FilledQuantity, requestedQty), result.FilledQuantity, requestedQty, e.tunables.PartialFillThresholdPct),
			Severity: resultx.SeverityMedium, Retryable: true,
		}
	}
	return result, nil
}

// FillRate is exposed so callers outside this package can explain a
// PARTIAL_FILL issue's severity without re-deriving the percentage.
func FillRate(filled, requested int64) float64 {
	if requested == 0 {
		return 0
	}
	return float64(filled) / float64(requested) * 100
}

// PartialFillAccepted reports whether a fill-rate clears the configured
// threshold (default 50%, §4.9 step 6).
func (t Tunables) PartialFillAccepted(filled, requested int64) bool {
	return FillRate(filled, requested) >= t.PartialFillThresholdPct
}

func toResult(resp adapters.BrokerOrderResponse) Result {
	return Result{
		BrokerOrderID:  resp.BrokerOrderID,
		Status:         resp.Status,
		FilledQuantity: resp.FilledQuantity,
		AvgFillPrice:   decimal.NewFromFloat(resp.AvgFillPrice),
	}
}

// Cancel asks the broker to cancel a live order (§4.9 step 7).
func (e *Engine) Cancel(ctx context.Context, order *domain.Order, correlationID string) error {
	conn, err := e.broker.GetConnection(ctx, order.UserID, order.BrokerName)
	if err != nil {
		return resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodeBrokerAPIError,
			Message:  fmt.Sprintf("no usable broker connection: %v", err),
			Severity: resultx.SeverityHigh, Retryable: false,
		}
	}
	if err := e.broker.CancelOrder(ctx, conn, order.BrokerOrderID, correlationID); err != nil {
		return resultx.Issue{
			Kind: resultx.KindExecution, Code: resultx.CodeBrokerAPIError,
			Message:  fmt.Sprintf("broker cancel failed: %v", err),
			Severity: resultx.SeverityHigh, Retryable: false,
		}
	}
	return nil
}
