// Package orchestration composes validation, risk, persistence and
// execution into the three order-lifecycle pipelines of C10 (§4.3):
// place, modify, cancel. Structurally grounded on the jax orchestration
// service's dependency-composition shape (memory/agent/dexter/tools wired
// into one Service, a single Orchestrate entrypoint, duration+outcome
// recorded on every run) but driving the order state machine instead of
// an AI planning pipeline.
package orchestration

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-order-core/internal/adapters"
	"trading-order-core/internal/execution"
	"trading-order-core/libs/domain"
	"trading-order-core/libs/resultx"
	"trading-order-core/libs/risk"
	"trading-order-core/libs/validation"
)

// OrderRepo is the subset of libs/repository.OrderRepository this package
// needs, kept narrow so it can be stubbed in tests.
type OrderRepo interface {
	Insert(ctx context.Context, o *domain.Order) error
	Update(ctx context.Context, before, after *domain.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*domain.Order, error)
}

// RiskLimitsRepo resolves a user's risk limits; falls back to
// domain.DefaultRiskLimits when unset (§3).
type RiskLimitsRepo interface {
	Get(ctx context.Context, userID string) (domain.RiskLimits, error)
}

// Router picks a broker for a symbol/exchange. §4.3 step 5 leaves routing
// strategy out of scope; DefaultRouter below is the "first supported
// broker" stand-in required to make the pipeline concrete.
type Router interface {
	Route(symbol, exchange string) string
}

// DefaultRouter always routes to the same configured broker name.
type DefaultRouter struct{ Broker string }

func (d DefaultRouter) Route(string, string) string { return d.Broker }

// PlaceRequest is the caller-facing shape of §6.1's place(order-request).
type PlaceRequest struct {
	UserID      string
	Symbol      string
	Exchange    string
	Side        domain.Side
	OrderType   domain.OrderType
	Quantity    int64
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce domain.TimeInForce
	ExpiryDate  *time.Time
}

// ModifyRequest is the caller-facing shape of §6.1's modify(...).
type ModifyRequest struct {
	OrderID     string
	NewQuantity *int64
	NewPrice    *decimal.Decimal
}

// Orchestrator owns the three lifecycle pipelines of §4.3.
type Orchestrator struct {
	orders    OrderRepo
	limits    RiskLimitsRepo
	registry  validation.SymbolRegistry
	riskEngine *risk.Engine
	execEngine *execution.Engine
	portfolio *adapters.PortfolioAdapter
	events    *adapters.EventAdapter
	router    Router
	log       zerolog.Logger
}

func NewOrchestrator(
	orders OrderRepo,
	limits RiskLimitsRepo,
	registry validation.SymbolRegistry,
	riskEngine *risk.Engine,
	execEngine *execution.Engine,
	portfolio *adapters.PortfolioAdapter,
	events *adapters.EventAdapter,
	router Router,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		orders: orders, limits: limits, registry: registry,
		riskEngine: riskEngine, execEngine: execEngine,
		portfolio: portfolio, events: events, router: router, log: log,
	}
}

// Place runs the seven-step placement pipeline of §4.3.
func (o *Orchestrator) Place(ctx context.Context, req PlaceRequest, correlationID string) (*domain.Order, resultx.Issues) {
	now := time.Now()
	order := &domain.Order{
		OrderID: domain.NewOrderID(now), UserID: req.UserID, Symbol: req.Symbol, Exchange: req.Exchange,
		Side: req.Side, OrderType: req.OrderType, Quantity: req.Quantity,
		LimitPrice: req.LimitPrice, StopPrice: req.StopPrice, TimeInForce: req.TimeInForce,
		ExpiryDate: req.ExpiryDate, Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}

	// Step 2: validation (§4.1). Failure rejects before any persistence.
	issues := validation.Validate(validation.Request{
		Symbol: req.Symbol, Exchange: req.Exchange, Side: req.Side, OrderType: req.OrderType,
		Quantity: req.Quantity, LimitPrice: req.LimitPrice, StopPrice: req.StopPrice,
		TimeInForce: req.TimeInForce, ExpiryDate: req.ExpiryDate,
	}, o.registry)
	if !issues.Empty() {
		order.Status = domain.StatusRejected
		order.RejectionReason = issues.Error()
		return order, issues
	}

	// Step 3: risk (§4.2). Blocking violations persist a rejected audit entry.
	limits, err := o.limits.Get(ctx, req.UserID)
	if err != nil {
		limits = domain.DefaultRiskLimits(req.UserID)
	}
	riskIssues := o.riskEngine.Check(ctx, risk.CheckRequest{
		UserID: req.UserID, Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity,
		OrderType: req.OrderType, LimitPrice: req.LimitPrice, Limits: limits,
	})
	if riskIssues.Blocking() {
		order.Status = domain.StatusRejected
		order.RejectionReason = riskIssues.Error()
		_ = o.orders.Insert(ctx, order)
		return order, riskIssues
	}

	// Step 4: persist at VALIDATED.
	order.Status = domain.StatusValidated
	if err := o.orders.Insert(ctx, order); err != nil {
		return order, resultx.Issues{{
			Kind: resultx.KindData, Code: resultx.CodeDatabaseError,
			Message: "failed to persist validated order", Severity: resultx.SeverityCritical,
		}}
	}

	// Step 5: routing.
	order.BrokerName = o.router.Route(req.Symbol, req.Exchange)

	// Step 6: execution.
	before := *order
	if err := order.Transition(domain.StatusSubmitted, time.Now()); err != nil {
		return order, resultx.Issues{{Kind: resultx.KindSystem, Code: resultx.CodeUnexpectedError, Message: err.Error(), Severity: resultx.SeverityCritical}}
	}
	_ = o.orders.Update(ctx, &before, order)

	result, execErr := o.execEngine.Execute(ctx, order, correlationID)
	before = *order
	if execErr != nil {
		issue, ok := execErr.(resultx.Issue)
		if ok && issue.Code == resultx.CodeOrderRejected {
			_ = order.Transition(domain.StatusRejected, time.Now())
			order.RejectionReason = issue.Message
			_ = o.orders.Update(ctx, &before, order)
			return order, resultx.Issues{issue}
		}
		// Timeout/system failure, or a partial fill below the acceptance
		// threshold (§4.9 step 6): order stays SUBMITTED, no portfolio/event
		// fan-out fires, and the caller sees the issue so it can retry the
		// remainder; the lifecycle scheduler owns reconciliation from here
		// (§4.3 step 6).
		if ok {
			return order, resultx.Issues{issue}
		}
		return order, resultx.Issues{{Kind: resultx.KindSystem, Code: resultx.CodeUnexpectedError, Message: execErr.Error(), Severity: resultx.SeverityCritical}}
	}

	order.FilledQuantity = result.FilledQuantity
	order.AverageFillPrice = result.AvgFillPrice
	order.BrokerOrderID = result.BrokerOrderID
	terminal := domain.StatusFilled
	if result.FilledQuantity < order.Quantity {
		terminal = domain.StatusPartiallyFilled
	}
	// SUBMITTED has no direct edge to a fill status, so the accepted order
	// passes through ACKNOWLEDGED first.
	err = order.Transition(domain.StatusAcknowledged, time.Now())
	if err == nil {
		err = order.Transition(terminal, time.Now())
	}
	if err != nil {
		o.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("unexpected transition failure after fill")
	}
	_ = o.orders.Update(ctx, &before, order)

	// Step 7: fire-and-forget portfolio/event/notify; failures never roll back the fill.
	o.onFilled(ctx, order, correlationID)

	return order, nil
}

func (o *Orchestrator) onFilled(ctx context.Context, order *domain.Order, correlationID string) {
	if o.portfolio != nil {
		update := adapters.PositionUpdate{
			UserID: order.UserID, Symbol: order.Symbol, Exchange: order.Exchange,
			Side: order.Side, Quantity: order.FilledQuantity, Price: order.AverageFillPrice, TradeID: order.OrderID,
		}
		if err := o.portfolio.UpdatePosition(ctx, update); err != nil {
			o.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("portfolio position update failed, not rolling back fill")
		}
	}
	if o.events != nil {
		o.events.Publish(ctx, adapters.Event{
			Type: adapters.EventOrderExecuted, OrderID: order.OrderID, UserID: order.UserID,
			CorrelationID: correlationID, OccurredAt: time.Now(),
			Payload: map[string]any{"status": string(order.Status), "filled_quantity": order.FilledQuantity},
		})
	}
}

// Modify applies a quantity/price change, legal only from a modifiable
// state (§4.10) and never reducing quantity below filled-quantity.
func (o *Orchestrator) Modify(ctx context.Context, req ModifyRequest, correlationID string) (*domain.Order, resultx.Issues) {
	order, err := o.orders.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, resultx.Issues{{Kind: resultx.KindData, Code: resultx.CodeEntityNotFound, Message: "order not found", Severity: resultx.SeverityMedium}}
	}
	if !order.Status.Modifiable() {
		return order, resultx.Issues{{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "order is not in a modifiable state", Severity: resultx.SeverityHigh,
		}}
	}
	if req.NewQuantity != nil && *req.NewQuantity < order.FilledQuantity {
		return order, resultx.Issues{{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "modified quantity cannot be below filled quantity", Severity: resultx.SeverityHigh,
		}}
	}

	before := *order
	if req.NewQuantity != nil {
		order.Quantity = *req.NewQuantity
	}
	if req.NewPrice != nil {
		order.LimitPrice = req.NewPrice
	}
	order.UpdatedAt = time.Now()

	if err := o.orders.Update(ctx, &before, order); err != nil {
		return order, resultx.Issues{{Kind: resultx.KindData, Code: resultx.CodeDatabaseError, Message: "failed to persist modification", Severity: resultx.SeverityCritical}}
	}
	return order, nil
}

// Cancel cancels an order, legal unless it is already terminal (§6.1).
func (o *Orchestrator) Cancel(ctx context.Context, orderID, correlationID string) (*domain.Order, resultx.Issues) {
	order, err := o.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, resultx.Issues{{Kind: resultx.KindData, Code: resultx.CodeEntityNotFound, Message: "order not found", Severity: resultx.SeverityMedium}}
	}
	if order.Status.Terminal() {
		return order, resultx.Issues{{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "order is already terminal, cannot cancel", Severity: resultx.SeverityHigh,
		}}
	}

	before := *order
	if order.BrokerOrderID != "" && o.execEngine != nil {
		if err := o.execEngine.Cancel(ctx, order, correlationID); err != nil {
			return order, resultx.Issues{{
				Kind: resultx.KindExecution, Code: resultx.CodeBrokerAPIError,
				Message: "broker cancel failed: " + err.Error(), Severity: resultx.SeverityHigh,
			}}
		}
	}
	if err := order.Transition(domain.StatusCancelled, time.Now()); err != nil {
		return order, resultx.Issues{{Kind: resultx.KindSystem, Code: resultx.CodeUnexpectedError, Message: err.Error(), Severity: resultx.SeverityCritical}}
	}
	if err := o.orders.Update(ctx, &before, order); err != nil {
		return order, resultx.Issues{{Kind: resultx.KindData, Code: resultx.CodeDatabaseError, Message: "failed to persist cancellation", Severity: resultx.SeverityCritical}}
	}
	if o.events != nil {
		o.events.Publish(ctx, adapters.Event{
			Type: adapters.EventOrderCancelled, OrderID: order.OrderID, UserID: order.UserID,
			CorrelationID: correlationID, OccurredAt: time.Now(),
		})
	}
	return order, nil
}
