package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"trading-order-core/internal/adapters"
	"trading-order-core/libs/domain"
	"trading-order-core/libs/observability"
	"trading-order-core/libs/resilience"
	clockctx "trading-order-core/libs/testing"
)

// ExpirableOrderRepo is the subset libs/repository.OrderRepository the
// expiry job needs.
type ExpirableOrderRepo interface {
	ListExpirable(ctx context.Context, now time.Time) ([]*domain.Order, error)
	Update(ctx context.Context, before, after *domain.Order) error
}

// ExpireOrdersJob scans for DAY orders past session close and GTD orders
// past expiry-date, transitions them to EXPIRED, and attempts a
// best-effort broker cancel (§4.11 "Expire orders").
type ExpireOrdersJob struct {
	Orders ExpirableOrderRepo
	Broker *adapters.BrokerAuthAdapter
	Log    zerolog.Logger
}

func (j *ExpireOrdersJob) Name() string { return "expire_orders" }

func (j *ExpireOrdersJob) Run(ctx context.Context) error {
	now := clockctx.Now(ctx) // honors a test-injected clockctx.Clock, defaults to system time
	expirable, err := j.Orders.ListExpirable(ctx, now)
	if err != nil {
		return err
	}
	for _, order := range expirable {
		before := *order
		if err := order.Transition(domain.StatusExpired, now); err != nil {
			j.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("could not expire order")
			continue
		}
		if err := j.Orders.Update(ctx, &before, order); err != nil {
			j.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to persist expiry")
			continue
		}
		if order.BrokerOrderID != "" && j.Broker != nil {
			j.bestEffortCancel(ctx, order)
		}
	}
	return nil
}

func (j *ExpireOrdersJob) bestEffortCancel(ctx context.Context, order *domain.Order) {
	conn, err := j.Broker.GetConnection(ctx, order.UserID, order.BrokerName)
	if err != nil {
		j.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("expiry cancel: no usable connection")
		return
	}
	if err := j.Broker.CancelOrder(ctx, conn, order.BrokerOrderID, ""); err != nil {
		j.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("expiry cancel failed, broker state may lag")
	}
}

// ReconcilableOrderRepo is the subset of orders the reconcile job needs.
type ReconcilableOrderRepo interface {
	ListByUser(ctx context.Context, userID string, status domain.Status) ([]*domain.Order, error)
	Update(ctx context.Context, before, after *domain.Order) error
}

// ReconcileJob polls broker status for orders stuck in SUBMITTED or
// ACKNOWLEDGED beyond expected time, driving the state machine to the
// broker-reported truth (§4.11 "Reconcile").
type ReconcileJob struct {
	Orders ReconcilableOrderRepo
	Broker *adapters.BrokerAuthAdapter
	Users  []string // users with in-flight orders; production wiring would query distinct users instead
	Log    zerolog.Logger
}

func (j *ReconcileJob) Name() string { return "reconcile_submitted" }

func (j *ReconcileJob) Run(ctx context.Context) error {
	for _, userID := range j.Users {
		for _, status := range []domain.Status{domain.StatusSubmitted, domain.StatusAcknowledged} {
			stuck, err := j.Orders.ListByUser(ctx, userID, status)
			if err != nil {
				j.Log.Error().Err(err).Str("user_id", userID).Msg("reconcile: list failed")
				continue
			}
			for _, order := range stuck {
				j.reconcileOne(ctx, order)
			}
		}
	}
	return nil
}

func (j *ReconcileJob) reconcileOne(ctx context.Context, order *domain.Order) {
	if order.BrokerOrderID == "" {
		return
	}
	conn, err := j.Broker.GetConnection(ctx, order.UserID, order.BrokerName)
	if err != nil {
		j.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("reconcile: no usable connection")
		return
	}
	resp, err := j.Broker.GetStatus(ctx, conn, order.BrokerOrderID)
	if err != nil {
		j.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("reconcile: status poll failed")
		return
	}

	before := *order
	var target domain.Status
	switch resp.Status {
	case adapters.BrokerStatusFilled:
		target = domain.StatusFilled
		order.FilledQuantity = resp.FilledQuantity
	case adapters.BrokerStatusPartial:
		target = domain.StatusPartiallyFilled
		order.FilledQuantity = resp.FilledQuantity
	case adapters.BrokerStatusRejected:
		target = domain.StatusRejected
		order.RejectionReason = resp.Reason
	case adapters.BrokerStatusCancelled:
		target = domain.StatusCancelled
	case adapters.BrokerStatusExpired:
		target = domain.StatusExpired
	case adapters.BrokerStatusPending:
		if order.Status == domain.StatusSubmitted {
			target = domain.StatusAcknowledged
		} else {
			return // still pending, nothing changed
		}
	default:
		return
	}
	if target == order.Status {
		return
	}
	now := clockctx.Now(ctx)
	if order.Status == domain.StatusSubmitted && target != domain.StatusAcknowledged && target != domain.StatusRejected {
		// SUBMITTED only leads to ACKNOWLEDGED or REJECTED; step through
		// ACKNOWLEDGED before applying the broker-reported status.
		_ = order.Transition(domain.StatusAcknowledged, now)
	}
	if err := order.Transition(target, now); err != nil {
		j.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("reconcile: illegal transition, leaving order as-is")
		return
	}
	if err := j.Orders.Update(ctx, &before, order); err != nil {
		j.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("reconcile: failed to persist")
	}
}

// DrainPortfolioQueueJob replays queued position updates accumulated while
// the Portfolio breaker was open, in creation order, removing each on
// success (§4.11 "Drain portfolio queue").
type DrainPortfolioQueueJob struct {
	Portfolio *adapters.PortfolioAdapter
	Breaker   *resilience.Breaker
	Log       zerolog.Logger
}

func (j *DrainPortfolioQueueJob) Name() string { return "drain_portfolio_queue" }

func (j *DrainPortfolioQueueJob) Run(ctx context.Context) error {
	if j.Breaker.RecentlyOpen() {
		return nil // breaker still open, no point draining yet
	}
	queued := j.Portfolio.DrainQueue()
	var failed []adapters.PositionUpdate
	for _, update := range queued {
		if err := j.Portfolio.UpdatePosition(ctx, update); err != nil {
			failed = append(failed, update)
		}
	}
	if len(failed) > 0 {
		j.Portfolio.Requeue(failed)
		j.Log.Warn().Int("failed", len(failed)).Msg("some queued position updates failed to drain, requeued")
	}
	return nil
}

// MetricsSnapshotJob publishes the point-in-time breaker-state and
// portfolio-queue-depth gauges (§4.11 "Metrics snapshot"). Risk-check
// timings and execution latencies are recorded by the components that
// produce them, not by this job. Reading the queue depth leaves the queued
// updates in place for DrainPortfolioQueueJob.
type MetricsSnapshotJob struct {
	Breakers  map[string]*resilience.Breaker
	Portfolio *adapters.PortfolioAdapter
}

func (j *MetricsSnapshotJob) Name() string { return "metrics_snapshot" }

func (j *MetricsSnapshotJob) Run(ctx context.Context) error {
	for name, b := range j.Breakers {
		observability.SetBreakerState(name, breakerStateCode(b))
	}
	if j.Portfolio != nil {
		queued := j.Portfolio.DrainQueue()
		j.Portfolio.Requeue(queued)
		observability.SetPortfolioQueueDepth(len(queued))
	}
	return nil
}

func breakerStateCode(b *resilience.Breaker) int {
	switch b.State().String() {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
