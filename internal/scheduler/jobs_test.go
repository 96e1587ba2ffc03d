package scheduler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-order-core/internal/adapters"
	"trading-order-core/internal/scheduler"
	"trading-order-core/libs/domain"
	"trading-order-core/libs/resilience"
	clockctx "trading-order-core/libs/testing"
)

func testBreaker() *resilience.Breaker {
	t := resilience.Tunables{Name: "test", FailureRatePct: 60, SlowCallRatePct: 85, SlowCallDuration: 8 * time.Second, SlidingWindow: 20, MinCalls: 10, OpenDuration: 120 * time.Second, HalfOpenTrials: 2}
	return resilience.New(t, resilience.DefaultClassifier, zerolog.Nop())
}

type fakeOrderRepo struct {
	mu          sync.Mutex
	expirable   []*domain.Order
	byUser      map[string][]*domain.Order
	updateCalls int
}

func (f *fakeOrderRepo) ListExpirable(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	return f.expirable, nil
}

func (f *fakeOrderRepo) ListByUser(ctx context.Context, userID string, status domain.Status) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range f.byUser[userID] {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) Update(ctx context.Context, before, after *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	*before = *after
	return nil
}

func TestExpireOrdersJob_TransitionsPastExpiryOrders(t *testing.T) {
	now := time.Now()
	order := &domain.Order{OrderID: "O-1", UserID: "u1", Status: domain.StatusAcknowledged, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)}
	repo := &fakeOrderRepo{expirable: []*domain.Order{order}}

	job := &scheduler.ExpireOrdersJob{Orders: repo, Log: zerolog.Nop()}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.StatusExpired {
		t.Fatalf("expected order to be expired, got %s", order.Status)
	}
	if repo.updateCalls != 1 {
		t.Fatalf("expected exactly one persisted update, got %d", repo.updateCalls)
	}
}

func TestExpireOrdersJob_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	order := &domain.Order{OrderID: "O-3", UserID: "u1", Status: domain.StatusAcknowledged, CreatedAt: fixed.Add(-time.Hour), UpdatedAt: fixed.Add(-time.Hour)}
	repo := &fakeOrderRepo{expirable: []*domain.Order{order}}

	ctx := clockctx.WithClock(context.Background(), clockctx.FixedClock{T: fixed})
	job := &scheduler.ExpireOrdersJob{Orders: repo, Log: zerolog.Nop()}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected order to be stamped with the injected clock's time %v, got %v", fixed, order.UpdatedAt)
	}
}

func TestReconcileJob_AdvancesOrderToBrokerReportedFill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/connections/u1/alpaca":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok", "status": "CONNECTED", "expires_at": time.Now().Add(time.Hour)})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"BrokerOrderID": "B-9", "Status": "FILLED", "FilledQuantity": 10})
		}
	}))
	t.Cleanup(server.Close)

	broker := adapters.NewBrokerAuthAdapter(server.URL, "key", 5*time.Second, testBreaker())
	order := &domain.Order{OrderID: "O-2", UserID: "u1", BrokerName: "alpaca", BrokerOrderID: "B-9", Status: domain.StatusSubmitted, Quantity: 10, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	repo := &fakeOrderRepo{byUser: map[string][]*domain.Order{"u1": {order}}}

	job := &scheduler.ReconcileJob{Orders: repo, Broker: broker, Users: []string{"u1"}, Log: zerolog.Nop()}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.StatusFilled {
		t.Fatalf("expected order reconciled to FILLED, got %s", order.Status)
	}
}

func TestDrainPortfolioQueueJob_SkipsWhileBreakerOpen(t *testing.T) {
	breaker := testBreaker()
	for i := 0; i < 12; i++ {
		_, _ = breaker.Run(context.Background(), func(ctx context.Context) (any, error) {
			return nil, context.DeadlineExceeded
		})
	}
	portfolio := adapters.NewPortfolioAdapter("http://unused", time.Second, breaker)

	job := &scheduler.DrainPortfolioQueueJob{Portfolio: portfolio, Breaker: breaker, Log: zerolog.Nop()}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetricsSnapshotJob_PublishesWithoutError(t *testing.T) {
	breaker := testBreaker()
	portfolio := adapters.NewPortfolioAdapter("http://unused", time.Second, breaker)
	job := &scheduler.MetricsSnapshotJob{Breakers: map[string]*resilience.Breaker{"order": breaker}, Portfolio: portfolio}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
