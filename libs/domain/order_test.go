package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
)

func TestNewOrderID_FormatAndUniqueness(t *testing.T) {
	now := time.Now()
	a := domain.NewOrderID(now)
	b := domain.NewOrderID(now)
	if a == b {
		t.Fatal("expected distinct order ids even for the same instant")
	}
	if len(a) < len("TM-0-00000000") {
		t.Errorf("unexpected order id shape: %s", a)
	}
	if a[:3] != "TM-" {
		t.Errorf("expected TM- prefix, got %s", a)
	}
}

func TestOrder_TransitionFollowsAllowedGraph(t *testing.T) {
	o := &domain.Order{OrderID: "TM-1", Status: domain.StatusPending}
	now := time.Now()

	if err := o.Transition(domain.StatusValidated, now); err != nil {
		t.Fatalf("PENDING->VALIDATED should be allowed: %v", err)
	}
	if err := o.Transition(domain.StatusSubmitted, now); err != nil {
		t.Fatalf("VALIDATED->SUBMITTED should be allowed: %v", err)
	}
	if o.SubmittedAt == nil {
		t.Error("expected SubmittedAt to be stamped on transition to SUBMITTED")
	}
	if err := o.Transition(domain.StatusAcknowledged, now); err != nil {
		t.Fatalf("SUBMITTED->ACKNOWLEDGED should be allowed: %v", err)
	}
	if err := o.Transition(domain.StatusFilled, now); err != nil {
		t.Fatalf("ACKNOWLEDGED->FILLED should be allowed: %v", err)
	}
	if o.ExecutedAt == nil {
		t.Error("expected ExecutedAt to be stamped on transition to FILLED")
	}
}

func TestOrder_IllegalTransitionRejected(t *testing.T) {
	o := &domain.Order{OrderID: "TM-2", Status: domain.StatusPending}
	err := o.Transition(domain.StatusFilled, time.Now())
	if err == nil {
		t.Fatal("expected PENDING->FILLED to be rejected")
	}
	if _, ok := err.(domain.ErrIllegalTransition); !ok {
		t.Errorf("expected ErrIllegalTransition, got %T: %v", err, err)
	}
}

func TestOrder_TerminalOrderRejectsAnyTransition(t *testing.T) {
	o := &domain.Order{OrderID: "TM-3", Status: domain.StatusFilled}
	err := o.Transition(domain.StatusCancelled, time.Now())
	if err == nil {
		t.Fatal("expected terminal order to reject any further transition")
	}
	if _, ok := err.(domain.ErrTerminalOrder); !ok {
		t.Errorf("expected ErrTerminalOrder, got %T: %v", err, err)
	}
}

func TestStatus_TerminalClassification(t *testing.T) {
	terminal := []domain.Status{domain.StatusFilled, domain.StatusCancelled, domain.StatusRejected, domain.StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []domain.Status{domain.StatusPending, domain.StatusValidated, domain.StatusSubmitted, domain.StatusAcknowledged, domain.StatusPartiallyFilled}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestStatus_ModifiableOnlyAcknowledgedOrPartiallyFilled(t *testing.T) {
	if !domain.StatusAcknowledged.Modifiable() {
		t.Error("expected ACKNOWLEDGED to be modifiable")
	}
	if !domain.StatusPartiallyFilled.Modifiable() {
		t.Error("expected PARTIALLY_FILLED to be modifiable")
	}
	if domain.StatusPending.Modifiable() {
		t.Error("expected PENDING to not be modifiable")
	}
}

func TestOrder_ApplyFillComputesVolumeWeightedAveragePrice(t *testing.T) {
	o := &domain.Order{Quantity: 100}
	o.ApplyFill(domain.Fill{Quantity: 40, Price: decimal.NewFromInt(10)})
	o.ApplyFill(domain.Fill{Quantity: 60, Price: decimal.NewFromInt(20)})

	if o.FilledQuantity != 100 {
		t.Fatalf("expected FilledQuantity 100, got %d", o.FilledQuantity)
	}
	want := decimal.NewFromInt(40).Mul(decimal.NewFromInt(10)).
		Add(decimal.NewFromInt(60).Mul(decimal.NewFromInt(20))).
		Div(decimal.NewFromInt(100))
	if !o.AverageFillPrice.Equal(want) {
		t.Errorf("expected average fill price %s, got %s", want, o.AverageFillPrice)
	}
}

func TestOrder_RemainingQuantityAndFillRate(t *testing.T) {
	o := &domain.Order{Quantity: 100, FilledQuantity: 30}
	if o.RemainingQuantity() != 70 {
		t.Errorf("expected remaining quantity 70, got %d", o.RemainingQuantity())
	}
	if !o.FillRatePercent().Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected fill rate 30%%, got %s", o.FillRatePercent())
	}
}

func TestOrderType_PriceRequirements(t *testing.T) {
	if !domain.OrderTypeLimit.RequiresLimitPrice() {
		t.Error("expected LIMIT to require a limit price")
	}
	if !domain.OrderTypeStopLimit.RequiresLimitPrice() {
		t.Error("expected STOP_LIMIT to require a limit price")
	}
	if domain.OrderTypeMarket.RequiresLimitPrice() {
		t.Error("expected MARKET to not require a limit price")
	}
	if !domain.OrderTypeStopLoss.RequiresStopPrice() {
		t.Error("expected STOP_LOSS to require a stop price")
	}
	if !domain.OrderTypeStopLimit.RequiresStopPrice() {
		t.Error("expected STOP_LIMIT to require a stop price")
	}
}

func TestCanTransition_UnknownFromStateHasNoOutgoing(t *testing.T) {
	if domain.CanTransition(domain.StatusFilled, domain.StatusPending) {
		t.Error("expected no outgoing transitions from a terminal state")
	}
}
