package risk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
	"trading-order-core/libs/resultx"
	"trading-order-core/libs/risk"
)

type stubGateway struct {
	impact risk.PortfolioImpact
	err    error
}

func (s *stubGateway) CalculateImpact(_ context.Context, _, _ string, _ int64, _ decimal.Decimal, _ domain.Side) (risk.PortfolioImpact, error) {
	return s.impact, s.err
}

func roomyImpact() risk.PortfolioImpact {
	return risk.PortfolioImpact{
		AvailableBuyingPower:   decimal.NewFromInt(1_000_000_000),
		RequiredValue:          decimal.Zero,
		CurrentPositionValue:   decimal.Zero,
		MaxPositionValue:       decimal.NewFromInt(1_000_000_000),
		TotalPortfolioValue:    decimal.NewFromInt(1_000_000_000),
		ProjectedMarginUsage:   decimal.NewFromFloat(0.1),
		MarginImpactAcceptable: true,
	}
}

func baseRequest() risk.CheckRequest {
	price := decimal.NewFromInt(100)
	return risk.CheckRequest{
		UserID:         "u1",
		Symbol:         "AAPL",
		Side:           domain.SideBuy,
		Quantity:       10,
		OrderType:      domain.OrderTypeLimit,
		LimitPrice:     &price,
		ReferencePrice: &price,
		Limits:         domain.DefaultRiskLimits("u1"),
	}
}

func TestEngineCheck_Passes(t *testing.T) {
	e := risk.NewEngine(risk.DefaultPolicy(), &stubGateway{impact: roomyImpact()}, nil)
	issues := e.Check(context.Background(), baseRequest())
	if !issues.Empty() {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestEngineCheck_FromFallbackImpactAddsAdvisoryButDoesNotBlock(t *testing.T) {
	impact := roomyImpact()
	impact.FromFallback = true
	e := risk.NewEngine(risk.DefaultPolicy(), &stubGateway{impact: impact}, nil)

	issues := e.Check(context.Background(), baseRequest())
	if issues.Empty() {
		t.Fatal("expected an advisory issue for a fallback-sourced portfolio impact")
	}
	if issues.Blocking() {
		t.Fatalf("a fallback advisory must not block the trade, got %v", issues)
	}
	count := 0
	for _, i := range issues {
		if i.Code == resultx.CodeCircuitBreakerOpen {
			count++
			if i.Severity != resultx.SeverityLow {
				t.Errorf("expected LOW severity for the fallback advisory, got %s", i.Severity)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one fallback advisory even though four checks observe the same impact, got %d", count)
	}
}

func TestEngineCheck_OrderValueExceeded(t *testing.T) {
	policy := risk.DefaultPolicy()
	policy.MaxOrderValue = decimal.NewFromInt(500)
	e := risk.NewEngine(policy, &stubGateway{impact: roomyImpact()}, nil)

	issues := e.Check(context.Background(), baseRequest())
	if issues.Empty() {
		t.Fatal("expected order-value issue")
	}
	found := false
	for _, i := range issues {
		if i.Code == resultx.CodeOrderValueLimitExceeded {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s among issues, got %v", resultx.CodeOrderValueLimitExceeded, issues)
	}
}

func TestEngineCheck_DailyTradeLimitExceeded(t *testing.T) {
	policy := risk.DefaultPolicy()
	policy.MaxDailyTrades = 1
	counter := risk.NewDailyTradeCounter()
	now := time.Now()
	counter.Increment("u1", now)

	e := risk.NewEngine(policy, &stubGateway{impact: roomyImpact()}, counter)
	issues := e.Check(context.Background(), baseRequest())

	foundDaily := false
	for _, i := range issues {
		if i.Code == resultx.CodeDailyTradeLimitExceeded {
			foundDaily = true
		}
	}
	if !foundDaily {
		t.Errorf("expected daily trade limit issue, got %v", issues)
	}
}

func TestEngineCheck_PortfolioAdapterFailureIsCritical(t *testing.T) {
	e := risk.NewEngine(risk.DefaultPolicy(), &stubGateway{err: errors.New("portfolio down")}, nil)
	issues := e.Check(context.Background(), baseRequest())
	if issues.Empty() {
		t.Fatal("expected issues from adapter failure")
	}
	if issues.MaxSeverity() != resultx.SeverityCritical {
		t.Errorf("expected CRITICAL severity, got %s", issues.MaxSeverity())
	}
	if !issues.Blocking() {
		t.Error("expected adapter failure issues to block")
	}
}

func TestEngineCheck_MarginUnacceptableBlocks(t *testing.T) {
	impact := roomyImpact()
	impact.MarginImpactAcceptable = false
	e := risk.NewEngine(risk.DefaultPolicy(), &stubGateway{impact: impact}, nil)

	issues := e.Check(context.Background(), baseRequest())
	found := false
	for _, i := range issues {
		if i.Code == resultx.CodeMarginRequirementNotMet {
			found = true
		}
	}
	if !found {
		t.Errorf("expected margin issue, got %v", issues)
	}
}

func TestDailyTradeCounterResetsOnNewDay(t *testing.T) {
	c := risk.NewDailyTradeCounter()
	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)

	c.Increment("u1", day1)
	c.Increment("u1", day1)
	if got := c.Count("u1", day1); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
	if got := c.Count("u1", day2); got != 0 {
		t.Fatalf("expected count reset to 0 on new day, got %d", got)
	}
}
