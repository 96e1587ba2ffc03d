package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
)

func TestPosition_ApplyTradeBuyRecomputesAverageCost(t *testing.T) {
	p := &domain.Position{Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100)}
	p.ApplyTrade(domain.Trade{Side: domain.SideBuy, Quantity: 10, Price: decimal.NewFromInt(200)})

	if !p.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected quantity 20, got %s", p.Quantity)
	}
	want := decimal.NewFromInt(150) // (10*100 + 10*200) / 20
	if !p.AverageCost.Equal(want) {
		t.Errorf("expected average cost %s, got %s", want, p.AverageCost)
	}
}

func TestPosition_ApplyTradeSellUpdatesRealizedPnLLeavesCostBasis(t *testing.T) {
	p := &domain.Position{Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100)}
	p.ApplyTrade(domain.Trade{Side: domain.SideSell, Quantity: 4, Price: decimal.NewFromInt(150)})

	if !p.Quantity.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected quantity 6, got %s", p.Quantity)
	}
	wantPnL := decimal.NewFromInt(150).Sub(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(4))
	if !p.RealizedPnL.Equal(wantPnL) {
		t.Errorf("expected realized pnl %s, got %s", wantPnL, p.RealizedPnL)
	}
	if !p.AverageCost.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected average cost to remain unchanged on SELL, got %s", p.AverageCost)
	}
}

func TestPosition_ApplyTradeBuyClosingOutShortResetsAverageCost(t *testing.T) {
	p := &domain.Position{Quantity: decimal.NewFromInt(-5), AverageCost: decimal.NewFromInt(50)}
	p.ApplyTrade(domain.Trade{Side: domain.SideBuy, Quantity: 5, Price: decimal.NewFromInt(60)})

	if !p.Quantity.IsZero() {
		t.Fatalf("expected flat position, got %s", p.Quantity)
	}
	if !p.AverageCost.IsZero() {
		t.Errorf("expected average cost reset to zero on flattening, got %s", p.AverageCost)
	}
}

func TestConcentrationPercent(t *testing.T) {
	pct := domain.ConcentrationPercent(decimal.NewFromInt(30), decimal.NewFromInt(100))
	if !pct.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected 30%%, got %s", pct)
	}
	zero := domain.ConcentrationPercent(decimal.NewFromInt(30), decimal.Zero)
	if !zero.IsZero() {
		t.Errorf("expected 0%% concentration when portfolio value is zero, got %s", zero)
	}
}
