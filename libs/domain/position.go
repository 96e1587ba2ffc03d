package domain

import "github.com/shopspring/decimal"

// Position is the standing (quantity, average cost) of a user in a symbol
// on an exchange, keyed by (user, symbol, exchange) (§3).
type Position struct {
	UserID         string
	Symbol         string
	Exchange       string
	Quantity       decimal.Decimal // signed: negative means net short
	AverageCost    decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	LastPrice      decimal.Decimal
}

// ApplyTrade folds a trade into the position per the §3 invariant: BUY
// increments quantity and recomputes average-cost as volume-weighted; SELL
// decrements quantity, updates realized P&L, and leaves average-cost
// unchanged (the source's SELL behavior — short-position P&L semantics
// stay undefined, per §9's open question).
func (p *Position) ApplyTrade(t Trade) {
	qty := decimal.NewFromInt(t.Quantity)
	switch t.Side {
	case SideBuy:
		newQty := p.Quantity.Add(qty)
		if newQty.IsZero() {
			p.AverageCost = decimal.Zero
		} else if p.Quantity.Sign() >= 0 {
			weightedOld := p.AverageCost.Mul(p.Quantity)
			weightedNew := t.Price.Mul(qty)
			p.AverageCost = weightedOld.Add(weightedNew).Div(newQty)
		}
		p.Quantity = newQty
	case SideSell:
		realized := t.Price.Sub(p.AverageCost).Mul(qty)
		p.RealizedPnL = p.RealizedPnL.Add(realized)
		p.Quantity = p.Quantity.Sub(qty)
		// average-cost intentionally unchanged on SELL; short-position cost basis is undefined (§9).
	}
}

// ConcentrationPercent returns this position's share of total portfolio
// value, used by the risk engine's concentration check (§4.2 check 5).
func ConcentrationPercent(positionValue, totalPortfolioValue decimal.Decimal) decimal.Decimal {
	if totalPortfolioValue.IsZero() {
		return decimal.Zero
	}
	return positionValue.Div(totalPortfolioValue).Mul(decimal.NewFromInt(100))
}
