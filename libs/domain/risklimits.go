package domain

import "github.com/shopspring/decimal"

// RiskLimits are the per-user thresholds the risk engine (C7) enforces
// (§3). Unique by user.
type RiskLimits struct {
	UserID                string
	MaxPositionValue      decimal.Decimal
	MaxSingleOrderValue   decimal.Decimal
	MaxDailyTrades        int
	MaxOpenOrders         int
	PatternDayTrader      bool
	DayTradingBuyingPower decimal.Decimal
}

// DefaultRiskLimits returns the §6.3 configuration defaults for a user with
// no bespoke limits on file.
func DefaultRiskLimits(userID string) RiskLimits {
	return RiskLimits{
		UserID:              userID,
		MaxPositionValue:    decimal.NewFromInt(10_000_000),
		MaxSingleOrderValue: decimal.NewFromInt(10_000_000),
		MaxDailyTrades:      100,
		MaxOpenOrders:       50,
	}
}
