package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trading-order-core/libs/domain"
)

// RiskLimitsRepository persists per-user risk limit overrides (§3, §6.3).
type RiskLimitsRepository struct {
	db *sql.DB
}

func NewRiskLimitsRepository(db *sql.DB) *RiskLimitsRepository {
	return &RiskLimitsRepository{db: db}
}

// Get returns a user's limits, falling back to domain.DefaultRiskLimits
// when the user has no bespoke row on file.
func (r *RiskLimitsRepository) Get(ctx context.Context, userID string) (domain.RiskLimits, error) {
	var limits domain.RiskLimits
	var maxPosition, maxSingle, dayTradingBP sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT max_position_value, max_single_order_value, max_daily_trades, max_open_orders, pattern_day_trader, day_trading_buying_power
		FROM risk_limits WHERE user_id = $1
	`, userID).Scan(&maxPosition, &maxSingle, &limits.MaxDailyTrades, &limits.MaxOpenOrders, &limits.PatternDayTrader, &dayTradingBP)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultRiskLimits(userID), nil
	}
	if err != nil {
		return domain.RiskLimits{}, fmt.Errorf("repository: get risk limits: %w", err)
	}
	limits.UserID = userID
	limits.MaxPositionValue = parseDecimalOrZero(maxPosition)
	limits.MaxSingleOrderValue = parseDecimalOrZero(maxSingle)
	limits.DayTradingBuyingPower = parseDecimalOrZero(dayTradingBP)
	return limits, nil
}

// Upsert writes a user's bespoke risk limits.
func (r *RiskLimitsRepository) Upsert(ctx context.Context, limits domain.RiskLimits) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO risk_limits (user_id, max_position_value, max_single_order_value, max_daily_trades, max_open_orders, pattern_day_trader, day_trading_buying_power)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET
			max_position_value = EXCLUDED.max_position_value,
			max_single_order_value = EXCLUDED.max_single_order_value,
			max_daily_trades = EXCLUDED.max_daily_trades,
			max_open_orders = EXCLUDED.max_open_orders,
			pattern_day_trader = EXCLUDED.pattern_day_trader,
			day_trading_buying_power = EXCLUDED.day_trading_buying_power
	`, limits.UserID, limits.MaxPositionValue, limits.MaxSingleOrderValue, limits.MaxDailyTrades, limits.MaxOpenOrders, limits.PatternDayTrader, limits.DayTradingBuyingPower)
	if err != nil {
		return fmt.Errorf("repository: upsert risk limits: %w", err)
	}
	return nil
}
