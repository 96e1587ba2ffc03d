package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
)

// TradeRepository persists Fill and Trade records and, on every trade
// insert, atomically upserts the matching Position with a volume-weighted
// average cost — the application-level equivalent of the §6.4 database
// trigger, done inside the same transaction so readers never observe a
// trade without its position update.
type TradeRepository struct {
	db *sql.DB
}

func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// RecordFill inserts a fill row and stores its generated id in f.ID.
func (r *TradeRepository) RecordFill(ctx context.Context, f *domain.Fill) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO order_fills (order_id, quantity, price, fill_time, broker_fill_id, commission, taxes)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id
		`, f.OrderID, f.Quantity, f.Price, f.FillTime, nullString(f.BrokerFillID), f.Commission, f.Taxes,
		).Scan(&f.ID)
	})
}

// RecordTrade inserts a trade and upserts the affected position within one
// transaction, then appends the audit rows for both (§6.4).
func (r *TradeRepository) RecordTrade(ctx context.Context, t *domain.Trade) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO trades (trade_id, order_id, fill_id, user_id, symbol, exchange, side, quantity, price, net_amount, settlement_date, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING id
		`, t.TradeID, t.OrderID, t.FillID, t.UserID, t.Symbol, t.Exchange, t.Side, t.Quantity, t.Price, t.NetAmount, t.SettlementDate, t.CreatedAt,
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("repository: insert trade: %w", err)
		}
		if err := appendAudit(ctx, tx, "system", "CREATE", domain.EntityTrade, t.TradeID, nil, t); err != nil {
			return err
		}
		return upsertPosition(ctx, tx, *t)
	})
}

// upsertPosition folds a trade into the (user, symbol, exchange) position
// row with volume-weighted average cost, matching domain.Position.ApplyTrade.
func upsertPosition(ctx context.Context, tx *sql.Tx, t domain.Trade) error {
	var before domain.Position
	var quantity, avgCost, realized sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT quantity, average_cost, realized_pnl FROM portfolios
		WHERE user_id = $1 AND symbol = $2 AND exchange = $3
		FOR UPDATE
	`, t.UserID, t.Symbol, t.Exchange).Scan(&quantity, &avgCost, &realized)

	before = domain.Position{UserID: t.UserID, Symbol: t.Symbol, Exchange: t.Exchange}
	if err == nil {
		before.Quantity = parseDecimalOrZero(quantity)
		before.AverageCost = parseDecimalOrZero(avgCost)
		before.RealizedPnL = parseDecimalOrZero(realized)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("repository: lock position: %w", err)
	}

	after := before
	after.ApplyTrade(t)
	after.LastPrice = t.Price

	_, err = tx.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, symbol, exchange, quantity, average_cost, realized_pnl, unrealized_pnl, last_price, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (user_id, symbol, exchange) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_cost = EXCLUDED.average_cost,
			realized_pnl = EXCLUDED.realized_pnl,
			last_price = EXCLUDED.last_price,
			updated_at = now()
	`, after.UserID, after.Symbol, after.Exchange, after.Quantity, after.AverageCost, after.RealizedPnL, after.UnrealizedPnL, after.LastPrice)
	if err != nil {
		return fmt.Errorf("repository: upsert position: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO portfolio_history (user_id, symbol, exchange, quantity, average_cost, realized_pnl, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
	`, after.UserID, after.Symbol, after.Exchange, after.Quantity, after.AverageCost, after.RealizedPnL)
	if err != nil {
		return fmt.Errorf("repository: record position history: %w", err)
	}

	return appendAudit(ctx, tx, "system", "UPDATE", domain.EntityPosition, after.UserID+"/"+after.Symbol+"/"+after.Exchange, before, after)
}

func parseDecimalOrZero(s sql.NullString) decimal.Decimal {
	if !s.Valid {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetPosition loads a user's standing position in a symbol/exchange.
func (r *TradeRepository) GetPosition(ctx context.Context, userID, symbol, exchange string) (*domain.Position, error) {
	var p domain.Position
	var quantity, avgCost, realized, unrealized, lastPrice sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT quantity, average_cost, realized_pnl, unrealized_pnl, last_price
		FROM portfolios WHERE user_id = $1 AND symbol = $2 AND exchange = $3
	`, userID, symbol, exchange).Scan(&quantity, &avgCost, &realized, &unrealized, &lastPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get position: %w", err)
	}
	p.UserID, p.Symbol, p.Exchange = userID, symbol, exchange
	p.Quantity = parseDecimalOrZero(quantity)
	p.AverageCost = parseDecimalOrZero(avgCost)
	p.RealizedPnL = parseDecimalOrZero(realized)
	p.UnrealizedPnL = parseDecimalOrZero(unrealized)
	p.LastPrice = parseDecimalOrZero(lastPrice)
	return &p, nil
}

// ListPositions returns every position a user holds, for the risk engine's
// concentration/position-limit checks (§4.2 checks 4-5).
func (r *TradeRepository) ListPositions(ctx context.Context, userID string) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, exchange, quantity, average_cost, realized_pnl, unrealized_pnl, last_price
		FROM portfolios WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: list positions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p := &domain.Position{UserID: userID}
		var quantity, avgCost, realized, unrealized, lastPrice sql.NullString
		if err := rows.Scan(&p.Symbol, &p.Exchange, &quantity, &avgCost, &realized, &unrealized, &lastPrice); err != nil {
			return nil, fmt.Errorf("repository: scan position: %w", err)
		}
		p.Quantity = parseDecimalOrZero(quantity)
		p.AverageCost = parseDecimalOrZero(avgCost)
		p.RealizedPnL = parseDecimalOrZero(realized)
		p.UnrealizedPnL = parseDecimalOrZero(unrealized)
		p.LastPrice = parseDecimalOrZero(lastPrice)
		out = append(out, p)
	}
	return out, rows.Err()
}
