// Package repository persists the order-core aggregates (C5, §4.8, §6.4):
// orders, fills, trades, positions and risk limits, plus the audit trail
// appended on every state-changing write. Built directly on database/sql
// over libs/database's pgx-backed *DB, the way the execution subsystem's
// Postgres store issues raw parameterized SQL with no ORM in between.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("repository: entity not found")

// OrderRepository persists Order aggregates and appends an audit row on
// every state-changing write (§6.4: "on every mutation of orders ... an
// audit row is appended").
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert persists a newly created order at its current status inside its own audit-logged
// transaction.
func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		metadata, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("repository: marshal metadata: %w", err)
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO orders (
				order_id, user_id, symbol, exchange, side, order_type, quantity,
				limit_price, stop_price, time_in_force, expiry_date, status,
				broker_order_id, broker_name, filled_quantity, average_fill_price,
				metadata, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			RETURNING id
		`,
			o.OrderID, o.UserID, o.Symbol, o.Exchange, o.Side, o.OrderType, o.Quantity,
			nullDecimal(o.LimitPrice), nullDecimal(o.StopPrice), o.TimeInForce, o.ExpiryDate, o.Status,
			nullString(o.BrokerOrderID), nullString(o.BrokerName), o.FilledQuantity, o.AverageFillPrice,
			metadata, o.CreatedAt, o.UpdatedAt,
		).Scan(&o.ID)
		if err != nil {
			return fmt.Errorf("repository: insert order: %w", err)
		}
		return appendAudit(ctx, tx, "system", "CREATE", domain.EntityOrder, o.OrderID, nil, o)
	})
}

// Update persists a state-changing mutation to an existing order, recording
// before/after snapshots in the audit log within the same transaction.
func (r *OrderRepository) Update(ctx context.Context, before, after *domain.Order) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		metadata, err := json.Marshal(after.Metadata)
		if err != nil {
			return fmt.Errorf("repository: marshal metadata: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET
				status = $1, broker_order_id = $2, broker_name = $3,
				filled_quantity = $4, average_fill_price = $5, rejection_reason = $6,
				metadata = $7, updated_at = $8, submitted_at = $9, executed_at = $10
			WHERE order_id = $11
		`,
			after.Status, nullString(after.BrokerOrderID), nullString(after.BrokerName),
			after.FilledQuantity, after.AverageFillPrice, nullString(after.RejectionReason),
			metadata, after.UpdatedAt, after.SubmittedAt, after.ExecutedAt,
			after.OrderID,
		)
		if err != nil {
			return fmt.Errorf("repository: update order: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return appendAudit(ctx, tx, "system", "UPDATE", domain.EntityOrder, after.OrderID, before, after)
	})
}

// GetByOrderID loads an order by its externally visible id.
func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, user_id, symbol, exchange, side, order_type, quantity,
			limit_price, stop_price, time_in_force, expiry_date, status,
			broker_order_id, broker_name, filled_quantity, average_fill_price,
			rejection_reason, metadata, created_at, updated_at, submitted_at, executed_at
		FROM orders WHERE order_id = $1
	`, orderID)
	return scanOrder(row)
}

// ListByUser returns a user's orders, optionally filtered by status.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, status domain.Status) ([]*domain.Order, error) {
	query := `
		SELECT id, order_id, user_id, symbol, exchange, side, order_type, quantity,
			limit_price, stop_price, time_in_force, expiry_date, status,
			broker_order_id, broker_name, filled_quantity, average_fill_price,
			rejection_reason, metadata, created_at, updated_at, submitted_at, executed_at
		FROM orders WHERE user_id = $1
	`
	args := []any{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: list orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListByUserPaged is ListByUser with limit/offset paging, for the §6.1
// list(user, status?, paging) read.
func (r *OrderRepository) ListByUserPaged(ctx context.Context, userID string, status domain.Status, limit, offset int) ([]*domain.Order, error) {
	query := `
		SELECT id, order_id, user_id, symbol, exchange, side, order_type, quantity,
			limit_price, stop_price, time_in_force, expiry_date, status,
			broker_order_id, broker_name, filled_quantity, average_fill_price,
			rejection_reason, metadata, created_at, updated_at, submitted_at, executed_at
		FROM orders WHERE user_id = $1
	`
	args := []any{userID}
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: list orders paged: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountsByStatus returns a user's order counts grouped by status, for the
// §6.1 counts(user) status histogram.
func (r *OrderRepository) CountsByStatus(ctx context.Context, userID string) (map[domain.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM orders WHERE user_id = $1 GROUP BY status
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: count orders by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("repository: scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListExpirable returns ACKNOWLEDGED/PARTIALLY_FILLED orders whose
// expiry_date has passed, or whose DAY time-in-force session has ended,
// for the lifecycle scheduler's expiry job (§4.11).
func (r *OrderRepository) ListExpirable(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, user_id, symbol, exchange, side, order_type, quantity,
			limit_price, stop_price, time_in_force, expiry_date, status,
			broker_order_id, broker_name, filled_quantity, average_fill_price,
			rejection_reason, metadata, created_at, updated_at, submitted_at, executed_at
		FROM orders
		WHERE status IN ('ACKNOWLEDGED', 'PARTIALLY_FILLED')
		  AND (
			(time_in_force = 'GTD' AND expiry_date <= $1) OR
			(time_in_force = 'DAY' AND created_at::date < $1::date)
		  )
	`, now)
	if err != nil {
		return nil, fmt.Errorf("repository: list expirable orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var limitPrice, stopPrice sql.NullString
	var brokerOrderID, brokerName, rejectionReason sql.NullString
	var metadata []byte

	err := row.Scan(
		&o.ID, &o.OrderID, &o.UserID, &o.Symbol, &o.Exchange, &o.Side, &o.OrderType, &o.Quantity,
		&limitPrice, &stopPrice, &o.TimeInForce, &o.ExpiryDate, &o.Status,
		&brokerOrderID, &brokerName, &o.FilledQuantity, &o.AverageFillPrice,
		&rejectionReason, &metadata, &o.CreatedAt, &o.UpdatedAt, &o.SubmittedAt, &o.ExecutedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: scan order: %w", err)
	}

	if limitPrice.Valid {
		d, perr := decimal.NewFromString(limitPrice.String)
		if perr != nil {
			return nil, fmt.Errorf("repository: parse limit_price: %w", perr)
		}
		o.LimitPrice = &d
	}
	if stopPrice.Valid {
		d, perr := decimal.NewFromString(stopPrice.String)
		if perr != nil {
			return nil, fmt.Errorf("repository: parse stop_price: %w", perr)
		}
		o.StopPrice = &d
	}
	o.BrokerOrderID = brokerOrderID.String
	o.BrokerName = brokerName.String
	o.RejectionReason = rejectionReason.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
			return nil, fmt.Errorf("repository: unmarshal metadata: %w", err)
		}
	}
	return &o, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit tx: %w", err)
	}
	return nil
}

func appendAudit(ctx context.Context, tx *sql.Tx, actor, action string, kind domain.EntityKind, entityID string, before, after any) error {
	var oldSnap, newSnap []byte
	var err error
	if before != nil {
		oldSnap, err = json.Marshal(before)
		if err != nil {
			return fmt.Errorf("repository: marshal audit before-snapshot: %w", err)
		}
	}
	if after != nil {
		newSnap, err = json.Marshal(after)
		if err != nil {
			return fmt.Errorf("repository: marshal audit after-snapshot: %w", err)
		}
	}
	correlationID, _ := ctx.Value(correlationIDKey{}).(string)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trading_audit_log (actor, action, entity_kind, entity_id, old_snapshot, new_snapshot, correlation_id, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, actor, action, kind, entityID, oldSnap, newSnap, correlationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: append audit row: %w", err)
	}
	return nil
}

// correlationIDKey is the context key under which a caller may stash a
// correlation id to be recorded alongside every audit row this request
// triggers (§6 API contract: correlation id threading).
type correlationIDKey struct{}

// WithCorrelationID attaches a correlation id to ctx for audit logging.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}
