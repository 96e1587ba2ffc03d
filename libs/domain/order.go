// Package domain holds the aggregate types the order core persists and
// transitions: Order, Fill, Trade, Position, RiskLimits and AuditEntry. It
// is the shared vocabulary every other package (validation, risk, execution,
// orchestration, repository) imports, built around a single aggregate root
// with its own state machine and invariants.
package domain

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType determines which price fields are required (§4.1).
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "STOP_LOSS"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// TimeInForce governs how long an order remains live.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFGTD TimeInForce = "GTD"
)

// Status is a node in the order lifecycle state machine (§4.10).
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusValidated       Status = "VALIDATED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusAcknowledged    Status = "ACKNOWLEDGED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Terminal reports whether a status is a terminal state; once there, an
// Order's attributes are frozen except audit fields (§3).
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Modifiable reports whether an order in this status may be modified (§4.10).
func (s Status) Modifiable() bool {
	return s == StatusAcknowledged || s == StatusPartiallyFilled
}

// allowedTransitions encodes the state machine graph from §4.10. A status
// not present in the map has no outgoing transitions (it is terminal).
var allowedTransitions = map[Status][]Status{
	StatusPending:         {StatusValidated, StatusRejected},
	StatusValidated:       {StatusSubmitted, StatusRejected},
	StatusSubmitted:       {StatusAcknowledged, StatusRejected},
	StatusAcknowledged:    {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired, StatusRejected},
	StatusPartiallyFilled: {StatusFilled, StatusCancelled, StatusExpired},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned by Order.Transition on a disallowed move.
type ErrIllegalTransition struct {
	From, To Status
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}

// ErrTerminalOrder is returned when a mutation is attempted on a terminal order.
type ErrTerminalOrder struct {
	OrderID string
	Status  Status
}

func (e ErrTerminalOrder) Error() string {
	return fmt.Sprintf("order %s is terminal (%s), no further mutation allowed", e.OrderID, e.Status)
}

// Order is the aggregate root of the core (§3).
type Order struct {
	ID               int64
	OrderID          string // externally visible, format TM-<epoch>-<random>
	UserID           string
	Symbol           string
	Exchange         string
	Side             Side
	OrderType        OrderType
	Quantity         int64
	LimitPrice       *decimal.Decimal
	StopPrice        *decimal.Decimal
	TimeInForce      TimeInForce
	ExpiryDate       *time.Time
	Status           Status
	BrokerOrderID    string
	BrokerName       string
	FilledQuantity   int64
	AverageFillPrice decimal.Decimal
	RejectionReason  string
	Metadata         map[string]string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
	ExecutedAt  *time.Time
}

// NewOrderID mints an externally visible identifier of the form
// TM-<epoch>-<random> (§3).
func NewOrderID(now time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("TM-%d-%x", now.UnixNano(), buf)
}

// Transition moves the order to a new status, enforcing the state-machine
// graph and the terminal-state freeze (§3, §4.10).
func (o *Order) Transition(to Status, now time.Time) error {
	if o.Status.Terminal() {
		return ErrTerminalOrder{OrderID: o.OrderID, Status: o.Status}
	}
	if !CanTransition(o.Status, to) {
		return ErrIllegalTransition{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case StatusSubmitted:
		o.SubmittedAt = &now
	case StatusFilled:
		o.ExecutedAt = &now
	}
	return nil
}

// RemainingQuantity is quantity not yet filled.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// RequiresLimitPrice reports whether this order type needs a limit price (§4.1).
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresStopPrice reports whether this order type needs a stop price (§4.1).
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStopLoss || t == OrderTypeStopLimit
}

// ApplyFill folds a fill into the order's filled-quantity and
// volume-weighted average-fill-price (§3 Fill invariant).
func (o *Order) ApplyFill(f Fill) {
	prevQty := decimal.NewFromInt(o.FilledQuantity)
	newQty := decimal.NewFromInt(f.Quantity)
	totalQty := prevQty.Add(newQty)
	if totalQty.IsZero() {
		return
	}
	weightedPrev := o.AverageFillPrice.Mul(prevQty)
	weightedNew := f.Price.Mul(newQty)
	o.AverageFillPrice = weightedPrev.Add(weightedNew).Div(totalQty)
	o.FilledQuantity += f.Quantity
}

// FillRatePercent returns the percentage of quantity filled, used by the
// partial-fill policy (§4.9 step 6).
func (o *Order) FillRatePercent() decimal.Decimal {
	if o.Quantity == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(o.FilledQuantity).Div(decimal.NewFromInt(o.Quantity)).Mul(decimal.NewFromInt(100))
}
