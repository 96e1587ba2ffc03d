package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is a single execution event against an Order; an order accumulates
// several over its lifetime (§3, GLOSSARY).
type Fill struct {
	ID           int64
	OrderID      string
	Quantity     int64
	Price        decimal.Decimal
	FillTime     time.Time
	BrokerFillID string
	Commission   decimal.Decimal
	Taxes        decimal.Decimal
}

// Trade is a completed execution unit derived from a Fill; it carries
// settlement data and triggers a Position mutation (§3).
type Trade struct {
	ID             int64
	TradeID        string
	OrderID        string
	FillID         int64
	UserID         string
	Symbol         string
	Exchange       string
	Side           Side
	Quantity       int64
	Price          decimal.Decimal
	NetAmount      decimal.Decimal
	SettlementDate time.Time
	CreatedAt      time.Time
}
