// Package validation implements the multi-stage validation pipeline (C6,
// §4.1): a set of independent checks over an order request, each
// accumulating into a resultx.Issues rather than short-circuiting on the
// first failure, accumulating via libs/resultx the same way libs/risk
// accumulates its own check outcomes.
package validation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
	"trading-order-core/libs/resultx"
)

// lotSize returns the exchange's lot size; all supported exchanges default
// to 1 per §4.1.
func lotSize(exchange string) int64 {
	switch strings.ToUpper(exchange) {
	case "NSE", "BSE", "NYSE", "NASDAQ", "LSE":
		return 1
	default:
		return 1
	}
}

// tickSize returns the exchange's minimum price increment per §4.1.
func tickSize(exchange string) decimal.Decimal {
	switch strings.ToUpper(exchange) {
	case "NSE", "BSE":
		return decimal.NewFromFloat(0.05)
	default:
		return decimal.NewFromFloat(0.01)
	}
}

var (
	minPrice = decimal.NewFromFloat(0.01)
	maxPrice = decimal.NewFromInt(100_000_000)
)

// SymbolRegistry consults tradeability/suspension for a symbol. It is
// optional — Validate accepts nil when no registry is wired, in which case
// the symbol check is purely syntactic.
type SymbolRegistry interface {
	Tradeable(symbol, exchange string) (bool, string)
}

// Request is the subset of an Order the validation engine inspects. It is
// shared by placement and modification validation.
type Request struct {
	Symbol      string
	Exchange    string
	Side        domain.Side
	OrderType   domain.OrderType
	Quantity    int64
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce domain.TimeInForce
	ExpiryDate  *time.Time

	// Modification-only fields; IsModification is false for a fresh placement.
	IsModification   bool
	ExistingSymbol   string
	ExistingSide     domain.Side
	ExistingType     domain.OrderType
	ExistingFilled   int64
	ExistingStatus   domain.Status
}

// Validate runs every check over req and accumulates all failures (§4.1).
// It never short-circuits: the caller sees every problem in one pass.
func Validate(req Request, registry SymbolRegistry) resultx.Issues {
	var acc resultx.Accumulator

	checkSymbol(req, registry, &acc)
	checkQuantity(req, &acc)
	checkPrices(req, &acc)
	checkStopLimitRelation(req, &acc)
	checkTimeInForce(req, &acc)
	if req.IsModification {
		checkModification(req, &acc)
	}

	return acc.Issues()
}

func checkSymbol(req Request, registry SymbolRegistry, acc *resultx.Accumulator) {
	sym := strings.TrimSpace(req.Symbol)
	if sym == "" {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidSymbol,
			Message: "symbol must not be blank", Field: "symbol",
			Severity: resultx.SeverityMedium,
		})
		return
	}
	if len(sym) > 20 {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidSymbol,
			Message: "symbol exceeds 20 characters", Field: "symbol",
			Severity: resultx.SeverityMedium,
		})
		return
	}
	for _, r := range sym {
		upper := r >= 'A' && r <= 'Z'
		digit := r >= '0' && r <= '9'
		underscore := r == '_'
		if !upper && !digit && !underscore {
			acc.Add(resultx.Issue{
				Kind: resultx.KindValidation, Code: resultx.CodeInvalidSymbol,
				Message: "symbol must be uppercase alphanumeric or underscore", Field: "symbol",
				Severity: resultx.SeverityMedium,
			})
			return
		}
	}
	if registry != nil {
		if ok, reason := registry.Tradeable(sym, req.Exchange); !ok {
			acc.Add(resultx.Issue{
				Kind: resultx.KindValidation, Code: resultx.CodeInvalidSymbol,
				Message: "symbol is not tradeable: " + reason, Field: "symbol",
				Severity: resultx.SeverityMedium,
			})
		}
	}
}

func checkQuantity(req Request, acc *resultx.Accumulator) {
	if req.Quantity < 1 || req.Quantity > 1_000_000 {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidQuantity,
			Message: "quantity must be between 1 and 1,000,000", Field: "quantity",
			Severity: resultx.SeverityMedium,
		})
		return
	}
	lot := lotSize(req.Exchange)
	if req.Quantity%lot != 0 {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidQuantity,
			Message: "quantity must be a multiple of the exchange lot size", Field: "quantity",
			Severity: resultx.SeverityMedium,
		})
	}
}

func checkPrices(req Request, acc *resultx.Accumulator) {
	switch req.OrderType {
	case domain.OrderTypeMarket:
		// neither price required
	case domain.OrderTypeLimit:
		checkPricePresentAndValid(req.LimitPrice, "limitPrice", req.Exchange, acc)
	case domain.OrderTypeStopLoss:
		checkPricePresentAndValid(req.StopPrice, "stopPrice", req.Exchange, acc)
	case domain.OrderTypeStopLimit:
		checkPricePresentAndValid(req.LimitPrice, "limitPrice", req.Exchange, acc)
		checkPricePresentAndValid(req.StopPrice, "stopPrice", req.Exchange, acc)
	default:
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidOrderType,
			Message: "unrecognised order type", Field: "orderType",
			Severity: resultx.SeverityMedium,
		})
	}
}

func checkPricePresentAndValid(price *decimal.Decimal, field, exchange string, acc *resultx.Accumulator) {
	if price == nil {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidPrice,
			Message: field + " is required for this order type", Field: field,
			Severity: resultx.SeverityMedium,
		})
		return
	}
	if price.LessThan(minPrice) || price.GreaterThan(maxPrice) {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidPrice,
			Message: field + " must lie in [0.01, 100000000]", Field: field,
			Severity: resultx.SeverityMedium,
		})
		return
	}
	tick := tickSize(exchange)
	remainder := price.Mod(tick)
	if !remainder.IsZero() {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeInvalidPrice,
			Message: field + " must be an integer multiple of the exchange tick size", Field: field,
			Severity: resultx.SeverityMedium,
		})
	}
}

func checkStopLimitRelation(req Request, acc *resultx.Accumulator) {
	if req.OrderType != domain.OrderTypeStopLimit || req.StopPrice == nil || req.LimitPrice == nil {
		return
	}
	switch req.Side {
	case domain.SideBuy:
		if req.StopPrice.LessThan(*req.LimitPrice) {
			acc.Add(resultx.Issue{
				Kind: resultx.KindValidation, Code: resultx.CodeInvalidPrice,
				Message: "BUY STOP_LIMIT requires stop >= limit", Field: "stopPrice",
				Severity: resultx.SeverityMedium,
			})
		}
	case domain.SideSell:
		if req.StopPrice.GreaterThan(*req.LimitPrice) {
			acc.Add(resultx.Issue{
				Kind: resultx.KindValidation, Code: resultx.CodeInvalidPrice,
				Message: "SELL STOP_LIMIT requires stop <= limit", Field: "stopPrice",
				Severity: resultx.SeverityMedium,
			})
		}
	}
}

func checkTimeInForce(req Request, acc *resultx.Accumulator) {
	if req.TimeInForce == domain.TIFGTD {
		if req.ExpiryDate == nil {
			acc.Add(resultx.Issue{
				Kind: resultx.KindValidation, Code: resultx.CodeTimeInForceError,
				Message: "GTD requires an expiry date", Field: "expiryDate",
				Severity: resultx.SeverityMedium,
			})
			return
		}
		now := time.Now()
		if !req.ExpiryDate.After(now) {
			acc.Add(resultx.Issue{
				Kind: resultx.KindValidation, Code: resultx.CodeTimeInForceError,
				Message: "GTD expiry must be strictly in the future", Field: "expiryDate",
				Severity: resultx.SeverityMedium,
			})
			return
		}
		if req.ExpiryDate.After(now.AddDate(0, 0, 365)) {
			acc.Add(resultx.Issue{
				Kind: resultx.KindValidation, Code: resultx.CodeTimeInForceError,
				Message: "GTD expiry must be at most 365 days ahead", Field: "expiryDate",
				Severity: resultx.SeverityMedium,
			})
		}
		return
	}
	if req.ExpiryDate != nil {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeTimeInForceError,
			Message: "expiry date only allowed with GTD", Field: "expiryDate",
			Severity: resultx.SeverityMedium,
		})
	}
}

func checkModification(req Request, acc *resultx.Accumulator) {
	if req.Symbol != req.ExistingSymbol {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "symbol cannot change on modification", Field: "symbol",
			Severity: resultx.SeverityMedium,
		})
	}
	if req.Side != req.ExistingSide {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "side cannot change on modification", Field: "side",
			Severity: resultx.SeverityMedium,
		})
	}
	if req.OrderType != req.ExistingType {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "order type cannot change on modification", Field: "orderType",
			Severity: resultx.SeverityMedium,
		})
	}
	if req.Quantity < req.ExistingFilled {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "new quantity must be >= already-filled quantity", Field: "quantity",
			Severity: resultx.SeverityMedium,
		})
	}
	if !req.ExistingStatus.Modifiable() {
		acc.Add(resultx.Issue{
			Kind: resultx.KindValidation, Code: resultx.CodeModificationRule,
			Message: "order is not in a modifiable state", Field: "status",
			Severity: resultx.SeverityMedium,
		})
	}
}
