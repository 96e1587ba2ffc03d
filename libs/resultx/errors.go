// Package resultx provides the error taxonomy and accumulating-validation
// primitives shared by every subsystem of the order core: validation, risk,
// execution, data and system errors all flatten to the same Issue shape so
// callers can log, branch on retryability, or surface an error envelope
// without type-switching on subsystem-specific error structs.
package resultx

import "fmt"

// Kind identifies which subsystem raised an Issue.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindRisk       Kind = "RISK"
	KindExecution  Kind = "EXECUTION"
	KindData       Kind = "DATA"
	KindSystem     Kind = "SYSTEM"
)

// Severity orders an Issue's blast radius. HIGH and CRITICAL violations
// block an order; LOW and MEDIUM are advisory. Placement rejects an order
// on any validation issue, whatever its severity.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Code is a stable, machine-readable identifier for an Issue. Codes never
// change meaning once shipped; new failure modes get new codes.
type Code string

const (
	// Validation codes (§7 Validation kind)
	CodeInvalidSymbol    Code = "INVALID_SYMBOL"
	CodeInvalidQuantity  Code = "INVALID_QUANTITY"
	CodeInvalidPrice     Code = "INVALID_PRICE"
	CodeInvalidOrderType Code = "INVALID_ORDER_TYPE"
	CodeMissingField     Code = "MISSING_FIELD"
	CodeTimeInForceError Code = "TIME_IN_FORCE_ERROR"
	CodeModificationRule Code = "MODIFICATION_NOT_ALLOWED"

	// Risk codes
	CodeInsufficientBuyingPower Code = "INSUFFICIENT_BUYING_POWER"
	CodePositionLimitExceeded   Code = "POSITION_LIMIT_EXCEEDED"
	CodeOrderValueLimitExceeded Code = "ORDER_VALUE_LIMIT_EXCEEDED"
	CodeDailyTradeLimitExceeded Code = "DAILY_TRADE_LIMIT_EXCEEDED"
	CodeMarginRequirementNotMet Code = "MARGIN_REQUIREMENT_NOT_MET"
	CodeConcentrationExceeded   Code = "CONCENTRATION_RISK_EXCEEDED"

	// Execution codes
	CodeBrokerAPIError        Code = "BROKER_API_ERROR"
	CodeOrderRejected         Code = "ORDER_REJECTED"
	CodeExecutionTimeout      Code = "EXECUTION_TIMEOUT"
	CodePartialFill           Code = "PARTIAL_FILL"
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodeIdempotencyViolation  Code = "IDEMPOTENCY_VIOLATION"
	CodeSystemError           Code = "SYSTEM_ERROR"

	// Data codes
	CodeEntityNotFound         Code = "ENTITY_NOT_FOUND"
	CodeDuplicateEntity        Code = "DUPLICATE_ENTITY"
	CodeDatabaseError          Code = "DATABASE_ERROR"
	CodeDataIntegrityViolation Code = "DATA_INTEGRITY_VIOLATION"

	// System codes
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeCircuitBreakerOpen Code = "CIRCUIT_BREAKER_OPEN"
	CodeConfigError        Code = "CONFIG_ERROR"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeUnexpectedError    Code = "UNEXPECTED_ERROR"
)

// Issue is the single error shape every subsystem emits. It carries enough
// structure for an error envelope (§6.1) without subsystem-specific types.
type Issue struct {
	Kind      Kind
	Code      Code
	Message   string
	Field     string
	Severity  Severity
	Retryable bool
	// Limit/Observed carry the breached threshold and the observed value,
	// when the issue arose from a numeric comparison (risk checks mostly).
	Limit    float64
	Observed float64
}

func (i Issue) Error() string {
	if i.Field != "" {
		return fmt.Sprintf("[%s/%s] %s (field=%s)", i.Kind, i.Code, i.Message, i.Field)
	}
	return fmt.Sprintf("[%s/%s] %s", i.Kind, i.Code, i.Message)
}

// Blocks reports whether this issue is severe enough to block the order.
func (i Issue) Blocks() bool {
	return i.Severity == SeverityHigh || i.Severity == SeverityCritical
}

// Issues is an accumulating slice of Issue; it also satisfies error so a
// caller can return it directly when non-empty.
type Issues []Issue

func (is Issues) Error() string {
	if len(is) == 0 {
		return "no issues"
	}
	out := is[0].Error()
	for _, i := range is[1:] {
		out += " | " + i.Error()
	}
	return out
}

// Empty reports whether no issues were accumulated.
func (is Issues) Empty() bool { return len(is) == 0 }

// Blocking returns true iff at least one accumulated issue blocks the order.
func (is Issues) Blocking() bool {
	for _, i := range is {
		if i.Blocks() {
			return true
		}
	}
	return false
}

// MaxSeverity returns the highest severity across all issues, or "" if empty.
func (is Issues) MaxSeverity() Severity {
	rank := map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3}
	var max Severity
	for _, i := range is {
		if max == "" || rank[i.Severity] > rank[max] {
			max = i.Severity
		}
	}
	return max
}

// RiskScore maps the accumulated issues' max severity onto the 0.0–1.0 scale
// the risk engine (§4.2, GLOSSARY "Risk score") reports alongside violations.
func (is Issues) RiskScore() float64 {
	switch is.MaxSeverity() {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.4
	case SeverityLow:
		return 0.15
	default:
		return 0.0
	}
}
