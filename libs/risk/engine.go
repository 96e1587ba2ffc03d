package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
	"trading-order-core/libs/observability"
	"trading-order-core/libs/resultx"
)

// PortfolioImpact is the contract surface the risk engine consumes from the
// Portfolio adapter (C3); MarginImpactAcceptable backs check 6 (§4.6).
type PortfolioImpact struct {
	AvailableBuyingPower   decimal.Decimal
	RequiredValue          decimal.Decimal
	CurrentPositionValue   decimal.Decimal
	MaxPositionValue       decimal.Decimal
	TotalPortfolioValue    decimal.Decimal
	ProjectedMarginUsage   decimal.Decimal
	MarginImpactAcceptable bool
	// FromFallback is set when the breaker's OPEN-state conservative cached
	// record was returned instead of a live portfolio-service response (§4.4).
	FromFallback bool
}

// PortfolioGateway is what the risk engine needs from the Portfolio adapter.
// Implemented by internal/adapters.PortfolioAdapter; kept narrow here so the
// risk engine has no import-time dependency on the HTTP adapter package.
type PortfolioGateway interface {
	CalculateImpact(ctx context.Context, userID, symbol string, qty int64, value decimal.Decimal, side domain.Side) (PortfolioImpact, error)
}

// CheckRequest carries everything the six checks (§4.2) need.
type CheckRequest struct {
	UserID         string
	Symbol         string
	Side           domain.Side
	Quantity       int64
	OrderType      domain.OrderType
	LimitPrice     *decimal.Decimal
	ReferencePrice *decimal.Decimal // caller-supplied MARKET reference price
	Limits         domain.RiskLimits
}

// Engine runs the six concurrent risk checks and merges their outcomes.
type Engine struct {
	policy    *Policy
	portfolio PortfolioGateway
	daily     *DailyTradeCounter
}

// NewEngine builds a risk Engine. portfolio may be nil only in tests that
// stub individual checks; daily defaults to a fresh in-process counter.
func NewEngine(policy *Policy, portfolio PortfolioGateway, daily *DailyTradeCounter) *Engine {
	if daily == nil {
		daily = NewDailyTradeCounter()
	}
	return &Engine{policy: policy, portfolio: portfolio, daily: daily}
}

// estimatedOrderValue computes quantity * price, falling back to the
// policy's default reference price for MARKET orders with no caller-supplied
// price (§4.2 check 1, §9 open question).
func (e *Engine) estimatedOrderValue(req CheckRequest) decimal.Decimal {
	price := req.LimitPrice
	if price == nil {
		price = req.ReferencePrice
	}
	if price == nil {
		ref := e.policy.DefaultReferencePrice
		price = &ref
	}
	return price.Mul(decimal.NewFromInt(req.Quantity))
}

// checkResult is what each goroutine produces; checks never return an error
// directly — adapter failures are folded into a CRITICAL system issue so the
// fan-out join is uniform (§4.2 failure semantics). fromFallback is set by a
// portfolio-backed check that observed a breaker-fallback impact, so Check
// can surface a single advisory regardless of how many of the four checks
// happened to see it on the same impact value.
type checkResult struct {
	issues       resultx.Issues
	fromFallback bool
}

// Check fans out the six checks (§4.2) concurrently and joins on all
// outcomes; a single adapter failure does not cancel peer checks (§5).
func (e *Engine) Check(ctx context.Context, req CheckRequest) resultx.Issues {
	type namedCheck struct {
		name  string
		check func(context.Context, CheckRequest) checkResult
	}
	checks := []namedCheck{
		{"order_value", e.checkOrderValue},
		{"daily_trade_limit", e.checkDailyTradeLimit},
		{"buying_power", e.checkBuyingPower},
		{"position_limit", e.checkPositionLimit},
		{"concentration", e.checkConcentration},
		{"margin", e.checkMargin},
	}

	results := make([]checkResult, len(checks))
	var wg sync.WaitGroup
	wg.Add(len(checks))
	for i, nc := range checks {
		i, nc := i, nc
		go func() {
			defer wg.Done()
			start := time.Now()
			results[i] = nc.check(ctx, req)
			observability.RecordRiskCheckLatency(nc.name, time.Since(start))
		}()
	}
	wg.Wait()

	var acc resultx.Accumulator
	fromFallback := false
	for _, r := range results {
		acc.Merge(r.issues)
		fromFallback = fromFallback || r.fromFallback
	}
	if fromFallback {
		acc.Add(resultx.Issue{
			Kind: resultx.KindRisk, Code: resultx.CodeCircuitBreakerOpen,
			Message:  "portfolio breaker is open; risk checks used a cached conservative impact record instead of a live read",
			Severity: resultx.SeverityLow,
		})
	}
	return acc.Issues()
}

// checkOrderValue is §4.2 check 1.
func (e *Engine) checkOrderValue(_ context.Context, req CheckRequest) checkResult {
	value := e.estimatedOrderValue(req)
	if value.GreaterThan(e.policy.MaxOrderValue) {
		return checkResult{issues: resultx.Issues{{
			Kind: resultx.KindRisk, Code: resultx.CodeOrderValueLimitExceeded,
			Message:  fmt.Sprintf("order value %s exceeds max %s", value, e.policy.MaxOrderValue),
			Severity: resultx.SeverityHigh,
			Limit:    toFloat(e.policy.MaxOrderValue), Observed: toFloat(value),
		}}}
	}
	return checkResult{}
}

// checkDailyTradeLimit is §4.2 check 2.
func (e *Engine) checkDailyTradeLimit(_ context.Context, req CheckRequest) checkResult {
	count := e.daily.Count(req.UserID, time.Now())
	max := e.policy.MaxDailyTrades
	if req.Limits.MaxDailyTrades > 0 && req.Limits.MaxDailyTrades < max {
		max = req.Limits.MaxDailyTrades
	}
	if count >= max {
		return checkResult{issues: resultx.Issues{{
			Kind: resultx.KindRisk, Code: resultx.CodeDailyTradeLimitExceeded,
			Message:  fmt.Sprintf("daily trade count %d has reached max %d", count, max),
			Severity: resultx.SeverityMedium,
			Limit:    float64(max), Observed: float64(count),
		}}}
	}
	return checkResult{}
}

// checkBuyingPower is §4.2 check 3.
func (e *Engine) checkBuyingPower(ctx context.Context, req CheckRequest) checkResult {
	impact, err := e.fetchImpact(ctx, req)
	if err != nil {
		return checkResult{issues: adapterFailureIssue(err)}
	}
	value := e.estimatedOrderValue(req)
	buffer := decimal.NewFromInt(1).Add(e.policy.MinBuyingPowerBuffer)
	required := value.Mul(buffer)
	if required.GreaterThan(impact.AvailableBuyingPower) {
		return checkResult{fromFallback: impact.FromFallback, issues: resultx.Issues{{
			Kind: resultx.KindRisk, Code: resultx.CodeInsufficientBuyingPower,
			Message:  fmt.Sprintf("required %s exceeds available buying power %s", required, impact.AvailableBuyingPower),
			Severity: resultx.SeverityHigh,
			Limit:    toFloat(impact.AvailableBuyingPower), Observed: toFloat(required),
		}}}
	}
	return checkResult{fromFallback: impact.FromFallback}
}

// checkPositionLimit is §4.2 check 4.
func (e *Engine) checkPositionLimit(ctx context.Context, req CheckRequest) checkResult {
	impact, err := e.fetchImpact(ctx, req)
	if err != nil {
		return checkResult{issues: adapterFailureIssue(err)}
	}
	signedQty := decimal.NewFromInt(req.Quantity)
	if req.Side == domain.SideSell {
		signedQty = signedQty.Neg()
	}
	projected := impact.CurrentPositionValue.Add(signedQty.Mul(e.priceOrDefault(req)))
	max := impact.MaxPositionValue
	if req.Limits.MaxPositionValue.Sign() > 0 && req.Limits.MaxPositionValue.LessThan(max) {
		max = req.Limits.MaxPositionValue
	}
	if projected.Abs().GreaterThan(max) {
		return checkResult{fromFallback: impact.FromFallback, issues: resultx.Issues{{
			Kind: resultx.KindRisk, Code: resultx.CodePositionLimitExceeded,
			Message:  fmt.Sprintf("projected position %s exceeds max %s", projected, max),
			Severity: resultx.SeverityHigh,
			Limit:    toFloat(max), Observed: toFloat(projected.Abs()),
		}}}
	}
	return checkResult{fromFallback: impact.FromFallback}
}

// checkConcentration is §4.2 check 5.
func (e *Engine) checkConcentration(ctx context.Context, req CheckRequest) checkResult {
	impact, err := e.fetchImpact(ctx, req)
	if err != nil {
		return checkResult{issues: adapterFailureIssue(err)}
	}
	value := e.estimatedOrderValue(req)
	projectedValue := impact.CurrentPositionValue.Add(value)
	pct := domain.ConcentrationPercent(projectedValue.Abs(), impact.TotalPortfolioValue)
	if pct.GreaterThan(e.policy.MaxPositionConcentration) {
		return checkResult{fromFallback: impact.FromFallback, issues: resultx.Issues{{
			Kind: resultx.KindRisk, Code: resultx.CodeConcentrationExceeded,
			Message:  fmt.Sprintf("projected concentration %s%% exceeds max %s%%", pct, e.policy.MaxPositionConcentration),
			Severity: resultx.SeverityMedium,
			Limit:    toFloat(e.policy.MaxPositionConcentration), Observed: toFloat(pct),
		}}}
	}
	return checkResult{fromFallback: impact.FromFallback}
}

// checkMargin is §4.2 check 6.
func (e *Engine) checkMargin(ctx context.Context, req CheckRequest) checkResult {
	impact, err := e.fetchImpact(ctx, req)
	if err != nil {
		return checkResult{issues: adapterFailureIssue(err)}
	}
	if !impact.MarginImpactAcceptable || impact.ProjectedMarginUsage.GreaterThan(e.policy.MaxMarginUsage) {
		return checkResult{fromFallback: impact.FromFallback, issues: resultx.Issues{{
			Kind: resultx.KindRisk, Code: resultx.CodeMarginRequirementNotMet,
			Message:  fmt.Sprintf("projected margin usage %s exceeds max %s", impact.ProjectedMarginUsage, e.policy.MaxMarginUsage),
			Severity: resultx.SeverityHigh,
			Limit:    toFloat(e.policy.MaxMarginUsage), Observed: toFloat(impact.ProjectedMarginUsage),
		}}}
	}
	return checkResult{fromFallback: impact.FromFallback}
}

func (e *Engine) fetchImpact(ctx context.Context, req CheckRequest) (PortfolioImpact, error) {
	if e.portfolio == nil {
		return PortfolioImpact{}, fmt.Errorf("risk: no portfolio gateway configured")
	}
	value := e.estimatedOrderValue(req)
	return e.portfolio.CalculateImpact(ctx, req.UserID, req.Symbol, req.Quantity, value, req.Side)
}

func (e *Engine) priceOrDefault(req CheckRequest) decimal.Decimal {
	if req.LimitPrice != nil {
		return *req.LimitPrice
	}
	if req.ReferencePrice != nil {
		return *req.ReferencePrice
	}
	return e.policy.DefaultReferencePrice
}

// adapterFailureIssue implements §4.2's failure semantics: a portfolio
// adapter failure during risk is a CRITICAL system violation unless the
// caller already substituted a conservative cached impact (handled upstream
// by the breaker fallback, which never returns an error in that case).
func adapterFailureIssue(err error) resultx.Issues {
	return resultx.Issues{{
		Kind: resultx.KindSystem, Code: resultx.CodeServiceUnavailable,
		Message:  "portfolio adapter unavailable: " + err.Error(),
		Severity: resultx.SeverityCritical,
	}}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// DailyTradeCounter is the in-process, atomic, date-stamped per-user counter
// called out in the §9 open question: production needs a shared counter
// across replicas, this is the single-process stand-in.
type DailyTradeCounter struct {
	mu      sync.Mutex
	day     string
	counts  map[string]int
}

func NewDailyTradeCounter() *DailyTradeCounter {
	return &DailyTradeCounter{counts: make(map[string]int)}
}

func (c *DailyTradeCounter) resetIfNewDay(now time.Time) {
	day := now.Format("2006-01-02")
	if c.day != day {
		c.day = day
		c.counts = make(map[string]int)
	}
}

// Count returns the trade count so far today for userID.
func (c *DailyTradeCounter) Count(userID string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewDay(now)
	return c.counts[userID]
}

// Increment records an accepted trade for userID at local midnight reset.
func (c *DailyTradeCounter) Increment(userID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewDay(now)
	c.counts[userID]++
}
