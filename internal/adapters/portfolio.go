package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/domain"
	"trading-order-core/libs/resilience"
	"trading-order-core/libs/risk"
)

// PositionRisk is what getPositionRisk returns for the concentration check
// (§4.2 check 5, §4.6).
type PositionRisk struct {
	CurrentPositionValue decimal.Decimal
	TotalPortfolioValue  decimal.Decimal
}

// PositionUpdate is the payload updatePosition ships on a successful fill
// (§4.3 step 7).
type PositionUpdate struct {
	UserID   string
	Symbol   string
	Exchange string
	Side     domain.Side
	Quantity int64
	Price    decimal.Decimal
	TradeID  string
}

// PortfolioAdapter implements the C3 surface of §4.6: impact/risk reads
// and position-update writes, run under the Portfolio breaker. It satisfies
// risk.PortfolioGateway directly so the risk engine can depend on the
// narrow interface without importing this package.
type PortfolioAdapter struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker

	mu    sync.Mutex
	queue []PositionUpdate // §4.4 fallback: queued position updates, drained by the scheduler
}

var _ risk.PortfolioGateway = (*PortfolioAdapter)(nil)

func NewPortfolioAdapter(baseURL string, timeout time.Duration, breaker *resilience.Breaker) *PortfolioAdapter {
	return &PortfolioAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// CalculateImpact implements risk.PortfolioGateway. On breaker-OPEN it
// returns a conservative cached record that still permits the trade but
// flags it, keeping the placement pipeline alive during an outage (§4.4).
func (p *PortfolioAdapter) CalculateImpact(ctx context.Context, userID, symbol string, qty int64, value decimal.Decimal, side domain.Side) (risk.PortfolioImpact, error) {
	fallback := func(ctx context.Context) (any, error) {
		return risk.PortfolioImpact{
			AvailableBuyingPower:   value.Mul(decimal.NewFromInt(2)),
			RequiredValue:          value,
			MarginImpactAcceptable: true,
			FromFallback:           true,
		}, nil
	}
	result, err := p.breaker.RunWithFallback(ctx, func(ctx context.Context) (any, error) {
		body := map[string]any{
			"user_id":  userID,
			"symbol":   symbol,
			"quantity": qty,
			"value":    value.String(),
			"side":     side,
		}
		var resp struct {
			AvailableBuyingPower   string `json:"available_buying_power"`
			RequiredValue          string `json:"required_value"`
			CurrentPositionValue   string `json:"current_position_value"`
			MaxPositionValue       string `json:"max_position_value"`
			TotalPortfolioValue    string `json:"total_portfolio_value"`
			ProjectedMarginUsage   string `json:"projected_margin_usage"`
			MarginImpactAcceptable bool   `json:"margin_impact_acceptable"`
		}
		if err := p.post(ctx, "/portfolio/impact", body, &resp); err != nil {
			return nil, err
		}
		return risk.PortfolioImpact{
			AvailableBuyingPower:   decimalOrZero(resp.AvailableBuyingPower),
			RequiredValue:          decimalOrZero(resp.RequiredValue),
			CurrentPositionValue:   decimalOrZero(resp.CurrentPositionValue),
			MaxPositionValue:       decimalOrZero(resp.MaxPositionValue),
			TotalPortfolioValue:    decimalOrZero(resp.TotalPortfolioValue),
			ProjectedMarginUsage:   decimalOrZero(resp.ProjectedMarginUsage),
			MarginImpactAcceptable: resp.MarginImpactAcceptable,
		}, nil
	}, fallback)
	if err != nil {
		return risk.PortfolioImpact{}, err
	}
	return result.(risk.PortfolioImpact), nil
}

// GetPositionRisk feeds the concentration check (§4.2 check 5).
func (p *PortfolioAdapter) GetPositionRisk(ctx context.Context, userID, symbol string) (PositionRisk, error) {
	result, err := p.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		var resp struct {
			CurrentPositionValue string `json:"current_position_value"`
			TotalPortfolioValue  string `json:"total_portfolio_value"`
		}
		path := fmt.Sprintf("/portfolio/%s/risk/%s", userID, symbol)
		if err := p.get(ctx, path, &resp); err != nil {
			return nil, err
		}
		return PositionRisk{
			CurrentPositionValue: decimalOrZero(resp.CurrentPositionValue),
			TotalPortfolioValue:  decimalOrZero(resp.TotalPortfolioValue),
		}, nil
	})
	if err != nil {
		return PositionRisk{}, err
	}
	return result.(PositionRisk), nil
}

// UpdatePosition pushes a fill's position delta to the portfolio service.
// Per §4.4 the fallback queues the update locally and reports success; the
// lifecycle scheduler drains the queue once the breaker re-closes.
func (p *PortfolioAdapter) UpdatePosition(ctx context.Context, update PositionUpdate) error {
	fallback := func(ctx context.Context) (any, error) {
		p.mu.Lock()
		p.queue = append(p.queue, update)
		p.mu.Unlock()
		return nil, nil
	}
	_, err := p.breaker.RunWithFallback(ctx, func(ctx context.Context) (any, error) {
		body := map[string]any{
			"user_id":  update.UserID,
			"symbol":   update.Symbol,
			"exchange": update.Exchange,
			"side":     update.Side,
			"quantity": update.Quantity,
			"price":    update.Price.String(),
			"trade_id": update.TradeID,
		}
		return nil, p.post(ctx, "/portfolio/positions", body, nil)
	}, fallback)
	return err
}

// DrainQueue returns and clears the queued position updates accumulated
// while the Portfolio breaker was open, for the lifecycle scheduler (§4.11).
func (p *PortfolioAdapter) DrainQueue() []PositionUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.queue
	p.queue = nil
	return drained
}

// Requeue puts updates back on the front of the queue when a drain attempt
// itself fails mid-way.
func (p *PortfolioAdapter) Requeue(updates []PositionUpdate) {
	if len(updates) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(updates, p.queue...)
	p.mu.Unlock()
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (p *PortfolioAdapter) get(ctx context.Context, path string, out any) error {
	return p.do(ctx, http.MethodGet, path, nil, out)
}

func (p *PortfolioAdapter) post(ctx context.Context, path string, body any, out any) error {
	return p.do(ctx, http.MethodPost, path, body, out)
}

func (p *PortfolioAdapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("adapters: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("adapters: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adapters: portfolio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("adapters: portfolio %s %s returned %d: %s", method, path, resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("adapters: decode response: %w", err)
	}
	return nil
}
