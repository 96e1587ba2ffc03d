// Package risk implements the pre-trade risk engine (C7, §4.2): a policy of
// configurable thresholds enforced by six independent checks fanned out
// concurrently and merged into a single accumulated result. Policy is a
// JSON-loadable document with its own validate() method, loaded once at
// startup and passed read-only to the six order-level checks §4.2 names.
package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the configurable risk thresholds of §4.2/§6.3. It is loaded
// once at startup and passed read-only through the system.
type Policy struct {
	MaxOrderValue            decimal.Decimal `json:"max_order_value"`
	MaxDailyTrades           int             `json:"max_daily_trades"`
	MaxPositionConcentration decimal.Decimal `json:"max_position_concentration"`
	MinBuyingPowerBuffer     decimal.Decimal `json:"min_buying_power_buffer"`
	MaxMarginUsage           decimal.Decimal `json:"max_margin_usage"`
	DefaultReferencePrice    decimal.Decimal `json:"default_reference_price"`

	LoadedFrom string    `json:"-"`
	LoadedAt   time.Time `json:"-"`
	Version    string    `json:"-"`
}

// DefaultPolicy returns the §4.2/§6.3 documented defaults.
func DefaultPolicy() *Policy {
	p := &Policy{
		MaxOrderValue:            decimal.NewFromInt(10_000_000),
		MaxDailyTrades:           100,
		MaxPositionConcentration: decimal.NewFromInt(30),
		MinBuyingPowerBuffer:     decimal.NewFromFloat(0.1),
		MaxMarginUsage:           decimal.NewFromFloat(0.8),
		DefaultReferencePrice:    decimal.NewFromInt(100),
		LoadedAt:                 time.Now().UTC(),
	}
	b, _ := json.Marshal(p)
	p.Version = policyVersion(b)
	return p
}

// LoadPolicy reads a JSON file and returns a validated Policy, falling back
// to DefaultPolicy when path is empty or the file is absent, so the system
// can start without a config file in development.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("risk: read policy file %q: %w", path, err)
	}
	p := DefaultPolicy()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("risk: parse policy file %q: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("risk: invalid policy in %q: %w", path, err)
	}
	p.LoadedFrom = path
	p.LoadedAt = time.Now().UTC()
	p.Version = policyVersion(data)
	return p, nil
}

func (p *Policy) validate() error {
	var errs []string
	if p.MaxOrderValue.Sign() <= 0 {
		errs = append(errs, "max_order_value must be > 0")
	}
	if p.MaxDailyTrades <= 0 {
		errs = append(errs, "max_daily_trades must be > 0")
	}
	if p.MaxMarginUsage.Sign() <= 0 || p.MaxMarginUsage.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "max_margin_usage must be in (0,1]")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// policyVersion returns a short deterministic identifier for the policy JSON
// (audit labelling, not a security hash).
func policyVersion(data []byte) string {
	h := uint64(14695981039346656037)
	for _, b := range data {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return fmt.Sprintf("v%x", h&0xffffffffffff)
}
