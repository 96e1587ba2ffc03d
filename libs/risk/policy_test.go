package risk_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"trading-order-core/libs/risk"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := risk.DefaultPolicy()
	if p == nil {
		t.Fatal("DefaultPolicy returned nil")
	}
	if p.MaxOrderValue.Sign() <= 0 {
		t.Errorf("expected MaxOrderValue > 0, got %s", p.MaxOrderValue)
	}
	if p.MaxDailyTrades <= 0 {
		t.Errorf("expected MaxDailyTrades > 0, got %d", p.MaxDailyTrades)
	}
	if p.Version == "" {
		t.Error("expected non-empty Version")
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	doc := map[string]interface{}{
		"max_order_value":             5_000_000.0,
		"max_daily_trades":            50,
		"max_position_concentration":  20.0,
		"min_buying_power_buffer":     0.15,
		"max_margin_usage":            0.7,
		"default_reference_price":     100.0,
	}

	f, err := os.CreateTemp(t.TempDir(), "risk-*.json")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(doc); err != nil {
		t.Fatal(err)
	}
	f.Close()

	p, err := risk.LoadPolicy(f.Name())
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if p.MaxDailyTrades != 50 {
		t.Errorf("expected MaxDailyTrades=50, got %d", p.MaxDailyTrades)
	}
	if p.LoadedFrom != f.Name() {
		t.Errorf("LoadedFrom mismatch: %s", p.LoadedFrom)
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	p, err := risk.LoadPolicy(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if p == nil {
		t.Fatal("expected default policy, got nil")
	}
}

func TestLoadPolicyEmptyPath(t *testing.T) {
	p, err := risk.LoadPolicy("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected default policy")
	}
}

func TestLoadPolicyInvalidJSON(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "bad-*.json")
	f.WriteString("{not valid json")
	f.Close()
	_, err := risk.LoadPolicy(f.Name())
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadPolicyRejectsOutOfRangeMargin(t *testing.T) {
	doc := map[string]interface{}{"max_margin_usage": 1.5, "max_order_value": 1.0, "max_daily_trades": 1}
	f, _ := os.CreateTemp(t.TempDir(), "bad-margin-*.json")
	_ = json.NewEncoder(f).Encode(doc)
	f.Close()
	_, err := risk.LoadPolicy(f.Name())
	if err == nil {
		t.Fatal("expected validation error for max_margin_usage > 1")
	}
}

func decPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}
