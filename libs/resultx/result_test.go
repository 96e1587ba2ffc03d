package resultx_test

import (
	"testing"

	"trading-order-core/libs/resultx"
)

func TestIssue_ErrorFormatsWithAndWithoutField(t *testing.T) {
	i := resultx.Issue{Kind: resultx.KindValidation, Code: resultx.CodeInvalidSymbol, Message: "bad symbol", Field: "symbol"}
	if got := i.Error(); got != "[VALIDATION/INVALID_SYMBOL] bad symbol (field=symbol)" {
		t.Errorf("unexpected Error() output: %q", got)
	}

	i2 := resultx.Issue{Kind: resultx.KindSystem, Code: resultx.CodeServiceUnavailable, Message: "down"}
	if got := i2.Error(); got != "[SYSTEM/SERVICE_UNAVAILABLE] down" {
		t.Errorf("unexpected Error() output: %q", got)
	}
}

func TestIssue_Blocks(t *testing.T) {
	cases := []struct {
		sev  resultx.Severity
		want bool
	}{
		{resultx.SeverityLow, false},
		{resultx.SeverityMedium, false},
		{resultx.SeverityHigh, true},
		{resultx.SeverityCritical, true},
	}
	for _, c := range cases {
		issue := resultx.Issue{Severity: c.sev}
		if got := issue.Blocks(); got != c.want {
			t.Errorf("severity %s: Blocks()=%v, want %v", c.sev, got, c.want)
		}
	}
}

func TestIssues_BlockingRequiresOnlyOneBlockingIssue(t *testing.T) {
	issues := resultx.Issues{
		{Severity: resultx.SeverityLow},
		{Severity: resultx.SeverityMedium},
	}
	if issues.Blocking() {
		t.Error("expected non-blocking for LOW+MEDIUM only")
	}
	issues = append(issues, resultx.Issue{Severity: resultx.SeverityHigh})
	if !issues.Blocking() {
		t.Error("expected blocking once a HIGH issue is present")
	}
}

func TestIssues_MaxSeverityIsOrderIndependent(t *testing.T) {
	a := resultx.Issues{{Severity: resultx.SeverityLow}, {Severity: resultx.SeverityCritical}, {Severity: resultx.SeverityMedium}}
	b := resultx.Issues{{Severity: resultx.SeverityCritical}, {Severity: resultx.SeverityLow}, {Severity: resultx.SeverityMedium}}
	if a.MaxSeverity() != resultx.SeverityCritical || b.MaxSeverity() != resultx.SeverityCritical {
		t.Errorf("expected CRITICAL regardless of order, got %s and %s", a.MaxSeverity(), b.MaxSeverity())
	}
	if (resultx.Issues{}).MaxSeverity() != "" {
		t.Error("expected empty MaxSeverity for no issues")
	}
}

func TestIssues_RiskScoreMapping(t *testing.T) {
	cases := []struct {
		sev  resultx.Severity
		want float64
	}{
		{resultx.SeverityCritical, 1.0},
		{resultx.SeverityHigh, 0.75},
		{resultx.SeverityMedium, 0.4},
		{resultx.SeverityLow, 0.15},
	}
	for _, c := range cases {
		issues := resultx.Issues{{Severity: c.sev}}
		if got := issues.RiskScore(); got != c.want {
			t.Errorf("severity %s: RiskScore()=%v, want %v", c.sev, got, c.want)
		}
	}
	if (resultx.Issues{}).RiskScore() != 0.0 {
		t.Error("expected 0.0 risk score for no issues")
	}
}

func TestResult_OkIsValidWithNoIssues(t *testing.T) {
	r := resultx.Ok(42)
	if !r.Valid() {
		t.Error("expected Ok result to be Valid")
	}
	if r.Value() != 42 {
		t.Errorf("expected value 42, got %v", r.Value())
	}
	if !r.Issues().Empty() {
		t.Error("expected no issues")
	}
}

func TestResult_FailWithBlockingIssueIsInvalid(t *testing.T) {
	r := resultx.Fail[int](resultx.Issue{Severity: resultx.SeverityHigh, Code: resultx.CodeInvalidQuantity})
	if r.Valid() {
		t.Error("expected Fail with HIGH severity to be invalid")
	}
}

func TestResult_FailWithOnlyAdvisoryIssuesIsStillValid(t *testing.T) {
	r := resultx.Fail[int](resultx.Issue{Severity: resultx.SeverityLow, Code: resultx.CodeInvalidQuantity})
	if !r.Valid() {
		t.Error("expected Fail with only LOW severity issues to remain Valid")
	}
}

func TestAccumulator_MergePreservesOrderAndAccumulatesAcrossCalls(t *testing.T) {
	var acc resultx.Accumulator
	if !acc.Empty() {
		t.Fatal("expected fresh accumulator to be empty")
	}

	acc.Add(resultx.Issue{Code: resultx.CodeInvalidSymbol})
	acc.Merge(resultx.Issues{{Code: resultx.CodeInvalidPrice}, {Code: resultx.CodeInvalidQuantity}})

	issues := acc.Issues()
	if len(issues) != 3 {
		t.Fatalf("expected 3 accumulated issues, got %d", len(issues))
	}
	if issues[0].Code != resultx.CodeInvalidSymbol || issues[1].Code != resultx.CodeInvalidPrice || issues[2].Code != resultx.CodeInvalidQuantity {
		t.Errorf("expected encounter order preserved, got %+v", issues)
	}
}
