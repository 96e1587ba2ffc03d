package observability

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	sinkOnce sync.Once
	sink     zerolog.Logger
)

// Init configures the process-wide structured log sink. level is parsed by
// zerolog ("debug", "info", "warn", "error"); an unrecognised level falls
// back to info. Safe to call once at startup; later calls are no-ops.
func Init(level string) {
	sinkOnce.Do(func() {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			parsed = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(parsed)
		sink = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
}

func logger() zerolog.Logger {
	sinkOnce.Do(func() {
		sink = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return sink
}

// LogEvent emits a structured event enriched with whatever RunInfo is
// attached to ctx (flow/run/task id, symbol), plus caller-supplied fields.
// Sensitive fields ("input", "payload") are redacted before being logged.
func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	evt := eventForLevel(level)
	evt = evt.Str("event", event)

	info := RunInfoFromContext(ctx)
	if info.FlowID != "" {
		evt = evt.Str("flow_id", info.FlowID)
	}
	if info.RunID != "" {
		evt = evt.Str("run_id", info.RunID)
	}
	if info.TaskID != "" {
		evt = evt.Str("task_id", info.TaskID)
	}
	if info.Symbol != "" {
		evt = evt.Str("symbol", info.Symbol)
	}

	for key, value := range normalizeFields(fields) {
		evt = evt.Interface(key, value)
	}
	evt.Msg(event)
}

func eventForLevel(level string) *zerolog.Event {
	l := logger()
	switch level {
	case "debug":
		return l.Debug()
	case "warn", "warning":
		return l.Warn()
	case "error":
		return l.Error()
	default:
		return l.Info()
	}
}

// LogOrderSubmitted records the outcome of routing an order to a broker
// adapter under the broker circuit breaker (§4.9 step 3).
func LogOrderSubmitted(ctx context.Context, orderID, broker string, duration time.Duration, err error) {
	fields := map[string]any{
		"order_id":   orderID,
		"broker":     broker,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "order_submitted", fields)
}

// LogRiskDecision records a risk-engine outcome (§4.2) for audit visibility.
func LogRiskDecision(ctx context.Context, orderID string, riskScore float64, blocked bool, issueCount int) {
	LogEvent(ctx, "info", "risk_decision", map[string]any{
		"order_id":    orderID,
		"risk_score":  riskScore,
		"blocked":     blocked,
		"issue_count": issueCount,
	})
}

// LogBreakerFallback records that a circuit breaker's fallback path was
// used instead of a live call (§4.4).
func LogBreakerFallback(ctx context.Context, breaker string, reason string) {
	LogEvent(ctx, "warn", "breaker_fallback", map[string]any{
		"breaker": breaker,
		"reason":  reason,
	})
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "input", "payload", "order_payload":
			out[key] = RedactValue(value)
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
