package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

func testTunables() Tunables {
	return Tunables{
		Name:             "test",
		FailureRatePct:   50,
		SlowCallRatePct:  80,
		SlowCallDuration: time.Second,
		SlidingWindow:    10,
		MinCalls:         3,
		OpenDuration:     100 * time.Millisecond,
		HalfOpenTrials:   2,
	}
}

func TestBreaker_Success(t *testing.T) {
	b := New(testTunables(), DefaultClassifier, zerolog.Nop())

	result, err := b.Run(context.Background(), func(ctx context.Context) (any, error) {
		return "success", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
}

func TestBreaker_TripsAfterMinCallsAndFailureRate(t *testing.T) {
	b := New(testTunables(), DefaultClassifier, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, _ = b.Run(context.Background(), func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		})
	}

	if b.State() != gobreaker.StateOpen {
		t.Errorf("expected state Open after repeated failures, got %v", b.State())
	}
}

func TestBreaker_ValidationErrorsDoNotTrip(t *testing.T) {
	classifier := func(err error) bool { return false } // nothing counts as a tripping failure
	b := New(testTunables(), classifier, zerolog.Nop())

	for i := 0; i < 10; i++ {
		_, err := b.Run(context.Background(), func(ctx context.Context) (any, error) {
			return nil, errors.New("validation issue")
		})
		if err == nil {
			t.Fatal("expected the underlying error to still propagate")
		}
	}

	if b.State() != gobreaker.StateClosed {
		t.Errorf("expected state Closed, non-tripping errors must not open the breaker, got %v", b.State())
	}
}

func TestBreaker_ContextCanceled(t *testing.T) {
	b := New(testTunables(), DefaultClassifier, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Run(ctx, func(ctx context.Context) (any, error) {
		return "should not execute", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBreaker_RunWithFallback(t *testing.T) {
	b := New(testTunables(), DefaultClassifier, zerolog.Nop())
	for i := 0; i < 5; i++ {
		_, _ = b.Run(context.Background(), func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		})
	}

	result, err := b.RunWithFallback(context.Background(),
		func(ctx context.Context) (any, error) { return nil, errors.New("unreachable") },
		func(ctx context.Context) (any, error) { return "fallback", nil },
	)
	if err != nil {
		t.Fatalf("expected fallback to suppress the error, got %v", err)
	}
	if result != "fallback" {
		t.Errorf("expected 'fallback', got %v", result)
	}
}
