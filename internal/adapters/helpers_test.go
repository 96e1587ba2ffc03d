package adapters_test

import (
	"time"

	"github.com/rs/zerolog"

	"trading-order-core/libs/resilience"
)

// breakerTunablesThatTripFast trips after just a couple of failing calls,
// for tests exercising the OPEN-state fallback path.
func breakerTunablesThatTripFast() resilience.Tunables {
	return resilience.Tunables{
		Name:             "test-fast-trip",
		FailureRatePct:   50,
		SlowCallRatePct:  100,
		SlowCallDuration: time.Minute,
		SlidingWindow:    10,
		MinCalls:         2,
		OpenDuration:     time.Minute,
		HalfOpenTrials:   1,
	}
}

func newBreakerFromTunables(t resilience.Tunables) *resilience.Breaker {
	return resilience.New(t, resilience.DefaultClassifier, zerolog.Nop())
}
