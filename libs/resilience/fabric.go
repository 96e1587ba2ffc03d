package resilience

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Fabric owns the four named breakers of §4.4: order-processing (local
// executor), risk, broker and portfolio.
type Fabric struct {
	Order     *Breaker
	Risk      *Breaker
	Broker    *Breaker
	Portfolio *Breaker
}

// FabricTunables carries one Tunables row per named breaker; the caller
// (internal/config) is responsible for translating its own config shape
// into this, keeping this package free of a dependency on service wiring.
type FabricTunables struct {
	Order     Tunables
	Risk      Tunables
	Broker    Tunables
	Portfolio Tunables
}

// NewFabric builds the four breakers from tunables, all sharing classifier to
// decide which errors count as failures (§4.4); a nil classifier means
// DefaultClassifier, which counts every error.
func NewFabric(t FabricTunables, classifier Classifier, log zerolog.Logger) *Fabric {
	return &Fabric{
		Order:     New(t.Order, classifier, log),
		Risk:      New(t.Risk, classifier, log),
		Broker:    New(t.Broker, classifier, log),
		Portfolio: New(t.Portfolio, classifier, log),
	}
}

// FallbackFunc supplies the OPEN-state behavior for a breaker call (§4.4).
type FallbackFunc func(ctx context.Context) (any, error)

// RunWithFallback executes fn under b. The fallback only runs when the
// breaker itself refuses the call (OPEN, or HALF_OPEN with trials
// exhausted); an ordinary error returned by fn is propagated unchanged, so a
// caller can tell "my order was rejected" from "the breaker gave up on my
// behalf". The Broker breaker's fallback is conventionally nil: "the call
// FAILS; no fabricated success is ever returned for order submission" (§4.4).
func (b *Breaker) RunWithFallback(ctx context.Context, fn func(ctx context.Context) (any, error), fallback FallbackFunc) (any, error) {
	result, err := b.Run(ctx, fn)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		return result, err
	}
	if fallback == nil {
		return nil, err
	}
	return fallback(ctx)
}
