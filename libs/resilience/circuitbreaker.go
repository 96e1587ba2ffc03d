// Package resilience implements the circuit-breaker fabric (C8, §4.4): four
// independent, domain-tuned breakers guarding order-processing, risk,
// broker and portfolio calls, each with a RunWithFallback surface. Each
// breaker wraps github.com/sony/gobreaker/v2 with a named, per-domain
// failure-rate/slow-call tunable set and a classification function so
// validation-style errors never trip a breaker.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Tunables is one row of the §4.4 per-domain table.
type Tunables struct {
	Name             string
	FailureRatePct   float64
	SlowCallRatePct  float64
	SlowCallDuration time.Duration
	SlidingWindow    int
	MinCalls         int
	OpenDuration     time.Duration
	HalfOpenTrials   uint32
}

// Classifier decides whether an error should count against a breaker's
// failure rate. Validation-style (IllegalArgument-class) errors never trip
// a breaker; connection/timeout/IO-class errors do (§4.4).
type Classifier func(err error) (countsAsFailure bool)

// DefaultClassifier treats every non-nil error as a tripping failure; callers
// with a validation-error type should supply a narrower Classifier.
func DefaultClassifier(err error) bool { return err != nil }

// window is a fixed-size ring tracking the last N outcomes for slow-call
// rate accounting, since gobreaker's own Counts has no notion of "slow".
type window struct {
	mu       sync.Mutex
	size     int
	slow     []bool
	pos      int
	filled   int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = 10
	}
	return &window{size: size, slow: make([]bool, size)}
}

func (w *window) record(slow bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.slow[w.pos] = slow
	w.pos = (w.pos + 1) % w.size
	if w.filled < w.size {
		w.filled++
	}
}

// rate returns the current slow-call fraction without mutating the window.
func (w *window) rate() (slowRate float64, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0, 0
	}
	count := 0
	for i := 0; i < w.filled; i++ {
		if w.slow[i] {
			count++
		}
	}
	return float64(count) / float64(w.filled), w.filled
}

// Breaker wraps a gobreaker.CircuitBreaker[any] tuned to one domain of §4.4,
// plus a slow-call window gobreaker itself does not track.
type Breaker struct {
	name       string
	tunables   Tunables
	classifier Classifier
	cb         *gobreaker.CircuitBreaker[any]
	slowWindow *window
	log        zerolog.Logger
}

// New builds a Breaker from domain tunables. log receives state-change
// notifications via gobreaker's OnStateChange hook.
func New(t Tunables, classifier Classifier, log zerolog.Logger) *Breaker {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	b := &Breaker{
		name:       t.Name,
		tunables:   t,
		classifier: classifier,
		slowWindow: newWindow(t.SlidingWindow),
		log:        log.With().Str("breaker", t.Name).Logger(),
	}

	settings := gobreaker.Settings{
		Name:        t.Name,
		MaxRequests: t.HalfOpenTrials,
		Interval:    0, // counts only reset on state transition: the failure rate covers every call since the last transition, not a sliding window (SlidingWindow sizes only the slow-call ring)
		Timeout:     t.OpenDuration,
		ReadyToTrip: b.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

// readyToTrip combines gobreaker's own failure-ratio counts with this
// breaker's slow-call window, gated by the domain's min-calls (§4.4,
// "Breaker monotonicity": no transition until minimum-calls observed, §8).
func (b *Breaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < uint32(b.tunables.MinCalls) {
		return false
	}
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	slowRate, _ := b.slowWindow.rate()
	return failureRatio*100 >= b.tunables.FailureRatePct || slowRate*100 >= b.tunables.SlowCallRatePct
}

// Run executes fn under breaker protection, classifying the returned error
// and recording slow-call accounting against the configured threshold.
func (b *Breaker) Run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	var suppressed error
	result, err := b.cb.Execute(func() (any, error) {
		v, callErr := fn(ctx)
		elapsed := time.Since(start)
		b.slowWindow.record(elapsed >= b.tunables.SlowCallDuration)
		if callErr != nil && !b.classifier(callErr) {
			// Non-tripping error (validation-class): report success to
			// gobreaker's bookkeeping, but remember the error so it still
			// reaches the caller.
			suppressed = callErr
			return v, nil
		}
		return v, callErr
	})
	if err != nil {
		return nil, fmt.Errorf("circuit breaker %s: %w", b.name, err)
	}
	if suppressed != nil {
		return result, suppressed
	}
	return result, nil
}

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Name returns the breaker's domain name.
func (b *Breaker) Name() string { return b.name }

// RecentlyOpen reports whether the breaker is not CLOSED, used by the
// lifecycle scheduler to decide whether to drain the portfolio queue (§4.11).
func (b *Breaker) RecentlyOpen() bool { return b.State() != gobreaker.StateClosed }
