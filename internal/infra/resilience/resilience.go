// Package resilience wraps outbound calls to the marketplace and the
// callback target: retry with capped exponential backoff, a circuit breaker
// whose transitions can be observed, and a bulkhead bounding in-flight calls.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config is read from MAX_RETRIES, INITIAL_BACKOFF, MAX_CONCURRENCY and
// MARKET_RATE_LIMIT.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so RetryWithBackoff returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff calls fn up to MaxRetries+1 times, waiting
// 2^attempt*InitialBackoff plus up to 50% jitter between calls. An error
// wrapped with Permanent ends the loop and is returned unwrapped.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(cfg.InitialBackoff, attempt)):
			}
		}
	}
	return lastErr
}

// maxBackoff caps a single wait before jitter.
const maxBackoff = 5 * time.Second

func backoff(initial time.Duration, attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt))) * initial
	if base > maxBackoff || base < 0 {
		base = maxBackoff
	}
	if base < 2 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(base/2)))
}

// StateListener observes breaker transitions.
type StateListener func(name string, from, to gobreaker.State)

// NewCircuitBreaker builds the breaker used in front of an upstream. It
// trips once at least 5 calls in a 30s window fail at a 60% ratio, and
// probes again after 10s with up to 3 half-open calls.
//
// isSuccessful decides which errors count against the breaker; nil counts
// every non-nil error as a failure. Listeners run on every transition.
func NewCircuitBreaker(name string, isSuccessful func(error) bool, listeners ...StateListener) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{
		Name:         name,
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      10 * time.Second,
		ReadyToTrip:  tripOnFailureRatio(5, 0.6),
		IsSuccessful: isSuccessful,
	}
	if len(listeners) > 0 {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			for _, l := range listeners {
				l(name, from, to)
			}
		}
	}
	return gobreaker.NewCircuitBreaker(st)
}

func tripOnFailureRatio(minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(c gobreaker.Counts) bool {
		if c.Requests < minRequests {
			return false
		}
		return float64(c.TotalFailures)/float64(c.Requests) >= ratio
	}
}

// IsBreakerOpen reports whether err was produced by a rejecting breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Bulkhead bounds concurrent calls with a counting semaphore.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead allows maxConcurrency calls at once, at least one.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire waits for a free slot. It returns ctx.Err() if ctx ends first.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	<-b.sem
}

// Throttle paces outbound calls to a steady rate. A nil Throttle never waits.
type Throttle struct {
	lim *rate.Limiter
}

// NewThrottle allows perSecond calls per second with bursts of up to one
// second's worth. It returns nil when perSecond is not positive.
func NewThrottle(perSecond float64) *Throttle {
	if perSecond <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSecond))
	return &Throttle{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until the next call may start. It fails without waiting when
// the delay would outlast ctx's deadline.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.lim.Wait(ctx)
}
