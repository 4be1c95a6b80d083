// Package retry implements the provider call retry policy (C15):
// exponential backoff with jitter, a retryable-status classifier, and a
// circuit breaker for the "Fatal" escalation path of spec §7. Grounded on
// spec §4.15's delay formula directly (no pack repo hand-rolls this exact
// formula the way it hand-rolls rate limiting), using
// github.com/cenkalti/backoff/v4 for the schedule and github.com/sony/gobreaker
// for the breaker — both real dependencies of jordigilh-kubernaut's go.mod.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/scim-gateway/gateway/internal/provider"
	"github.com/scim-gateway/gateway/internal/scimerr"
)

// Policy carries the parameters from spec §4.15.
type Policy struct {
	MaxRetries           int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	UseJitter            bool
	RetryableStatusCodes map[int]bool
}

// DefaultRetryableStatusCodes is spec §4.15's default set.
func DefaultRetryableStatusCodes() map[int]bool {
	return map[int]bool{408: true, 429: true, 500: true, 502: true, 503: true, 504: true}
}

// DefaultPolicy returns sane defaults matching spec §4.15's prose example.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           5,
		InitialDelay:         200 * time.Millisecond,
		MaxDelay:             30 * time.Second,
		BackoffMultiplier:    2.0,
		UseJitter:            true,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// Delay implements spec §4.15's formula directly:
// min(maxDelay, initialDelay * multiplier^attempt), optionally jittered by
// ±25%. Exposed for callers that want to preview a schedule without driving
// a full Do() call (e.g. tests, sync-task backoff dilation).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * pow(p.BackoffMultiplier, attempt)
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.UseJitter {
		jitterFactor := 0.75 + rand.Float64()*0.5 // ±25%
		d *= jitterFactor
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// toBackoff adapts Policy to backoff.BackOff for use with backoff.Retry,
// honoring MaxRetries as an attempt ceiling via backoff.WithMaxRetries. The
// jitter knob maps onto RandomizationFactor so the library's own schedule
// matches Policy.Delay's ±25% behavior when UseJitter is set.
func (p Policy) toBackoff() backoff.BackOff {
	randomization := 0.0
	if p.UseJitter {
		randomization = 0.25
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: randomization,
		Multiplier:          p.BackoffMultiplier,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// Breaker wraps a provider call with a circuit breaker, escalating to the
// "Fatal" classification from spec §7 once the breaker opens.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker named for a specific (tenantId, providerId)
// pair, opening after 5 consecutive failures and probing again after 30s.
func NewBreaker(name string) *Breaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// ErrCircuitOpen is returned when the breaker short-circuits a call.
var ErrCircuitOpen = errors.New("retry: circuit breaker open")

// Do executes fn under the retry policy and circuit breaker: each attempt is
// gated by the breaker, retryable provider.Failures are retried per the
// backoff schedule (honoring Retry-After on 429 per spec §4.15), and any
// other error short-circuits immediately.
func Do(ctx context.Context, policy Policy, breaker *Breaker, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		_, err := breaker.cb.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(ErrCircuitOpen)
		}
		if err == nil {
			return nil
		}

		var failure *provider.Failure
		if errors.As(err, &failure) {
			if !failure.Retryable || !policy.RetryableStatusCodes[failure.HTTPStatus] {
				return backoff.Permanent(err)
			}
			return err
		}
		// Unclassified errors are not retried; only typed provider
		// failures carry enough information to know they're safe to retry.
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) { attempt++ }
	err := backoff.RetryNotify(operation, withRetryAfterOverride(policy, ctx), notify)
	return classifyFailure(err)
}

// classifyFailure maps Do's final error, once retries and the circuit
// breaker are exhausted, into the scimerr taxonomy from spec §7: a typed
// provider.Failure becomes a scimerr "provider" error carrying its
// providerErrorCode and retryable flag, anything else (including
// ErrCircuitOpen) is wrapped as an internal error.
func classifyFailure(err error) error {
	if err == nil {
		return nil
	}
	var failure *provider.Failure
	if errors.As(err, &failure) {
		return scimerr.Provider(failure.ProviderErrorCode, failure.Retryable, failure.Cause)
	}
	return scimerr.Internal(err)
}

// withRetryAfterOverride wraps the policy's backoff so a provider-supplied
// Retry-After value (attached via context by the caller, see
// WithRetryAfter) supersedes the computed delay, per spec §4.15.
func withRetryAfterOverride(policy Policy, ctx context.Context) backoff.BackOff {
	base := policy.toBackoff()
	if ra, ok := RetryAfterFromContext(ctx); ok {
		return &retryAfterBackoff{base: base, override: ra}
	}
	return base
}

type retryAfterBackoff struct {
	base     backoff.BackOff
	override time.Duration
	used     bool
}

func (r *retryAfterBackoff) NextBackOff() time.Duration {
	if !r.used {
		r.used = true
		return r.override
	}
	return r.base.NextBackOff()
}

func (r *retryAfterBackoff) Reset() { r.base.Reset(); r.used = false }

type retryAfterCtxKey struct{}

// WithRetryAfter attaches a Retry-After-derived delay to ctx so the next
// retry attempt uses it instead of the computed backoff delay.
func WithRetryAfter(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, retryAfterCtxKey{}, d)
}

// RetryAfterFromContext retrieves a delay attached by WithRetryAfter.
func RetryAfterFromContext(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(retryAfterCtxKey{}).(time.Duration)
	return d, ok
}

// ParseRetryAfterSeconds parses an HTTP Retry-After header value expressed
// in seconds (the delta-seconds form; HTTP-date is not supported by
// downstream providers observed in this pack).
func ParseRetryAfterSeconds(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
