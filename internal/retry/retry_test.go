package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scim-gateway/gateway/internal/provider"
	"github.com/scim-gateway/gateway/internal/scimerr"
)

func TestPolicyDelayCapsAtMaxDelay(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2.0}
	d := p.Delay(10)
	if d != time.Second {
		t.Fatalf("expected delay to be capped at 1s, got %v", d)
	}
}

func TestPolicyDelayGrowsExponentially(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Minute, BackoffMultiplier: 2.0}
	d0 := p.Delay(0)
	d1 := p.Delay(1)
	d2 := p.Delay(2)
	if d0 != 100*time.Millisecond {
		t.Fatalf("expected attempt 0 to equal initial delay, got %v", d0)
	}
	if d1 != 200*time.Millisecond || d2 != 400*time.Millisecond {
		t.Fatalf("expected doubling schedule, got %v, %v", d1, d2)
	}
}

func TestDoRetriesRetryableFailureThenSucceeds(t *testing.T) {
	policy := Policy{
		MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond,
		BackoffMultiplier: 2.0, RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
	breaker := NewBreaker("test-retry")

	attempts := 0
	err := Do(context.Background(), policy, breaker, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return &provider.Failure{ProviderErrorCode: "rate_limited", HTTPStatus: 429, Retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryNonRetryableFailure(t *testing.T) {
	policy := DefaultPolicy()
	breaker := NewBreaker("test-nonretryable")

	attempts := 0
	err := Do(context.Background(), policy, breaker, func(ctx context.Context) error {
		attempts++
		return &provider.Failure{ProviderErrorCode: "bad_request", HTTPStatus: 400, Retryable: false}
	})
	if err == nil {
		t.Fatal("expected failure to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable failure, got %d", attempts)
	}

	se, ok := scimerr.As(err)
	if !ok {
		t.Fatalf("expected Do to classify the failure into the scimerr taxonomy, got %v", err)
	}
	if se.Kind != scimerr.KindProvider {
		t.Fatalf("expected a provider-kind scimerr, got %s", se.Kind)
	}
}

func TestDoDoesNotRetryUnclassifiedError(t *testing.T) {
	policy := DefaultPolicy()
	breaker := NewBreaker("test-unclassified")
	sentinel := errors.New("boom")

	attempts := 0
	err := Do(context.Background(), policy, breaker, func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error to propagate, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestRetryAfterOverridesComputedDelay(t *testing.T) {
	ctx := WithRetryAfter(context.Background(), 42*time.Second)
	d, ok := RetryAfterFromContext(ctx)
	if !ok || d != 42*time.Second {
		t.Fatalf("expected retry-after of 42s, got %v (ok=%v)", d, ok)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d, ok := ParseRetryAfterSeconds("30")
	if !ok || d != 30*time.Second {
		t.Fatalf("expected 30s, got %v (ok=%v)", d, ok)
	}
	if _, ok := ParseRetryAfterSeconds(""); ok {
		t.Fatal("expected empty header to yield no value")
	}
	if _, ok := ParseRetryAfterSeconds("not-a-number"); ok {
		t.Fatal("expected unparseable header to yield no value")
	}
}
