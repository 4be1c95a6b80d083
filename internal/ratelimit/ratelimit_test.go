package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := NewLimiter(Config{MaxRequestsPerSecond: 10, BurstLimit: 3})
	for i := 0; i < 3; i++ {
		d := l.Allow("tenant1", "actor1")
		if !d.Allowed {
			t.Fatalf("request %d expected to be allowed", i)
		}
	}
	d := l.Allow("tenant1", "actor1")
	if d.Allowed {
		t.Fatal("4th request should exceed burst capacity")
	}
	if d.RetryAfter <= 0 {
		t.Fatal("expected a positive retry-after on deny")
	}
}

func TestLimiterIsolatesByTenantAndActor(t *testing.T) {
	l := NewLimiter(Config{MaxRequestsPerSecond: 10, BurstLimit: 1})
	if !l.Allow("tenant1", "actor1").Allowed {
		t.Fatal("first request for tenant1/actor1 should be allowed")
	}
	if l.Allow("tenant1", "actor1").Allowed {
		t.Fatal("second request should be denied, burst exhausted")
	}
	if !l.Allow("tenant1", "actor2").Allowed {
		t.Fatal("a different actor in the same tenant should have its own bucket")
	}
	if !l.Allow("tenant2", "actor1").Allowed {
		t.Fatal("the same actor in a different tenant should have its own bucket")
	}
}

func TestFailedAuthLockout(t *testing.T) {
	tr := NewFailedAuthTracker(3, time.Minute, 50*time.Millisecond)
	key := "tenant1|actor1"

	for i := 0; i < 2; i++ {
		tr.RecordFailure(key)
		if locked, _ := tr.Locked(key); locked {
			t.Fatalf("should not lock out before maxAttempts, iteration %d", i)
		}
	}
	tr.RecordFailure(key)
	locked, remaining := tr.Locked(key)
	if !locked || remaining <= 0 {
		t.Fatal("expected lockout after maxAttempts failures")
	}

	time.Sleep(60 * time.Millisecond)
	if locked, _ := tr.Locked(key); locked {
		t.Fatal("expected lockout to expire")
	}
}

func TestFailedAuthRecordSuccessClearsHistory(t *testing.T) {
	tr := NewFailedAuthTracker(3, time.Minute, time.Minute)
	key := "tenant1|actor1"
	tr.RecordFailure(key)
	tr.RecordFailure(key)
	tr.RecordSuccess(key)
	tr.RecordFailure(key)
	if locked, _ := tr.Locked(key); locked {
		t.Fatal("history should have been cleared by RecordSuccess")
	}
}
