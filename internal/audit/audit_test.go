package audit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recordingSink) Append(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) wait(t *testing.T, n int) []Entry {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.entries)
		r.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry{}, r.entries...)
}

func TestEmitIsFireAndForget(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink)

	e := Begin("req1", "corr1", "POST", "/scim/v2/Users")
	e.EnrichAuth("tenant1", "actor1", ActorUser)
	e.Finalize(201, 12, nil, map[string]string{"email": "alice@example.com"}, "", "")

	start := time.Now()
	p.Emit(e)
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("Emit blocked the caller")
	}

	entries := sink.wait(t, 1)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.TenantID != "tenant1" || got.CorrelationID != "corr1" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if s, ok := got.NewValue.(string); !ok || strings.Contains(s, "alice@example.com") {
		t.Fatalf("expected redacted newValue, got %v", got.NewValue)
	}
}
