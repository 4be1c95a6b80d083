// Package audit implements the gateway's fire-and-forget audit pipeline
// (spec §4.6). Lifecycle mirrors the teacher's correlation-id threading
// (internal/httpapi/middleware.go's CorrelationMiddleware) and its
// background-goroutine dispatch idiom (internal/httpapi/ratelimit.go's
// RateLimiter.cleanupLoop). Sink-failure visibility uses
// github.com/prometheus/client_golang, grounded in jordigilh-kubernaut's and
// xraph-authsome's go.mod presence of the same library.
package audit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/scim-gateway/gateway/internal/redact"
)

type ActorType string

const (
	ActorUser             ActorType = "User"
	ActorServicePrincipal ActorType = "ServicePrincipal"
	ActorSystem           ActorType = "System"
)

// Entry is one audit record. Lifecycle: Begin() populates ingress fields;
// EnrichAuth() adds tenant/actor after authentication; Finalize() sets
// outcome fields and is always called, even on panic recovery.
type Entry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"requestId"`
	CorrelationID  string    `json:"correlationId"`
	TenantID       string    `json:"tenantId"`
	ActorID        string    `json:"actorId"`
	ActorType      ActorType `json:"actorType"`
	Operation      string    `json:"operation"`
	ResourceType   string    `json:"resourceType"`
	ResourceID     string    `json:"resourceId"`
	HTTPStatus     int       `json:"httpStatus"`
	HTTPMethod     string    `json:"httpMethod"`
	RequestPath    string    `json:"requestPath"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	OldValue       any       `json:"oldValue,omitempty"`
	NewValue       any       `json:"newValue,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Sink is the append-only audit store contract; a concrete implementation
// lives in internal/repo.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

const maxValueBytes = 8192

var sinkFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "scim_gateway_audit_sink_failures_total",
	Help: "Count of audit sink emission failures swallowed by the audit pipeline.",
})

// Pipeline dispatches audit entries fire-and-forget relative to request
// latency: Emit never blocks the caller on sink I/O.
type Pipeline struct {
	sink Sink
}

func NewPipeline(sink Sink) *Pipeline {
	return &Pipeline{sink: sink}
}

// Begin starts an entry at request ingress.
func Begin(requestID, correlationID, method, path string) *Entry {
	return &Entry{
		Timestamp:     time.Now(),
		RequestID:     requestID,
		CorrelationID: correlationID,
		HTTPMethod:    method,
		RequestPath:   path,
	}
}

// EnrichAuth attaches tenant/actor fields once the request is authenticated.
func (e *Entry) EnrichAuth(tenantID, actorID string, actorType ActorType) {
	e.TenantID = tenantID
	e.ActorID = actorID
	e.ActorType = actorType
}

// Finalize sets outcome fields. oldValue/newValue are redacted and truncated
// before the entry is considered complete; callers should pass the raw
// snapshot and let Finalize handle redaction.
func (e *Entry) Finalize(status int, durationMs int64, oldValue, newValue any, errCode, errMsg string) {
	e.HTTPStatus = status
	e.ResponseTimeMs = durationMs
	e.OldValue = redactAndTruncate(oldValue)
	e.NewValue = redactAndTruncate(newValue)
	e.ErrorCode = errCode
	e.ErrorMessage = redact.Text(errMsg)
}

func redactAndTruncate(v any) any {
	if v == nil {
		return nil
	}
	raw, err := marshalAny(v)
	if err != nil {
		return nil
	}
	redacted := redact.JSON(raw)
	if len(redacted) > maxValueBytes {
		redacted = append(redacted[:maxValueBytes], []byte("…[truncated]")...)
	}
	return string(redacted)
}

// Emit dispatches the entry fire-and-forget: a background goroutine performs
// the sink write so the request path never blocks on sink I/O. Sink failures
// are swallowed locally and counted via the sinkFailures metric.
func (p *Pipeline) Emit(e *Entry) {
	if e.ID == "" {
		e.ID = newID()
	}
	go func(entry Entry) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.sink.Append(ctx, entry); err != nil {
			sinkFailures.Inc()
			log.Error().Err(err).Str("correlationId", entry.CorrelationID).Msg("audit sink emission failed")
		}
	}(*e)
}
