// Package httpapi wires the SCIM 2.0 resource endpoints, discovery documents,
// and the administrative drift/conflict API onto a chi router (C10/C11/C16).
// Grounded on the teacher's internal/httpapi/router.go Server-as-dependency-
// bag pattern and its CorrelationMiddleware/writeJSON idioms, generalized
// from sync/task/note CRUD to SCIM User/Group resources and re-targeted at
// internal/repo, internal/auth, internal/ratelimit, and internal/audit
// instead of the teacher's direct pgxpool + WorkOS wiring.
package httpapi

import (
	"strings"

	"github.com/scim-gateway/gateway/internal/audit"
	"github.com/scim-gateway/gateway/internal/auth"
	"github.com/scim-gateway/gateway/internal/provider"
	"github.com/scim-gateway/gateway/internal/ratelimit"
	"github.com/scim-gateway/gateway/internal/repo"
	"github.com/scim-gateway/gateway/internal/syncengine"
)

// Server bundles every dependency the HTTP handlers need. It holds no
// business logic itself; each concern lives in the package that owns it.
type Server struct {
	Repos      repo.Repositories
	Validator  *auth.Validator
	Limiter    *ratelimit.Limiter
	FailedAuth *ratelimit.FailedAuthTracker
	Audit      *audit.Pipeline
	Scheduler  *syncengine.Scheduler
	Providers  *provider.Registry

	// BaseURL is prepended to meta.location and member $ref values, e.g.
	// "https://scim.example.com".
	BaseURL string

	// AnonymousPathPrefixes lists path prefixes that bypass authentication,
	// per spec §6's "Anonymous path prefixes list" configuration option.
	AnonymousPathPrefixes []string
}

func (s *Server) isAnonymousPath(path string) bool {
	for _, prefix := range s.AnonymousPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
