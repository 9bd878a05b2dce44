package oidc

import (
	"net/http"
	"slices"
	"strings"
)

// Roles/scopes understood by DefaultGatewayPolicy.
const (
	ScopeObjectsWrite = "objects.write"
	ScopeObjectsRead  = "objects.read"
)

// Policy maps an HTTP request to a list of required roles/scopes.
// If it returns an empty slice or nil, no RBAC check is enforced for that request.
type Policy func(*http.Request) []string

// RBAC enforces role/scope checks using the provided policy.
// It expects that OIDC middleware has already attached a Subject to the context.
func RBAC(policy Policy) func(http.Handler) http.Handler {
	if policy == nil {
		policy = func(r *http.Request) []string { return nil }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqRoles := policy(r)
			if len(reqRoles) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			subj, ok := SubjectFromContext(r.Context())
			if !ok || !hasAny(subj, reqRoles) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hasAny returns true if the subject has ANY of the required roles/scopes (exact match).
func hasAny(s *Subject, required []string) bool {
	if s == nil {
		return false
	}
	for _, req := range required {
		if slices.Contains(s.Roles, req) || slices.Contains(s.Scopes, req) {
			return true
		}
	}
	return false
}

// DefaultGatewayPolicy defines role requirements for the gateway:
//   - PUT /objects/... requires "objects.write"
//   - GET /presign/... requires "objects.read"
//
// Anything else (health, metrics) has no requirement here.
func DefaultGatewayPolicy() Policy {
	return func(r *http.Request) []string {
		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/objects/"):
			return []string{ScopeObjectsWrite}
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/presign/"):
			return []string{ScopeObjectsRead}
		}
		return nil
	}
}
