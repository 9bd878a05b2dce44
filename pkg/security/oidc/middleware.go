package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// SubjectHeader carries the verified subject back to the caller.
const SubjectHeader = "X-Subject"

// Config defines OIDC verification settings for the gateway.
// Typical minimal config requires Issuer and ClientID, or a JWKSURL + Audience.
type Config struct {
	// Issuer is the OIDC issuer URL. When provided, the provider's well-known
	// metadata is used to discover JWKS.
	Issuer string

	// ClientID is the expected audience for tokens unless Audience is set.
	ClientID string

	// Audience overrides ClientID as the expected audience. Useful for access
	// tokens issued for a resource API.
	Audience string

	// JWKSURL is a direct JWKS endpoint, used when Issuer is empty.
	JWKSURL string
}

// Verifier validates Bearer tokens (ID/Access tokens) using OIDC.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

// NewVerifier builds a token verifier based on the provided Config.
// Discovery via Issuer performs network I/O bounded by ctx.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	expectedAud := cfg.Audience
	if expectedAud == "" {
		expectedAud = cfg.ClientID
	}
	oc := &gooidc.Config{ClientID: expectedAud, SkipClientIDCheck: expectedAud == ""}

	switch {
	case cfg.Issuer != "":
		provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc: provider discovery failed: %w", err)
		}
		return &Verifier{verifier: provider.Verifier(oc)}, nil
	case cfg.JWKSURL != "":
		ks := gooidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		// Empty issuer: issuer is not checked.
		oc.SkipIssuerCheck = true
		return &Verifier{verifier: gooidc.NewVerifier("", ks, oc)}, nil
	default:
		return nil, errors.New("oidc: either Issuer or JWKSURL must be provided")
	}
}

// Subject holds verified identity fields extracted from the token.
type Subject struct {
	Subject   string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
	Roles     []string
	Scopes    []string
}

type tokenClaims struct {
	Exp         int64  `json:"exp"`
	Sub         string `json:"sub"`
	Iss         string `json:"iss"`
	Aud         any    `json:"aud"` // string or []string
	Roles       any    `json:"roles"`
	Scope       string `json:"scope"`
	Scp         any    `json:"scp"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Verify parses and validates a Bearer token string and returns subject info.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Subject, error) {
	if v == nil || v.verifier == nil {
		return nil, errors.New("oidc: verifier not initialized")
	}
	idt, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("oidc: token verification failed: %w", err)
	}
	var claims tokenClaims
	if err := idt.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc: parse claims: %w", err)
	}
	return claims.subject(), nil
}

func (c tokenClaims) subject() *Subject {
	var aud string
	if auds := stringList(c.Aud); len(auds) > 0 {
		aud = auds[0]
	}
	// Roles come from "roles" or Keycloak's realm_access; scopes from "scope" or "scp".
	roles := dedupe(append(stringList(c.Roles), c.RealmAccess.Roles...))
	scopes := dedupe(append(strings.Fields(c.Scope), stringList(c.Scp)...))
	return &Subject{
		Subject:   c.Sub,
		Issuer:    c.Iss,
		Audience:  aud,
		ExpiresAt: time.Unix(c.Exp, 0).UTC(),
		Roles:     roles,
		Scopes:    scopes,
	}
}

// stringList accepts a space-separated string or a JSON array of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return strings.Fields(t)
	case []string:
		return t
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// TokenVerifier allows plugging a custom verifier (and simplifies testing).
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Subject, error)
}

type contextKey string

const subjectContextKey contextKey = "oidcSubject"

// WithSubject attaches a verified subject to ctx.
func WithSubject(ctx context.Context, s *Subject) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey, s)
}

// SubjectFromContext returns the subject set by Middleware.
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	s, ok := ctx.Value(subjectContextKey).(*Subject)
	return s, ok && s != nil
}

// Middleware enforces OIDC Bearer auth on incoming requests.
// It expects Authorization: Bearer <token>. On success it sets the X-Subject
// header with the verified subject. On failure it returns 401.
func Middleware(v TokenVerifier, exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt != nil && exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				unauthorized(w)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
			subj, err := v.Verify(r.Context(), raw)
			if err != nil {
				slog.Debug("oidc: rejected token", slog.String("error", err.Error()))
				unauthorized(w)
				return
			}
			ctx := r.Context()
			if subj != nil {
				w.Header().Set(SubjectHeader, subj.Subject)
				ctx = WithSubject(ctx, subj)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="s3signer"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
