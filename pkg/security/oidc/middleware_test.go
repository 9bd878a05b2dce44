package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeVerifier struct {
	wantToken string
	subj      *Subject
	err       error
}

func (f fakeVerifier) Verify(ctx context.Context, raw string) (*Subject, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.wantToken != "" && raw != f.wantToken {
		return nil, errors.New("bad token")
	}
	if f.subj != nil {
		return f.subj, nil
	}
	return &Subject{Subject: "subj"}, nil
}

func TestMiddleware_Exempt_AllowsThroughWithoutAuth(t *testing.T) {
	// Exempt all requests
	exempt := func(r *http.Request) bool { return true }
	downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	h := Middleware(fakeVerifier{}, exempt)(downstream)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Subject"); got != "" {
		t.Fatalf("expected no X-Subject header on exempt path, got %q", got)
	}
}

func TestMiddleware_MissingAuth_Returns401(t *testing.T) {
	h := Middleware(fakeVerifier{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/presign/report.pdf", nil)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected a WWW-Authenticate challenge")
	}
}

func TestMiddleware_InvalidToken_Returns401(t *testing.T) {
	h := Middleware(fakeVerifier{err: errors.New("invalid")}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/presign/report.pdf", nil)
	req.Header.Set("Authorization", "Bearer badtoken")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rr.Code)
	}
}

func TestMiddleware_ValidToken_SetsSubjectAndProxies(t *testing.T) {
	fv := fakeVerifier{
		wantToken: "t123",
		subj:      &Subject{Subject: "alice"},
	}
	downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	h := Middleware(fv, nil)(downstream)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/presign/report.pdf", nil)
	req.Header.Set("Authorization", "Bearer t123")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Subject"); got != "alice" {
		t.Fatalf("X-Subject header = %q, want %q", got, "alice")
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("downstream body = %q, want %q", rr.Body.String(), "ok")
	}
}
func TestClaimsSubject_CollectsRolesAndScopes(t *testing.T) {
	c := tokenClaims{
		Sub:   "svc-uploader",
		Aud:   []any{"s3signer", "other"},
		Roles: "objects.write",
		Scope: "openid objects.read",
		Scp:   []any{"objects.read", 42},
	}
	c.RealmAccess.Roles = []string{"objects.write", "ops"}

	s := c.subject()
	if s.Audience != "s3signer" {
		t.Fatalf("audience = %q", s.Audience)
	}
	if got := strings.Join(s.Roles, ","); got != "objects.write,ops" {
		t.Fatalf("roles = %q", got)
	}
	if got := strings.Join(s.Scopes, ","); got != "openid,objects.read" {
		t.Fatalf("scopes = %q", got)
	}
}

func TestNewVerifier_RequiresIssuerOrJWKS(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{ClientID: "x"}); err == nil {
		t.Fatalf("expected error without issuer or jwks url")
	}
	v, err := NewVerifier(context.Background(), Config{JWKSURL: "https://idp.example.com/keys", Audience: "s3signer"})
	if err != nil || v == nil {
		t.Fatalf("NewVerifier with JWKS: %v", err)
	}
	if _, err := v.Verify(context.Background(), "not-a-jwt"); err == nil {
		t.Fatalf("malformed token must fail verification")
	}
}
