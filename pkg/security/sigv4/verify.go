package sigv4

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxClockSkew bounds the difference between x-amz-date and the verifier clock
// for header-signed requests.
const MaxClockSkew = 15 * time.Minute

var nowFunc = time.Now

// CredentialsStore provides a way to look up a secret key by access key.
type CredentialsStore interface {
	Lookup(accessKey string) (secret string, user string, ok bool)
}

// AccessKey represents a static access/secret key pair and optional user label.
type AccessKey struct {
	AccessKey string
	SecretKey string
	User      string
}

type storedKey struct {
	secret string
	user   string
}

// StaticCredentialsStore is an in-memory implementation of CredentialsStore.
type StaticCredentialsStore struct {
	creds map[string]storedKey
}

// NewStaticStore builds a StaticCredentialsStore from a slice of AccessKey.
func NewStaticStore(keys []AccessKey) *StaticCredentialsStore {
	m := make(map[string]storedKey)
	for _, k := range keys {
		ak := strings.TrimSpace(k.AccessKey)
		sk := strings.TrimSpace(k.SecretKey)
		if ak == "" || sk == "" {
			continue
		}
		m[ak] = storedKey{secret: sk, user: strings.TrimSpace(k.User)}
	}
	return &StaticCredentialsStore{creds: m}
}

// Lookup implements CredentialsStore.
func (s *StaticCredentialsStore) Lookup(accessKey string) (string, string, bool) {
	if s == nil || s.creds == nil {
		return "", "", false
	}
	v, ok := s.creds[accessKey]
	if !ok {
		return "", "", false
	}
	return v.secret, v.user, true
}

// scope is a parsed credential string: <AKID>/<Date>/<Region>/s3/aws4_request.
type scope struct {
	accessKey string
	shortDate string
	region    string
}

// VerifyRequest checks the SigV4 signature of r, either from the Authorization
// header or from presigned query parameters. For header-signed requests with a
// hashed payload the body is read, checked and replaced so handlers can still
// consume it.
func VerifyRequest(ctx context.Context, r *http.Request, store CredentialsStore) error {
	if r.URL.Query().Get(QueryAlgorithm) != "" {
		return verifyPresigned(r, store)
	}
	return verifyHeader(r, store)
}

func verifyPresigned(r *http.Request, store CredentialsStore) error {
	q := r.URL.Query()
	if q.Get(QueryAlgorithm) != Algorithm {
		return ErrAuthInvalid
	}
	sc, err := parseCredential(q.Get(QueryCredential))
	if err != nil {
		return err
	}
	secret, _, ok := store.Lookup(sc.accessKey)
	if !ok {
		return ErrAuthInvalid
	}
	amzDate := q.Get(QueryDate)
	signedAt, err := time.Parse(AmzDateFormat, amzDate)
	if err != nil || signedAt.Format(ShortDateFormat) != sc.shortDate {
		return ErrAuthInvalid
	}
	expires, err := strconv.ParseInt(q.Get(QueryExpires), 10, 64)
	if err != nil || expires <= 0 || time.Duration(expires)*time.Second > MaxPresignExpiry {
		return ErrAuthInvalid
	}
	now := nowFunc().UTC()
	if now.Before(signedAt.Add(-MaxClockSkew)) || !now.Before(signedAt.Add(time.Duration(expires)*time.Second)) {
		return ErrRequestExpired
	}
	got := q.Get(QuerySignature)
	if got == "" {
		return ErrAuthInvalid
	}
	q.Del(QuerySignature)

	payloadHash := UnsignedPayload
	if v := r.Header.Get(HeaderContentSHA256); v != "" {
		payloadHash = v
	}
	cr, err := canonicalFromRequest(r, strings.Split(q.Get(QuerySignedHeaders), ";"), CanonicalQuery(q), payloadHash)
	if err != nil {
		return err
	}
	return compareSignature(cr, secret, amzDate, sc, got)
}

func verifyHeader(r *http.Request, store CredentialsStore) error {
	auth := r.Header.Get(HeaderAuthorization)
	if auth == "" {
		return ErrAuthMissing
	}
	if !strings.HasPrefix(auth, Algorithm+" ") {
		return ErrAuthInvalid
	}
	fields := parseAuthorization(strings.TrimPrefix(auth, Algorithm+" "))
	sc, err := parseCredential(fields["Credential"])
	if err != nil {
		return err
	}
	got := fields["Signature"]
	signedHeaders := fields["SignedHeaders"]
	if got == "" || signedHeaders == "" {
		return ErrAuthInvalid
	}
	secret, _, ok := store.Lookup(sc.accessKey)
	if !ok {
		return ErrAuthInvalid
	}
	amzDate := r.Header.Get(HeaderAmzDate)
	signedAt, err := time.Parse(AmzDateFormat, amzDate)
	if err != nil || signedAt.Format(ShortDateFormat) != sc.shortDate {
		return ErrAuthInvalid
	}
	if d := nowFunc().UTC().Sub(signedAt); d > MaxClockSkew || d < -MaxClockSkew {
		return ErrRequestExpired
	}
	payloadHash := r.Header.Get(HeaderContentSHA256)
	if payloadHash == "" {
		return ErrAuthInvalid
	}
	if payloadHash != UnsignedPayload {
		if err := checkBody(r, payloadHash); err != nil {
			return err
		}
	}
	cr, err := canonicalFromRequest(r, strings.Split(signedHeaders, ";"), CanonicalQuery(r.URL.Query()), payloadHash)
	if err != nil {
		return err
	}
	return compareSignature(cr, secret, amzDate, sc, got)
}

// canonicalFromRequest rebuilds the canonical request the way the signer built it.
func canonicalFromRequest(r *http.Request, signedHeaders []string, query, payloadHash string) (CanonicalRequest, error) {
	headers := make(map[string]string, len(signedHeaders))
	hasHost := false
	for _, h := range signedHeaders {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			return CanonicalRequest{}, ErrAuthInvalid
		}
		if h == HeaderHost {
			hasHost = true
			headers[h] = r.Host
			continue
		}
		headers[h] = strings.Join(r.Header.Values(h), ",")
	}
	if !hasHost {
		return CanonicalRequest{}, ErrAuthInvalid
	}
	canonical, signed, err := CanonicalHeaders(headers)
	if err != nil {
		return CanonicalRequest{}, err
	}
	uri, err := ReescapePath(r.URL.EscapedPath())
	if err != nil {
		return CanonicalRequest{}, ErrAuthInvalid
	}
	if uri == "" {
		uri = "/"
	}
	return CanonicalRequest{
		Method:        r.Method,
		URI:           uri,
		Query:         query,
		Headers:       canonical,
		SignedHeaders: signed,
		PayloadHash:   payloadHash,
	}, nil
}

func compareSignature(cr CanonicalRequest, secret, amzDate string, sc scope, got string) error {
	key := DeriveSigningKey(secret, sc.shortDate, sc.region)
	want := Sign(cr, key, amzDate, sc.shortDate, sc.region)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

func checkBody(r *http.Request, payloadHash string) error {
	if r.Body == nil || r.Body == http.NoBody {
		if payloadHash != EmptyStringSHA256 {
			return fmt.Errorf("%w: payload hash", ErrSignatureMismatch)
		}
		return nil
	}
	b, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrAuthInvalid, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(b))
	if HashPayload(b) != strings.ToLower(payloadHash) {
		return fmt.Errorf("%w: payload hash", ErrSignatureMismatch)
	}
	return nil
}

// parseAuthorization splits "Credential=..., SignedHeaders=..., Signature=..." into a map.
func parseAuthorization(s string) map[string]string {
	out := make(map[string]string, 3)
	for _, f := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// Credential format: <AKID>/<Date>/<Region>/s3/aws4_request
func parseCredential(cred string) (scope, error) {
	parts := strings.Split(cred, "/")
	if len(parts) != 5 {
		return scope{}, ErrAuthInvalid
	}
	sc := scope{
		accessKey: strings.TrimSpace(parts[0]),
		shortDate: parts[1],
		region:    parts[2],
	}
	if sc.accessKey == "" || sc.shortDate == "" || sc.region == "" || parts[3] != Service || parts[4] != Terminator {
		return scope{}, ErrAuthInvalid
	}
	return sc, nil
}

type errorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// Middleware returns an HTTP middleware that enforces SigV4 verification
// except for requests where exempt(r) == true.
// Failures are answered with 403 and an S3 style XML error document.
func Middleware(store CredentialsStore, exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt != nil && exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			if err := VerifyRequest(r.Context(), r, store); err != nil {
				code := "AccessDenied"
				switch {
				case errors.Is(err, ErrSignatureMismatch):
					code = "SignatureDoesNotMatch"
				case errors.Is(err, ErrAuthMissing):
					code = "MissingSecurityHeader"
				}
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusForbidden)
				_ = xml.NewEncoder(w).Encode(errorResponse{Code: code, Message: err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
