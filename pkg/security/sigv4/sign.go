package sigv4

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Credentials is an access key pair. It is only read for the duration of one call.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// String keeps the secret out of logs and fmt output.
func (c Credentials) String() string {
	return c.AccessKeyID + "/<redacted>"
}

// SigningTime holds the two UTC renderings of the signing instant.
type SigningTime struct {
	// AmzDate is YYYYMMDDTHHMMSSZ.
	AmzDate string
	// ShortDate is YYYYMMDD.
	ShortDate string
}

// NewSigningTime formats t in UTC.
func NewSigningTime(t time.Time) SigningTime {
	t = t.UTC()
	return SigningTime{AmzDate: t.Format(AmzDateFormat), ShortDate: t.Format(ShortDateFormat)}
}

// CredentialScope returns shortDate/region/s3/aws4_request.
func CredentialScope(shortDate, region string) string {
	return shortDate + "/" + region + "/" + Service + "/" + Terminator
}

// StringToSign returns
// AWS4-HMAC-SHA256\n<amzDate>\n<scope>\n<hex(sha256(canonical request))>.
func StringToSign(amzDate, scope string, cr CanonicalRequest) string {
	return Algorithm + "\n" + amzDate + "\n" + scope + "\n" + cr.Hash()
}

// Sign returns the lowercase hex signature of cr, always 64 characters.
func Sign(cr CanonicalRequest, signingKey []byte, amzDate, shortDate, region string) string {
	sts := StringToSign(amzDate, CredentialScope(shortDate, region), cr)
	return hex.EncodeToString(hmacSHA256(signingKey, sts))
}

// AuthorizationHeader builds the Authorization header value for header-signed requests.
func AuthorizationHeader(accessKeyID, scope, signedHeaders, signature string) string {
	return Algorithm + " Credential=" + accessKeyID + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
}

// SignedPut is a fully signed PUT, ready to be sent.
type SignedPut struct {
	// URL is origin + canonical URI.
	URL string
	// Host must be sent as the request Host.
	Host string
	// Header carries Authorization, x-amz-content-sha256 and x-amz-date.
	Header        http.Header
	SignedHeaders string
	Signature     string
}

// SignPut signs a PUT of an object whose body hashes to payloadHash.
func SignPut(creds Credentials, ep *Endpoint, region, bucket, key, payloadHash string, t time.Time) (*SignedPut, error) {
	st := NewSigningTime(t)
	cr, err := newPutCanonicalRequest(ep, bucket, key, st.AmzDate, payloadHash)
	if err != nil {
		return nil, err
	}
	signingKey := DeriveSigningKey(creds.SecretAccessKey, st.ShortDate, region)
	sig := Sign(cr, signingKey, st.AmzDate, st.ShortDate, region)

	h := make(http.Header)
	h.Set(HeaderAuthorization, AuthorizationHeader(creds.AccessKeyID, CredentialScope(st.ShortDate, region), cr.SignedHeaders, sig))
	h.Set(HeaderContentSHA256, payloadHash)
	h.Set(HeaderAmzDate, st.AmzDate)
	return &SignedPut{
		URL:           ep.Origin() + cr.URI,
		Host:          ep.Host,
		Header:        h,
		SignedHeaders: cr.SignedHeaders,
		Signature:     sig,
	}, nil
}

// Presign returns a GET URL for bucket/key that stays valid for expires.
// expires is truncated to whole seconds; zero selects DefaultPresignExpiry.
func Presign(creds Credentials, ep *Endpoint, region, bucket, key string, expires time.Duration, t time.Time) (string, error) {
	if expires == 0 {
		expires = DefaultPresignExpiry
	}
	secs := int64(expires / time.Second)
	if secs <= 0 || expires > MaxPresignExpiry {
		return "", fmt.Errorf("%w: presign expiry %s out of range", ErrConfiguration, expires)
	}
	st := NewSigningTime(t)
	scope := CredentialScope(st.ShortDate, region)

	q := url.Values{}
	q.Set(QueryAlgorithm, Algorithm)
	q.Set(QueryCredential, creds.AccessKeyID+"/"+scope)
	q.Set(QueryDate, st.AmzDate)
	q.Set(QueryExpires, strconv.FormatInt(secs, 10))
	q.Set(QuerySignedHeaders, PresignSignedHeaders)

	cr, err := newPresignCanonicalRequest(ep, bucket, key, q)
	if err != nil {
		return "", err
	}
	signingKey := DeriveSigningKey(creds.SecretAccessKey, st.ShortDate, region)
	sig := Sign(cr, signingKey, st.AmzDate, st.ShortDate, region)

	var b strings.Builder
	b.WriteString(ep.Origin())
	b.WriteString(cr.URI)
	b.WriteByte('?')
	b.WriteString(cr.Query)
	b.WriteString("&" + QuerySignature + "=")
	b.WriteString(sig)
	return b.String(), nil
}
