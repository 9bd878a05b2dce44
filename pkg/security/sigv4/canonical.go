package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CanonicalRequest is the normalized form of a request that gets hashed into the
// string to sign. It is built fresh for every signature.
type CanonicalRequest struct {
	Method string
	URI    string
	// Query is empty for header-signed requests.
	Query string
	// Headers holds one "name:value\n" line per signed header.
	Headers       string
	SignedHeaders string
	PayloadHash   string
}

// String renders the canonical request:
// METHOD\nURI\nQUERY\nHEADERS\nSIGNED_HEADERS\nPAYLOAD_HASH.
func (c CanonicalRequest) String() string {
	var b strings.Builder
	b.Grow(len(c.Method) + len(c.URI) + len(c.Query) + len(c.Headers) + len(c.SignedHeaders) + len(c.PayloadHash) + 5)
	b.WriteString(c.Method)
	b.WriteByte('\n')
	b.WriteString(c.URI)
	b.WriteByte('\n')
	b.WriteString(c.Query)
	b.WriteByte('\n')
	b.WriteString(c.Headers)
	b.WriteByte('\n')
	b.WriteString(c.SignedHeaders)
	b.WriteByte('\n')
	b.WriteString(c.PayloadHash)
	return b.String()
}

// Hash returns hex(sha256(c.String())).
func (c CanonicalRequest) Hash() string {
	return sha256Hex([]byte(c.String()))
}

// CanonicalURI returns the endpoint base path followed by the escaped bucket and key.
// Slashes inside key stay path separators; each segment is escaped on its own.
func CanonicalURI(ep *Endpoint, bucket, key string) string {
	return ep.BasePath + "/" + Escape(bucket) + "/" + EscapePath(key)
}

// CanonicalQuery escapes every name and value, sorts by name (then value for
// repeated names) and joins the pairs with '&'.
func CanonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := append([]string(nil), q[k]...)
		sort.Strings(vs)
		ek := Escape(k)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(ek)
			b.WriteByte('=')
			b.WriteString(Escape(v))
		}
	}
	return b.String()
}

// CanonicalHeaders lower-cases header names, trims values and collapses inner
// runs of spaces, then emits the sorted "name:value\n" block and the signed
// headers list. Values containing line breaks cannot be canonicalized.
func CanonicalHeaders(headers map[string]string) (canonical, signed string, err error) {
	names := make([]string, 0, len(headers))
	values := make(map[string]string, len(headers))
	for k, v := range headers {
		name := strings.ToLower(strings.TrimSpace(k))
		if name == "" {
			return "", "", fmt.Errorf("%w: empty header name", ErrEncoding)
		}
		if strings.ContainsAny(v, "\r\n") {
			return "", "", fmt.Errorf("%w: header %q contains a line break", ErrEncoding, name)
		}
		if _, dup := values[name]; dup {
			return "", "", fmt.Errorf("%w: duplicate header %q", ErrEncoding, name)
		}
		names = append(names, name)
		values[name] = collapseSpaces(strings.TrimSpace(v))
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(values[n])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";"), nil
}

// HashPayload returns hex(sha256(body)).
func HashPayload(body []byte) string {
	return sha256Hex(body)
}

func collapseSpaces(s string) string {
	if !strings.Contains(s, "  ") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func newPutCanonicalRequest(ep *Endpoint, bucket, key, amzDate, payloadHash string) (CanonicalRequest, error) {
	headers, signed, err := CanonicalHeaders(map[string]string{
		HeaderHost:          ep.Host,
		HeaderContentSHA256: payloadHash,
		HeaderAmzDate:       amzDate,
	})
	if err != nil {
		return CanonicalRequest{}, err
	}
	return CanonicalRequest{
		Method:        "PUT",
		URI:           CanonicalURI(ep, bucket, key),
		Headers:       headers,
		SignedHeaders: signed,
		PayloadHash:   payloadHash,
	}, nil
}

func newPresignCanonicalRequest(ep *Endpoint, bucket, key string, query url.Values) (CanonicalRequest, error) {
	headers, signed, err := CanonicalHeaders(map[string]string{HeaderHost: ep.Host})
	if err != nil {
		return CanonicalRequest{}, err
	}
	return CanonicalRequest{
		Method:        "GET",
		URI:           CanonicalURI(ep, bucket, key),
		Query:         CanonicalQuery(query),
		Headers:       headers,
		SignedHeaders: signed,
		PayloadHash:   UnsignedPayload,
	}, nil
}
