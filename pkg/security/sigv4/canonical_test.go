package sigv4

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func fixtureEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	ep, err := NewEndpointPolicy().Validate("https://storage.example.com/root/path/")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return ep
}

func TestCanonicalURI_Fixture(t *testing.T) {
	got := CanonicalURI(fixtureEndpoint(t), "my bucket", "folder/file (1).txt")
	want := "/root/path/my%20bucket/folder/file%20%281%29.txt"
	if got != want {
		t.Fatalf("canonical uri mismatch: got %q want %q", got, want)
	}
}

func TestCanonicalQuerySorting(t *testing.T) {
	q := url.Values{}
	q.Add("b", "2")
	q.Add("a", "3")
	q.Add("a", "1")
	q.Add("space", "a b")
	q.Add("X-Amz-Credential", "AK/20240607/us-east-1/s3/aws4_request")
	got := CanonicalQuery(q)
	want := "X-Amz-Credential=AK%2F20240607%2Fus-east-1%2Fs3%2Faws4_request&a=1&a=3&b=2&space=a%20b"
	if got != want {
		t.Fatalf("canonicalQuery mismatch: got %q want %q", got, want)
	}
	if CanonicalQuery(nil) != "" {
		t.Fatalf("empty query must canonicalize to empty string")
	}
}

func TestCanonicalHeadersTrimWhitespace(t *testing.T) {
	headers, signed, err := CanonicalHeaders(map[string]string{
		"Host":         "Example.COM",
		"Content-Type": "  text/plain   ; charset=utf-8 ",
		"X-Amz-Date":   "20250101T000000Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "content-type:text/plain ; charset=utf-8\nhost:Example.COM\nx-amz-date:20250101T000000Z\n"
	if headers != want {
		t.Fatalf("headers mismatch: got %q want %q", headers, want)
	}
	if signed != "content-type;host;x-amz-date" {
		t.Fatalf("unexpected signed header order: %q", signed)
	}
}

func TestCanonicalHeaders_RejectsLineBreaks(t *testing.T) {
	_, _, err := CanonicalHeaders(map[string]string{"host": "a\r\nx-evil: 1"})
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
	_, _, err = CanonicalHeaders(map[string]string{"Host": "a", "host": "b"})
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for duplicate names, got %v", err)
	}
}

func TestPutCanonicalRequest(t *testing.T) {
	ph := HashPayload([]byte("hello world"))
	cr, err := newPutCanonicalRequest(fixtureEndpoint(t), "my bucket", "folder/file (1).txt", "20240607T080910Z", ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := strings.Join([]string{
		"PUT",
		"/root/path/my%20bucket/folder/file%20%281%29.txt",
		"",
		"host:storage.example.com\nx-amz-content-sha256:" + ph + "\nx-amz-date:20240607T080910Z\n",
		"host;x-amz-content-sha256;x-amz-date",
		ph,
	}, "\n")
	if cr.String() != want {
		t.Fatalf("canonical request mismatch:\n got %q\nwant %q", cr.String(), want)
	}
	if cr.SignedHeaders != PutSignedHeaders {
		t.Fatalf("signed headers = %q", cr.SignedHeaders)
	}
	if got := cr.Hash(); got != "39e4aaf49c4b7864288490ba0395663285469053345e79988cf9106850d90451" {
		t.Fatalf("canonical request hash = %q", got)
	}
}

func TestHashPayload(t *testing.T) {
	if HashPayload(nil) != EmptyStringSHA256 {
		t.Fatalf("empty payload hash mismatch")
	}
	if got := HashPayload([]byte("hello world")); got != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Fatalf("payload hash = %q", got)
	}
}
