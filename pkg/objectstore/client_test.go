package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"s3signer/pkg/security/sigv4"
)

var testCreds = Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"}

type seenRequest struct {
	method string
	path   string
	header http.Header
	body   []byte
}

// fakeS3 is a TLS server that verifies SigV4 before storing PUT bodies.
type fakeS3 struct {
	srv  *httptest.Server
	mu   sync.Mutex
	objs map[string][]byte
	seen []seenRequest
}

func newFakeS3(t *testing.T) *fakeS3 {
	t.Helper()
	f := &fakeS3{objs: map[string][]byte{}}
	store := sigv4.NewStaticStore([]sigv4.AccessKey{{AccessKey: testCreds.AccessKeyID, SecretKey: testCreds.SecretAccessKey}})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.seen = append(f.seen, seenRequest{method: r.Method, path: r.URL.EscapedPath(), header: r.Header.Clone(), body: b})
		switch r.Method {
		case http.MethodPut:
			f.objs[r.URL.Path] = b
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			obj, ok := f.objs[r.URL.Path]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(obj)
		default:
			f.mu.Unlock()
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	f.srv = httptest.NewTLSServer(sigv4.Middleware(store, nil)(inner))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeS3) requests() []seenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]seenRequest(nil), f.seen...)
}

func (f *fakeS3) target(bucket, key string) Target {
	return Target{Endpoint: f.srv.URL, Region: "us-east-1", Bucket: bucket, Key: key}
}

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (o *recordingObserver) Observe(op string, bytes int64, err error, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

func TestPutObject_SignedRoundTrip(t *testing.T) {
	f := newFakeS3(t)
	obs := &recordingObserver{}
	c := New(WithHTTPClient(f.srv.Client()), WithObserver(obs))

	err := c.PutObject(context.Background(), PutRequest{
		Target:      f.target("my bucket", "folder/file (1).txt"),
		Credentials: testCreds,
		Body:        []byte("hello world"),
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	reqs := f.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	got := reqs[0]
	if got.path != "/my%20bucket/folder/file%20%281%29.txt" {
		t.Fatalf("request path = %q", got.path)
	}
	if string(got.body) != "hello world" {
		t.Fatalf("body = %q", got.body)
	}
	if _, ok := got.header["Content-Type"]; ok {
		t.Fatalf("content-type must be omitted when not set, got %q", got.header.Get("Content-Type"))
	}
	if !strings.Contains(got.header.Get("Authorization"), "SignedHeaders=host;x-amz-content-sha256;x-amz-date,") {
		t.Fatalf("unexpected authorization %q", got.header.Get("Authorization"))
	}
	if got.header.Get("X-Amz-Content-Sha256") != sigv4.HashPayload([]byte("hello world")) {
		t.Fatalf("payload hash header = %q", got.header.Get("X-Amz-Content-Sha256"))
	}
	if len(obs.ops) != 1 || obs.ops[0] != OpPutObject || obs.errs[0] != nil {
		t.Fatalf("observer saw %v %v", obs.ops, obs.errs)
	}
}

func TestPutObject_ContentTypeSentButNotSigned(t *testing.T) {
	f := newFakeS3(t)
	c := New(WithHTTPClient(f.srv.Client()))
	err := c.PutObject(context.Background(), PutRequest{
		Target:      f.target("assets", "a.json"),
		Credentials: testCreds,
		Body:        []byte(`{}`),
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	got := f.requests()[0]
	if got.header.Get("Content-Type") != "application/json" {
		t.Fatalf("content-type = %q", got.header.Get("Content-Type"))
	}
	if strings.Contains(got.header.Get("Authorization"), "content-type") {
		t.Fatalf("content-type must not be signed: %q", got.header.Get("Authorization"))
	}
}

func TestPutObject_EmptyBody(t *testing.T) {
	f := newFakeS3(t)
	c := New(WithHTTPClient(f.srv.Client()))
	err := c.PutObject(context.Background(), PutRequest{Target: f.target("b", "empty"), Credentials: testCreds})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if h := f.requests()[0].header.Get("X-Amz-Content-Sha256"); h != sigv4.EmptyStringSHA256 {
		t.Fatalf("payload hash = %q", h)
	}
}

func TestPutObject_ForbiddenIncludesStatusAndBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("AccessDenied"))
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	err := c.PutObject(context.Background(), PutRequest{
		Target:      Target{Endpoint: srv.URL, Region: "us-east-1", Bucket: "b", Key: "k"},
		Credentials: testCreds,
		Body:        []byte("x"),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"403", "Forbidden", "AccessDenied"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not contain %q", err.Error(), want)
		}
	}
	if !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("expected ErrOperationFailed, got %v", err)
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.StatusCode != http.StatusForbidden {
		t.Fatalf("expected *OperationError with 403, got %#v", err)
	}
	if errors.Is(err, sigv4.ErrConfiguration) {
		t.Fatalf("operation failures are not configuration errors")
	}
}

func TestPutObject_WrongSecretSurfacesS3ErrorCode(t *testing.T) {
	f := newFakeS3(t)
	c := New(WithHTTPClient(f.srv.Client()))
	err := c.PutObject(context.Background(), PutRequest{
		Target:      f.target("b", "k"),
		Credentials: Credentials{AccessKeyID: testCreds.AccessKeyID, SecretAccessKey: "wrong"},
		Body:        []byte("x"),
	})
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected smithy.APIError, got %v", err)
	}
	if apiErr.ErrorCode() != "SignatureDoesNotMatch" {
		t.Fatalf("error code = %q", apiErr.ErrorCode())
	}
	if apiErr.ErrorFault() != smithy.FaultClient {
		t.Fatalf("fault = %v", apiErr.ErrorFault())
	}
}

func TestPutObject_ConfigurationErrorsSendNothing(t *testing.T) {
	f := newFakeS3(t)
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request may reach an insecure endpoint")
	}))
	defer plain.Close()

	cases := []struct {
		name   string
		client *Client
		req    PutRequest
		want   error
	}{
		{"http", New(), PutRequest{Target: Target{Endpoint: plain.URL, Region: "r", Bucket: "b", Key: "k"}, Credentials: testCreds}, sigv4.ErrInsecureEndpoint},
		{"not allowed", New(WithHTTPClient(f.srv.Client()), WithEndpointPolicy(sigv4.NewEndpointPolicy("storage.example.com"))), PutRequest{Target: f.target("b", "k"), Credentials: testCreds}, sigv4.ErrEndpointNotAllowed},
		{"malformed", New(), PutRequest{Target: Target{Endpoint: "https://h/?x=1", Region: "r", Bucket: "b", Key: "k"}, Credentials: testCreds}, sigv4.ErrMalformedEndpoint},
		{"no bucket", New(WithHTTPClient(f.srv.Client())), PutRequest{Target: f.target("", "k"), Credentials: testCreds}, ErrInvalidRequest},
		{"no key", New(WithHTTPClient(f.srv.Client())), PutRequest{Target: f.target("b", ""), Credentials: testCreds}, ErrInvalidRequest},
		{"no secret", New(WithHTTPClient(f.srv.Client())), PutRequest{Target: f.target("b", "k"), Credentials: Credentials{AccessKeyID: "A"}}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		err := tc.client.PutObject(context.Background(), tc.req)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
		if !errors.Is(err, sigv4.ErrConfiguration) {
			t.Errorf("%s: expected a configuration error, got %v", tc.name, err)
		}
	}
	if n := len(f.requests()); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestPutObject_CallerDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := New(WithHTTPClient(srv.Client()))
	err := c.PutObject(ctx, PutRequest{
		Target:      Target{Endpoint: srv.URL, Region: "us-east-1", Bucket: "b", Key: "k"},
		Credentials: testCreds,
		Body:        []byte("x"),
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPutObject_Concurrent(t *testing.T) {
	f := newFakeS3(t)
	c := New(WithHTTPClient(f.srv.Client()))
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "objects/" + string(rune('a'+i)) + ".bin"
			errs <- c.PutObject(context.Background(), PutRequest{
				Target:      f.target("bucket", key),
				Credentials: testCreds,
				Body:        []byte(key),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent put failed: %v", err)
		}
	}
	if n := len(f.requests()); n != 16 {
		t.Fatalf("expected 16 requests, got %d", n)
	}
}

func TestPresignGetObject_Fixture(t *testing.T) {
	c := New(WithClock(func() time.Time { return time.Date(2024, 6, 7, 8, 9, 10, 0, time.UTC) }))
	u, err := c.PresignGetObject(context.Background(), PresignRequest{
		Target:      Target{Endpoint: "https://storage.example.com/root/path/", Region: "us-east-1", Bucket: "my bucket", Key: "folder/file (1).txt"},
		Credentials: testCreds,
	})
	if err != nil {
		t.Fatalf("PresignGetObject: %v", err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.EscapedPath() != "/root/path/my%20bucket/folder/file%20%281%29.txt" {
		t.Fatalf("path = %q", parsed.EscapedPath())
	}
	q := parsed.Query()
	want := map[string]string{
		"X-Amz-Algorithm":     "AWS4-HMAC-SHA256",
		"X-Amz-Credential":    "AKIDEXAMPLE/20240607/us-east-1/s3/aws4_request",
		"X-Amz-Date":          "20240607T080910Z",
		"X-Amz-Expires":       "3600",
		"X-Amz-SignedHeaders": "host",
		"X-Amz-Signature":     "cedcdf1925ba2974c7acdbdd5c990095648d14218b1d855ba2f9c49ea8dd47ac",
	}
	if len(q) != len(want) {
		t.Fatalf("query = %v", q)
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestPresignGetObject_URLIsAccepted(t *testing.T) {
	f := newFakeS3(t)
	c := New(WithHTTPClient(f.srv.Client()))
	if err := c.PutObject(context.Background(), PutRequest{Target: f.target("docs", "a b/c.txt"), Credentials: testCreds, Body: []byte("content")}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	u, err := c.PresignGetObject(context.Background(), PresignRequest{Target: f.target("docs", "a b/c.txt"), Credentials: testCreds, ExpiresIn: time.Minute})
	if err != nil {
		t.Fatalf("PresignGetObject: %v", err)
	}
	// A presigned URL needs no credentials on the client side.
	resp, err := f.srv.Client().Get(u)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "content" {
		t.Fatalf("GET presigned: %d %q", resp.StatusCode, b)
	}
}

func TestPresignGetObject_Validation(t *testing.T) {
	c := New()
	base := PresignRequest{Target: Target{Endpoint: "https://storage.example.com", Region: "auto", Bucket: "b", Key: "k"}, Credentials: testCreds}
	for _, d := range []time.Duration{-time.Second, time.Millisecond, 8 * 24 * time.Hour} {
		r := base
		r.ExpiresIn = d
		if _, err := c.PresignGetObject(context.Background(), r); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expiry %s: got %v, want ErrInvalidRequest", d, err)
		}
	}
	r := base
	r.Endpoint = "http://storage.example.com"
	if _, err := c.PresignGetObject(context.Background(), r); !errors.Is(err, sigv4.ErrInsecureEndpoint) {
		t.Fatalf("got %v, want ErrInsecureEndpoint", err)
	}
	r = base
	r.Region = ""
	if _, err := c.PresignGetObject(context.Background(), r); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest", err)
	}
}

func TestClient_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	f := newFakeS3(t)
	c := New(WithHTTPClient(f.srv.Client()), WithTracerProvider(tp), WithKeyHash(true))
	if err := c.PutObject(context.Background(), PutRequest{Target: f.target("b", "k"), Credentials: testCreds, Body: []byte("x")}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if _, err := c.PresignGetObject(context.Background(), PresignRequest{Target: f.target("b", "k"), Credentials: testCreds}); err != nil {
		t.Fatalf("PresignGetObject: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "objectstore.PutObject" || spans[1].Name() != "objectstore.PresignGetObject" {
		t.Fatalf("span names: %q, %q", spans[0].Name(), spans[1].Name())
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["http.status_code"] != "200" || attrs["s3.bucket"] != "b" || attrs["s3.key_hash"] != keyHash("k") {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}
