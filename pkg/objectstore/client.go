package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"s3signer/pkg/security/sigv4"
)

// Operation names reported to observers.
const (
	OpPutObject        = "put_object"
	OpPresignGetObject = "presign_get_object"
)

// Observer receives one call per finished operation.
type Observer interface {
	Observe(op string, bytes int64, err error, dur time.Duration)
}

// Client signs and sends object requests. Its fields are set once by New and
// only read afterwards.
type Client struct {
	policy     *sigv4.EndpointPolicy
	httpClient *http.Client
	now        func() time.Time
	observer   Observer
	logger     *slog.Logger
	tracer     trace.Tracer
	keyHash    bool
}

// Option configures a Client.
type Option func(*Client)

// WithEndpointPolicy restricts which endpoints may be signed for. Without it any
// HTTPS endpoint is accepted.
func WithEndpointPolicy(p *sigv4.EndpointPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHTTPClient sets the client used for PUT. Deadlines come from the caller's
// context or from this client; the Client adds none of its own.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer("s3signer/objectstore") }
}

// WithKeyHash adds s3.key_hash (first 8 bytes of sha256(key), hex) to spans and logs.
func WithKeyHash(enabled bool) Option {
	return func(c *Client) { c.keyHash = enabled }
}

// New builds a Client.
func New(opts ...Option) *Client {
	c := &Client{}
	for _, o := range opts {
		o(c)
	}
	if c.policy == nil {
		c.policy = sigv4.NewEndpointPolicy()
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("s3signer/objectstore")
	}
	return c
}

var _ ObjectStore = (*Client)(nil)

// PutObject uploads req.Body with a header-signed PUT. Any non-2xx answer is
// returned as *OperationError. Nothing is retried.
func (c *Client) PutObject(ctx context.Context, req PutRequest) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "objectstore.PutObject", trace.WithSpanKind(trace.SpanKindClient))
	defer func() { c.finish(span, OpPutObject, req.Target, int64(len(req.Body)), err, time.Since(start)) }()

	ep, err := c.policy.Validate(req.Endpoint)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	payloadHash := sigv4.HashPayload(req.Body)
	signed, err := sigv4.SignPut(req.Credentials, ep, req.Region, req.Bucket, req.Key, payloadHash, c.now())
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, signed.URL, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", sigv4.ErrEncoding, err)
	}
	httpReq.Host = signed.Host
	for k, v := range signed.Header {
		httpReq.Header[k] = v
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("objectstore: put object: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newOperationError("put object", resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// PresignGetObject returns a GET URL that embeds its own signature. It performs
// no network I/O; ctx only parents the span.
func (c *Client) PresignGetObject(ctx context.Context, req PresignRequest) (u string, err error) {
	start := time.Now()
	_, span := c.tracer.Start(ctx, "objectstore.PresignGetObject", trace.WithSpanKind(trace.SpanKindInternal))
	defer func() { c.finish(span, OpPresignGetObject, req.Target, 0, err, time.Since(start)) }()

	ep, err := c.policy.Validate(req.Endpoint)
	if err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	return sigv4.Presign(req.Credentials, ep, req.Region, req.Bucket, req.Key, req.ExpiresIn, c.now())
}

func (c *Client) finish(span trace.Span, op string, t Target, n int64, err error, dur time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("s3.bucket", t.Bucket)}
	logAttrs := []any{slog.String("op", op), slog.String("bucket", t.Bucket), slog.Duration("duration", dur)}
	if c.keyHash {
		h := keyHash(t.Key)
		attrs = append(attrs, attribute.String("s3.key_hash", h))
		logAttrs = append(logAttrs, slog.String("keyHash", h))
	}
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("objectstore: operation failed", append(logAttrs, slog.String("error", err.Error()))...)
	} else {
		c.logger.Debug("objectstore: operation done", logAttrs...)
	}
	span.End()
	if c.observer != nil {
		c.observer.Observe(op, n, err, dur)
	}
}

func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
