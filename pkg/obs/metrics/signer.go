package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus"

	"s3signer/pkg/security/sigv4"
)

// Failure kinds used for the failures_total "kind" label.
const (
	KindConfiguration = "configuration"
	KindEncoding      = "encoding"
	KindOperation     = "operation"
	KindCanceled      = "canceled"
	KindTransport     = "transport"
)

// SignerMetrics holds Prometheus collectors for signed object operations.
// It implements objectstore.Observer.
type SignerMetrics struct {
	bytes    *prometheus.CounterVec
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewSignerMetrics registers signer metrics on the provided registry.
func NewSignerMetrics(reg *prometheus.Registry) *SignerMetrics {
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "s3signer",
		Subsystem: "objectstore",
		Name:      "bytes_total",
		Help:      "Total payload bytes sent by object operations.",
	}, []string{"op"})
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "s3signer",
		Subsystem: "objectstore",
		Name:      "ops_total",
		Help:      "Total number of object operations by result.",
	}, []string{"op", "result"}) // result = "ok" | "error"
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "s3signer",
		Subsystem: "objectstore",
		Name:      "op_duration_seconds",
		Help:      "Histogram of object operation durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "s3signer",
		Subsystem: "objectstore",
		Name:      "failures_total",
		Help:      "Failed object operations by error kind.",
	}, []string{"op", "kind"})

	_ = reg.Register(bytes)
	_ = reg.Register(ops)
	_ = reg.Register(latency)
	_ = reg.Register(failures)

	return &SignerMetrics{
		bytes:    bytes,
		ops:      ops,
		latency:  latency,
		failures: failures,
	}
}

// Observe records one finished operation. Bytes are counted only on success.
func (m *SignerMetrics) Observe(op string, bytes int64, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
		m.failures.WithLabelValues(op, FailureKind(err)).Inc()
	} else if bytes > 0 {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

// FailureKind maps an operation error to a low-cardinality label value.
func FailureKind(err error) string {
	var apiErr smithy.APIError
	switch {
	case errors.Is(err, sigv4.ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, sigv4.ErrEncoding):
		return KindEncoding
	case errors.As(err, &apiErr):
		return KindOperation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindTransport
}
