package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"s3signer/pkg/security/sigv4"
)

// ObjectStore is the surface the gateway needs from an S3-compatible store.
//
// Concurrency Safety: implementations MUST be safe for concurrent use. Client holds
// no per-call state, so any number of uploads and presigns may run in parallel.
type ObjectStore interface {
	PutObject(ctx context.Context, req PutRequest) error
	PresignGetObject(ctx context.Context, req PresignRequest) (string, error)
}

// Credentials is the access key pair used for one call. It is never stored or logged.
type Credentials = sigv4.Credentials

// Target addresses one object. Endpoint is the service base URL; the bucket is
// always placed in the path (path-style addressing).
type Target struct {
	Endpoint string
	Region   string
	Bucket   string
	Key      string
}

// PutRequest describes a single authenticated upload.
type PutRequest struct {
	Target
	Credentials Credentials
	Body        []byte
	// ContentType is sent when set but is not part of the signature.
	ContentType string
}

// PresignRequest describes a presigned GET.
type PresignRequest struct {
	Target
	Credentials Credentials
	// ExpiresIn is truncated to whole seconds. Zero means sigv4.DefaultPresignExpiry.
	ExpiresIn time.Duration
}

// Validate checks everything except the endpoint, which the EndpointPolicy owns.
func (t Target) Validate() error {
	switch {
	case strings.TrimSpace(t.Region) == "":
		return fmt.Errorf("%w: region is required", ErrInvalidRequest)
	case t.Bucket == "":
		return fmt.Errorf("%w: bucket is required", ErrInvalidRequest)
	case t.Key == "":
		return fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	return nil
}

func validateCredentials(c Credentials) error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return fmt.Errorf("%w: access key id and secret access key are required", ErrInvalidRequest)
	}
	return nil
}

// Validate reports whether the request can be signed.
func (r PutRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return err
	}
	if err := validateCredentials(r.Credentials); err != nil {
		return err
	}
	if strings.ContainsAny(r.ContentType, "\r\n") {
		return fmt.Errorf("%w: content type contains a line break", ErrInvalidRequest)
	}
	return nil
}

// Validate reports whether the request can be signed.
func (r PresignRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return err
	}
	if err := validateCredentials(r.Credentials); err != nil {
		return err
	}
	if r.ExpiresIn < 0 || (r.ExpiresIn > 0 && r.ExpiresIn < time.Second) || r.ExpiresIn > sigv4.MaxPresignExpiry {
		return fmt.Errorf("%w: expiry must be between 1s and %s", ErrInvalidRequest, sigv4.MaxPresignExpiry)
	}
	return nil
}
