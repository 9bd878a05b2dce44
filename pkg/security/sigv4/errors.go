package sigv4

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the category of every error raised before signing starts:
// a bad endpoint, a rejected host or an invalid request. These are not retryable.
var ErrConfiguration = errors.New("sigv4: configuration error")

// Endpoint policy failures. All of them match ErrConfiguration with errors.Is.
var (
	ErrMalformedEndpoint  = fmt.Errorf("%w: malformed endpoint", ErrConfiguration)
	ErrInsecureEndpoint   = fmt.Errorf("%w: insecure endpoint", ErrConfiguration)
	ErrEndpointNotAllowed = fmt.Errorf("%w: endpoint not allowed", ErrConfiguration)
)

// ErrEncoding reports an internal invariant violation while building a canonical request.
var ErrEncoding = errors.New("sigv4: encoding error")

// Errors returned by the verifier.
var (
	ErrAuthMissing       = errors.New("sigv4: missing authorization")
	ErrAuthInvalid       = errors.New("sigv4: invalid authorization")
	ErrSignatureMismatch = errors.New("sigv4: signature does not match")
	ErrRequestExpired    = errors.New("sigv4: request expired")
)
