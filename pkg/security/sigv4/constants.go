package sigv4

import "time"

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"
	// Service is the only service this package signs for.
	Service = "s3"
	// Terminator closes every credential scope.
	Terminator = "aws4_request"

	// UnsignedPayload is the payload hash used by presigned requests.
	UnsignedPayload = "UNSIGNED-PAYLOAD"
	// EmptyStringSHA256 is hex(sha256("")).
	EmptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// AmzDateFormat is the long timestamp format, always UTC.
	AmzDateFormat = "20060102T150405Z"
	// ShortDateFormat is the credential scope date format, always UTC.
	ShortDateFormat = "20060102"

	// DefaultPresignExpiry applies when a presign request does not set one.
	DefaultPresignExpiry = 3600 * time.Second
	// MaxPresignExpiry is the longest validity S3 accepts for a presigned URL.
	MaxPresignExpiry = 7 * 24 * time.Hour
)

// Header names, lower-cased as they appear in canonical requests.
const (
	HeaderHost          = "host"
	HeaderContentSHA256 = "x-amz-content-sha256"
	HeaderAmzDate       = "x-amz-date"
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "content-type"
)

// Query parameter names used by presigned URLs.
const (
	QueryAlgorithm     = "X-Amz-Algorithm"
	QueryCredential    = "X-Amz-Credential"
	QueryDate          = "X-Amz-Date"
	QueryExpires       = "X-Amz-Expires"
	QuerySignedHeaders = "X-Amz-SignedHeaders"
	QuerySignature     = "X-Amz-Signature"
)

// Signed header lists for the two flows.
const (
	PutSignedHeaders     = "host;x-amz-content-sha256;x-amz-date"
	PresignSignedHeaders = "host"
)
