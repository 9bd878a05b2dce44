package objectstore

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/smithy-go"

	"s3signer/pkg/security/sigv4"
)

// ErrInvalidRequest marks a request that failed validation. It is a configuration
// error: errors.Is(err, sigv4.ErrConfiguration) holds.
var ErrInvalidRequest = fmt.Errorf("%w: invalid request", sigv4.ErrConfiguration)

// ErrOperationFailed matches every *OperationError.
var ErrOperationFailed = errors.New("objectstore: operation failed")

// maxErrorBody caps how much of a failure response is kept.
const maxErrorBody = 4 << 10

// OperationError is returned when the store answers with a non-2xx status.
// It satisfies smithy.APIError so callers can branch on ErrorCode.
type OperationError struct {
	Op         string
	StatusCode int
	// Status is the status text, e.g. "Forbidden".
	Status string
	// Body is the (possibly truncated) response body.
	Body string
	// Code and Message come from an S3 XML error document when one was returned.
	Code    string
	Message string
}

var _ smithy.APIError = (*OperationError)(nil)

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("objectstore: ")
	b.WriteString(e.Op)
	b.WriteString(" failed: ")
	b.WriteString(strconv.Itoa(e.StatusCode))
	if e.Status != "" {
		b.WriteByte(' ')
		b.WriteString(e.Status)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrOperationFailed) true.
func (e *OperationError) Is(target error) bool {
	return target == ErrOperationFailed
}

// ErrorCode returns the S3 error code, or the status text without spaces.
func (e *OperationError) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return strings.ReplaceAll(e.Status, " ", "")
}

func (e *OperationError) ErrorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Body
}

func (e *OperationError) ErrorFault() smithy.ErrorFault {
	switch {
	case e.StatusCode >= 500:
		return smithy.FaultServer
	case e.StatusCode >= 400:
		return smithy.FaultClient
	}
	return smithy.FaultUnknown
}

type s3Error struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func newOperationError(op string, resp *http.Response) *OperationError {
	e := &OperationError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		e.Body = "<unreadable body: " + err.Error() + ">"
		return e
	}
	e.Body = strings.TrimSpace(string(b))
	var doc s3Error
	if xml.Unmarshal(b, &doc) == nil {
		e.Code = doc.Code
		e.Message = doc.Message
	}
	return e
}
