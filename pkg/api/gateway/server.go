package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/smithy-go"
	jsoniter "github.com/json-iterator/go"

	"s3signer/pkg/objectstore"
	"s3signer/pkg/security/sigv4"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-Id"

// CredentialsSource yields the key pair used to sign each request.
type CredentialsSource interface {
	Credentials(ctx context.Context) (sigv4.Credentials, error)
}

// Options configures a Server.
type Options struct {
	Endpoint       string
	Region         string
	Bucket         string
	PresignExpiry  time.Duration // default for GET /presign without ?expires
	MaxUploadBytes int64
	Logger         *slog.Logger
	// Now is the signing clock. Pass the same function to objectstore.WithClock.
	Now            func() time.Time
}

// Server routes gateway requests. Dependencies are injected for testability.
type Server struct {
	store  objectstore.ObjectStore
	creds  CredentialsSource
	opt    Options
	logger *slog.Logger
}

// New returns a gateway server.
func New(store objectstore.ObjectStore, creds CredentialsSource, opt Options) *Server {
	if opt.PresignExpiry <= 0 {
		opt.PresignExpiry = sigv4.DefaultPresignExpiry
	}
	if opt.MaxUploadBytes <= 0 {
		opt.MaxUploadBytes = 5 << 30
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, creds: creds, opt: opt, logger: logger}
}

// Handler returns an http.Handler for gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /objects/{key...}", s.handlePut)
	mux.HandleFunc("GET /presign/{key...}", s.handlePresign)
	return withRequestID(mux)
}

type putResponse struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

type presignResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	RequestID      string `json:"requestId,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
	UpstreamCode   string `json:"upstreamCode,omitempty"`
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, "InvalidKey", "object key is required")
		return
	}
	if r.ContentLength > s.opt.MaxUploadBytes {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "EntityTooLarge", "upload exceeds "+strconv.FormatInt(s.opt.MaxUploadBytes, 10)+" bytes")
		return
	}
	body, err := readBody(w, r, s.opt.MaxUploadBytes)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "EntityTooLarge", "upload exceeds "+strconv.FormatInt(mbe.Limit, 10)+" bytes")
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "IncompleteBody", "read request body: "+err.Error())
		return
	}
	creds, err := s.creds.Credentials(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	err = s.store.PutObject(r.Context(), objectstore.PutRequest{
		Target:      s.target(key),
		Credentials: creds,
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, putResponse{Bucket: s.opt.Bucket, Key: key, Size: int64(len(body))})
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, "InvalidKey", "object key is required")
		return
	}
	expires := s.opt.PresignExpiry
	if v := r.URL.Query().Get("expires"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs < 1 || secs > int64(sigv4.MaxPresignExpiry/time.Second) {
			s.writeError(w, r, http.StatusBadRequest, "InvalidExpires", "expires must be an integer number of seconds between 1 and 604800")
			return
		}
		expires = time.Duration(secs) * time.Second
	}
	creds, err := s.creds.Credentials(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	now := s.opt.Now()
	u, err := s.store.PresignGetObject(r.Context(), objectstore.PresignRequest{
		Target:      s.target(key),
		Credentials: creds,
		ExpiresIn:   expires,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, presignResponse{URL: u, ExpiresAt: expiresAt(u, now, expires)})
}

// expiresAt reads the signing time back out of the URL so the reported expiry
// matches X-Amz-Date exactly. now is used only when the URL carries no date.
func expiresAt(signedURL string, now time.Time, expires time.Duration) time.Time {
	if u, err := url.Parse(signedURL); err == nil {
		if t, err := time.Parse(sigv4.AmzDateFormat, u.Query().Get(sigv4.QueryDate)); err == nil {
			return t.Add(expires)
		}
	}
	return now.UTC().Truncate(time.Second).Add(expires)
}

func (s *Server) target(key string) objectstore.Target {
	return objectstore.Target{Endpoint: s.opt.Endpoint, Region: s.opt.Region, Bucket: s.opt.Bucket, Key: key}
}

// writeFailure maps an operation error to a status:
// configuration 500, upstream answer 502, deadline 504, anything else 502.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr smithy.APIError
	var opErr *objectstore.OperationError
	switch {
	case errors.Is(err, sigv4.ErrConfiguration):
		s.logger.Error("gateway: configuration error", slog.String("requestId", requestID(r.Context())), slog.String("error", err.Error()))
		s.writeError(w, r, http.StatusInternalServerError, "ConfigurationError", err.Error())
	case errors.As(err, &opErr):
		s.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:          err.Error(),
			Code:           "UpstreamError",
			RequestID:      requestID(r.Context()),
			UpstreamStatus: opErr.StatusCode,
			UpstreamCode:   opErr.ErrorCode(),
		})
	case errors.As(err, &apiErr):
		s.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:        err.Error(),
			Code:         "UpstreamError",
			RequestID:    requestID(r.Context()),
			UpstreamCode: apiErr.ErrorCode(),
		})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusGatewayTimeout, "UpstreamTimeout", err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads this.
		s.writeError(w, r, 499, "RequestCanceled", err.Error())
	default:
		s.logger.Warn("gateway: upstream request failed", slog.String("requestId", requestID(r.Context())), slog.String("error", err.Error()))
		s.writeError(w, r, http.StatusBadGateway, "UpstreamUnavailable", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: code, RequestID: requestID(r.Context())})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("gateway: encode response", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
