package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"s3signer/pkg/api/gateway"
	"s3signer/pkg/config"
	"s3signer/pkg/objectstore"
	"s3signer/pkg/obs/metrics"
	"s3signer/pkg/obs/tracing"
	"s3signer/pkg/security/credentials"
	"s3signer/pkg/security/oidc"
	"s3signer/pkg/security/sigv4"
)

var version = "0.0.1-dev"
var ready atomic.Bool

func main() {
	// Load config from S3SIGNER_CONFIG or ./config.yaml; defaults otherwise.
	cfgPath := os.Getenv("S3SIGNER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// The allow-list is fixed for the life of the process.
	policy := cfg.EndpointPolicy()
	if _, err := policy.Validate(cfg.Endpoint); err != nil {
		slog.Error("endpoint rejected", slog.String("endpoint", cfg.Endpoint), slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	creds, err := credentials.Resolve(ctx, cfg.Credentials)
	if err != nil {
		slog.Error("credentials", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if _, err := creds.Credentials(ctx); err != nil {
		slog.Error("credentials", slog.String("source", creds.Name()), slog.String("error", err.Error()))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "presign" {
		os.Exit(presign(ctx, cfg, policy, creds, os.Args[2:]))
	}

	// Initialize tracing (OpenTelemetry)
	traceShutdown, terr := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if terr != nil {
		slog.Warn("tracing init failed", slog.String("error", terr.Error()))
	}

	// Optional OIDC bearer auth. Health endpoints stay open when allowUnauthHealth is set.
	var verifier *oidc.Verifier
	if cfg.OIDC.Enabled {
		verifier, err = oidc.NewVerifier(ctx, oidc.Config{
			Issuer:   cfg.OIDC.Issuer,
			ClientID: cfg.OIDC.ClientID,
			Audience: cfg.OIDC.Audience,
			JWKSURL:  cfg.OIDC.JWKSURL,
		})
		if err != nil {
			slog.Error("oidc init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	logAuthMode(slog.Default(), cfg)
	protectOps := func(h http.Handler) http.Handler {
		if verifier == nil || cfg.OIDC.AllowUnauthHealth {
			return h
		}
		return oidc.Middleware(verifier, nil)(h)
	}

	mux := http.NewServeMux()
	mux.Handle("/livez", protectOps(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})))
	mux.Handle("/readyz", protectOps(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})))

	// Metrics: Prometheus /metrics endpoint and HTTP instrumentation
	m := metrics.New()
	mux.Handle("/metrics", protectOps(m.Handler()))
	sm := metrics.NewSignerMetrics(m.Registry())

	timeout, _ := cfg.Timeout()
	// One clock signs URLs and reports their expiry.
	clock := time.Now
	client := objectstore.New(
		objectstore.WithClock(clock),
		objectstore.WithEndpointPolicy(policy),
		objectstore.WithHTTPClient(&http.Client{
			Timeout:   timeout,
			Transport: &tracing.Transport{Base: http.DefaultTransport},
		}),
		objectstore.WithObserver(sm),
		objectstore.WithKeyHash(cfg.Tracing.KeyHashEnabled),
	)

	api := gateway.New(client, creds, gateway.Options{
		Endpoint:       cfg.Endpoint,
		Region:         cfg.Region,
		Bucket:         cfg.Bucket,
		PresignExpiry:  cfg.PresignExpiry(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		Now:            clock,
	})
	handler := api.Handler()
	if verifier != nil {
		// OIDC runs before RBAC so the subject is present.
		handler = oidc.RBAC(oidc.DefaultGatewayPolicy())(handler)
		handler = oidc.Middleware(verifier, nil)(handler)
	}
	handler = tracing.Middleware(handler)
	handler = m.Middleware(handler)
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		ready.Store(true)
		slog.Info("s3signer listening",
			slog.String("version", version),
			slog.String("addr", cfg.Address),
			slog.String("bucket", cfg.Bucket),
			slog.String("region", cfg.Region),
			slog.String("credentials", creds.Name()),
			slog.Any("allowedEndpointHosts", policy.Patterns()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ready.Store(false)
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := traceShutdown(sctx); err != nil {
		slog.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	slog.Info("s3signer stopped")
}

// logAuthMode reports whether the gateway requires bearer tokens. Without OIDC
// anyone who can reach the listener can upload and presign.
func logAuthMode(l *slog.Logger, cfg config.Config) {
	if cfg.OIDC.Enabled {
		l.Info("oidc enabled", slog.Bool("allowUnauthHealth", cfg.OIDC.AllowUnauthHealth))
		return
	}
	l.Warn("oidc disabled: uploads and presigns are served without authentication",
		slog.String("addr", cfg.Address))
}

// presign prints a presigned GET URL for args[0]; args[1] optionally sets the
// lifetime in seconds. It returns the process exit code.
func presign(ctx context.Context, cfg config.Config, policy *sigv4.EndpointPolicy, creds *credentials.Source, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: s3signer presign KEY [EXPIRES_SECONDS]")
		return 2
	}
	expires := cfg.PresignExpiry()
	if len(args) == 2 {
		secs, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid expiry %q\n", args[1])
			return 2
		}
		expires = time.Duration(secs) * time.Second
	}
	c, err := creds.Credentials(ctx)
	if err != nil {
		slog.Error("credentials", slog.String("error", err.Error()))
		return 1
	}
	u, err := objectstore.New(objectstore.WithEndpointPolicy(policy)).PresignGetObject(ctx, objectstore.PresignRequest{
		Target:      objectstore.Target{Endpoint: cfg.Endpoint, Region: cfg.Region, Bucket: cfg.Bucket, Key: args[0]},
		Credentials: c,
		ExpiresIn:   expires,
	})
	if err != nil {
		slog.Error("presign", slog.String("error", err.Error()))
		return 1
	}
	fmt.Println(u)
	return 0
}
