package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"s3signer/pkg/security/sigv4"
)

// Config holds runtime configuration for s3signer.
//
// YAML example:
//
//	address: ":8080"
//	endpoint: "https://s3.us-east-1.amazonaws.com"
//	region: "us-east-1"              # defaults to "auto"
//	bucket: "uploads"
//	allowedEndpointHosts:            # empty means any https host
//	  - "*.amazonaws.com"
//	  - "minio.internal"              # hostnames only; ports are not matched
//	presignExpiresSeconds: 900
//	credentials:
//	  source: "static"               # "static" or "aws"
//	  accessKeyID: "AKIAEXAMPLE"
//	  secretAccessKey: "secret"
//
// Environment overrides:
//
//	S3SIGNER_ADDR, S3SIGNER_ENDPOINT, S3SIGNER_REGION, S3SIGNER_BUCKET
//	S3SIGNER_ALLOWED_ENDPOINT_HOSTS   comma-separated, e.g. "*.r2.cloudflarestorage.com,minio.local"
//	S3SIGNER_PRESIGN_EXPIRES          seconds
//	S3SIGNER_REQUEST_TIMEOUT          e.g. "30s"
//	S3SIGNER_MAX_UPLOAD_BYTES
//	S3SIGNER_CREDENTIALS_SOURCE, S3SIGNER_ACCESS_KEY_ID, S3SIGNER_SECRET_ACCESS_KEY, S3SIGNER_AWS_PROFILE
//	S3SIGNER_TRACING_*, S3SIGNER_OIDC_*
//	S3SIGNER_CONFIG                   path to YAML config file (read by cmd/s3signer)
type Config struct {
	Address               string            `yaml:"address"`
	Endpoint              string            `yaml:"endpoint"`
	Region                string            `yaml:"region"`
	Bucket                string            `yaml:"bucket"`
	AllowedEndpointHosts  []string          `yaml:"allowedEndpointHosts,omitempty"`
	PresignExpiresSeconds int               `yaml:"presignExpiresSeconds"`
	RequestTimeout        string            `yaml:"requestTimeout,omitempty"` // upstream PUT timeout, e.g. "30s"; "0" disables
	MaxUploadBytes        int64             `yaml:"maxUploadBytes"`
	Credentials           CredentialsConfig `yaml:"credentials"`
	Tracing               TracingConfig     `yaml:"tracing"`
	OIDC                  OIDCConfig        `yaml:"oidc"`
}

// Credential sources.
const (
	SourceStatic = "static"
	SourceAWS    = "aws"
)

// CredentialsConfig selects where signing keys come from.
type CredentialsConfig struct {
	Source          string `yaml:"source"`
	AccessKeyID     string `yaml:"accessKeyID,omitempty"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty"`
	Profile         string `yaml:"profile,omitempty"` // shared config profile for source "aws"
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`                 // OTLP collector endpoint (host:port or URL)
	Protocol       string  `yaml:"protocol,omitempty"`       // "grpc" (default) or "http"
	SampleRatio    float64 `yaml:"sampleRatio,omitempty"`    // 0.0 - 1.0
	ServiceName    string  `yaml:"serviceName,omitempty"`    // default "s3signer"
	KeyHashEnabled bool    `yaml:"keyHashEnabled,omitempty"` // emit s3.key_hash instead of nothing
}

// OIDCConfig configures bearer-token verification on the gateway (disabled by default).
type OIDCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Issuer   string `yaml:"issuer,omitempty"`
	ClientID string `yaml:"clientID,omitempty"`
	Audience string `yaml:"audience,omitempty"`
	JWKSURL  string `yaml:"jwksURL,omitempty"`
	// AllowUnauthHealth leaves /livez and /readyz open for health checks.
	AllowUnauthHealth bool `yaml:"allowUnauthHealth,omitempty"`
}

// Default returns a Config with safe, local defaults.
func Default() Config {
	return Config{
		Address:               ":8080",
		Region:                "auto",
		PresignExpiresSeconds: int(sigv4.DefaultPresignExpiry / time.Second),
		RequestTimeout:        "60s",
		MaxUploadBytes:        5 * 1024 * 1024 * 1024, // 5 GiB, the S3 single PUT limit
		Credentials: CredentialsConfig{
			Source: SourceStatic,
		},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			ServiceName: "s3signer",
		},
	}
}

// Load reads configuration from path. If path is empty, it attempts to read
// ./config.yaml; if not found, returns Default(). Environment overrides are
// applied last.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg := Default()
	if path == "" {
		return applyEnvOverrides(cfg), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return applyEnvOverrides(cfg), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return applyEnvOverrides(cfg), nil
}

// Validate reports settings the gateway cannot start with. The endpoint itself
// is checked against the allow-list by EndpointPolicy at startup.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if strings.TrimSpace(c.Region) == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	maxSecs := int(sigv4.MaxPresignExpiry / time.Second)
	if c.PresignExpiresSeconds < 1 || c.PresignExpiresSeconds > maxSecs {
		errs = append(errs, fmt.Errorf("presignExpiresSeconds must be between 1 and %d", maxSecs))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("maxUploadBytes must be positive"))
	}
	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}
	switch c.Credentials.Source {
	case SourceStatic:
		if c.Credentials.AccessKeyID == "" || c.Credentials.SecretAccessKey == "" {
			errs = append(errs, errors.New("credentials.accessKeyID and credentials.secretAccessKey are required for source \"static\""))
		}
	case SourceAWS:
	default:
		errs = append(errs, fmt.Errorf("credentials.source must be %q or %q, got %q", SourceStatic, SourceAWS, c.Credentials.Source))
	}
	if c.OIDC.Enabled && c.OIDC.Issuer == "" && c.OIDC.JWKSURL == "" {
		errs = append(errs, errors.New("oidc.issuer or oidc.jwksURL is required when oidc is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Timeout parses RequestTimeout. Empty or "0" means no timeout.
func (c Config) Timeout() (time.Duration, error) {
	s := strings.TrimSpace(c.RequestTimeout)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("requestTimeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("requestTimeout must not be negative, got %s", d)
	}
	return d, nil
}

// PresignExpiry returns the default lifetime of presigned URLs.
func (c Config) PresignExpiry() time.Duration {
	return time.Duration(c.PresignExpiresSeconds) * time.Second
}

// EndpointPolicy builds the policy for AllowedEndpointHosts. It is built once
// at startup and handed to the object store client.
func (c Config) EndpointPolicy() *sigv4.EndpointPolicy {
	return sigv4.NewEndpointPolicy(c.AllowedEndpointHosts...)
}

func applyEnvOverrides(cfg Config) Config {
	if v := os.Getenv("S3SIGNER_ADDR"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("S3SIGNER_ENDPOINT"); v != "" {
		cfg.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_REGION"); v != "" {
		cfg.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_BUCKET"); v != "" {
		cfg.Bucket = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("S3SIGNER_ALLOWED_ENDPOINT_HOSTS"); ok {
		// Set but empty clears a list coming from the file.
		cfg.AllowedEndpointHosts = sigv4.ParseAllowList(v)
	}
	if v := os.Getenv("S3SIGNER_PRESIGN_EXPIRES"); v != "" {
		if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.PresignExpiresSeconds = x
		}
	}
	if v := os.Getenv("S3SIGNER_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_MAX_UPLOAD_BYTES"); v != "" {
		if x, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && x > 0 {
			cfg.MaxUploadBytes = x
		}
	}

	// Credentials
	if v := os.Getenv("S3SIGNER_CREDENTIALS_SOURCE"); v != "" {
		cfg.Credentials.Source = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("S3SIGNER_ACCESS_KEY_ID"); v != "" {
		cfg.Credentials.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_SECRET_ACCESS_KEY"); v != "" {
		cfg.Credentials.SecretAccessKey = v
	}
	if v := os.Getenv("S3SIGNER_AWS_PROFILE"); v != "" {
		cfg.Credentials.Profile = strings.TrimSpace(v)
	}

	// Tracing
	if b, ok := envBool("S3SIGNER_TRACING_ENABLED"); ok {
		cfg.Tracing.Enabled = b
	}
	if v := os.Getenv("S3SIGNER_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_TRACING_PROTOCOL"); v != "" {
		p := strings.ToLower(strings.TrimSpace(v))
		if p == "grpc" || p == "http" {
			cfg.Tracing.Protocol = p
		}
	}
	if v := os.Getenv("S3SIGNER_TRACING_SAMPLE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Tracing.SampleRatio = min(max(f, 0), 1)
		}
	}
	if v := os.Getenv("S3SIGNER_TRACING_SERVICE"); v != "" {
		cfg.Tracing.ServiceName = strings.TrimSpace(v)
	}
	if b, ok := envBool("S3SIGNER_TRACING_KEY_HASH"); ok {
		cfg.Tracing.KeyHashEnabled = b
	}

	// OIDC
	if b, ok := envBool("S3SIGNER_OIDC_ENABLED"); ok {
		cfg.OIDC.Enabled = b
	}
	if v := os.Getenv("S3SIGNER_OIDC_ISSUER"); v != "" {
		cfg.OIDC.Issuer = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_OIDC_CLIENT_ID"); v != "" {
		cfg.OIDC.ClientID = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_OIDC_AUDIENCE"); v != "" {
		cfg.OIDC.Audience = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3SIGNER_OIDC_JWKS_URL"); v != "" {
		cfg.OIDC.JWKSURL = strings.TrimSpace(v)
	}
	if b, ok := envBool("S3SIGNER_OIDC_ALLOW_UNAUTH_HEALTH"); ok {
		cfg.OIDC.AllowUnauthHealth = b
	}
	return cfg
}

// envBool reads a truthy/falsy variable; ok is false when unset or unrecognized.
func envBool(name string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}
