// Package credentials supplies signing keys to the gateway, either from
// static configuration or from the AWS default credential chain.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"

	"s3signer/pkg/config"
	"s3signer/pkg/security/sigv4"
)

// ErrTemporaryCredentials is returned for credentials that carry a session
// token. Requests are signed without x-amz-security-token, so such keys
// would be rejected by the store.
var ErrTemporaryCredentials = errors.New("credentials: temporary credentials with a session token are not supported")

// ErrNoCredentials is returned when the source yields an empty key pair.
var ErrNoCredentials = fmt.Errorf("%w: no credentials", sigv4.ErrConfiguration)

// Source hands out the current key pair. Results are cached by the underlying
// aws.CredentialsCache, so calling Credentials per request is fine.
type Source struct {
	name     string
	provider aws.CredentialsProvider
}

// Static returns a Source for a fixed key pair.
func Static(accessKeyID, secretAccessKey string) *Source {
	return &Source{
		name:     config.SourceStatic,
		provider: aws.NewCredentialsCache(awscreds.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	}
}

// FromAWS loads the AWS default credential chain (environment, shared config
// files, container and instance roles). profile may be empty.
func FromAWS(ctx context.Context, profile string) (*Source, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("credentials: load aws config: %w", err)
	}
	if cfg.Credentials == nil {
		return nil, ErrNoCredentials
	}
	return &Source{name: config.SourceAWS, provider: cfg.Credentials}, nil
}

// Resolve builds the Source selected by cfg.Source.
func Resolve(ctx context.Context, cfg config.CredentialsConfig) (*Source, error) {
	switch cfg.Source {
	case config.SourceStatic, "":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, ErrNoCredentials
		}
		return Static(cfg.AccessKeyID, cfg.SecretAccessKey), nil
	case config.SourceAWS:
		return FromAWS(ctx, cfg.Profile)
	}
	return nil, fmt.Errorf("%w: unknown credentials source %q", sigv4.ErrConfiguration, cfg.Source)
}

// Name is "static" or "aws".
func (s *Source) Name() string { return s.name }

// Credentials retrieves the current key pair.
func (s *Source) Credentials(ctx context.Context) (sigv4.Credentials, error) {
	c, err := s.provider.Retrieve(ctx)
	if err != nil {
		return sigv4.Credentials{}, fmt.Errorf("credentials: retrieve from %s: %w", s.name, err)
	}
	if c.SessionToken != "" {
		return sigv4.Credentials{}, ErrTemporaryCredentials
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return sigv4.Credentials{}, ErrNoCredentials
	}
	return sigv4.Credentials{AccessKeyID: c.AccessKeyID, SecretAccessKey: c.SecretAccessKey}, nil
}
