package grpcserver

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AmmannChristian/go-audiofork/internal/validator"
)

// VerifierBuilder provides a fluent interface for constructing a token
// Verifier and the key set cache behind it.
type VerifierBuilder struct {
	httpClient     *http.Client
	keySetPath     string
	fetchTimeout   time.Duration
	logger         *slog.Logger
	allowedIssuers []string
	validateClaims bool
	cache          *KeySetCache
}

// NewVerifierBuilder creates a builder with secure defaults:
//   - key sets are read from {iss}/oauth2/v2/keys/verificationjwk/
//   - each key set download is bounded to 10 seconds
//   - HTTP client uses TLS 1.2+ with system root CAs
//   - tokens from any issuer are accepted and only the signature is checked
func NewVerifierBuilder() *VerifierBuilder {
	return &VerifierBuilder{
		keySetPath:   validator.DefaultKeySetPath,
		fetchTimeout: validator.DefaultFetchTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}
}

// WithHTTPClient sets a custom HTTP client for downloading key sets.
func (b *VerifierBuilder) WithHTTPClient(client *http.Client) *VerifierBuilder {
	b.httpClient = client
	return b
}

// WithKeySetPath overrides the path appended to the token issuer.
//
// Example:
//
//	builder.WithKeySetPath("/.well-known/jwks.json")
func (b *VerifierBuilder) WithKeySetPath(path string) *VerifierBuilder {
	b.keySetPath = path
	return b
}

// WithFetchTimeout bounds each key set download.
func (b *VerifierBuilder) WithFetchTimeout(timeout time.Duration) *VerifierBuilder {
	b.fetchTimeout = timeout
	return b
}

// WithLogger sets the logger used by the verifier and the key set cache.
func (b *VerifierBuilder) WithLogger(logger *slog.Logger) *VerifierBuilder {
	b.logger = logger
	return b
}

// WithAllowedIssuers restricts accepted issuers. Tokens from other issuers
// are rejected before any key set is downloaded.
func (b *VerifierBuilder) WithAllowedIssuers(issuers ...string) *VerifierBuilder {
	b.allowedIssuers = append(b.allowedIssuers, issuers...)
	return b
}

// WithClaimsValidation enables exp/nbf/iat checks on top of the signature.
func (b *VerifierBuilder) WithClaimsValidation(enabled bool) *VerifierBuilder {
	b.validateClaims = enabled
	return b
}

// WithKeySetCache shares an existing cache instead of creating one. The
// cache's own HTTP client, path and timeout apply.
func (b *VerifierBuilder) WithKeySetCache(cache *KeySetCache) *VerifierBuilder {
	b.cache = cache
	return b
}

// Build constructs the Verifier. Key sets are fetched lazily, so Build does
// no network I/O.
func (b *VerifierBuilder) Build() (*Verifier, error) {
	if b.fetchTimeout < 0 {
		return nil, fmt.Errorf("grpcserver: fetch timeout must not be negative, got %s", b.fetchTimeout)
	}

	cache := b.cache
	if cache == nil {
		cache = validator.NewKeySetCache(
			validator.WithKeySetHTTPClient(b.httpClient),
			validator.WithKeySetPath(b.keySetPath),
			validator.WithFetchTimeout(b.fetchTimeout),
			validator.WithKeySetLogger(b.logger),
		)
	}

	v, err := validator.NewVerifier(cache,
		validator.WithLogger(b.logger),
		validator.WithAllowedIssuers(b.allowedIssuers...),
		validator.WithClaimsValidation(b.validateClaims),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcserver: failed to build verifier: %w", err)
	}
	return v, nil
}
