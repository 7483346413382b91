package grpcserver

import (
	"context"

	"github.com/AmmannChristian/go-audiofork/internal/validator"
)

// TokenVerifier checks a raw authorization header value and returns the
// verified claims.
type TokenVerifier interface {
	VerifyClaims(ctx context.Context, credential string) (*TokenClaims, error)
}

// TokenClaims are the verified claims of a bearer token.
// This is an alias for the shared validator.TokenClaims type.
type TokenClaims = validator.TokenClaims

// Verifier verifies bearer tokens against the issuer's key set.
// This is an alias for the shared validator.Verifier type.
type Verifier = validator.Verifier

// KeySetCache caches verification key sets per issuer.
// This is an alias for the shared validator.KeySetCache type.
type KeySetCache = validator.KeySetCache

var _ TokenVerifier = (*Verifier)(nil)

// VerifierFunc adapts a function to the TokenVerifier interface.
type VerifierFunc func(ctx context.Context, credential string) (*TokenClaims, error)

// VerifyClaims calls f.
func (f VerifierFunc) VerifyClaims(ctx context.Context, credential string) (*TokenClaims, error) {
	return f(ctx, credential)
}
