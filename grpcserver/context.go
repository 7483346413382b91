package grpcserver

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// #nosec G101 -- context key, not a credential
const (
	// tokenClaimsKey is the context key for storing TokenClaims.
	tokenClaimsKey contextKey = "grpcserver.token_claims" //nolint:gosec // context key, not a credential
)

// WithTokenClaims returns a new context with the provided TokenClaims.
// The authentication interceptors call it after a token verifies.
func WithTokenClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, tokenClaimsKey, claims)
}

// TokenClaimsFromContext extracts TokenClaims from the context.
// Returns the claims and true if found, or nil and false if not present.
//
// Handlers use it to learn which issuer and key authenticated the caller.
//
// Example:
//
//	func (s *service) StreamConversationAudio(stream grpc.BidiStreamingServer[audiofork.ForkRequest, audiofork.ForkResponse]) error {
//	    claims, ok := grpcserver.TokenClaimsFromContext(stream.Context())
//	    if ok {
//	        logger.Info("stream opened", "issuer", claims.Issuer, "kid", claims.KeyID)
//	    }
//	    ...
//	}
func TokenClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	claims, ok := ctx.Value(tokenClaimsKey).(*TokenClaims)
	return claims, ok
}

// MustTokenClaimsFromContext extracts TokenClaims from the context and panics if not found.
// This should only be used in handlers where authentication is guaranteed by the interceptor.
//
// Example:
//
//	claims := grpcserver.MustTokenClaimsFromContext(stream.Context())
//	logger.Debug("caller", "subject", claims.Subject)
func MustTokenClaimsFromContext(ctx context.Context) *TokenClaims {
	claims, ok := TokenClaimsFromContext(ctx)
	if !ok {
		panic("grpcserver: token claims not found in context")
	}
	return claims
}
