package validator

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerPrefix is the authorization scheme expected in front of a token.
const BearerPrefix = "Bearer "

var (
	// ErrMalformedToken is returned when the credential is not a compact signed token.
	ErrMalformedToken = errors.New("validator: malformed token")
	// ErrMissingKeyID is returned when the token header carries no kid.
	ErrMissingKeyID = errors.New("validator: token is missing the kid header")
	// ErrMissingIssuer is returned when the token payload carries no iss claim.
	ErrMissingIssuer = errors.New("validator: token is missing the iss claim")
	// ErrIssuerNotAllowed is returned when iss is outside the configured allow-list.
	ErrIssuerNotAllowed = errors.New("validator: issuer is not allowed")
	// ErrKeySetFetch is returned when the issuer's key set cannot be downloaded or parsed.
	ErrKeySetFetch = errors.New("validator: key set fetch failed")
	// ErrUnknownKeyID is returned when the key set has no key for the token's kid.
	ErrUnknownKeyID = errors.New("validator: no key matches the token kid")
	// ErrUnsupportedKeyType is returned when the matching key is not an RSA public key.
	ErrUnsupportedKeyType = errors.New("validator: unsupported key type")
	// ErrInvalidSignature is returned when the signature does not verify.
	ErrInvalidSignature = errors.New("validator: invalid token signature")
	// ErrInvalidClaims is returned when time-based claim validation is enabled and fails.
	ErrInvalidClaims = errors.New("validator: invalid token claims")
)

// rsaMethods are the only signing algorithms accepted for RSA keys.
var rsaMethods = []string{
	jwt.SigningMethodRS256.Name,
	jwt.SigningMethodRS384.Name,
	jwt.SigningMethodRS512.Name,
	jwt.SigningMethodPS256.Name,
	jwt.SigningMethodPS384.Name,
	jwt.SigningMethodPS512.Name,
}

// TokenClaims carries what the verifier learned about an accepted token.
type TokenClaims struct {
	Issuer    string    // iss
	KeyID     string    // kid header
	Algorithm string    // alg header
	Subject   string    // sub, may be empty
	Audience  []string  // aud, may be empty
	Expiry    time.Time // exp, zero when absent
}

// Verifier checks bearer credentials against the key set published by the
// token's own issuer. It is safe for concurrent use.
type Verifier struct {
	keys           *KeySetCache
	logger         *slog.Logger
	validateClaims bool
	allowedIssuers map[string]bool
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithLogger sets the logger used to report verification failures.
func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClaimsValidation enables exp/nbf/iat checks in addition to the signature.
func WithClaimsValidation(enabled bool) VerifierOption {
	return func(v *Verifier) {
		v.validateClaims = enabled
	}
}

// WithAllowedIssuers restricts which issuers may be contacted for keys.
// An empty list accepts any issuer.
func WithAllowedIssuers(issuers ...string) VerifierOption {
	return func(v *Verifier) {
		for _, iss := range issuers {
			iss = strings.TrimSpace(iss)
			if iss == "" {
				continue
			}
			if v.allowedIssuers == nil {
				v.allowedIssuers = make(map[string]bool)
			}
			v.allowedIssuers[strings.TrimSuffix(iss, "/")] = true
		}
	}
}

// NewVerifier creates a verifier backed by keys.
func NewVerifier(keys *KeySetCache, opts ...VerifierOption) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("validator: key set cache is required")
	}
	v := &Verifier{
		keys:   keys,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify reports whether credential carries a correctly signed token.
// Every failure is logged with its cause and collapses to false.
func (v *Verifier) Verify(ctx context.Context, credential string) bool {
	_, err := v.VerifyClaims(ctx, credential)
	return err == nil
}

// VerifyClaims verifies credential and returns the claims of an accepted token.
//
// Steps:
//   - strip the "Bearer " prefix (absence is tolerated and logged)
//   - read kid from the header and iss from the payload without verifying
//   - resolve the issuer's key set through the cache
//   - select the key by kid and require an RSA public key
//   - verify the signature with that key
func (v *Verifier) VerifyClaims(ctx context.Context, credential string) (*TokenClaims, error) {
	claims, err := v.verify(ctx, credential)
	if err != nil {
		attrs := []slog.Attr{slog.String("cause", err.Error())}
		if claims != nil {
			attrs = append(attrs, slog.String("kid", claims.KeyID), slog.String("issuer", claims.Issuer))
		}
		v.logger.LogAttrs(ctx, slog.LevelWarn, "token verification failed", attrs...)
		return nil, err
	}

	v.logger.LogAttrs(ctx, slog.LevelDebug, "token verified",
		slog.String("kid", claims.KeyID),
		slog.String("issuer", claims.Issuer),
		slog.String("subject", claims.Subject))
	return claims, nil
}

// verify returns partially filled claims alongside an error so failures can
// be logged with whatever was learned before the failing step.
func (v *Verifier) verify(ctx context.Context, credential string) (*TokenClaims, error) {
	raw, ok := strings.CutPrefix(credential, BearerPrefix)
	if !ok {
		v.logger.WarnContext(ctx, "credential does not start with the Bearer scheme; continuing")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrMalformedToken)
	}

	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	claims := &TokenClaims{}
	if alg, ok := unverified.Header["alg"].(string); ok {
		claims.Algorithm = alg
	}
	kid, _ := unverified.Header["kid"].(string)
	claims.KeyID = kid

	mapClaims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return claims, fmt.Errorf("%w: unexpected claims type", ErrMalformedToken)
	}
	iss, err := mapClaims.GetIssuer()
	if err != nil {
		return claims, fmt.Errorf("%w: %v", ErrMissingIssuer, err)
	}
	claims.Issuer = iss

	if kid == "" {
		return claims, ErrMissingKeyID
	}
	if iss == "" {
		return claims, ErrMissingIssuer
	}
	if v.allowedIssuers != nil && !v.allowedIssuers[strings.TrimSuffix(iss, "/")] {
		return claims, fmt.Errorf("%w: %s", ErrIssuerNotAllowed, iss)
	}

	keySet, err := v.keys.Get(ctx, iss)
	if err != nil {
		return claims, err
	}

	key, ok := keySet.Key(kid)
	if !ok {
		return claims, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
	}
	publicKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return claims, fmt.Errorf("%w: expected RSA key, got %T", ErrUnsupportedKeyType, key)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(rsaMethods)}
	if !v.validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	token, err := jwt.NewParser(opts...).Parse(raw, func(*jwt.Token) (any, error) {
		return publicKey, nil
	})
	if err != nil {
		if v.validateClaims && isClaimsError(err) {
			return claims, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
		}
		return claims, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return claims, ErrInvalidSignature
	}

	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if aud, err := mapClaims.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.Expiry = exp.Time
	}

	return claims, nil
}

func isClaimsError(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenNotValidYet) ||
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued) ||
		errors.Is(err, jwt.ErrTokenInvalidClaims)
}
