package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource supplies the access token attached to outgoing calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token, for
// tokens issued out of band.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(strings.TrimPrefix(string(s), "Bearer "))
	if tok == "" {
		return "", errors.New("oauth2: static token is empty")
	}
	return tok, nil
}

// TokenManager manages OAuth2 tokens with automatic refresh.
// It uses the client credentials flow and is safe for concurrent access.
type TokenManager struct {
	config       *clientcredentials.Config
	token        *oauth2.Token
	mu           sync.RWMutex
	expiryLeeway time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ TokenSource = (*TokenManager)(nil)

// Option is a functional option for configuring TokenManager.
type Option func(*TokenManager)

// WithLogger logs token refresh events. If not set, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(tm *TokenManager) {
		if logger != nil {
			tm.logger = logger
		}
	}
}

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(tm *TokenManager) {
		tm.httpClient = client
	}
}

// WithExpiryLeeway sets how long before expiry a token is refreshed.
// Default is one minute.
func WithExpiryLeeway(d time.Duration) Option {
	return func(tm *TokenManager) {
		if d >= 0 {
			tm.expiryLeeway = d
		}
	}
}

// NewTokenManager creates a new OAuth2 token manager using client credentials flow.
//
// Parameters:
//   - tokenURL: OAuth2 token endpoint (e.g., "https://idbroker.example.com/idb/oauth2/v1/access_token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes
func NewTokenManager(tokenURL, clientID, clientSecret, scopes string, opts ...Option) *TokenManager {
	tm := &TokenManager{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       strings.Fields(scopes),
		},
		expiryLeeway: time.Minute, // refresh a bit before expiry to avoid near-expiry races
		logger:       slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(tm)
	}

	return tm
}

// Token returns a valid access token, fetching or refreshing if necessary.
// The fetch honors ctx cancellation and deadline. Concurrent callers share
// the cached token through double-checked locking.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Fast path: check if we have a valid token without write lock
	tm.mu.RLock()
	if tm.tokenValid() {
		token := tm.token.AccessToken
		tm.mu.RUnlock()
		return token, nil
	}
	tm.mu.RUnlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine might have refreshed)
	if tm.tokenValid() {
		return tm.token.AccessToken, nil
	}

	if tm.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.httpClient)
	}
	token, err := tm.config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth2: failed to fetch token: %w", err)
	}

	tm.token = token
	tm.logger.DebugContext(ctx, "obtained new access token",
		slog.Time("expires", token.Expiry),
	)

	return token.AccessToken, nil
}

// tokenValid reports whether the cached token is still usable with a small safety window.
func (tm *TokenManager) tokenValid() bool {
	if tm.token == nil {
		return false
	}
	if !tm.token.Expiry.IsZero() && time.Until(tm.token.Expiry) <= tm.expiryLeeway {
		return false
	}
	return tm.token.Valid()
}
