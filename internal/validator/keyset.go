package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultKeySetPath is appended to a token issuer to locate its verification key set.
const DefaultKeySetPath = "/oauth2/v2/keys/verificationjwk/"

// DefaultFetchTimeout bounds a single key set download.
const DefaultFetchTimeout = 10 * time.Second

// KeySet is a resolved set of verification keys addressable by key id.
type KeySet interface {
	Key(kid string) (any, bool)
	KeyIDs() []string
}

type jwksKeySet struct {
	jwks *keyfunc.JWKS
}

func (s jwksKeySet) Key(kid string) (any, bool) {
	key, ok := s.jwks.ReadOnlyKeys()[kid]
	return key, ok
}

func (s jwksKeySet) KeyIDs() []string {
	return s.jwks.KIDs()
}

// KeySetCache resolves verification key sets per issuer and keeps them for the
// life of the cache. Entries are never refreshed or evicted; a key rotated
// upstream after the first fetch stays unknown until the cache is rebuilt.
//
// Concurrent first lookups for the same issuer share a single fetch.
type KeySetCache struct {
	httpClient   *http.Client
	path         string
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu    sync.RWMutex
	sets  map[string]*keyfunc.JWKS
	group singleflight.Group
}

// KeySetOption configures a KeySetCache.
type KeySetOption func(*KeySetCache)

// WithKeySetHTTPClient sets the HTTP client used to download key sets.
func WithKeySetHTTPClient(client *http.Client) KeySetOption {
	return func(c *KeySetCache) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithKeySetPath overrides the path appended to the issuer (default DefaultKeySetPath).
func WithKeySetPath(path string) KeySetOption {
	return func(c *KeySetCache) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFetchTimeout bounds each key set download.
func WithFetchTimeout(timeout time.Duration) KeySetOption {
	return func(c *KeySetCache) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

// WithKeySetLogger sets the logger for fetch events.
func WithKeySetLogger(logger *slog.Logger) KeySetOption {
	return func(c *KeySetCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewKeySetCache creates an empty cache. Construct it once per process and
// share it between verifiers.
func NewKeySetCache(opts ...KeySetOption) *KeySetCache {
	c := &KeySetCache{
		httpClient:   http.DefaultClient,
		path:         DefaultKeySetPath,
		fetchTimeout: DefaultFetchTimeout,
		logger:       slog.New(slog.DiscardHandler),
		sets:         make(map[string]*keyfunc.JWKS),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the key set location for issuer.
//
// For example:
//   - "https://idbroker.example.com/idb" -> "https://idbroker.example.com/idb/oauth2/v2/keys/verificationjwk/"
//   - "https://idbroker.example.com/idb/" -> same as above
func (c *KeySetCache) URL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/" + strings.TrimPrefix(c.path, "/")
}

// Get returns the key set for issuer, downloading it on first use.
// Failed downloads are not cached; the next call retries.
func (c *KeySetCache) Get(ctx context.Context, issuer string) (KeySet, error) {
	if issuer == "" {
		return nil, ErrMissingIssuer
	}

	if jwks, ok := c.lookup(issuer); ok {
		return jwksKeySet{jwks: jwks}, nil
	}

	v, err, _ := c.group.Do(issuer, func() (any, error) {
		if jwks, ok := c.lookup(issuer); ok {
			return jwks, nil
		}

		url := c.URL(issuer)
		c.logger.InfoContext(ctx, "fetching verification key set", slog.String("issuer", issuer), slog.String("url", url))

		// Other callers may be waiting on this fetch, so it must outlive the
		// caller that started it. fetchTimeout still bounds it.
		jwks, err := c.fetch(context.WithoutCancel(ctx), url)
		if err != nil {
			c.logger.ErrorContext(ctx, "key set fetch failed",
				slog.String("issuer", issuer),
				slog.String("url", url),
				slog.String("cause", err.Error()))
			return nil, err
		}

		c.mu.Lock()
		c.sets[issuer] = jwks
		c.mu.Unlock()

		c.logger.InfoContext(ctx, "cached verification key set",
			slog.String("issuer", issuer),
			slog.Int("keys", len(jwks.KIDs())))
		return jwks, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetFetch, err)
	}

	return jwksKeySet{jwks: v.(*keyfunc.JWKS)}, nil
}

// Len reports how many issuers currently have a cached key set.
func (c *KeySetCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sets)
}

// Close releases every cached key set.
func (c *KeySetCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for issuer, jwks := range c.sets {
		jwks.EndBackground()
		delete(c.sets, issuer)
	}
}

func (c *KeySetCache) lookup(issuer string) (*keyfunc.JWKS, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jwks, ok := c.sets[issuer]
	return jwks, ok
}

// fetch downloads the key set once. No refresh interval is configured and
// unknown key ids do not trigger a refetch, so keyfunc starts no background
// goroutine.
func (c *KeySetCache) fetch(ctx context.Context, url string) (*keyfunc.JWKS, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		Client:            c.httpClient,
		RefreshTimeout:    c.fetchTimeout,
		ResponseExtractor: keyfunc.ResponseExtractorStatusOK,
	})
	if err != nil {
		return nil, err
	}
	if len(jwks.KIDs()) == 0 {
		jwks.EndBackground()
		return nil, errors.New("key set contains no usable keys")
	}
	return jwks, nil
}
