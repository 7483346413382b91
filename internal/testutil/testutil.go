package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyID is the kid used by helpers when none is given.
const DefaultKeyID = "test-key-1"

// RoundTripFunc allows inlining http.RoundTripper implementations.
type RoundTripFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls the underlying function.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// StaticJSONResponse returns a RoundTripper that always responds with the provided JSON body.
func StaticJSONResponse(body string) RoundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		return jsonResponse(req, http.StatusOK, body), nil
	}
}

func jsonResponse(req *http.Request, status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// GenerateRSAKey generates a 2048-bit RSA key for signing test tokens.
func GenerateRSAKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate RSA key: %v", err)
	}
	return privateKey
}

// GenerateECKey generates a P-256 key, used to publish a key of the wrong family.
func GenerateECKey(tb testing.TB) *ecdsa.PrivateKey {
	tb.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("failed to generate EC key: %v", err)
	}
	return privateKey
}

// PublicJWK wraps a public key as a signing JWK with the given kid.
func PublicJWK(kid string, publicKey crypto.PublicKey) jose.JSONWebKey {
	alg := string(jose.RS256)
	if _, ok := publicKey.(*ecdsa.PublicKey); ok {
		alg = string(jose.ES256)
	}
	return jose.JSONWebKey{Key: publicKey, KeyID: kid, Algorithm: alg, Use: "sig"}
}

// JWKSBody encodes keys as a JWK set document.
func JWKSBody(tb testing.TB, keys ...jose.JSONWebKey) string {
	tb.Helper()

	body, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	if err != nil {
		tb.Fatalf("failed to encode JWKS: %v", err)
	}
	return string(body)
}

// JWKSHost serves key set documents by URL without opening sockets and
// counts how often each URL was requested.
type JWKSHost struct {
	mu       sync.Mutex
	bodies   map[string]string
	status   map[string]int
	requests map[string]int
}

// NewJWKSHost creates an empty host. Unknown URLs answer 404.
func NewJWKSHost() *JWKSHost {
	return &JWKSHost{
		bodies:   make(map[string]string),
		status:   make(map[string]int),
		requests: make(map[string]int),
	}
}

// Serve registers body at url with status 200.
func (h *JWKSHost) Serve(url, body string) {
	h.ServeStatus(url, http.StatusOK, body)
}

// ServeStatus registers body at url with an explicit status code.
func (h *JWKSHost) ServeStatus(url string, status int, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bodies[url] = body
	h.status[url] = status
}

// Requests reports how many times url was fetched.
func (h *JWKSHost) Requests(url string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[url]
}

// TotalRequests reports how many fetches were made across all URLs.
func (h *JWKSHost) TotalRequests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.requests {
		total += n
	}
	return total
}

// Client returns an HTTP client whose transport is answered by the host.
func (h *JWKSHost) Client() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: RoundTripFunc(func(r *http.Request) (*http.Response, error) {
			url := r.URL.String()

			h.mu.Lock()
			h.requests[url]++
			body, ok := h.bodies[url]
			status := h.status[url]
			h.mu.Unlock()

			if !ok {
				return jsonResponse(r, http.StatusNotFound, `{"error":"not found"}`), nil
			}
			return jsonResponse(r, status, body), nil
		}),
	}
}

// Token builds a signed test token.
type Token struct {
	claims jwt.MapClaims
	header map[string]any
	method jwt.SigningMethod
}

// NewToken returns a token for issuer signed with RS256 under DefaultKeyID.
func NewToken(issuer string) *Token {
	return &Token{
		claims: jwt.MapClaims{
			"iss": issuer,
			"sub": "dialog-connector",
			"aud": []string{"audiofork"},
			"iat": time.Now().Add(-time.Minute).Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		},
		header: map[string]any{"kid": DefaultKeyID},
		method: jwt.SigningMethodRS256,
	}
}

// WithKeyID sets the kid header.
func (t *Token) WithKeyID(kid string) *Token {
	t.header["kid"] = kid
	return t
}

// WithoutKeyID removes the kid header.
func (t *Token) WithoutKeyID() *Token {
	delete(t.header, "kid")
	return t
}

// WithClaim sets an arbitrary claim.
func (t *Token) WithClaim(key string, value any) *Token {
	t.claims[key] = value
	return t
}

// WithoutClaim removes a claim.
func (t *Token) WithoutClaim(key string) *Token {
	delete(t.claims, key)
	return t
}

// WithExpiry sets exp.
func (t *Token) WithExpiry(exp time.Time) *Token {
	t.claims["exp"] = exp.Unix()
	return t
}

// WithMethod changes the signing algorithm.
func (t *Token) WithMethod(method jwt.SigningMethod) *Token {
	t.method = method
	return t
}

// Sign signs the token with key and returns its compact form.
func (t *Token) Sign(tb testing.TB, key any) string {
	tb.Helper()

	token := jwt.NewWithClaims(t.method, t.claims)
	for k, v := range t.header {
		token.Header[k] = v
	}
	signed, err := token.SignedString(key)
	if err != nil {
		tb.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// TamperSignature changes one character inside the signature segment so the
// token still parses but no longer verifies. The final character is avoided
// because its low bits are padding.
func TamperSignature(token string) string {
	idx := strings.LastIndex(token, ".")
	if idx < 0 || len(token)-idx < 12 {
		return token
	}
	pos := len(token) - 10
	replacement := byte('A')
	if token[pos] == 'A' {
		replacement = 'B'
	}
	return token[:pos] + string(replacement) + token[pos+1:]
}

// WriteTestCertAndKey writes a self-signed certificate and key to the provided paths.
func WriteTestCertAndKey(tb testing.TB, certPath, keyPath string) {
	tb.Helper()

	privateKey := GenerateRSAKey(tb)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		tb.Fatalf("failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		tb.Fatalf("failed to write certificate: %v", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		tb.Fatalf("failed to write key: %v", err)
	}
}
