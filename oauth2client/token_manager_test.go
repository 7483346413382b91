package oauth2client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/AmmannChristian/go-audiofork/internal/testutil"
)

const (
	tokenURL  = "https://idbroker.example.com/idb/oauth2/v1/access_token"
	tokenBody = `{"access_token":"mock-access-token","token_type":"Bearer","expires_in":3600}`
)

type tokenEndpoint struct {
	requests atomic.Int32
	handler  testutil.RoundTripFunc
}

func newTokenEndpoint(handler testutil.RoundTripFunc) *tokenEndpoint {
	if handler == nil {
		handler = testutil.StaticJSONResponse(tokenBody)
	}
	return &tokenEndpoint{handler: handler}
}

func (e *tokenEndpoint) client() *http.Client {
	return &http.Client{Transport: testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		e.requests.Add(1)
		return e.handler(req)
	})}
}

func TestNewTokenManager(t *testing.T) {
	tm := NewTokenManager(tokenURL, "dialog-connector", "secret", "spark:all  identity:machine")

	if tm.config.ClientID != "dialog-connector" || tm.config.TokenURL != tokenURL {
		t.Errorf("unexpected config: %+v", tm.config)
	}
	if len(tm.config.Scopes) != 2 || tm.config.Scopes[1] != "identity:machine" {
		t.Errorf("expected scopes split on whitespace, got %v", tm.config.Scopes)
	}
	if tm.expiryLeeway != time.Minute {
		t.Errorf("expected expiryLeeway 1m, got %v", tm.expiryLeeway)
	}
}

func TestTokenManager_Token(t *testing.T) {
	endpoint := newTokenEndpoint(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.String() != tokenURL {
			t.Errorf("unexpected request %s %s", req.Method, req.URL)
		}
		return testutil.StaticJSONResponse(tokenBody)(req)
	})
	tm := NewTokenManager(tokenURL, "client", "secret", "", WithHTTPClient(endpoint.client()))

	for i := 0; i < 3; i++ {
		token, err := tm.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if token != "mock-access-token" {
			t.Errorf("expected mock-access-token, got %q", token)
		}
	}

	if n := endpoint.requests.Load(); n != 1 {
		t.Errorf("expected a single token request, got %d", n)
	}
}

func TestTokenManager_Token_ConcurrentCallersShareFetch(t *testing.T) {
	release := make(chan struct{})
	endpoint := newTokenEndpoint(func(req *http.Request) (*http.Response, error) {
		<-release
		return testutil.StaticJSONResponse(tokenBody)(req)
	})
	tm := NewTokenManager(tokenURL, "client", "secret", "", WithHTTPClient(endpoint.client()))

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tm.Token(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Token failed: %v", err)
	}
	if n := endpoint.requests.Load(); n != 1 {
		t.Errorf("expected a single token request, got %d", n)
	}
}

func TestTokenManager_Token_RefreshesWithinLeeway(t *testing.T) {
	endpoint := newTokenEndpoint(testutil.StaticJSONResponse(
		`{"access_token":"short-lived","token_type":"Bearer","expires_in":30}`,
	))
	tm := NewTokenManager(tokenURL, "client", "secret", "", WithHTTPClient(endpoint.client()))

	for i := 0; i < 2; i++ {
		if _, err := tm.Token(context.Background()); err != nil {
			t.Fatalf("Token failed: %v", err)
		}
	}
	if n := endpoint.requests.Load(); n != 2 {
		t.Errorf("expected a token inside the leeway to be refetched, got %d requests", n)
	}

	tm = NewTokenManager(tokenURL, "client", "secret", "",
		WithHTTPClient(endpoint.client()),
		WithExpiryLeeway(0),
	)
	endpoint.requests.Store(0)
	for i := 0; i < 2; i++ {
		if _, err := tm.Token(context.Background()); err != nil {
			t.Fatalf("Token failed: %v", err)
		}
	}
	if n := endpoint.requests.Load(); n != 1 {
		t.Errorf("expected cached token without leeway, got %d requests", n)
	}
}

func TestTokenManager_Token_Error(t *testing.T) {
	endpoint := newTokenEndpoint(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("token fetch failed")
	})
	tm := NewTokenManager(tokenURL, "client", "secret", "", WithHTTPClient(endpoint.client()))

	_, err := tm.Token(context.Background())
	if err == nil || !strings.Contains(err.Error(), "token fetch failed") {
		t.Errorf("expected fetch error, got %v", err)
	}
}

func TestTokenManager_TokenValid(t *testing.T) {
	tm := NewTokenManager(tokenURL, "client", "secret", "")

	if tm.tokenValid() {
		t.Error("expected no token to be invalid")
	}

	tm.token = &oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(time.Hour)}
	if !tm.tokenValid() {
		t.Error("expected fresh token to be valid")
	}

	tm.token = &oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(10 * time.Second)}
	if tm.tokenValid() {
		t.Error("expected token inside leeway to be invalid")
	}

	tm.token = &oauth2.Token{AccessToken: "x"}
	if !tm.tokenValid() {
		t.Error("expected token without expiry to be valid")
	}
}

func TestTokenManager_WithLogger(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tm := NewTokenManager(tokenURL, "client", "secret", "",
		WithHTTPClient(newTokenEndpoint(nil).client()),
		WithLogger(logger),
	)

	if _, err := tm.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if !strings.Contains(logs.String(), "obtained new access token") {
		t.Errorf("expected refresh to be logged, got %q", logs.String())
	}
}

func TestStaticToken(t *testing.T) {
	tests := []struct {
		in      StaticToken
		want    string
		wantErr bool
	}{
		{in: "abc", want: "abc"},
		{in: "Bearer abc", want: "abc"},
		{in: "  abc\n", want: "abc"},
		{in: "", wantErr: true},
		{in: "Bearer ", wantErr: true},
	}

	for _, tt := range tests {
		got, err := tt.in.Token(context.Background())
		if (err != nil) != tt.wantErr {
			t.Errorf("StaticToken(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("StaticToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnaryClientInterceptor(t *testing.T) {
	interceptor := UnaryClientInterceptor(StaticToken("abc"))

	var got []string
	err := interceptor(context.Background(), "/svc/Method", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			md, _ := metadata.FromOutgoingContext(ctx)
			got = md.Get("authorization")
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "Bearer abc" {
		t.Errorf("expected bearer header, got %v", got)
	}
}

func TestStreamClientInterceptor(t *testing.T) {
	tm := NewTokenManager(tokenURL, "client", "secret", "", WithHTTPClient(newTokenEndpoint(nil).client()))
	interceptor := tm.StreamClientInterceptor()

	var got []string
	_, err := interceptor(context.Background(), &grpc.StreamDesc{}, nil, "/svc/Stream",
		func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			md, _ := metadata.FromOutgoingContext(ctx)
			got = md.Get("authorization")
			return nil, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "Bearer mock-access-token" {
		t.Errorf("expected bearer header, got %v", got)
	}
}

func TestInterceptors_TokenError(t *testing.T) {
	src := StaticToken("")

	err := UnaryClientInterceptor(src)(context.Background(), "/svc/Method", nil, nil, nil,
		func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
			t.Fatal("invoker must not run without a token")
			return nil
		})
	if err == nil {
		t.Error("expected unary error")
	}

	_, err = StreamClientInterceptor(src)(context.Background(), &grpc.StreamDesc{}, nil, "/svc/Stream",
		func(context.Context, *grpc.StreamDesc, *grpc.ClientConn, string, ...grpc.CallOption) (grpc.ClientStream, error) {
			t.Fatal("streamer must not run without a token")
			return nil, nil
		})
	if err == nil {
		t.Error("expected stream error")
	}
}

func BenchmarkTokenManager_Token_Cached(b *testing.B) {
	tm := NewTokenManager(tokenURL, "client", "secret", "", WithHTTPClient(newTokenEndpoint(nil).client()))
	if _, err := tm.Token(context.Background()); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tm.Token(context.Background())
	}
}
