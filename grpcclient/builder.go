package grpcclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AmmannChristian/go-audiofork/internal/zstdcodec"
	"github.com/AmmannChristian/go-audiofork/oauth2client"
)

// Builder provides a fluent interface for constructing connections to the
// gateway with optional bearer authentication and TLS/mTLS support.
type Builder struct {
	address string

	// Static bearer token
	bearerToken string

	// OAuth2 configuration
	oauth2Enabled      bool
	oauth2TokenURL     string
	oauth2ClientID     string
	oauth2ClientSecret string
	oauth2Scopes       string
	oauth2HTTPClient   *http.Client

	// TLS configuration
	plaintext     bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsServerName string

	compress bool
	logger   *slog.Logger

	// Additional dial options
	dialOpts []grpc.DialOption
}

// NewBuilder creates a new gRPC client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithAddress sets the server address (e.g., "gateway.example.com:8086").
func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

// WithBearerToken attaches a fixed token to every call. It is ignored when
// WithOAuth2 is also set.
func (b *Builder) WithBearerToken(token string) *Builder {
	b.bearerToken = token
	return b
}

// WithOAuth2 enables OAuth2 client credentials authentication.
//
// Parameters:
//   - tokenURL: OAuth2 token endpoint
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes
func (b *Builder) WithOAuth2(tokenURL, clientID, clientSecret, scopes string) *Builder {
	b.oauth2Enabled = true
	b.oauth2TokenURL = tokenURL
	b.oauth2ClientID = clientID
	b.oauth2ClientSecret = clientSecret
	b.oauth2Scopes = scopes
	return b
}

// WithOAuth2HTTPClient sets the HTTP client used to reach the token endpoint.
func (b *Builder) WithOAuth2HTTPClient(client *http.Client) *Builder {
	b.oauth2HTTPClient = client
	return b
}

// WithTLS configures TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, system roots otherwise)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
//   - serverName: Expected server name for TLS verification (optional, overrides SNI)
func (b *Builder) WithTLS(caFile, certFile, keyFile, serverName string) *Builder {
	b.plaintext = false
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	b.tlsServerName = serverName
	return b
}

// WithPlaintext disables TLS. Meant for local development against a
// gateway started without certificates.
func (b *Builder) WithPlaintext() *Builder {
	b.plaintext = true
	return b
}

// WithCompression compresses every outgoing message with zstd.
func (b *Builder) WithCompression(enabled bool) *Builder {
	b.compress = enabled
	return b
}

// WithLogger sets a logger for token refresh events.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithDialOptions adds custom gRPC dial options.
// These options are applied after authentication and TLS options.
func (b *Builder) WithDialOptions(opts ...grpc.DialOption) *Builder {
	b.dialOpts = append(b.dialOpts, opts...)
	return b
}

// Build constructs the gRPC client connection with the configured options.
// The connection is established lazily on the first call.
func (b *Builder) Build() (*grpc.ClientConn, error) {
	if b.address == "" {
		return nil, errors.New("grpcclient: server address is required")
	}

	var opts []grpc.DialOption

	src, err := b.tokenSource()
	if err != nil {
		return nil, err
	}
	if src != nil {
		opts = append(opts,
			grpc.WithUnaryInterceptor(oauth2client.UnaryClientInterceptor(src)),
			grpc.WithStreamInterceptor(oauth2client.StreamClientInterceptor(src)),
		)
	}

	if b.plaintext {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("grpcclient: TLS config failed: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	}

	if b.compress {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor(zstdcodec.Name)))
	}

	opts = append(opts, b.dialOpts...)

	conn, err := grpc.NewClient(b.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial failed: %w", err)
	}

	return conn, nil
}

// tokenSource picks the credential source; nil means unauthenticated.
func (b *Builder) tokenSource() (oauth2client.TokenSource, error) {
	if b.oauth2Enabled {
		if err := b.validateOAuth2Config(); err != nil {
			return nil, err
		}
		return oauth2client.NewTokenManager(
			b.oauth2TokenURL,
			b.oauth2ClientID,
			b.oauth2ClientSecret,
			b.oauth2Scopes,
			oauth2client.WithHTTPClient(b.oauth2HTTPClient),
			oauth2client.WithLogger(b.logger),
		), nil
	}
	if b.bearerToken != "" {
		return oauth2client.StaticToken(b.bearerToken), nil
	}
	return nil, nil
}

// validateOAuth2Config ensures OAuth2 configuration is complete.
func (b *Builder) validateOAuth2Config() error {
	if b.oauth2TokenURL == "" {
		return errors.New("grpcclient: OAuth2 token URL is required")
	}
	if b.oauth2ClientID == "" {
		return errors.New("grpcclient: OAuth2 client ID is required")
	}
	if b.oauth2ClientSecret == "" {
		return errors.New("grpcclient: OAuth2 client secret is required")
	}
	return nil
}

// buildTLSConfig constructs the TLS configuration for the gRPC connection.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if b.tlsCAFile != "" {
		caCert, err := os.ReadFile(b.tlsCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}

	if b.tlsCertFile != "" && b.tlsKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.tlsCertFile, b.tlsKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else if b.tlsCertFile != "" || b.tlsKeyFile != "" {
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	if b.tlsServerName != "" {
		tlsConfig.ServerName = b.tlsServerName
	}

	return tlsConfig, nil
}
