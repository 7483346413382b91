// Package config loads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Storage backends accepted in STORAGE_BACKEND.
const (
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config for the audio-fork gateway. Every field can be set from the
// environment; cmd/audiofork-gateway overlays command line flags on top.
type Config struct {
	// Port the gRPC server listens on. ENV: PORT
	Port int `env:"PORT,default=8086"`

	// Bucket receiving the audio objects. Empty leaves the server running
	// but refusing fork streams. ENV: GCS_BUCKET_NAME
	Bucket string `env:"GCS_BUCKET_NAME"`
	// Backend is one of gcs, s3 or memory. ENV: STORAGE_BACKEND
	Backend string `env:"STORAGE_BACKEND,default=gcs"`
	// AWSRegion and S3Endpoint only apply to the s3 backend.
	AWSRegion  string `env:"AWS_REGION"`
	S3Endpoint string `env:"S3_ENDPOINT"`

	// KeySetPath is appended to the token issuer to locate its key set.
	KeySetPath       string        `env:"KEYSET_PATH,default=/oauth2/v2/keys/verificationjwk/"`
	StrictScheme     bool          `env:"AUTH_STRICT_SCHEME,default=false"`
	AllowedIssuers   string        `env:"AUTH_ALLOWED_ISSUERS"`
	ValidateClaims   bool          `env:"AUTH_VALIDATE_CLAIMS,default=false"`
	JWKSFetchTimeout time.Duration `env:"JWKS_FETCH_TIMEOUT,default=10s"`

	// MetricsAddr serves /metrics; empty disables it. ENV: METRICS_ADDR
	MetricsAddr string `env:"METRICS_ADDR,default=:9090"`

	LogFormat string `env:"LOG_FORMAT,default=json"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`
	TLSCAFile   string `env:"TLS_CA_FILE"`

	// MaxRecvBytes bounds a single inbound message. ENV: GRPC_MAX_RECV_BYTES
	MaxRecvBytes int `env:"GRPC_MAX_RECV_BYTES,default=4194304"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations that envdecode cannot express.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}

	switch c.Backend {
	case BackendGCS, BackendS3, BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Backend)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("config: TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.TLSCAFile != "" && c.TLSCertFile == "" {
		return errors.New("config: TLS_CA_FILE requires TLS_CERT_FILE and TLS_KEY_FILE")
	}

	if c.JWKSFetchTimeout <= 0 {
		return fmt.Errorf("config: JWKS fetch timeout must be positive, got %s", c.JWKSFetchTimeout)
	}
	if c.MaxRecvBytes <= 0 {
		return fmt.Errorf("config: max receive size must be positive, got %d", c.MaxRecvBytes)
	}
	return nil
}

// StorageConfigured reports whether fork streams can be served.
func (c *Config) StorageConfigured() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// TLSEnabled reports whether the server should terminate TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// Issuers splits AllowedIssuers on commas, dropping blanks.
func (c *Config) Issuers() []string {
	var out []string
	for _, iss := range strings.Split(c.AllowedIssuers, ",") {
		if iss = strings.TrimSpace(iss); iss != "" {
			out = append(out, iss)
		}
	}
	return out
}

// ListenAddr is the gRPC listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
