package config

import (
	"testing"
	"time"
)

var allVars = []string{
	"PORT", "GCS_BUCKET_NAME", "STORAGE_BACKEND", "AWS_REGION", "S3_ENDPOINT",
	"KEYSET_PATH", "AUTH_STRICT_SCHEME", "AUTH_ALLOWED_ISSUERS", "AUTH_VALIDATE_CLAIMS",
	"JWKS_FETCH_TIMEOUT", "METRICS_ADDR", "LOG_FORMAT", "LOG_LEVEL",
	"TLS_CERT_FILE", "TLS_KEY_FILE", "TLS_CA_FILE", "GRPC_MAX_RECV_BYTES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allVars {
		t.Setenv(name, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8086 {
		t.Errorf("expected port 8086, got %d", cfg.Port)
	}
	if cfg.Backend != BackendGCS {
		t.Errorf("expected gcs backend, got %q", cfg.Backend)
	}
	if cfg.KeySetPath != "/oauth2/v2/keys/verificationjwk/" {
		t.Errorf("unexpected key set path %q", cfg.KeySetPath)
	}
	if cfg.JWKSFetchTimeout != 10*time.Second {
		t.Errorf("expected 10s fetch timeout, got %s", cfg.JWKSFetchTimeout)
	}
	if cfg.StrictScheme {
		t.Error("expected permissive scheme check by default")
	}
	if cfg.StorageConfigured() {
		t.Error("expected storage to be unconfigured without a bucket")
	}
	if cfg.ListenAddr() != ":8086" {
		t.Errorf("unexpected listen address %q", cfg.ListenAddr())
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9443")
	t.Setenv("GCS_BUCKET_NAME", "media-bucket")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("AUTH_STRICT_SCHEME", "true")
	t.Setenv("AUTH_ALLOWED_ISSUERS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("JWKS_FETCH_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9443 || cfg.Bucket != "media-bucket" || cfg.Backend != BackendS3 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.StrictScheme {
		t.Error("expected strict scheme check")
	}
	if !cfg.StorageConfigured() {
		t.Error("expected storage to be configured")
	}
	issuers := cfg.Issuers()
	if len(issuers) != 2 || issuers[0] != "https://a.example.com" || issuers[1] != "https://b.example.com" {
		t.Errorf("unexpected issuers: %v", issuers)
	}
	if cfg.JWKSFetchTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %s", cfg.JWKSFetchTimeout)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:             8086,
			Backend:          BackendMemory,
			JWKSFetchTimeout: time.Second,
			MaxRecvBytes:     1024,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "ftp" }, wantErr: true},
		{name: "cert without key", mutate: func(c *Config) { c.TLSCertFile = "cert.pem" }, wantErr: true},
		{name: "ca without cert", mutate: func(c *Config) { c.TLSCAFile = "ca.pem" }, wantErr: true},
		{name: "tls pair", mutate: func(c *Config) { c.TLSCertFile, c.TLSKeyFile = "c", "k" }},
		{name: "zero timeout", mutate: func(c *Config) { c.JWKSFetchTimeout = 0 }, wantErr: true},
		{name: "zero recv size", mutate: func(c *Config) { c.MaxRecvBytes = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
