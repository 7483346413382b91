package grpcserver

import (
	"bytes"
	"crypto/tls"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AmmannChristian/go-audiofork/internal/testutil"
)

func writePair(t *testing.T) (certPath, keyPath string) {
	t.Helper()
	dir := t.TempDir()
	certPath = filepath.Join(dir, "server.crt")
	keyPath = filepath.Join(dir, "server.key")
	testutil.WriteTestCertAndKey(t, certPath, keyPath)
	return certPath, keyPath
}

func TestNewServerCredentials_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config *TLSConfig
	}{
		{name: "nil config", config: nil},
		{name: "missing cert file", config: &TLSConfig{KeyFile: "/path/to/key.pem"}},
		{name: "missing key file", config: &TLSConfig{CertFile: "/path/to/cert.pem"}},
		{name: "nonexistent files", config: &TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServerCredentials(tt.config); err == nil {
				t.Error("expected error")
			}
			if _, err := ServerOption(tt.config); err == nil {
				t.Error("expected ServerOption error")
			}
		})
	}
}

func TestNewServerTLSConfig_Defaults(t *testing.T) {
	certPath, keyPath := writePair(t)

	cfg, err := newServerTLSConfig(&TLSConfig{CertFile: certPath, KeyFile: keyPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2 minimum, got %x", cfg.MinVersion)
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("expected no client auth, got %v", cfg.ClientAuth)
	}

	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil || cert == nil {
		t.Fatalf("expected certificate, got %v", err)
	}

	if _, err := ServerOption(&TLSConfig{CertFile: certPath, KeyFile: keyPath}); err != nil {
		t.Errorf("unexpected ServerOption error: %v", err)
	}
}

func TestNewServerTLSConfig_CAEnablesMTLS(t *testing.T) {
	certPath, keyPath := writePair(t)

	cfg, err := newServerTLSConfig(&TLSConfig{
		CertFile:   certPath,
		KeyFile:    keyPath,
		CAFile:     certPath,
		MinVersion: tls.VersionTLS13,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("expected client certificates to be required, got %v", cfg.ClientAuth)
	}
	if cfg.ClientCAs == nil {
		t.Error("expected client CA pool")
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("expected TLS 1.3 minimum, got %x", cfg.MinVersion)
	}

	explicit, err := newServerTLSConfig(&TLSConfig{
		CertFile:   certPath,
		KeyFile:    keyPath,
		CAFile:     certPath,
		ClientAuth: tls.VerifyClientCertIfGiven,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if explicit.ClientAuth != tls.VerifyClientCertIfGiven {
		t.Errorf("expected explicit client auth to be kept, got %v", explicit.ClientAuth)
	}
}

func TestNewServerTLSConfig_InvalidCA(t *testing.T) {
	certPath, keyPath := writePair(t)
	caPath := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caPath, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := newServerTLSConfig(&TLSConfig{CertFile: certPath, KeyFile: keyPath, CAFile: caPath}); err == nil {
		t.Error("expected error for invalid CA file")
	}
}

func TestCertReloader_ServesLastGoodPair(t *testing.T) {
	certPath, keyPath := writePair(t)
	logs := &bytes.Buffer{}

	r, err := newCertReloader(certPath, keyPath, slog.New(slog.NewTextHandler(logs, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := r.GetCertificate(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a rotation caught half way.
	if err := os.WriteFile(certPath, []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetCertificate(nil)
	if err != nil {
		t.Fatalf("expected fallback, got error %v", err)
	}
	if !bytes.Equal(got.Certificate[0], first.Certificate[0]) {
		t.Error("expected previous certificate to be served")
	}
	if !strings.Contains(logs.String(), "certificate reload failed") {
		t.Error("expected reload failure to be logged")
	}

	// A completed rotation is picked up.
	testutil.WriteTestCertAndKey(t, certPath, keyPath)
	rotated, err := r.GetCertificate(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(rotated.Certificate[0], first.Certificate[0]) {
		t.Error("expected rotated certificate to be served")
	}
}

func TestReadTLSFile_EmptyPath(t *testing.T) {
	if _, err := readTLSFile(""); err == nil {
		t.Error("expected error for empty path")
	}
}
