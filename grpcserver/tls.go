package grpcserver

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// TLSConfig holds TLS configuration for the gRPC server.
type TLSConfig struct {
	// CertFile and KeyFile are the PEM server certificate and key.
	CertFile string
	KeyFile  string

	// CAFile enables client certificate verification. When set and
	// ClientAuth is left at tls.NoClientCert, clients must present a
	// certificate signed by this CA.
	CAFile     string
	ClientAuth tls.ClientAuthType

	// MinVersion defaults to TLS 1.2.
	MinVersion uint16

	// Logger receives certificate reload failures.
	Logger *slog.Logger
}

// NewServerCredentials creates gRPC transport credentials from cfg.
//
// The certificate pair is loaded once up front so a bad configuration fails
// at startup. After that it is re-read on every handshake, so rotated files
// are picked up without a restart; if a re-read fails (for example while a
// rotation is half written) the last good pair is served.
func NewServerCredentials(cfg *TLSConfig) (credentials.TransportCredentials, error) {
	tlsConfig, err := newServerTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(tlsConfig), nil
}

// ServerOption wraps NewServerCredentials as a grpc.ServerOption.
func ServerOption(cfg *TLSConfig) (grpc.ServerOption, error) {
	creds, err := NewServerCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.Creds(creds), nil
}

func newServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("grpcserver: TLS config is nil")
	}
	if cfg.CertFile == "" {
		return nil, errors.New("grpcserver: server certificate file is required")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("grpcserver: server key file is required")
	}

	reloader, err := newCertReloader(cfg.CertFile, cfg.KeyFile, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("grpcserver: load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		ClientAuth:     cfg.ClientAuth,
		GetCertificate: reloader.GetCertificate,
	}
	if cfg.MinVersion > 0 {
		tlsConfig.MinVersion = cfg.MinVersion
	}

	if cfg.CAFile != "" {
		pool, err := loadCACertificate(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("grpcserver: load CA certificate: %w", err)
		}
		tlsConfig.ClientCAs = pool
		if tlsConfig.ClientAuth == tls.NoClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	return tlsConfig, nil
}

// certReloader reads the key pair on each handshake and falls back to the
// last pair that loaded.
type certReloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu       sync.Mutex
	lastGood *tls.Certificate
}

func newCertReloader(certFile, keyFile string, logger *slog.Logger) (*certReloader, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &certReloader{certFile: certFile, keyFile: keyFile, logger: logger}

	cert, err := loadCertificate(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	r.lastGood = &cert
	return r, nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := loadCertificate(r.certFile, r.keyFile)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.logger.Warn("certificate reload failed, serving previous certificate",
			slog.String("cert_file", r.certFile),
			slog.Any("cause", err),
		)
		return r.lastGood, nil
	}
	r.lastGood = &cert
	return &cert, nil
}

func loadCertificate(certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := readTLSFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate file: %w", err)
	}
	keyPEM, err := readTLSFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read key file: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

func loadCACertificate(caFile string) (*x509.CertPool, error) {
	caPEM, err := readTLSFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}

// readTLSFile resolves path and reads it through os.OpenInRoot, so a
// symlinked file cannot escape its directory.
func readTLSFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("grpcserver: empty TLS file path")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("grpcserver: resolve TLS path %q: %w", path, err)
	}

	f, err := os.OpenInRoot(filepath.Dir(abs), filepath.Base(abs))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
