package security

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
)

// TLSConfig names the certificate files the HTTP server listens with.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// LoadServerTLSConfig builds a TLS 1.3 server configuration.
func LoadServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate and key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}, nil
}

// VerifyTLSFiles checks the certificate files exist before the server
// tries to bind.
func VerifyTLSFiles(certFile, keyFile string) error {
	for _, file := range []string{certFile, keyFile} {
		if file == "" {
			return errors.New("TLS file path must not be empty")
		}
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("TLS file not found: %s - %w", file, err)
		}
	}
	return nil
}
