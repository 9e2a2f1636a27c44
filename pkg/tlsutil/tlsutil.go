// Package tlsutil builds client TLS configurations for broker connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/citystreams/errors"
)

// ClientConfig describes the TLS settings of an outbound connection.
// CAFiles are trusted in addition to the system pool.
type ClientConfig struct {
	CAFiles            []string
	CertFile           string
	KeyFile            string
	MinVersion         string // "1.2" or "1.3"
	InsecureSkipVerify bool
}

// Enabled reports whether any TLS setting is present.
func (c ClientConfig) Enabled() bool {
	return len(c.CAFiles) > 0 || c.CertFile != "" || c.KeyFile != "" ||
		c.MinVersion != "" || c.InsecureSkipVerify
}

// LoadClientTLSConfig creates a tls.Config from cfg. It returns nil when
// cfg is not Enabled.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.ConfigFailure("tlsutil", "LoadClientTLSConfig", "cert and key files must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
	return tlsConfig, nil
}

// parseTLSVersion maps "1.3" to TLS 1.3 and anything else to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
