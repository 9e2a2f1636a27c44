package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
)

// writeTestCert writes a self-signed certificate and its key, returning
// their paths. The certificate doubles as a CA.
func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"citystreams"}, CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0644))
	require.NoError(t, os.WriteFile(keyFile,
		pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}), 0600))
	return certFile, keyFile
}

func TestLoadClientTLSConfig_Disabled(t *testing.T) {
	cfg, err := LoadClientTLSConfig(ClientConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	cfg, err := LoadClientTLSConfig(ClientConfig{
		CAFiles:    []string{certFile},
		CertFile:   certFile,
		KeyFile:    keyFile,
		MinVersion: "1.3",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestLoadClientTLSConfig_Errors(t *testing.T) {
	certFile, _ := writeTestCert(t)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0644))

	tests := map[string]ClientConfig{
		"half client pair": {CertFile: certFile},
		"missing CA":       {CAFiles: []string{filepath.Join(t.TempDir(), "none.pem")}},
		"invalid CA":       {CAFiles: []string{garbage}},
		"bad key":          {CertFile: certFile, KeyFile: garbage},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadClientTLSConfig(cfg)
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}
