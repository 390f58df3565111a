package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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

	"github.com/nomis52/embedflow/logging"
)

// writeKeyPair writes a self-signed certificate for cn and returns its DER bytes.
func writeKeyPair(t *testing.T, certFile, keyFile, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return der
}

func TestCertLoader_ReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	first := writeKeyPair(t, certFile, keyFile, "first.example.com")

	loader, err := NewCertLoader(certFile, keyFile, logging.Discard())
	require.NoError(t, err)
	now := time.Now()
	loader.now = func() time.Time { return now }

	cert, err := loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, first, cert.Certificate[0])

	second := writeKeyPair(t, certFile, keyFile, "second.example.com")
	future := now.Add(time.Hour)
	require.NoError(t, os.Chtimes(certFile, future, future))

	// Within the check interval the cached certificate is served.
	cert, err = loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, first, cert.Certificate[0])

	now = now.Add(2 * defaultCertCheckInterval)
	cert, err = loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, second, cert.Certificate[0])
}

func TestCertLoader_KeepsCertificateOnBadReload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	first := writeKeyPair(t, certFile, keyFile, "first.example.com")

	loader, err := NewCertLoader(certFile, keyFile, logging.Discard())
	require.NoError(t, err)
	now := time.Now()
	loader.now = func() time.Time { return now }

	require.NoError(t, os.WriteFile(certFile, []byte("not a certificate"), 0o600))
	future := now.Add(time.Hour)
	require.NoError(t, os.Chtimes(certFile, future, future))
	now = now.Add(2 * defaultCertCheckInterval)

	cert, err := loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, first, cert.Certificate[0])

	cfg := loader.TLSConfig()
	assert.NotNil(t, cfg.GetCertificate)
}

func TestNewCertLoader_MissingFiles(t *testing.T) {
	_, err := NewCertLoader("/nonexistent/tls.crt", "/nonexistent/tls.key", logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load key pair")
}
