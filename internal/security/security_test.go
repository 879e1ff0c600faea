package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDIsGeneratedAndEchoed(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, got)
	assert.Equal(t, got, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "rid-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "rid-123", got)
}

func TestParseAllowlist(t *testing.T) {
	nets, err := ParseAllowlist([]string{"10.0.0.0/8", " 192.168.1.10 ", "", "2001:db8::1"})
	require.NoError(t, err)
	assert.Len(t, nets, 3)

	_, err = ParseAllowlist([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseAllowlist([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestIPAllowlistMiddleware(t *testing.T) {
	nets, err := ParseAllowlist([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := IPAllowlist(nets)(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.RemoteAddr = "172.16.0.1:4567"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Empty allowlist admits everyone.
	handler = IPAllowlist(nil)(ok)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJSONSchemaValidator(t *testing.T) {
	const schema = `{
		"type": "object",
		"required": ["amount"],
		"properties": {
			"amount": {"type": "string", "pattern": "^[0-9]+\\.[0-9]{2}$"}
		},
		"additionalProperties": false
	}`

	v, err := NewJSONSchemaValidator("deposit.json", schema)
	require.NoError(t, err)

	var seen string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, 64)
		n, _ := r.Body.Read(b)
		seen = string(b[:n])
	}))

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do(`{"amount":"25.00"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"amount":"25.00"}`, seen, "body must be replayable for the handler")

	assert.Equal(t, http.StatusBadRequest, do(`{"amount":"25.0"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(`{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(`not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(`{"amount":"25.00","extra":1}`).Code)
}

func TestRateLimitWithoutRedisPassesThrough(t *testing.T) {
	limiter := &RedisTokenBucket{}
	handler := RateLimit(limiter, func(r *http.Request) string { return "owner-1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func writeSelfSignedCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t, t.TempDir())

	require.NoError(t, VerifyTLSFiles(certFile, keyFile))

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Len(t, cfg.Certificates, 1)

	_, err = LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: filepath.Join(t.TempDir(), "missing.key")})
	assert.Error(t, err)

	assert.Error(t, VerifyTLSFiles("", keyFile))
	assert.Error(t, VerifyTLSFiles(certFile, "/no/such/file"))
}
