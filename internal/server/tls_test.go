package server

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSConfig_AEADOnly(t *testing.T) {
	cfg := TLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	insecure := map[uint16]bool{}
	for _, cs := range tls.InsecureCipherSuites() {
		insecure[cs.ID] = true
	}
	for _, id := range cfg.CipherSuites {
		assert.False(t, insecure[id], tls.CipherSuiteName(id))
		assert.NotContains(t, tls.CipherSuiteName(id), "CBC")
	}
}

func TestProbeClient_TLSServer(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = TLSConfig()
	srv.StartTLS()
	defer srv.Close()

	client := ProbeClient(2 * time.Second)
	assert.Equal(t, 2*time.Second, client.Timeout)

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	client.Transport.(*http.Transport).TLSClientConfig.RootCAs = roots

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
