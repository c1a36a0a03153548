package tls

import (
	"crypto/tls"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfigDefaults(t *testing.T) {
	config, err := LoadClientConfig("", "", "")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), config.MinVersion)
	assert.Nil(t, config.RootCAs)
	assert.Empty(t, config.ServerName)
}

func TestLoadClientConfigWithCA(t *testing.T) {
	server := httptest.NewTLSServer(nil)
	defer server.Close()

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	require.NoError(t, os.WriteFile(caPath, pemBytes, 0644))

	config, err := LoadClientConfig(caPath, "hub.example", "1.3")
	require.NoError(t, err)
	assert.NotNil(t, config.RootCAs)
	assert.Equal(t, "hub.example", config.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS13), config.MinVersion)
}

func TestLoadClientConfigErrors(t *testing.T) {
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.pem"), "", "")
	assert.ErrorContains(t, err, "failed to read CA certificate")

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0644))
	_, err = LoadClientConfig(garbage, "", "")
	assert.ErrorContains(t, err, "failed to append CA certificate")

	_, err = LoadClientConfig("", "", "1.0")
	assert.Error(t, err)
}
