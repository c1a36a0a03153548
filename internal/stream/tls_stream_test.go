package stream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EternisAI/silo-device/internal/dps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.Handler) (*httptest.Server, *tls.Config, string, int) {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	pool := x509.NewCertPool()
	pool.AddCert(server.Certificate())
	config := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}

	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return server, config, host, port
}

func TestTLSStreamRoundTrip(t *testing.T) {
	_, config, host, port := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"path":"`+r.URL.Path+`"}`)
	}))

	s := NewTLSStream(config, time.Second, 200*time.Millisecond)
	require.NoError(t, s.Connect(context.Background(), host, port))
	defer s.Close()

	req := "GET /ping HTTP/1.1\r\nHost: " + host + "\r\nconnection: close\r\n\r\n"
	_, err := s.Write([]byte(req))
	require.NoError(t, err)

	var got strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Available() == 0 {
			if strings.Contains(got.String(), "}") {
				break
			}
			continue
		}
		chunk := make([]byte, 64)
		n, _ := s.Read(chunk)
		got.Write(chunk[:n])
	}

	assert.Contains(t, got.String(), "HTTP/1.1 200 OK")
	assert.Contains(t, got.String(), `{"path":"/ping"}`)
}

func TestTLSStreamNotConnected(t *testing.T) {
	s := NewTLSStream(nil, 0, 0)

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, s.Available())
	assert.NoError(t, s.Close())
}

func TestTLSStreamRejectsUntrustedServer(t *testing.T) {
	_, _, host, port := newTestServer(t, http.NotFoundHandler())

	s := NewTLSStream(&tls.Config{MinVersion: tls.VersionTLS12}, time.Second, 0)
	err := s.Connect(context.Background(), host, port)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Available())
}

func TestTLSStreamDrivesProvisioning(t *testing.T) {
	var registered, polled atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /0ne00ABCDEF/registrations/dev1/register", func(w http.ResponseWriter, r *http.Request) {
		registered.Add(1)
		assert.Equal(t, "2018-11-01", r.URL.Query().Get("api-version"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "SharedAccessSignature "))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"registrationId":"dev1"}`, string(body))
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"operationId":"4.abc.def","status":"assigning"}`)
	})
	mux.HandleFunc("GET /0ne00ABCDEF/registrations/dev1/operations/4.abc.def", func(w http.ResponseWriter, r *http.Request) {
		if polled.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"operationId":"4.abc.def","status":"assigning"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"assigned","registrationState":{"assignedHub":"hub-1.azure-devices.net","deviceId":"dev1"}}`)
	})
	_, config, host, port := newTestServer(t, mux)

	client := dps.NewClient(dps.Config{
		Endpoint:        host,
		Port:            port,
		ResponseTimeout: 5 * time.Second,
		ReadInterval:    10 * time.Millisecond,
		PollDelay:       10 * time.Millisecond,
	}, NewTLSStream(config, time.Second, 200*time.Millisecond))

	session, err := client.Provision(context.Background(), "0ne00ABCDEF", "dev1", "SharedAccessSignature sr=x&sig=y&se=1000&skn=registration")
	require.NoError(t, err)
	assert.Equal(t, dps.StateAssigned, session.State)
	assert.Equal(t, "4.abc.def", session.OperationID)
	assert.Equal(t, "hub-1.azure-devices.net", session.AssignedHub)
	assert.Equal(t, int32(1), registered.Load())
	assert.Equal(t, int32(2), polled.Load())
}
