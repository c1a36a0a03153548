package fakedps

import (
	"crypto/hmac"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/silo-device/internal/sas"
)

// Server is an in-process Device Provisioning Service that answers the
// register and operation status calls over TLS.
type Server struct {
	*httptest.Server

	Host      string
	Port      int
	TLSConfig *tls.Config

	hub           string
	key           string
	pendingPolls  int
	mu            sync.Mutex
	operations    map[string]int
	registrations int
}

// Start serves registrations signed with key, assigning every device to hub
// after it has been polled pendingPolls times.
func Start(hub, key string, pendingPolls int) (*Server, error) {
	s := &Server{
		hub:          hub,
		key:          key,
		pendingPolls: pendingPolls,
		operations:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /{scope}/registrations/{device}/register", s.register)
	mux.HandleFunc("GET /{scope}/registrations/{device}/operations/{operation}", s.status)
	s.Server = httptest.NewTLSServer(mux)

	host, portStr, err := net.SplitHostPort(s.Listener.Addr().String())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to parse listener address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to parse listener port: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(s.Certificate())

	s.Host = host
	s.Port = port
	s.TLSConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return s, nil
}

func (s *Server) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations
}

// authorize recomputes the registration token signature with the device key.
func (s *Server) authorize(r *http.Request) error {
	token, err := sas.Parse(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	resource := r.PathValue("scope") + "/registrations/" + r.PathValue("device")
	if token.Resource != resource {
		return fmt.Errorf("resource %q, want %q", token.Resource, resource)
	}
	if token.KeyName != sas.KeyNameRegistration {
		return fmt.Errorf("key name %q", token.KeyName)
	}
	if token.ExpiresAt().Before(time.Now()) {
		return fmt.Errorf("token expired at %s", token.ExpiresAt())
	}
	expected, err := sas.BuildAt(resource, s.key, sas.KeyNameRegistration, token.Expiry)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected.Signature), []byte(token.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func unauthorized(w http.ResponseWriter, err error) {
	slog.Debug("Fake DPS rejected token", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, `{"errorCode":401002,"message":"unauthorized"}`)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		unauthorized(w, err)
		return
	}

	operationID := "4." + uuid.NewString()
	s.mu.Lock()
	s.registrations++
	s.operations[operationID] = 0
	s.mu.Unlock()

	slog.Debug("Fake DPS registration", "device", r.PathValue("device"), "operation_id", operationID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, `{"operationId":"%s","status":"assigning"}`, operationID)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		unauthorized(w, err)
		return
	}
	operationID := r.PathValue("operation")

	s.mu.Lock()
	polls, ok := s.operations[operationID]
	if ok {
		s.operations[operationID] = polls + 1
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errorCode":404201,"message":"operation not found"}`)
		return
	}
	if polls < s.pendingPolls {
		w.WriteHeader(http.StatusAccepted)
		_, _ = fmt.Fprintf(w, `{"operationId":"%s","status":"assigning"}`, operationID)
		return
	}
	_, _ = fmt.Fprintf(w, `{"operationId":"%s","status":"assigned","registrationState":{"assignedHub":"%s","deviceId":"%s","status":"assigned"}}`,
		operationID, s.hub, r.PathValue("device"))
}
