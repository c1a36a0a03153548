package dps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-device/internal/buffer"
)

const (
	DefaultEndpoint        = "global.azure-devices-provisioning.net"
	DefaultPort            = 443
	DefaultAPIVersion      = "2018-11-01"
	DefaultClientSignature = "user-agent: iot-central-client/1.0"

	defaultConnectAttempts = 5
	defaultResponseTimeout = 20 * time.Second
	defaultReadInterval    = 100 * time.Millisecond
	defaultPollDelay       = 250 * time.Millisecond
	defaultPollAttempts    = 5
	defaultMaxResponseSize = 1024
)

var (
	ErrConnect          = errors.New("provisioning endpoint connection failed")
	ErrResponseTimeout  = errors.New("provisioning endpoint did not answer in time")
	ErrResponseTooLarge = errors.New("provisioning response exceeds buffer")
	ErrMarkerNotFound   = errors.New("expected field not found in provisioning response")
	ErrNotAssigned      = errors.New("device was not assigned to a hub")
	ErrRequestTooLarge  = errors.New("provisioning request exceeds buffer")
	ErrNoOperation      = errors.New("no registration operation to poll")
)

type State int

const (
	StateIdle State = iota
	StateRegistering
	StatePolling
	StateAssigned
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistering:
		return "registering"
	case StatePolling:
		return "polling"
	case StateAssigned:
		return "assigned"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the transient state of one provisioning attempt.
type Session struct {
	ScopeID     string
	DeviceID    string
	OperationID string
	AssignedHub string
	State       State
}

func NewSession(scopeID, deviceID string) *Session {
	return &Session{ScopeID: scopeID, DeviceID: deviceID, State: StateIdle}
}

type Config struct {
	Endpoint        string        `mapstructure:"endpoint"`
	Port            int           `mapstructure:"port"`
	APIVersion      string        `mapstructure:"api_version"`
	ClientSignature string        `mapstructure:"client_signature"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	ReadInterval    time.Duration `mapstructure:"read_interval"`
	PollDelay       time.Duration `mapstructure:"poll_delay"`
	PollAttempts    int           `mapstructure:"poll_attempts"`
	MaxResponseSize int           `mapstructure:"max_response_size"`
	CAFile          string        `mapstructure:"ca_file"`
}

// WithDefaults fills every zero field with the firmware defaults.
func (c Config) WithDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.ClientSignature == "" {
		c.ClientSignature = DefaultClientSignature
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = defaultConnectAttempts
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = defaultResponseTimeout
	}
	if c.ReadInterval <= 0 {
		c.ReadInterval = defaultReadInterval
	}
	if c.PollDelay <= 0 {
		c.PollDelay = defaultPollDelay
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = defaultPollAttempts
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = defaultMaxResponseSize
	}
	return c
}

// Client drives the register-then-poll handshake against the provisioning
// service. It is not safe for concurrent use.
type Client struct {
	cfg    Config
	stream Stream
}

func NewClient(cfg Config, stream Stream) *Client {
	return &Client{
		cfg:    cfg.WithDefaults(),
		stream: stream,
	}
}

func (c *Client) Config() Config {
	return c.cfg
}

// Provision registers the device and polls until a hub is assigned. The
// returned session is never nil and carries the state the attempt ended in.
func (c *Client) Provision(ctx context.Context, scopeID, deviceID, authorization string) (*Session, error) {
	s := NewSession(scopeID, deviceID)

	if err := c.Register(ctx, s, authorization); err != nil {
		return s, err
	}
	if err := c.Poll(ctx, s, authorization); err != nil {
		return s, err
	}
	return s, nil
}

// Register sends the registration request and records the operation id.
func (c *Client) Register(ctx context.Context, s *Session, authorization string) error {
	s.State = StateRegistering
	slog.Debug("Registering device", "endpoint", c.cfg.Endpoint, "scope_id", s.ScopeID, "device_id", s.DeviceID)

	req, err := registerRequest(c.cfg, s.ScopeID, s.DeviceID, authorization)
	if err != nil {
		s.State = StateFailed
		return err
	}

	body, err := c.roundTrip(ctx, req)
	if err != nil {
		s.State = StateFailed
		return fmt.Errorf("register request failed: %w", err)
	}

	operationID, err := extractField(body, operationIDMarker)
	if err != nil {
		s.State = StateFailed
		slog.Error("DPS PUT request failed", "response", body.String())
		return fmt.Errorf("register request failed: %w", err)
	}

	s.OperationID = operationID
	slog.Debug("Registration accepted", "operation_id", operationID)
	return nil
}

// Poll queries the registration operation until the service reports the
// assigned hub or the attempts run out.
func (c *Client) Poll(ctx context.Context, s *Session, authorization string) error {
	if s.OperationID == "" {
		s.State = StateFailed
		return ErrNoOperation
	}
	s.State = StatePolling

	req, err := pollRequest(c.cfg, s.ScopeID, s.DeviceID, s.OperationID, authorization)
	if err != nil {
		s.State = StateFailed
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		if err := sleep(ctx, c.cfg.PollDelay); err != nil {
			s.State = StateFailed
			return fmt.Errorf("poll interrupted: %w", err)
		}

		body, err := c.roundTrip(ctx, req)
		if err == nil {
			var hub string
			hub, err = extractField(body, assignedHubMarker)
			if err == nil {
				s.AssignedHub = hub
				s.State = StateAssigned
				slog.Info("Device assigned to hub", "device_id", s.DeviceID, "hub", hub, "attempt", attempt)
				return nil
			}
			slog.Debug("Hub not assigned yet", "attempt", attempt, "response", body.String())
		} else {
			slog.Warn("DPS GET request failed", "attempt", attempt, "error", err)
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	s.State = StateFailed
	return fmt.Errorf("%w after %d attempts: %w", ErrNotAssigned, c.cfg.PollAttempts, lastErr)
}

func (c *Client) connect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		if err = c.stream.Connect(ctx, c.cfg.Endpoint, c.cfg.Port); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		slog.Debug("DPS connect failed", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%w: %s:%d: %w", ErrConnect, c.cfg.Endpoint, c.cfg.Port, err)
}

// roundTrip performs one request on a fresh connection and always closes it.
func (c *Client) roundTrip(ctx context.Context, req []byte) (buffer.View, error) {
	if err := c.connect(ctx); err != nil {
		return buffer.View{}, err
	}
	defer func() {
		if closeErr := c.stream.Close(); closeErr != nil {
			slog.Debug("Failed to close DPS stream", "error", closeErr)
		}
	}()

	if _, err := c.stream.Write(req); err != nil {
		return buffer.View{}, fmt.Errorf("%w: write: %w", ErrConnect, err)
	}

	return c.readResponse(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
