package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-device/internal/connstr"
	"github.com/EternisAI/silo-device/internal/dps"
	"github.com/EternisAI/silo-device/internal/sas"
)

var ErrMissingCredentials = errors.New("scope id, device id and symmetric key are required")

type Stage string

const (
	StageNone         Stage = "none"
	StageToken        Stage = "token"
	StageProvisioning Stage = "provisioning"
	StageParsing      Stage = "parsing"
	StageSigning      Stage = "signing"
	StageReady        Stage = "ready"
)

// Credentials are the device secrets supplied by configuration.
type Credentials struct {
	ScopeID      string
	DeviceID     string
	SymmetricKey string
}

func (c Credentials) Validate() error {
	if c.ScopeID == "" || c.DeviceID == "" || c.SymmetricKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

type Provisioner interface {
	Provision(ctx context.Context, scopeID, deviceID, authorization string) (*dps.Session, error)
}

// AuthFunc yields the hub host name and a SAS token to connect with.
type AuthFunc func(ctx context.Context) (hostname, sas string, err error)

// Status is the outcome of the most recent Identity call. It never carries
// the token.
type Status struct {
	Stage       Stage     `json:"stage"`
	HostName    string    `json:"host_name,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Orchestrator turns device credentials into hub credentials by provisioning
// through DPS and signing a hub token for the assigned host.
type Orchestrator struct {
	creds       Credentials
	provisioner Provisioner
	tokens      *sas.Builder

	callMu sync.Mutex
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

func NewOrchestrator(creds Credentials, p Provisioner, tokens *sas.Builder) *Orchestrator {
	if tokens == nil {
		tokens = sas.NewBuilder(sas.DefaultValidity)
	}
	return &Orchestrator{
		creds:       creds,
		provisioner: p,
		tokens:      tokens,
		status:      Status{Stage: StageNone},
		now:         time.Now,
	}
}

func (o *Orchestrator) DeviceID() string {
	return o.creds.DeviceID
}

// Identity provisions the device and returns fresh hub credentials. Calls
// are serialized; failures are not retried.
func (o *Orchestrator) Identity(ctx context.Context) (connstr.Identity, error) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	id, status, err := o.identity(ctx)
	status.At = o.now()
	if err != nil {
		status.Error = err.Error()
		slog.Error("Failed to obtain hub identity", "stage", status.Stage, "error", err)
	} else {
		slog.Info("Hub identity ready", "host", id.HostName, "device_id", id.DeviceID)
	}
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
	return id, err
}

func (o *Orchestrator) identity(ctx context.Context) (connstr.Identity, Status, error) {
	if err := o.creds.Validate(); err != nil {
		return connstr.Identity{}, Status{Stage: StageToken}, err
	}

	token, err := dps.RegistrationToken(o.tokens, o.creds.ScopeID, o.creds.DeviceID, o.creds.SymmetricKey)
	if err != nil {
		return connstr.Identity{}, Status{Stage: StageToken}, err
	}
	encoded, err := token.Encode()
	if err != nil {
		return connstr.Identity{}, Status{Stage: StageToken}, err
	}
	slog.Debug("Registration token built", "expires_at", token.ExpiresAt())

	session, err := o.provisioner.Provision(ctx, o.creds.ScopeID, o.creds.DeviceID, encoded)
	status := Status{Stage: StageProvisioning}
	if session != nil {
		status.OperationID = session.OperationID
		status.HostName = session.AssignedHub
	}
	if err != nil {
		return connstr.Identity{}, status, fmt.Errorf("failed to provision device: %w", err)
	}
	if session == nil || session.AssignedHub == "" {
		return connstr.Identity{}, status, fmt.Errorf("failed to provision device: %w", dps.ErrNotAssigned)
	}

	status.Stage = StageParsing
	raw := []byte(connstr.Build(session.AssignedHub, o.creds.DeviceID, o.creds.SymmetricKey))
	cs, err := connstr.Parse(raw)
	if err != nil {
		return connstr.Identity{}, status, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cs.DeviceID.String() != o.creds.DeviceID {
		return connstr.Identity{}, status, fmt.Errorf("failed to parse connection string: %w: device id mismatch", connstr.ErrMalformed)
	}

	status.Stage = StageSigning
	id, err := cs.Identity(o.tokens)
	if err != nil {
		return connstr.Identity{}, status, err
	}

	status.Stage = StageReady
	return id, status, nil
}

// AuthFunc adapts Identity to the host name and token pair hub transports
// authenticate with.
func (o *Orchestrator) AuthFunc() AuthFunc {
	return func(ctx context.Context) (string, string, error) {
		id, err := o.Identity(ctx)
		if err != nil {
			return "", "", err
		}
		return id.HostName, id.Password, nil
	}
}

func (o *Orchestrator) Last() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}
