package systemtest

import (
	"context"
	"testing"
	"time"

	internalhttp "github.com/EternisAI/silo-device/internal/api/http"
	"github.com/EternisAI/silo-device/internal/dps"
	"github.com/EternisAI/silo-device/internal/hub"
	"github.com/EternisAI/silo-device/internal/identity"
	"github.com/EternisAI/silo-device/internal/sas"
	"github.com/EternisAI/silo-device/internal/stream"
	"github.com/EternisAI/silo-device/systemtest/fakedps"
	"github.com/EternisAI/silo-device/systemtest/tests"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scopeID  = "0ne00ABCDEF"
	deviceID = "dev1"
	key      = "c2VjcmV0LWRldmljZS1rZXk="
	wrongKey = "d3Jvbmcta2V5"
	hubHost  = "myhub.azure-devices.net"
	apiKey   = "local-secret"
)

func newProvisioningClient(server *fakedps.Server) *dps.Client {
	return dps.NewClient(dps.Config{
		Endpoint:        server.Host,
		Port:            server.Port,
		ResponseTimeout: 5 * time.Second,
		ReadInterval:    10 * time.Millisecond,
		PollDelay:       10 * time.Millisecond,
	}, stream.NewTLSStream(server.TLSConfig, time.Second, 200*time.Millisecond))
}

func TestSystemIntegration(t *testing.T) {
	server, err := fakedps.Start(hubHost, key, 1)
	require.NoError(t, err)
	defer server.Close()

	client := newProvisioningClient(server)

	orchestrator := identity.NewOrchestrator(identity.Credentials{
		ScopeID:      scopeID,
		DeviceID:     deviceID,
		SymmetricKey: key,
	}, client, sas.NewBuilder(time.Hour))

	id, err := orchestrator.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hubHost, id.HostName)
	assert.Equal(t, hubHost+"/"+deviceID+"/api-version=2016-11-14", id.Username)
	assert.Equal(t, 1, server.Registrations())

	token, err := sas.Parse(id.Password)
	require.NoError(t, err)
	assert.Equal(t, hubHost+"/devices/"+deviceID, token.Resource)
	assert.Empty(t, token.KeyName)

	hubClient := hub.NewClient(hub.Config{}, orchestrator)
	require.NoError(t, hubClient.Methods().Register("echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}))

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Identity: orchestrator,
		Hub:      hubClient,
	}, internalhttp.Config{APIKey: apiKey})

	t.Run("HealthCheck", func(t *testing.T) { tests.TestHealthCheck(t, engine) })
	t.Run("Status", func(t *testing.T) { tests.TestStatus(t, engine, deviceID, hubHost) })
	t.Run("LocalMethods", func(t *testing.T) { tests.TestLocalMethods(t, engine, apiKey) })
}

func TestSystemRejectsWrongDeviceKey(t *testing.T) {
	server, err := fakedps.Start(hubHost, key, 0)
	require.NoError(t, err)
	defer server.Close()

	orchestrator := identity.NewOrchestrator(identity.Credentials{
		ScopeID:      scopeID,
		DeviceID:     deviceID,
		SymmetricKey: wrongKey,
	}, newProvisioningClient(server), sas.NewBuilder(time.Hour))

	_, err = orchestrator.Identity(context.Background())
	assert.ErrorIs(t, err, dps.ErrMarkerNotFound)
	assert.Equal(t, 0, server.Registrations())
	assert.Equal(t, identity.StageProvisioning, orchestrator.Last().Stage)
}
