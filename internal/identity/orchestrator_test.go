package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-device/internal/connstr"
	"github.com/EternisAI/silo-device/internal/dps"
	"github.com/EternisAI/silo-device/internal/sas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testScope = "0ne00ABCDEF"
	testKey   = "c2VjcmV0LWRldmljZS1rZXk="

	registrationAuth = "SharedAccessSignature sr=0ne00ABCDEF%2Fregistrations%2Fdev1" +
		"&sig=QMP%2FVjkpDPpIwDehgrw5vnFojL0zbLP%2FlVj47AIC2io%3D&se=1700000000000&skn=registration"
	hubPassword = "SharedAccessSignature sr=myhub.azure-devices.net%2Fdevices%2Fdev1" +
		"&sig=Xye156BGGKc5wtR0iqnoSvAEQdFkuB7fpVlVF3GV5sI%3D&se=1700000000000"
)

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Provision(ctx context.Context, scopeID, deviceID, authorization string) (*dps.Session, error) {
	args := m.Called(ctx, scopeID, deviceID, authorization)
	session, _ := args.Get(0).(*dps.Session)
	return session, args.Error(1)
}

func fixedBuilder() *sas.Builder {
	b := sas.NewBuilder(time.Hour)
	b.Now = func() time.Time { return time.Unix(1700000000, 0).Add(-time.Hour) }
	return b
}

func testCreds() Credentials {
	return Credentials{ScopeID: testScope, DeviceID: "dev1", SymmetricKey: testKey}
}

func assignedSession() *dps.Session {
	return &dps.Session{
		ScopeID:     testScope,
		DeviceID:    "dev1",
		OperationID: "4.abc",
		AssignedHub: "myhub.azure-devices.net",
		State:       dps.StateAssigned,
	}
}

func TestIdentity(t *testing.T) {
	p := new(MockProvisioner)
	p.On("Provision", mock.Anything, testScope, "dev1", registrationAuth).Return(assignedSession(), nil)

	o := NewOrchestrator(testCreds(), p, fixedBuilder())
	id, err := o.Identity(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "myhub.azure-devices.net", id.HostName)
	assert.Equal(t, "dev1", id.DeviceID)
	assert.Equal(t, "myhub.azure-devices.net/dev1/api-version=2016-11-14", id.Username)
	assert.Equal(t, hubPassword, id.Password)

	status := o.Last()
	assert.Equal(t, StageReady, status.Stage)
	assert.Equal(t, "myhub.azure-devices.net", status.HostName)
	assert.Equal(t, "4.abc", status.OperationID)
	assert.Empty(t, status.Error)
	assert.False(t, status.At.IsZero())
	p.AssertExpectations(t)
}

func TestIdentityProvisionFailure(t *testing.T) {
	failed := &dps.Session{ScopeID: testScope, DeviceID: "dev1", OperationID: "4.abc", State: dps.StateFailed}
	p := new(MockProvisioner)
	p.On("Provision", mock.Anything, testScope, "dev1", mock.Anything).Return(failed, dps.ErrNotAssigned)

	o := NewOrchestrator(testCreds(), p, fixedBuilder())
	_, err := o.Identity(context.Background())
	assert.ErrorIs(t, err, dps.ErrNotAssigned)

	status := o.Last()
	assert.Equal(t, StageProvisioning, status.Stage)
	assert.Equal(t, "4.abc", status.OperationID)
	assert.Contains(t, status.Error, "failed to provision device")
	p.AssertNumberOfCalls(t, "Provision", 1)
}

func TestIdentityEmptyHub(t *testing.T) {
	p := new(MockProvisioner)
	p.On("Provision", mock.Anything, testScope, "dev1", mock.Anything).Return(&dps.Session{}, nil)

	o := NewOrchestrator(testCreds(), p, fixedBuilder())
	_, err := o.Identity(context.Background())
	assert.ErrorIs(t, err, dps.ErrNotAssigned)
}

func TestIdentityBadKey(t *testing.T) {
	p := new(MockProvisioner)
	creds := testCreds()
	creds.SymmetricKey = "***"

	o := NewOrchestrator(creds, p, fixedBuilder())
	_, err := o.Identity(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StageToken, o.Last().Stage)
	p.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIdentityMissingCredentials(t *testing.T) {
	o := NewOrchestrator(Credentials{ScopeID: testScope}, new(MockProvisioner), nil)
	_, err := o.Identity(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestIdentityHubWithSeparatorFailsParsing(t *testing.T) {
	session := assignedSession()
	session.AssignedHub = "evil;DeviceId=x"
	p := new(MockProvisioner)
	p.On("Provision", mock.Anything, testScope, "dev1", mock.Anything).Return(session, nil)

	o := NewOrchestrator(testCreds(), p, fixedBuilder())
	_, err := o.Identity(context.Background())
	assert.ErrorIs(t, err, connstr.ErrMalformed)
	assert.Equal(t, StageParsing, o.Last().Stage)
}

func TestAuthFunc(t *testing.T) {
	p := new(MockProvisioner)
	p.On("Provision", mock.Anything, testScope, "dev1", registrationAuth).Return(assignedSession(), nil)

	auth := NewOrchestrator(testCreds(), p, fixedBuilder()).AuthFunc()
	host, token, err := auth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "myhub.azure-devices.net", host)
	assert.Equal(t, hubPassword, token)

	p2 := new(MockProvisioner)
	p2.On("Provision", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	host, token, err = NewOrchestrator(testCreds(), p2, fixedBuilder()).AuthFunc()(context.Background())
	assert.Error(t, err)
	assert.Empty(t, host)
	assert.Empty(t, token)
}

func TestLastDoesNotBlockDuringProvisioning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := new(MockProvisioner)
	p.On("Provision", mock.Anything, testScope, "dev1", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(assignedSession(), nil)

	o := NewOrchestrator(testCreds(), p, fixedBuilder())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = o.Identity(context.Background())
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("provisioning did not start")
	}
	assert.Equal(t, StageNone, o.Last().Stage)

	close(release)
	wg.Wait()
	assert.Equal(t, StageReady, o.Last().Stage)
}
