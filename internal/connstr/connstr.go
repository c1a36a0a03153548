package connstr

import (
	"errors"
	"fmt"

	"github.com/EternisAI/silo-device/internal/buffer"
	"github.com/EternisAI/silo-device/internal/sas"
)

const (
	hostNameMarker = "HostName="
	deviceIDMarker = ";DeviceId="
	keyMarker      = ";SharedAccessKey="

	HubAPIVersion = "2016-11-14"
)

var (
	ErrMalformed  = errors.New("malformed connection string")
	ErrEmptyField = errors.New("connection string field is empty")
)

// ConnectionString is a parsed device connection string. Its fields borrow
// the bytes passed to Parse and are only valid while those bytes are.
//
// Fields must appear in the order HostName, DeviceId, SharedAccessKey.
type ConnectionString struct {
	HostName        buffer.View
	DeviceID        buffer.View
	SharedAccessKey buffer.View
}

// Identity holds the MQTT credentials derived from a connection string.
type Identity struct {
	HostName string
	DeviceID string
	Username string
	Password string
}

func Build(hostName, deviceID, key string) string {
	return hostNameMarker + hostName + deviceIDMarker + deviceID + keyMarker + key
}

func Parse(raw []byte) (*ConnectionString, error) {
	v := buffer.NewView(raw)

	if !v.StartsWith([]byte(hostNameMarker)) {
		return nil, fmt.Errorf("%w: does not start with %s", ErrMalformed, hostNameMarker)
	}

	deviceIndex := v.IndexOf([]byte(deviceIDMarker), len(hostNameMarker))
	if deviceIndex < 0 {
		return nil, fmt.Errorf("%w: %s not found", ErrMalformed, deviceIDMarker)
	}

	deviceStart := deviceIndex + len(deviceIDMarker)
	keyIndex := v.IndexOf([]byte(keyMarker), deviceStart)
	if keyIndex < 0 {
		return nil, fmt.Errorf("%w: %s not found after %s", ErrMalformed, keyMarker, deviceIDMarker)
	}

	cs := &ConnectionString{
		HostName:        v.Slice(len(hostNameMarker), deviceIndex),
		DeviceID:        v.Slice(deviceStart, keyIndex),
		SharedAccessKey: v.Slice(keyIndex+len(keyMarker), v.Len()),
	}

	switch {
	case cs.HostName.Len() == 0:
		return nil, fmt.Errorf("%w: HostName", ErrEmptyField)
	case cs.DeviceID.Len() == 0:
		return nil, fmt.Errorf("%w: DeviceId", ErrEmptyField)
	case cs.SharedAccessKey.Len() == 0:
		return nil, fmt.Errorf("%w: SharedAccessKey", ErrEmptyField)
	}

	return cs, nil
}

// Key returns the decoded shared access key.
func (cs *ConnectionString) Key() ([]byte, error) {
	key := cs.SharedAccessKey.Clone()
	if err := key.Base64Decode(); err != nil {
		return nil, fmt.Errorf("failed to decode shared access key: %w", err)
	}
	return key.Bytes(), nil
}

// Identity derives the hub username and a freshly signed password.
func (cs *ConnectionString) Identity(b *sas.Builder) (Identity, error) {
	host := cs.HostName.String()
	deviceID := cs.DeviceID.String()

	token, err := b.Build(host+"/devices/"+deviceID, cs.SharedAccessKey.String(), "")
	if err != nil {
		return Identity{}, fmt.Errorf("failed to build hub token: %w", err)
	}
	password, err := token.Encode()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to build hub token: %w", err)
	}

	return Identity{
		HostName: host,
		DeviceID: deviceID,
		Username: host + "/" + deviceID + "/api-version=" + HubAPIVersion,
		Password: password,
	}, nil
}
