package dps

import (
	"encoding/json"
	"fmt"

	"github.com/EternisAI/silo-device/internal/buffer"
	"github.com/EternisAI/silo-device/internal/sas"
)

const requestBufferSize = 1024

type registrationRequest struct {
	RegistrationID string `json:"registrationId"`
}

// RegistrationToken mints the token that authorizes registration calls for
// deviceID in scopeID.
func RegistrationToken(b *sas.Builder, scopeID, deviceID, base64Key string) (sas.Token, error) {
	tok, err := b.Build(scopeID+"/registrations/"+deviceID, base64Key, sas.KeyNameRegistration)
	if err != nil {
		return sas.Token{}, fmt.Errorf("failed to build registration token: %w", err)
	}
	return tok, nil
}

func registerRequest(cfg Config, scopeID, deviceID, authorization string) ([]byte, error) {
	encodedID, err := encodeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(registrationRequest{RegistrationID: deviceID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration body: %w", err)
	}

	req := buffer.Alloc(requestBufferSize)
	_, err = fmt.Fprintf(req, "PUT /%s/registrations/%s/register?api-version=%s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"content-type: application/json; charset=utf-8\r\n"+
		"%s\r\n"+
		"accept: */*\r\n"+
		"content-length: %d\r\n"+
		"authorization: %s\r\n"+
		"connection: close\r\n"+
		"\r\n"+
		"%s\r\n",
		scopeID, encodedID, cfg.APIVersion,
		cfg.Endpoint,
		cfg.ClientSignature,
		len(body),
		authorization,
		body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestTooLarge, err)
	}
	return req.Bytes(), nil
}

func pollRequest(cfg Config, scopeID, deviceID, operationID, authorization string) ([]byte, error) {
	encodedID, err := encodeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	req := buffer.Alloc(requestBufferSize)
	_, err = fmt.Fprintf(req, "GET /%s/registrations/%s/operations/%s?api-version=%s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"content-type: application/json; charset=utf-8\r\n"+
		"%s\r\n"+
		"accept: */*\r\n"+
		"authorization: %s\r\n"+
		"connection: close\r\n"+
		"\r\n",
		scopeID, encodedID, operationID, cfg.APIVersion,
		cfg.Endpoint,
		cfg.ClientSignature,
		authorization)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestTooLarge, err)
	}
	return req.Bytes(), nil
}

func encodeDeviceID(deviceID string) (string, error) {
	b := buffer.FromString(deviceID)
	if err := b.URLEncode(); err != nil {
		return "", fmt.Errorf("failed to encode device id: %w", err)
	}
	return b.String(), nil
}
