package dto

import "time"

type ProvisioningStatus struct {
	Stage       string    `json:"stage"`
	OperationID string    `json:"operation_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

type StatusResponse struct {
	DeviceID     string             `json:"device_id"`
	Version      string             `json:"version,omitempty"`
	HubHost      string             `json:"hub_host,omitempty"`
	Connected    bool               `json:"connected"`
	Provisioning ProvisioningStatus `json:"provisioning"`
	Methods      []string           `json:"methods"`
}

type MethodsResponse struct {
	Methods []string `json:"methods"`
	Count   int      `json:"count"`
}
