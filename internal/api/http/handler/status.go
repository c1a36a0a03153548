package handler

import (
	"net/http"

	"github.com/EternisAI/silo-device/internal/api/http/dto"
	"github.com/EternisAI/silo-device/internal/identity"
	"github.com/gin-gonic/gin"
)

type IdentityStatus interface {
	DeviceID() string
	Last() identity.Status
}

type HubStatus interface {
	Connected() bool
	HostName() string
	MethodNames() []string
	Invoke(name string, payload []byte) (int, []byte)
}

type StatusHandler struct {
	identity IdentityStatus
	hub      HubStatus
	version  string
}

func NewStatusHandler(identity IdentityStatus, hub HubStatus, version string) *StatusHandler {
	return &StatusHandler{
		identity: identity,
		hub:      hub,
		version:  version,
	}
}

func (h *StatusHandler) Status(ctx *gin.Context) {
	resp := dto.StatusResponse{
		Version: h.version,
		Methods: []string{},
	}

	if h.identity != nil {
		last := h.identity.Last()
		resp.DeviceID = h.identity.DeviceID()
		resp.HubHost = last.HostName
		resp.Provisioning = dto.ProvisioningStatus{
			Stage:       string(last.Stage),
			OperationID: last.OperationID,
			Error:       last.Error,
			At:          last.At,
		}
	}

	if h.hub != nil {
		resp.Connected = h.hub.Connected()
		if host := h.hub.HostName(); host != "" {
			resp.HubHost = host
		}
		resp.Methods = append(resp.Methods, h.hub.MethodNames()...)
	}

	ctx.JSON(http.StatusOK, resp)
}
