package handler

import (
	"net/http"

	"github.com/EternisAI/silo-device/internal/api/http/dto"
	"github.com/gin-gonic/gin"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"

	hubConnected    = "connected"
	hubDisconnected = "disconnected"
)

// HealthHandler answers liveness checks. The response is always 200; a lost
// hub connection is reported as degraded in the body.
type HealthHandler struct {
	hub HubStatus
}

func NewHealthHandler(hub HubStatus) *HealthHandler {
	return &HealthHandler{hub: hub}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	resp := dto.HealthResponse{Status: healthOK}
	if h.hub != nil {
		resp.Hub = hubConnected
		if !h.hub.Connected() {
			resp.Status = healthDegraded
			resp.Hub = hubDisconnected
		}
	}
	ctx.JSON(http.StatusOK, resp)
}
