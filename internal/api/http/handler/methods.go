package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-device/internal/api/http/dto"
	"github.com/gin-gonic/gin"
)

const maxMethodPayload = 8 << 10

type MethodHandler struct {
	hub HubStatus
}

func NewMethodHandler(hub HubStatus) *MethodHandler {
	return &MethodHandler{hub: hub}
}

func (h *MethodHandler) List(ctx *gin.Context) {
	names := h.hub.MethodNames()
	ctx.JSON(http.StatusOK, dto.MethodsResponse{
		Methods: names,
		Count:   len(names),
	})
}

// Invoke runs a registered direct method locally, the same way the hub
// would, and relays its status and JSON payload.
func (h *MethodHandler) Invoke(ctx *gin.Context) {
	name := ctx.Param("name")

	var payload []byte
	if ctx.Request.Body != nil {
		var err error
		payload, err = io.ReadAll(io.LimitReader(ctx.Request.Body, maxMethodPayload+1))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
			return
		}
		if len(payload) > maxMethodPayload {
			ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
	}

	slog.Info("Local direct method invocation", "method", name, "client_ip", ctx.ClientIP())
	status, response := h.hub.Invoke(name, payload)
	ctx.Data(status, "application/json; charset=utf-8", response)
}
