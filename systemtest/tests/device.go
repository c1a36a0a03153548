package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EternisAI/silo-device/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := doRequest(router, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "disconnected", resp.Hub)
}

func TestStatus(t *testing.T, router *gin.Engine, deviceID, hubHost string) {
	rr := doRequest(router, "GET", "/status", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, deviceID, resp.DeviceID)
	assert.Equal(t, hubHost, resp.HubHost)
	assert.Equal(t, "ready", resp.Provisioning.Stage)
	assert.NotEmpty(t, resp.Provisioning.OperationID)
	assert.Empty(t, resp.Provisioning.Error)
	assert.False(t, resp.Connected)
	assert.NotContains(t, rr.Body.String(), "SharedAccessSignature")
}

func TestLocalMethods(t *testing.T, router *gin.Engine, apiKey string) {
	t.Run("list", func(t *testing.T) {
		rr := doRequest(router, "GET", "/api/v1/methods", nil, apiKey)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.MethodsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Contains(t, resp.Methods, "echo")
	})

	t.Run("invoke", func(t *testing.T) {
		rr := doRequest(router, "POST", "/api/v1/methods/echo", map[string]int{"n": 1}, apiKey)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"n":1}`, rr.Body.String())
	})

	t.Run("unknown method", func(t *testing.T) {
		rr := doRequest(router, "POST", "/api/v1/methods/nope", nil, apiKey)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		rr := doRequest(router, "POST", "/api/v1/methods/echo", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func doRequest(router *gin.Engine, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
