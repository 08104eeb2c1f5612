package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/EternisAI/silo-tunnel/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, c Client) {
	rr := c.doJSONWithKey("GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","active_tunnel":null}`, rr.Body.String())
}

func TestAuthRequired(t *testing.T, c Client) {
	rr := c.doJSONWithKey("GET", "/api/v1/tunnels", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = c.doJSONWithKey("GET", "/api/v1/tunnels", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSetup(t *testing.T, c Client, serverIP, keyPath string) {
	t.Run("missing key file", func(t *testing.T) {
		rr := c.doJSON("POST", "/api/v1/servers/setup", dto.SetupRequest{ServerIP: serverIP, KeyFile: keyPath + ".missing"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("success", func(t *testing.T) {
		rr := c.doJSON("POST", "/api/v1/servers/setup", dto.SetupRequest{ServerIP: serverIP, KeyFile: keyPath, Name: "lab"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var resp dto.SetupResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.True(t, resp.Hardened)
		assert.Equal(t, "lab", resp.Tunnel.Name)
		assert.Equal(t, "10.8.0.2", resp.Tunnel.ClientIP)
		assert.Equal(t, 51820, resp.Tunnel.ListenPort)
	})

	t.Run("listed once after rerun", func(t *testing.T) {
		rr := c.doJSON("POST", "/api/v1/servers/setup", dto.SetupRequest{ServerIP: serverIP, KeyFile: keyPath, Name: "lab-2"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = c.doJSON("GET", "/api/v1/tunnels", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var list dto.TunnelsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
		require.Equal(t, 1, list.Count)
		assert.Equal(t, "lab-2", list.Tunnels[0].Name)
		assert.False(t, list.Tunnels[0].Active)
	})
}

func TestLifecycle(t *testing.T, c Client, serverIP string) {
	rr := c.doJSON("POST", "/api/v1/tunnels/stop", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = c.doJSON("POST", "/api/v1/tunnels/"+serverIP+"/start", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"name":"`+serverIP+`","is_active":true}`, rr.Body.String())

	rr = c.doJSON("POST", "/api/v1/tunnels/"+serverIP+"/start", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = c.doJSON("GET", "/api/v1/tunnels/"+serverIP+"/status", nil)
	assert.JSONEq(t, `{"name":"`+serverIP+`","is_active":true}`, rr.Body.String())

	rr = c.doJSON("GET", "/api/v1/tunnels", nil)
	var list dto.TunnelsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Tunnels, 1)
	assert.True(t, list.Tunnels[0].Active)

	rr = c.doJSON("POST", "/api/v1/tunnels/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"name":null,"is_active":false}`, rr.Body.String())

	rr = c.doJSON("GET", "/api/v1/tunnels/"+serverIP+"/status", nil)
	assert.JSONEq(t, `{"name":"`+serverIP+`","is_active":false}`, rr.Body.String())

	rr = c.doJSON("POST", "/api/v1/tunnels/198.51.100.99/start", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestQuickConnect(t *testing.T, c Client, serverIP string) {
	rr := c.doJSON("POST", "/api/v1/tunnels/quick-connect", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"config_name":"lab-2","success":true}`, rr.Body.String())

	rr = c.doJSON("GET", "/api/v1/tunnels/active", nil)
	assert.JSONEq(t, `{"name":"`+serverIP+`","is_active":true}`, rr.Body.String())

	rr = c.doJSON("POST", "/api/v1/tunnels/stop", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
