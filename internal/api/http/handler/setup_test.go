package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EternisAI/silo-tunnel/internal/api/http/dto"
	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/EternisAI/silo-tunnel/internal/notify"
	"github.com/EternisAI/silo-tunnel/internal/setup"
	"github.com/EternisAI/silo-tunnel/internal/sshclient"
	"github.com/EternisAI/silo-tunnel/internal/tunnel"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSetupRunner is a mock implementation of SetupRunner
type MockSetupRunner struct {
	mock.Mock
}

func (m *MockSetupRunner) Setup(ctx context.Context, req setup.Request) (*setup.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*setup.Result)
	return res, args.Error(1)
}

func labResult(req setup.Request) *setup.Result {
	return &setup.Result{
		WorkflowID: "5b1f7c1e-7ad4-4a39-9a57-a3c0c7d0f00d",
		Tunnel:     metadata.Tunnel{Name: req.Name, PublicIP: req.ServerIP, ClientIP: "10.8.0.2", ListenPort: 51820},
		Hardened:   true,
	}
}

func setupSetupRouter(s SetupRunner) *gin.Engine {
	h := NewSetupHandler(s)
	r := gin.New()
	r.POST("/api/v1/servers/setup", h.Setup)
	return r
}

func TestSetup(t *testing.T) {
	want := setup.Request{ServerIP: "203.0.113.10", KeyFile: "~/.ssh/id_ed25519", Name: "lab", User: "root"}
	s := new(MockSetupRunner)
	s.On("Setup", mock.Anything, want).Return(labResult(want), nil)
	r := setupSetupRouter(s)

	body, _ := json.Marshal(dto.SetupRequest{ServerIP: "203.0.113.10", KeyFile: "~/.ssh/id_ed25519", Name: "lab", User: "root"})
	w := do(r, "POST", "/api/v1/servers/setup", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.SetupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Hardened)
	assert.Equal(t, "lab", resp.Tunnel.Name)
	assert.Equal(t, "203.0.113.10", resp.Tunnel.PublicIP)
	assert.NotEmpty(t, resp.WorkflowID)

	s.AssertExpectations(t)
}

func TestSetupMissingFields(t *testing.T) {
	s := new(MockSetupRunner)
	r := setupSetupRouter(s)

	for _, body := range []string{`{}`, `{"server_ip":"203.0.113.10"}`, `{"server_ip":"203.0.113.10","key_file":"/k","port":70000}`, `not json`} {
		w := do(r, "POST", "/api/v1/servers/setup", []byte(body))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	s.AssertNotCalled(t, "Setup", mock.Anything, mock.Anything)
}

func TestSetupStageErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("connect: %w", &sshclient.KeyFileError{Path: "/k", Kind: sshclient.ErrInvalidKey}), http.StatusBadRequest},
		{fmt.Errorf("connect: %w", sshclient.ErrHandshakeFailed), http.StatusBadGateway},
		{fmt.Errorf("store metadata: %w", setup.ErrMetadataPersist), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := new(MockSetupRunner)
		s.On("Setup", mock.Anything, mock.AnythingOfType("setup.Request")).Return(nil, tc.err)
		r := setupSetupRouter(s)

		w := do(r, "POST", "/api/v1/servers/setup", []byte(`{"server_ip":"203.0.113.10","key_file":"/k"}`))
		assert.Equal(t, tc.want, w.Code)
		assert.Contains(t, w.Body.String(), strings.SplitN(tc.err.Error(), ":", 2)[0])
	}
}

func TestHealth(t *testing.T) {
	r := gin.New()
	r.GET("/health", NewHealthHandler(&fakeController{active: "203.0.113.10"}).Check)

	w := do(r, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","active_tunnel":"203.0.113.10"}`, w.Body.String())
}

func TestEventsStream(t *testing.T) {
	b := notify.NewBroadcaster()
	name := "203.0.113.10"
	b.Notify(tunnel.Status{Name: &name, Active: true})

	r := gin.New()
	r.GET("/api/v1/events", NewEventsHandler(b).Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event:status", lines[0])
	assert.JSONEq(t, `{"name":"203.0.113.10","is_active":true}`, strings.TrimPrefix(lines[1], "data:"))

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
