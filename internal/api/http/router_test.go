package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EternisAI/silo-tunnel/internal/api/http/middleware"
	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/EternisAI/silo-tunnel/internal/tunnel"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type idleController struct{}

func (idleController) Active() (string, bool) { return "", false }
func (idleController) Start(context.Context, string) error { return nil }
func (idleController) Stop(context.Context) error { return tunnel.ErrNoActiveTunnel }
func (idleController) Status(context.Context, string) (bool, error) { return false, nil }
func (idleController) QuickConnect(context.Context) (*metadata.Tunnel, error) {
	return nil, tunnel.ErrNoConfigurationsFound
}
func (idleController) List(context.Context) ([]metadata.Tunnel, error) { return nil, nil }

func TestSetupRoute(t *testing.T) {
	engine := gin.New()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("silo_tunnel_active 0\n"))
	})
	SetupRoute(engine, Config{AdminAPIKey: "key"}, &Services{Tunnels: idleController{}, Metrics: metrics})

	get := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, nil)
		if key != "" {
			req.Header.Set(middleware.APIKeyHeader, key)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, get("/health", "").Code)
	assert.Contains(t, get("/metrics", "").Body.String(), "silo_tunnel_active")

	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tunnels", "").Code)
	w := get("/api/v1/tunnels", "key")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tunnels":[],"count":0}`, w.Body.String())

	// setup and events were not wired
	assert.Equal(t, http.StatusNotFound, get("/api/v1/events", "key").Code)
}
