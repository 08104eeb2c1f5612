package tests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"

	"github.com/EternisAI/silo-tunnel/internal/api/http/middleware"
	"github.com/gin-gonic/gin"
)

type Client struct {
	Router *gin.Engine
	APIKey string
}

func (c Client) doJSON(method, path string, body any) *httptest.ResponseRecorder {
	return c.doJSONWithKey(method, path, body, c.APIKey)
}

func (c Client) doJSONWithKey(method, path string, body any, key string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(middleware.APIKeyHeader, key)
	}
	rr := httptest.NewRecorder()
	c.Router.ServeHTTP(rr, req)
	return rr
}
