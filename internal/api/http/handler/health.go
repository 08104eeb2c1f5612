package handler

import (
	"net/http"

	"github.com/EternisAI/silo-tunnel/internal/api/http/dto"
	"github.com/gin-gonic/gin"
)

type ActiveSource interface {
	Active() (string, bool)
}

type HealthHandler struct {
	tunnels ActiveSource
}

func NewHealthHandler(tunnels ActiveSource) *HealthHandler {
	return &HealthHandler{tunnels: tunnels}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	resp := dto.HealthResponse{Status: "ok"}
	if h.tunnels != nil {
		if name, ok := h.tunnels.Active(); ok {
			resp.ActiveTunnel = &name
		}
	}
	ctx.JSON(http.StatusOK, resp)
}
