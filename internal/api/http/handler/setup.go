package handler

import (
	"context"
	"net/http"

	"github.com/EternisAI/silo-tunnel/internal/api/http/dto"
	"github.com/EternisAI/silo-tunnel/internal/setup"
	"github.com/gin-gonic/gin"
)

type SetupRunner interface {
	Setup(ctx context.Context, req setup.Request) (*setup.Result, error)
}

type SetupHandler struct {
	setup SetupRunner
}

func NewSetupHandler(runner SetupRunner) *SetupHandler {
	return &SetupHandler{setup: runner}
}

func (h *SetupHandler) Setup(ctx *gin.Context) {
	var req dto.SetupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.setup.Setup(ctx.Request.Context(), setup.Request{
		ServerIP: req.ServerIP,
		User:     req.User,
		KeyFile:  req.KeyFile,
		Name:     req.Name,
		Port:     req.Port,
	})
	if err != nil {
		respondError(ctx, "setup", err)
		return
	}

	info := toTunnelInfo(res.Tunnel)
	ctx.JSON(http.StatusCreated, dto.SetupResponse{
		WorkflowID: res.WorkflowID,
		Tunnel:     info,
		Hardened:   res.Hardened,
	})
}
