package handler

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/EternisAI/silo-tunnel/internal/api/http/dto"
	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/gin-gonic/gin"
)

// TunnelController is satisfied by *tunnel.Controller.
type TunnelController interface {
	ActiveSource
	Start(ctx context.Context, identity string) error
	Stop(ctx context.Context) error
	Status(ctx context.Context, identity string) (bool, error)
	QuickConnect(ctx context.Context) (*metadata.Tunnel, error)
	List(ctx context.Context) ([]metadata.Tunnel, error)
}

type TunnelHandler struct {
	tunnels TunnelController
}

func NewTunnelHandler(tunnels TunnelController) *TunnelHandler {
	return &TunnelHandler{tunnels: tunnels}
}

func toTunnelInfo(t metadata.Tunnel) dto.TunnelInfo {
	return dto.TunnelInfo{
		Name:            t.Name,
		PublicIP:        t.PublicIP,
		ClientIP:        t.ClientIP,
		ServerPublicKey: t.ServerPublicKey,
		ListenPort:      t.ListenPort,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (h *TunnelHandler) List(ctx *gin.Context) {
	list, err := h.tunnels.List(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "list", err)
		return
	}

	active, _ := h.tunnels.Active()
	infos := make([]dto.TunnelInfo, len(list))
	for i, t := range list {
		infos[i] = toTunnelInfo(t)
		infos[i].Active = t.PublicIP == active
	}

	ctx.JSON(http.StatusOK, dto.TunnelsResponse{
		Tunnels: infos,
		Count:   len(infos),
	})
}

func (h *TunnelHandler) Active(ctx *gin.Context) {
	resp := dto.StatusResponse{}
	if name, ok := h.tunnels.Active(); ok {
		resp.Name = &name
		resp.IsActive = true
	}
	ctx.JSON(http.StatusOK, resp)
}

func identityParam(ctx *gin.Context) (string, bool) {
	ip := ctx.Param("ip")
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "ip must be an IPv4 address"})
		return "", false
	}
	return addr.String(), true
}

func (h *TunnelHandler) Status(ctx *gin.Context) {
	ip, ok := identityParam(ctx)
	if !ok {
		return
	}
	running, err := h.tunnels.Status(ctx.Request.Context(), ip)
	if err != nil {
		respondError(ctx, "status", err)
		return
	}
	ctx.JSON(http.StatusOK, dto.StatusResponse{Name: &ip, IsActive: running})
}

func (h *TunnelHandler) Start(ctx *gin.Context) {
	ip, ok := identityParam(ctx)
	if !ok {
		return
	}
	if err := h.tunnels.Start(ctx.Request.Context(), ip); err != nil {
		respondError(ctx, "start", err)
		return
	}
	ctx.JSON(http.StatusOK, dto.StatusResponse{Name: &ip, IsActive: true})
}

func (h *TunnelHandler) Stop(ctx *gin.Context) {
	if err := h.tunnels.Stop(ctx.Request.Context()); err != nil {
		respondError(ctx, "stop", err)
		return
	}
	ctx.JSON(http.StatusOK, dto.StatusResponse{})
}

func (h *TunnelHandler) QuickConnect(ctx *gin.Context) {
	t, err := h.tunnels.QuickConnect(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "quick-connect", err)
		return
	}
	ctx.JSON(http.StatusOK, dto.QuickConnectResponse{ConfigName: t.Name, Success: true})
}
