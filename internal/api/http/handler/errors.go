package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/EternisAI/silo-tunnel/internal/provisioner"
	"github.com/EternisAI/silo-tunnel/internal/secrets"
	"github.com/EternisAI/silo-tunnel/internal/setup"
	"github.com/EternisAI/silo-tunnel/internal/sshclient"
	"github.com/EternisAI/silo-tunnel/internal/tunnel"
	"github.com/gin-gonic/gin"
)

var statusByError = []struct {
	err    error
	status int
}{
	{setup.ErrInvalidRequest, http.StatusBadRequest},
	{sshclient.ErrKeyFileNotFound, http.StatusBadRequest},
	{sshclient.ErrKeyFileIsDirectory, http.StatusBadRequest},
	{sshclient.ErrKeyFileNoReadPermission, http.StatusBadRequest},
	{sshclient.ErrInvalidKey, http.StatusBadRequest},
	{metadata.ErrNotFound, http.StatusNotFound},
	{tunnel.ErrNoConfigurationsFound, http.StatusNotFound},
	{tunnel.ErrNoActiveTunnel, http.StatusConflict},
	{tunnel.ErrTunnelActive, http.StatusConflict},
	{secrets.ErrCredentialUnavailable, http.StatusFailedDependency},
	{sshclient.ErrHandshakeFailed, http.StatusBadGateway},
	{sshclient.ErrAuthFailed, http.StatusBadGateway},
	{provisioner.ErrProvisioningFailed, http.StatusBadGateway},
	{tunnel.ErrExternalToolFailed, http.StatusBadGateway},
	{setup.ErrMetadataPersist, http.StatusInternalServerError},
}

func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes the error text; every error here is already free of
// secret material.
func respondError(ctx *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "op", op, "error", err)
	} else {
		slog.Warn("Request rejected", "op", op, "status", status, "error", err)
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}
