package handler

import (
	"io"

	"github.com/EternisAI/silo-tunnel/internal/api/http/dto"
	"github.com/EternisAI/silo-tunnel/internal/tunnel"
	"github.com/gin-gonic/gin"
)

// StatusSource is satisfied by *notify.Broadcaster.
type StatusSource interface {
	Subscribe() (<-chan tunnel.Status, func())
}

type EventsHandler struct {
	source StatusSource
}

func NewEventsHandler(source StatusSource) *EventsHandler {
	return &EventsHandler{source: source}
}

// Stream sends each tunnel status as an SSE "status" event until the client
// goes away or the source is closed.
func (h *EventsHandler) Stream(ctx *gin.Context) {
	ch, cancel := h.source.Subscribe()
	defer cancel()

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	done := ctx.Request.Context().Done()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case s, ok := <-ch:
			if !ok {
				return false
			}
			ctx.SSEvent("status", dto.StatusResponse{Name: s.Name, IsActive: s.Active})
			return true
		}
	})
}
