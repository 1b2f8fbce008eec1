package sse

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/cache"
	"github.com/mizutama/loreforge/server/importer"
	"github.com/mizutama/loreforge/server/replication"
	"go.uber.org/zap"
)

// Handler streams local application events (import progress and sync status
// changes) as server-sent events. The endpoint serves the local UI, so there
// is no token check here.
type Handler struct {
	pubsub cache.PubSub
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pubsub: pubsub, logger: logger}
}

// ServeSSE handles GET /events.
func (h *Handler) ServeSSE(c *gin.Context) {
	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	importCh, unsubImport, err := h.pubsub.Subscribe(subCtx, importer.ProgressChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("channel", importer.ProgressChannel), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsubImport()

	syncCh, unsubSync, err := h.pubsub.Subscribe(subCtx, replication.EventsChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("channel", replication.EventsChannel), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsubSync()

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-importCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: import\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case msg, ok := <-syncCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: sync\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
