package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/game/board"
	"go.uber.org/zap"
)

const keepAlive = 30 * time.Second

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	logger    *zap.Logger
	keepAlive time.Duration
}

// NewHandler creates a new SSE Handler. Routes must be guarded by mw.Auth, which
// accepts the token as a query parameter.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, logger: logger, keepAlive: keepAlive}
}

type changedEvent struct {
	BoardID string `json:"board_id"`
}

// ServeSSE handles GET /sse?token=<jwt>[&board_id=<id>].
// It streams a board_changed event whenever a board's slots change on any node.
// With board_id set only that board's changes are sent.
func (h *Handler) ServeSSE(c *gin.Context) {
	only := c.Query("board_id")

	msgCh, unsub, err := h.pubsub.Subscribe(c.Request.Context(), board.ChannelChanged)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if only != "" && msg.Payload != only {
				continue
			}
			data, _ := json.Marshal(changedEvent{BoardID: msg.Payload})
			fmt.Fprintf(c.Writer, "event: board_changed\ndata: %s\n\n", data)
			c.Writer.Flush()

		case <-ticker.C:
			// keeps proxies from timing the stream out
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
