package server

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	heartbeatInterval      = 25 * time.Second
	websocketWriteTimeout  = 10 * time.Second
)

// newWebsocketUpgrader accepts upgrades from the configured origins. With no
// origins configured only same-origin browsers and non-browser clients connect.
func newWebsocketUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowed) == 0 {
				return sameOrigin(origin, r.Host)
			}
			_, ok := allowed[strings.TrimRight(origin, "/")]
			return ok
		},
	}
}

func sameOrigin(origin, host string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, host)
}

// handleProjectStream serves project events as server-sent events.
func (h *httpHandler) handleProjectStream(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	project, err := h.quotes.GetProject(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	events, cleanup := h.realtime.Subscribe(c.Request.Context(), project.ID)
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
}

// handleProjectEvents upgrades to a websocket and writes project events as JSON frames.
func (h *httpHandler) handleProjectEvents(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	project, err := h.quotes.GetProject(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events, cleanup := h.realtime.Subscribe(ctx, project.ID)
	defer cleanup()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Error(err), zap.String("project_id", project.ID))
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Info("websocket write failed", zap.Error(err), zap.String("project_id", project.ID))
				return
			}
		case <-heartbeat.C:
			deadline := time.Now().Add(websocketWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
