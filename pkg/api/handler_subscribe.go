package api

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/specsmith/specsmith/pkg/flow"
	"github.com/specsmith/specsmith/pkg/models"
)

const wsWriteTimeout = 10 * time.Second

// SubscribeSession handles GET /session/:id/events. With a WebSocket upgrade
// the stream is delivered over the socket; otherwise it falls back to SSE.
// ?from_sequence resumes from a prior cursor; replay beyond the retention
// window is rejected before any event is sent.
func (s *Server) SubscribeSession(c *gin.Context) {
	fromSeq := int64(0)
	if v := c.Query("from_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			abortWithError(c, flow.E(flow.KindInvalidInput, "invalid from_sequence %q", v))
			return
		}
		fromSeq = n
	}

	sub, err := s.svc.Subscribe(c.Request.Context(), c.Param("id"), fromSeq)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer sub.Close()

	if c.GetHeader("Upgrade") == "websocket" {
		s.streamWebSocket(c, sub.Replay, sub.Ch)
		return
	}
	s.streamSSE(c, sub.Replay, sub.Ch)
}

func (s *Server) streamWebSocket(c *gin.Context, replay []*models.Event, live <-chan *models.Event) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Drain client frames to detect disconnects; the protocol is one-way.
	go func() {
		defer cancel()
		for {
			if _, _, rerr := conn.Read(ctx); rerr != nil {
				return
			}
		}
	}()

	writeEvent := func(ev *models.Event) bool {
		data, merr := json.Marshal(ev)
		if merr != nil {
			return false
		}
		wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer wcancel()
		return conn.Write(wctx, websocket.MessageText, data) == nil
	}

	for _, ev := range replay {
		if !writeEvent(ev) {
			return
		}
	}
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			if !writeEvent(ev) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) streamSSE(c *gin.Context, replay []*models.Event, live <-chan *models.Event) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for _, ev := range replay {
		c.SSEvent(string(ev.Kind), ev)
	}
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-live:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
