package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 1 << 12 // 4 KB, clients only send control frames
	defaultInterval = time.Second
	maxInterval     = 10 * time.Second

	wsTypeStatus = "status"
)

// wsEnvelope is one frame of the status stream.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Bench dashboards are served from other hosts on the lab network.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// @Summary      Live run status stream
// @Description  Pushes {"type":"status","data":RunStatus} every interval (?interval=2s or ?interval_ms=2000, at most 10s).
// @Tags         runs
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	interval := h.parseInterval(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	closed := make(chan struct{})
	go h.drainClient(conn, closed)

	if err := h.streamStatus(c.Request.Context(), conn, interval, closed); err != nil && h.log != nil {
		h.log.Infow("ws_stream_ended", "err", err)
	}
}

// streamStatus writes the status immediately and then on every interval,
// pinging the client in between, until the client goes away.
func (h *Handler) streamStatus(ctx context.Context, conn *websocket.Conn, interval time.Duration, closed <-chan struct{}) error {
	status := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer status.Stop()
	defer ping.Stop()

	if err := h.sendStatus(ctx, conn); err != nil {
		return err
	}
	for {
		select {
		case <-closed:
			return nil
		case <-ctx.Done():
			return nil
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-status.C:
			if err := h.sendStatus(ctx, conn); err != nil {
				return err
			}
		}
	}
}

// parseInterval reads ?interval=2s, then ?interval_ms=2000; anything out of
// (0, 10s] falls back to one second.
func (h *Handler) parseInterval(c *gin.Context) time.Duration {
	valid := func(d time.Duration) bool { return d > 0 && d <= maxInterval }

	if s := c.Query("interval"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && valid(d) {
			return d
		}
	}
	if s := c.Query("interval_ms"); s != "" {
		if ms, err := strconv.Atoi(s); err == nil && valid(time.Duration(ms)*time.Millisecond) {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultInterval
}

// drainClient reads until the connection fails so pongs and close frames are processed.
func (h *Handler) drainClient(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Debugw("ws_read_closed", "err", err)
			}
			return
		}
	}
}

// sendStatus writes the current run status. A lookup failure is sent to the
// client as an error frame and keeps the stream open.
func (h *Handler) sendStatus(ctx context.Context, conn *websocket.Conn) error {
	env := wsEnvelope{Type: wsTypeStatus}
	st, err := h.services.Monitoring.GetStatus(ctx)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_get_status_failed", "err", err)
		}
		env.Error = errGetStatus
	} else {
		env.Data = st
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
