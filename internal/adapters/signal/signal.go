package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/app"
	"github.com/dkeye/GroupCall/internal/config"
	"github.com/dkeye/GroupCall/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Controller is the single entry point for signaling traffic: it owns the
// websocket lifecycle per participant and routes decoded messages to the
// room layer. Handler failures are logged here, never propagated to the
// connection.
type Controller struct {
	Cfg      *config.Config
	Rooms    *app.RoomManager
	Registry *app.Registry
	Metrics  *app.Metrics

	joins *JoinRateLimiter
}

func NewController(cfg *config.Config, rooms *app.RoomManager, registry *app.Registry, metrics *app.Metrics) *Controller {
	return &Controller{
		Cfg:      cfg,
		Rooms:    rooms,
		Registry: registry,
		Metrics:  metrics,
		joins:    NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow),
	}
}

// wsConn adapts one gorilla websocket to core.SignalConnection. All outbound
// frames pass through the send channel and a single writePump, so writers on
// different goroutines never interleave on the wire.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and starts the per-connection pumps.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

func (ctl *Controller) sendJSON(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		ctl.Metrics.DeliveryFailure()
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON delivery failed")
	}
}

func (ctl *Controller) sendError(conn core.SignalConnection, message string) {
	ctl.sendJSON(conn, core.ErrorMsg{Kind: core.KindError, Message: message})
}

func (ctl *Controller) mediaContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ctl.Cfg.MediaTimeout)
}
