package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid core.SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.handleDisconnect(ctx, sid, c)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, sid, c, data)
		}
	}
}

// dispatch decodes the kind tag and routes. A malformed or failing message is
// logged and dropped; the connection stays open.
func (ctl *Controller) dispatch(ctx context.Context, sid core.SessionID, c core.SignalConnection, data []byte) {
	var env struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		return
	}
	ctl.Metrics.Message(env.Kind)

	var err error
	switch env.Kind {
	case core.KindJoinRoom:
		err = ctl.handleJoinRoom(ctx, sid, c, data)
	case core.KindCheckRoom:
		err = ctl.handleCheckRoom(c, data)
	case core.KindListRoomsByPrefix:
		err = ctl.handleGroupRooms(c, data)
	case core.KindRequestVideo:
		err = ctl.handleRequestVideo(ctx, sid, c, data)
	case core.KindLeaveRoom:
		err = ctl.handleLeaveRoom(ctx, sid, c)
	case core.KindCandidate:
		err = ctl.handleCandidate(ctx, sid, c, data)
	default:
		log.Warn().Str("module", "signal").Str("kind", env.Kind).Msg("unknown message kind")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("kind", env.Kind).Msg("handler failed")
	}
}
