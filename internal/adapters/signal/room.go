package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/app"
	"github.com/dkeye/GroupCall/internal/core"
	"github.com/dkeye/GroupCall/internal/domain"
)

func (ctl *Controller) handleJoinRoom(ctx context.Context, sid core.SessionID, c core.SignalConnection, data []byte) error {
	type joinPayload struct {
		Kind      string `json:"kind"`
		Room      string `json:"room"`
		Name      string `json:"name"`
		SlotID    string `json:"slotId"`
		Presenter bool   `json:"presenter"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return fmt.Errorf("decode join-room: %w", err)
	}

	if _, ok := ctl.Registry.ByID(sid); ok {
		ctl.sendError(c, "already_joined")
		return nil
	}
	if !ctl.joins.Allow(sid) {
		ctl.Metrics.JoinRejected("rate_limited")
		ctl.sendError(c, "too_many_join_attempts")
		return nil
	}

	roomName, err := domain.ParseRoomName(p.Room)
	if err != nil {
		ctl.sendError(c, "invalid_room_name")
		return err
	}
	meta, err := domain.NewParticipant(p.Name, p.SlotID, p.Presenter)
	if err != nil {
		ctl.sendError(c, "invalid_name")
		return err
	}

	mctx, cancel := ctl.mediaContext(ctx)
	defer cancel()
	room, created, err := ctl.Rooms.GetOrCreate(mctx, roomName)
	if err != nil {
		ctl.sendError(c, "room_unavailable")
		return err
	}

	// Capacity is a dispatcher-layer gate, the room itself does not enforce it.
	if room.ParticipantCount() >= ctl.Cfg.MaxParticipants {
		ctl.Metrics.JoinRejected("capacity")
		ctl.sendError(c, "room_full")
		return nil
	}

	if created && p.Presenter {
		if err := room.SendRoomCreated(c); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", p.Room).Msg("room-created not delivered")
		}
	}

	sess, err := room.Join(meta, c)
	if errors.Is(err, app.ErrDuplicateName) {
		ctl.Metrics.JoinRejected("duplicate_name")
		ctl.sendError(c, "name_taken")
		return nil
	}
	if err != nil {
		ctl.sendError(c, "join_failed")
		return err
	}
	ctl.Registry.Register(sid, sess)
	return nil
}

func (ctl *Controller) handleCheckRoom(c core.SignalConnection, data []byte) error {
	type checkPayload struct {
		Kind string `json:"kind"`
		Room string `json:"room"`
	}
	var p checkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode check-room: %w", err)
	}
	if room, ok := ctl.Rooms.Get(domain.RoomName(p.Room)); ok {
		return room.SendRoomCheck(c)
	}
	ctl.sendJSON(c, core.RoomCheckMsg{Kind: core.KindRoomCheck, Data: []string{}})
	return nil
}

func (ctl *Controller) handleGroupRooms(c core.SignalConnection, data []byte) error {
	type prefixPayload struct {
		Kind   string `json:"kind"`
		Prefix string `json:"prefix"`
	}
	var p prefixPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode list-rooms-by-prefix: %w", err)
	}
	rooms := ctl.Rooms.ListByPrefix(p.Prefix)
	names := make([]string, 0, len(rooms))
	for _, room := range rooms {
		names = append(names, string(room.Name()))
	}
	ctl.sendJSON(c, core.GroupRoomNamesMsg{Kind: core.KindGroupRoomNames, Data: names})
	return nil
}

func (ctl *Controller) handleLeaveRoom(ctx context.Context, sid core.SessionID, c core.SignalConnection) error {
	sess := ctl.Registry.Remove(sid)
	if sess == nil {
		ctl.sendError(c, "not_joined")
		return nil
	}
	ctl.leave(ctx, sess)
	return nil
}

// handleDisconnect runs the leave protocol when the transport closes without
// an explicit leave-room.
func (ctl *Controller) handleDisconnect(ctx context.Context, sid core.SessionID, c core.SignalConnection) {
	defer c.Close()
	sess := ctl.Registry.Remove(sid)
	if sess == nil {
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("participant", sess.Name()).Msg("connection closed, leaving room")
	ctl.leave(ctx, sess)
}

func (ctl *Controller) leave(ctx context.Context, sess *app.UserSession) {
	room, ok := ctl.Rooms.Get(sess.RoomName())
	if !ok {
		sess.Close(ctx)
		return
	}
	room.Leave(ctx, sess)
	sess.Close(ctx)
	if ctl.Cfg.ReapEmptyRooms && room.ParticipantCount() == 0 {
		ctl.Rooms.Remove(ctx, room)
	}
}

// RunSweep periodically closes sessions whose transport is gone but whose
// close notification never fired. Disabled when the interval is zero.
func (ctl *Controller) RunSweep(ctx context.Context) {
	if ctl.Cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(ctl.Cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range ctl.Registry.Entries() {
				if !e.Session.Conn().IsOpen() {
					log.Warn().Str("module", "signal").Str("sid", string(e.SID)).Str("participant", e.Session.Name()).Msg("sweeping dead session")
					ctl.handleDisconnect(ctx, e.SID, e.Session.Conn())
				}
			}
		}
	}
}
