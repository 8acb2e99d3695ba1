package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/core"
	"github.com/dkeye/GroupCall/internal/domain"
)

var ErrDuplicateName = errors.New("display name already taken in room")

// Room is a named set of sessions sharing one media context. It owns the
// join/leave protocol and broadcast fan-out; the participant cap is enforced
// by the dispatcher, not here.
type Room struct {
	name     domain.RoomName
	mediaCtx core.MediaContext
	metrics  *Metrics

	mu           sync.RWMutex
	participants map[string]*UserSession

	release sync.Once
}

func NewRoom(name domain.RoomName, mediaCtx core.MediaContext, metrics *Metrics) *Room {
	log.Info().Str("module", "app.room").Str("room", string(name)).Msg("room created")
	return &Room{
		name:         name,
		mediaCtx:     mediaCtx,
		metrics:      metrics,
		participants: make(map[string]*UserSession),
	}
}

func (r *Room) Name() domain.RoomName { return r.name }

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Participants returns a point-in-time snapshot.
func (r *Room) Participants() []*UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UserSession, 0, len(r.participants))
	for _, s := range r.participants {
		out = append(out, s)
	}
	return out
}

func (r *Room) Participant(name string) (*UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.participants[name]
	return s, ok
}

// Join adds a participant, notifies everyone already present and sends the
// newcomer the current presenter snapshot. Notification delivery is
// best-effort per recipient.
func (r *Room) Join(meta *domain.Participant, conn core.SignalConnection) (*UserSession, error) {
	session := NewUserSession(meta, r.name, conn, r.mediaCtx, r.metrics)

	r.mu.Lock()
	if _, exists := r.participants[meta.Name]; exists {
		r.mu.Unlock()
		return nil, ErrDuplicateName
	}
	r.participants[meta.Name] = session
	r.mu.Unlock()
	r.metrics.ParticipantJoined()
	log.Info().Str("module", "app.room").Str("room", string(r.name)).Str("participant", meta.Name).Msg("participant joined")

	joined := core.ParticipantJoinedMsg{
		Kind:      core.KindParticipantJoined,
		Name:      meta.Name,
		SlotID:    meta.SlotID,
		Presenter: meta.Presenter,
	}
	r.broadcast(joined, func(s *UserSession) bool { return s != session })

	if err := r.sendExistingParticipants(session); err != nil {
		log.Warn().Err(err).
			Str("module", "app.room").
			Str("room", string(r.name)).
			Str("participant", meta.Name).
			Msg("existing-participants not delivered")
	}
	return session, nil
}

// sendExistingParticipants lists every other current presenter to the newcomer.
func (r *Room) sendExistingParticipants(session *UserSession) error {
	refs := make([]core.ParticipantRef, 0)
	for _, p := range r.Participants() {
		if p == session || !p.Presenter() {
			continue
		}
		refs = append(refs, core.ParticipantRef{Name: p.Name(), SlotID: p.SlotID()})
	}
	msg := core.ExistingParticipantsMsg{
		Kind:      core.KindExistingParticipants,
		SlotID:    session.SlotID(),
		Presenter: session.Presenter(),
		Data:      refs,
	}
	return session.SendMessage(msg)
}

// Leave removes the session and notifies the others. Every remaining
// participant first tears down its media link from the leaver, so stale
// endpoints are gone before the client sees the departure.
func (r *Room) Leave(ctx context.Context, session *UserSession) {
	name := session.Name()
	r.mu.Lock()
	_, present := r.participants[name]
	delete(r.participants, name)
	r.mu.Unlock()
	if !present {
		return
	}
	r.metrics.ParticipantLeft()
	log.Info().Str("module", "app.room").Str("room", string(r.name)).Str("participant", name).Msg("participant left")

	left := core.ParticipantLeftMsg{Kind: core.KindParticipantLeft, Name: name}
	for _, p := range r.Participants() {
		p.CancelVideoFrom(ctx, name)
		if err := p.SendMessage(left); err != nil {
			r.metrics.DeliveryFailure()
			log.Warn().Err(err).
				Str("module", "app.room").
				Str("room", string(r.name)).
				Str("participant", p.Name()).
				Msg("participant-left not delivered")
		}
	}
}

// SendRoomCreated tells a not-yet-joined connection that its join is about to
// create this room.
func (r *Room) SendRoomCreated(conn core.SignalConnection) error {
	return sendTo(conn, core.RoomCreatedMsg{Kind: core.KindRoomCreated})
}

// SendRoomCheck lists current presenter names to a probing connection.
func (r *Room) SendRoomCheck(conn core.SignalConnection) error {
	names := make([]string, 0)
	for _, p := range r.Participants() {
		if p.Presenter() {
			names = append(names, p.Name())
		}
	}
	return sendTo(conn, core.RoomCheckMsg{Kind: core.KindRoomCheck, Data: names})
}

// broadcast fans msg out to the snapshot of participants matched by pred.
// One recipient's failure never blocks the rest; failures are logged and
// counted.
func (r *Room) broadcast(msg any, pred func(*UserSession) bool) {
	for _, p := range r.Participants() {
		if pred != nil && !pred(p) {
			continue
		}
		if err := p.SendMessage(msg); err != nil {
			r.metrics.DeliveryFailure()
			log.Warn().Err(err).
				Str("module", "app.room").
				Str("room", string(r.name)).
				Str("participant", p.Name()).
				Msg("broadcast delivery failed")
		}
	}
}

// Close tears the room down: every session's endpoints and transport are
// closed best-effort, then the media context is released in the background.
// The release happens at most once however many times Close is called.
func (r *Room) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*UserSession, 0, len(r.participants))
	for _, s := range r.participants {
		sessions = append(sessions, s)
	}
	r.participants = make(map[string]*UserSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
		s.Conn().Close()
		r.metrics.ParticipantLeft()
	}

	r.release.Do(func() {
		go func() {
			relCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := r.mediaCtx.Release(relCtx); err != nil {
				r.metrics.MediaFailure()
				log.Warn().Err(err).Str("module", "app.room").Str("room", string(r.name)).Msg("media context release failed")
				return
			}
			log.Debug().Str("module", "app.room").Str("room", string(r.name)).Msg("media context released")
		}()
	})
	log.Info().Str("module", "app.room").Str("room", string(r.name)).Msg("room closed")
}

func sendTo(conn core.SignalConnection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.TrySend(b)
}
