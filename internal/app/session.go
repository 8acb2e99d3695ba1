package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/core"
	"github.com/dkeye/GroupCall/internal/domain"
)

// releaseTimeout bounds detached media-engine release calls.
const releaseTimeout = 10 * time.Second

var (
	ErrSessionClosed = errors.New("session closed")
	ErrUnknownSource = errors.New("unknown video source")
)

// Per-peer link states. A link is the viewer-side negotiation record towards
// one source; it is discarded from the link map on cancel, so a later request
// for the same source starts over with a fresh endpoint.
const (
	linkUnrequested = "unrequested"
	linkNegotiating = "negotiating"
	linkConnected   = "connected"
	linkClosed      = "closed"
)

func newLinkFSM() *fsm.FSM {
	return fsm.NewFSM(
		linkUnrequested,
		fsm.Events{
			{Name: "request", Src: []string{linkUnrequested, linkNegotiating, linkConnected}, Dst: linkNegotiating},
			{Name: "establish", Src: []string{linkNegotiating}, Dst: linkConnected},
			{Name: "cancel", Src: []string{linkUnrequested, linkNegotiating, linkConnected}, Dst: linkClosed},
		}, nil)
}

// peerLink holds the endpoint and candidate queue for one (viewer, source)
// pair. Its mutex serializes mutations for that pair; different pairs on the
// same session proceed concurrently.
type peerLink struct {
	mu       sync.Mutex
	state    *fsm.FSM
	endpoint core.MediaEndpoint
	pending  []core.Candidate
}

// UserSession is the per-participant state: identity, room membership, the
// transport connection, the participant's own published endpoint and one link
// per consumed peer stream.
type UserSession struct {
	meta     *domain.Participant
	roomName domain.RoomName
	conn     core.SignalConnection
	mediaCtx core.MediaContext
	metrics  *Metrics

	mu         sync.Mutex
	outgoing   core.MediaEndpoint
	pendingOwn []core.Candidate
	links      map[string]*peerLink
	closed     bool
}

func NewUserSession(
	meta *domain.Participant,
	roomName domain.RoomName,
	conn core.SignalConnection,
	mediaCtx core.MediaContext,
	metrics *Metrics,
) *UserSession {
	return &UserSession{
		meta:     meta,
		roomName: roomName,
		conn:     conn,
		mediaCtx: mediaCtx,
		metrics:  metrics,
		links:    make(map[string]*peerLink),
	}
}

func (s *UserSession) Name() string              { return s.meta.Name }
func (s *UserSession) SlotID() string            { return s.meta.SlotID }
func (s *UserSession) Presenter() bool           { return s.meta.Presenter }
func (s *UserSession) RoomName() domain.RoomName { return s.roomName }
func (s *UserSession) Conn() core.SignalConnection {
	return s.conn
}

// SendMessage marshals v and hands it to the transport. Send serialization is
// the transport adapter's job.
func (s *UserSession) SendMessage(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.conn.TrySend(b)
}

// link returns the record for peerName, creating it on first use.
func (s *UserSession) link(peerName string) (*peerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	l, ok := s.links[peerName]
	if !ok {
		l = &peerLink{state: newLinkFSM()}
		s.links[peerName] = l
	}
	return l, nil
}

// ensureOutgoing lazily creates the session's published endpoint and drains
// candidates that arrived for it before it existed.
func (s *UserSession) ensureOutgoing(ctx context.Context) (core.MediaEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.outgoing != nil {
		return s.outgoing, nil
	}
	ep, err := s.mediaCtx.CreateEndpoint(ctx)
	if err != nil {
		s.metrics.MediaFailure()
		return nil, fmt.Errorf("create outgoing endpoint: %w", err)
	}
	name := s.meta.Name
	ep.OnCandidate(func(cand core.Candidate) {
		msg := core.ICECandidateMsg{Kind: core.KindICECandidate, Name: name, Candidate: cand}
		if err := s.SendMessage(msg); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("participant", name).Msg("drop local candidate")
		}
	})
	for _, cand := range s.pendingOwn {
		if err := ep.ApplyCandidate(ctx, cand); err != nil {
			s.metrics.MediaFailure()
			log.Warn().Err(err).Str("module", "app.session").Str("participant", name).Msg("apply buffered own candidate")
		}
	}
	s.pendingOwn = nil
	s.outgoing = ep
	log.Debug().Str("module", "app.session").Str("participant", name).Msg("outgoing endpoint created")
	return ep, nil
}

func (s *UserSession) outgoingEndpoint() core.MediaEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outgoing
}

// ReceiveVideoFrom sets up (or resumes) the media link from source to this
// session: it creates the receiving endpoint on first request, attaches the
// source's published stream, answers the offer, then replays any candidates
// buffered for the source in arrival order.
func (s *UserSession) ReceiveVideoFrom(ctx context.Context, source *UserSession, sdpOffer string) error {
	if source == nil {
		return ErrUnknownSource
	}
	loopback := source == s

	l, err := s.link(source.Name())
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.endpoint == nil {
		ep, err := s.createReceivingEndpoint(ctx, source, loopback)
		if err != nil {
			return err
		}
		l.endpoint = ep
	}
	if err := l.state.Event(ctx, "request"); err != nil {
		return fmt.Errorf("link %s -> %s: %w", source.Name(), s.Name(), err)
	}

	answer, err := l.endpoint.GenerateAnswer(ctx, sdpOffer)
	if err != nil {
		// The pair stays NEGOTIATING; the client may retry with a new offer.
		s.metrics.MediaFailure()
		return fmt.Errorf("generate answer for %s: %w", source.Name(), err)
	}
	msg := core.VideoAnswerMsg{Kind: core.KindVideoAnswer, Name: source.Name(), SDPAnswer: answer}
	if err := s.SendMessage(msg); err != nil {
		return fmt.Errorf("deliver answer for %s: %w", source.Name(), err)
	}

	for _, cand := range l.pending {
		if err := l.endpoint.ApplyCandidate(ctx, cand); err != nil {
			s.metrics.MediaFailure()
			log.Warn().Err(err).
				Str("module", "app.session").
				Str("participant", s.Name()).
				Str("peer", source.Name()).
				Msg("apply buffered candidate")
		}
	}
	l.pending = nil

	if err := l.state.Event(ctx, "establish"); err != nil {
		return fmt.Errorf("link %s -> %s: %w", source.Name(), s.Name(), err)
	}
	log.Info().
		Str("module", "app.session").
		Str("participant", s.Name()).
		Str("peer", source.Name()).
		Msg("video link established")
	return nil
}

func (s *UserSession) createReceivingEndpoint(ctx context.Context, source *UserSession, loopback bool) (core.MediaEndpoint, error) {
	if loopback {
		// Watching yourself reuses the published endpoint, Connect is a no-op.
		return s.ensureOutgoing(ctx)
	}
	ep, err := s.mediaCtx.CreateEndpoint(ctx)
	if err != nil {
		s.metrics.MediaFailure()
		return nil, fmt.Errorf("create endpoint for %s: %w", source.Name(), err)
	}
	peer := source.Name()
	ep.OnCandidate(func(cand core.Candidate) {
		msg := core.ICECandidateMsg{Kind: core.KindICECandidate, Name: peer, Candidate: cand}
		if err := s.SendMessage(msg); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("participant", s.Name()).Str("peer", peer).Msg("drop local candidate")
		}
	})
	src, err := source.ensureOutgoing(ctx)
	if err != nil {
		s.releaseEndpointDetached(peer, ep)
		return nil, err
	}
	if err := ep.Connect(ctx, src); err != nil {
		s.metrics.MediaFailure()
		s.releaseEndpointDetached(peer, ep)
		return nil, fmt.Errorf("connect %s -> %s: %w", peer, s.Name(), err)
	}
	return ep, nil
}

// AddCandidate applies a connectivity candidate for peerName immediately when
// the corresponding endpoint exists, otherwise buffers it for replay. Buffered
// candidates are never dropped or reordered.
func (s *UserSession) AddCandidate(ctx context.Context, cand core.Candidate, peerName string) error {
	if peerName == s.meta.Name {
		return s.addOwnCandidate(ctx, cand)
	}
	l, err := s.link(peerName)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.endpoint == nil {
		l.pending = append(l.pending, cand)
		log.Debug().
			Str("module", "app.session").
			Str("participant", s.Name()).
			Str("peer", peerName).
			Int("queued", len(l.pending)).
			Msg("candidate buffered")
		return nil
	}
	if err := l.endpoint.ApplyCandidate(ctx, cand); err != nil {
		s.metrics.MediaFailure()
		return fmt.Errorf("apply candidate for %s: %w", peerName, err)
	}
	return nil
}

// Candidates tagged with the session's own name belong to its published
// endpoint, which may not exist yet either.
func (s *UserSession) addOwnCandidate(ctx context.Context, cand core.Candidate) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ep := s.outgoing
	if ep == nil {
		s.pendingOwn = append(s.pendingOwn, cand)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	if err := ep.ApplyCandidate(ctx, cand); err != nil {
		s.metrics.MediaFailure()
		return fmt.Errorf("apply own candidate: %w", err)
	}
	return nil
}

// CancelVideoFrom tears down the link from peerName, releasing its endpoint
// and discarding buffered candidates. Calling it for an unknown or already
// cancelled peer is a no-op.
func (s *UserSession) CancelVideoFrom(ctx context.Context, peerName string) {
	s.mu.Lock()
	l, ok := s.links[peerName]
	if ok {
		delete(s.links, peerName)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	l.mu.Lock()
	ep := l.endpoint
	l.endpoint = nil
	l.pending = nil
	_ = l.state.Event(ctx, "cancel")
	l.mu.Unlock()

	if ep != nil && ep != s.outgoingEndpoint() {
		s.releaseEndpointDetached(peerName, ep)
	}
	log.Debug().
		Str("module", "app.session").
		Str("participant", s.Name()).
		Str("peer", peerName).
		Msg("video link cancelled")
}

// Close releases the published endpoint and every peer link. Releases run
// detached; their completion is logged, never awaited.
func (s *UserSession) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	links := s.links
	s.links = make(map[string]*peerLink)
	out := s.outgoing
	s.outgoing = nil
	s.pendingOwn = nil
	s.mu.Unlock()

	for peer, l := range links {
		l.mu.Lock()
		ep := l.endpoint
		l.endpoint = nil
		l.pending = nil
		_ = l.state.Event(ctx, "cancel")
		l.mu.Unlock()
		if ep != nil && ep != out {
			s.releaseEndpointDetached(peer, ep)
		}
	}
	if out != nil {
		s.releaseEndpointDetached(s.Name(), out)
	}
	log.Info().Str("module", "app.session").Str("participant", s.Name()).Str("room", string(s.roomName)).Msg("session closed")
}

func (s *UserSession) releaseEndpointDetached(peer string, ep core.MediaEndpoint) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := ep.Release(ctx); err != nil {
			s.metrics.MediaFailure()
			log.Warn().Err(err).
				Str("module", "app.session").
				Str("participant", s.Name()).
				Str("peer", peer).
				Msg("endpoint release failed")
			return
		}
		log.Debug().
			Str("module", "app.session").
			Str("participant", s.Name()).
			Str("peer", peer).
			Msg("endpoint released")
	}()
}
