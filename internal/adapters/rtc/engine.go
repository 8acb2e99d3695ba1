// Package rtc implements the media-engine boundary on pion/webrtc: a media
// context groups the peer connections of one room, an endpoint is one peer
// connection, and Connect forwards the source's RTP to the subscriber.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/core"
)

var (
	ErrContextReleased = errors.New("media context released")
	ErrForeignEndpoint = errors.New("endpoint belongs to another media engine")
)

type Engine struct {
	cfg webrtc.Configuration
}

func NewEngine(stunServers []string) *Engine {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) CreateContext(_ context.Context) (core.MediaContext, error) {
	return &mediaContext{
		engine:    e,
		endpoints: make(map[*endpoint]struct{}),
	}, nil
}

type mediaContext struct {
	engine *Engine

	mu        sync.Mutex
	endpoints map[*endpoint]struct{}
	released  bool
}

func (c *mediaContext) CreateEndpoint(_ context.Context) (core.MediaEndpoint, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, ErrContextReleased
	}
	c.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(c.engine.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ep := &endpoint{pc: pc, owner: c}
	ep.wire()

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		_ = pc.Close()
		return nil, ErrContextReleased
	}
	c.endpoints[ep] = struct{}{}
	c.mu.Unlock()
	return ep, nil
}

// Release closes every endpoint created under this context. Safe to call
// twice; the second call is a no-op.
func (c *mediaContext) Release(ctx context.Context) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	eps := make([]*endpoint, 0, len(c.endpoints))
	for ep := range c.endpoints {
		eps = append(eps, ep)
	}
	c.endpoints = nil
	c.mu.Unlock()

	var errs []error
	for _, ep := range eps {
		if err := ep.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *mediaContext) remove(ep *endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints != nil {
		delete(c.endpoints, ep)
	}
}

// endpoint wraps one PeerConnection. The remote tracks it receives are fanned
// out to subscriber endpoints through per-track relays; subscribers attached
// before a track arrives are picked up when it does.
type endpoint struct {
	pc    *webrtc.PeerConnection
	owner *mediaContext

	mu          sync.Mutex
	onCand      func(core.Candidate)
	relays      []*relay
	subscribers []*endpoint
	closed      bool
}

func (ep *endpoint) wire() {
	ep.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c := core.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			c.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			c.SDPMLineIndex = *init.SDPMLineIndex
		}
		ep.mu.Lock()
		fn := ep.onCand
		ep.mu.Unlock()
		if fn != nil {
			fn(c)
		}
	})

	ep.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track received")
		r := newRelay(track)
		ep.mu.Lock()
		ep.relays = append(ep.relays, r)
		subs := make([]*endpoint, len(ep.subscribers))
		copy(subs, ep.subscribers)
		ep.mu.Unlock()
		for _, sub := range subs {
			if err := r.subscribe(sub); err != nil {
				log.Warn().Err(err).Str("module", "rtc").Msg("subscribe new track")
			}
		}
		go r.loop()
	})
}

func (ep *endpoint) GenerateAnswer(_ context.Context, sdpOffer string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := ep.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := ep.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	// Candidates trickle via OnCandidate, no need to wait for gathering.
	if err := ep.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (ep *endpoint) ApplyCandidate(_ context.Context, cand core.Candidate) error {
	init := webrtc.ICECandidateInit{Candidate: cand.Candidate}
	if cand.SDPMid != "" {
		init.SDPMid = &cand.SDPMid
	}
	init.SDPMLineIndex = &cand.SDPMLineIndex
	return ep.pc.AddICECandidate(init)
}

func (ep *endpoint) OnCandidate(fn func(core.Candidate)) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.onCand = fn
}

// Connect subscribes this endpoint to everything source publishes, now and
// later.
func (ep *endpoint) Connect(_ context.Context, source core.MediaEndpoint) error {
	src, ok := source.(*endpoint)
	if !ok {
		return ErrForeignEndpoint
	}
	if src == ep {
		// Loopback: the publishing endpoint already holds its own stream.
		return nil
	}

	src.mu.Lock()
	src.subscribers = append(src.subscribers, ep)
	relays := make([]*relay, len(src.relays))
	copy(relays, src.relays)
	src.mu.Unlock()

	for _, r := range relays {
		if err := r.subscribe(ep); err != nil {
			return fmt.Errorf("subscribe existing track: %w", err)
		}
	}
	return nil
}

func (ep *endpoint) Release(_ context.Context) error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	relays := ep.relays
	ep.relays = nil
	ep.subscribers = nil
	ep.mu.Unlock()

	for _, r := range relays {
		r.stop()
	}
	ep.owner.remove(ep)
	if err := ep.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}
