package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/GroupCall/internal/core"
	"github.com/dkeye/GroupCall/internal/domain"
)

// Bounds for assertions on detached release goroutines.
const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 10 * time.Millisecond
)

// fakeConn records every frame handed to it.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failSend {
		return errors.New("send failed")
	}
	buf := make([]byte, len(f))
	copy(buf, f)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) kinds(t *testing.T) []string {
	t.Helper()
	msgs := c.messages(t)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		kind, _ := m["kind"].(string)
		out = append(out, kind)
	}
	return out
}

func (c *fakeConn) lastOfKind(t *testing.T, kind string) map[string]any {
	t.Helper()
	var found map[string]any
	for _, m := range c.messages(t) {
		if m["kind"] == kind {
			found = m
		}
	}
	return found
}

// fakeEngine counts context allocations; its endpoints record candidates in
// arrival order.
type fakeEngine struct {
	mu         sync.Mutex
	contexts   []*fakeContext
	failCreate bool
}

func (e *fakeEngine) CreateContext(context.Context) (core.MediaContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCreate {
		return nil, errors.New("engine down")
	}
	c := &fakeContext{}
	e.contexts = append(e.contexts, c)
	return c, nil
}

func (e *fakeEngine) contextCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

type fakeContext struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
	released  int
}

func (c *fakeContext) CreateEndpoint(context.Context) (core.MediaEndpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep := &fakeEndpoint{}
	c.endpoints = append(c.endpoints, ep)
	return ep, nil
}

func (c *fakeContext) Release(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	return nil
}

func (c *fakeContext) releaseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

type fakeEndpoint struct {
	mu          sync.Mutex
	applied     []core.Candidate
	offers      []string
	connectedTo core.MediaEndpoint
	released    int
	onCand      func(core.Candidate)
	failAnswer  bool
}

func (ep *fakeEndpoint) GenerateAnswer(_ context.Context, sdpOffer string) (string, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.failAnswer {
		return "", errors.New("offer rejected")
	}
	ep.offers = append(ep.offers, sdpOffer)
	return "answer:" + sdpOffer, nil
}

func (ep *fakeEndpoint) ApplyCandidate(_ context.Context, cand core.Candidate) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.applied = append(ep.applied, cand)
	return nil
}

func (ep *fakeEndpoint) OnCandidate(fn func(core.Candidate)) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.onCand = fn
}

func (ep *fakeEndpoint) Connect(_ context.Context, source core.MediaEndpoint) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.connectedTo = source
	return nil
}

func (ep *fakeEndpoint) Release(context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.released++
	return nil
}

func (ep *fakeEndpoint) appliedCandidates() []core.Candidate {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	out := make([]core.Candidate, len(ep.applied))
	copy(out, ep.applied)
	return out
}

func (ep *fakeEndpoint) releaseCount() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.released
}

func mustParticipant(t *testing.T, name, slot string, presenter bool) *domain.Participant {
	t.Helper()
	p, err := domain.NewParticipant(name, slot, presenter)
	if err != nil {
		t.Fatalf("participant %q: %v", name, err)
	}
	return p
}
