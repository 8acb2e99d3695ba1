package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/core"
)

// Registry is the process-wide session directory. It keeps two views of the
// same set, by transport session id and by display name, updated atomically
// under one lock.
//
// Display names are only unique within a room; a same-named participant in
// another room takes over the by-name slot, as in the original system. The
// by-name view exists for resolving request-video sources.
type Registry struct {
	mu     sync.RWMutex
	byID   map[core.SessionID]*UserSession
	byName map[string]*UserSession
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[core.SessionID]*UserSession),
		byName: make(map[string]*UserSession),
	}
}

func (r *Registry) Register(sid core.SessionID, s *UserSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sid] = s
	r.byName[s.Name()] = s
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("participant", s.Name()).Msg("session registered")
}

func (r *Registry) ByID(sid core.SessionID) (*UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sid]
	return s, ok
}

func (r *Registry) ByName(name string) (*UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Remove deregisters both views and returns the removed session, nil if the
// id was unknown.
func (r *Registry) Remove(sid core.SessionID) *UserSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sid]
	if !ok {
		return nil
	}
	delete(r.byID, sid)
	// Another session may have taken over the name meanwhile.
	if cur, ok := r.byName[s.Name()]; ok && cur == s {
		delete(r.byName, s.Name())
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("participant", s.Name()).Msg("session deregistered")
	return s
}

type registryEntry struct {
	SID     core.SessionID
	Session *UserSession
}

// Entries returns a point-in-time snapshot, used by the liveness sweep.
func (r *Registry) Entries() []registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]registryEntry, 0, len(r.byID))
	for sid, s := range r.byID {
		out = append(out, registryEntry{SID: sid, Session: s})
	}
	return out
}
