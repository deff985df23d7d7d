package service

import (
	"sync"

	"github.com/google/uuid"
)

// saveGuard serializes batch saves per edit session. The dashboard can fire
// overlapping save requests (double-clicks, parallel tabs); only the first
// one for a session may reach the upstream store.
type saveGuard struct {
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func newSaveGuard() *saveGuard {
	return &saveGuard{inFlight: make(map[uuid.UUID]struct{})}
}

// acquire reports whether the caller won the save slot for the session.
func (g *saveGuard) acquire(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[id]; busy {
		return false
	}
	g.inFlight[id] = struct{}{}
	return true
}

func (g *saveGuard) release(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, id)
}
