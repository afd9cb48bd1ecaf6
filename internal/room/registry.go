// Package room pairs participants by room code and owns the room → session
// mapping.
package room

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-match-server/internal/match"
	"github.com/park285/chess-match-server/pkg/wire"
)

// Room-pairing conflicts. The requester stays unpaired and may retry.
var (
	ErrRoomCodeTaken = errors.New("room code already taken")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room already has two participants")
)

// Room is an immutable snapshot of one room's pairing state, copied out under
// the registry lock. The mutable record never leaves the registry, so a join
// committing on one connection cannot race field reads on another; a caller
// holding a pre-join snapshot simply sees no session yet. Session is safe to
// share: it has its own lock.
type Room struct {
	Code      string
	WhiteID   string
	BlackID   string
	Session   *match.Session
	CreatedAt time.Time
}

// roomState is the registry-private mutable record. WhiteID is set at
// creation, BlackID and the session once on join, and neither is reassigned.
type roomState struct {
	code      string
	whiteID   string
	blackID   string
	session   *match.Session
	createdAt time.Time
}

// snapshot assumes the registry lock is held.
func (st *roomState) snapshot() Room {
	return Room{
		Code:      st.code,
		WhiteID:   st.whiteID,
		BlackID:   st.blackID,
		Session:   st.session,
		CreatedAt: st.createdAt,
	}
}

// Registry is the in-memory room store. One mutex guards the room records and
// the maps; match state lives behind each session's own lock, so gameplay in
// one room never contends with another.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*roomState
	byIdentity map[string]string

	initialTimeMs int64
	now           func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithNow injects the time source handed to new sessions and used by
// eviction sweeps. Tests drive it; production uses time.Now.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry whose sessions start with initialTimeMs on
// each clock.
func NewRegistry(initialTimeMs int64, opts ...Option) *Registry {
	r := &Registry{
		rooms:         make(map[string]*roomState),
		byIdentity:    make(map[string]string),
		initialTimeMs: initialTimeMs,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a room under code with the requester as White. The
// check-and-insert runs under the registry lock, so two racing creates for
// one code cannot both succeed.
func (r *Registry) Create(code, identity string) (wire.Color, error) {
	code = strings.TrimSpace(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[code]; exists {
		return "", ErrRoomCodeTaken
	}
	r.rooms[code] = &roomState{
		code:      code,
		whiteID:   identity,
		createdAt: r.now(),
	}
	r.byIdentity[identity] = code
	return wire.White, nil
}

// Join assigns the requester Black and creates the paired match session.
// Atomic against a racing second join: exactly one succeeds, the other gets
// ErrRoomFull.
func (r *Registry) Join(code, identity string) (Room, error) {
	code = strings.TrimSpace(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	st, exists := r.rooms[code]
	if !exists {
		return Room{}, ErrRoomNotFound
	}
	if st.blackID != "" {
		return Room{}, ErrRoomFull
	}
	st.blackID = identity
	st.session = match.NewSession(code, st.whiteID, identity, r.initialTimeMs, r.now)
	r.byIdentity[identity] = code
	return st.snapshot(), nil
}

// FindByIdentity resolves the room a connected identity belongs to. Gameplay
// actions route through this instead of trusting client-supplied room codes.
func (r *Registry) FindByIdentity(identity string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.byIdentity[identity]
	if !ok {
		return Room{}, false
	}
	st, ok := r.rooms[code]
	if !ok {
		return Room{}, false
	}
	return st.snapshot(), true
}

// Get looks a room up by code.
func (r *Registry) Get(code string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[code]
	if !ok {
		return Room{}, false
	}
	return st.snapshot(), true
}

// Paired returns the rooms whose match session exists, for the tick loop.
func (r *Registry) Paired() []Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Room, 0, len(r.rooms))
	for _, st := range r.rooms {
		if st.session != nil {
			out = append(out, st.snapshot())
		}
	}
	return out
}

// Count reports the number of live rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Remove drops a room and its identity index entries.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(code)
}

// SweepTerminal evicts rooms whose match has been terminal for longer than
// ttl and returns their codes. Live rooms are never evicted.
func (r *Registry) SweepTerminal(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	cutoff := r.now().Add(-ttl)
	for code, st := range r.rooms {
		if st.session == nil {
			continue
		}
		endedAt, terminal := st.session.TerminalSince()
		if terminal && endedAt.Before(cutoff) {
			r.remove(code)
			evicted = append(evicted, code)
		}
	}
	return evicted
}

// remove assumes the lock is held.
func (r *Registry) remove(code string) {
	st, ok := r.rooms[code]
	if !ok {
		return
	}
	delete(r.rooms, code)
	if r.byIdentity[st.whiteID] == code {
		delete(r.byIdentity, st.whiteID)
	}
	if st.blackID != "" && r.byIdentity[st.blackID] == code {
		delete(r.byIdentity, st.blackID)
	}
}
