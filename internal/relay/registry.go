// Package relay is the delivery substrate: one buffered outbound channel per
// connection identity, drained by that connection's write pump.
package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-match-server/pkg/wire"
)

const defaultBuffer = 64

// Registry maps connection identities to their outbound channels. Sends go
// under the read lock and register/unregister under the write lock, so a
// channel is never closed while a send is in flight.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]chan wire.ServerMessage

	buffer int
	log    *zap.Logger
}

func NewRegistry(buffer int, log *zap.Logger) *Registry {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		conns:  make(map[string]chan wire.ServerMessage),
		buffer: buffer,
		log:    log,
	}
}

// Register allocates the delivery channel for a newly accepted connection.
// The caller drains it until closed.
func (r *Registry) Register(identity string) <-chan wire.ServerMessage {
	ch := make(chan wire.ServerMessage, r.buffer)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[identity] = ch
	return ch
}

// Unregister removes and closes the identity's channel. Safe to call more
// than once; subsequent sends to the identity become no-ops.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.conns[identity]
	if !ok {
		return
	}
	delete(r.conns, identity)
	close(ch)
}

// Send enqueues a message preserving per-identity order. A missing identity
// is a disconnected participant, not a fault. A full buffer means the
// consumer stopped draining; the connection is cut loose asynchronously so
// the broadcasting operation never stalls on one dead peer.
func (r *Registry) Send(identity string, msg wire.ServerMessage) {
	r.mu.RLock()
	ch, ok := r.conns[identity]
	if !ok {
		r.mu.RUnlock()
		return
	}
	select {
	case ch <- msg:
		r.mu.RUnlock()
	default:
		r.mu.RUnlock()
		r.log.Warn("relay_buffer_full",
			zap.String("conn_id", identity),
			zap.String("dropped", wire.KindOf(msg)),
		)
		go r.Unregister(identity)
	}
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
