// Package ws accepts duplex connections and pumps frames between the wire
// and the dispatcher.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-match-server/internal/dispatch"
	"github.com/park285/chess-match-server/internal/relay"
	"github.com/park285/chess-match-server/pkg/wire"
)

const writeTimeout = 5 * time.Second

// Server owns the /ws endpoint. Each accepted connection gets an opaque
// identity for its lifetime, one read pump, and one write pump draining the
// relay channel in enqueue order.
type Server struct {
	log        *zap.Logger
	relay      *relay.Registry
	dispatcher *dispatch.Dispatcher
}

func New(rl *relay.Registry, d *dispatch.Dispatcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, relay: rl, dispatcher: d}
}

// Handler exposes the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("ws_accept_error", zap.Error(err))
		return
	}

	identity := uuid.NewString()
	ctx := r.Context()
	ch := s.relay.Register(identity)
	s.log.Info("ws_connect", zap.String("conn_id", identity))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(ctx, c, ch)
	}()

	s.readPump(ctx, c, identity)

	// Closing this connection tears down only its own pumps. Room and match
	// state survive; the peer is told the opponent left.
	s.dispatcher.Disconnect(identity)
	s.relay.Unregister(identity)
	<-done
	_ = c.Close(websocket.StatusNormalClosure, "")
	s.log.Info("ws_disconnect", zap.String("conn_id", identity))
}

// readPump deserializes inbound frames and dispatches them. A malformed
// frame earns an error reply and the connection stays open; only transport
// errors end the pump.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, identity string) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.relay.Send(identity, &wire.ErrorMessage{Message: "malformed message"})
			continue
		}
		s.dispatcher.Handle(ctx, identity, f)
	}
}

// writePump serializes outbound messages in the order the dispatcher
// enqueued them. Send failures mean the peer dropped; they end the pump and
// are swallowed here.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, ch <-chan wire.ServerMessage) {
	for msg := range ch {
		frame, err := wire.Encode(msg)
		if err != nil {
			s.log.Warn("ws_encode_error", zap.String("kind", wire.KindOf(msg)), zap.Error(err))
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = wsjson.Write(wctx, c, frame)
		cancel()
		if err != nil {
			return
		}
	}
}
