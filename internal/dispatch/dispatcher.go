// Package dispatch routes protocol messages between connections, the room
// registry, and match sessions, and drives the shared clock tick.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-match-server/internal/archive"
	"github.com/park285/chess-match-server/internal/match"
	"github.com/park285/chess-match-server/internal/relay"
	"github.com/park285/chess-match-server/internal/room"
	"github.com/park285/chess-match-server/pkg/wire"
)

// Config carries the dispatcher's tunables.
type Config struct {
	// TickInterval drives clock-timeout checks for every live match.
	TickInterval time.Duration
	// RoomTTL is how long a terminal room lingers before eviction.
	// Zero disables eviction.
	RoomTTL time.Duration
	// ArchiveTimeout bounds each terminal-match persistence attempt.
	ArchiveTimeout time.Duration
}

// Dispatcher keeps the room registry, the session map, and the delivery
// registry mutually consistent under concurrent connections. A connection is
// Unidentified until a create or join succeeds, then Paired until disconnect;
// pairing is derived from the room registry's identity index, never from
// client-supplied room codes.
type Dispatcher struct {
	cfg   Config
	log   *zap.Logger
	rooms *room.Registry
	relay *relay.Registry

	store *archive.Store
	repo  *archive.Repository

	finished atomic.Uint64
}

func New(cfg Config, rooms *room.Registry, rl *relay.Registry, log *zap.Logger) *Dispatcher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, log: log, rooms: rooms, relay: rl}
}

// AttachStore wires the optional Redis archive for finished matches.
func (d *Dispatcher) AttachStore(s *archive.Store) {
	if d != nil {
		d.store = s
	}
}

// AttachRepository wires the optional database repository for final results.
func (d *Dispatcher) AttachRepository(r *archive.Repository) {
	if d != nil {
		d.repo = r
	}
}

// Stats is the snapshot served by the ops endpoint.
type Stats struct {
	ActiveRooms     int    `json:"active_rooms"`
	LiveConnections int    `json:"live_connections"`
	FinishedMatches uint64 `json:"finished_matches"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		ActiveRooms:     d.rooms.Count(),
		LiveConnections: d.relay.Count(),
		FinishedMatches: d.finished.Load(),
	}
}

// Handle routes one inbound frame from a connection. Protocol errors and
// gameplay rejections reply to the requester only; the connection stays open.
func (d *Dispatcher) Handle(ctx context.Context, identity string, f wire.Frame) {
	msg, err := wire.DecodeFrame(f)
	if err != nil {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "unrecognized message"})
		return
	}
	switch m := msg.(type) {
	case *wire.CreateRoom:
		d.handleCreate(identity, m)
	case *wire.JoinRoom:
		d.handleJoin(identity, m)
	case *wire.MakeMove:
		d.handleMove(ctx, identity, m)
	case *wire.Resign:
		d.handleResign(ctx, identity)
	}
}

func (d *Dispatcher) handleCreate(identity string, m *wire.CreateRoom) {
	code := strings.TrimSpace(m.RoomCode)
	if code == "" {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "room code required"})
		return
	}
	if _, paired := d.rooms.FindByIdentity(identity); paired {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "already in a room"})
		return
	}
	color, err := d.rooms.Create(code, identity)
	if err != nil {
		d.relay.Send(identity, &wire.ErrorMessage{Message: err.Error()})
		return
	}
	d.log.Info("room_create",
		zap.String("room_code", code),
		zap.String("conn_id", identity),
	)
	d.relay.Send(identity, &wire.RoomCreated{RoomCode: code, Color: color})
}

func (d *Dispatcher) handleJoin(identity string, m *wire.JoinRoom) {
	code := strings.TrimSpace(m.RoomCode)
	if code == "" {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "room code required"})
		return
	}
	if _, paired := d.rooms.FindByIdentity(identity); paired {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "already in a room"})
		return
	}
	rm, err := d.rooms.Join(code, identity)
	if err != nil {
		d.relay.Send(identity, &wire.ErrorMessage{Message: err.Error()})
		return
	}
	d.log.Info("room_join",
		zap.String("room_code", code),
		zap.String("white_id", rm.WhiteID),
		zap.String("black_id", rm.BlackID),
	)
	d.relay.Send(identity, &wire.RoomJoined{RoomCode: code, Color: wire.Black})
	d.relay.Send(rm.WhiteID, &wire.OpponentJoined{})
	d.broadcastState(rm)
}

func (d *Dispatcher) handleMove(ctx context.Context, identity string, m *wire.MakeMove) {
	rm, paired := d.rooms.FindByIdentity(identity)
	if !paired {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "create or join a room first"})
		return
	}
	if rm.Session == nil {
		d.relay.Send(identity, &wire.InvalidMove{Reason: "waiting for opponent"})
		return
	}

	out, err := rm.Session.ApplyMove(identity, m.From, m.To, m.Promotion)
	if err != nil {
		d.relay.Send(identity, rejectionFor(err))
		return
	}
	if out.TimedOut {
		d.finishMatch(ctx, rm, out.Result)
		return
	}

	d.log.Info("move",
		zap.String("room_code", rm.Code),
		zap.String("san", out.SAN),
		zap.String("conn_id", identity),
	)
	d.broadcast(rm, &wire.MoveMade{From: out.From, To: out.To, SAN: out.SAN, FEN: out.FEN})
	d.broadcastState(rm)
	if out.Result != nil {
		d.finishMatch(ctx, rm, out.Result)
	}
}

func (d *Dispatcher) handleResign(ctx context.Context, identity string) {
	rm, paired := d.rooms.FindByIdentity(identity)
	if !paired {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "create or join a room first"})
		return
	}
	if rm.Session == nil {
		d.relay.Send(identity, &wire.ErrorMessage{Message: "waiting for opponent"})
		return
	}
	res, err := rm.Session.Resign(identity)
	if err != nil {
		d.relay.Send(identity, rejectionFor(err))
		return
	}
	d.log.Info("resign",
		zap.String("room_code", rm.Code),
		zap.String("conn_id", identity),
	)
	d.finishMatch(ctx, rm, res)
}

// Disconnect handles a transport-level drop. The remaining participant gets
// exactly one OpponentLeft; room and session are left intact, so the match
// state is unchanged. The relay entry is removed by the connection handler.
func (d *Dispatcher) Disconnect(identity string) {
	rm, paired := d.rooms.FindByIdentity(identity)
	if !paired {
		return
	}
	peer := rm.WhiteID
	if identity == rm.WhiteID {
		peer = rm.BlackID
	}
	if peer != "" {
		d.relay.Send(peer, &wire.OpponentLeft{})
	}
	d.log.Info("participant_left",
		zap.String("room_code", rm.Code),
		zap.String("conn_id", identity),
	)
}

// Run drives the shared 1 s tick until ctx is cancelled. Each tick times out
// idle sides and evicts rooms that have been terminal past the TTL. Closing
// one connection never cancels this loop.
func (d *Dispatcher) Run(ctx context.Context) {
	t := time.NewTicker(d.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	for _, rm := range d.rooms.Paired() {
		if res := rm.Session.CheckTimeout(); res != nil {
			d.finishMatch(ctx, rm, res)
		}
	}
	if d.cfg.RoomTTL > 0 {
		for _, code := range d.rooms.SweepTerminal(d.cfg.RoomTTL) {
			d.log.Info("room_evict", zap.String("room_code", code))
		}
	}
}

// finishMatch broadcasts the terminal outcome and hands the match to the
// archive collaborators.
func (d *Dispatcher) finishMatch(ctx context.Context, rm room.Room, res *wire.GameResult) {
	d.broadcast(rm, &wire.GameOver{Result: *res})
	d.finished.Add(1)
	d.log.Info("match_over",
		zap.String("room_code", rm.Code),
		zap.String("kind", string(res.Kind)),
		zap.String("winner", string(res.Winner)),
	)
	if d.store == nil && d.repo == nil {
		return
	}
	rec := &archive.Record{
		RoomCode:  rm.Code,
		WhiteID:   rm.WhiteID,
		BlackID:   rm.BlackID,
		Result:    *res,
		Moves:     rm.Session.Moves(),
		FinalFEN:  rm.Session.Snapshot().FEN,
		StartedAt: rm.Session.CreatedAt(),
		EndedAt:   rm.Session.EndedAt(),
	}
	go d.persist(rec)
}

func (d *Dispatcher) persist(rec *archive.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ArchiveTimeout)
	defer cancel()
	if err := d.store.SaveFinished(ctx, rec); err != nil {
		d.log.Error("archive_store_error", zap.String("room_code", rec.RoomCode), zap.Error(err))
	}
	if err := d.repo.SaveResult(ctx, rec); err != nil {
		d.log.Error("archive_repo_error", zap.String("room_code", rec.RoomCode), zap.Error(err))
	}
}

// broadcast fans a message out to both participants. Delivery to a dropped
// connection is a no-op; the other side still receives its copy.
func (d *Dispatcher) broadcast(rm room.Room, msg wire.ServerMessage) {
	d.relay.Send(rm.WhiteID, msg)
	if rm.BlackID != "" {
		d.relay.Send(rm.BlackID, msg)
	}
}

func (d *Dispatcher) broadcastState(rm room.Room) {
	if rm.Session == nil {
		return
	}
	d.broadcast(rm, rm.Session.Snapshot())
}

// rejectionFor maps gameplay rejections to their reply variant. These are
// expected outcomes, not faults.
func rejectionFor(err error) wire.ServerMessage {
	switch {
	case errors.Is(err, match.ErrNotYourTurn):
		return &wire.InvalidMove{Reason: "not your turn"}
	case errors.Is(err, match.ErrIllegalMove):
		return &wire.InvalidMove{Reason: "illegal move"}
	case errors.Is(err, match.ErrMatchOver):
		return &wire.InvalidMove{Reason: "match is over"}
	case errors.Is(err, match.ErrUnknownParticipant):
		return &wire.ErrorMessage{Message: "not a participant of this match"}
	default:
		return &wire.ErrorMessage{Message: err.Error()}
	}
}
