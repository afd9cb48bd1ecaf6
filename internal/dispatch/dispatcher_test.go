package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-match-server/internal/relay"
	"github.com/park285/chess-match-server/internal/room"
	"github.com/park285/chess-match-server/pkg/wire"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type testRig struct {
	d     *Dispatcher
	relay *relay.Registry
	rooms *room.Registry
	clock *fakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	fc := newFakeClock()
	rooms := room.NewRegistry(600_000, room.WithNow(fc.Now))
	rl := relay.NewRegistry(64, nil)
	d := New(Config{TickInterval: time.Second, RoomTTL: time.Hour}, rooms, rl, nil)
	return &testRig{d: d, relay: rl, rooms: rooms, clock: fc}
}

func frame(t *testing.T, typ string, payload any) wire.Frame {
	t.Helper()
	if payload == nil {
		return wire.Frame{Type: typ}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return wire.Frame{Type: typ, Payload: raw}
}

func recv(t *testing.T, ch <-chan wire.ServerMessage) wire.ServerMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func expectNothing(t *testing.T, ch <-chan wire.ServerMessage) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message: %T %+v", m, m)
	case <-time.After(50 * time.Millisecond):
	}
}

// pair drives the create/join handshake for identities "a" (white) and "b"
// (black) and drains the pairing traffic from both channels.
func (r *testRig) pair(t *testing.T) (a, b <-chan wire.ServerMessage) {
	t.Helper()
	ctx := context.Background()
	a = r.relay.Register("a")
	b = r.relay.Register("b")

	r.d.Handle(ctx, "a", frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: "room1"}))
	created, ok := recv(t, a).(*wire.RoomCreated)
	if !ok || created.Color != wire.White || created.RoomCode != "room1" {
		t.Fatalf("RoomCreated = %+v", created)
	}

	r.d.Handle(ctx, "b", frame(t, wire.TypeJoinRoom, &wire.JoinRoom{RoomCode: "room1"}))
	joined, ok := recv(t, b).(*wire.RoomJoined)
	if !ok || joined.Color != wire.Black {
		t.Fatalf("RoomJoined = %+v", joined)
	}
	if _, ok := recv(t, a).(*wire.OpponentJoined); !ok {
		t.Fatalf("creator did not receive OpponentJoined")
	}
	for _, ch := range []<-chan wire.ServerMessage{a, b} {
		if _, ok := recv(t, ch).(*wire.GameState); !ok {
			t.Fatalf("missing initial GameState broadcast")
		}
	}
	return a, b
}

func TestCreateJoinHandshake(t *testing.T) {
	r := newTestRig(t)
	a, b := r.pair(t)
	expectNothing(t, a)
	expectNothing(t, b)
}

func TestCreateRoomCodeTaken(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a := r.relay.Register("a")
	c := r.relay.Register("c")

	r.d.Handle(ctx, "a", frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: "dup"}))
	if _, ok := recv(t, a).(*wire.RoomCreated); !ok {
		t.Fatalf("first create failed")
	}
	r.d.Handle(ctx, "c", frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: "dup"}))
	if _, ok := recv(t, c).(*wire.ErrorMessage); !ok {
		t.Fatalf("second create for taken code must error")
	}
	// The loser stays unpaired and may retry with a fresh code.
	r.d.Handle(ctx, "c", frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: "dup2"}))
	if _, ok := recv(t, c).(*wire.RoomCreated); !ok {
		t.Fatalf("retry after conflict failed")
	}
}

func TestConcurrentCreateSameCode(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a := r.relay.Register("a")
	b := r.relay.Register("b")

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.d.Handle(ctx, id, frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: "contested"}))
		}(id)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, ch := range []<-chan wire.ServerMessage{a, b} {
		switch recv(t, ch).(type) {
		case *wire.RoomCreated:
			wins++
		case *wire.ErrorMessage:
			losses++
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want exactly one of each", wins, losses)
	}
}

func TestJoinRacingCreatorMove(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		code := fmt.Sprintf("race%d", i)
		white, black := "w-"+code, "b-"+code
		wch := r.relay.Register(white)
		r.relay.Register(black)

		r.d.Handle(ctx, white, frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: code}))
		if _, ok := recv(t, wch).(*wire.RoomCreated); !ok {
			t.Fatalf("create failed")
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.d.Handle(ctx, black, frame(t, wire.TypeJoinRoom, &wire.JoinRoom{RoomCode: code}))
		}()
		go func() {
			defer wg.Done()
			r.d.Handle(ctx, white, frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e2", To: "e4"}))
		}()
		wg.Wait()

		// Whichever side of the race the move landed on, the pairing itself
		// must come out consistent.
		rm, ok := r.rooms.Get(code)
		if !ok || rm.BlackID != black || rm.Session == nil {
			t.Fatalf("room after race = %+v %v", rm, ok)
		}
		snap := rm.Session.Snapshot()
		if len(snap.Moves) > 1 {
			t.Fatalf("move log after one attempted move = %+v", snap.Moves)
		}
		r.relay.Unregister(white)
		r.relay.Unregister(black)
	}
}

func TestJoinRacingCreatorDisconnect(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		code := fmt.Sprintf("drop%d", i)
		white, black := "w-"+code, "b-"+code
		wch := r.relay.Register(white)
		r.relay.Register(black)

		r.d.Handle(ctx, white, frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: code}))
		if _, ok := recv(t, wch).(*wire.RoomCreated); !ok {
			t.Fatalf("create failed")
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.d.Handle(ctx, black, frame(t, wire.TypeJoinRoom, &wire.JoinRoom{RoomCode: code}))
		}()
		go func() {
			defer wg.Done()
			r.d.Disconnect(white)
		}()
		wg.Wait()

		rm, ok := r.rooms.Get(code)
		if !ok || rm.BlackID != black || rm.Session == nil {
			t.Fatalf("room after race = %+v %v", rm, ok)
		}
		r.relay.Unregister(white)
		r.relay.Unregister(black)
	}
}

func TestJoinRoomNotFoundAndFull(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	r.pair(t)
	c := r.relay.Register("c")

	r.d.Handle(ctx, "c", frame(t, wire.TypeJoinRoom, &wire.JoinRoom{RoomCode: "missing"}))
	if _, ok := recv(t, c).(*wire.ErrorMessage); !ok {
		t.Fatalf("join of missing room must error")
	}
	r.d.Handle(ctx, "c", frame(t, wire.TypeJoinRoom, &wire.JoinRoom{RoomCode: "room1"}))
	if _, ok := recv(t, c).(*wire.ErrorMessage); !ok {
		t.Fatalf("third participant must be rejected")
	}
	// Pairing unaffected.
	rm, _ := r.rooms.Get("room1")
	if rm.WhiteID != "a" || rm.BlackID != "b" {
		t.Fatalf("pairing disturbed: %q/%q", rm.WhiteID, rm.BlackID)
	}
}

func TestMoveBroadcastsToBoth(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a, b := r.pair(t)

	r.d.Handle(ctx, "a", frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e2", To: "e4"}))
	for _, ch := range []<-chan wire.ServerMessage{a, b} {
		mm, ok := recv(t, ch).(*wire.MoveMade)
		if !ok || mm.SAN != "e4" {
			t.Fatalf("MoveMade = %+v", mm)
		}
		st, ok := recv(t, ch).(*wire.GameState)
		if !ok || st.SideToMove != wire.Black || len(st.Moves) != 1 {
			t.Fatalf("GameState = %+v", st)
		}
	}
}

func TestRejectionGoesToRequesterOnly(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a, b := r.pair(t)

	// Black moving out of turn: rejection to black, silence for white.
	r.d.Handle(ctx, "b", frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e7", To: "e5"}))
	inv, ok := recv(t, b).(*wire.InvalidMove)
	if !ok || inv.Reason != "not your turn" {
		t.Fatalf("InvalidMove = %+v", inv)
	}
	expectNothing(t, a)

	// Illegal move by white.
	r.d.Handle(ctx, "a", frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e2", To: "e5"}))
	inv, ok = recv(t, a).(*wire.InvalidMove)
	if !ok || inv.Reason != "illegal move" {
		t.Fatalf("InvalidMove = %+v", inv)
	}
	expectNothing(t, b)
}

func TestMoveWhileUnidentified(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	c := r.relay.Register("c")

	r.d.Handle(ctx, "c", frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e2", To: "e4"}))
	if _, ok := recv(t, c).(*wire.ErrorMessage); !ok {
		t.Fatalf("unpaired move must earn an error reply")
	}
	r.d.Handle(ctx, "c", frame(t, wire.TypeResign, nil))
	if _, ok := recv(t, c).(*wire.ErrorMessage); !ok {
		t.Fatalf("unpaired resign must earn an error reply")
	}
}

func TestMoveBeforeOpponentJoins(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a := r.relay.Register("a")

	r.d.Handle(ctx, "a", frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: "solo"}))
	if _, ok := recv(t, a).(*wire.RoomCreated); !ok {
		t.Fatalf("create failed")
	}
	r.d.Handle(ctx, "a", frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e2", To: "e4"}))
	inv, ok := recv(t, a).(*wire.InvalidMove)
	if !ok || inv.Reason != "waiting for opponent" {
		t.Fatalf("reply = %+v", inv)
	}
}

func TestCreateWhilePaired(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a, _ := r.pair(t)

	r.d.Handle(ctx, "a", frame(t, wire.TypeCreateRoom, &wire.CreateRoom{RoomCode: "second"}))
	if _, ok := recv(t, a).(*wire.ErrorMessage); !ok {
		t.Fatalf("create while paired must error")
	}
}

func TestUnknownMessageType(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	c := r.relay.Register("c")

	r.d.Handle(ctx, "c", wire.Frame{Type: "teleport"})
	em, ok := recv(t, c).(*wire.ErrorMessage)
	if !ok {
		t.Fatalf("unknown type must earn an error reply")
	}
	if em.Message != "unrecognized message" {
		t.Fatalf("message = %q", em.Message)
	}
}

func TestResignEndsMatch(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a, b := r.pair(t)

	r.d.Handle(ctx, "a", frame(t, wire.TypeResign, nil))
	for _, ch := range []<-chan wire.ServerMessage{a, b} {
		over, ok := recv(t, ch).(*wire.GameOver)
		if !ok || over.Result.Kind != wire.ResultResignation || over.Result.Winner != wire.Black {
			t.Fatalf("GameOver = %+v", over)
		}
	}
	// Any further gameplay is rejected.
	r.d.Handle(ctx, "b", frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e7", To: "e5"}))
	inv, ok := recv(t, b).(*wire.InvalidMove)
	if !ok || inv.Reason != "match is over" {
		t.Fatalf("reply = %+v", inv)
	}
	r.d.Handle(ctx, "a", frame(t, wire.TypeResign, nil))
	if _, ok := recv(t, a).(*wire.InvalidMove); !ok {
		t.Fatalf("second resign must be rejected")
	}
	if got := r.d.Stats().FinishedMatches; got != 1 {
		t.Fatalf("finished counter = %d, want 1", got)
	}
}

func TestTickTimesOutIdleSide(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a, b := r.pair(t)

	// A few uneventful ticks first.
	r.clock.Advance(10 * time.Second)
	r.d.tick(ctx)
	expectNothing(t, a)

	r.clock.Advance(591 * time.Second)
	r.d.tick(ctx)
	for _, ch := range []<-chan wire.ServerMessage{a, b} {
		over, ok := recv(t, ch).(*wire.GameOver)
		if !ok || over.Result.Kind != wire.ResultTimeout || over.Result.Winner != wire.Black {
			t.Fatalf("GameOver = %+v", over)
		}
	}
	// Announced exactly once.
	r.clock.Advance(time.Second)
	r.d.tick(ctx)
	expectNothing(t, a)
	expectNothing(t, b)

	rm, _ := r.rooms.Get("room1")
	snap := rm.Session.Snapshot()
	if snap.WhiteTimeMs != 0 {
		t.Fatalf("white time = %d, want 0 and not negative", snap.WhiteTimeMs)
	}
}

func TestTickEvictsExpiredTerminalRooms(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a, b := r.pair(t)

	r.d.Handle(ctx, "a", frame(t, wire.TypeResign, nil))
	recv(t, a)
	recv(t, b)

	r.clock.Advance(2 * time.Hour)
	r.d.tick(ctx)
	if _, ok := r.rooms.Get("room1"); ok {
		t.Fatalf("terminal room survived past its TTL")
	}
}

func TestDisconnectNotifiesPeerAndKeepsMatch(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	a, b := r.pair(t)

	r.d.Handle(ctx, "a", frame(t, wire.TypeMakeMove, &wire.MakeMove{From: "e2", To: "e4"}))
	recv(t, a)
	recv(t, a)
	recv(t, b)
	recv(t, b)

	r.d.Disconnect("b")
	r.relay.Unregister("b")
	if _, ok := recv(t, a).(*wire.OpponentLeft); !ok {
		t.Fatalf("remaining participant did not receive OpponentLeft")
	}
	expectNothing(t, a)

	// Match state is unchanged by the drop.
	rm, ok := r.rooms.Get("room1")
	if !ok {
		t.Fatalf("room vanished on disconnect")
	}
	snap := rm.Session.Snapshot()
	if len(snap.Moves) != 1 || snap.SideToMove != wire.Black {
		t.Fatalf("session disturbed by disconnect: %+v", snap)
	}
}

func TestDisconnectWhileUnidentified(t *testing.T) {
	r := newTestRig(t)
	// No room membership: nothing to notify, nothing to clean up.
	r.d.Disconnect("ghost")
}
