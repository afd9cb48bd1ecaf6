// Package match owns the authoritative live state of one game: position,
// move log, and the dual countdown clock.
package match

import (
	"errors"
	"sync"
	"time"

	"github.com/park285/chess-match-server/internal/rules"
	"github.com/park285/chess-match-server/pkg/wire"
)

// Gameplay rejections. Expected and frequent; never logged as faults.
var (
	ErrNotYourTurn        = errors.New("not your turn")
	ErrIllegalMove        = errors.New("illegal move")
	ErrMatchOver          = errors.New("match is over")
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Session is the single authority for one match's state transitions. All
// mutations go through the session mutex, so two moves (or a move and a
// clock-timeout decision) never interleave for the same match. Unrelated
// matches share nothing.
type Session struct {
	mu sync.Mutex

	code    string
	whiteID string
	blackID string

	game  *rules.Game
	moves []wire.MoveRecord
	clock *Clock

	terminal  bool
	result    *wire.GameResult
	createdAt time.Time
	endedAt   time.Time
}

// MoveOutcome reports a committed move, or a timeout detected while
// attempting one. TimedOut means no move was played: the clock ran out
// before the candidate move could be checked.
type MoveOutcome struct {
	SAN      string
	From     string
	To       string
	FEN      string
	TimedOut bool
	Result   *wire.GameResult
}

// NewSession starts a match between two connected participants. The clock
// starts immediately: a session only exists once both sides are present.
// now is the session's sole time source and defaults to time.Now.
func NewSession(code, whiteID, blackID string, initialTimeMs int64, now func() time.Time) *Session {
	c := newClock(initialTimeMs, now)
	return &Session{
		code:      code,
		whiteID:   whiteID,
		blackID:   blackID,
		game:      rules.NewGame(),
		clock:     c,
		createdAt: c.lastEvent,
	}
}

func (s *Session) Code() string    { return s.code }
func (s *Session) WhiteID() string { return s.whiteID }
func (s *Session) BlackID() string { return s.blackID }

// ColorOf reports the color assigned to a participant identity.
func (s *Session) ColorOf(identity string) (wire.Color, bool) {
	switch identity {
	case s.whiteID:
		return wire.White, true
	case s.blackID:
		return wire.Black, true
	default:
		return "", false
	}
}

// ApplyMove is the single state-mutating entry point for gameplay. Order:
// terminal check, turn check, clock advance (a timeout here short-circuits
// and becomes the outcome), legality via the rules facade, then commit.
func (s *Session) ApplyMove(identity, from, to, promotion string) (*MoveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		return nil, ErrMatchOver
	}
	color, ok := s.ColorOf(identity)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	side := s.game.Turn()
	if color != side {
		return nil, ErrNotYourTurn
	}

	if s.clock.advance(side) {
		res := s.finish(wire.GameResult{Kind: wire.ResultTimeout, Winner: side.Other()})
		return &MoveOutcome{TimedOut: true, Result: res}, nil
	}

	san, err := s.game.Apply(from, to, promotion)
	if err != nil {
		return nil, ErrIllegalMove
	}
	s.moves = append(s.moves, wire.MoveRecord{
		SAN:       san,
		From:      from,
		To:        to,
		Timestamp: s.clock.lastEventMs(),
	})

	out := &MoveOutcome{SAN: san, From: from, To: to, FEN: s.game.FEN()}
	switch s.game.Status() {
	case rules.Checkmate:
		out.Result = s.finish(wire.GameResult{Kind: wire.ResultCheckmate, Winner: color})
	case rules.Stalemate:
		out.Result = s.finish(wire.GameResult{Kind: wire.ResultStalemate})
	case rules.Draw:
		out.Result = s.finish(wire.GameResult{Kind: wire.ResultDraw})
	}
	return out, nil
}

// Resign ends the match crediting the other color.
func (s *Session) Resign(identity string) (*wire.GameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		return nil, ErrMatchOver
	}
	color, ok := s.ColorOf(identity)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	return s.finish(wire.GameResult{Kind: wire.ResultResignation, Winner: color.Other()}), nil
}

// CheckTimeout charges elapsed time to the side to move, independent of any
// move arriving. Returns the result only when this call made the match
// terminal, so a periodic caller broadcasts game-over exactly once.
func (s *Session) CheckTimeout() *wire.GameResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		return nil
	}
	side := s.game.Turn()
	if s.clock.advance(side) {
		return s.finish(wire.GameResult{Kind: wire.ResultTimeout, Winner: side.Other()})
	}
	return nil
}

// Snapshot is the read-only projection used to build state broadcasts.
// Remaining times are elapsed-adjusted for display freshness but nothing is
// committed; a terminal match reports its frozen budgets.
func (s *Session) Snapshot() *wire.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var whiteMs, blackMs int64
	if s.terminal {
		whiteMs, blackMs = s.clock.budgets()
	} else {
		whiteMs, blackMs = s.clock.remaining(s.game.Turn())
	}
	return &wire.GameState{
		FEN:         s.game.FEN(),
		Moves:       append([]wire.MoveRecord(nil), s.moves...),
		WhiteTimeMs: whiteMs,
		BlackTimeMs: blackMs,
		SideToMove:  s.game.Turn(),
	}
}

// Terminal reports whether the match ended, and how.
func (s *Session) Terminal() (bool, *wire.GameResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.terminal {
		return false, nil
	}
	res := *s.result
	return true, &res
}

// TerminalSince reports when the match ended, for eviction sweeps.
func (s *Session) TerminalSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.terminal {
		return time.Time{}, false
	}
	return s.endedAt, true
}

// Moves returns a copy of the move log.
func (s *Session) Moves() []wire.MoveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.MoveRecord(nil), s.moves...)
}

// CreatedAt is the match start time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// EndedAt is zero while the match is live.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// finish marks the session terminal. Callers hold the lock. Returns a copy
// of the result for safe publication.
func (s *Session) finish(res wire.GameResult) *wire.GameResult {
	s.terminal = true
	s.result = &res
	s.endedAt = s.clock.now()
	out := res
	return &out
}
