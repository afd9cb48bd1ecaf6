// Package rules is the move-legality facade. It is the only package that
// imports the chess library; callers hand it origin/destination squares and
// get back SAN, the next position as FEN, and terminal-state detection.
package rules

import (
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-match-server/pkg/wire"
)

// ErrIllegalMove is returned for any candidate move the engine rejects,
// including unparseable square or promotion input.
var ErrIllegalMove = errors.New("illegal move")

// Status is the engine's terminal-state report for the current position.
type Status int

const (
	Ongoing Status = iota
	Checkmate
	Stalemate
	Draw
)

// Game wraps one live engine game. Not safe for concurrent use; the owning
// match session serializes access.
type Game struct {
	g *nchess.Game
}

// NewGame starts from the standard initial position. Positions are only ever
// advanced move by move, so the FEN exposed at the boundary always reflects
// the applied move log.
func NewGame() *Game {
	return &Game{g: nchess.NewGame()}
}

// Apply validates and plays a candidate move given as origin/destination
// squares plus an optional promotion piece. Returns the SAN for the move.
func (r *Game) Apply(from, to, promotion string) (string, error) {
	uci := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + normalizePromotion(promotion))
	if len(uci) < 4 {
		return "", ErrIllegalMove
	}
	pos := r.g.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return "", ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := r.g.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return "", ErrIllegalMove
	}
	return san, nil
}

// FEN is the single-line position notation at the boundary; it round-trips
// losslessly between server and engine.
func (r *Game) FEN() string {
	return r.g.FEN()
}

// Turn reports the side to move.
func (r *Game) Turn() wire.Color {
	if r.g.Position().Turn() == nchess.White {
		return wire.White
	}
	return wire.Black
}

// Status reports whether the position is terminal. Checkmate covers either
// color; the caller knows the mover and credits the win.
func (r *Game) Status() Status {
	switch r.g.Outcome() {
	case nchess.NoOutcome:
		return Ongoing
	case nchess.Draw:
		if r.g.Method() == nchess.Stalemate {
			return Stalemate
		}
		return Draw
	default:
		return Checkmate
	}
}

func normalizePromotion(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "q", "queen":
		return "q"
	case "r", "rook":
		return "r"
	case "b", "bishop":
		return "b"
	case "n", "knight":
		return "n"
	default:
		return ""
	}
}
