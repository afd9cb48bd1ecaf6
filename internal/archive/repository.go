package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/chess-match-server/pkg/wire"
)

// Repository upserts final match results into Postgres, including a PGN
// rendering of the move log.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts one finished match keyed by room code.
func (r *Repository) SaveResult(ctx context.Context, rec *Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}

	pgnResult := mapResultToPGN(rec.Result)
	pgn := buildPGN(rec, pgnResult)
	movesRaw, _ := json.Marshal(rec.Moves)
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO match_results (
	    room_code, white_id, black_id,
	    result_kind, winner, final_fen, moves, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	  ) ON CONFLICT (room_code) DO UPDATE SET
	    white_id=EXCLUDED.white_id,
	    black_id=EXCLUDED.black_id,
	    result_kind=EXCLUDED.result_kind,
	    winner=EXCLUDED.winner,
	    final_fen=EXCLUDED.final_fen,
	    moves=EXCLUDED.moves,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.RoomCode, rec.WhiteID, rec.BlackID,
		string(rec.Result.Kind), string(rec.Result.Winner), rec.FinalFEN, string(movesRaw), pgn,
		rec.StartedAt, rec.EndedAt, duration,
	)
	return err
}

func mapResultToPGN(res wire.GameResult) string {
	switch res.Winner {
	case wire.White:
		return "1-0"
	case wire.Black:
		return "0-1"
	}
	switch res.Kind {
	case wire.ResultStalemate, wire.ResultDraw:
		return "1/2-1/2"
	}
	return "*"
}

func buildPGN(rec *Record, pgnResult string) string {
	if rec == nil {
		return ""
	}
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Live match\"]\n")
	b.WriteString("[Site \"chess-match-server\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(rec.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(rec.BlackID)))
	b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(rec.Result.Kind))))
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(rec.Moves); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(rec.Moves[i].SAN)))
		if i+1 < len(rec.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.Moves[i+1].SAN))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
