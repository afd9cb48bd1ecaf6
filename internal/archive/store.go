// Package archive persists terminal matches for later retrieval. Gameplay
// never reads from it; a failed write costs history, not a match.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-match-server/pkg/wire"
)

const ttlRecord = 24 * time.Hour

// Record is the archived form of one finished match.
type Record struct {
	RoomCode  string            `json:"room_code"`
	WhiteID   string            `json:"white_id"`
	BlackID   string            `json:"black_id"`
	Result    wire.GameResult   `json:"result"`
	Moves     []wire.MoveRecord `json:"moves"`
	FinalFEN  string            `json:"final_fen"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
}

// Store keeps finished matches in Redis under a TTL, with per-player index
// sets for lookups.
type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for archive store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// SaveFinished writes the record and refreshes the player indexes. Nil-safe:
// a server running without Redis archives nothing.
func (s *Store) SaveFinished(ctx context.Context, rec *Record) error {
	if s == nil || s.rdb == nil || rec == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyMatch(rec.RoomCode), raw, ttlRecord).Err(); err != nil {
		return err
	}
	for _, id := range []string{rec.WhiteID, rec.BlackID} {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := s.rdb.SAdd(ctx, keyPlayerIdx(id), rec.RoomCode).Err(); err != nil {
			return err
		}
		_ = s.rdb.Expire(ctx, keyPlayerIdx(id), ttlRecord).Err()
	}
	return nil
}

// Load returns the archived record for a room code, or nil when absent or
// expired.
func (s *Store) Load(ctx context.Context, roomCode string) (*Record, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, keyMatch(roomCode)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CodesByPlayer lists archived room codes a player took part in.
func (s *Store) CodesByPlayer(ctx context.Context, playerID string) ([]string, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}
	return s.rdb.SMembers(ctx, keyPlayerIdx(playerID)).Result()
}

func keyMatch(code string) string   { return "match:archive:" + strings.TrimSpace(code) }
func keyPlayerIdx(id string) string { return "match:index:player:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
