package wire

import (
	"encoding/json"
	"fmt"
)

// Frame is the JSON envelope carried on the wire in both directions:
// {"type": "...", "payload": {...}}.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client → server message types.
const (
	TypeCreateRoom = "create_room"
	TypeJoinRoom   = "join_room"
	TypeMakeMove   = "make_move"
	TypeResign     = "resign"
)

// Server → client message types.
const (
	TypeRoomCreated    = "room_created"
	TypeRoomJoined     = "room_joined"
	TypeGameState      = "game_state"
	TypeMoveMade       = "move_made"
	TypeInvalidMove    = "invalid_move"
	TypeOpponentJoined = "opponent_joined"
	TypeOpponentLeft   = "opponent_left"
	TypeGameOver       = "game_over"
	TypeError          = "error"
)

// ClientMessage is the sealed set of inbound protocol variants.
type ClientMessage interface{ isClient() }

type CreateRoom struct {
	RoomCode string `json:"room_code"`
}

type JoinRoom struct {
	RoomCode string `json:"room_code"`
}

type MakeMove struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type Resign struct{}

func (*CreateRoom) isClient() {}
func (*JoinRoom) isClient()   {}
func (*MakeMove) isClient()   {}
func (*Resign) isClient()     {}

// ServerMessage is the sealed set of outbound protocol variants.
type ServerMessage interface{ isServer() }

type RoomCreated struct {
	RoomCode string `json:"room_code"`
	Color    Color  `json:"color"`
}

type RoomJoined struct {
	RoomCode string `json:"room_code"`
	Color    Color  `json:"color"`
}

type GameState struct {
	FEN         string       `json:"fen"`
	Moves       []MoveRecord `json:"moves"`
	WhiteTimeMs int64        `json:"white_time_ms"`
	BlackTimeMs int64        `json:"black_time_ms"`
	SideToMove  Color        `json:"side_to_move"`
}

type MoveMade struct {
	From string `json:"from"`
	To   string `json:"to"`
	SAN  string `json:"san"`
	FEN  string `json:"fen"`
}

type InvalidMove struct {
	Reason string `json:"reason"`
}

type OpponentJoined struct{}

type OpponentLeft struct{}

type GameOver struct {
	Result GameResult `json:"result"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (*RoomCreated) isServer()    {}
func (*RoomJoined) isServer()     {}
func (*GameState) isServer()      {}
func (*MoveMade) isServer()       {}
func (*InvalidMove) isServer()    {}
func (*OpponentJoined) isServer() {}
func (*OpponentLeft) isServer()   {}
func (*GameOver) isServer()       {}
func (*ErrorMessage) isServer()   {}

var emptyPayload = json.RawMessage(`{}`)

// DecodeFrame maps an inbound envelope to its concrete client variant.
// Unknown types and malformed payloads are protocol errors; the caller
// replies with ErrorMessage and keeps the connection open.
func DecodeFrame(f Frame) (ClientMessage, error) {
	payload := f.Payload
	if len(payload) == 0 {
		payload = emptyPayload
	}
	var msg ClientMessage
	switch f.Type {
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeMakeMove:
		msg = &MakeMove{}
	case TypeResign:
		msg = &Resign{}
	default:
		return nil, fmt.Errorf("unknown message type %q", f.Type)
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return msg, nil
}

// Encode wraps a server variant into its wire envelope.
func Encode(m ServerMessage) (Frame, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", KindOf(m), err)
	}
	return Frame{Type: KindOf(m), Payload: payload}, nil
}

// KindOf returns the wire type string for a server variant.
func KindOf(m ServerMessage) string {
	switch m.(type) {
	case *RoomCreated:
		return TypeRoomCreated
	case *RoomJoined:
		return TypeRoomJoined
	case *GameState:
		return TypeGameState
	case *MoveMade:
		return TypeMoveMade
	case *InvalidMove:
		return TypeInvalidMove
	case *OpponentJoined:
		return TypeOpponentJoined
	case *OpponentLeft:
		return TypeOpponentLeft
	case *GameOver:
		return TypeGameOver
	case *ErrorMessage:
		return TypeError
	default:
		return ""
	}
}
