package wire

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// ResultKind classifies how a match ended.
type ResultKind string

const (
	ResultCheckmate   ResultKind = "checkmate"
	ResultStalemate   ResultKind = "stalemate"
	ResultDraw        ResultKind = "draw"
	ResultResignation ResultKind = "resignation"
	ResultTimeout     ResultKind = "timeout"
)

// GameResult is the terminal outcome of a match. Winner is empty for draws.
type GameResult struct {
	Kind   ResultKind `json:"kind"`
	Winner Color      `json:"winner,omitempty"`
}

// MoveRecord is one entry of a match's move log. Immutable once appended;
// Timestamp is milliseconds since the Unix epoch.
type MoveRecord struct {
	SAN       string `json:"san"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
}
