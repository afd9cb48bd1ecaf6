package match

import (
	"time"

	"github.com/park285/chess-match-server/pkg/wire"
)

// Clock tracks the two remaining-time budgets of one match, in milliseconds,
// plus the timestamp of the last state-changing event. Every wall-clock read
// goes through the injected now func, so clock correctness never depends on
// how many call sites exist. Callers hold the session lock.
type Clock struct {
	whiteMs   int64
	blackMs   int64
	lastEvent time.Time
	now       func() time.Time
}

func newClock(initialMs int64, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{
		whiteMs:   initialMs,
		blackMs:   initialMs,
		lastEvent: now(),
		now:       now,
	}
}

// advance charges the elapsed time since the last event to the side to move
// and commits the new last-event timestamp. Reports true when the budget ran
// out; the budget is clamped at zero, never negative.
func (c *Clock) advance(side wire.Color) bool {
	n := c.now()
	elapsed := n.Sub(c.lastEvent).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	c.lastEvent = n
	budget := &c.whiteMs
	if side == wire.Black {
		budget = &c.blackMs
	}
	if *budget <= elapsed {
		*budget = 0
		return true
	}
	*budget -= elapsed
	return false
}

// remaining projects both budgets against "now" without committing, for
// display freshness in snapshots. The side to move is charged the elapsed
// time since the last event, clamped at zero.
func (c *Clock) remaining(side wire.Color) (whiteMs, blackMs int64) {
	whiteMs, blackMs = c.whiteMs, c.blackMs
	elapsed := c.now().Sub(c.lastEvent).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if side == wire.White {
		whiteMs -= elapsed
	} else {
		blackMs -= elapsed
	}
	if whiteMs < 0 {
		whiteMs = 0
	}
	if blackMs < 0 {
		blackMs = 0
	}
	return whiteMs, blackMs
}

// budgets returns the committed values untouched, used once a match is
// terminal and the countdown has stopped.
func (c *Clock) budgets() (whiteMs, blackMs int64) {
	return c.whiteMs, c.blackMs
}

func (c *Clock) lastEventMs() int64 {
	return c.lastEvent.UnixMilli()
}
