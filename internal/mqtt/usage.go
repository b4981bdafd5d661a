package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/sundevil-helper/internal/events"
)

// DailyUsage counts answered questions and reasoner tokens, resetting
// at local midnight. It is safe for concurrent use.
type DailyUsage struct {
	mu        sync.Mutex
	questions int64
	failed    int64
	input     int64
	output    int64
	resetDay  int // day-of-year of last reset
	loc       *time.Location
	now       func() time.Time
}

// UsageSnapshot is the retained payload published to <prefix>/usage.
type UsageSnapshot struct {
	Date         string `json:"date"`
	Questions    int64  `json:"questions"`
	Failed       int64  `json:"failed"`
	TokensIn     int64  `json:"tokens_in"`
	TokensOut    int64  `json:"tokens_out"`
	InstanceID   string `json:"instance_id,omitempty"`
	AgentVersion string `json:"version,omitempty"`
}

// NewDailyUsage creates a counter using loc for midnight detection.
// A nil loc means [time.Local].
func NewDailyUsage(loc *time.Location) *DailyUsage {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyUsage{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Observe folds one bus event into the counters. It reports whether
// the event changed them.
func (d *DailyUsage) Observe(e events.Event) bool {
	switch e.Kind {
	case events.KindLLMResponse:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.maybeReset()
		d.input += asInt64(e.Data["tokens_in"])
		d.output += asInt64(e.Data["tokens_out"])
		return true
	case events.KindRequestComplete:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.maybeReset()
		if e.Data["outcome"] == "error" {
			d.failed++
		} else {
			d.questions++
		}
		return true
	}
	return false
}

// Snapshot returns the current totals after checking for midnight
// rollover.
func (d *DailyUsage) Snapshot() UsageSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return UsageSnapshot{
		Date:      d.now().In(d.loc).Format(time.DateOnly),
		Questions: d.questions,
		Failed:    d.failed,
		TokensIn:  d.input,
		TokensOut: d.output,
	}
}

// maybeReset zeroes the counters if the local day has changed. Must be
// called with d.mu held.
func (d *DailyUsage) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.questions, d.failed, d.input, d.output = 0, 0, 0, 0
		d.resetDay = today
	}
}

// asInt64 reads a counter out of event data, which holds ints when
// published in-process and float64 after a JSON round trip.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
