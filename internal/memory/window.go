package memory

import (
	"context"
	"sync"
	"time"
)

// Window is the in-memory [Store]. Each conversation keeps at most k
// exchanges; appending past the cap evicts the oldest whole exchange.
type Window struct {
	mu    sync.Mutex
	convs map[ConversationID]*conversation
	k     int
}

type conversation struct {
	mu        sync.Mutex
	exchanges [][]Turn
	total     int
	updatedAt time.Time
}

// NewWindow creates an in-memory window keeping k exchanges per
// conversation. k <= 0 selects [DefaultWindow].
func NewWindow(k int) *Window {
	if k <= 0 {
		k = DefaultWindow
	}
	return &Window{
		convs: make(map[ConversationID]*conversation),
		k:     k,
	}
}

// Size returns the configured exchange cap.
func (w *Window) Size() int { return w.k }

func (w *Window) get(id ConversationID, create bool) *conversation {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.convs[id]
	if !ok && create {
		c = &conversation{}
		w.convs[id] = c
	}
	return c
}

// Append adds turns to the conversation and evicts the oldest
// exchanges beyond the cap.
func (w *Window) Append(_ context.Context, id ConversationID, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	c := w.get(id, true)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range turns {
		if startsExchange(t, len(c.exchanges) > 0) {
			c.exchanges = append(c.exchanges, nil)
			c.total++
		}
		last := len(c.exchanges) - 1
		c.exchanges[last] = append(c.exchanges[last], t)
	}
	if over := len(c.exchanges) - w.k; over > 0 {
		c.exchanges = append([][]Turn(nil), c.exchanges[over:]...)
	}
	c.updatedAt = time.Now()
	return nil
}

// History returns a copy of the retained turns, oldest first.
func (w *Window) History(_ context.Context, id ConversationID) ([]Turn, error) {
	c := w.get(id, false)
	if c == nil {
		return []Turn{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Turn, 0, 2*len(c.exchanges))
	for _, ex := range c.exchanges {
		out = append(out, ex...)
	}
	return out, nil
}

// Clear forgets a conversation entirely.
func (w *Window) Clear(_ context.Context, id ConversationID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.convs, id)
	return nil
}

// Stats reports the retained size of one conversation.
func (w *Window) Stats(_ context.Context, id ConversationID) (Stats, error) {
	st := Stats{Window: w.k}
	c := w.get(id, false)
	if c == nil {
		return st, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st.Exchanges = len(c.exchanges)
	for _, ex := range c.exchanges {
		st.Turns += len(ex)
	}
	st.Total = c.total
	st.UpdatedAt = c.updatedAt
	return st, nil
}

// Conversations returns the number of conversations currently held.
func (w *Window) Conversations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.convs)
}
