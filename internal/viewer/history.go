package viewer

import "sync"

// Direction is the direction of a history navigation.
type Direction int

const (
	Back Direction = iota
	Forward
)

// String returns the string representation of the direction
func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "back"
}

// Entry is a recorded navigation.
type Entry struct {
	StateID int    `json:"state"`
	URL     string `json:"url"`
}

// History tracks viewer navigation entries with monotonically increasing
// state ids, so a pop can be classified as back or forward.
type History struct {
	mu      sync.Mutex
	lastID  int
	current int
	entries map[int]Entry

	onShow func(Entry)
	onHide func(Entry)
}

// NewHistory creates a history. onShow runs on forward navigation to an
// entry, onHide on back navigation away from the current one. Either may
// be nil.
func NewHistory(onShow, onHide func(Entry)) *History {
	return &History{
		entries: make(map[int]Entry),
		onShow:  onShow,
		onHide:  onHide,
	}
}

// Push records a navigation to url and returns the new entry.
func (h *History) Push(url string) Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	e := Entry{StateID: h.lastID, URL: url}
	h.entries[e.StateID] = e
	h.current = e.StateID
	return e
}

// Pop handles a back/forward navigation to stateID. ok is false when the
// popped state carries no id. An absent or lower id means back.
func (h *History) Pop(stateID int, ok bool) Direction {
	h.mu.Lock()
	prev, hadPrev := h.entries[h.current]
	dir := Back
	if ok && stateID > h.current {
		dir = Forward
	}
	if ok {
		h.current = stateID
	} else {
		h.current = 0
	}
	next, hasNext := h.entries[h.current]
	onShow, onHide := h.onShow, h.onHide
	h.mu.Unlock()

	switch dir {
	case Back:
		if hadPrev && onHide != nil {
			onHide(prev)
		}
	case Forward:
		if hasNext && onShow != nil {
			onShow(next)
		}
	}
	return dir
}

// Current returns the current entry, if any.
func (h *History) Current() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[h.current]
	return e, ok
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
