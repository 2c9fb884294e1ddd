package logging

import (
	"strings"
	"sync"
	"time"
)

// EventRecord is a processed controller event kept for operators.
type EventRecord struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"` // "ra-attached", "prefix-detached", ...
	Link   string    `json:"link,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// EventBuffer is a thread-safe circular buffer of recent events.
type EventBuffer struct {
	mu    sync.RWMutex
	buf   []EventRecord
	size  int
	head  int // next write position
	count int
	seq   uint64

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

// Subscription receives new events from an EventBuffer.
type Subscription struct {
	C  chan EventRecord
	eb *EventBuffer
}

// Close unsubscribes. The channel is not closed.
func (s *Subscription) Close() {
	s.eb.unsubscribe(s)
}

// NewEventBuffer creates a buffer holding the last size events.
func NewEventBuffer(size int) *EventBuffer {
	if size < 1 {
		size = 1
	}
	return &EventBuffer{
		buf:  make([]EventRecord, size),
		size: size,
		subs: make(map[*Subscription]struct{}),
	}
}

// Add stores rec, overwriting the oldest entry when full, and assigns
// its sequence number. Slow subscribers miss events rather than block.
func (eb *EventBuffer) Add(rec EventRecord) {
	eb.mu.Lock()
	eb.seq++
	rec.Seq = eb.seq
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	eb.buf[eb.head] = rec
	eb.head = (eb.head + 1) % eb.size
	if eb.count < eb.size {
		eb.count++
	}
	eb.mu.Unlock()

	eb.subMu.RLock()
	for sub := range eb.subs {
		select {
		case sub.C <- rec:
		default:
		}
	}
	eb.subMu.RUnlock()
}

// Subscribe returns a Subscription that receives new events.
func (eb *EventBuffer) Subscribe(bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = 64
	}
	sub := &Subscription{
		C:  make(chan EventRecord, bufSize),
		eb: eb,
	}
	eb.subMu.Lock()
	eb.subs[sub] = struct{}{}
	eb.subMu.Unlock()
	return sub
}

func (eb *EventBuffer) unsubscribe(sub *Subscription) {
	eb.subMu.Lock()
	delete(eb.subs, sub)
	eb.subMu.Unlock()
}

// EventFilter selects events by link and kind.
type EventFilter struct {
	Link string // exact device name; empty matches all
	Kind string // case-insensitive substring of Kind
}

// Matches reports whether rec passes the filter.
func (f EventFilter) Matches(rec EventRecord) bool { return f.matches(&rec) }

func (f EventFilter) matches(rec *EventRecord) bool {
	if f.Link != "" && rec.Link != f.Link {
		return false
	}
	if f.Kind != "" && !strings.Contains(strings.ToLower(rec.Kind), strings.ToLower(f.Kind)) {
		return false
	}
	return true
}

// LatestFiltered returns the most recent n matching events, newest first.
func (eb *EventBuffer) LatestFiltered(n int, f EventFilter) []EventRecord {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []EventRecord
	for i := 0; i < eb.count && len(result) < n; i++ {
		idx := (eb.head - 1 - i + eb.size) % eb.size
		if f.matches(&eb.buf[idx]) {
			result = append(result, eb.buf[idx])
		}
	}
	return result
}

// Latest returns the most recent n events, newest first.
func (eb *EventBuffer) Latest(n int) []EventRecord {
	return eb.LatestFiltered(n, EventFilter{})
}

// Seq returns the sequence number of the newest event.
func (eb *EventBuffer) Seq() uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.seq
}
