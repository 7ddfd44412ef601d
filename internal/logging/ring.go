package logging

import (
	"sync"
	"time"
)

// Entry is one record kept in the log history.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent entries, dropping the oldest when full.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{entries: make([]Entry, size)}
}

// Write stores e.
func (rb *RingBuffer) Write(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.next] = e
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.full = true
	}
}

// Snapshot returns the stored entries oldest first.
func (rb *RingBuffer) Snapshot() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if !rb.full {
		out := make([]Entry, rb.next)
		copy(out, rb.entries[:rb.next])
		return out
	}
	out := make([]Entry, 0, len(rb.entries))
	out = append(out, rb.entries[rb.next:]...)
	return append(out, rb.entries[:rb.next]...)
}

// Tail returns at most n of the newest entries, oldest first.
func (rb *RingBuffer) Tail(n int) []Entry {
	all := rb.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}
