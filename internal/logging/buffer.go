package logging

import (
	"sync"
	"time"
)

// LogEntry is one record held for /api/logs. Seq increases by one per
// entry written to the buffer.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the newest entries. Entry n lives in slot n % size.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    uint64
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{entries: make([]LogEntry, size), next: 1}
}

// Write stores entry, evicting the oldest when full, and returns it with
// its sequence number set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	entry.Seq = rb.next
	rb.entries[rb.next%uint64(len(rb.entries))] = entry
	rb.next++
	return entry
}

// oldest is the first sequence number still held. Callers hold mu.
func (rb *RingBuffer) oldest() uint64 {
	size := uint64(len(rb.entries))
	if rb.next-1 <= size {
		return 1
	}
	return rb.next - size
}

// ReadAll returns every held entry, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Read("", 0)
}

// Read returns held entries of module, or of every module when module is
// empty, oldest first. A positive limit keeps only the newest limit.
func (rb *RingBuffer) Read(module string, limit int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []LogEntry
	size := uint64(len(rb.entries))
	for seq := rb.oldest(); seq < rb.next; seq++ {
		e := rb.entries[seq%size]
		if module == "" || e.Module == module {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Count returns the number of held entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.next - rb.oldest())
}
