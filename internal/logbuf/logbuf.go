// Package logbuf keeps the most recent log lines in memory for the API.
package logbuf

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one captured log line
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// Buffer is a thread-safe ring buffer fed by zerolog's JSON output
type Buffer struct {
	entries []Entry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
	now     func() time.Time
}

// New creates a buffer holding at most size entries
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
		now:     time.Now,
	}
}

// Write implements io.Writer. Each call is expected to carry one zerolog event.
func (b *Buffer) Write(p []byte) (int, error) {
	raw := strings.TrimRight(string(p), "\n")
	entry := parse(raw)

	b.mu.Lock()
	defer b.mu.Unlock()

	entry.Timestamp = b.now()
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	return len(p), nil
}

// Entries returns all entries in chronological order
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, b.count)
	start := 0
	if b.count == b.size {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(start+i)%b.size]
	}
	return result
}

// Recent returns up to n of the newest entries at or above minLevel
func (b *Buffer) Recent(n int, minLevel zerolog.Level) []Entry {
	all := b.Entries()
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		lvl, err := zerolog.ParseLevel(e.Level)
		if err != nil || lvl >= minLevel {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Clear drops all entries
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

func parse(raw string) Entry {
	e := Entry{Raw: raw, Level: zerolog.InfoLevel.String(), Message: raw}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return e
	}
	if lvl, ok := fields[zerolog.LevelFieldName].(string); ok {
		e.Level = lvl
	}
	if msg, ok := fields[zerolog.MessageFieldName].(string); ok {
		e.Message = msg
	} else {
		e.Message = ""
	}
	if c, ok := fields["component"].(string); ok {
		e.Component = c
	}
	return e
}
