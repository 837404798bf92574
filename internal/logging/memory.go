package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultBufferSize is the ring capacity used when none is given.
const DefaultBufferSize = 1000

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

// MemoryHandler is a slog.Handler that keeps the most recent records in a
// bounded ring. Handlers derived through WithAttrs and WithGroup share the
// ring of their parent.
type MemoryHandler struct {
	ring   *ring
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

type ring struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

var _ slog.Handler = (*MemoryHandler)(nil)

// NewMemoryHandler creates a handler retaining at most maxEntries records
// at or above level. A nil level records everything.
func NewMemoryHandler(maxEntries int, level slog.Leveler) *MemoryHandler {
	if maxEntries <= 0 {
		maxEntries = DefaultBufferSize
	}
	if level == nil {
		level = slog.LevelDebug
	}
	return &MemoryHandler{
		ring:  &ring{entries: make([]Entry, 0, maxEntries), maxSize: maxEntries},
		level: level,
	}
}

// Enabled implements slog.Handler.
func (h *MemoryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *MemoryHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.String()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = a.Value.String()
		return true
	})

	entry := Entry{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	}

	r := h.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.maxSize {
		r.entries = r.entries[1:]
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *MemoryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	out.attrs = append(out.attrs, h.attrs...)
	for _, a := range attrs {
		out.attrs = append(out.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &out
}

// WithGroup implements slog.Handler. Group names are flattened into
// dotted attribute keys.
func (h *MemoryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.prefix = h.prefix + name + "."
	return &out
}

// Entries returns a copy of all retained entries, oldest first.
func (h *MemoryHandler) Entries() []Entry {
	r := h.ring
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Recent returns the most recent count entries, oldest first.
func (h *MemoryHandler) Recent(count int) []Entry {
	r := h.ring
	r.mu.RLock()
	defer r.mu.RUnlock()
	if count <= 0 || count > len(r.entries) {
		count = len(r.entries)
	}
	out := make([]Entry, count)
	copy(out, r.entries[len(r.entries)-count:])
	return out
}

// Search returns entries whose message or attribute values contain query
// (case-insensitive).
func (h *MemoryHandler) Search(query string) []Entry {
	query = strings.ToLower(query)
	r := h.ring
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if entryMatches(e, query) {
			out = append(out, e)
		}
	}
	return out
}

func entryMatches(e Entry, query string) bool {
	if strings.Contains(strings.ToLower(e.Message), query) {
		return true
	}
	for _, v := range e.Attrs {
		if strings.Contains(strings.ToLower(v), query) {
			return true
		}
	}
	return false
}

// Count returns how many retained entries have exactly msg as message.
func (h *MemoryHandler) Count(msg string) int {
	r := h.ring
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.Message == msg {
			n++
		}
	}
	return n
}

// Clear drops all retained entries.
func (h *MemoryHandler) Clear() {
	r := h.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
}
