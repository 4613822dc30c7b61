package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
}

// Ring is a fixed-capacity buffer of recent log entries. It implements
// hclog.SinkAdapter so it can be registered on an intercept logger and
// capture everything the daemon logs, for the admin console log view.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	pos     int
	full    bool
}

// NewRing creates a Ring holding up to size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 2000
	}
	return &Ring{entries: make([]Entry, size)}
}

// Accept implements hclog.SinkAdapter.
func (r *Ring) Accept(name string, level hclog.Level, msg string, args ...interface{}) {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}

	e := Entry{
		Time:    time.Now(),
		Level:   level.String(),
		Name:    name,
		Message: b.String(),
	}

	r.mu.Lock()
	r.entries[r.pos] = e
	r.pos++
	if r.pos == len(r.entries) {
		r.pos = 0
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns entries newest-first.
func (r *Ring) snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.pos
	if r.full {
		n = len(r.entries)
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := r.pos - 1 - i
		if idx < 0 {
			idx += len(r.entries)
		}
		out = append(out, r.entries[idx])
	}
	return out
}

// Page is one page of log entries plus pagination metadata.
type Page struct {
	Logs       []Entry        `json:"logs"`
	Pagination PaginationInfo `json:"pagination"`
}

// PaginationInfo describes the position of a page within the filtered set.
type PaginationInfo struct {
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
	TotalPages  int `json:"total_pages"`
	TotalLogs   int `json:"total_logs"`
}

// Query returns one page of entries, newest first, optionally filtered by
// minimum level and a case-insensitive substring search.
func (r *Ring) Query(page, pageSize int, level, search string) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	minLevel := hclog.NoLevel
	if level != "" {
		minLevel = hclog.LevelFromString(level)
	}
	search = strings.ToLower(search)

	all := r.snapshot()
	filtered := all[:0:0]
	for _, e := range all {
		if minLevel != hclog.NoLevel && hclog.LevelFromString(e.Level) < minLevel {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Message), search) &&
			!strings.Contains(strings.ToLower(e.Name), search) {
			continue
		}
		filtered = append(filtered, e)
	}

	total := len(filtered)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return Page{
		Logs: filtered[start:end],
		Pagination: PaginationInfo{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalPages:  totalPages,
			TotalLogs:   total,
		},
	}
}
