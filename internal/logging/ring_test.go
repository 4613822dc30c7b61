package logging

import (
	"fmt"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func TestRingNewestFirstAndWrap(t *testing.T) {
	t.Parallel()

	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Accept("amia", hclog.Info, fmt.Sprintf("msg-%d", i))
	}

	page := r.Query(1, 20, "", "")
	assert.Equal(t, 3, page.Pagination.TotalLogs)
	assert.Equal(t, "msg-4", page.Logs[0].Message)
	assert.Equal(t, "msg-2", page.Logs[2].Message)
}

func TestRingLevelFilter(t *testing.T) {
	t.Parallel()

	r := NewRing(10)
	r.Accept("amia", hclog.Debug, "noisy")
	r.Accept("amia", hclog.Error, "broken")
	r.Accept("amia.plugin", hclog.Info, "loaded")

	page := r.Query(1, 20, "error", "")
	assert.Equal(t, 1, page.Pagination.TotalLogs)
	assert.Equal(t, "broken", page.Logs[0].Message)
}

func TestRingSearchAndPagination(t *testing.T) {
	t.Parallel()

	r := NewRing(100)
	for i := 0; i < 25; i++ {
		r.Accept("amia.plugin", hclog.Info, fmt.Sprintf("dispatch %d", i), "plugin", "echo")
	}
	r.Accept("amia.web", hclog.Info, "request served")

	page := r.Query(2, 10, "", "dispatch")
	assert.Equal(t, 25, page.Pagination.TotalLogs)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.Len(t, page.Logs, 10)
	// Newest first: page 2 starts at the 11th newest.
	assert.Equal(t, "dispatch 14 plugin=echo", page.Logs[0].Message)
}

func TestRingKeyValueFormatting(t *testing.T) {
	t.Parallel()

	r := NewRing(4)
	r.Accept("amia.plugin", hclog.Warn, "trigger dropped", "plugin", "echo", "trigger", "bad-regex")

	page := r.Query(1, 20, "", "")
	assert.Equal(t, "trigger dropped plugin=echo trigger=bad-regex", page.Logs[0].Message)
	assert.Equal(t, "warn", page.Logs[0].Level)
}
