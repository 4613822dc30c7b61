package store

import (
	"context"
	"time"
)

// Dispatch represents a single handler invocation for a matched trigger.
type Dispatch struct {
	ID         string    `json:"id"`
	PluginID   string    `json:"plugin_id"`
	TriggerID  string    `json:"trigger_id"`
	Kind       string    `json:"kind"` // trigger type: "text_pattern", "text_command", "match_message", "schedule"
	UserID     int64     `json:"user_id,omitempty"`
	GroupID    int64     `json:"group_id,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Status     string    `json:"status"` // "ok", "error"
	DurationMs int64     `json:"duration_ms"`
	ErrorMsg   string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListOpts controls filtering and pagination for dispatch queries.
type ListOpts struct {
	PluginID string
	Limit    int
	Offset   int
}

// PluginStats holds aggregate dispatch statistics for a plugin.
type PluginStats struct {
	PluginID      string     `json:"plugin_id"`
	TotalDispatch int        `json:"total_dispatch"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	LastDispatch  *time.Time `json:"last_dispatch,omitempty"`
	AvgDurationMs float64    `json:"avg_duration_ms"`
}

// DispatchStore is the interface for persisting and querying trigger dispatches.
type DispatchStore interface {
	RecordDispatch(ctx context.Context, d *Dispatch) error
	GetDispatch(ctx context.Context, id string) (*Dispatch, error)
	ListDispatches(ctx context.Context, opts ListOpts) ([]*Dispatch, error)
	GetPluginStats(ctx context.Context, pluginID string) (*PluginStats, error)
	ListPluginStats(ctx context.Context) ([]*PluginStats, error)
}
