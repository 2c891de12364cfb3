package tui

import "time"

// MsgInitTasks is sent when the plan is known.
type MsgInitTasks struct {
	Tasks        []string
	Dependencies map[string][]string
	Targets      []string
}

// MsgTaskStart is sent when a module's check starts.
type MsgTaskStart struct {
	SpanID    string
	ParentID  string
	Name      string
	StartTime time.Time
}

// MsgTaskLog carries output written to a module's span.
type MsgTaskLog struct {
	SpanID string
	Data   []byte
}

// MsgTaskComplete is sent when a module's check ends.
type MsgTaskComplete struct {
	SpanID  string
	EndTime time.Time
	Err     error
	Cached  bool
}
