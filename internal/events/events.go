// Package events publishes terminal host lifecycle events to interested
// observers. Publishing is fire-and-forget: a failing sink never blocks or
// fails a terminal operation.
package events

import "time"

// Kind identifies a lifecycle event.
type Kind string

const (
	ServiceCreated Kind = "service.created"
	ServiceRemoved Kind = "service.removed"
	TerminalOpened Kind = "terminal.opened"
	TerminalClosed Kind = "terminal.closed"
)

// Event is a single lifecycle notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	ServiceID  string    `json:"service_id"`
	TerminalID int32     `json:"terminal_id,omitempty"`
	Pid        int       `json:"pid,omitempty"`
	ExitCode   int32     `json:"exit_code,omitempty"`
	Persistent bool      `json:"persistent,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

// Sink receives lifecycle events.
type Sink interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder keeps every published event in memory. It is meant for tests.
type Recorder struct {
	ch chan Event
}

// NewRecorder returns a Recorder able to hold size events before dropping.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(ev Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// Events returns the channel of recorded events.
func (r *Recorder) Events() <-chan Event { return r.ch }
