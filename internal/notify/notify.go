// Package notify posts staff-facing notices (purge results, queue digests)
// to a chat platform.
package notify

import (
	"context"
	"fmt"
	"sync"
)

// Severity levels.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Sidebar colors per severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Notifier delivers a Message to staff.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Message is a platform-neutral notice.
type Message struct {
	Title    string
	Text     string
	Severity string
	Fields   []Field
}

// Field is a key-value pair rendered alongside the message.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Color returns the sidebar color for the message severity.
func (m Message) Color() string {
	switch m.Severity {
	case SeveritySuccess:
		return ColorSuccess
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// Noop discards every message.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Message) error { return nil }

// Recorder keeps every message it receives. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error // returned from Notify when set
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Validate reports an error for a message with neither title nor text.
func Validate(msg Message) error {
	if msg.Title == "" && msg.Text == "" {
		return fmt.Errorf("notify: message has no title or text")
	}
	return nil
}
