package syncer

import (
	"fmt"
	"log"
	"time"
)

// Level is the severity of a Notice.
type Level int

const (
	// LevelInfo reports a normal transition (login merge finished, ...).
	LevelInfo Level = iota
	// LevelWarn reports a recoverable sync error. In-memory state is kept.
	LevelWarn
	// LevelError reports a failure that left a backend unusable for the session.
	LevelError
)

// String returns a human-readable representation of the level.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a user-facing message emitted on the side channel instead of a
// returned error.
type Notice struct {
	Level   Level
	Op      string // e.g. "hydrate", "merge", "write:add_task"
	Message string
	Err     error
	Time    time.Time
}

// String formats the notice for logs and terminals.
func (n Notice) String() string {
	if n.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", n.Level, n.Op, n.Message, n.Err)
	}
	return fmt.Sprintf("%s %s: %s", n.Level, n.Op, n.Message)
}

// Notifier receives notices. Notify is called from the orchestrator's
// goroutines and must not block for long.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes every notice to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notice) {
	if l.Logger != nil {
		l.Logger.Println(n.String())
	}
}

// MultiNotifier fans a notice out to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(n Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}
