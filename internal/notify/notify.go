// Package notify is the user-visible signal sink used by the board and the
// release coordinator. Rendering is left to the caller.
package notify

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

type Notifier interface {
	Notify(level Level, message string)
	// Loading toggles the busy indicator. Every true is paired with a false.
	Loading(label string, on bool)
}

// LogNotifier writes notifications through logrus.
type LogNotifier struct {
	Logger log.FieldLogger
}

func (n LogNotifier) logger() log.FieldLogger {
	if n.Logger == nil {
		return log.StandardLogger()
	}
	return n.Logger
}

func (n LogNotifier) Notify(level Level, message string) {
	entry := n.logger().WithField("level_hint", string(level))
	switch level {
	case Error:
		entry.Error(message)
	case Warning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

func (n LogNotifier) Loading(label string, on bool) {
	if on {
		n.logger().WithField("busy", true).Debug(label)
		return
	}
	n.logger().WithField("busy", false).Debug("done")
}

type Message struct {
	Level   Level
	Message string
}

// Recorder keeps everything it is told. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
	busy     int
	toggles  int
}

func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, Message{Level: level, Message: message})
}

func (r *Recorder) Loading(_ string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggles++
	if on {
		r.busy++
	} else {
		r.busy--
	}
}

// Busy reports whether a Loading(true) is still unmatched.
func (r *Recorder) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy > 0
}

func (r *Recorder) Toggles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toggles
}

func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.Messages {
		if m.Level == level {
			n++
		}
	}
	return n
}
