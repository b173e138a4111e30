package processor

import (
	"fmt"
	"log/slog"
	"sync"
)

// CrashNotifier shows the user a solver failure notice at most once until Reset.
type CrashNotifier struct {
	mu     sync.Mutex
	shown  bool
	notify func(msg string)
}

// NewCrashNotifier returns a notifier that passes its message to notify.
// A nil notify logs the message instead.
func NewCrashNotifier(notify func(msg string)) *CrashNotifier {
	if notify == nil {
		notify = func(msg string) { slog.Error(msg) }
	}
	return &CrashNotifier{notify: notify}
}

var defaultNotifier = NewCrashNotifier(nil)

// DefaultNotifier returns the process-wide notifier.
func DefaultNotifier() *CrashNotifier { return defaultNotifier }

// Report notifies the user of err unless a notice was already shown. It
// reports whether a notice was shown.
func (n *CrashNotifier) Report(err error, dumpPath string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shown {
		return false
	}
	n.shown = true
	msg := fmt.Sprintf("Background resource processing failed and the vessel was made inert: %v.", err)
	if dumpPath != "" {
		msg += fmt.Sprintf(" Please attach %s to a bug report.", dumpPath)
	}
	n.notify(msg)
	return true
}

// Shown reports whether a notice has been shown since the last Reset.
func (n *CrashNotifier) Shown() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shown
}

// Reset allows the next failure to be shown again.
func (n *CrashNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = false
}
