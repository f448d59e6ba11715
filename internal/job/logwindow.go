package job

import (
	"time"
)

// DefaultLogWindow is how many recent log entries a job retains.
const DefaultLogWindow = 30

type logKey struct {
	ts  int64
	msg string
}

// logWindow is an insertion-ordered, bounded set of log entries keyed by
// (timestamp, message). Duplicate keys are dropped; overflow evicts the
// oldest entry.
type logWindow struct {
	max     int
	entries []LogEntry
	seen    map[logKey]struct{}
}

func newLogWindow(max int) *logWindow {
	if max <= 0 {
		max = DefaultLogWindow
	}
	return &logWindow{
		max:  max,
		seen: make(map[logKey]struct{}, max),
	}
}

func (w *logWindow) append(ts time.Time, message string) bool {
	key := logKey{ts: ts.UnixNano(), msg: message}
	if _, dup := w.seen[key]; dup {
		return false
	}

	w.entries = append(w.entries, LogEntry{Timestamp: ts, Message: message})
	w.seen[key] = struct{}{}

	if len(w.entries) > w.max {
		oldest := w.entries[0]
		delete(w.seen, logKey{ts: oldest.Timestamp.UnixNano(), msg: oldest.Message})
		w.entries = append(w.entries[:0], w.entries[1:]...)
	}
	return true
}

func (w *logWindow) snapshot() []LogEntry {
	out := make([]LogEntry, len(w.entries))
	copy(out, w.entries)
	return out
}
