package app

import "quiz-room-service/internal/domain"

// DefaultActionLogSize bounds the per-room host action history.
const DefaultActionLogSize = 50

// ActionLog is a fixed-capacity ring of host actions; appending to a full log
// evicts the oldest entry.
type ActionLog struct {
	buf   []domain.HostAction
	start int
	size  int
}

func NewActionLog(capacity int) *ActionLog {
	if capacity <= 0 {
		capacity = DefaultActionLogSize
	}
	return &ActionLog{buf: make([]domain.HostAction, capacity)}
}

// Append adds an action, evicting the oldest when full.
func (l *ActionLog) Append(a domain.HostAction) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = a
		l.size++
		return
	}
	l.buf[l.start] = a
	l.start = (l.start + 1) % len(l.buf)
}

// Len returns the number of stored actions.
func (l *ActionLog) Len() int { return l.size }

// Cap returns the capacity.
func (l *ActionLog) Cap() int { return len(l.buf) }

// Entries returns the stored actions oldest first.
func (l *ActionLog) Entries() []domain.HostAction {
	out := make([]domain.HostAction, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}
