// Package runtime holds the shared per-process run state: the single
// "a download is running" flag and the bounded status message log that
// the worker writes and the streaming endpoint tails. Both live under
// one mutex so the streamer can observe them atomically.
package runtime

import (
	"fmt"
	"sync"
	"time"
)

// MaxMessages bounds the status log; the oldest entries are evicted first.
const MaxMessages = 500

// Poll is an atomic snapshot of new status lines plus the run flag,
// taken in one critical section for the streaming endpoint.
type Poll struct {
	Lines     []string
	NewOffset int
	Running   bool
}

// State is the shared runtime state, constructed once at startup and
// injected into every component that needs it.
type State struct {
	mu       sync.Mutex
	running  bool
	messages []string
	now      func() time.Time
}

// New creates an empty State.
func New() *State {
	return &State{now: time.Now}
}

// TryAcquire atomically claims the run slot. It returns false if a run
// is already active; a rejected acquire is terminal for the caller,
// there is no queuing.
func (s *State) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// Release unconditionally clears the run flag.
func (s *State) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Running reports whether a download run is active.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Append adds a timestamped status line, evicting the oldest entries
// once the log exceeds MaxMessages.
func (s *State) Append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := fmt.Sprintf("%s: %s", s.now().Format("2006-01-02 15:04:05"), text)
	s.messages = append(s.messages, line)
	if n := len(s.messages); n > MaxMessages {
		s.messages = append(s.messages[:0:0], s.messages[n-MaxMessages:]...)
	}
}

// Appendf is Append with formatting.
func (s *State) Appendf(format string, args ...any) {
	s.Append(fmt.Sprintf(format, args...))
}

// ResetMessages clears the status log. Called at the start of each run.
func (s *State) ResetMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// ReadFrom returns the status lines from offset to the end plus the new
// offset. Offsets are absolute only within one run; ResetMessages
// invalidates them, so an offset past the end reads as empty.
func (s *State) ReadFrom(offset int) ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readFromLocked(offset)
}

// Snapshot atomically reads new lines since offset together with the
// run flag.
func (s *State) Snapshot(offset int) Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, newOffset := s.readFromLocked(offset)
	return Poll{Lines: lines, NewOffset: newOffset, Running: s.running}
}

func (s *State) readFromLocked(offset int) ([]string, int) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.messages) {
		return nil, len(s.messages)
	}
	lines := make([]string, len(s.messages)-offset)
	copy(lines, s.messages[offset:])
	return lines, len(s.messages)
}
