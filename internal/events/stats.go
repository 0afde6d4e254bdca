package events

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
)

// Stats counts transitions observed in this process.
type Stats struct {
	mu          sync.Mutex
	transitions map[domain.TaskStatus]int64
	finished    int64
	totalTime   time.Duration
}

// NewStats creates an empty Stats handler.
func NewStats() *Stats {
	return &Stats{transitions: make(map[domain.TaskStatus]int64)}
}

// HandleEvent implements EventHandler.
func (s *Stats) HandleEvent(ctx context.Context, event *TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions[event.To]++
	if event.To.IsTerminal() && event.Duration > 0 {
		s.finished++
		s.totalTime += event.Duration
	}
	return nil
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Transitions           map[domain.TaskStatus]int64 `json:"transitions"`
	AvgProcessingMillis   int64                       `json:"avg_processing_ms"`
	FinishedWithDurations int64                       `json:"finished"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Transitions:           make(map[domain.TaskStatus]int64, len(s.transitions)),
		FinishedWithDurations: s.finished,
	}
	for k, v := range s.transitions {
		snap.Transitions[k] = v
	}
	if s.finished > 0 {
		snap.AvgProcessingMillis = (s.totalTime / time.Duration(s.finished)).Milliseconds()
	}
	return snap
}
