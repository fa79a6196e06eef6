// Package common holds small helpers shared by the pipeline and its callers:
// stage timing and memory snapshots.
package common

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Timer measures one named span of work.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a started, unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer creates a started timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop).
func (t *Timer) Duration() time.Duration { return t.duration }

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return t.duration.String()
}

// StageTiming is the measured duration of one stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Stopwatch records stage durations in the order stages finish. It is safe
// for concurrent use.
type Stopwatch struct {
	mu     sync.Mutex
	stages []StageTiming
}

// Start begins timing stage; the returned func records it.
func (s *Stopwatch) Start(stage string) func() time.Duration {
	t := NewNamedTimer(stage)
	return func() time.Duration {
		d := t.Stop()
		s.mu.Lock()
		s.stages = append(s.stages, StageTiming{Stage: stage, Duration: d})
		s.mu.Unlock()
		return d
	}
}

// Timings returns a copy of the recorded stages.
func (s *Stopwatch) Timings() []StageTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageTiming, len(s.stages))
	copy(out, s.stages)
	return out
}

// Total sums all recorded stages.
func (s *Stopwatch) Total() time.Duration {
	var total time.Duration
	for _, st := range s.Timings() {
		total += st.Duration
	}
	return total
}

func (s *Stopwatch) String() string {
	timings := s.Timings()
	parts := make([]string, 0, len(timings))
	for _, st := range timings {
		parts = append(parts, fmt.Sprintf("%s=%v", st.Stage, st.Duration.Round(time.Microsecond)))
	}
	return strings.Join(parts, " ")
}
