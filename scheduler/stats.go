package scheduler

import (
	"sync"
	"time"
)

// Status is a task's current lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// TaskStats is a consistent snapshot of one task's runtime statistics.
type TaskStats struct {
	TaskID       string        `json:"task_id"`
	Trigger      string        `json:"trigger"`
	Executions   uint64        `json:"executions"`
	Failures     uint64        `json:"failures"`
	LastStart    time.Time     `json:"last_start,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	MeanDuration time.Duration `json:"mean_duration"`
	Status       Status        `json:"status"`
}

// Snapshot is the read-only view exposed to the instrumentation subsystem.
type Snapshot struct {
	Tasks           []TaskStats `json:"tasks"`
	TotalTasks      int         `json:"total_tasks"`
	RunningTasks    int         `json:"running_tasks"`
	TotalExecutions uint64      `json:"total_executions"`
	TotalFailures   uint64      `json:"total_failures"`
}

// taskState holds the mutable statistics for one task. Writes happen only
// from the task's own execution goroutine and from Stop; reads take the
// same mutex so external observers see consistent values.
type taskState struct {
	mu           sync.Mutex
	executions   uint64
	failures     uint64
	lastStart    time.Time
	lastDuration time.Duration
	meanDuration time.Duration
	status       Status
}

func (s *taskState) recordStart(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStart = at
	s.status = StatusRunning
}

func (s *taskState) recordResult(duration time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions++
	if failed {
		s.failures++
		s.status = StatusError
	} else {
		s.status = StatusPending
	}
	s.lastDuration = duration
	// Rolling mean over all executions.
	s.meanDuration += (duration - s.meanDuration) / time.Duration(s.executions)
}

func (s *taskState) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusStopped
}

func (s *taskState) snapshot(id, trigger string) TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TaskStats{
		TaskID:       id,
		Trigger:      trigger,
		Executions:   s.executions,
		Failures:     s.failures,
		LastStart:    s.lastStart,
		LastDuration: s.lastDuration,
		MeanDuration: s.meanDuration,
		Status:       s.status,
	}
}
