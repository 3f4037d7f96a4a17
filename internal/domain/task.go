package domain

import (
	"fmt"
	"time"
)

// TaskState is the lifecycle state of one orchestrated task invocation.
type TaskState int

const (
	TaskPending TaskState = iota // record created, submit not yet answered
	TaskSubmitted
	TaskPolling
	TaskReady
	TaskFetched
	TaskTimedOut
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskSubmitted:
		return "submitted"
	case TaskPolling:
		return "polling"
	case TaskReady:
		return "ready"
	case TaskFetched:
		return "fetched"
	case TaskTimedOut:
		return "timed_out"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskFetched || s == TaskTimedOut || s == TaskFailed
}

// taskTransitions lists the allowed successor states.
var taskTransitions = map[TaskState][]TaskState{
	TaskPending:   {TaskSubmitted, TaskFailed},
	TaskSubmitted: {TaskPolling, TaskFailed},
	TaskPolling:   {TaskReady, TaskTimedOut, TaskFailed},
	TaskReady:     {TaskFetched, TaskFailed},
}

// TaskRecord tracks one task for the duration of a single orchestrated call.
// It is never shared between invocations and never persisted.
type TaskRecord struct {
	ID           string
	Tag          string
	InvocationID string
	SubmittedAt  time.Time
	State        TaskState
}

// Assign sets the upstream task id. The id can be assigned exactly once.
func (r *TaskRecord) Assign(id, tag string, at time.Time) error {
	if r.ID != "" {
		return NewDomainError("TaskRecord.Assign", ErrInvalidTransition,
			fmt.Sprintf("id already assigned (%s)", r.ID))
	}
	if id == "" {
		return NewDomainError("TaskRecord.Assign", ErrTaskFailed, "upstream returned an empty task id")
	}
	r.ID = id
	r.Tag = tag
	r.SubmittedAt = at
	return r.Transition(TaskSubmitted)
}

// Transition moves the record to next, rejecting out-of-order transitions.
func (r *TaskRecord) Transition(next TaskState) error {
	for _, allowed := range taskTransitions[r.State] {
		if allowed == next {
			r.State = next
			return nil
		}
	}
	return NewDomainError("TaskRecord.Transition", ErrInvalidTransition,
		fmt.Sprintf("%s -> %s", r.State, next))
}
