package domain

import (
	"errors"
	"fmt"
	"time"
)

type TaskID string

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// allowedTransitions lists every legal status edge. PENDING -> FAILED exists
// only for the recovery sweeper when a task's inputs cannot be processed.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether from -> to is a legal edge.
func (s TaskStatus) CanTransitionTo(to TaskStatus) bool {
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses from which to can be reached.
func SourcesFor(to TaskStatus) []TaskStatus {
	var out []TaskStatus
	for from, targets := range allowedTransitions {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// Task is one inspection request moving through the pipeline.
type Task struct {
	ID          TaskID     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Inputs      TaskInputs `json:"inputs"`
	Report      *Report    `json:"report,omitempty"`
	Error       *string    `json:"error_message,omitempty"`
	Progress    int        `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskFilter narrows ListTasks. A zero Status matches every status.
type TaskFilter struct {
	Status TaskStatus
	Offset int
	Limit  int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize clamps paging values into their accepted ranges.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return f
}

var (
	ErrTaskNotFound        = errors.New("inspection task not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrTaskNotClaimable    = errors.New("inspection task is not claimable")
	ErrQueueFull           = errors.New("scheduling queue full")
	ErrQueueClosed         = errors.New("scheduling queue closed")
	ErrDeviceModelNotFound = errors.New("device model not found")
	ErrSettingNotFound     = errors.New("setting not found")
)

// InputError is a submission problem reported back to the caller verbatim.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewInputError builds an InputError for field.
func NewInputError(field, format string, args ...any) error {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}
