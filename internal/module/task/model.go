// Package task owns the lifecycle of asynchronous generation jobs: admission,
// FIFO dispatch to a bounded worker pool, step execution and retention.
package task

import (
	"time"

	"github.com/clipforge/server/internal/module/progress"
)

// Kind is the type of generation job.
type Kind string

const (
	KindSpeechSynthesis Kind = "speech-synthesis"
	KindVideoAssembly   Kind = "video-assembly"
	KindImageSearch     Kind = "image-search"
	KindComposite       Kind = "composite"
)

// Status represents the status of a task.
type Status string

const (
	StatusPending    Status = progress.StatusPending
	StatusProcessing Status = progress.StatusProcessing
	StatusCompleted  Status = progress.StatusCompleted
	StatusFailed     Status = progress.StatusFailed
)

// IsTerminal checks if the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a forward edge.
// pending -> failed only happens when a task is cancelled or discarded
// before a worker picks it up.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Params are the validated submission parameters of a task.
type Params map[string]any

// Task is one generation job. Values handed out by the manager are copies and
// safe to read without synchronization.
type Task struct {
	ID                     string         `json:"id"`
	Kind                   Kind           `json:"kind"`
	Status                 Status         `json:"status"`
	Progress               int            `json:"progress"`
	Message                string         `json:"message"`
	EstimatedTimeRemaining *int           `json:"estimatedTimeRemaining,omitempty"`
	Result                 map[string]any `json:"result,omitempty"`
	Error                  string         `json:"error,omitempty"`
	ErrorCode              string         `json:"errorCode,omitempty"`
	Params                 Params         `json:"params,omitempty"`
	Version                uint64         `json:"-"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
	StartedAt              *time.Time     `json:"startedAt,omitempty"`
	CompletedAt            *time.Time     `json:"completedAt,omitempty"`
}

// IsTerminal checks if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Clone returns a copy that shares no mutable state with t.
// Result and Params are written once and never mutated afterwards.
func (t *Task) Clone() *Task {
	c := *t
	if t.EstimatedTimeRemaining != nil {
		eta := *t.EstimatedTimeRemaining
		c.EstimatedTimeRemaining = &eta
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

// ToUpdate converts the task into a progress channel snapshot.
func (t *Task) ToUpdate() progress.Update {
	return progress.Update{
		TaskID:                 t.ID,
		Status:                 string(t.Status),
		Progress:               t.Progress,
		Message:                t.Message,
		EstimatedTimeRemaining: t.EstimatedTimeRemaining,
		Result:                 t.Result,
		Error:                  t.Error,
		ErrorCode:              t.ErrorCode,
		Version:                t.Version,
		UpdatedAt:              t.UpdatedAt,
	}
}

// QueueStats summarizes the tasks currently retained.
type QueueStats struct {
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Filter represents task filter options.
type Filter struct {
	Kind   *Kind
	Status *Status
	Limit  int
}
