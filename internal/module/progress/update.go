package progress

import "time"

// Task status values as they appear on the wire.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Update is one published snapshot of a task.
type Update struct {
	TaskID                 string
	Status                 string
	Progress               int
	Message                string
	EstimatedTimeRemaining *int
	Result                 map[string]any
	Error                  string
	ErrorCode              string
	// Version increases with every change of the task; stale versions are never delivered.
	Version   uint64
	UpdatedAt time.Time
}

// Terminal reports whether no further updates follow this one.
func (u Update) Terminal() bool {
	return u.Status == StatusCompleted || u.Status == StatusFailed
}
