package workqueue

import (
	"context"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusPaused    TaskStatus = "paused"
)

func (s TaskStatus) terminal() bool {
	return s != TaskStatusPending && s != TaskStatusRunning
}

// Task is a unit of work executed by a Queue.
type Task interface {
	ID() string
	Name() string

	// Execute runs the task. ctx ends when the queue is cancelled or paused.
	Execute(ctx context.Context, rt Runtime) error
}

// Runtime is what a running task sees of its queue.
type Runtime interface {
	// Enqueue schedules a follow-up task on the same queue.
	Enqueue(task Task)

	// Pace blocks until the queue's shared limiter admits one outbound
	// request. Tasks call it before each request to a rate-limited upstream.
	Pace(ctx context.Context) error
}

// BaseTask carries the identity fields of a task. Embed it.
type BaseTask struct {
	id   string
	name string
}

// NewBaseTask returns a BaseTask with a caller-chosen stable id, such as a cell id.
func NewBaseTask(id, name string) BaseTask {
	return BaseTask{id: id, name: name}
}

func (t BaseTask) ID() string   { return t.id }
func (t BaseTask) Name() string { return t.name }

// taskState is guarded by the owning queue's mutex.
type taskState struct {
	task    Task
	status  TaskStatus
	err     error
	retries int
}

// Progress counts tasks by status.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Paused    int `json:"paused"`
}

// Done is the number of tasks in a terminal state.
func (p Progress) Done() int {
	return p.Completed + p.Failed + p.Cancelled + p.Paused
}

// Percentage returns completion in the range 0-100. An empty queue is complete.
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	return p.Done() * 100 / p.Total
}
