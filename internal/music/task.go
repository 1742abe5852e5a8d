package music

import (
	"context"
	"sync"
)

type TaskState int

const (
	TaskPending TaskState = iota
	TaskCancelled
	TaskCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskCancelled:
		return "cancelled"
	case TaskCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Task is a deferred action that can be cancelled before it runs. Once
// cancelled the action is dropped and can never execute.
type Task struct {
	mu      sync.Mutex
	state   TaskState
	running bool
	action  func(context.Context)
}

func NewTask(action func(context.Context)) *Task {
	return &Task{action: action}
}

func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskPending {
		return
	}
	t.state = TaskCancelled
	if !t.running {
		t.action = nil
	}
}

// Run executes the action at most once. It is a no-op after Cancel.
func (t *Task) Run(ctx context.Context) {
	t.mu.Lock()
	if t.state != TaskPending || t.running || t.action == nil {
		t.mu.Unlock()
		return
	}
	t.running = true
	action := t.action
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.action = nil
		if t.state == TaskPending {
			t.state = TaskCompleted
		}
		t.mu.Unlock()
	}()

	action(ctx)
}

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Cancelled() bool {
	return t.State() == TaskCancelled
}
