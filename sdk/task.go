package hiveboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loophive/hiveboard/pkg/model"
)

// TaskOption configures a task at start.
type TaskOption func(*Task)

// WithTaskType labels the task kind.
func WithTaskType(t string) TaskOption {
	return func(task *Task) { task.taskType = t }
}

// WithTaskProject routes the task's events to a project.
func WithTaskProject(projectID string) TaskOption {
	return func(task *Task) { task.projectID = projectID }
}

// WithCorrelation ties the task to an external correlation id.
func WithCorrelation(id string) TaskOption {
	return func(task *Task) { task.correlationID = id }
}

// Task scopes events to one unit of work. Ended exactly once, via
// Complete, Fail, or the Run wrapper.
type Task struct {
	agent         *Agent
	id            string
	runID         string
	taskType      string
	projectID     string
	correlationID string
	started       time.Time

	mu    sync.Mutex
	ended bool
}

// StartTask emits task_started and returns the task handle.
func (a *Agent) StartTask(id string, opts ...TaskOption) *Task {
	t := &Task{
		agent:   a,
		id:      id,
		runID:   uuid.NewString(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.emit(context.Background(), model.IncomingEvent{EventType: string(model.EventTaskStarted)})
	return t
}

// RunTask runs fn inside a task scope: a nil return emits
// task_completed, an error emits task_failed. The error is returned
// unchanged.
func (a *Agent) RunTask(ctx context.Context, id string, fn func(ctx context.Context, t *Task) error, opts ...TaskOption) error {
	t := a.StartTask(id, opts...)
	err := fn(ctx, t)
	if err != nil {
		t.Fail(err)
		return err
	}
	t.Complete()
	return nil
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Complete emits task_completed with the measured duration. Repeated
// calls after the task ended are ignored.
func (t *Task) Complete() {
	if !t.end() {
		return
	}
	d := float64(time.Since(t.started).Milliseconds())
	t.emit(context.Background(), model.IncomingEvent{
		EventType:  string(model.EventTaskCompleted),
		Status:     "completed",
		DurationMS: &d,
	})
}

// Fail emits task_failed carrying the error type and message.
func (t *Task) Fail(err error) {
	if !t.end() {
		return
	}
	d := float64(time.Since(t.started).Milliseconds())
	e := model.IncomingEvent{
		EventType:  string(model.EventTaskFailed),
		Severity:   string(model.SeverityError),
		Status:     "failed",
		DurationMS: &d,
	}
	if err != nil {
		e.Payload = &model.Payload{
			Summary: err.Error(),
			Data: map[string]any{
				"error_type":    fmt.Sprintf("%T", err),
				"error_message": err.Error(),
			},
		}
	}
	t.emit(context.Background(), e)
}

func (t *Task) end() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return false
	}
	t.ended = true
	return true
}

// Event emits a raw event inheriting the task context, including the
// current action from ctx.
func (t *Task) Event(ctx context.Context, e model.IncomingEvent) {
	t.emit(ctx, e)
}

func (t *Task) emit(ctx context.Context, e model.IncomingEvent) {
	e.TaskID = t.id
	e.TaskRunID = t.runID
	if e.TaskType == "" {
		e.TaskType = t.taskType
	}
	if e.CorrelationID == "" {
		e.CorrelationID = t.correlationID
	}
	if e.ProjectID == "" {
		e.ProjectID = t.projectID
	}
	if e.ActionID == "" {
		e.ActionID = actionIDFrom(ctx)
	}
	t.agent.emit(e)
}
