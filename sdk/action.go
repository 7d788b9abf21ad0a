package hiveboard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loophive/hiveboard/pkg/model"
)

type actionKey struct{}

// actionIDFrom reads the active action id. Context propagation keeps
// nesting intact across goroutines and suspension points: a callee
// observes its caller as parent_action_id.
func actionIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(actionKey{}).(string)
	return id
}

// Action runs fn as a tracked action: action_started on entry, then
// action_completed on a nil return or action_failed on an error. The
// context passed to fn carries the action id, so nested actions record
// this one as their parent.
func (t *Task) Action(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	actionID := uuid.NewString()
	parentID := actionIDFrom(ctx)

	t.emit(ctx, model.IncomingEvent{
		EventType:      string(model.EventActionStarted),
		ActionID:       actionID,
		ParentActionID: parentID,
		Payload: &model.Payload{
			Summary: name,
			Data:    map[string]any{"name": name},
		},
	})

	start := time.Now()
	err := fn(context.WithValue(ctx, actionKey{}, actionID))
	d := float64(time.Since(start).Milliseconds())

	if err != nil {
		t.emit(ctx, model.IncomingEvent{
			EventType:      string(model.EventActionFailed),
			ActionID:       actionID,
			ParentActionID: parentID,
			Severity:       string(model.SeverityError),
			Status:         "failed",
			DurationMS:     &d,
			Payload: &model.Payload{
				Summary: name + ": " + err.Error(),
				Data:    map[string]any{"name": name, "error_message": err.Error()},
			},
		})
		return err
	}

	t.emit(ctx, model.IncomingEvent{
		EventType:      string(model.EventActionCompleted),
		ActionID:       actionID,
		ParentActionID: parentID,
		Status:         "completed",
		DurationMS:     &d,
		Payload: &model.Payload{
			Summary: name,
			Data:    map[string]any{"name": name},
		},
	})
	return nil
}

// WrapAction decorates fn so every invocation is tracked as an action.
func (t *Task) WrapAction(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return t.Action(ctx, name, fn)
	}
}
