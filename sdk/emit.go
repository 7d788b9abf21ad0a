package hiveboard

import (
	"context"
	"fmt"

	"github.com/loophive/hiveboard/pkg/model"
)

// LLMCallOption tweaks an emitted llm_call.
type LLMCallOption func(map[string]any)

// WithCost attaches the provider-reported cost; the server keeps it
// instead of estimating.
func WithCost(usd float64) LLMCallOption {
	return func(data map[string]any) { data["cost"] = usd }
}

// LLMCall records one model invocation with its token counts.
func (t *Task) LLMCall(ctx context.Context, modelName string, tokensIn, tokensOut int, opts ...LLMCallOption) {
	data := map[string]any{
		"model":      modelName,
		"tokens_in":  tokensIn,
		"tokens_out": tokensOut,
	}
	for _, opt := range opts {
		opt(data)
	}
	t.emit(ctx, model.IncomingEvent{
		EventType: string(model.EventCustom),
		Payload: &model.Payload{
			Kind:    model.KindLLMCall,
			Summary: fmt.Sprintf("LLM call to %s (%d in / %d out)", modelName, tokensIn, tokensOut),
			Data:    data,
		},
	})
}

// Plan records a freshly created plan; earlier plan overlays for the
// task are superseded.
func (t *Task) Plan(ctx context.Context, steps []string) {
	items := make([]any, len(steps))
	for i, s := range steps {
		items[i] = s
	}
	t.emit(ctx, model.IncomingEvent{
		EventType: string(model.EventCustom),
		Payload: &model.Payload{
			Kind:    model.KindPlanCreated,
			Summary: fmt.Sprintf("Plan created with %d steps", len(steps)),
			Data:    map[string]any{"steps": items},
		},
	})
}

// PlanStep records progress on one plan step, action being "started",
// "completed" or similar.
func (t *Task) PlanStep(ctx context.Context, step, action string) {
	t.emit(ctx, model.IncomingEvent{
		EventType: string(model.EventCustom),
		Payload: &model.Payload{
			Kind:    model.KindPlanStep,
			Summary: fmt.Sprintf("Step %q: %s", step, action),
			Data:    map[string]any{"step": step, "action": action},
		},
	})
}

// QueueSnapshot reports the agent's current work queue. The data map
// should carry at least "pending".
func (a *Agent) QueueSnapshot(data map[string]any) {
	summary := "Queue snapshot"
	if pending, ok := data["pending"]; ok {
		summary = fmt.Sprintf("Queue depth %v", pending)
	}
	a.emit(model.IncomingEvent{
		EventType: string(model.EventCustom),
		Payload: &model.Payload{
			Kind:    model.KindQueueSnapshot,
			Summary: summary,
			Data:    data,
		},
	})
}

// Todo records a todo-list mutation, action being "added",
// "completed" or "dismissed".
func (a *Agent) Todo(id, title, action string) {
	a.emit(model.IncomingEvent{
		EventType: string(model.EventCustom),
		Payload: &model.Payload{
			Kind:    model.KindTodo,
			Summary: fmt.Sprintf("Todo %q: %s", title, action),
			Data:    map[string]any{"todo_id": id, "title": title, "action": action},
		},
	})
}

// Scheduled reports the agent's upcoming scheduled items.
func (a *Agent) Scheduled(items []map[string]any) {
	list := make([]any, len(items))
	for i, item := range items {
		list[i] = item
	}
	a.emit(model.IncomingEvent{
		EventType: string(model.EventCustom),
		Payload: &model.Payload{
			Kind:    model.KindScheduled,
			Summary: fmt.Sprintf("%d scheduled items", len(items)),
			Data:    map[string]any{"items": list},
		},
	})
}

// ReportIssue opens an issue visible in the pipeline view until
// resolved.
func (a *Agent) ReportIssue(id, description string) {
	a.emit(model.IncomingEvent{
		EventType: string(model.EventCustom),
		Severity:  string(model.SeverityWarn),
		Payload: &model.Payload{
			Kind:    model.KindIssue,
			Summary: "Issue: " + description,
			Data:    map[string]any{"issue_id": id, "description": description},
		},
	})
}

// ResolveIssue closes a previously reported issue.
func (a *Agent) ResolveIssue(id string) {
	a.emit(model.IncomingEvent{
		EventType: string(model.EventCustom),
		Payload: &model.Payload{
			Kind:    model.KindIssue,
			Summary: "Issue resolved",
			Data:    map[string]any{"issue_id": id, "action": "resolved"},
		},
	})
}
