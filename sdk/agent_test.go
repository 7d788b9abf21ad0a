package hiveboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loophive/hiveboard/pkg/model"
)

// collectEvents drains the client and flattens every received batch.
func collectEvents(t *testing.T, backend *fakeBackend, client *Client) []model.IncomingEvent {
	t.Helper()
	client.Shutdown(2 * time.Second)

	var events []model.IncomingEvent
	for _, batch := range backend.received() {
		events = append(events, batch.Events...)
	}
	return events
}

func eventsOfType(events []model.IncomingEvent, et model.EventType) []model.IncomingEvent {
	var out []model.IncomingEvent
	for _, e := range events {
		if e.EventType == string(et) {
			out = append(out, e)
		}
	}
	return out
}

func TestAgentFillsEventDefaults(t *testing.T) {
	t.Cleanup(Reset)
	backend := newFakeBackend(t)
	client, err := Init(testConfig(backend))
	require.NoError(t, err)

	agent := client.Agent("worker-1", WithProject("proj-crawl"))
	agent.Event(model.IncomingEvent{EventType: string(model.EventHeartbeat)})

	events := collectEvents(t, backend, client)
	require.Len(t, events, 1)
	e := events[0]

	_, err = uuid.Parse(e.EventID)
	assert.NoError(t, err, "event id should be a generated uuid")

	ts, err := time.Parse("2006-01-02T15:04:05.000Z07:00", e.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)

	assert.Equal(t, "proj-crawl", e.ProjectID)
	assert.Equal(t, string(model.SeverityDebug), e.Severity)
}

func TestAgentEnvelope(t *testing.T) {
	t.Cleanup(Reset)
	backend := newFakeBackend(t)
	client, err := Init(testConfig(backend))
	require.NoError(t, err)

	agent := client.Agent("worker-1",
		WithAgentType("crawler"),
		WithFramework("langgraph"),
		WithEnvironment("staging"),
		WithGroup("eu-west"),
		WithStuckThreshold(120),
	)
	agent.Event(model.IncomingEvent{EventType: string(model.EventCustom)})

	client.Shutdown(2 * time.Second)
	batches := backend.received()
	require.Len(t, batches, 1)

	env := batches[0].Envelope
	assert.Equal(t, "worker-1", env.AgentID)
	assert.Equal(t, "crawler", env.AgentType)
	assert.Equal(t, "langgraph", env.Framework)
	assert.Equal(t, "staging", env.Environment)
	assert.Equal(t, "eu-west", env.Group)
	assert.Equal(t, 120, env.StuckThresholdSeconds)
	assert.Contains(t, env.Runtime, "go")
	assert.NotEmpty(t, env.SDKVersion)
}

func TestTaskLifecycle(t *testing.T) {
	t.Run("complete emits start and completion with duration", func(t *testing.T) {
		t.Cleanup(Reset)
		backend := newFakeBackend(t)
		client, err := Init(testConfig(backend))
		require.NoError(t, err)

		task := client.Agent("worker-1").StartTask("crawl-42", WithTaskType("crawl"))
		task.Complete()
		task.Complete()

		events := collectEvents(t, backend, client)
		require.Len(t, events, 2, "repeat Complete must not emit again")

		started := events[0]
		assert.Equal(t, string(model.EventTaskStarted), started.EventType)
		assert.Equal(t, "crawl-42", started.TaskID)
		assert.Equal(t, "crawl", started.TaskType)
		_, err = uuid.Parse(started.TaskRunID)
		assert.NoError(t, err)

		completed := events[1]
		assert.Equal(t, string(model.EventTaskCompleted), completed.EventType)
		assert.Equal(t, started.TaskRunID, completed.TaskRunID)
		assert.Equal(t, "completed", completed.Status)
		require.NotNil(t, completed.DurationMS)
		assert.GreaterOrEqual(t, *completed.DurationMS, float64(0))
	})

	t.Run("fail carries the error details", func(t *testing.T) {
		t.Cleanup(Reset)
		backend := newFakeBackend(t)
		client, err := Init(testConfig(backend))
		require.NoError(t, err)

		task := client.Agent("worker-1").StartTask("crawl-43")
		task.Fail(errors.New("page unreachable"))
		task.Complete()

		events := collectEvents(t, backend, client)
		require.Len(t, events, 2, "Complete after Fail must be ignored")

		failed := events[1]
		assert.Equal(t, string(model.EventTaskFailed), failed.EventType)
		assert.Equal(t, string(model.SeverityError), failed.Severity)
		assert.Equal(t, "failed", failed.Status)
		require.NotNil(t, failed.Payload)
		assert.Equal(t, "page unreachable", failed.Payload.Summary)
		assert.Equal(t, "page unreachable", failed.Payload.Data["error_message"])
	})

	t.Run("run wrapper maps the return value to the end event", func(t *testing.T) {
		t.Cleanup(Reset)
		backend := newFakeBackend(t)
		client, err := Init(testConfig(backend))
		require.NoError(t, err)
		agent := client.Agent("worker-1")

		boom := errors.New("boom")
		err = agent.RunTask(context.Background(), "t-ok", func(ctx context.Context, task *Task) error {
			return nil
		})
		require.NoError(t, err)
		err = agent.RunTask(context.Background(), "t-bad", func(ctx context.Context, task *Task) error {
			return boom
		})
		assert.Same(t, boom, err)

		events := collectEvents(t, backend, client)
		require.Len(t, events, 4)
		assert.Equal(t, string(model.EventTaskCompleted), events[1].EventType)
		assert.Equal(t, string(model.EventTaskFailed), events[3].EventType)
	})
}

func TestNestedActions(t *testing.T) {
	t.Cleanup(Reset)
	backend := newFakeBackend(t)
	client, err := Init(testConfig(backend))
	require.NoError(t, err)

	agent := client.Agent("worker-1")
	err = agent.RunTask(context.Background(), "t1", func(ctx context.Context, task *Task) error {
		return task.Action(ctx, "fetch", func(ctx context.Context) error {
			task.LLMCall(ctx, "claude-haiku-4-5", 1000, 500)
			return task.Action(ctx, "parse", func(ctx context.Context) error {
				return nil
			})
		})
	})
	require.NoError(t, err)

	events := collectEvents(t, backend, client)
	starts := eventsOfType(events, model.EventActionStarted)
	require.Len(t, starts, 2)

	fetch, parse := starts[0], starts[1]
	assert.Equal(t, "fetch", fetch.Payload.Summary)
	assert.Empty(t, fetch.ParentActionID)
	assert.Equal(t, "parse", parse.Payload.Summary)
	assert.Equal(t, fetch.ActionID, parse.ParentActionID, "inner action records the outer as parent")

	calls := eventsOfType(events, model.EventCustom)
	require.Len(t, calls, 1)
	assert.Equal(t, model.KindLLMCall, calls[0].Payload.Kind)
	assert.Equal(t, fetch.ActionID, calls[0].ActionID, "event inside an action inherits its id")

	completions := eventsOfType(events, model.EventActionCompleted)
	require.Len(t, completions, 2)
	for _, c := range completions {
		assert.Equal(t, "completed", c.Status)
		require.NotNil(t, c.DurationMS)
	}
}

func TestActionFailure(t *testing.T) {
	t.Cleanup(Reset)
	backend := newFakeBackend(t)
	client, err := Init(testConfig(backend))
	require.NoError(t, err)

	agent := client.Agent("worker-1")
	boom := errors.New("tool timed out")
	task := agent.StartTask("t1")
	err = task.Action(context.Background(), "call-tool", func(ctx context.Context) error {
		return boom
	})
	assert.Same(t, boom, err)
	task.Complete()

	events := collectEvents(t, backend, client)
	failed := eventsOfType(events, model.EventActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, string(model.SeverityError), failed[0].Severity)
	assert.Equal(t, "call-tool: tool timed out", failed[0].Payload.Summary)
	assert.Equal(t, "tool timed out", failed[0].Payload.Data["error_message"])
}

func TestHeartbeatLoop(t *testing.T) {
	t.Cleanup(Reset)
	backend := newFakeBackend(t)
	client, err := Init(testConfig(backend))
	require.NoError(t, err)

	client.Agent("worker-1",
		WithHeartbeat(10*time.Millisecond),
		WithQueueProvider(func() map[string]any {
			return map[string]any{"pending": 4}
		}),
	)
	time.Sleep(60 * time.Millisecond)

	events := collectEvents(t, backend, client)
	beats := eventsOfType(events, model.EventHeartbeat)
	assert.NotEmpty(t, beats)

	snapshots := 0
	for _, e := range eventsOfType(events, model.EventCustom) {
		if e.Payload != nil && e.Payload.Kind == model.KindQueueSnapshot {
			snapshots++
			assert.Equal(t, string(model.SeverityDebug), e.Severity)
		}
	}
	assert.NotZero(t, snapshots, "queue provider should emit a snapshot per heartbeat")
}

func TestEmitterPayloads(t *testing.T) {
	t.Cleanup(Reset)
	backend := newFakeBackend(t)
	client, err := Init(testConfig(backend))
	require.NoError(t, err)

	agent := client.Agent("worker-1")
	task := agent.StartTask("t1")
	task.Plan(context.Background(), []string{"fetch", "parse", "store"})
	task.PlanStep(context.Background(), "fetch", "completed")
	task.LLMCall(context.Background(), "claude-haiku-4-5", 100, 50, WithCost(0.0042))
	agent.Todo("td-1", "review failures", "added")
	agent.ReportIssue("iss-1", "disk nearly full")
	agent.ResolveIssue("iss-1")
	task.Complete()

	events := collectEvents(t, backend, client)
	byKind := map[model.PayloadKind][]model.IncomingEvent{}
	for _, e := range events {
		if e.Payload != nil && e.Payload.Kind != "" {
			byKind[e.Payload.Kind] = append(byKind[e.Payload.Kind], e)
		}
	}

	plan := byKind[model.KindPlanCreated]
	require.Len(t, plan, 1)
	assert.Len(t, plan[0].Payload.Data["steps"], 3)

	step := byKind[model.KindPlanStep]
	require.Len(t, step, 1)
	assert.Equal(t, "fetch", step[0].Payload.Data["step"])
	assert.Equal(t, "completed", step[0].Payload.Data["action"])

	call := byKind[model.KindLLMCall]
	require.Len(t, call, 1)
	assert.Equal(t, "claude-haiku-4-5", call[0].Payload.Data["model"])
	assert.EqualValues(t, 100, call[0].Payload.Data["tokens_in"])
	assert.EqualValues(t, 0.0042, call[0].Payload.Data["cost"])
	assert.Equal(t, "t1", call[0].TaskID)

	todo := byKind[model.KindTodo]
	require.Len(t, todo, 1)
	assert.Equal(t, "td-1", todo[0].Payload.Data["todo_id"])

	issues := byKind[model.KindIssue]
	require.Len(t, issues, 2)
	assert.Equal(t, string(model.SeverityWarn), issues[0].Severity)
	assert.Equal(t, "resolved", issues[1].Payload.Data["action"])
}
