package derive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loophive/hiveboard/pkg/model"
)

func profileAt(lastSeen time.Time, lastType model.EventType) *model.AgentProfile {
	return &model.AgentProfile{
		TenantID:              "t1",
		AgentID:               "a1",
		LastSeen:              lastSeen,
		LastEventType:         lastType,
		StuckThresholdSeconds: 300,
	}
}

func TestAgentStatus(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)

	t.Run("stuck when last activity beyond threshold", func(t *testing.T) {
		p := profileAt(now.Add(-10*time.Minute), model.EventHeartbeat)
		assert.Equal(t, model.AgentStuck, AgentStatus(p, now))
	})

	t.Run("recent heartbeat overrides old last_seen", func(t *testing.T) {
		p := profileAt(now.Add(-10*time.Minute), model.EventHeartbeat)
		hb := now.Add(-30 * time.Second)
		p.LastHeartbeat = &hb
		assert.Equal(t, model.AgentIdle, AgentStatus(p, now))
	})

	t.Run("no heartbeat but recent last_seen is not stuck", func(t *testing.T) {
		p := profileAt(now.Add(-time.Minute), model.EventHeartbeat)
		assert.Equal(t, model.AgentIdle, AgentStatus(p, now))
	})

	t.Run("error on failed event types", func(t *testing.T) {
		assert.Equal(t, model.AgentError, AgentStatus(profileAt(now, model.EventTaskFailed), now))
		assert.Equal(t, model.AgentError, AgentStatus(profileAt(now, model.EventActionFailed), now))
	})

	t.Run("waiting_approval", func(t *testing.T) {
		p := profileAt(now, model.EventApprovalRequested)
		assert.Equal(t, model.AgentWaitingApproval, AgentStatus(p, now))
	})

	t.Run("processing", func(t *testing.T) {
		assert.Equal(t, model.AgentProcessing, AgentStatus(profileAt(now, model.EventTaskStarted), now))
		assert.Equal(t, model.AgentProcessing, AgentStatus(profileAt(now, model.EventActionStarted), now))
	})

	t.Run("idle otherwise", func(t *testing.T) {
		assert.Equal(t, model.AgentIdle, AgentStatus(profileAt(now, model.EventHeartbeat), now))
		assert.Equal(t, model.AgentIdle, AgentStatus(nil, now))
	})

	t.Run("stuck wins over error", func(t *testing.T) {
		p := profileAt(now.Add(-20*time.Minute), model.EventTaskFailed)
		assert.Equal(t, model.AgentStuck, AgentStatus(p, now))
	})

	t.Run("default threshold applied when unset", func(t *testing.T) {
		p := profileAt(now.Add(-6*time.Minute), model.EventHeartbeat)
		p.StuckThresholdSeconds = 0
		assert.Equal(t, model.AgentStuck, AgentStatus(p, now))
	})
}

func TestTaskStatus(t *testing.T) {
	set := func(types ...model.EventType) map[model.EventType]bool {
		m := make(map[model.EventType]bool)
		for _, et := range types {
			m[et] = true
		}
		return m
	}

	t.Run("completion wins over failure", func(t *testing.T) {
		s := set(model.EventTaskStarted, model.EventTaskFailed, model.EventTaskCompleted)
		assert.Equal(t, model.TaskCompleted, TaskStatus(s))
	})

	t.Run("failed", func(t *testing.T) {
		assert.Equal(t, model.TaskFailed, TaskStatus(set(model.EventTaskStarted, model.EventTaskFailed)))
	})

	t.Run("escalated", func(t *testing.T) {
		assert.Equal(t, model.TaskEscalated, TaskStatus(set(model.EventTaskStarted, model.EventEscalated)))
	})

	t.Run("waiting until approval received", func(t *testing.T) {
		assert.Equal(t, model.TaskWaiting, TaskStatus(set(model.EventTaskStarted, model.EventApprovalRequested)))
		assert.Equal(t, model.TaskProcessing,
			TaskStatus(set(model.EventTaskStarted, model.EventApprovalRequested, model.EventApprovalReceived)))
	})

	t.Run("processing by default", func(t *testing.T) {
		assert.Equal(t, model.TaskProcessing, TaskStatus(set(model.EventTaskStarted)))
		assert.Equal(t, model.TaskProcessing, TaskStatus(set()))
	})
}
