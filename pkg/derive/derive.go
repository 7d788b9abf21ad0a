// Package derive computes agent and task status. Both functions are
// pure and total: status is never persisted, only recomputed from the
// event log and the agent profile cache at read time.
package derive

import (
	"time"

	"github.com/loophive/hiveboard/pkg/model"
)

// AgentStatus derives the status of an agent profile at instant now.
// Priority cascade, first match wins:
//
//  1. stuck: max(last_heartbeat, last_seen) older than the
//     stuck threshold. An agent with no heartbeat yet is not stuck if
//     its last_seen is recent.
//  2. error: last event was task_failed or action_failed.
//  3. waiting_approval: last event was approval_requested.
//  4. processing: last event was task_started or action_started.
//  5. idle: otherwise.
func AgentStatus(p *model.AgentProfile, now time.Time) model.AgentStatus {
	if p == nil {
		return model.AgentIdle
	}

	threshold := p.StuckThresholdSeconds
	if threshold <= 0 {
		threshold = model.DefaultStuckThresholdSeconds
	}

	latest := p.LastSeen
	if p.LastHeartbeat != nil && p.LastHeartbeat.After(latest) {
		latest = *p.LastHeartbeat
	}
	if !latest.IsZero() && now.Sub(latest) > time.Duration(threshold)*time.Second {
		return model.AgentStuck
	}

	switch p.LastEventType {
	case model.EventTaskFailed, model.EventActionFailed:
		return model.AgentError
	case model.EventApprovalRequested:
		return model.AgentWaitingApproval
	case model.EventTaskStarted, model.EventActionStarted:
		return model.AgentProcessing
	}
	return model.AgentIdle
}

// TaskStatus derives the status of a task from the set of event types
// seen for its task id. Completion wins over failure.
func TaskStatus(seen map[model.EventType]bool) model.TaskStatus {
	switch {
	case seen[model.EventTaskCompleted]:
		return model.TaskCompleted
	case seen[model.EventTaskFailed]:
		return model.TaskFailed
	case seen[model.EventEscalated]:
		return model.TaskEscalated
	case seen[model.EventApprovalRequested] && !seen[model.EventApprovalReceived]:
		return model.TaskWaiting
	default:
		return model.TaskProcessing
	}
}

// TaskStatusFromEvents is a convenience wrapper over TaskStatus for a
// slice of events belonging to one task.
func TaskStatusFromEvents(events []*model.Event) model.TaskStatus {
	seen := make(map[model.EventType]bool, len(events))
	for _, e := range events {
		seen[e.EventType] = true
	}
	return TaskStatus(seen)
}
