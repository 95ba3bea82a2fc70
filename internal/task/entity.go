package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusBuilt      Status = "built"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no automated process may change the status
// further. Only explicit user action moves a task out of a terminal state.
func (s Status) Terminal() bool {
	return s == StatusBuilt || s == StatusFailed
}

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusBacklog, StatusNew, StatusInProgress, StatusBuilt, StatusFailed:
		return Status(s), true
	}
	return "", false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), true
	}
	return "", false
}

// SessionKeyHookPrefix marks synthetic session ids produced by hook-based
// handoffs. Tasks carrying them report back over the webhook only and are
// excluded from polling.
const SessionKeyHookPrefix = "hook:"

// HookSessionID builds the synthetic session id recorded when a task is
// handed off through the hook path. The id is embedded in the completion
// instruction so the webhook can find the task again.
func HookSessionID(taskID int64) string {
	return fmt.Sprintf("%stask-%d", SessionKeyHookPrefix, taskID)
}

type Task struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Priority        Priority        `json:"priority"`
	Status          Status          `json:"status"`
	Tags            []string        `json:"tags,omitempty"`
	EstimatedHours  *float64        `json:"estimated_hours,omitempty"`
	RemoteSessionID string          `json:"openclaw_session_id,omitempty"`
	ResultData      json.RawMessage `json:"result_data,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// HookSession reports whether the task's remote session is a synthetic
// hook-based one, which cannot be polled.
func (t *Task) HookSession() bool {
	return strings.HasPrefix(t.RemoteSessionID, SessionKeyHookPrefix)
}
