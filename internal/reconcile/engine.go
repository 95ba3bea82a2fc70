// Package reconcile keeps local task status eventually consistent with
// remote session outcomes. The same status mapping is applied from two
// independent triggers: webhook push from OpenClaw and the periodic poll.
package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/missionctl/mission-control/internal/archive"
	"github.com/missionctl/mission-control/internal/eventbus"
	"github.com/missionctl/mission-control/internal/openclaw"
	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/pkg/cerr"
)

// SessionReader is the slice of the remote client the poller needs.
type SessionReader interface {
	GetSessionStatus(ctx context.Context, endpoint, token, sessionID string) (*openclaw.SessionStatus, error)
	GetSessionHistory(ctx context.Context, endpoint, token, sessionID string) (json.RawMessage, error)
}

type Engine struct {
	store      task.Store
	sessions   SessionReader
	archive    archive.Archive
	bus        *eventbus.Bus
	staleAfter time.Duration
}

func NewEngine(store task.Store, sessions SessionReader, arch archive.Archive, bus *eventbus.Bus, staleAfter time.Duration) *Engine {
	return &Engine{
		store:      store,
		sessions:   sessions,
		archive:    arch,
		bus:        bus,
		staleAfter: staleAfter,
	}
}

// WebhookPayload is the canonical shape of a completion webhook after field
// normalization. OpenClaw deployments vary between session_id and sessionId;
// that difference is absorbed here, at the ingress boundary, not downstream.
type WebhookPayload struct {
	SessionID string
	Status    string
	Metadata  map[string]any
	Result    json.RawMessage
}

func ParseWebhookPayload(body []byte) (*WebhookPayload, error) {
	var raw struct {
		SessionID      string          `json:"session_id"`
		SessionIDCamel string          `json:"sessionId"`
		Status         string          `json:"status"`
		Metadata       map[string]any  `json:"metadata"`
		Result         json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid webhook payload", err)
	}
	sessionID := raw.SessionID
	if sessionID == "" {
		sessionID = raw.SessionIDCamel
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "no session ID in webhook data", nil)
	}
	return &WebhookPayload{
		SessionID: sessionID,
		Status:    raw.Status,
		Metadata:  raw.Metadata,
		Result:    raw.Result,
	}, nil
}

type WebhookResult struct {
	Matched   bool        `json:"matched"`
	TaskID    int64       `json:"task_id,omitempty"`
	OldStatus task.Status `json:"old_status,omitempty"`
	NewStatus task.Status `json:"new_status,omitempty"`
}

// mapRemoteStatus translates the remote status vocabulary into local task
// status. Unmapped values return ok=false: the event is acknowledged but
// ignored, keeping forward compatibility with remote statuses this server
// does not know yet.
func mapRemoteStatus(remote string) (task.Status, bool) {
	switch remote {
	case "completed", "finished":
		return task.StatusBuilt, true
	case "failed", "error":
		return task.StatusFailed, true
	}
	return "", false
}

// HandleWebhook applies a push-based completion event. A session id that
// matches no task is a benign outcome, not an error: OpenClaw may report on
// sessions this server never created, or on tasks deleted since dispatch.
func (e *Engine) HandleWebhook(ctx context.Context, p *WebhookPayload) (*WebhookResult, error) {
	t, err := e.store.GetBySessionID(ctx, p.SessionID)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			slog.WarnContext(ctx, "webhook for unknown session", "session_id", p.SessionID)
			return &WebhookResult{Matched: false}, nil
		}
		return nil, err
	}

	// Terminal states are never changed by automation; replaying a webhook
	// for a finished task is a no-op.
	if t.Status.Terminal() {
		return &WebhookResult{Matched: true, TaskID: t.ID, OldStatus: t.Status, NewStatus: t.Status}, nil
	}

	newStatus, ok := mapRemoteStatus(p.Status)
	if !ok {
		if err := e.store.Touch(ctx, t.ID); err != nil {
			return nil, err
		}
		return &WebhookResult{Matched: true, TaskID: t.ID, OldStatus: t.Status, NewStatus: t.Status}, nil
	}

	upd := task.StatusUpdate{Status: newStatus}
	switch newStatus {
	case task.StatusBuilt:
		result := p.Result
		if result == nil {
			result = json.RawMessage(`{}`)
		}
		now := time.Now().UTC()
		upd.ResultData = result
		upd.CompletedAt = &now
	case task.StatusFailed:
		upd.ResultData = failureResult(p.Result)
	}
	if err := e.store.UpdateStatus(ctx, t.ID, upd); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "task updated via webhook", "task_id", t.ID, "status", newStatus)
	e.publishTerminal(t, newStatus, "webhook")
	return &WebhookResult{Matched: true, TaskID: t.ID, OldStatus: t.Status, NewStatus: newStatus}, nil
}

// Poll scans stale in-progress tasks and reconciles each against the remote
// session state. Failures are isolated per task: one broken session must not
// stop the rest of the batch. The returned count is tasks considered, not
// tasks changed.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	stale, err := e.store.FindStaleInProgress(ctx, e.staleAfter)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "polling in-progress OpenClaw sessions", "count", len(stale))
	for _, st := range stale {
		if err := e.pollOne(ctx, st); err != nil {
			slog.ErrorContext(ctx, "failed to poll OpenClaw session",
				"task_id", st.ID, "session_id", st.RemoteSessionID, "error", err)
		}
	}
	return len(stale), nil
}

func (e *Engine) pollOne(ctx context.Context, st *task.StaleTask) error {
	// Hook-delivered sessions carry a synthetic id with no remote state to
	// query; they resolve over the webhook only.
	if st.HookSession() {
		return nil
	}

	status, err := e.sessions.GetSessionStatus(ctx, st.RemoteEndpoint, st.RemoteToken, st.RemoteSessionID)
	if err != nil {
		return err
	}

	// Both reconciliation triggers share one status vocabulary; the poll
	// must reach the same verdict the webhook would for the same status.
	// The completed flag covers deployments that report no status string.
	newStatus, mapped := mapRemoteStatus(status.Status)
	if !mapped && status.Done() {
		newStatus, mapped = task.StatusBuilt, true
	}
	if !mapped {
		// Still running: bump updated_at so the task drops out of the stale
		// window until the next threshold passes.
		return e.store.Touch(ctx, st.ID)
	}

	if newStatus == task.StatusBuilt {
		return e.completeFromHistory(ctx, st)
	}

	if err := e.store.UpdateStatus(ctx, st.ID, task.StatusUpdate{
		Status:     task.StatusFailed,
		ResultData: failureResult(status.Raw),
	}); err != nil {
		return err
	}
	slog.InfoContext(ctx, "task marked failed via polling", "task_id", st.ID)
	e.publishTerminal(&st.Task, task.StatusFailed, "poll")
	return nil
}

func (e *Engine) completeFromHistory(ctx context.Context, st *task.StaleTask) error {
	history, err := e.sessions.GetSessionHistory(ctx, st.RemoteEndpoint, st.RemoteToken, st.RemoteSessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = e.store.UpdateStatus(ctx, st.ID, task.StatusUpdate{
		Status:      task.StatusBuilt,
		ResultData:  history,
		CompletedAt: &now,
	})
	if err != nil {
		return err
	}

	if e.archive != nil {
		if err := e.archive.Put(ctx, archive.ResultKey(st.ID), history); err != nil {
			// The transition already happened; losing the archived copy is
			// not worth failing the task over.
			slog.WarnContext(ctx, "failed to archive session history", "task_id", st.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "task marked as completed via polling", "task_id", st.ID)
	e.publishTerminal(&st.Task, task.StatusBuilt, "poll")
	return nil
}

func (e *Engine) publishTerminal(t *task.Task, status task.Status, path string) {
	eventType := eventbus.TaskCompleted
	if status == task.StatusFailed {
		eventType = eventbus.TaskFailed
	}
	e.bus.PublishNew(eventType, t.ID, t.UserID, t.Title, map[string]string{"path": path})
}

// failureResult extracts an error message from a remote payload, defaulting
// to "Unknown error" when none is present.
func failureResult(raw json.RawMessage) json.RawMessage {
	message := "Unknown error"
	if len(raw) > 0 {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
			message = body.Error
		}
	}
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return json.RawMessage(`{"error":"Unknown error"}`)
	}
	return data
}
