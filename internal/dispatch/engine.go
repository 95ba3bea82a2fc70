// Package dispatch decides how a task is executed when it moves into
// in_progress. Both entry points into that transition — creating a task
// directly as "new" and an explicit status change — run the same decision
// tree here.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/missionctl/mission-control/internal/eventbus"
	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/internal/user"
	"github.com/missionctl/mission-control/pkg/cerr"
)

// SessionCreator is the slice of the remote client the engine needs. The
// handoff tiering lives behind it; the engine only cares whether something
// remote took the task and what session id to record.
type SessionCreator interface {
	StartTask(ctx context.Context, endpoint, token string, t *task.Task, webhookURL string) (string, error)
}

// FallbackRunner accepts fire-and-forget execution of a task when every
// remote handoff path fails. Submit must never block the caller.
type FallbackRunner interface {
	Submit(taskID int64) bool
}

type Mode string

const (
	// ModeDispatched means a remote handoff succeeded and the session id
	// (real or hook-synthetic) was recorded.
	ModeDispatched Mode = "dispatched"
	// ModeDegraded means every remote handoff failed and the task was handed to
	// the fallback path instead. The user still sees the task in progress.
	ModeDegraded Mode = "degraded"
	// ModeUnmanaged means no remote endpoint is configured; the task moved
	// to in_progress with nothing driving it.
	ModeUnmanaged Mode = "unmanaged"
)

type Outcome struct {
	Mode      Mode
	SessionID string
	// Note is informational for the caller (unmanaged dispatch).
	Note string
	// Warning is surfaced alongside a successful response (degraded dispatch).
	Warning string
}

type Engine struct {
	store      task.Store
	sessions   SessionCreator
	fallback   FallbackRunner
	bus        *eventbus.Bus
	webhookURL string
}

// NewEngine builds the dispatch decision tree. webhookURL is the public
// completion-webhook address embedded into hook-delivered tasks so the
// remote agent can report back.
func NewEngine(store task.Store, sessions SessionCreator, fallback FallbackRunner, bus *eventbus.Bus, webhookURL string) *Engine {
	return &Engine{
		store:      store,
		sessions:   sessions,
		fallback:   fallback,
		bus:        bus,
		webhookURL: webhookURL,
	}
}

// Dispatch moves the task into in_progress, creating a remote session when
// the owner is configured for one. Remote failures degrade to the fallback
// path and never surface as request failures; the only hard error a caller
// sees is the missing-token precondition and store failures.
func (e *Engine) Dispatch(ctx context.Context, owner *user.User, t *task.Task) (*Outcome, error) {
	if owner.RemoteEndpoint == "" {
		if err := e.store.UpdateStatus(ctx, t.ID, task.StatusUpdate{Status: task.StatusInProgress}); err != nil {
			return nil, err
		}
		e.bus.PublishNew(eventbus.TaskDispatched, t.ID, t.UserID, t.Title, map[string]string{"mode": string(ModeUnmanaged)})
		return &Outcome{
			Mode: ModeUnmanaged,
			Note: "Task moved to in_progress. Configure OpenClaw for automated processing.",
		}, nil
	}

	// Every remote handoff path requires authentication; reject before any remote
	// call rather than letting it fail and degrade.
	if owner.RemoteToken == "" {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			"OpenClaw authentication token required - add a token in your OpenClaw settings", nil)
	}

	sessionID, err := e.sessions.StartTask(ctx, owner.RemoteEndpoint, owner.RemoteToken, t, e.webhookURL)
	if err != nil {
		slog.WarnContext(ctx, "OpenClaw handoff failed, falling back",
			"task_id", t.ID, "error", err)
		if err := e.store.UpdateStatus(ctx, t.ID, task.StatusUpdate{Status: task.StatusInProgress}); err != nil {
			return nil, err
		}
		if !e.fallback.Submit(t.ID) {
			slog.ErrorContext(ctx, "fallback queue full, task will stay in_progress unmanaged", "task_id", t.ID)
		}
		e.bus.PublishNew(eventbus.TaskDispatched, t.ID, t.UserID, t.Title, map[string]string{"mode": string(ModeDegraded)})
		return &Outcome{
			Mode:    ModeDegraded,
			Warning: "Task moved to in_progress, but OpenClaw integration failed",
		}, nil
	}

	if err := e.store.UpdateStatus(ctx, t.ID, task.StatusUpdate{
		Status:          task.StatusInProgress,
		RemoteSessionID: &sessionID,
	}); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task dispatched to OpenClaw", "task_id", t.ID, "session_id", sessionID)
	e.bus.PublishNew(eventbus.TaskDispatched, t.ID, t.UserID, t.Title,
		map[string]string{"mode": string(ModeDispatched), "session_id": sessionID})
	return &Outcome{Mode: ModeDispatched, SessionID: sessionID}, nil
}
