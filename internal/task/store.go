package task

import (
	"context"
	"encoding/json"
	"time"
)

// StatusUpdate is a partial update applied by dispatch and reconciliation.
// Nil fields keep their stored value. CompletedAt only takes effect the first
// time a task completes; an already-set completion timestamp is never
// clobbered.
type StatusUpdate struct {
	Status          Status
	RemoteSessionID *string
	ResultData      json.RawMessage
	CompletedAt     *time.Time
}

// StaleTask is a task joined with its owner's remote configuration, as
// returned by the stale-in-progress scan. The reconciliation engine must not
// re-fetch the owner separately.
type StaleTask struct {
	Task
	RemoteEndpoint string
	RemoteToken    string
}

type Store interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id int64) (*Task, error)
	GetForUser(ctx context.Context, userID, id int64) (*Task, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Task, error)
	ListByUser(ctx context.Context, userID int64) ([]*Task, error)
	// FindStaleInProgress returns in_progress tasks with a pollable remote
	// session whose updated_at is older than the given age.
	FindStaleInProgress(ctx context.Context, olderThan time.Duration) ([]*StaleTask, error)
	Update(ctx context.Context, t *Task) error
	UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) error
	// Touch bumps updated_at without changing anything else, so a polled
	// task is not immediately re-selected as stale.
	Touch(ctx context.Context, id int64) error
	Delete(ctx context.Context, userID, id int64) error
	// SessionStats counts remote-session tasks per status for one user.
	SessionStats(ctx context.Context, userID int64) (map[Status]int, error)
}
