package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/missionctl/mission-control/internal/eventbus"
	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/internal/user"
)

// ResponsesRunner is the slice of the remote client the fallback path needs:
// the synchronous, session-less OpenResponses execution.
type ResponsesRunner interface {
	RunResponses(ctx context.Context, endpoint, token string, t *task.Task) (json.RawMessage, error)
}

// Runner executes degraded tasks in the background through the OpenResponses
// path and reports the outcome straight to the store. It does not touch the
// session/polling machinery at all.
type Runner struct {
	store  task.Store
	users  user.Store
	client ResponsesRunner
	bus    *eventbus.Bus
	queue  chan int64
	wg     *conc.WaitGroup
}

var _ FallbackRunner = (*Runner)(nil)

func NewRunner(store task.Store, users user.Store, client ResponsesRunner, bus *eventbus.Bus, queueSize int) *Runner {
	return &Runner{
		store:  store,
		users:  users,
		client: client,
		bus:    bus,
		queue:  make(chan int64, queueSize),
		wg:     conc.NewWaitGroup(),
	}
}

// Submit queues a task for fallback execution. It never blocks: a full queue
// returns false and the task stays in_progress unmanaged.
func (r *Runner) Submit(taskID int64) bool {
	select {
	case r.queue <- taskID:
		return true
	default:
		return false
	}
}

// Start runs the worker loop until ctx is cancelled, then waits for the
// in-flight execution to finish.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case taskID := <-r.queue:
				r.run(ctx, taskID)
			}
		}
	})
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, taskID int64) {
	var catcher panics.Catcher
	catcher.Try(func() {
		r.execute(ctx, taskID)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		slog.ErrorContext(ctx, "fallback execution panicked", "task_id", taskID, "panic", recovered.String())
		r.markFailed(ctx, taskID, "internal error during fallback execution")
	}
}

func (r *Runner) execute(ctx context.Context, taskID int64) {
	t, err := r.store.GetByID(ctx, taskID)
	if err != nil {
		slog.ErrorContext(ctx, "fallback: task not found", "task_id", taskID, "error", err)
		return
	}
	owner, err := r.users.GetByID(ctx, t.UserID)
	if err != nil || owner.RemoteEndpoint == "" {
		slog.ErrorContext(ctx, "fallback: owner OpenClaw config not found", "task_id", taskID, "error", err)
		r.markFailed(ctx, taskID, "User or OpenClaw config not found")
		return
	}

	result, err := r.client.RunResponses(ctx, owner.RemoteEndpoint, owner.RemoteToken, t)
	if err != nil {
		slog.ErrorContext(ctx, "fallback execution failed", "task_id", taskID, "error", err)
		r.markFailed(ctx, taskID, err.Error())
		return
	}

	now := time.Now().UTC()
	err = r.store.UpdateStatus(ctx, taskID, task.StatusUpdate{
		Status:      task.StatusBuilt,
		ResultData:  result,
		CompletedAt: &now,
	})
	if err != nil {
		slog.ErrorContext(ctx, "fallback: failed to record completion", "task_id", taskID, "error", err)
		return
	}
	slog.InfoContext(ctx, "task completed via fallback execution", "task_id", taskID)
	r.bus.PublishNew(eventbus.TaskCompleted, t.ID, t.UserID, t.Title, map[string]string{"path": "fallback"})
}

func (r *Runner) markFailed(ctx context.Context, taskID int64, reason string) {
	data, err := json.Marshal(map[string]string{"error": reason})
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, "fallback execution failed"))
	}
	if err := r.store.UpdateStatus(ctx, taskID, task.StatusUpdate{
		Status:     task.StatusFailed,
		ResultData: data,
	}); err != nil {
		slog.ErrorContext(ctx, "fallback: failed to record failure", "task_id", taskID, "error", err)
		return
	}
	if t, err := r.store.GetByID(ctx, taskID); err == nil {
		r.bus.PublishNew(eventbus.TaskFailed, t.ID, t.UserID, t.Title, map[string]string{"path": "fallback"})
	}
}
