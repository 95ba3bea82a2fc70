package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/missionctl/mission-control/internal/eventbus"
	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/pkg/cerr"
	"github.com/missionctl/mission-control/pkg/clog"
)

type taskResponse struct {
	Task *task.Task `json:"task"`
	// Warning is set when the task moved forward but automation degraded.
	Warning string `json:"warning,omitempty"`
	Info    string `json:"info,omitempty"`
}

type taskListResponse struct {
	Tasks []*task.Task `json:"tasks"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	tasks, err := s.tasks.ListByUser(ctx, owner.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskListResponse{Tasks: tasks})
}

type createTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	Status         string   `json:"status"`
	Tags           []string `json:"tags"`
	EstimatedHours *float64 `json:"estimated_hours"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Title is required", nil)
		return
	}

	priority := task.PriorityMedium
	if req.Priority != "" {
		p, ok := task.ParsePriority(req.Priority)
		if !ok {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Invalid priority", nil)
			return
		}
		priority = p
	}

	status := task.StatusBacklog
	if req.Status != "" {
		st, ok := task.ParseStatus(req.Status)
		if !ok {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Invalid status", nil)
			return
		}
		status = st
	}

	t := &task.Task{
		UserID:         owner.ID,
		Title:          title,
		Description:    strings.TrimSpace(req.Description),
		Priority:       priority,
		Status:         status,
		Tags:           req.Tags,
		EstimatedHours: req.EstimatedHours,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	clog.AddAttribute(ctx, "task_id", t.ID)
	s.bus.PublishNew(eventbus.TaskCreated, t.ID, owner.ID, t.Title, nil)

	// Tasks created directly as "new" are handed off immediately when the
	// owner has a working remote setup; created-as-backlog waits for an
	// explicit move.
	if status == task.StatusNew && owner.RemoteConfigured() {
		outcome, err := s.dispatcher.Dispatch(ctx, owner, t)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		created, err := s.tasks.GetForUser(ctx, owner.ID, t.ID)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, &taskResponse{Task: created, Warning: outcome.Warning, Info: outcome.Note})
		return
	}

	cerr.SetJSONResponse(ctx, &taskResponse{Task: t})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	id, ok := taskIDParam(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid task id", nil)
		return
	}
	t, err := s.tasks.GetForUser(ctx, owner.ID, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: t})
}

type updateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    *string `json:"priority"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	id, ok := taskIDParam(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid task id", nil)
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Title is required", nil)
		return
	}

	t, err := s.tasks.GetForUser(ctx, owner.ID, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t.Title = title
	t.Description = strings.TrimSpace(req.Description)
	if req.Priority != nil {
		p, ok := task.ParsePriority(*req.Priority)
		if !ok {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Invalid priority", nil)
			return
		}
		t.Priority = p
	}
	if err := s.tasks.Update(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	updated, err := s.tasks.GetForUser(ctx, owner.ID, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: updated})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	id, ok := taskIDParam(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid task id", nil)
		return
	}
	if err := s.tasks.Delete(ctx, owner.ID, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"success": true})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdateTaskStatus moves a task through the pipeline. Entering
// in_progress from any other status triggers the dispatch decision tree;
// every other transition is a plain status write.
func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	id, ok := taskIDParam(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid task id", nil)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	status, ok := task.ParseStatus(req.Status)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Invalid status", nil)
		return
	}

	t, err := s.tasks.GetForUser(ctx, owner.ID, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	if status == task.StatusInProgress && t.Status != task.StatusInProgress {
		outcome, err := s.dispatcher.Dispatch(ctx, owner, t)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		updated, err := s.tasks.GetForUser(ctx, owner.ID, id)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, &taskResponse{Task: updated, Warning: outcome.Warning, Info: outcome.Note})
		return
	}

	upd := task.StatusUpdate{Status: status}
	if status == task.StatusBuilt {
		now := time.Now().UTC()
		upd.CompletedAt = &now
	}
	if err := s.tasks.UpdateStatus(ctx, id, upd); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	updated, err := s.tasks.GetForUser(ctx, owner.ID, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: updated})
}

func taskIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
