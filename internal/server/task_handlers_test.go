package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionctl/mission-control/internal/dispatch"
	"github.com/missionctl/mission-control/internal/eventbus"
	"github.com/missionctl/mission-control/internal/reconcile"
	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/internal/user"
	"github.com/missionctl/mission-control/pkg/cerr"
	"github.com/missionctl/mission-control/pkg/clog"
)

type stubStore struct {
	task.Store
	tasks map[int64]*task.Task
}

func (s *stubStore) GetForUser(ctx context.Context, userID, id int64) (*task.Task, error) {
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return t, nil
}

func (s *stubStore) GetBySessionID(ctx context.Context, sessionID string) (*task.Task, error) {
	for _, t := range s.tasks {
		if t.RemoteSessionID == sessionID {
			return t, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
}

func (s *stubStore) UpdateStatus(ctx context.Context, id int64, upd task.StatusUpdate) error {
	t, ok := s.tasks[id]
	if !ok {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	t.Status = upd.Status
	if upd.RemoteSessionID != nil {
		t.RemoteSessionID = *upd.RemoteSessionID
	}
	if upd.ResultData != nil {
		t.ResultData = upd.ResultData
	}
	if upd.CompletedAt != nil && t.CompletedAt == nil {
		t.CompletedAt = upd.CompletedAt
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (s *stubStore) Touch(ctx context.Context, id int64) error {
	if t, ok := s.tasks[id]; ok {
		t.UpdatedAt = time.Now()
	}
	return nil
}

type stubCreator struct {
	sessionID string
	err       error
}

func (c *stubCreator) StartTask(ctx context.Context, endpoint, token string, t *task.Task, webhookURL string) (string, error) {
	return c.sessionID, c.err
}

type noopFallback struct{}

func (noopFallback) Submit(int64) bool { return true }

func newTestServer(store *stubStore, creator *stubCreator) *Server {
	bus := eventbus.New()
	return &Server{
		tasks:      store,
		dispatcher: dispatch.NewEngine(store, creator, noopFallback{}, bus, "http://localhost:3001/api/openclaw/webhook"),
		reconciler: reconcile.NewEngine(store, nil, nil, bus, 5*time.Minute),
		bus:        bus,
	}
}

func testRouter(srv *Server, owner *user.User) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		r.Post("/openclaw/webhook", srv.handleWebhook)
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					ctx := context.WithValue(req.Context(), ownerContextKey{}, owner)
					next.ServeHTTP(w, req.WithContext(ctx))
				})
			})
			r.Put("/tasks/{taskID}/status", srv.handleUpdateTaskStatus)
		})
	})
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]json.RawMessage
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestUpdateTaskStatus_DispatchOnMoveToInProgress(t *testing.T) {
	owner := &user.User{ID: 10, RemoteEndpoint: "http://10.0.0.2:18789", RemoteToken: "tok"}
	store := &stubStore{tasks: map[int64]*task.Task{
		1: {ID: 1, UserID: 10, Title: "t", Status: task.StatusNew},
	}}
	srv := newTestServer(store, &stubCreator{sessionID: "sess-1"})
	router := testRouter(srv, owner)

	rec, _ := doJSON(t, router, http.MethodPut, "/api/tasks/1/status", map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, task.StatusInProgress, resp.Task.Status)
	assert.Equal(t, "sess-1", resp.Task.RemoteSessionID)
	assert.Empty(t, resp.Warning)
}

func TestUpdateTaskStatus_MissingTokenRejected(t *testing.T) {
	owner := &user.User{ID: 10, RemoteEndpoint: "http://10.0.0.2:18789"}
	store := &stubStore{tasks: map[int64]*task.Task{
		1: {ID: 1, UserID: 10, Title: "t", Status: task.StatusNew},
	}}
	srv := newTestServer(store, &stubCreator{})
	router := testRouter(srv, owner)

	rec, body := doJSON(t, router, http.MethodPut, "/api/tasks/1/status", map[string]string{"status": "in_progress"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Contains(t, string(body["message"]), "authentication token required")

	// Nothing moved.
	assert.Equal(t, task.StatusNew, store.tasks[1].Status)
}

func TestUpdateTaskStatus_InvalidStatus(t *testing.T) {
	owner := &user.User{ID: 10}
	store := &stubStore{tasks: map[int64]*task.Task{
		1: {ID: 1, UserID: 10, Title: "t", Status: task.StatusBacklog},
	}}
	srv := newTestServer(store, &stubCreator{})
	router := testRouter(srv, owner)

	rec, _ := doJSON(t, router, http.MethodPut, "/api/tasks/1/status", map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTaskStatus_NotFound(t *testing.T) {
	owner := &user.User{ID: 10}
	srv := newTestServer(&stubStore{tasks: map[int64]*task.Task{}}, &stubCreator{})
	router := testRouter(srv, owner)

	rec, _ := doJSON(t, router, http.MethodPut, "/api/tasks/99/status", map[string]string{"status": "built"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_UpdatesMatchingTask(t *testing.T) {
	store := &stubStore{tasks: map[int64]*task.Task{
		1: {ID: 1, UserID: 10, Title: "t", Status: task.StatusInProgress, RemoteSessionID: "sess-1"},
	}}
	srv := newTestServer(store, &stubCreator{})
	router := testRouter(srv, &user.User{ID: 10})

	rec, body := doJSON(t, router, http.MethodPost, "/api/openclaw/webhook", map[string]any{
		"session_id": "sess-1",
		"status":     "completed",
		"result":     map[string]string{"summary": "done"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", string(body["success"]))
	assert.Equal(t, task.StatusBuilt, store.tasks[1].Status)
}

func TestWebhook_UnknownSessionStillSucceeds(t *testing.T) {
	srv := newTestServer(&stubStore{tasks: map[int64]*task.Task{}}, &stubCreator{})
	router := testRouter(srv, &user.User{ID: 10})

	rec, body := doJSON(t, router, http.MethodPost, "/api/openclaw/webhook", map[string]any{
		"sessionId": "sess-unknown",
		"status":    "completed",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", string(body["success"]))
	assert.Contains(t, string(body["message"]), "No matching task found")
}

func TestWebhook_MissingSessionIDRejected(t *testing.T) {
	srv := newTestServer(&stubStore{tasks: map[int64]*task.Task{}}, &stubCreator{})
	router := testRouter(srv, &user.User{ID: 10})

	rec, _ := doJSON(t, router, http.MethodPost, "/api/openclaw/webhook", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
