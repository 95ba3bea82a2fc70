package openclaw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionctl/mission-control/internal/task"
)

func TestProbeStatus_ValidInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.4.2"})
	}))
	defer srv.Close()

	result := NewClient().ProbeStatus(context.Background(), srv.URL, "secret")
	require.True(t, result.Success)
	assert.Equal(t, "1.4.2", result.Version)
	assert.Equal(t, "ok", result.Status)
}

func TestProbeStatus_ServiceMarkerWithoutVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "running", "service": "openclaw"})
	}))
	defer srv.Close()

	result := NewClient().ProbeStatus(context.Background(), srv.URL, "")
	require.True(t, result.Success)
	assert.Equal(t, "unknown", result.Version)
}

func TestProbeStatus_NotAnOpenClawInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A status endpoint from some unrelated service.
		json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
	}))
	defer srv.Close()

	result := NewClient().ProbeStatus(context.Background(), srv.URL, "")
	require.False(t, result.Success)
	assert.Equal(t, "This URL does not appear to be an OpenClaw instance", result.Error)
}

func TestProbeStatus_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := NewClient().ProbeStatus(context.Background(), srv.URL, "bad-token")
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "OpenClaw returned HTTP 401")
	assert.Equal(t, "401", result.Code)
}

func TestProbeStatus_ConnectionRefused(t *testing.T) {
	// A server that is immediately closed leaves a port nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	result := NewClient().ProbeStatus(context.Background(), url, "")
	require.False(t, result.Success)
	assert.Equal(t, "Connection refused - OpenClaw is not running at this URL", result.Error)
	assert.Equal(t, "ECONNREFUSED", result.Code)
}

func TestProbeStatus_EmptyEndpoint(t *testing.T) {
	result := NewClient().ProbeStatus(context.Background(), "   ", "")
	require.False(t, result.Success)
	assert.Equal(t, "Invalid endpoint URL", result.Error)
}

func TestSendHook_AcceptedReturnsSyntheticID(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hooks/agent", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tk := &task.Task{ID: 5, Title: "Build the thing", Priority: task.PriorityMedium}
	sessionID, err := NewClient().SendHook(context.Background(), srv.URL, "tok", tk, "https://mc.example.com/api/openclaw/webhook")
	require.NoError(t, err)
	assert.Equal(t, "hook:task-5", sessionID)

	assert.Equal(t, "Mission Control", captured["name"])
	assert.Equal(t, "now", captured["wakeMode"])
	assert.Equal(t, false, captured["deliver"])
	message, _ := captured["message"].(string)
	assert.Contains(t, message, "https://mc.example.com/api/openclaw/webhook")
	assert.Contains(t, message, `"session_id":"hook:task-5"`)
}

func TestSendHook_NonAcceptedStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewClient().SendHook(context.Background(), srv.URL, "", &task.Task{ID: 1, Title: "x"}, "http://localhost/api/openclaw/webhook")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 200")
}

func TestSendHook_UnauthorizedHintsAtHooksToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient().SendHook(context.Background(), srv.URL, "tok", &task.Task{ID: 1, Title: "x"}, "http://localhost/api/openclaw/webhook")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hooks.token")
}

func TestSpawnSession_ReturnsRunID(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/invoke", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"runId": "run-7"}})
	}))
	defer srv.Close()

	sessionID, err := NewClient().SpawnSession(context.Background(), srv.URL, "", &task.Task{ID: 7, Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "run-7", sessionID)
	assert.Equal(t, "sessions_spawn", captured["tool"])
	assert.Equal(t, "main", captured["sessionKey"])
}

func TestSpawnSession_ChildSessionKeyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"childSessionKey": "child-1"}})
	}))
	defer srv.Close()

	sessionID, err := NewClient().SpawnSession(context.Background(), srv.URL, "", &task.Task{ID: 1, Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "child-1", sessionID)
}

func TestStartTask_FallsThroughToSessionCreate(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/hooks/agent":
			w.WriteHeader(http.StatusNotFound)
		case "/tools/invoke":
			w.WriteHeader(http.StatusNotFound)
		case "/api/sessions":
			json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-real"})
		}
	}))
	defer srv.Close()

	sessionID, err := NewClient().StartTask(context.Background(), srv.URL, "tok", &task.Task{ID: 3, Title: "x"}, "http://localhost/api/openclaw/webhook")
	require.NoError(t, err)
	assert.Equal(t, "sess-real", sessionID)
	assert.Equal(t, []string{"/hooks/agent", "/tools/invoke", "/api/sessions"}, paths)
}

func TestStartTask_HookWinsFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hooks/agent", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sessionID, err := NewClient().StartTask(context.Background(), srv.URL, "tok", &task.Task{ID: 11, Title: "x"}, "http://localhost/api/openclaw/webhook")
	require.NoError(t, err)
	assert.Equal(t, "hook:task-11", sessionID)
}

func TestWebhookURL(t *testing.T) {
	assert.Equal(t, "https://mc.example.com/api/openclaw/webhook", WebhookURL("https://mc.example.com/"))
	assert.Equal(t, "http://localhost:3001/api/openclaw/webhook", WebhookURL("http://localhost:3001"))
}

func TestCreateSession_ReturnsSessionID(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-123"})
	}))
	defer srv.Close()

	tk := &task.Task{ID: 9, Title: "Build the thing", Priority: task.PriorityHigh}
	sessionID, err := NewClient().CreateSession(context.Background(), srv.URL+"/", "tok", tk)
	require.NoError(t, err)
	assert.Equal(t, "sess-123", sessionID)

	key, _ := captured["session_key"].(string)
	assert.True(t, strings.HasPrefix(key, "mission-control-9-"), "session_key %q", key)
	assert.Equal(t, BuildPrompt(tk), captured["message"])

	metadata, _ := captured["metadata"].(map[string]any)
	require.NotNil(t, metadata)
	assert.Equal(t, "mission-control", metadata["source"])
	assert.Equal(t, float64(9), metadata["task_id"])
}

func TestCreateSession_CamelCaseSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-camel"})
	}))
	defer srv.Close()

	sessionID, err := NewClient().CreateSession(context.Background(), srv.URL, "", &task.Task{ID: 1, Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "sess-camel", sessionID)
}

func TestCreateSession_MissingSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "created"})
	}))
	defer srv.Close()

	_, err := NewClient().CreateSession(context.Background(), srv.URL, "", &task.Task{ID: 1, Title: "x"})
	require.Error(t, err)
	assert.EqualError(t, err, "OpenClaw did not return a session ID")
}

func TestCreateSession_RemoteErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "agent pool exhausted"})
	}))
	defer srv.Close()

	_, err := NewClient().CreateSession(context.Background(), srv.URL, "", &task.Task{ID: 1, Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "agent pool exhausted")
}

func TestGetSessionStatus_Done(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/sess-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"completed": true, "status": "running"})
	}))
	defer srv.Close()

	status, err := NewClient().GetSessionStatus(context.Background(), srv.URL, "", "sess-1")
	require.NoError(t, err)
	assert.True(t, status.Done())
}

func TestSessionStatus_DoneByStatusString(t *testing.T) {
	s := &SessionStatus{Completed: false, Status: "completed"}
	assert.True(t, s.Done())

	s = &SessionStatus{Completed: false, Status: "finished"}
	assert.True(t, s.Done())

	s = &SessionStatus{Completed: false, Status: "running"}
	assert.False(t, s.Done())
}

func TestGetSessionHistory_ReturnsRawPayload(t *testing.T) {
	payload := `{"messages":[{"role":"assistant","content":"done"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/sess-2/history", r.URL.Path)
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	history, err := NewClient().GetSessionHistory(context.Background(), srv.URL, "", "sess-2")
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(history))
}

func TestRunResponses_PostsPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/responses", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "openclaw", body["model"])
		assert.Equal(t, "mission-control-5", body["user"])
		json.NewEncoder(w).Encode(map[string]string{"output": "result text"})
	}))
	defer srv.Close()

	result, err := NewClient().RunResponses(context.Background(), srv.URL, "tok", &task.Task{ID: 5, Title: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"output":"result text"}`, string(result))
}

func TestBaseURL_TrimsTrailingSlashes(t *testing.T) {
	assert.Equal(t, "http://10.0.0.2:18789", baseURL("http://10.0.0.2:18789///"))
	assert.Equal(t, "", baseURL("   "))
}
