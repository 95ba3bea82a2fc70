package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/missionctl/mission-control/internal/openclaw"
	"github.com/missionctl/mission-control/internal/reconcile"
	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/pkg/cerr"
)

// normalizeEndpoint reduces a user-entered URL to scheme://host. Anything
// that is not http(s) with a hostname is rejected; paths and trailing
// slashes are dropped so stored endpoints are comparable.
func normalizeEndpoint(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Hostname() == "" {
		return ""
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host, "/")
}

type configResponse struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Token     string `json:"token,omitempty"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	resp := &configResponse{
		Endpoint:  owner.RemoteEndpoint,
		Connected: owner.RemoteEndpoint != "",
	}
	// The stored token never leaves the server.
	if owner.RemoteToken != "" {
		resp.Token = "***CONFIGURED***"
	}
	cerr.SetJSONResponse(ctx, resp)
}

type configRequest struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Endpoint is required", nil)
		return
	}
	normalized := normalizeEndpoint(req.Endpoint)
	if normalized == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument,
			"Invalid endpoint URL: use http or https with a host (e.g. http://127.0.0.1:18789)", nil)
		return
	}

	// The config must be proven reachable before it is persisted; a bad save
	// would silently break every dispatch after it.
	probe := s.client.ProbeStatus(ctx, normalized, req.Token)
	if !probe.Success {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Connection test failed: "+probe.Error, nil)
		return
	}

	if err := s.users.UpdateRemoteConfig(ctx, owner.ID, normalized, req.Token); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{
		"success":     true,
		"message":     "OpenClaw configuration saved successfully",
		"test_result": probe,
	})
}

func (s *Server) handleRemoveConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	if err := s.users.ClearRemoteConfig(ctx, owner.ID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{
		"success": true,
		"message": "OpenClaw configuration removed",
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "Endpoint is required", nil)
		return
	}
	cerr.SetJSONResponse(ctx, s.client.ProbeStatus(ctx, req.Endpoint, req.Token))
}

type statusResponse struct {
	Connected        bool                  `json:"connected"`
	Message          string                `json:"message,omitempty"`
	Endpoint         string                `json:"endpoint,omitempty"`
	Version          string                `json:"version,omitempty"`
	ConnectionStatus *openclaw.ProbeResult `json:"connection_status,omitempty"`
	TaskStats        map[task.Status]int   `json:"task_stats,omitempty"`
	TotalTasks       int                   `json:"total_openclaw_tasks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	if owner.RemoteEndpoint == "" {
		cerr.SetJSONResponse(ctx, &statusResponse{Connected: false, Message: "OpenClaw not configured"})
		return
	}

	probe := s.client.ProbeStatus(ctx, owner.RemoteEndpoint, owner.RemoteToken)
	stats, err := s.tasks.SessionStats(ctx, owner.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	cerr.SetJSONResponse(ctx, &statusResponse{
		Connected:        probe.Success,
		Endpoint:         owner.RemoteEndpoint,
		Version:          probe.Version,
		ConnectionStatus: probe,
		TaskStats:        stats,
		TotalTasks:       total,
	})
}

func (s *Server) handleWebhookURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cerr.SetJSONResponse(ctx, map[string]any{
		"webhook_url": openclaw.WebhookURL(s.env.PublicURL),
		"instructions": []string{
			"Configure your OpenClaw instance to send completion webhooks to this URL",
			"The webhook should include: session_id, status, metadata, and result",
			"Supported statuses: completed, finished, failed, error",
		},
	})
}

type webhookResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message,omitempty"`
	Result  *reconcile.WebhookResult `json:"result,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "failed to read webhook body", err)
		return
	}
	payload, err := reconcile.ParseWebhookPayload(body)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	result, err := s.reconciler.HandleWebhook(ctx, payload)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !result.Matched {
		cerr.SetJSONResponse(ctx, &webhookResponse{Success: true, Message: "No matching task found"})
		return
	}
	slog.InfoContext(ctx, "webhook processed",
		"task_id", result.TaskID, "old_status", result.OldStatus, "new_status", result.NewStatus)
	cerr.SetJSONResponse(ctx, &webhookResponse{Success: true, Result: result})
}
