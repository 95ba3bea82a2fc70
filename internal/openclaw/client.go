// Package openclaw is a stateless HTTP facade over an OpenClaw instance's
// REST API. Every call takes the endpoint and token explicitly; nothing is
// cached between calls, so one client serves every user.
package openclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/missionctl/mission-control/internal/task"
)

const (
	statusTimeout = 10 * time.Second
	// Hook and tool deliveries only enqueue work, so they answer quickly.
	handoffTimeout = 15 * time.Second
	// Session creation may involve the remote agent doing real work before
	// acknowledging, so it gets a longer budget.
	createTimeout    = 30 * time.Second
	responsesTimeout = 5 * time.Minute

	sessionKeyNamespace = "mission-control"
)

// WebhookURL builds the completion-webhook address OpenClaw reports back to,
// from the server's public base URL.
func WebhookURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + "/api/openclaw/webhook"
}

type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{
		// Per-call deadlines come from contexts; the transport-level timeout
		// is a backstop only.
		http: &http.Client{Timeout: responsesTimeout + time.Minute},
	}
}

// ProbeResult is the normalized outcome of a connection test. It never
// surfaces transport errors; failures carry a human-readable reason instead.
type ProbeResult struct {
	Success bool   `json:"success"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status,omitempty"`
	Service string `json:"service,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ProbeStatus checks that the endpoint hosts an actual OpenClaw instance. A
// generic JSON response without the expected service markers is rejected, so
// a user pointing their settings at an unrelated server gets a clear answer
// instead of silent misbehavior later.
func (c *Client) ProbeStatus(ctx context.Context, endpoint, token string) *ProbeResult {
	base := baseURL(endpoint)
	if base == "" {
		return &ProbeResult{Success: false, Error: "Invalid endpoint URL"}
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return &ProbeResult{Success: false, Error: "Invalid endpoint URL"}
	}
	setAuth(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		reason, code := classifyTransportError(err)
		return &ProbeResult{Success: false, Error: reason, Code: code}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProbeResult{
			Success: false,
			Error:   fmt.Sprintf("OpenClaw returned HTTP %d", resp.StatusCode),
			Code:    fmt.Sprint(resp.StatusCode),
		}
	}

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Service string `json:"service"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return &ProbeResult{Success: false, Error: "This URL does not appear to be an OpenClaw instance"}
	}

	// A real instance reports a status plus at least one identifying marker.
	valid := body.Status != "" &&
		(body.Version != "" || body.Service == "openclaw" || body.Name == "OpenClaw")
	if !valid {
		return &ProbeResult{Success: false, Error: "This URL does not appear to be an OpenClaw instance"}
	}

	version := body.Version
	if version == "" {
		version = "unknown"
	}
	service := body.Service
	if service == "" {
		service = "openclaw"
	}
	return &ProbeResult{Success: true, Version: version, Status: body.Status, Service: service}
}

// StartTask hands a task to OpenClaw, trying the handoff paths in order of
// preference: hook delivery, then the tools-invoke spawn, then plain session
// creation. Hook delivery reports back over the completion webhook under a
// synthetic session id; the other two return a real session id the poller
// can follow. An error means every path failed.
func (c *Client) StartTask(ctx context.Context, endpoint, token string, t *task.Task, webhookURL string) (string, error) {
	sessionID, err := c.SendHook(ctx, endpoint, token, t, webhookURL)
	if err == nil {
		return sessionID, nil
	}
	slog.WarnContext(ctx, "OpenClaw hook delivery failed, trying tools invoke", "task_id", t.ID, "error", err)

	sessionID, err = c.SpawnSession(ctx, endpoint, token, t)
	if err == nil {
		return sessionID, nil
	}
	slog.WarnContext(ctx, "OpenClaw tools invoke failed, trying session create", "task_id", t.ID, "error", err)

	return c.CreateSession(ctx, endpoint, token, t)
}

// SendHook delivers the task through OpenClaw's webhook automation endpoint.
// The instance must have hooks enabled with a token matching ours; it answers
// 202 on acceptance and runs the agent detached, so the returned session id
// is synthetic and never polled.
func (c *Client) SendHook(ctx context.Context, endpoint, token string, t *task.Task, webhookURL string) (string, error) {
	base := baseURL(endpoint)
	if base == "" {
		return "", errors.New("OpenClaw endpoint not configured")
	}

	body := map[string]any{
		"message":  BuildHookMessage(t, webhookURL),
		"name":     "Mission Control",
		"wakeMode": "now",
		"deliver":  false,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, handoffTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/hooks/agent", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		reason, _ := classifyTransportError(err)
		return "", fmt.Errorf("cannot reach OpenClaw instance: %s", reason)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		if resp.StatusCode == http.StatusUnauthorized {
			return "", errors.New("hook endpoint rejected the token - set hooks.token in OpenClaw to match the Mission Control authentication token")
		}
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", fmt.Errorf("hook endpoint returned HTTP %d - %s", resp.StatusCode, errorMessage(payload, resp.Status))
	}
	return task.HookSessionID(t.ID), nil
}

// SpawnSession starts the task through the tools-invoke API. Instances that
// do not allow sessions_spawn over HTTP answer 404; the caller falls through
// to the next handoff path.
func (c *Client) SpawnSession(ctx context.Context, endpoint, token string, t *task.Task) (string, error) {
	base := baseURL(endpoint)
	if base == "" {
		return "", errors.New("OpenClaw endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, handoffTimeout)
	defer cancel()

	payload, err := c.postJSON(ctx, base+"/tools/invoke", token, map[string]any{
		"tool":       "sessions_spawn",
		"args":       map[string]any{"task": BuildPrompt(t)},
		"sessionKey": "main",
	})
	if err != nil {
		return "", err
	}

	var body struct {
		Result struct {
			RunID           string `json:"runId"`
			ChildSessionKey string `json:"childSessionKey"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("OpenClaw returned an unreadable response: %w", err)
	}
	runID := body.Result.RunID
	if runID == "" {
		runID = body.Result.ChildSessionKey
	}
	if runID == "" {
		return "", errors.New("tools invoke did not return a run ID")
	}
	return runID, nil
}

// CreateSession hands a task to OpenClaw and returns the remote session id.
// The session key embeds the task id so remote sessions stay traceable back
// to the local task even across retries.
func (c *Client) CreateSession(ctx context.Context, endpoint, token string, t *task.Task) (string, error) {
	base := baseURL(endpoint)
	if base == "" {
		return "", errors.New("OpenClaw endpoint not configured")
	}

	body := map[string]any{
		"message":     BuildPrompt(t),
		"session_key": fmt.Sprintf("%s-%d-%s", sessionKeyNamespace, t.ID, uuid.NewString()),
		"metadata": map[string]any{
			"source":     sessionKeyNamespace,
			"task_id":    t.ID,
			"priority":   t.Priority,
			"created_at": t.CreatedAt.UTC().Format(time.RFC3339),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	payload, err := c.postJSON(ctx, base+"/api/sessions", token, body)
	if err != nil {
		return "", err
	}

	var created struct {
		SessionID      string `json:"session_id"`
		SessionIDCamel string `json:"sessionId"`
	}
	if err := json.Unmarshal(payload, &created); err != nil {
		return "", fmt.Errorf("OpenClaw returned an unreadable response: %w", err)
	}
	sessionID := created.SessionID
	if sessionID == "" {
		sessionID = created.SessionIDCamel
	}
	if sessionID == "" {
		return "", errors.New("OpenClaw did not return a session ID")
	}
	return sessionID, nil
}

// SessionStatus is the normalized remote session state. Raw preserves the
// full payload for callers that store it.
type SessionStatus struct {
	Completed bool
	Status    string
	Raw       json.RawMessage
}

// Done reports whether the remote service considers the session finished.
// Deployments vary: some set the completed flag, some report "completed",
// older ones report "finished".
func (s *SessionStatus) Done() bool {
	return s.Completed || s.Status == "completed" || s.Status == "finished"
}

func (c *Client) GetSessionStatus(ctx context.Context, endpoint, token, sessionID string) (*SessionStatus, error) {
	payload, err := c.getJSON(ctx, baseURL(endpoint)+"/api/sessions/"+sessionID, token, statusTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to get session status for %s: %w", sessionID, err)
	}
	var body struct {
		Completed bool   `json:"completed"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("unreadable session status for %s: %w", sessionID, err)
	}
	return &SessionStatus{Completed: body.Completed, Status: body.Status, Raw: payload}, nil
}

// GetSessionHistory fetches the full result detail of a finished session.
// The payload is opaque to this server; it is stored as the task's result.
func (c *Client) GetSessionHistory(ctx context.Context, endpoint, token, sessionID string) (json.RawMessage, error) {
	payload, err := c.getJSON(ctx, baseURL(endpoint)+"/api/sessions/"+sessionID+"/history", token, statusTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to get session history for %s: %w", sessionID, err)
	}
	return payload, nil
}

// RunResponses executes a task synchronously through the OpenResponses API.
// This is the session-less fallback path: no session id, no polling, the
// result comes back in the response body.
func (c *Client) RunResponses(ctx context.Context, endpoint, token string, t *task.Task) (json.RawMessage, error) {
	base := baseURL(endpoint)
	if base == "" {
		return nil, errors.New("OpenClaw endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, responsesTimeout)
	defer cancel()

	return c.postJSON(ctx, base+"/v1/responses", token, map[string]any{
		"model": "openclaw",
		"input": BuildPrompt(t),
		"user":  fmt.Sprintf("%s-%d", sessionKeyNamespace, t.ID),
	})
}

func (c *Client) postJSON(ctx context.Context, url, token string, body any) (json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		reason, _ := classifyTransportError(err)
		return nil, fmt.Errorf("cannot reach OpenClaw instance: %s", reason)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenClaw response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("OpenClaw API error: %d - %s", resp.StatusCode, errorMessage(payload, resp.Status))
	}
	return payload, nil
}

func (c *Client) getJSON(ctx context.Context, url, token string, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	setAuth(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		reason, _ := classifyTransportError(err)
		return nil, fmt.Errorf("cannot reach OpenClaw instance: %s", reason)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenClaw response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("OpenClaw API error: %d - %s", resp.StatusCode, errorMessage(payload, resp.Status))
	}
	return payload, nil
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// errorMessage pulls a message field out of an error payload, falling back to
// the HTTP status line.
func errorMessage(payload []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fallback
}

// baseURL strips trailing slashes; an empty result means the endpoint is
// unusable.
func baseURL(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// classifyTransportError translates low-level network failures into the
// human-readable reasons users see in connection tests.
func classifyTransportError(err error) (reason, code string) {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused - OpenClaw is not running at this URL", "ECONNREFUSED"
	case errors.As(err, &dnsErr):
		return "Host not found - please check the URL", "ENOTFOUND"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) || isTimeout(err):
		return "Connection timed out - OpenClaw may not be responding", "ETIMEDOUT"
	default:
		return err.Error(), ""
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
