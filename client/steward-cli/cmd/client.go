package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Steward/backend/go/pkg/circuitbreaker"
	pkghttp "Steward/backend/go/pkg/http"
)

// Task mirrors the task JSON returned by the API.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	TaskType      string     `json:"task_type"`
	AssignedAgent string     `json:"assigned_agent"`
	RequestedBy   string     `json:"requested_by"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	NeedsReview   bool       `json:"needs_review"`
	Output        string     `json:"output"`
	Confidence    float64    `json:"confidence"`
	Error         string     `json:"error"`
	ReviewedBy    string     `json:"reviewed_by"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// Proposal mirrors an outreach proposal.
type Proposal struct {
	ID               string          `json:"id"`
	TaskID           string          `json:"task_id"`
	ExecutionChannel string          `json:"execution_channel"`
	ActionPayload    json.RawMessage `json:"action_payload"`
	Status           string          `json:"status"`
	ExecutionResult  string          `json:"execution_result"`
}

// ReviewItem is either a task or a proposal.
type ReviewItem struct {
	Kind     string    `json:"kind"`
	Task     *Task     `json:"task"`
	Proposal *Proposal `json:"proposal"`
}

// Agent mirrors a registry entry.
type Agent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AutonomyLevel int    `json:"autonomy_level"`
	Enabled       bool   `json:"enabled"`
}

// DispatchResult is the response of POST /api/v1/dispatch.
type DispatchResult struct {
	Task   *Task  `json:"task"`
	Agent  *Agent `json:"agent"`
	Method string `json:"method"`
}

// VoiceNote mirrors a stored voice note.
type VoiceNote struct {
	ID              string    `json:"id"`
	RecordedBy      string    `json:"recorded_by"`
	Transcript      *string   `json:"transcript"`
	Summary         *string   `json:"summary"`
	Topics          []string  `json:"topics"`
	ActionItems     []string  `json:"action_items"`
	MentionedPeople []string  `json:"mentioned_people"`
	Visibility      string    `json:"visibility"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// SearchResult is one voice search hit.
type SearchResult struct {
	Note       VoiceNote `json:"note"`
	Similarity float32   `json:"similarity"`
}

// Event mirrors a task lifecycle event pushed over the websocket.
type Event struct {
	Kind       string    `json:"kind"`
	TaskID     string    `json:"task_id"`
	ProposalID string    `json:"proposal_id"`
	AgentID    string    `json:"agent_id"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

type apiClient struct {
	base   string
	token  string
	apiKey string
	http   *pkghttp.Client
}

func newAPIClient(base, token, apiKey string, timeout time.Duration) *apiClient {
	breaker := circuitbreaker.New(circuitbreaker.Settings{FailureThreshold: 3, Timeout: 10 * time.Second})
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		apiKey: apiKey,
		http:   pkghttp.NewClient(timeout, breaker),
	}
}

func (c *apiClient) authorize(h http.Header) {
	switch {
	case c.token != "":
		h.Set("Authorization", "Bearer "+c.token)
	case c.apiKey != "":
		h.Set("X-API-Key", c.apiKey)
	}
}

// do sends a request and decodes a JSON response into out (when non-nil).
func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = data
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func (c *apiClient) Dispatch(ctx context.Context, message string, extra map[string]string) (*DispatchResult, error) {
	var res DispatchResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/dispatch", map[string]interface{}{
		"message": message,
		"source":  "cli",
		"context": extra,
	}, &res)
	return &res, err
}

func (c *apiClient) ListTasks(ctx context.Context, statuses []string, agent string, limit int) ([]Task, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if agent != "" {
		q.Set("agent", agent)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var res struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks?"+q.Encode(), nil, &res)
	return res.Tasks, err
}

func (c *apiClient) View(ctx context.Context, id string) (*ReviewItem, error) {
	var item ReviewItem
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/reviews/"+url.PathEscape(id), nil, &item)
	return &item, err
}

// Review approves or rejects a task or proposal.
func (c *apiClient) Review(ctx context.Context, id, decision, notes string) (*ReviewItem, error) {
	var item ReviewItem
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/"+decision, map[string]string{"notes": notes}, &item)
	return &item, err
}

// UploadOptions are the optional voice upload form fields.
type UploadOptions struct {
	Visibility string
	Project    string
	ContactID  string
	SharedWith []string
}

func (c *apiClient) UploadVoice(ctx context.Context, path string, opts UploadOptions) (*VoiceNote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"visibility":  opts.Visibility,
		"project":     opts.Project,
		"contact_id":  opts.ContactID,
		"shared_with": strings.Join(opts.SharedWith, ","),
	}
	for k, val := range fields {
		if val == "" {
			continue
		}
		if err := mw.WriteField(k, val); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var note VoiceNote
	err = c.do(ctx, http.MethodPost, "/api/v1/voice", &buf, mw.FormDataContentType(), &note)
	return &note, err
}

func (c *apiClient) SearchVoice(ctx context.Context, query, scope, project string, topK int) ([]SearchResult, error) {
	q := url.Values{"q": {query}}
	if scope != "" {
		q.Set("scope", scope)
	}
	if project != "" {
		q.Set("project", project)
	}
	if topK > 0 {
		q.Set("top_k", fmt.Sprint(topK))
	}
	var res struct {
		Results []SearchResult `json:"results"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/voice/search?"+q.Encode(), nil, &res)
	return res.Results, err
}

// EventsURL returns the websocket URL for the event stream.
func (c *apiClient) EventsURL() (string, http.Header, error) {
	u, err := url.Parse(c.base + "/api/v1/events/ws")
	if err != nil {
		return "", nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	h := http.Header{}
	c.authorize(h)
	return u.String(), h, nil
}
