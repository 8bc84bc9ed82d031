package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DispatchSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dispatch", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-API-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Pay the Acme invoice", body["message"])
		assert.Equal(t, "cli", body["source"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"task":{"id":"t1","title":"Pay the Acme invoice","assigned_agent":"finance-agent","status":"queued"},"agent":{"id":"finance-agent"},"method":"keyword"}`)
	}))
	defer srv.Close()

	res, err := newAPIClient(srv.URL+"/", "tok", "key", time.Second).Dispatch(context.Background(), "Pay the Acme invoice", nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Task.ID)
	assert.Equal(t, "finance-agent", res.Agent.ID)
	assert.Equal(t, "keyword", res.Method)
}

func TestClient_APIKeyAndErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "/api/v1/tasks/t1/approve", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"task: invalid transition: done -> working"}`)
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "", "secret", time.Second).Review(context.Background(), "t1", "approve", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "invalid transition")
}

func TestClient_ListTasksQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "review,queued", r.URL.Query().Get("status"))
		assert.Equal(t, "drafting-agent", r.URL.Query().Get("agent"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"tasks":[{"id":"a","status":"review"},{"id":"b","status":"queued"}]}`)
	}))
	defer srv.Close()

	tasks, err := newAPIClient(srv.URL, "tok", "", time.Second).ListTasks(context.Background(), []string{"review", "queued"}, "drafting-agent", 5)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "review", tasks[0].Status)
}

func TestClient_UploadVoiceMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("audio")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "memo.wav", hdr.Filename)
		assert.Equal(t, "RIFFdata", string(data))
		assert.Equal(t, "team", r.FormValue("visibility"))
		assert.Equal(t, "bob,carol", r.FormValue("shared_with"))
		assert.Empty(t, r.FormValue("project"))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"note-1","visibility":"team"}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "memo.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0o644))
	note, err := newAPIClient(srv.URL, "tok", "", time.Second).UploadVoice(context.Background(), path, UploadOptions{
		Visibility: "team",
		SharedWith: []string{"bob", "carol"},
	})
	require.NoError(t, err)
	assert.Equal(t, "note-1", note.ID)
}

func TestClient_EventsURL(t *testing.T) {
	u, h, err := newAPIClient("https://steward.example.com", "tok", "", time.Second).EventsURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://steward.example.com/api/v1/events/ws", u)
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))

	u, _, err = newAPIClient("http://localhost:8080", "", "k", time.Second).EventsURL()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "ws://localhost:8080/"))
}

type scriptedConn struct {
	frames [][]byte
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	if len(c.frames) == 0 {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return websocket.TextMessage, f, nil
}

func TestStreamEvents_FiltersByTask(t *testing.T) {
	conn := &scriptedConn{frames: [][]byte{
		[]byte(`{"kind":"task_started","task_id":"t1"}`),
		[]byte(`not json`),
		[]byte(`{"kind":"task_started","task_id":"t2"}`),
		[]byte(`{"kind":"task_completed","task_id":"t1","status":"done"}`),
	}}
	var kinds []string
	err := streamEvents(conn, "t1", func(e Event, _ []byte) { kinds = append(kinds, e.Kind) })
	require.NoError(t, err)
	assert.Equal(t, []string{"task_started", "task_completed"}, kinds)
}

func TestParseContext(t *testing.T) {
	got, err := parseContext([]string{"vendor=Acme", " due = Friday "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"vendor": "Acme", "due": "Friday"}, got)

	_, err = parseContext([]string{"novalue"})
	assert.Error(t, err)

	got, err = parseContext(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRenderItem(t *testing.T) {
	out := renderItem(&ReviewItem{Kind: "proposal", Proposal: &Proposal{
		ID:               "p1",
		ExecutionChannel: "slack",
		Status:           "pending_review",
		ActionPayload:    json.RawMessage(`{"to":"Dana","subject":"Intro","body":"Hello Dana"}`),
	}})
	assert.Contains(t, out, "Dana")
	assert.Contains(t, out, "Hello Dana")

	out = renderItem(&ReviewItem{Kind: "task", Task: &Task{ID: "t1", Title: "Research", Status: "failed", Error: "timed out after 15m0s"}})
	assert.Contains(t, out, "timed out after 15m0s")
}
