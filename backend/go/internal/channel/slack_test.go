package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/pkg/ratelimiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlackAPI struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
	auth     []string
	reply    string
}

func (f *fakeSlackAPI) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		if r.URL.Path == "/files/memo.m4a" {
			_, _ = w.Write([]byte("ID3-audio"))
			return
		}
		var p map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.payloads = append(f.payloads, p)
		reply := f.reply
		if reply == "" {
			reply = `{"ok":true,"ts":"1700000000.000200"}`
		}
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const testSecret = "shh"

func newTestSlack(api string, secret string) *Slack {
	return NewSlack(config.SlackConfig{BotToken: "xoxb-test", SigningSecret: secret, APIBaseURL: api}, ratelimiter.NewTokenBucket(100, 10), nil)
}

// signedRequest 构造一个用 testSecret 签名的请求。
func signedRequest(target, contentType, body string) *http.Request {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "v0:%d:%s", ts, body)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func collect(s *Slack) <-chan Event {
	ch := make(chan Event, 4)
	s.OnEvent(func(_ context.Context, ev Event) { ch <- ev })
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestSlack_URLVerification(t *testing.T) {
	s := newTestSlack("http://unused", testSecret)
	rec := httptest.NewRecorder()
	s.EventsHandler()(rec, signedRequest("/slack/events", "", `{"type":"url_verification","challenge":"abc"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"abc"}`, rec.Body.String())
}

func TestSlack_RejectsRequestsWithoutSigningSecret(t *testing.T) {
	s := newTestSlack("http://unused", "")
	events := collect(s)
	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U1","text":"<@U0BOT> wire the money","ts":"171.9","channel":"C1"}}`

	rec := httptest.NewRecorder()
	s.EventsHandler()(rec, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	s.InteractionsHandler()(rec, signedRequest("/slack/interactions", "application/x-www-form-urlencoded", "payload={}"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, events)
}

func TestSlack_AppMention(t *testing.T) {
	s := newTestSlack("http://unused", testSecret)
	events := collect(s)
	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U1","text":"<@U0BOT> pay the invoice","ts":"171.1","channel":"C1"}}`

	rec := httptest.NewRecorder()
	s.EventsHandler()(rec, signedRequest("/slack/events", "", body))
	require.Equal(t, http.StatusOK, rec.Code)

	ev := waitEvent(t, events)
	assert.Equal(t, EventMention, ev.Type)
	assert.Equal(t, "pay the invoice", ev.Text)
	assert.Equal(t, "mention|U1|171.1", ev.DedupKey())
	assert.Equal(t, "C1", ev.ChannelID)
}

func TestSlack_AudioFileShareIsDownloaded(t *testing.T) {
	api := &fakeSlackAPI{}
	srv := api.server(t)
	s := newTestSlack(srv.URL, testSecret)
	events := collect(s)
	body := fmt.Sprintf(`{"type":"event_callback","event":{"type":"message","subtype":"file_share","user":"U1","ts":"171.2","channel":"C1",
		"files":[{"name":"memo.m4a","mimetype":"audio/mp4","url_private_download":"%s/files/memo.m4a"}]}}`, srv.URL)

	rec := httptest.NewRecorder()
	s.EventsHandler()(rec, signedRequest("/slack/events", "", body))

	ev := waitEvent(t, events)
	assert.Equal(t, EventAttachment, ev.Type)
	require.NotNil(t, ev.Attachment)
	assert.Equal(t, []byte("ID3-audio"), ev.Attachment.Data)
	assert.Equal(t, []string{"Bearer xoxb-test"}, api.auth)
}

func TestSlack_SignatureVerification(t *testing.T) {
	s := newTestSlack("http://unused", testSecret)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	body := `{"type":"url_verification","challenge":"abc"}`

	sign := func(ts int64) *http.Request {
		mac := hmac.New(sha256.New, []byte(testSecret))
		fmt.Fprintf(mac, "v0:%d:%s", ts, body)
		req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
		req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
		return req
	}

	rec := httptest.NewRecorder()
	s.EventsHandler()(rec, sign(now.Unix()))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.EventsHandler()(rec, sign(now.Add(-10*time.Minute).Unix()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := sign(now.Unix())
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec = httptest.NewRecorder()
	s.EventsHandler()(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlack_BlockAction(t *testing.T) {
	s := newTestSlack("http://unused", testSecret)
	events := collect(s)
	payload := `{"type":"block_actions","user":{"id":"U2"},"channel":{"id":"C1"},"message":{"ts":"171.3","thread_ts":"171.0"},
		"actions":[{"action_id":"approve","value":"task-9","action_ts":"171.4"}]}`
	form := url.Values{"payload": {payload}}.Encode()

	rec := httptest.NewRecorder()
	s.InteractionsHandler()(rec, signedRequest("/slack/interactions", "application/x-www-form-urlencoded", form))
	require.Equal(t, http.StatusOK, rec.Code)

	ev := waitEvent(t, events)
	assert.Equal(t, EventButton, ev.Type)
	assert.Equal(t, &Action{Name: ActionApprove, TargetID: "task-9"}, ev.Action)
	assert.Equal(t, "171.0", ev.ThreadID)
	assert.Equal(t, "button|U2|171.4", ev.DedupKey())
}

func TestSlack_SendWithButtonsAndStartThread(t *testing.T) {
	api := &fakeSlackAPI{}
	s := newTestSlack(api.server(t).URL, "")
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, Message{ChannelID: "C1", ThreadID: "171.0", Text: "needs review", Buttons: reviewButtons("task-1")}))
	thread, err := s.StartThread(ctx, "C2", "digest")
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000200", thread)

	require.Len(t, api.payloads, 2)
	first := api.payloads[0]
	assert.Equal(t, "171.0", first["thread_ts"])
	blocks := first["blocks"].([]interface{})
	require.Len(t, blocks, 2)
	elements := blocks[1].(map[string]interface{})["elements"].([]interface{})
	require.Len(t, elements, 3)
	assert.Equal(t, "approve", elements[0].(map[string]interface{})["action_id"])
	assert.Equal(t, "task-1", elements[0].(map[string]interface{})["value"])
	assert.NotContains(t, api.payloads[1], "blocks")
}

func TestSlack_APIError(t *testing.T) {
	api := &fakeSlackAPI{reply: `{"ok":false,"error":"channel_not_found"}`}
	s := newTestSlack(api.server(t).URL, "")

	err := s.Send(context.Background(), Message{ChannelID: "C404", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")

	err = NewSlack(config.SlackConfig{}, nil, nil).Send(context.Background(), Message{ChannelID: "C1", Text: "hi"})
	assert.Error(t, err)
}
