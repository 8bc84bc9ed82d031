package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/pkg/logger"
	"Steward/backend/go/pkg/ratelimiter"

	"github.com/tidwall/gjson"
)

const (
	slackName          = "slack"
	maxSlackBody       = 1 << 20
	maxSlackAttachment = 25 << 20
	signatureMaxAge    = 5 * time.Minute
)

var mentionToken = regexp.MustCompile(`<@[A-Z0-9]+>`)

// EventHandler 接收适配器解析出的入站事件。
type EventHandler func(ctx context.Context, ev Event)

// Slack 是 Slack 的渠道适配器: 接收 Events API 和交互回调，通过 Web API 发送消息。
type Slack struct {
	cfg     config.SlackConfig
	client  *http.Client
	limiter ratelimiter.RateLimiter
	log     *logger.Logger
	now     func() time.Time

	mu      sync.RWMutex
	handler EventHandler
}

// NewSlack 创建 Slack 适配器。limiter 限制出站 API 调用速率，可以为 nil。
func NewSlack(cfg config.SlackConfig, limiter ratelimiter.RateLimiter, log *logger.Logger) *Slack {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://slack.com/api"
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Slack{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		log:     log.WithField("channel", slackName),
		now:     time.Now,
	}
}

func (s *Slack) Name() string { return slackName }

// OnEvent 设置入站事件的处理函数。
func (s *Slack) OnEvent(h EventHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// EventsHandler 处理 Events API 回调 (url_verification 与 event_callback)。
func (s *Slack) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readVerified(w, r)
		if !ok {
			return
		}
		var envelope slackEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if envelope.Type == "url_verification" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
			return
		}
		w.WriteHeader(http.StatusOK)

		if envelope.Type != "event_callback" || envelope.Event.BotID != "" {
			return
		}
		inner := envelope.Event
		ev := Event{
			Channel:    slackName,
			SenderID:   inner.User,
			ChannelID:  inner.Channel,
			MessageID:  inner.Ts,
			ThreadID:   inner.ThreadTs,
			Timestamp:  inner.Ts,
			ReceivedAt: s.now().UTC(),
		}
		switch {
		case inner.Type == "app_mention":
			ev.Type = EventMention
			ev.Text = strings.TrimSpace(mentionToken.ReplaceAllString(inner.Text, ""))
		case inner.Type == "message" && inner.Subtype == "file_share" && len(inner.Files) > 0:
			file := inner.Files[0]
			if !strings.HasPrefix(file.Mimetype, "audio/") {
				return
			}
			ev.Type = EventAttachment
			ev.Attachment = &Attachment{Name: file.Name, MimeType: file.Mimetype}
			go s.deliverWithDownload(ev, file.URLPrivateDownload)
			return
		default:
			return
		}
		go s.deliver(ev)
	}
}

// InteractionsHandler 处理按钮点击 (block_actions)。
func (s *Slack) InteractionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readVerified(w, r)
		if !ok {
			return
		}
		form, err := parseForm(body)
		if err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		payload := gjson.Parse(form)
		if payload.Get("type").String() != "block_actions" {
			w.WriteHeader(http.StatusOK)
			return
		}
		action := payload.Get("actions.0")
		if !action.Exists() {
			http.Error(w, "missing action", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)

		thread := payload.Get("message.thread_ts").String()
		if thread == "" {
			thread = payload.Get("message.ts").String()
		}
		go s.deliver(Event{
			Type:       EventButton,
			Channel:    slackName,
			SenderID:   payload.Get("user.id").String(),
			ChannelID:  payload.Get("channel.id").String(),
			MessageID:  payload.Get("message.ts").String(),
			ThreadID:   thread,
			Timestamp:  action.Get("action_ts").String(),
			ReceivedAt: s.now().UTC(),
			Action:     &Action{Name: action.Get("action_id").String(), TargetID: action.Get("value").String()},
		})
	}
}

func (s *Slack) deliver(ev Event) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	h(ctx, ev)
}

func (s *Slack) deliverWithDownload(ev Event, fileURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	data, err := s.download(ctx, fileURL)
	cancel()
	if err != nil {
		s.log.WithError(err).Error("下载 Slack 附件失败")
		return
	}
	ev.Attachment.Data = data
	s.deliver(ev)
}

func (s *Slack) download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack file status=%d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSlackAttachment))
}

// readVerified 读取请求体并校验 Slack 签名。未配置 SigningSecret 时跳过校验。
func (s *Slack) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSlackBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return nil, false
	}
	if s.cfg.SigningSecret == "" {
		s.log.Warn("未配置 signingSecret，拒绝 Slack 请求")
		http.Error(w, "signing secret not configured", http.StatusUnauthorized)
		return nil, false
	}
	if err := verifySignature(s.cfg.SigningSecret, r.Header, body, s.now()); err != nil {
		s.log.WithError(err).Warn("拒绝签名无效的 Slack 请求")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func verifySignature(secret string, h http.Header, body []byte, now time.Time) error {
	ts := h.Get("X-Slack-Request-Timestamp")
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("缺少时间戳")
	}
	if age := now.Sub(time.Unix(sec, 0)); age > signatureMaxAge || age < -signatureMaxAge {
		return fmt.Errorf("时间戳过旧: %s", age)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(h.Get("X-Slack-Signature"))) {
		return fmt.Errorf("签名不匹配")
	}
	return nil
}

// Send 通过 chat.postMessage 发送消息。带按钮的消息使用 Block Kit。
func (s *Slack) Send(ctx context.Context, msg Message) error {
	_, err := s.post(ctx, "chat.postMessage", s.payload(msg))
	return err
}

// StartThread 在频道顶层发消息，返回其 ts 作为线程 ID。
func (s *Slack) StartThread(ctx context.Context, channelID, text string) (string, error) {
	resp, err := s.post(ctx, "chat.postMessage", s.payload(Message{ChannelID: channelID, Text: text}))
	if err != nil {
		return "", err
	}
	return resp.Get("ts").String(), nil
}

func (s *Slack) payload(msg Message) map[string]interface{} {
	p := map[string]interface{}{
		"channel": msg.ChannelID,
		"text":    msg.Text,
	}
	if msg.ThreadID != "" {
		p["thread_ts"] = msg.ThreadID
	}
	if len(msg.Buttons) == 0 {
		return p
	}
	elements := make([]map[string]interface{}, 0, len(msg.Buttons))
	for _, b := range msg.Buttons {
		el := map[string]interface{}{
			"type":      "button",
			"text":      map[string]interface{}{"type": "plain_text", "text": b.Label},
			"action_id": b.Name,
			"value":     b.Value,
		}
		if b.Style != "" {
			el["style"] = b.Style
		}
		elements = append(elements, el)
	}
	p["blocks"] = []map[string]interface{}{
		{"type": "section", "text": map[string]interface{}{"type": "mrkdwn", "text": msg.Text}},
		{"type": "actions", "elements": elements},
	}
	return p
}

func (s *Slack) post(ctx context.Context, method string, payload map[string]interface{}) (gjson.Result, error) {
	if s.cfg.BotToken == "" {
		return gjson.Result{}, fmt.Errorf("slack bot token is required")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, err
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.APIBaseURL, "/")+"/"+method, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxSlackBody))
	if resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("slack api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	ack := gjson.ParseBytes(respBody)
	if !ack.Get("ok").Bool() {
		return gjson.Result{}, fmt.Errorf("slack api error: %s", ack.Get("error").String())
	}
	return ack, nil
}

func parseForm(body []byte) (string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", err
	}
	payload := values.Get("payload")
	if payload == "" {
		return "", fmt.Errorf("missing payload")
	}
	return payload, nil
}

type slackEnvelope struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge"`
	Event     slackEvent `json:"event"`
}

type slackEvent struct {
	Type     string      `json:"type"`
	Subtype  string      `json:"subtype"`
	User     string      `json:"user"`
	BotID    string      `json:"bot_id"`
	Text     string      `json:"text"`
	Ts       string      `json:"ts"`
	ThreadTs string      `json:"thread_ts"`
	Channel  string      `json:"channel"`
	Files    []slackFile `json:"files"`
}

type slackFile struct {
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	URLPrivateDownload string `json:"url_private_download"`
}
