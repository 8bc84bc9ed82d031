// Package api 是 Steward 的 HTTP 接口: 分发请求、审核动作、语音上传与检索、渠道回调和实时事件流。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/review"
	"Steward/backend/go/internal/store"
	"Steward/backend/go/internal/task"
	"Steward/backend/go/internal/voice"
	"Steward/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// maxAudioBytes 是单个语音上传的上限。
const maxAudioBytes = 25 << 20

// Dispatcher 把自然语言请求变成任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (*dispatcher.DispatchResult, error)
}

// Store 是接口层用到的只读查询。
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, q store.TaskQuery) ([]models.Task, error)
	ListProposals(ctx context.Context, status models.ProposalStatus, limit int) ([]models.Proposal, error)
	ListAgents(ctx context.Context, enabledOnly bool) ([]models.Agent, error)
}

// Reviewer 是审核服务。
type Reviewer interface {
	Approve(ctx context.Context, id, reviewer, notes string) (*review.Item, error)
	Reject(ctx context.Context, id, reviewer, notes string) (*review.Item, error)
	View(ctx context.Context, id string) (*review.Item, error)
	EditProposal(ctx context.Context, id, editor string, payload []byte) (*models.Proposal, error)
}

// Voice 是语音管道。
type Voice interface {
	Process(ctx context.Context, c voice.Capture) (*models.VoiceNote, error)
	Search(ctx context.Context, q voice.SearchQuery) ([]voice.SearchResult, error)
}

// Handler 封装了所有 API endpoint 的处理函数。
type Handler struct {
	dispatcher Dispatcher
	store      Store
	review     Reviewer
	voice      Voice // 可以为 nil
	health     func(ctx context.Context) error
	log        *logger.Logger
}

// NewHandler 创建一个新的 Handler 实例。
func NewHandler(d Dispatcher, st Store, rv Reviewer, v Voice, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{dispatcher: d, store: st, review: rv, voice: v, log: log}
}

// statusFor 把哨兵错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrInvalidTransition),
		errors.Is(err, store.ErrClaimConflict),
		errors.Is(err, store.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, dispatcher.ErrEmptyMessage),
		errors.Is(err, voice.ErrEmptyAudio),
		errors.Is(err, review.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, dispatcher.ErrNoAgent),
		errors.Is(err, voice.ErrSearchUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Errorf("%s %s 失败", c.Request.Method, c.FullPath())
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// WithHealthCheck 设置 /healthz 调用的依赖检查。
func (h *Handler) WithHealthCheck(check func(ctx context.Context) error) *Handler {
	h.health = check
	return h
}

// Healthz 是存活探针。配置了依赖检查时，检查失败返回 503。
func (h *Handler) Healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DispatchRequest 定义了分发请求的 JSON 结构。
type DispatchRequest struct {
	Message string            `json:"message" binding:"required"`
	Source  string            `json:"source"`
	Context map[string]string `json:"context"`
	ReplyTo models.ReplyTo    `json:"reply_to"`
}

// DispatchResponse 是分发结果。
type DispatchResponse struct {
	Task   *models.Task  `json:"task"`
	Agent  *models.Agent `json:"agent"`
	Method string        `json:"method"`
}

// Dispatch 分类一条请求并创建任务。
func (h *Handler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	res, err := h.dispatcher.Dispatch(c.Request.Context(), dispatcher.Request{
		Message:     dispatcher.NormalizeMessage(req.Message),
		Source:      source,
		RequestedBy: Principal(c),
		Context:     req.Context,
		ReplyTo:     req.ReplyTo,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, DispatchResponse{Task: res.Task, Agent: res.Agent, Method: string(res.Classification.Method)})
}

// ListTasks 列出任务。支持 status (可重复或逗号分隔)、agent 和 limit 查询参数。
func (h *Handler) ListTasks(c *gin.Context) {
	q := store.TaskQuery{AssignedAgent: c.Query("agent"), Limit: queryInt(c, "limit", 50)}
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				q.Statuses = append(q.Statuses, models.TaskStatus(s))
			}
		}
	}
	tasks, err := h.store.ListTasks(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask 返回单个任务。
func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ListProposals 列出外联提案，默认只列出待审核的。
func (h *Handler) ListProposals(c *gin.Context) {
	status := models.ProposalStatus(c.DefaultQuery("status", string(models.ProposalPendingReview)))
	proposals, err := h.store.ListProposals(c.Request.Context(), status, queryInt(c, "limit", 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// ListAgents 列出 Agent 注册表。
func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.store.ListAgents(c.Request.Context(), c.Query("enabled") == "true")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// ReviewRequest 是批准或驳回时可选的备注。
type ReviewRequest struct {
	Notes string `json:"notes"`
}

// EditProposalRequest 是编辑后的提案负载。
type EditProposalRequest struct {
	ActionPayload json.RawMessage `json:"action_payload" binding:"required"`
}

// EditProposal 替换待审核提案的负载，之后仍需批准才会发送。
func (h *Handler) EditProposal(c *gin.Context) {
	var req EditProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.review.EditProposal(c.Request.Context(), c.Param("id"), Principal(c), req.ActionPayload)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// View 按 ID 返回任务或提案。
func (h *Handler) View(c *gin.Context) {
	item, err := h.review.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Approve 批准任务或提案。
func (h *Handler) Approve(c *gin.Context) {
	h.resolve(c, h.review.Approve)
}

// Reject 驳回任务或提案。
func (h *Handler) Reject(c *gin.Context) {
	h.resolve(c, h.review.Reject)
}

func (h *Handler) resolve(c *gin.Context, action func(ctx context.Context, id, reviewer, notes string) (*review.Item, error)) {
	var req ReviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	item, err := action(c.Request.Context(), c.Param("id"), Principal(c), req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// UploadVoice 接收 multipart 表单中的 audio 文件并运行语音管道。
// 可选字段: visibility, project, contact_id, shared_with (逗号分隔), recorded_at (RFC3339)。
func (h *Handler) UploadVoice(c *gin.Context) {
	if h.voice == nil {
		h.fail(c, voice.ErrSearchUnavailable)
		return
	}
	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 audio 文件"})
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(audio) > maxAudioBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "音频文件过大"})
		return
	}

	capture := voice.Capture{
		Audio:         audio,
		FileName:      header.Filename,
		SourceChannel: "api",
		RecordedBy:    Principal(c),
		Visibility:    models.ParseVisibility(c.PostForm("visibility")),
		SharedWith:    splitList(c.PostForm("shared_with")),
	}
	if p := c.PostForm("project"); p != "" {
		capture.ProjectContext = &p
	}
	if id := c.PostForm("contact_id"); id != "" {
		capture.RelatedContactID = &id
	}
	if at := c.PostForm("recorded_at"); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "recorded_at 必须是 RFC3339 时间"})
			return
		}
		capture.RecordedAt = ts
	}

	note, err := h.voice.Process(c.Request.Context(), capture)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

// SearchVoice 语义检索调用者可见的语音笔记。
func (h *Handler) SearchVoice(c *gin.Context) {
	if h.voice == nil {
		h.fail(c, voice.ErrSearchUnavailable)
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少查询参数 q"})
		return
	}
	var scope models.Visibility
	if s := c.Query("scope"); s != "" {
		scope = models.Visibility(s)
	}
	results, err := h.voice.Search(c.Request.Context(), voice.SearchQuery{
		Query:   query,
		Viewer:  Principal(c),
		Scope:   scope,
		Project: c.Query("project"),
		TopK:    queryInt(c, "top_k", 0),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if results == nil {
		results = []voice.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
