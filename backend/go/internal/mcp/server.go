// Package mcp 把 Steward 的分发、审核和语音检索暴露为 MCP 工具，供本地 AI 助手调用。
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/review"
	"Steward/backend/go/internal/store"
	"Steward/backend/go/internal/voice"
	"Steward/backend/go/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Dispatcher 把自然语言请求变成任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (*dispatcher.DispatchResult, error)
}

// Reviewer 是审核服务。
type Reviewer interface {
	Approve(ctx context.Context, id, reviewer, notes string) (*review.Item, error)
	Reject(ctx context.Context, id, reviewer, notes string) (*review.Item, error)
	View(ctx context.Context, id string) (*review.Item, error)
}

// Searcher 检索语音笔记。
type Searcher interface {
	Search(ctx context.Context, q voice.SearchQuery) ([]voice.SearchResult, error)
}

// Options 配置工具服务器。Identity 是工具调用者的身份: 审核记录的 reviewer，也是语音检索的 viewer。
type Options struct {
	Dispatcher Dispatcher
	Review     Reviewer
	Voice      Searcher // 为 nil 时不注册 search_voice_notes
	Identity   string
	Version    string
	Logger     *logger.Logger
}

// Server 是 MCP 工具服务器。
type Server struct {
	opts Options
	mcp  *server.MCPServer
}

// NewServer 创建服务器并注册工具。
func NewServer(opts Options) *Server {
	if opts.Identity == "" {
		opts.Identity = "mcp"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	s := &Server{opts: opts, mcp: server.NewMCPServer("steward", opts.Version, server.WithToolCapabilities(false))}
	s.registerTools()
	return s
}

// MCPServer 返回底层的 MCP 服务器，用于选择传输方式。
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("dispatch_request",
		mcp.WithDescription("Route a natural-language request to the right Steward agent and queue it as a task."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The request, e.g. 'draft a reply to Jane about the grant'.")),
		mcp.WithString("context", mcp.Description("Optional extra context appended to the task description.")),
	), s.dispatchRequest)

	s.mcp.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Show a task or outreach proposal by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task or proposal id.")),
	), s.getTask)

	s.mcp.AddTool(mcp.NewTool("review_task",
		mcp.WithDescription("Approve or reject a task awaiting review, a queued task, or a pending outreach proposal."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task or proposal id.")),
		mcp.WithString("decision", mcp.Required(), mcp.Enum("approve", "reject"), mcp.Description("approve or reject.")),
		mcp.WithString("notes", mcp.Description("Optional review notes.")),
	), s.reviewTask)

	if s.opts.Voice != nil {
		s.mcp.AddTool(mcp.NewTool("search_voice_notes",
			mcp.WithDescription("Semantic search over voice notes visible to the caller."),
			mcp.WithString("query", mcp.Required(), mcp.Description("What to look for.")),
			mcp.WithString("scope", mcp.Enum("team", "project", "public"), mcp.Description("Restrict non-owned notes to one visibility.")),
			mcp.WithString("project", mcp.Description("Project name when scope is project.")),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results.")),
		), s.searchVoiceNotes)
	}
}

func (s *Server) dispatchRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var extra map[string]string
	if c := req.GetString("context", ""); c != "" {
		extra = map[string]string{"context": c}
	}
	res, err := s.opts.Dispatcher.Dispatch(ctx, dispatcher.Request{
		Message:     dispatcher.NormalizeMessage(message),
		Source:      "mcp",
		RequestedBy: s.opts.Identity,
		Context:     extra,
	})
	if err != nil {
		return s.toolError("dispatch_request", err), nil
	}
	return jsonResult(map[string]interface{}{
		"task_id":  res.Task.ID,
		"title":    res.Task.Title,
		"agent":    res.Agent.ID,
		"priority": res.Task.Priority,
		"method":   string(res.Classification.Method),
	})
}

func (s *Server) getTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := s.opts.Review.View(ctx, id)
	if err != nil {
		return s.toolError("get_task", err), nil
	}
	return jsonResult(item)
}

func (s *Server) reviewTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	decision, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes := req.GetString("notes", "")

	var item *review.Item
	switch decision {
	case "approve":
		item, err = s.opts.Review.Approve(ctx, id, s.opts.Identity, notes)
	case "reject":
		item, err = s.opts.Review.Reject(ctx, id, s.opts.Identity, notes)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown decision %q, use approve or reject", decision)), nil
	}
	if err != nil {
		return s.toolError("review_task", err), nil
	}
	return jsonResult(item)
}

func (s *Server) searchVoiceNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.opts.Voice.Search(ctx, voice.SearchQuery{
		Query:   query,
		Viewer:  s.opts.Identity,
		Scope:   models.Visibility(req.GetString("scope", "")),
		Project: req.GetString("project", ""),
		TopK:    int(req.GetFloat("top_k", 0)),
	})
	if err != nil {
		return s.toolError("search_voice_notes", err), nil
	}

	type hit struct {
		ID          string   `json:"id"`
		Similarity  float32  `json:"similarity"`
		RecordedBy  string   `json:"recorded_by"`
		RecordedAt  string   `json:"recorded_at"`
		Summary     string   `json:"summary,omitempty"`
		Transcript  string   `json:"transcript,omitempty"`
		ActionItems []string `json:"action_items,omitempty"`
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		h := hit{
			ID:          r.Note.ID,
			Similarity:  r.Similarity,
			RecordedBy:  r.Note.RecordedBy,
			RecordedAt:  r.Note.RecordedAt.Format("2006-01-02 15:04"),
			ActionItems: r.Note.ActionItems,
		}
		if r.Note.Summary != nil {
			h.Summary = *r.Note.Summary
		}
		if r.Note.Transcript != nil {
			h.Transcript = *r.Note.Transcript
		}
		hits = append(hits, h)
	}
	return jsonResult(map[string]interface{}{"results": hits, "count": len(hits)})
}

// toolError 把错误作为工具结果返回给调用方。找不到和非法迁移属于调用方的问题，不记录错误日志。
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, dispatcher.ErrEmptyMessage) {
		s.opts.Logger.WithError(err).WithField("tool", tool).Warn("MCP 工具调用失败")
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化工具结果失败: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
