// Package dispatcher 把自由文本请求分类、路由到 Agent，并作为 queued 任务写入共享状态存储。
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"Steward/backend/go/internal/llm"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/task"
	"Steward/backend/go/pkg/logger"

	"github.com/google/uuid"
)

// ErrEmptyMessage 表示请求中没有可分发的文本。
var ErrEmptyMessage = errors.New("dispatcher: empty message")

// ErrNoAgent 表示目标 Agent 和默认 Agent 都不可用。
var ErrNoAgent = errors.New("dispatcher: no enabled agent available")

const maxTitleRunes = 80

// Store 是分发器需要的共享状态存储操作。
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	ListAgents(ctx context.Context, enabledOnly bool) ([]models.Agent, error)
}

// MessageLog 记录入站消息，供摘要和审计使用。
type MessageLog interface {
	Append(ctx context.Context, msg *models.InboundMessage) error
}

// Request 是一条待分发的请求。
type Request struct {
	Message      string
	Source       string            // 例如 "slack", "api", "voice", "kafka"
	SourceID     string            // 来源系统中的消息 ID
	RequestedBy  string
	Context      map[string]string // 附加上下文, 写入任务描述
	ReplyTo      models.ReplyTo
	ParentTaskID *string
}

// DispatchResult 是一次分发的结果。
type DispatchResult struct {
	Task           *models.Task
	Agent          *models.Agent
	Classification Classification
}

// Options 配置分发器。
type Options struct {
	DefaultAgent string
	MaxTokens    int
	Rules        []RoutingRule
	Generator    llm.Generator // 为 nil 时只用关键词路由
	MessageLog   MessageLog    // 为 nil 时不记录入站消息
	Notifier     notify.Notifier
	Logger       *logger.Logger
	Now          func() time.Time
}

// Dispatcher 实现三级分类: 生成能力、关键词表、默认 Agent。
type Dispatcher struct {
	store Store
	opts  Options
}

// New 创建一个 Dispatcher。
func New(store Store, opts Options) *Dispatcher {
	if opts.DefaultAgent == "" {
		opts.DefaultAgent = "knowledge-agent"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{store: store, opts: opts}
}

// Dispatch 分类一条请求并创建 queued 任务。
// 生成能力的失败不会传播，只会让分类退回关键词路由；存储失败会原样包装返回。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*DispatchResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	agents, err := d.store.ListAgents(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("加载 Agent 注册表失败: %w", err)
	}

	cls := d.classify(ctx, message, agents)
	agent, err := d.route(cls.AgentID, agents)
	if err != nil {
		return nil, err
	}
	cls.AgentID = agent.ID

	t := &models.Task{
		ID:            uuid.NewString(),
		Title:         title(cls.Summary, message),
		Description:   describe(message, req.Context),
		TaskType:      cls.TaskType,
		AssignedAgent: agent.ID,
		RequestedBy:   req.RequestedBy,
		Source:        req.Source,
		SourceID:      req.SourceID,
		Priority:      cls.Urgency,
		Status:        models.TaskQueued,
		ReplyTo:       req.ReplyTo,
		ParentTaskID:  req.ParentTaskID,
	}
	if err := d.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("写入任务失败: %w", err)
	}

	log := d.opts.Logger.WithTask(t.ID, agent.ID)
	log.WithFields(map[string]interface{}{
		"method":    string(cls.Method),
		"task_type": string(cls.TaskType),
		"priority":  cls.Urgency,
	}).Info("任务已分发")

	d.logInbound(ctx, req, message, t, agent)
	d.opts.Notifier.Notify(ctx, task.Notification{
		Kind:    models.EventTaskQueued,
		TaskID:  t.ID,
		AgentID: agent.ID,
		Status:  models.TaskQueued,
		Message: fmt.Sprintf("新任务「%s」已分配给 %s", t.Title, agent.Name),
	})

	return &DispatchResult{Task: t, Agent: agent, Classification: cls}, nil
}

// classify 先尝试生成能力，任何失败都退回关键词表。
func (d *Dispatcher) classify(ctx context.Context, message string, agents []models.Agent) Classification {
	if d.opts.Generator != nil {
		cls, err := classifyWithLLM(ctx, d.opts.Generator, d.opts.MaxTokens, message, agents, d.opts.Rules)
		if err == nil {
			return cls
		}
		d.opts.Logger.WithError(err).Warn("LLM 分类失败，退回关键词路由")
	}
	return Classify(d.opts.Rules, message, d.opts.DefaultAgent)
}

// route 返回可用的目标 Agent。目标不存在或已停用时改派给默认 Agent。
func (d *Dispatcher) route(agentID string, agents []models.Agent) (*models.Agent, error) {
	byID := make(map[string]models.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	if a, ok := byID[agentID]; ok && a.Enabled {
		return &a, nil
	}
	if a, ok := byID[d.opts.DefaultAgent]; ok && a.Enabled {
		d.opts.Logger.WithField("requested_agent", agentID).Warn("目标 Agent 不可用，改派给默认 Agent")
		return &a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAgent, agentID)
}

func (d *Dispatcher) logInbound(ctx context.Context, req Request, message string, t *models.Task, agent *models.Agent) {
	if d.opts.MessageLog == nil {
		return
	}
	categories := []string{string(t.TaskType)}
	if agent.Domain != "" {
		categories = append(categories, agent.Domain)
	}
	if c := req.Context["category"]; c != "" {
		categories = append(categories, c)
	}
	entry := &models.InboundMessage{
		ID:         uuid.NewString(),
		Channel:    req.Source,
		SenderID:   req.RequestedBy,
		Text:       message,
		Categories: categories,
		TaskID:     t.ID,
		ReceivedAt: d.opts.Now(),
	}
	if err := d.opts.MessageLog.Append(ctx, entry); err != nil {
		d.opts.Logger.WithTask(t.ID, agent.ID).WithError(err).Warn("记录入站消息失败")
	}
}

// title 优先使用分类摘要，否则截取消息的第一行。
func title(summary, message string) string {
	s := strings.TrimSpace(summary)
	if s == "" {
		s = strings.TrimSpace(strings.SplitN(message, "\n", 2)[0])
	}
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxTitleRunes-1]) + "…"
}

// describe 把上下文按键排序附加到消息后面。
func describe(message string, ctx map[string]string) string {
	if len(ctx) == 0 {
		return message
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(message)
	sb.WriteString("\n\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, ctx[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}
