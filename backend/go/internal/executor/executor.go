// Package executor 执行已路由的任务: 检索上下文、调用生成能力、按自治等级决定是否需要审核。
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"Steward/backend/go/internal/llm"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/store"
	"Steward/backend/go/internal/task"
	"Steward/backend/go/pkg/logger"

	"github.com/google/uuid"
)

const outputInstructions = `

After your answer, on its own line, append a JSON object {"reasoning": "<one sentence>", "confidence": <0..1>, "needsReview": <true|false>}.`

// ErrNoGenerator 表示没有配置生成能力，任务会被记为 failed。
var ErrNoGenerator = errors.New("executor: no generator configured")

// Store 是执行器需要的共享状态存储操作。
type Store interface {
	Sources
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ClaimTask(ctx context.Context, taskID, agentID string) (*models.Task, error)
	CompleteTask(ctx context.Context, taskID string, c store.Completion) (*models.Task, error)
	FailTask(ctx context.Context, taskID, reason string) error
	ReleaseAgent(ctx context.Context, taskID string) error
	CreateProposal(ctx context.Context, p *models.Proposal) error
}

// ExecutionResult 是一次执行的结果。
type ExecutionResult struct {
	TaskID      string
	Status      models.TaskStatus
	Success     bool
	NeedsReview bool
	Output      string
	Error       string
	ProposalID  string
	Duration    time.Duration
}

// Options 配置执行器。
type Options struct {
	MaxTokens  int
	Strategies map[string]Strategy // 以 Agent ID 为键
	Fallback   string              // 没有专属策略的 Agent 使用的策略键
	Notifier   notify.Notifier
	Logger     *logger.Logger
}

// Executor 认领并执行任务。
type Executor struct {
	store Store
	gen   llm.Generator
	opts  Options
}

// New 创建一个 Executor。
func New(st Store, gen llm.Generator, opts Options) *Executor {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Strategies == nil {
		opts.Strategies = DefaultStrategies()
	}
	if opts.Fallback == "" {
		opts.Fallback = "knowledge-agent"
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if gen == nil {
		gen = llm.GeneratorFunc(func(context.Context, string, string, int) (string, error) {
			return "", ErrNoGenerator
		})
	}
	return &Executor{store: st, gen: gen, opts: opts}
}

// ExecuteTask 认领任务、执行并写回结果。
//
// 认领失败时返回 store.ErrClaimConflict，任务保持原状。执行过程中的失败 (检索或生成)
// 会把任务迁移到 failed，并以 Success=false 的结果返回，error 为 nil。
// 无论结果如何，Agent 都会被释放。
func (e *Executor) ExecuteTask(ctx context.Context, taskID string) (*ExecutionResult, error) {
	started := time.Now()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	agent, err := e.store.GetAgent(ctx, t.AssignedAgent)
	if err != nil {
		return nil, fmt.Errorf("加载 Agent %s 失败: %w", t.AssignedAgent, err)
	}
	strategy := e.strategyFor(agent.ID)
	log := e.opts.Logger.WithTask(t.ID, agent.ID).WithField("strategy", strategy.Name)

	if t, err = e.store.ClaimTask(ctx, t.ID, agent.ID); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.store.ReleaseAgent(context.WithoutCancel(ctx), taskID); err != nil {
			log.WithError(err).Error("释放 Agent 失败")
		}
	}()
	e.opts.Notifier.Notify(ctx, task.Started(*t, *agent))
	log.Info("开始执行任务")

	retrieved, err := strategy.Retrieve(ctx, e.store, t)
	if err != nil {
		return e.fail(ctx, t, agent, fmt.Errorf("检索上下文失败: %w", err), started)
	}

	raw, err := e.gen.Complete(ctx, strategy.SystemFraming+outputInstructions, buildPrompt(t, retrieved), e.opts.MaxTokens)
	if err != nil {
		return e.fail(ctx, t, agent, fmt.Errorf("生成失败: %w", err), started)
	}
	out := parseOutput(raw, strategy.DefaultNeedsReview)

	decision := task.Decide(*t, *agent, task.Result{NeedsReview: out.NeedsReview, Output: out.Body})
	done, err := e.store.CompleteTask(ctx, t.ID, store.Completion{
		Status:      decision.Status,
		Output:      out.Body,
		Reasoning:   out.Reasoning,
		Confidence:  out.Confidence,
		NeedsReview: decision.NeedsReview,
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		// 任务已被超时清理迁移到 failed，这里不再覆盖它。
		return nil, fmt.Errorf("写回任务结果失败: %w", err)
	}
	if err != nil {
		return e.fail(ctx, t, agent, fmt.Errorf("写回任务结果失败: %w", err), started)
	}

	res := &ExecutionResult{
		TaskID:      done.ID,
		Status:      done.Status,
		Success:     true,
		NeedsReview: decision.NeedsReview,
		Output:      out.Body,
		Duration:    time.Since(started),
	}
	notes := decision.Notifications

	if strategy.FilesProposal && decision.Status == models.TaskReview {
		p, err := e.fileProposal(ctx, done, retrieved)
		if err != nil {
			log.WithError(err).Error("创建外联提案失败")
		} else {
			res.ProposalID = p.ID
			notes = append(notes, task.Notification{
				Kind:       models.EventProposalFiled,
				TaskID:     done.ID,
				ProposalID: p.ID,
				AgentID:    agent.ID,
				Status:     done.Status,
				Message:    fmt.Sprintf("外联提案 %s 等待审核", p.ID),
			})
		}
	}

	e.opts.Notifier.Notify(ctx, notes...)
	log.WithField("status", string(done.Status)).Infof("任务执行完成，耗时 %s", res.Duration)
	return res, nil
}

func (e *Executor) strategyFor(agentID string) Strategy {
	if s, ok := e.opts.Strategies[agentID]; ok {
		return s
	}
	if s, ok := e.opts.Strategies[e.opts.Fallback]; ok {
		return s
	}
	return Strategy{Name: "generic", Retrieve: retrieveKnowledge}
}

// fail 把任务迁移到 failed 并发出失败通知。
func (e *Executor) fail(ctx context.Context, t *models.Task, agent *models.Agent, cause error, started time.Time) (*ExecutionResult, error) {
	decision := task.Decide(*t, *agent, task.Result{Err: cause})
	e.opts.Logger.WithTask(t.ID, agent.ID).WithError(cause).Warn("任务执行失败")

	if err := e.store.FailTask(context.WithoutCancel(ctx), t.ID, decision.Reason); err != nil && !errors.Is(err, store.ErrPreconditionFailed) {
		return nil, fmt.Errorf("标记任务失败时出错: %w", err)
	}
	e.opts.Notifier.Notify(ctx, decision.Notifications...)
	return &ExecutionResult{
		TaskID:   t.ID,
		Status:   models.TaskFailed,
		Success:  false,
		Error:    decision.Reason,
		Duration: time.Since(started),
	}, nil
}

// fileProposal 为外联任务创建一个待审核的提案。目标联系人取检索到的第一个，
// 有邮箱时邮箱写进负载，由外联频道的成员发出。
func (e *Executor) fileProposal(ctx context.Context, t *models.Task, retrieved *Retrieved) (*models.Proposal, error) {
	payload := map[string]string{"subject": t.Title, "body": t.Output}
	p := &models.Proposal{
		ID:               uuid.NewString(),
		TaskID:           t.ID,
		ExecutionChannel: "slack",
		Status:           models.ProposalPendingReview,
	}
	if retrieved != nil && len(retrieved.Contacts) > 0 {
		c := retrieved.Contacts[0]
		p.TargetContactID = c.ID
		payload["to"] = c.Name
		if c.Email != "" {
			payload["email"] = c.Email
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	p.ActionPayload = raw
	if err := e.store.CreateProposal(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func buildPrompt(t *models.Task, retrieved *Retrieved) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", t.Title)
	if t.Description != "" && t.Description != t.Title {
		fmt.Fprintf(&sb, "Details:\n%s\n", t.Description)
	}
	if ctxText := retrieved.Render(); ctxText != "" {
		sb.WriteString("\n")
		sb.WriteString(ctxText)
	}
	return sb.String()
}

// output 是解析后的生成结果。
type output struct {
	Body        string
	Reasoning   string
	Confidence  float64
	NeedsReview bool
}

// parseOutput 拆出末尾可选的 JSON 元数据块。缺失的字段使用策略默认值。
func parseOutput(raw string, defaultNeedsReview bool) output {
	body, meta, ok := llm.TrailingJSONObject(raw)
	out := output{Body: strings.TrimSpace(body), Confidence: 0.5, NeedsReview: defaultNeedsReview}
	if !ok {
		return out
	}
	out.Reasoning = meta.Get("reasoning").String()
	if c := meta.Get("confidence"); c.Exists() {
		out.Confidence = math.Max(0, math.Min(1, c.Float()))
	}
	if nr := meta.Get("needsReview"); nr.Exists() {
		out.NeedsReview = nr.Bool()
	}
	return out
}
