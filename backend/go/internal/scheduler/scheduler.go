// Package scheduler 是心跳调度器: 每个 tick 依次执行已批准任务、发送已批准的外联提案、
// 处理排队任务、提醒待审核任务、清理超时任务、刷新心跳并按游标发送关系摘要。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/executor"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/store"
	"Steward/backend/go/internal/task"
	"Steward/backend/go/pkg/logger"

	"github.com/gobwas/glob"
)

// DigestCursor 是关系摘要游标在 scheduler_cursors 表中的名字。
const DigestCursor = "relationship_digest"

const digestFetchLimit = 500

// Store 是调度器需要的共享状态存储操作。
type Store interface {
	ListTasks(ctx context.Context, q store.TaskQuery) ([]models.Task, error)
	ListProposals(ctx context.Context, status models.ProposalStatus, limit int) ([]models.Proposal, error)
	MarkSuggested(ctx context.Context, taskID string) (bool, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	FailTask(ctx context.Context, taskID, reason string) error
	RefreshHeartbeats(ctx context.Context) (int64, error)
	GetCursor(ctx context.Context, name string) (time.Time, bool, error)
	SetCursor(ctx context.Context, name string, position time.Time) error
}

// Executor 执行一个任务。
type Executor interface {
	ExecuteTask(ctx context.Context, taskID string) (*executor.ExecutionResult, error)
}

// ProposalRunner 执行一个已批准的外联提案。
type ProposalRunner interface {
	ExecuteProposal(ctx context.Context, id string) (*models.Proposal, error)
}

// MessageSource 提供摘要所需的入站消息，按 ReceivedAt 升序，最多 limit 条。
type MessageSource interface {
	Between(ctx context.Context, after, until time.Time, limit int) ([]models.InboundMessage, error)
}

// Leadership 报告当前实例是否负责非幂等的动作 (建议、提醒、摘要)。
type Leadership interface {
	IsLeader() bool
}

// Options 配置调度器。零值字段使用默认阈值。
type Options struct {
	Interval           time.Duration
	ApprovedBatch      int
	QueuedBatch        int
	ReviewReminder     time.Duration
	WorkingTimeout     time.Duration
	DigestInterval     time.Duration
	PriorityCategories []string // glob 模式
	Messages           MessageSource
	Proposals          ProposalRunner // 为 nil 时不发送外联提案
	Leader             Leadership     // 为 nil 时视为唯一实例
	Notifier           notify.Notifier
	Logger             *logger.Logger
	Now                func() time.Time
}

// OptionsFromConfig 把配置转换为 Options，依赖项需要调用方另行填入。
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		Interval:           config.Duration(cfg.Interval),
		ApprovedBatch:      cfg.ApprovedBatch,
		QueuedBatch:        cfg.QueuedBatch,
		ReviewReminder:     config.Duration(cfg.ReviewReminder),
		WorkingTimeout:     config.Duration(cfg.WorkingTimeout),
		DigestInterval:     config.Duration(cfg.DigestInterval),
		PriorityCategories: cfg.PriorityCategories,
	}
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.ApprovedBatch <= 0 {
		o.ApprovedBatch = 5
	}
	if o.QueuedBatch <= 0 {
		o.QueuedBatch = 10
	}
	if o.ReviewReminder <= 0 {
		o.ReviewReminder = 30 * time.Minute
	}
	if o.WorkingTimeout <= 0 {
		o.WorkingTimeout = 15 * time.Minute
	}
	if o.DigestInterval <= 0 {
		o.DigestInterval = 30 * time.Minute
	}
	if o.Notifier == nil {
		o.Notifier = notify.Nop{}
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Scheduler 是心跳调度器。
type Scheduler struct {
	store    Store
	exec     Executor
	opts     Options
	patterns []glob.Glob
}

// New 创建调度器，并编译摘要的类别模式。
func New(st Store, exec Executor, opts Options) (*Scheduler, error) {
	opts.applyDefaults()
	patterns := make([]glob.Glob, 0, len(opts.PriorityCategories))
	for _, p := range opts.PriorityCategories {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("非法的类别模式 %q: %w", p, err)
		}
		patterns = append(patterns, g)
	}
	return &Scheduler{store: st, exec: exec, opts: opts, patterns: patterns}, nil
}

// TickReport 汇总一次 tick 的结果。
type TickReport struct {
	Executed      int
	ProposalsSent int
	Suggested     int
	Skipped       int
	Reminded      int
	TimedOut      int
	Heartbeats    int64
	DigestSent    bool
	Errors        map[string]error // 以 pass 名称为键
}

// Run 立即执行一次 tick，然后按间隔循环，直到 ctx 结束。
func (s *Scheduler) Run(ctx context.Context) error {
	s.opts.Logger.Infof("心跳调度器启动，间隔 %s", s.opts.Interval)
	s.Tick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.opts.Logger.Info("心跳调度器停止")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick 按顺序执行所有 pass。某个 pass 失败只记录日志，不影响后续 pass。
func (s *Scheduler) Tick(ctx context.Context) *TickReport {
	report := &TickReport{Errors: make(map[string]error)}
	passes := []struct {
		name string
		run  func(context.Context, *TickReport) error
	}{
		{"approved", s.runApproved},
		{"proposals", s.runProposals},
		{"queued", s.runQueued},
		{"review_reminder", s.runReviewReminder},
		{"timeout", s.runTimeouts},
		{"heartbeat", s.runHeartbeat},
		{"digest", s.runDigest},
	}
	for _, p := range passes {
		if ctx.Err() != nil {
			break
		}
		if err := p.run(ctx, report); err != nil {
			report.Errors[p.name] = err
			s.opts.Logger.WithField("pass", p.name).WithError(err).Error("调度 pass 失败")
		}
	}
	s.opts.Logger.WithFields(map[string]interface{}{
		"executed":       report.Executed,
		"proposals_sent": report.ProposalsSent,
		"suggested":      report.Suggested,
		"reminded":       report.Reminded,
		"timed_out":      report.TimedOut,
	}).Debug("tick 完成")
	return report
}

func (s *Scheduler) leader() bool {
	return s.opts.Leader == nil || s.opts.Leader.IsLeader()
}

// runApproved 执行最多 ApprovedBatch 个已批准任务，最早的优先。
func (s *Scheduler) runApproved(ctx context.Context, r *TickReport) error {
	tasks, err := s.store.ListTasks(ctx, store.TaskQuery{
		Statuses: []models.TaskStatus{models.TaskApproved},
		Limit:    s.opts.ApprovedBatch,
	})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		s.execute(ctx, t, r)
	}
	return nil
}

// runProposals 发送最多 ApprovedBatch 个已批准但还没有执行结果的外联提案。
// 正在由其他进程执行的提案被跳过。
func (s *Scheduler) runProposals(ctx context.Context, r *TickReport) error {
	if s.opts.Proposals == nil {
		return nil
	}
	proposals, err := s.store.ListProposals(ctx, models.ProposalApproved, s.opts.ApprovedBatch)
	if err != nil {
		return err
	}
	for _, p := range proposals {
		log := s.opts.Logger.WithFields(map[string]interface{}{"proposal_id": p.ID, "task_id": p.TaskID})
		res, err := s.opts.Proposals.ExecuteProposal(ctx, p.ID)
		switch {
		case errors.Is(err, store.ErrClaimConflict):
			r.Skipped++
			log.Debug("提案正在执行，跳过")
		case err != nil:
			r.Skipped++
			log.WithError(err).Error("执行外联提案失败")
		default:
			r.ProposalsSent++
			log.WithField("status", string(res.Status)).Debug("外联提案已执行")
		}
	}
	return nil
}

// runQueued 按优先级和创建时间处理可以行动的排队任务，并根据 Agent 的自治等级分支。
// 已经建议过的任务和 Agent 忙碌的任务不占用批次。
func (s *Scheduler) runQueued(ctx context.Context, r *TickReport) error {
	tasks, err := s.store.ListTasks(ctx, store.TaskQuery{
		Statuses:   []models.TaskStatus{models.TaskQueued},
		ByPriority: true,
		Actionable: true,
		Limit:      s.opts.QueuedBatch,
	})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		agent, err := s.store.GetAgent(ctx, t.AssignedAgent)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		action, notes := task.DecideQueued(t, agent)
		switch action {
		case task.ActionSuggest:
			if !s.leader() {
				continue
			}
			marked, err := s.store.MarkSuggested(ctx, t.ID)
			if err != nil {
				return err
			}
			if marked {
				s.opts.Notifier.Notify(ctx, notes...)
				r.Suggested++
			}
		case task.ActionExecute, task.ActionExecuteAndHold:
			s.execute(ctx, t, r)
		default:
			r.Skipped++
		}
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, t models.Task, r *TickReport) {
	log := s.opts.Logger.WithTask(t.ID, t.AssignedAgent)
	res, err := s.exec.ExecuteTask(ctx, t.ID)
	switch {
	case errors.Is(err, store.ErrClaimConflict):
		r.Skipped++
		log.Debug("Agent 忙碌或任务已被认领，跳过")
	case err != nil:
		r.Skipped++
		log.WithError(err).Error("执行任务失败")
	default:
		r.Executed++
		log.WithField("status", string(res.Status)).Debug("任务已执行")
	}
}

// runReviewReminder 为等待审核超过阈值的任务发送一条合并提醒。不改变任务状态。
func (s *Scheduler) runReviewReminder(ctx context.Context, r *TickReport) error {
	if !s.leader() {
		return nil
	}
	cutoff := s.opts.Now().Add(-s.opts.ReviewReminder)
	tasks, err := s.store.ListTasks(ctx, store.TaskQuery{
		Statuses:      []models.TaskStatus{models.TaskReview},
		UpdatedBefore: &cutoff,
	})
	if err != nil || len(tasks) == 0 {
		return err
	}

	titles := make([]string, 0, len(tasks))
	for _, t := range tasks {
		titles = append(titles, fmt.Sprintf("「%s」(%s)", t.Title, t.ID))
	}
	s.opts.Notifier.Notify(ctx, task.Notification{
		Kind:    models.EventReviewReminder,
		Status:  models.TaskReview,
		Message: fmt.Sprintf("%d 个任务等待审核超过 %s: %s", len(tasks), s.opts.ReviewReminder, strings.Join(titles, ", ")),
	})
	r.Reminded = len(tasks)
	return nil
}

// runTimeouts 把运行超时的 working 任务迁移到 failed。重复执行不会产生新的迁移。
func (s *Scheduler) runTimeouts(ctx context.Context, r *TickReport) error {
	now := s.opts.Now()
	cutoff := now.Add(-s.opts.WorkingTimeout)
	tasks, err := s.store.ListTasks(ctx, store.TaskQuery{
		Statuses:      []models.TaskStatus{models.TaskWorking},
		StartedBefore: &cutoff,
	})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if !task.Expired(t, now, s.opts.WorkingTimeout) {
			continue
		}
		decision := task.DecideTimeout(t, s.opts.WorkingTimeout)
		err := s.store.FailTask(ctx, t.ID, decision.Reason)
		if errors.Is(err, store.ErrPreconditionFailed) {
			continue
		}
		if err != nil {
			return err
		}
		r.TimedOut++
		s.opts.Logger.WithTask(t.ID, t.AssignedAgent).Warn(decision.Reason)
		s.opts.Notifier.Notify(ctx, decision.Notifications...)
	}
	return nil
}

func (s *Scheduler) runHeartbeat(ctx context.Context, r *TickReport) error {
	n, err := s.store.RefreshHeartbeats(ctx)
	r.Heartbeats = n
	return err
}

// runDigest 每隔 DigestInterval 汇总一次优先关系类别的入站消息，并推进游标。
func (s *Scheduler) runDigest(ctx context.Context, r *TickReport) error {
	if s.opts.Messages == nil || !s.leader() {
		return nil
	}
	now := s.opts.Now()
	cursor, ok, err := s.store.GetCursor(ctx, DigestCursor)
	if err != nil {
		return err
	}
	if !ok {
		cursor = now.Add(-s.opts.DigestInterval)
	}
	if now.Sub(cursor) < s.opts.DigestInterval {
		return nil
	}

	msgs, err := s.collectMessages(ctx, cursor, now)
	if err != nil {
		return err
	}
	var lines []string
	for _, m := range msgs {
		if s.priority(m.Categories) {
			lines = append(lines, fmt.Sprintf("- [%s] %s: %s", strings.Join(m.Categories, ","), m.SenderID, m.Text))
		}
	}
	if len(lines) > 0 {
		s.opts.Notifier.Notify(ctx, task.Notification{
			Kind:    models.EventDigest,
			Message: fmt.Sprintf("关系摘要 (%d 条):\n%s", len(lines), strings.Join(lines, "\n")),
		})
		r.DigestSent = true
	}
	return s.store.SetCursor(ctx, DigestCursor, now)
}

// collectMessages 分页读取 (after, until] 内的全部消息。
// 满页时末尾同一时间戳的消息留给下一页重新读取，分页边界上不会丢消息。
func (s *Scheduler) collectMessages(ctx context.Context, after, until time.Time) ([]models.InboundMessage, error) {
	var out []models.InboundMessage
	for {
		page, err := s.opts.Messages.Between(ctx, after, until, digestFetchLimit)
		if err != nil {
			return nil, err
		}
		if len(page) < digestFetchLimit {
			return append(out, page...), nil
		}
		last := page[len(page)-1].ReceivedAt
		cut := len(page)
		for cut > 0 && page[cut-1].ReceivedAt.Equal(last) {
			cut--
		}
		if cut == 0 {
			// 整页同一时间戳，无法在页内切分
			cut = len(page)
		}
		out = append(out, page[:cut]...)
		after = page[cut-1].ReceivedAt
	}
}

// priority 报告消息类别中是否有任何一个匹配优先类别模式。
func (s *Scheduler) priority(categories []string) bool {
	for _, c := range categories {
		c = strings.ToLower(c)
		for _, g := range s.patterns {
			if g.Match(c) {
				return true
			}
		}
	}
	return false
}
