// Package review 实现人工审核动作: 批准、驳回和查看任务或外联提案。
// 每个动作都是带前置状态条件的更新，非法迁移返回 task.ErrInvalidTransition。
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/store"
	"Steward/backend/go/internal/task"
	"Steward/backend/go/pkg/logger"
)

// Store 是审核服务需要的存储操作。
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ReviewTask(ctx context.Context, taskID string, from []models.TaskStatus, to models.TaskStatus, reviewer, notes string) (*models.Task, error)
	GetProposal(ctx context.Context, id string) (*models.Proposal, error)
	TransitionProposal(ctx context.Context, id string, from models.ProposalStatus, u store.ProposalUpdate) (*models.Proposal, error)
	ClaimProposal(ctx context.Context, id string, staleBefore time.Time) (*models.Proposal, error)
}

var (
	// ErrNoActions 表示没有配置提案执行器，已批准的提案只能等待有执行器的进程处理。
	ErrNoActions = errors.New("review: no action executor configured")
	// ErrInvalidPayload 表示编辑提交的负载不是 JSON 对象。
	ErrInvalidPayload = errors.New("review: action payload must be a JSON object")
)

// ActionExecutor 执行一个已批准的外联提案，返回执行结果描述。
type ActionExecutor interface {
	Execute(ctx context.Context, p *models.Proposal) (string, error)
}

// ActionExecutorFunc 让普通函数实现 ActionExecutor。
type ActionExecutorFunc func(ctx context.Context, p *models.Proposal) (string, error)

func (f ActionExecutorFunc) Execute(ctx context.Context, p *models.Proposal) (string, error) {
	return f(ctx, p)
}

// defaultClaimTTL 之后，未写回结果的执行权视为失效，可以被重新占用。
const defaultClaimTTL = 15 * time.Minute

// Kind 区分审核对象的类型。
type Kind string

const (
	KindTask     Kind = "task"
	KindProposal Kind = "proposal"
)

// Item 是一个审核对象，Task 和 Proposal 中恰好一个非空。
type Item struct {
	Kind     Kind             `json:"kind"`
	Task     *models.Task     `json:"task,omitempty"`
	Proposal *models.Proposal `json:"proposal,omitempty"`
}

var proposalTransitions = map[models.ProposalStatus][]models.ProposalStatus{
	models.ProposalPendingReview: {models.ProposalApproved, models.ProposalRejected},
	models.ProposalApproved:      {models.ProposalCompleted, models.ProposalFailed},
}

// CanTransitionProposal 报告提案状态 from -> to 是否合法。
func CanTransitionProposal(from, to models.ProposalStatus) bool {
	for _, next := range proposalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Service 是审核服务。
type Service struct {
	store    Store
	notifier notify.Notifier
	log      *logger.Logger
	actions  ActionExecutor
	claimTTL time.Duration
	now      func() time.Time
}

// New 创建审核服务。notifier 和 log 可以为 nil。
func New(st Store, notifier notify.Notifier, log *logger.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:    st,
		notifier: notifier,
		log:      log,
		claimTTL: defaultClaimTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithActions 设置提案执行器。设置后，批准提案会立即执行它。
func (s *Service) WithActions(a ActionExecutor) *Service {
	s.actions = a
	return s
}

// View 按 ID 查找任务，找不到时再查找提案。
func (s *Service) View(ctx context.Context, id string) (*Item, error) {
	t, err := s.store.GetTask(ctx, id)
	if err == nil {
		return &Item{Kind: KindTask, Task: t}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Item{Kind: KindProposal, Proposal: p}, nil
}

// Approve 批准一个任务或提案。
// 任务: review -> done，或 queued -> approved (交给调度器执行)。
// 提案: pending_review -> approved；配置了执行器时接着执行，提案最终进入 completed 或 failed。
func (s *Service) Approve(ctx context.Context, id, reviewer, notes string) (*Item, error) {
	item, err := s.View(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Kind == KindProposal {
		approved, err := s.resolveProposal(ctx, item.Proposal, models.ProposalApproved, reviewer, notes)
		if err != nil || s.actions == nil {
			return approved, err
		}
		p, err := s.ExecuteProposal(ctx, id)
		if errors.Is(err, store.ErrClaimConflict) {
			return approved, nil
		}
		if err != nil {
			return nil, err
		}
		return &Item{Kind: KindProposal, Proposal: p}, nil
	}

	to := models.TaskDone
	if item.Task.Status == models.TaskQueued {
		to = models.TaskApproved
	}
	return s.reviewTask(ctx, item.Task, to, models.EventTaskApproved, reviewer, notes)
}

// Reject 驳回一个任务 (review | queued | approved -> rejected) 或提案 (pending_review -> rejected)。
func (s *Service) Reject(ctx context.Context, id, reviewer, notes string) (*Item, error) {
	item, err := s.View(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Kind == KindProposal {
		return s.resolveProposal(ctx, item.Proposal, models.ProposalRejected, reviewer, notes)
	}
	return s.reviewTask(ctx, item.Task, models.TaskRejected, models.EventTaskRejected, reviewer, notes)
}

func (s *Service) reviewTask(ctx context.Context, t *models.Task, to models.TaskStatus, kind models.TaskEventKind, reviewer, notes string) (*Item, error) {
	if err := task.Validate(t.Status, to); err != nil {
		return nil, err
	}
	updated, err := s.store.ReviewTask(ctx, t.ID, []models.TaskStatus{t.Status}, to, reviewer, notes)
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil, fmt.Errorf("%w: 任务 %s 已不处于 %s", task.ErrInvalidTransition, t.ID, t.Status)
	}
	if err != nil {
		return nil, err
	}

	s.log.WithTask(t.ID, t.AssignedAgent).WithFields(map[string]interface{}{
		"from":     string(t.Status),
		"to":       string(to),
		"reviewer": reviewer,
	}).Info("任务审核完成")
	s.notifier.Notify(ctx, task.Notification{
		Kind:    kind,
		TaskID:  t.ID,
		AgentID: t.AssignedAgent,
		Status:  to,
		Message: fmt.Sprintf("%s 将任务「%s」标记为 %s", reviewer, t.Title, to),
	})
	return &Item{Kind: KindTask, Task: updated}, nil
}

func (s *Service) resolveProposal(ctx context.Context, p *models.Proposal, to models.ProposalStatus, reviewer, notes string) (*Item, error) {
	updated, err := s.transitionProposal(ctx, p, store.ProposalUpdate{To: to, ReviewedBy: reviewer, ReviewNotes: notes})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, task.Notification{
		Kind:       models.EventProposalDone,
		TaskID:     p.TaskID,
		ProposalID: p.ID,
		Message:    fmt.Sprintf("%s 将提案 %s 标记为 %s", reviewer, p.ID, to),
	})
	if to == models.ProposalRejected {
		s.settleParent(ctx, updated, models.TaskRejected, reviewer, "外联提案被驳回: "+notes)
	}
	return &Item{Kind: KindProposal, Proposal: updated}, nil
}

// ExecuteProposal 占用一个已批准提案的执行权，执行它并记录结果。
// 另一个进程正在执行时返回 store.ErrClaimConflict。
func (s *Service) ExecuteProposal(ctx context.Context, id string) (*models.Proposal, error) {
	if s.actions == nil {
		return nil, ErrNoActions
	}
	p, err := s.store.ClaimProposal(ctx, id, s.now().Add(-s.claimTTL))
	if err != nil {
		return nil, err
	}
	result, execErr := s.actions.Execute(ctx, p)
	if execErr != nil {
		s.log.WithFields(map[string]interface{}{"proposal_id": p.ID, "task_id": p.TaskID}).
			WithError(execErr).Warn("外联提案执行失败")
	}
	return s.FinishProposal(context.WithoutCancel(ctx), id, result, execErr)
}

// EditProposal 替换待审核提案的动作负载，状态保持 pending_review。
func (s *Service) EditProposal(ctx context.Context, id, editor string, payload []byte) (*models.Proposal, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return nil, ErrInvalidPayload
	}
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProposalPendingReview {
		return nil, fmt.Errorf("%w: 提案 %s 处于 %s，不能编辑", task.ErrInvalidTransition, id, p.Status)
	}
	updated, err := s.store.TransitionProposal(ctx, id, models.ProposalPendingReview, store.ProposalUpdate{
		To:            models.ProposalPendingReview,
		ActionPayload: payload,
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil, fmt.Errorf("%w: 提案 %s 已不处于 %s", task.ErrInvalidTransition, id, models.ProposalPendingReview)
	}
	if err != nil {
		return nil, err
	}
	s.log.WithFields(map[string]interface{}{"proposal_id": id, "editor": editor}).Info("外联提案负载已编辑")
	return updated, nil
}

// FinishProposal 记录已批准提案的执行结果: execErr 为 nil 时进入 completed，否则进入 failed。
func (s *Service) FinishProposal(ctx context.Context, id, result string, execErr error) (*models.Proposal, error) {
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	u := store.ProposalUpdate{To: models.ProposalCompleted, ExecutionResult: result}
	if execErr != nil {
		u.To = models.ProposalFailed
		u.ExecutionResult = execErr.Error()
	}
	updated, err := s.transitionProposal(ctx, p, u)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, task.Notification{
		Kind:       models.EventProposalDone,
		TaskID:     p.TaskID,
		ProposalID: p.ID,
		Message:    fmt.Sprintf("提案 %s 执行结果: %s (%s)", p.ID, u.To, u.ExecutionResult),
	})

	// review 只能迁移到 done 或 rejected，发送失败的外联以 rejected 结束并记录原因。
	if u.To == models.ProposalCompleted {
		s.settleParent(ctx, updated, models.TaskDone, p.ReviewedBy, "外联已发送: "+u.ExecutionResult)
	} else {
		s.settleParent(ctx, updated, models.TaskRejected, p.ReviewedBy, "外联发送失败: "+u.ExecutionResult)
	}
	return updated, nil
}

// settleParent 在提案结束后结束仍处于 review 的父任务。父任务不存在或已被处理时什么也不做。
func (s *Service) settleParent(ctx context.Context, p *models.Proposal, to models.TaskStatus, reviewer, notes string) {
	if p.TaskID == "" {
		return
	}
	log := s.log.WithFields(map[string]interface{}{"proposal_id": p.ID, "task_id": p.TaskID})
	t, err := s.store.GetTask(ctx, p.TaskID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Error("读取提案的父任务失败")
		}
		return
	}
	if t.Status != models.TaskReview {
		return
	}
	kind := models.EventTaskApproved
	if to == models.TaskRejected {
		kind = models.EventTaskRejected
	}
	if _, err := s.reviewTask(ctx, t, to, kind, reviewer, notes); err != nil && !errors.Is(err, task.ErrInvalidTransition) {
		log.WithError(err).Error("结束提案的父任务失败")
	}
}

func (s *Service) transitionProposal(ctx context.Context, p *models.Proposal, u store.ProposalUpdate) (*models.Proposal, error) {
	if !CanTransitionProposal(p.Status, u.To) {
		return nil, fmt.Errorf("%w: 提案 %s -> %s", task.ErrInvalidTransition, p.Status, u.To)
	}
	updated, err := s.store.TransitionProposal(ctx, p.ID, p.Status, u)
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil, fmt.Errorf("%w: 提案 %s 已不处于 %s", task.ErrInvalidTransition, p.ID, p.Status)
	}
	return updated, err
}
