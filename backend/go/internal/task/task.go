// Package task 定义任务状态机: 哪些迁移合法，以及一次执行、失败或超时后任务应该进入的状态。
// 这里的函数都是纯函数，不访问存储，由执行器、调度器和审核服务调用。
package task

import (
	"errors"
	"fmt"
	"time"

	"Steward/backend/go/internal/models"
)

// ErrInvalidTransition 表示请求的状态迁移不在迁移表中。
var ErrInvalidTransition = errors.New("task: invalid transition")

var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskQueued:   {models.TaskAssigned, models.TaskApproved, models.TaskWorking, models.TaskRejected},
	models.TaskAssigned: {models.TaskWorking},
	models.TaskApproved: {models.TaskWorking, models.TaskRejected},
	models.TaskWorking:  {models.TaskDone, models.TaskReview, models.TaskFailed},
	models.TaskReview:   {models.TaskDone, models.TaskRejected},
}

// CanTransition 报告 from -> to 是否合法。终态没有出边。
// queued -> working 是把 assigned 折叠进认领操作后的迁移。
func CanTransition(from, to models.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate 在迁移非法时返回包装了 ErrInvalidTransition 的错误。
func Validate(from, to models.TaskStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Notification 描述一条需要发出的通知，由 notify 包负责投递。
type Notification struct {
	Kind       models.TaskEventKind
	TaskID     string
	ProposalID string
	AgentID    string
	Status     models.TaskStatus
	Message    string
}

// Event 把通知转换为带时间戳的事件。
func (n Notification) Event(at time.Time) models.TaskEvent {
	return models.TaskEvent{
		Kind:       n.Kind,
		TaskID:     n.TaskID,
		ProposalID: n.ProposalID,
		AgentID:    n.AgentID,
		Status:     n.Status,
		Timestamp:  at,
		Message:    n.Message,
	}
}

// Result 是一次执行的结果摘要。
type Result struct {
	Err         error
	NeedsReview bool
	Output      string
}

// Decision 是 Decide 给出的目标状态和通知。
type Decision struct {
	Status        models.TaskStatus
	NeedsReview   bool
	Reason        string // 仅 failed 时有值
	Notifications []Notification
}

// EffectiveNeedsReview 合并执行结果与 Agent 的自治等级: 自治等级低于 3 的结果总是需要审核。
func EffectiveNeedsReview(resultNeedsReview bool, agent models.Agent) bool {
	return resultNeedsReview || !agent.AutoCompletes()
}

// Decide 根据执行结果决定 working 任务的下一个状态。
func Decide(t models.Task, agent models.Agent, r Result) Decision {
	if r.Err != nil {
		reason := r.Err.Error()
		return Decision{
			Status: models.TaskFailed,
			Reason: reason,
			Notifications: []Notification{{
				Kind:    models.EventTaskFailed,
				TaskID:  t.ID,
				AgentID: agent.ID,
				Status:  models.TaskFailed,
				Message: fmt.Sprintf("任务「%s」执行失败: %s", t.Title, reason),
			}},
		}
	}

	if EffectiveNeedsReview(r.NeedsReview, agent) {
		return Decision{
			Status:      models.TaskReview,
			NeedsReview: true,
			Notifications: []Notification{{
				Kind:    models.EventTaskNeedsReview,
				TaskID:  t.ID,
				AgentID: agent.ID,
				Status:  models.TaskReview,
				Message: fmt.Sprintf("任务「%s」已完成，等待审核", t.Title),
			}},
		}
	}
	return Decision{
		Status: models.TaskDone,
		Notifications: []Notification{{
			Kind:    models.EventTaskCompleted,
			TaskID:  t.ID,
			AgentID: agent.ID,
			Status:  models.TaskDone,
			Message: fmt.Sprintf("任务「%s」已完成", t.Title),
		}},
	}
}

// TimeoutReason 返回超时失败的原因文本，例如 "timed out after 15m0s"。
func TimeoutReason(limit time.Duration) string {
	return fmt.Sprintf("timed out after %s", limit)
}

// Expired 报告 working 任务在 now 时刻是否已超过 limit。
func Expired(t models.Task, now time.Time, limit time.Duration) bool {
	if t.Status != models.TaskWorking || t.StartedAt == nil {
		return false
	}
	return now.Sub(*t.StartedAt) > limit
}

// DecideTimeout 给出超时任务的失败决定。
func DecideTimeout(t models.Task, limit time.Duration) Decision {
	reason := TimeoutReason(limit)
	return Decision{
		Status: models.TaskFailed,
		Reason: reason,
		Notifications: []Notification{{
			Kind:    models.EventTaskTimedOut,
			TaskID:  t.ID,
			AgentID: t.AssignedAgent,
			Status:  models.TaskFailed,
			Message: fmt.Sprintf("任务「%s」%s", t.Title, reason),
		}},
	}
}

// Action 是调度器对一个 queued 任务采取的动作。
type Action int

const (
	ActionSkip            Action = iota // Agent 忙碌、停用或不存在
	ActionExecute                       // 自治等级 >= 3: 认领并执行
	ActionExecuteAndHold                // 自治等级 2: 认领并执行，结果进入审核
	ActionSuggest                       // 自治等级 1: 只发建议通知，任务保持 queued
)

func (a Action) String() string {
	switch a {
	case ActionExecute:
		return "execute"
	case ActionExecuteAndHold:
		return "execute_and_hold"
	case ActionSuggest:
		return "suggest"
	default:
		return "skip"
	}
}

// DecideQueued 根据 Agent 的状态和自治等级决定如何处理一个 queued 任务。
// 只有建议动作会直接产生通知；执行类动作的开始通知在认领成功后由 Started 给出。
func DecideQueued(t models.Task, agent *models.Agent) (Action, []Notification) {
	if agent == nil || !agent.Enabled {
		return ActionSkip, nil
	}
	if agent.AutonomyLevel <= 1 {
		return ActionSuggest, []Notification{{
			Kind:    models.EventTaskSuggested,
			TaskID:  t.ID,
			AgentID: agent.ID,
			Status:  models.TaskQueued,
			Message: fmt.Sprintf("建议由 %s 处理「%s」，批准后执行", agent.Name, t.Title),
		}}
	}
	if !agent.Idle() {
		return ActionSkip, nil
	}
	if agent.AutonomyLevel == 2 {
		return ActionExecuteAndHold, nil
	}
	return ActionExecute, nil
}

// Started 是任务被认领进入 working 时的通知。
func Started(t models.Task, agent models.Agent) Notification {
	return Notification{
		Kind:    models.EventTaskStarted,
		TaskID:  t.ID,
		AgentID: agent.ID,
		Status:  models.TaskWorking,
		Message: fmt.Sprintf("%s 开始处理「%s」", agent.Name, t.Title),
	}
}
