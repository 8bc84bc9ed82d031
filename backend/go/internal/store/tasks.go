package store

import (
	"context"
	"fmt"
	"time"

	"Steward/backend/go/internal/models"

	"gorm.io/gorm"
)

// claimable 是可以被认领进入 working 的状态。
var claimable = []models.TaskStatus{models.TaskQueued, models.TaskAssigned, models.TaskApproved}

// TaskQuery 描述一次任务列表查询。
type TaskQuery struct {
	Statuses      []models.TaskStatus
	AssignedAgent string
	StartedBefore *time.Time // 仅返回 started_at 早于该时间的任务
	UpdatedBefore *time.Time // 仅返回 updated_at 早于该时间的任务
	ByPriority    bool       // 先按优先级再按创建时间排序
	Actionable    bool       // 排除已建议过的任务，以及 Agent 停用或忙碌 (自治等级 1 除外) 的任务
	Limit         int
}

// Completion 是执行结束后要写回任务的结果。
type Completion struct {
	Status      models.TaskStatus // done 或 review
	Output      string
	Reasoning   string
	Confidence  float64
	NeedsReview bool
}

// CreateTask 插入一个新任务。
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("创建任务失败: %w", err)
	}
	return nil
}

// GetTask 按 ID 读取任务。
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("读取任务 %s 失败: %w", id, notFound(err))
	}
	return &t, nil
}

// ListTasks 按条件列出任务。
func (s *Store) ListTasks(ctx context.Context, q TaskQuery) ([]models.Task, error) {
	tx := s.db.WithContext(ctx).Model(&models.Task{})
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", statusStrings(q.Statuses))
	}
	if q.AssignedAgent != "" {
		tx = tx.Where("assigned_agent = ?", q.AssignedAgent)
	}
	if q.StartedBefore != nil {
		tx = tx.Where("started_at IS NOT NULL AND started_at < ?", *q.StartedBefore)
	}
	if q.UpdatedBefore != nil {
		tx = tx.Where("updated_at < ?", *q.UpdatedBefore)
	}
	if q.Actionable {
		ready := s.db.WithContext(ctx).Model(&models.Agent{}).Select("id").
			Where("enabled = ? AND (autonomy_level <= ? OR current_task_id IS NULL)", true, 1)
		tx = tx.Where("suggested_at IS NULL").Where("assigned_agent IN (?)", ready)
	}
	if q.ByPriority {
		tx = tx.Order("priority ASC")
	}
	tx = tx.Order("created_at ASC").Order("id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var tasks []models.Task
	if err := tx.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w", err)
	}
	return tasks, nil
}

// ClaimTask 原子地把任务从 queued/approved 迁移到 working，并占用 Agent。
// 两个条件更新在同一个事务里执行；任一条件不满足都会回滚并返回 ErrClaimConflict。
func (s *Store) ClaimTask(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ? AND assigned_agent = ? AND status IN ?", taskID, agentID, statusStrings(claimable)).
			Updates(map[string]interface{}{
				"status":     string(models.TaskWorking),
				"started_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("更新任务状态失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrClaimConflict
		}

		res = tx.Model(&models.Agent{}).
			Where("id = ? AND enabled = ? AND current_task_id IS NULL", agentID, true).
			Update("current_task_id", taskID)
		if res.Error != nil {
			return fmt.Errorf("占用 Agent 失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrClaimConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// MarkSuggested 记录已为排队任务发出执行建议。返回 false 表示任务已被标记或已离开 queued，
// 多个调度器实例因此只会有一个发出建议。
func (s *Store) MarkSuggested(ctx context.Context, taskID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ? AND suggested_at IS NULL", taskID, string(models.TaskQueued)).
		Update("suggested_at", s.now())
	if res.Error != nil {
		return false, fmt.Errorf("标记任务 %s 已建议失败: %w", taskID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteTask 把 working 任务迁移到 done 或 review，并释放 Agent。
func (s *Store) CompleteTask(ctx context.Context, taskID string, c Completion) (*models.Task, error) {
	if c.Status != models.TaskDone && c.Status != models.TaskReview {
		return nil, fmt.Errorf("非法的完成状态 %q", c.Status)
	}
	now := s.now()
	fields := map[string]interface{}{
		"status":       string(c.Status),
		"output":       c.Output,
		"reasoning":    c.Reasoning,
		"confidence":   c.Confidence,
		"needs_review": c.NeedsReview,
		"updated_at":   now,
	}
	if c.Status.Terminal() {
		fields["completed_at"] = now
	}
	if err := s.transition(ctx, taskID, []models.TaskStatus{models.TaskWorking}, fields, true); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// FailTask 把 working 任务迁移到 failed 并释放 Agent。
// 任务已经不在 working 时返回 ErrPreconditionFailed，重复调用不会产生新的迁移。
func (s *Store) FailTask(ctx context.Context, taskID, reason string) error {
	now := s.now()
	return s.transition(ctx, taskID, []models.TaskStatus{models.TaskWorking}, map[string]interface{}{
		"status":       string(models.TaskFailed),
		"error":        reason,
		"updated_at":   now,
		"completed_at": now,
	}, true)
}

// ReviewTask 执行一次人工审核迁移 (approve/reject)。
func (s *Store) ReviewTask(ctx context.Context, taskID string, from []models.TaskStatus, to models.TaskStatus, reviewer, notes string) (*models.Task, error) {
	now := s.now()
	fields := map[string]interface{}{
		"status":       string(to),
		"reviewed_by":  reviewer,
		"review_notes": notes,
		"updated_at":   now,
	}
	if to.Terminal() {
		fields["completed_at"] = now
	}
	if err := s.transition(ctx, taskID, from, fields, to.Terminal()); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// ReleaseAgent 清除持有该任务的 Agent。Agent 没有持有该任务时什么也不做。
func (s *Store) ReleaseAgent(ctx context.Context, taskID string) error {
	return releaseAgent(s.db.WithContext(ctx), taskID)
}

func releaseAgent(tx *gorm.DB, taskID string) error {
	err := tx.Model(&models.Agent{}).
		Where("current_task_id = ?", taskID).
		Update("current_task_id", gorm.Expr("NULL")).Error
	if err != nil {
		return fmt.Errorf("释放 Agent 失败: %w", err)
	}
	return nil
}

// transition 是所有任务状态迁移的公共部分: 带前置状态条件的 UPDATE，可选地在同一事务中释放 Agent。
func (s *Store) transition(ctx context.Context, taskID string, from []models.TaskStatus, fields map[string]interface{}, release bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ? AND status IN ?", taskID, statusStrings(from)).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("更新任务 %s 失败: %w", taskID, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Task{}).Where("id = ?", taskID).Count(&count).Error; err != nil {
				return fmt.Errorf("读取任务 %s 失败: %w", taskID, err)
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrPreconditionFailed
		}
		if release {
			return releaseAgent(tx, taskID)
		}
		return nil
	})
}
