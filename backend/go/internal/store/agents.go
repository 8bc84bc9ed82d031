package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Steward/backend/go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncAgents 把配置中的 Agent 注册表写入存储。
// 已存在的 Agent 只更新注册属性，current_task_id 和 last_heartbeat 保持不变。
func (s *Store) SyncAgents(ctx context.Context, agents []models.Agent) error {
	if len(agents) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "capability_keywords", "domain", "autonomy_level", "enabled"}),
	}).Create(&agents).Error
	if err != nil {
		return fmt.Errorf("同步 Agent 注册表失败: %w", err)
	}
	return nil
}

// GetAgent 按 ID 读取 Agent。
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("读取 Agent %s 失败: %w", id, notFound(err))
	}
	return &a, nil
}

// ListAgents 列出 Agent，enabledOnly 为 true 时只返回启用的。
func (s *Store) ListAgents(ctx context.Context, enabledOnly bool) ([]models.Agent, error) {
	tx := s.db.WithContext(ctx).Order("id ASC")
	if enabledOnly {
		tx = tx.Where("enabled = ?", true)
	}
	var agents []models.Agent
	if err := tx.Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("查询 Agent 列表失败: %w", err)
	}
	return agents, nil
}

// RefreshHeartbeats 刷新所有启用 Agent 的 last_heartbeat，返回受影响的行数。
func (s *Store) RefreshHeartbeats(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Agent{}).
		Where("enabled = ?", true).
		Update("last_heartbeat", s.now())
	if res.Error != nil {
		return 0, fmt.Errorf("刷新心跳失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SetAgentEnabled 启用或停用一个 Agent。
func (s *Store) SetAgentEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("更新 Agent %s 失败: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCursor 读取一个持久化游标，不存在时返回 ok=false。
func (s *Store) GetCursor(ctx context.Context, name string) (time.Time, bool, error) {
	var c models.SchedulerCursor
	err := s.db.WithContext(ctx).First(&c, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("读取游标 %s 失败: %w", name, err)
	}
	return c.Position, true, nil
}

// SetCursor 写入游标位置。
func (s *Store) SetCursor(ctx context.Context, name string, position time.Time) error {
	c := models.SchedulerCursor{Name: name, Position: position, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
	}).Create(&c).Error
	if err != nil {
		return fmt.Errorf("写入游标 %s 失败: %w", name, err)
	}
	return nil
}
