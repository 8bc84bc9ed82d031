// Package store 是共享状态存储: 任务、Agent、提案、调度游标和检索语料。
// 所有跨进程共享的状态迁移都通过带前置条件的 UPDATE 完成。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Steward/backend/go/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("store: record not found")
	// ErrClaimConflict 表示任务已不在可认领状态，或 Agent 已被占用/停用。
	ErrClaimConflict = errors.New("store: task or agent is no longer available")
	// ErrPreconditionFailed 表示条件更新没有命中任何行，状态已被其他进程改变。
	ErrPreconditionFailed = errors.New("store: precondition failed")
)

// Store 封装了 GORM 连接。
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New 创建一个新的 Store 实例。
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock 替换时钟，用于测试。
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{db: s.db, now: now}
}

// Now 返回存储使用的当前时间。
func (s *Store) Now() time.Time {
	return s.now()
}

// AutoMigrate 创建或更新所有表结构。
func (s *Store) AutoMigrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&models.Task{},
		&models.Agent{},
		&models.Proposal{},
		&models.SchedulerCursor{},
		&models.Contact{},
		&models.KnowledgeEntry{},
		&models.Project{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// notFound 把 gorm 的未找到错误转换为 ErrNotFound。
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func statusStrings(statuses []models.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
