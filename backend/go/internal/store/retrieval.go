package store

import (
	"context"
	"fmt"
	"strings"

	"Steward/backend/go/internal/models"

	"gorm.io/gorm"
)

// likeAny 为每个检索词生成一组 OR 的 LIKE 条件，覆盖给定列。
func likeAny(tx *gorm.DB, terms []string, columns ...string) *gorm.DB {
	var (
		clauses []string
		args    []interface{}
	)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		pattern := "%" + term + "%"
		for _, col := range columns {
			clauses = append(clauses, "LOWER("+col+") LIKE ?")
			args = append(args, pattern)
		}
	}
	if len(clauses) == 0 {
		return tx
	}
	return tx.Where(strings.Join(clauses, " OR "), args...)
}

// SearchContacts 在姓名、机构、标签和备注中检索联系人。
func (s *Store) SearchContacts(ctx context.Context, terms []string, limit int) ([]models.Contact, error) {
	var out []models.Contact
	tx := likeAny(s.db.WithContext(ctx).Model(&models.Contact{}), terms, "name", "organisation", "tags", "notes")
	if err := tx.Order("name ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("检索联系人失败: %w", err)
	}
	return out, nil
}

// SearchKnowledge 在标题、正文和标签中检索知识条目。
func (s *Store) SearchKnowledge(ctx context.Context, terms []string, limit int) ([]models.KnowledgeEntry, error) {
	var out []models.KnowledgeEntry
	tx := likeAny(s.db.WithContext(ctx).Model(&models.KnowledgeEntry{}), terms, "title", "body", "tags")
	if err := tx.Order("title ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("检索知识条目失败: %w", err)
	}
	return out, nil
}

// ActiveProjects 返回最近更新的活跃项目。
func (s *Store) ActiveProjects(ctx context.Context, limit int) ([]models.Project, error) {
	var out []models.Project
	err := s.db.WithContext(ctx).
		Where("status = ?", "active").
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("查询活跃项目失败: %w", err)
	}
	return out, nil
}

// SaveContacts、SaveKnowledge 和 SaveProjects 用于导入检索语料。
func (s *Store) SaveContacts(ctx context.Context, contacts []models.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	return s.save(ctx, &contacts)
}

func (s *Store) SaveKnowledge(ctx context.Context, entries []models.KnowledgeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.save(ctx, &entries)
}

func (s *Store) SaveProjects(ctx context.Context, projects []models.Project) error {
	if len(projects) == 0 {
		return nil
	}
	return s.save(ctx, &projects)
}

func (s *Store) save(ctx context.Context, rows interface{}) error {
	if err := s.db.WithContext(ctx).Save(rows).Error; err != nil {
		return fmt.Errorf("保存检索语料失败: %w", err)
	}
	return nil
}
