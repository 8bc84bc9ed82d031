package store

import (
	"context"
	"fmt"
	"time"

	"Steward/backend/go/internal/models"
)

// CreateProposal 插入一个待审核的外联提案。
func (s *Store) CreateProposal(ctx context.Context, p *models.Proposal) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("创建提案失败: %w", err)
	}
	return nil
}

// GetProposal 按 ID 读取提案。
func (s *Store) GetProposal(ctx context.Context, id string) (*models.Proposal, error) {
	var p models.Proposal
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("读取提案 %s 失败: %w", id, notFound(err))
	}
	return &p, nil
}

// ListProposals 按状态列出提案。
func (s *Store) ListProposals(ctx context.Context, status models.ProposalStatus, limit int) ([]models.Proposal, error) {
	tx := s.db.WithContext(ctx).Order("created_at ASC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var out []models.Proposal
	if err := tx.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("查询提案列表失败: %w", err)
	}
	return out, nil
}

// ProposalUpdate 是一次提案迁移需要写入的字段。
type ProposalUpdate struct {
	To              models.ProposalStatus
	ReviewedBy      string
	ReviewNotes     string
	ExecutionResult string
	ActionPayload   []byte // 非空时替换负载 (编辑后发送)
}

// TransitionProposal 条件更新提案状态，只有当前状态为 from 时才生效。
func (s *Store) TransitionProposal(ctx context.Context, id string, from models.ProposalStatus, u ProposalUpdate) (*models.Proposal, error) {
	now := s.now()
	fields := map[string]interface{}{
		"status":     string(u.To),
		"updated_at": now,
	}
	if u.ReviewedBy != "" {
		fields["reviewed_by"] = u.ReviewedBy
		fields["reviewed_at"] = now
		fields["review_notes"] = u.ReviewNotes
	}
	if u.ExecutionResult != "" {
		fields["execution_result"] = u.ExecutionResult
	}
	if len(u.ActionPayload) > 0 {
		fields["action_payload"] = u.ActionPayload
	}

	res := s.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("更新提案 %s 失败: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetProposal(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrPreconditionFailed
	}
	return s.GetProposal(ctx, id)
}

// ClaimProposal 原子地占用一个已批准提案的执行权，避免同一提案被发送两次。
// 执行权未被占用，或占用时间早于 staleBefore (执行者中途退出) 时成功；否则返回 ErrClaimConflict。
func (s *Store) ClaimProposal(ctx context.Context, id string, staleBefore time.Time) (*models.Proposal, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("id = ? AND status = ? AND (execution_started_at IS NULL OR execution_started_at < ?)",
			id, string(models.ProposalApproved), staleBefore).
		Updates(map[string]interface{}{
			"execution_started_at": now,
			"updated_at":           now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("占用提案 %s 失败: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetProposal(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrClaimConflict
	}
	return s.GetProposal(ctx, id)
}
