package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProposalStatus 是外联提案的嵌套状态机。
type ProposalStatus string

const (
	ProposalPendingReview ProposalStatus = "pending_review"
	ProposalApproved      ProposalStatus = "approved"
	ProposalRejected      ProposalStatus = "rejected"
	ProposalCompleted     ProposalStatus = "completed"
	ProposalFailed        ProposalStatus = "failed"
)

// Proposal 是一次需要人工确认的关系外联动作。
type Proposal struct {
	ID                 string         `gorm:"primaryKey;size:36" json:"id"`
	TaskID             string         `gorm:"size:36;index" json:"task_id"`
	TargetContactID    string         `gorm:"size:64" json:"target_contact_id"`
	ExecutionChannel   string         `gorm:"size:32" json:"execution_channel"` // 目前只有 "slack"，收件人邮箱放在负载里
	ActionPayload      datatypes.JSON `json:"action_payload"`
	Status             ProposalStatus `gorm:"size:16;index" json:"status"`
	ReviewedBy         string         `gorm:"size:128" json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time     `json:"reviewed_at,omitempty"`
	ReviewNotes        string         `gorm:"type:text" json:"review_notes,omitempty"`
	ExecutionStartedAt *time.Time     `json:"execution_started_at,omitempty"` // 执行权被占用的时间
	ExecutionResult    string         `gorm:"type:text" json:"execution_result,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
