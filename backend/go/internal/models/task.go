package models

import "time"

// TaskStatus 定义了任务状态机中的状态。
type TaskStatus string

const (
	TaskQueued   TaskStatus = "queued"   // 已创建, 等待分配
	TaskApproved TaskStatus = "approved" // 人工提升, 等待调度器执行
	TaskAssigned TaskStatus = "assigned"
	TaskWorking  TaskStatus = "working"
	TaskReview   TaskStatus = "review" // 等待人工审核
	TaskDone     TaskStatus = "done"
	TaskRejected TaskStatus = "rejected"
	TaskFailed   TaskStatus = "failed"
)

// Terminal 报告状态是否为终态。终态任务必须带有 CompletedAt。
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskRejected || s == TaskFailed
}

// TaskType 是分发器可以产生的有限任务类型集合。
type TaskType string

const (
	TaskTypeResearch     TaskType = "research"
	TaskTypeDraft        TaskType = "draft"
	TaskTypeFinancial    TaskType = "financial"
	TaskTypeOutreach     TaskType = "outreach"
	TaskTypeStatus       TaskType = "status"
	TaskTypeQA           TaskType = "qa"
	TaskTypeNotification TaskType = "notification"
	TaskTypeAction       TaskType = "action" // 没有任何关键词命中时的兜底类型
)

// KnownTaskType 报告 t 是否属于有限集合。
func KnownTaskType(t TaskType) bool {
	switch t {
	case TaskTypeResearch, TaskTypeDraft, TaskTypeFinancial, TaskTypeOutreach,
		TaskTypeStatus, TaskTypeQA, TaskTypeNotification, TaskTypeAction:
		return true
	}
	return false
}

// 优先级: 1 最紧急, 4 有空再做。
const (
	PriorityUrgent   = 1
	PriorityNormal   = 2
	PriorityLow      = 3
	PriorityWhenever = 4
)

// ReplyTo 记录了结果需要回复到的渠道和线程。
type ReplyTo struct {
	Channel   string `json:"channel,omitempty"`    // 例如 "slack"
	ChannelID string `json:"channel_id,omitempty"` // 平台上的频道
	ThreadID  string `json:"thread_id,omitempty"`  // 回复线程
}

// Empty 报告是否没有回复目标。
func (r ReplyTo) Empty() bool {
	return r.Channel == "" && r.ChannelID == ""
}

// Task 是一个被路由、被跟踪的工作单元。
type Task struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Title         string     `gorm:"size:255" json:"title"`
	Description   string     `gorm:"type:text" json:"description"`
	TaskType      TaskType   `gorm:"size:32;index" json:"task_type"`
	AssignedAgent string     `gorm:"size:64;index" json:"assigned_agent"`
	RequestedBy   string     `gorm:"size:128" json:"requested_by"`
	Source        string     `gorm:"size:64" json:"source"`
	SourceID      string     `gorm:"size:128" json:"source_id,omitempty"`
	Priority      int        `gorm:"index:idx_task_status_priority,priority:2" json:"priority"`
	Status        TaskStatus `gorm:"size:16;index:idx_task_status_priority,priority:1" json:"status"`
	NeedsReview   bool       `json:"needs_review"`
	Output        string     `gorm:"type:text" json:"output,omitempty"`
	Reasoning     string     `gorm:"type:text" json:"reasoning,omitempty"`
	Confidence    float64    `json:"confidence"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`
	ReviewedBy    string     `gorm:"size:128" json:"reviewed_by,omitempty"`
	ReviewNotes   string     `gorm:"type:text" json:"review_notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	SuggestedAt   *time.Time `json:"suggested_at,omitempty"` // 已向审核者发出执行建议
	ReplyTo       ReplyTo    `gorm:"embedded;embeddedPrefix:reply_" json:"reply_to"`
	ParentTaskID  *string    `gorm:"size:36" json:"parent_task_id,omitempty"`
}
