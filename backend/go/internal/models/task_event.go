package models

import "time"

// TaskEventKind 定义了任务生命周期事件的类型。
type TaskEventKind string

const (
	EventTaskQueued      TaskEventKind = "TASK_QUEUED"
	EventTaskStarted     TaskEventKind = "TASK_STARTED"
	EventTaskCompleted   TaskEventKind = "TASK_COMPLETED"
	EventTaskNeedsReview TaskEventKind = "TASK_NEEDS_REVIEW"
	EventTaskFailed      TaskEventKind = "TASK_FAILED"
	EventTaskTimedOut    TaskEventKind = "TASK_TIMED_OUT"
	EventTaskApproved    TaskEventKind = "TASK_APPROVED"
	EventTaskRejected    TaskEventKind = "TASK_REJECTED"
	EventTaskSuggested   TaskEventKind = "TASK_SUGGESTED"
	EventReviewReminder  TaskEventKind = "REVIEW_REMINDER"
	EventProposalFiled   TaskEventKind = "PROPOSAL_FILED"
	EventProposalDone    TaskEventKind = "PROPOSAL_RESOLVED"
	EventDigest          TaskEventKind = "RELATIONSHIP_DIGEST"
)

// TaskEvent 是发送到 Kafka 和 WebSocket 订阅者的统一事件结构。
type TaskEvent struct {
	Kind       TaskEventKind `json:"kind"`
	TaskID     string        `json:"task_id,omitempty"`
	ProposalID string        `json:"proposal_id,omitempty"`
	AgentID    string        `json:"agent_id,omitempty"`
	Status     TaskStatus    `json:"status,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Message    string        `json:"message"`
	Content    interface{}   `json:"content,omitempty"`
}
