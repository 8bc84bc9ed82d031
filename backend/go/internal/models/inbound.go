package models

import "time"

// InboundMessage 是一条入站消息的日志，供关系摘要扫描使用。
type InboundMessage struct {
	ID         string    `bson:"_id" json:"id"`
	Channel    string    `bson:"channel" json:"channel"`
	SenderID   string    `bson:"sender_id" json:"sender_id"`
	Text       string    `bson:"text" json:"text"`
	Categories []string  `bson:"categories" json:"categories"` // 例如 "investor", "funder:primary"
	TaskID     string    `bson:"task_id,omitempty" json:"task_id,omitempty"`
	ReceivedAt time.Time `bson:"received_at" json:"received_at"`
}

// SchedulerCursor 持久化周期性扫描的位置，进程重启后仍然有效。
type SchedulerCursor struct {
	Name      string    `gorm:"primaryKey;size:64"`
	Position  time.Time // 已处理到的时间点
	UpdatedAt time.Time
}

// Contact 是外联和起草策略检索的联系人。
type Contact struct {
	ID           string `gorm:"primaryKey;size:64" json:"id"`
	Name         string `gorm:"size:128;index" json:"name"`
	Organisation string `gorm:"size:128;index" json:"organisation"`
	Email        string `gorm:"size:128" json:"email"`
	Tags         string `gorm:"size:255" json:"tags"`
	Notes        string `gorm:"type:text" json:"notes"`
}

// KnowledgeEntry 是知识问答和研究策略检索的条目。
type KnowledgeEntry struct {
	ID    string `gorm:"primaryKey;size:64" json:"id"`
	Title string `gorm:"size:255;index" json:"title"`
	Body  string `gorm:"type:text" json:"body"`
	Tags  string `gorm:"size:255" json:"tags"`
}

// Project 是状态、财务和广播策略检索的项目。
type Project struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:128;index" json:"name"`
	Status    string    `gorm:"size:32;index" json:"status"` // active, paused, closed
	Summary   string    `gorm:"type:text" json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}
