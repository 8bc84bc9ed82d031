package models

import (
	"time"

	"gorm.io/datatypes"
)

// Agent 是可以承接任务的执行者，由配置预先注册。
type Agent struct {
	ID                 string                      `gorm:"primaryKey;size:64" json:"id"`
	Name               string                      `gorm:"size:128" json:"name"`
	CapabilityKeywords datatypes.JSONSlice[string] `json:"capability_keywords"`
	Domain             string                      `gorm:"size:64" json:"domain"`
	AutonomyLevel      int                         `json:"autonomy_level"` // 1 仅建议, 2 执行后必须审核, 3/4 自动完成
	Enabled            bool                        `json:"enabled"`
	CurrentTaskID      *string                     `gorm:"size:36;index" json:"current_task_id,omitempty"`
	LastHeartbeat      *time.Time                  `json:"last_heartbeat,omitempty"`
}

// Idle 报告 Agent 是否可以承接新任务。
func (a *Agent) Idle() bool {
	return a.Enabled && a.CurrentTaskID == nil
}

// AutoCompletes 报告该 Agent 的结果是否可以跳过人工审核。
func (a *Agent) AutoCompletes() bool {
	return a.AutonomyLevel >= 3
}
