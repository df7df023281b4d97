package workflow

import "time"

// Transition 阶段转换记录（对外导出）
// 启动记录的 FromStageID 为空。
type Transition struct {
	FromStageID string    `json:"from_stage_id,omitempty"`
	ToStageID   string    `json:"to_stage_id"`
	ActorID     string    `json:"actor_id"`
	At          time.Time `json:"at"`
}

// Instance 绑定到单个任务的工作流实例（对外导出）
type Instance struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	DefinitionID   string       `json:"definition_id"`
	TaskID         string       `json:"task_id"`
	CurrentStageID string       `json:"current_stage_id"`
	History        []Transition `json:"history"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Version        int          `json:"version"`
	// Seq 同一任务内的启动序号，由存储在创建时分配，用于确定"最近一次"实例
	Seq int `json:"seq"`
}

// IsActive 未完成即为活跃
func (i *Instance) IsActive() bool {
	return i.CompletedAt == nil
}

// Clone 深拷贝
func (i *Instance) Clone() *Instance {
	c := *i
	c.History = append([]Transition(nil), i.History...)
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
