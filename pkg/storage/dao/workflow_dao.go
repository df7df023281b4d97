package dao

import (
	"database/sql"
	"time"
)

// WorkflowDefinitionDAO workflow_definition表的数据访问对象（内部使用）
type WorkflowDefinitionDAO struct {
	ID             string    `db:"id"`
	TenantID       string    `db:"tenant_id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	Stages         string    `db:"stages"` // JSON格式存储
	InitialStageID string    `db:"initial_stage_id"`
	BoardID        string    `db:"board_id"`
	Active         bool      `db:"active"`
	Version        int       `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// WorkflowInstanceDAO workflow_instance表的数据访问对象（内部使用）
// ActiveKey 在实例活跃时等于task_id，完成后置NULL，配合唯一索引保证每个任务只有一个活跃实例。
type WorkflowInstanceDAO struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	DefinitionID   string         `db:"definition_id"`
	TaskID         string         `db:"task_id"`
	CurrentStageID string         `db:"current_stage_id"`
	ActiveKey      sql.NullString `db:"active_key"`
	StartedAt      time.Time      `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	Version        int            `db:"version"`
	Seq            int            `db:"seq"`
}

// WorkflowTransitionDAO workflow_transition表的数据访问对象（内部使用）
type WorkflowTransitionDAO struct {
	InstanceID  string    `db:"instance_id"`
	TenantID    string    `db:"tenant_id"`
	Seq         int       `db:"seq"`
	FromStageID string    `db:"from_stage_id"`
	ToStageID   string    `db:"to_stage_id"`
	ActorID     string    `db:"actor_id"`
	At          time.Time `db:"occurred_at"`
}
