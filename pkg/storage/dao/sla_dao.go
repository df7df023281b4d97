package dao

import (
	"database/sql"
	"time"
)

// SLADefinitionDAO sla_definition表的数据访问对象（内部使用）
type SLADefinitionDAO struct {
	ID               string    `db:"id"`
	TenantID         string    `db:"tenant_id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	SLAType          string    `db:"sla_type"`
	TimeLimitSeconds int64     `db:"time_limit_seconds"`
	AppliesTo        string    `db:"applies_to"` // JSON格式存储
	Active           bool      `db:"active"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// SLAInstanceDAO sla_instance表的数据访问对象（内部使用）
// ActiveKey 在active/paused时为 task_id|definition_id，结束后置NULL。
type SLAInstanceDAO struct {
	ID                  string         `db:"id"`
	TenantID            string         `db:"tenant_id"`
	DefinitionID        string         `db:"definition_id"`
	TaskID              string         `db:"task_id"`
	Status              string         `db:"status"`
	ActiveKey           sql.NullString `db:"active_key"`
	StartedAt           time.Time      `db:"started_at"`
	Deadline            time.Time      `db:"deadline"`
	PausedAt            sql.NullTime   `db:"paused_at"`
	AccumulatedPausedNS int64          `db:"accumulated_paused_ns"`
	ResolvedAt          sql.NullTime   `db:"resolved_at"`
	BreachedAt          sql.NullTime   `db:"breached_at"`
	Version             int            `db:"version"`
}
