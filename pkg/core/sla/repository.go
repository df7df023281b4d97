package sla

import (
	"context"
	"time"
)

// Repository SLA持久化接口（对外导出）
// 所有方法按租户过滤；未命中返回 storage.ErrNotFound。
type Repository interface {
	CreateDefinition(ctx context.Context, def *Definition) error
	UpdateDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, tenantID, id string) (*Definition, error)
	ListDefinitions(ctx context.Context, tenantID string, activeOnly bool) ([]*Definition, error)

	// CreateInstance 新增实例，同一(任务, 定义)已有未结束实例时返回 storage.ErrDuplicateActive
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, tenantID, id string) (*Instance, error)
	ListInstancesByTask(ctx context.Context, tenantID, taskID string) ([]*Instance, error)
	// FindOpenInstance 查找(任务, 定义)下active或paused的实例
	FindOpenInstance(ctx context.Context, tenantID, taskID, definitionID string) (*Instance, error)
	// UpdateInstance 版本比对写入，不匹配返回 storage.ErrVersionConflict
	UpdateInstance(ctx context.Context, inst *Instance, expectedVersion int) error
	// ListBreachCandidates 返回active/paused且名义截止时间 <= now 的实例
	ListBreachCandidates(ctx context.Context, tenantID string, now time.Time) ([]*Instance, error)
	// ListTenantsWithOpenInstances 返回存在未结束实例的租户
	ListTenantsWithOpenInstances(ctx context.Context) ([]string, error)
	DeleteInstancesByTask(ctx context.Context, tenantID, taskID string) (int, error)
}
