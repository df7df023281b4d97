package workflow

import "context"

// Repository 工作流持久化接口（对外导出）
// 所有方法按租户过滤；未命中返回 storage.ErrNotFound。
type Repository interface {
	// CreateDefinition 新增定义，ID已存在返回 storage.ErrAlreadyExists
	CreateDefinition(ctx context.Context, def *Definition) error
	// UpdateDefinition 以版本比对覆盖定义，def.Version 为写入后的新版本
	// 存储中的版本不等于expectedVersion时返回 storage.ErrVersionConflict；
	// removedStages 中仍有活跃实例停留时返回 storage.ErrInUse。两项检查与写入原子完成。
	UpdateDefinition(ctx context.Context, def *Definition, expectedVersion int, removedStages []string) error
	GetDefinition(ctx context.Context, tenantID, id string) (*Definition, error)
	ListDefinitions(ctx context.Context, tenantID string) ([]*Definition, error)
	// DeleteDefinition 删除定义，仍有活跃实例时返回 storage.ErrInUse
	DeleteDefinition(ctx context.Context, tenantID, id string) error

	// CreateInstance 新增实例并分配 inst.Seq
	// 任务已有活跃实例时返回 storage.ErrDuplicateActive；
	// 定义版本已不等于definitionVersion或定义已删除时返回 storage.ErrDefinitionChanged。
	CreateInstance(ctx context.Context, inst *Instance, definitionVersion int) error
	// GetActiveInstance 返回任务当前未完成的实例
	GetActiveInstance(ctx context.Context, tenantID, taskID string) (*Instance, error)
	// GetLatestInstance 返回任务Seq最大的实例
	GetLatestInstance(ctx context.Context, tenantID, taskID string) (*Instance, error)
	ListActiveInstancesByDefinition(ctx context.Context, tenantID, definitionID string) ([]*Instance, error)
	// SaveTransition 原子地写入实例新状态并追加一条历史
	// 实例版本不等于expectedVersion时返回 storage.ErrVersionConflict；
	// 定义版本不等于definitionVersion时返回 storage.ErrDefinitionChanged。
	SaveTransition(ctx context.Context, inst *Instance, appended Transition, expectedVersion, definitionVersion int) error
	// DeleteInstancesByTask 删除任务的全部实例，返回删除数量
	DeleteInstancesByTask(ctx context.Context, tenantID, taskID string) (int, error)
}
