package storage

import "errors"

// 存储层哨兵错误（对外导出）
// 引擎负责把它们映射为 errs.NotFound / errs.Conflict / errs.Validation。
var (
	// ErrNotFound 记录不存在或不属于指定租户
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict 乐观锁版本号不匹配，记录已被并发修改
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateActive 违反"同一时间仅一个活跃实例"的唯一约束
	ErrDuplicateActive = errors.New("duplicate active instance")
	// ErrAlreadyExists 主键已存在
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInUse 仍有活跃实例引用，拒绝删除定义或移除阶段
	ErrInUse = errors.New("referenced by active instance")
	// ErrDefinitionChanged 实例写入时所依据的定义版本已被修改或删除
	ErrDefinitionChanged = errors.New("definition changed")
)
