// Package memory 基于map的进程内存储（对外导出）
//
// 与SQL存储实现相同的契约与版本比对语义，用于单元测试与单机运行。
// 读写都返回深拷贝，调用方修改返回值不会影响存储内容。
package memory

import (
	"context"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
)

// Store 内存存储集合（对外导出）
type Store struct {
	workflows *WorkflowStore
	slas      *SLAStore
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		workflows: NewWorkflowStore(),
		slas:      NewSLAStore(),
	}
}

// Workflows 返回工作流存储
func (s *Store) Workflows() workflow.Repository { return s.workflows }

// SLAs 返回SLA存储
func (s *Store) SLAs() sla.Repository { return s.slas }

// Ping 内存存储始终可用
func (s *Store) Ping(context.Context) error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }
