package types

import (
	"context"
	"sync"
)

// TaskStore 任务存储协作方接口（对外导出）
// 状态引擎只做存在性检查，从不修改任务本身的字段。
type TaskStore interface {
	// TaskExists 检查任务是否存在且属于指定租户
	TaskExists(ctx context.Context, tenantID, taskID string) (bool, error)
}

// TaskAttributes 用于匹配SLA适用范围的任务属性（对外导出）
type TaskAttributes struct {
	Priority string            `json:"priority" yaml:"priority"`
	Category string            `json:"category" yaml:"category"`
	Labels   map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// MemoryTaskStore 内存任务存储，用于测试与单机演示（对外导出）
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]map[string]struct{} // tenantID -> taskID集合
}

// NewMemoryTaskStore 创建内存任务存储
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]map[string]struct{})}
}

// Add 登记任务
func (s *MemoryTaskStore) Add(tenantID string, taskIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.tasks[tenantID]
	if !ok {
		set = make(map[string]struct{})
		s.tasks[tenantID] = set
	}
	for _, id := range taskIDs {
		set[id] = struct{}{}
	}
}

// Remove 移除任务
func (s *MemoryTaskStore) Remove(tenantID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks[tenantID], taskID)
}

// TaskExists 实现TaskStore接口
func (s *MemoryTaskStore) TaskExists(_ context.Context, tenantID, taskID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[tenantID][taskID]
	return ok, nil
}

var _ TaskStore = (*MemoryTaskStore)(nil)
