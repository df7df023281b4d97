package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// WorkflowStore 工作流内存存储（对外导出）
type WorkflowStore struct {
	mu        sync.RWMutex
	defs      map[string]*workflow.Definition
	instances map[string]*workflow.Instance
}

// NewWorkflowStore 创建工作流内存存储
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{
		defs:      make(map[string]*workflow.Definition),
		instances: make(map[string]*workflow.Instance),
	}
}

var _ workflow.Repository = (*WorkflowStore)(nil)

func (s *WorkflowStore) CreateDefinition(_ context.Context, def *workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; ok {
		return storage.ErrAlreadyExists
	}
	s.defs[def.ID] = def.Clone()
	return nil
}

func (s *WorkflowStore) UpdateDefinition(_ context.Context, def *workflow.Definition, expectedVersion int, removedStages []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.defs[def.ID]
	if !ok || cur.TenantID != def.TenantID {
		return storage.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	for _, inst := range s.instances {
		if inst.TenantID == def.TenantID && inst.DefinitionID == def.ID && inst.IsActive() && contains(removedStages, inst.CurrentStageID) {
			return storage.ErrInUse
		}
	}
	s.defs[def.ID] = def.Clone()
	return nil
}

func (s *WorkflowStore) GetDefinition(_ context.Context, tenantID, id string) (*workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok || def.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return def.Clone(), nil
}

func (s *WorkflowStore) ListDefinitions(_ context.Context, tenantID string) ([]*workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Definition, 0)
	for _, def := range s.defs {
		if def.TenantID == tenantID {
			out = append(out, def.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *WorkflowStore) DeleteDefinition(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok || def.TenantID != tenantID {
		return storage.ErrNotFound
	}
	for _, inst := range s.instances {
		if inst.TenantID == tenantID && inst.DefinitionID == id && inst.IsActive() {
			return storage.ErrInUse
		}
	}
	delete(s.defs, id)
	return nil
}

func (s *WorkflowStore) CreateInstance(_ context.Context, inst *workflow.Instance, definitionVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return storage.ErrAlreadyExists
	}
	if !s.definitionAt(inst.TenantID, inst.DefinitionID, definitionVersion) {
		return storage.ErrDefinitionChanged
	}
	seq := 0
	for _, cur := range s.instances {
		if cur.TenantID != inst.TenantID || cur.TaskID != inst.TaskID {
			continue
		}
		if inst.IsActive() && cur.IsActive() {
			return storage.ErrDuplicateActive
		}
		if cur.Seq > seq {
			seq = cur.Seq
		}
	}
	inst.Seq = seq + 1
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *WorkflowStore) GetActiveInstance(_ context.Context, tenantID, taskID string) (*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cur := range s.instances {
		if cur.TenantID == tenantID && cur.TaskID == taskID && cur.IsActive() {
			return cur.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *WorkflowStore) GetLatestInstance(_ context.Context, tenantID, taskID string) (*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *workflow.Instance
	for _, cur := range s.instances {
		if cur.TenantID != tenantID || cur.TaskID != taskID {
			continue
		}
		if latest == nil || cur.Seq > latest.Seq {
			latest = cur
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *WorkflowStore) ListActiveInstancesByDefinition(_ context.Context, tenantID, definitionID string) ([]*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Instance, 0)
	for _, cur := range s.instances {
		if cur.TenantID == tenantID && cur.DefinitionID == definitionID && cur.IsActive() {
			out = append(out, cur.Clone())
		}
	}
	return out, nil
}

func (s *WorkflowStore) SaveTransition(_ context.Context, inst *workflow.Instance, _ workflow.Transition, expectedVersion, definitionVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.instances[inst.ID]
	if !ok || cur.TenantID != inst.TenantID {
		return storage.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	if !s.definitionAt(cur.TenantID, cur.DefinitionID, definitionVersion) {
		return storage.ErrDefinitionChanged
	}
	next := inst.Clone()
	next.Seq = cur.Seq
	s.instances[inst.ID] = next
	return nil
}

// definitionAt 定义存在且版本未变，调用方持有写锁
func (s *WorkflowStore) definitionAt(tenantID, id string, version int) bool {
	def, ok := s.defs[id]
	return ok && def.TenantID == tenantID && def.Version == version
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s *WorkflowStore) DeleteInstancesByTask(_ context.Context, tenantID, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, cur := range s.instances {
		if cur.TenantID == tenantID && cur.TaskID == taskID {
			delete(s.instances, id)
			n++
		}
	}
	return n, nil
}
