package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// SLAStore SLA内存存储（对外导出）
type SLAStore struct {
	mu        sync.RWMutex
	defs      map[string]*sla.Definition
	instances map[string]*sla.Instance
}

// NewSLAStore 创建SLA内存存储
func NewSLAStore() *SLAStore {
	return &SLAStore{
		defs:      make(map[string]*sla.Definition),
		instances: make(map[string]*sla.Instance),
	}
}

var _ sla.Repository = (*SLAStore)(nil)

func (s *SLAStore) CreateDefinition(_ context.Context, def *sla.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; ok {
		return storage.ErrAlreadyExists
	}
	s.defs[def.ID] = def.Clone()
	return nil
}

func (s *SLAStore) UpdateDefinition(_ context.Context, def *sla.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.defs[def.ID]
	if !ok || cur.TenantID != def.TenantID {
		return storage.ErrNotFound
	}
	s.defs[def.ID] = def.Clone()
	return nil
}

func (s *SLAStore) GetDefinition(_ context.Context, tenantID, id string) (*sla.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok || def.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return def.Clone(), nil
}

func (s *SLAStore) ListDefinitions(_ context.Context, tenantID string, activeOnly bool) ([]*sla.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sla.Definition, 0)
	for _, def := range s.defs {
		if def.TenantID != tenantID || (activeOnly && !def.Active) {
			continue
		}
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *SLAStore) CreateInstance(_ context.Context, inst *sla.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return storage.ErrAlreadyExists
	}
	if inst.Status.IsOpen() {
		for _, cur := range s.instances {
			if cur.TenantID == inst.TenantID && cur.TaskID == inst.TaskID &&
				cur.DefinitionID == inst.DefinitionID && cur.Status.IsOpen() {
				return storage.ErrDuplicateActive
			}
		}
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *SLAStore) GetInstance(_ context.Context, tenantID, id string) (*sla.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok || inst.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return inst.Clone(), nil
}

func (s *SLAStore) ListInstancesByTask(_ context.Context, tenantID, taskID string) ([]*sla.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sla.Instance, 0)
	for _, inst := range s.instances {
		if inst.TenantID == tenantID && inst.TaskID == taskID {
			out = append(out, inst.Clone())
		}
	}
	sortInstances(out)
	return out, nil
}

func (s *SLAStore) FindOpenInstance(_ context.Context, tenantID, taskID, definitionID string) (*sla.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instances {
		if inst.TenantID == tenantID && inst.TaskID == taskID &&
			inst.DefinitionID == definitionID && inst.Status.IsOpen() {
			return inst.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *SLAStore) UpdateInstance(_ context.Context, inst *sla.Instance, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.instances[inst.ID]
	if !ok || cur.TenantID != inst.TenantID {
		return storage.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *SLAStore) ListBreachCandidates(_ context.Context, tenantID string, now time.Time) ([]*sla.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sla.Instance, 0)
	for _, inst := range s.instances {
		if inst.TenantID == tenantID && inst.Status.IsOpen() && !inst.Deadline.After(now) {
			out = append(out, inst.Clone())
		}
	}
	sortInstances(out)
	return out, nil
}

func (s *SLAStore) ListTenantsWithOpenInstances(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, inst := range s.instances {
		if inst.Status.IsOpen() {
			seen[inst.TenantID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SLAStore) DeleteInstancesByTask(_ context.Context, tenantID, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, inst := range s.instances {
		if inst.TenantID == tenantID && inst.TaskID == taskID {
			delete(s.instances, id)
			n++
		}
	}
	return n, nil
}

func sortInstances(list []*sla.Instance) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
}
