package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// 同一组用例分别跑在内存、SQLite、PostgreSQL存储上，保证各实现语义一致

type repositories interface {
	Workflows() workflow.Repository
	SLAs() sla.Repository
}

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func runContract(t *testing.T, store repositories) {
	t.Run("workflow definitions", func(t *testing.T) { workflowDefinitionContract(t, store.Workflows()) })
	t.Run("workflow instances", func(t *testing.T) { workflowInstanceContract(t, store.Workflows()) })
	t.Run("sla definitions", func(t *testing.T) { slaDefinitionContract(t, store.SLAs()) })
	t.Run("sla instances", func(t *testing.T) { slaInstanceContract(t, store.SLAs()) })
}

func newTenant() string { return "tenant-" + uuid.NewString()[:8] }

func sampleWorkflow(tenantID string) *workflow.Definition {
	return &workflow.Definition{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Name:     "Maintenance",
		Stages: []workflow.Stage{
			{ID: "open", Name: "Open", AllowedNext: []string{"in_progress"}},
			{ID: "in_progress", Name: "In progress", AllowedNext: []string{"open", "done"}},
			{ID: "done", Name: "Done"},
		},
		Active:    true,
		Version:   1,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func openInstance(def *workflow.Definition, taskID string) *workflow.Instance {
	return &workflow.Instance{
		ID:             uuid.NewString(),
		TenantID:       def.TenantID,
		DefinitionID:   def.ID,
		TaskID:         taskID,
		CurrentStageID: "open",
		History:        []workflow.Transition{{ToStageID: "open", ActorID: "u1", At: t0}},
		StartedAt:      t0,
		Version:        1,
	}
}

func workflowDefinitionContract(t *testing.T, repo workflow.Repository) {
	ctx := context.Background()
	tenant := newTenant()

	def := sampleWorkflow(tenant)
	require.NoError(t, repo.CreateDefinition(ctx, def))
	assert.ErrorIs(t, repo.CreateDefinition(ctx, def), storage.ErrAlreadyExists)

	got, err := repo.GetDefinition(ctx, tenant, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, def.Stages, got.Stages)
	assert.True(t, got.Active)
	assert.WithinDuration(t, t0, got.CreatedAt, 0)

	_, err = repo.GetDefinition(ctx, newTenant(), def.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	second := sampleWorkflow(tenant)
	second.CreatedAt = t0.Add(time.Minute)
	require.NoError(t, repo.CreateDefinition(ctx, second))

	list, err := repo.ListDefinitions(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, def.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	updated := def.Clone()
	updated.Name = "Maintenance v2"
	updated.Active = false
	updated.UpdatedAt = t0.Add(time.Hour)
	updated.Version = 2
	require.NoError(t, repo.UpdateDefinition(ctx, updated, 1, nil))
	got, err = repo.GetDefinition(ctx, tenant, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maintenance v2", got.Name)
	assert.False(t, got.Active)
	assert.Equal(t, 2, got.Version)

	// 基于旧版本的修改被拒绝
	assert.ErrorIs(t, repo.UpdateDefinition(ctx, updated, 1, nil), storage.ErrVersionConflict)

	foreign := updated.Clone()
	foreign.TenantID = newTenant()
	assert.ErrorIs(t, repo.UpdateDefinition(ctx, foreign, 2, nil), storage.ErrNotFound)

	// 实例写入依据的定义版本必须是当前版本
	assert.ErrorIs(t, repo.CreateInstance(ctx, openInstance(def, "task-stale"), 1), storage.ErrDefinitionChanged)
	assert.ErrorIs(t, repo.CreateInstance(ctx, openInstance(sampleWorkflow(tenant), "task-ghost"), 1), storage.ErrDefinitionChanged)

	inst := openInstance(def, "task-1")
	require.NoError(t, repo.CreateInstance(ctx, inst, 2))

	step := workflow.Transition{FromStageID: "open", ToStageID: "in_progress", ActorID: "u2", At: t0.Add(time.Minute)}
	moved := inst.Clone()
	moved.CurrentStageID = "in_progress"
	moved.History = append(moved.History, step)
	moved.Version = 2
	assert.ErrorIs(t, repo.SaveTransition(ctx, moved, step, 1, 1), storage.ErrDefinitionChanged)

	// 有活跃实例停留的阶段不能移除，定义也不能删除
	trimmed := updated.Clone()
	trimmed.Version = 3
	assert.ErrorIs(t, repo.UpdateDefinition(ctx, trimmed, 2, []string{"open"}), storage.ErrInUse)
	assert.ErrorIs(t, repo.DeleteDefinition(ctx, tenant, def.ID), storage.ErrInUse)
	require.NoError(t, repo.UpdateDefinition(ctx, trimmed, 2, []string{"done"}))
	assert.ErrorIs(t, repo.SaveTransition(ctx, moved, step, 1, 2), storage.ErrDefinitionChanged)
	require.NoError(t, repo.SaveTransition(ctx, moved, step, 1, 3))

	_, err = repo.DeleteInstancesByTask(ctx, tenant, "task-1")
	require.NoError(t, err)
	require.NoError(t, repo.DeleteDefinition(ctx, tenant, def.ID))
	assert.ErrorIs(t, repo.DeleteDefinition(ctx, tenant, def.ID), storage.ErrNotFound)
}

func workflowInstanceContract(t *testing.T, repo workflow.Repository) {
	ctx := context.Background()
	tenant := newTenant()
	def := sampleWorkflow(tenant)
	require.NoError(t, repo.CreateDefinition(ctx, def))

	inst := openInstance(def, "task-1")
	require.NoError(t, repo.CreateInstance(ctx, inst, 1))
	assert.Equal(t, 1, inst.Seq)

	dup := inst.Clone()
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repo.CreateInstance(ctx, dup, 1), storage.ErrDuplicateActive)

	sameID := inst.Clone()
	sameID.TaskID = "task-other"
	assert.ErrorIs(t, repo.CreateInstance(ctx, sameID, 1), storage.ErrAlreadyExists)

	active, err := repo.GetActiveInstance(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, active.ID)
	require.Len(t, active.History, 1)
	assert.Equal(t, "open", active.History[0].ToStageID)

	_, err = repo.GetActiveInstance(ctx, newTenant(), "task-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 推进一步
	step := workflow.Transition{FromStageID: "open", ToStageID: "in_progress", ActorID: "u2", At: t0.Add(time.Minute)}
	next := active.Clone()
	next.CurrentStageID = "in_progress"
	next.History = append(next.History, step)
	next.Version = 2
	require.NoError(t, repo.SaveTransition(ctx, next, step, 1, 1))
	assert.ErrorIs(t, repo.SaveTransition(ctx, next, step, 1, 1), storage.ErrVersionConflict)

	ghost := next.Clone()
	ghost.ID = uuid.NewString()
	assert.ErrorIs(t, repo.SaveTransition(ctx, ghost, step, 1, 1), storage.ErrNotFound)

	byDef, err := repo.ListActiveInstancesByDefinition(ctx, tenant, def.ID)
	require.NoError(t, err)
	require.Len(t, byDef, 1)
	assert.Equal(t, 2, byDef[0].Version)

	// 完成后不再是活跃实例，允许再次启动
	done := workflow.Transition{FromStageID: "in_progress", ToStageID: "done", ActorID: "u2", At: t0.Add(2 * time.Minute)}
	final := next.Clone()
	final.CurrentStageID = "done"
	final.History = append(final.History, done)
	completed := done.At
	final.CompletedAt = &completed
	final.Version = 3
	require.NoError(t, repo.SaveTransition(ctx, final, done, 2, 1))

	_, err = repo.GetActiveInstance(ctx, tenant, "task-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	latest, err := repo.GetLatestInstance(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "done", latest.CurrentStageID)
	require.NotNil(t, latest.CompletedAt)
	assert.WithinDuration(t, completed, *latest.CompletedAt, 0)
	require.Len(t, latest.History, 3)
	assert.Equal(t, []string{"open", "in_progress", "done"},
		[]string{latest.History[0].ToStageID, latest.History[1].ToStageID, latest.History[2].ToStageID})

	assert.Equal(t, 1, latest.Seq)

	// 同一时刻重新启动，仍以启动序号区分先后
	restart := inst.Clone()
	restart.ID = uuid.NewString()
	require.Equal(t, inst.StartedAt, restart.StartedAt)
	require.NoError(t, repo.CreateInstance(ctx, restart, 1))
	assert.Equal(t, 2, restart.Seq)

	latest, err = repo.GetLatestInstance(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Equal(t, restart.ID, latest.ID)
	assert.Equal(t, 2, latest.Seq)

	n, err := repo.DeleteInstancesByTask(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = repo.GetLatestInstance(ctx, tenant, "task-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func slaDefinitionContract(t *testing.T, repo sla.Repository) {
	ctx := context.Background()
	tenant := newTenant()

	def := &sla.Definition{
		ID:        uuid.NewString(),
		TenantID:  tenant,
		Name:      "Urgent response",
		SLAType:   "response",
		TimeLimit: 90 * time.Minute,
		AppliesTo: sla.AppliesTo{Priorities: []string{"urgent"}},
		Active:    true,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	require.NoError(t, repo.CreateDefinition(ctx, def))
	assert.ErrorIs(t, repo.CreateDefinition(ctx, def), storage.ErrAlreadyExists)

	got, err := repo.GetDefinition(ctx, tenant, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, got.TimeLimit)
	assert.Equal(t, []string{"urgent"}, got.AppliesTo.Priorities)
	assert.Empty(t, got.AppliesTo.Categories)

	inactive := &sla.Definition{
		ID: uuid.NewString(), TenantID: tenant, Name: "Retired", TimeLimit: time.Hour,
		CreatedAt: t0.Add(time.Second), UpdatedAt: t0,
	}
	require.NoError(t, repo.CreateDefinition(ctx, inactive))

	all, err := repo.ListDefinitions(ctx, tenant, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	activeOnly, err := repo.ListDefinitions(ctx, tenant, true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, def.ID, activeOnly[0].ID)

	changed := def.Clone()
	changed.TimeLimit = 2 * time.Hour
	require.NoError(t, repo.UpdateDefinition(ctx, changed))
	got, err = repo.GetDefinition(ctx, tenant, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, got.TimeLimit)
}

func slaInstanceContract(t *testing.T, repo sla.Repository) {
	ctx := context.Background()
	tenant := newTenant()
	defID := uuid.NewString()

	inst := &sla.Instance{
		ID:           uuid.NewString(),
		TenantID:     tenant,
		DefinitionID: defID,
		TaskID:       "task-1",
		Status:       sla.StatusActive,
		StartedAt:    t0,
		Deadline:     t0.Add(4 * time.Hour),
		Version:      1,
	}
	require.NoError(t, repo.CreateInstance(ctx, inst))

	dup := inst.Clone()
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repo.CreateInstance(ctx, dup), storage.ErrDuplicateActive)

	open, err := repo.FindOpenInstance(ctx, tenant, "task-1", defID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, open.ID)
	_, err = repo.FindOpenInstance(ctx, tenant, "task-1", "other-def")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 暂停
	pausedAt := t0.Add(time.Hour)
	paused := open.Clone()
	paused.Status = sla.StatusPaused
	paused.PausedAt = &pausedAt
	paused.Version = 2
	require.NoError(t, repo.UpdateInstance(ctx, paused, 1))
	assert.ErrorIs(t, repo.UpdateInstance(ctx, paused, 1), storage.ErrVersionConflict)

	foreign := paused.Clone()
	foreign.TenantID = newTenant()
	assert.ErrorIs(t, repo.UpdateInstance(ctx, foreign, 2), storage.ErrNotFound)

	got, err := repo.GetInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.StatusPaused, got.Status)
	require.NotNil(t, got.PausedAt)
	assert.WithinDuration(t, pausedAt, *got.PausedAt, 0)

	_, err = repo.GetInstance(ctx, newTenant(), inst.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 恢复并累计暂停时长
	resumed := got.Clone()
	resumed.Status = sla.StatusActive
	resumed.PausedAt = nil
	resumed.AccumulatedPaused = 2 * time.Hour
	resumed.Version = 3
	require.NoError(t, repo.UpdateInstance(ctx, resumed, 2))

	got, err = repo.GetInstance(ctx, tenant, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PausedAt)
	assert.Equal(t, 2*time.Hour, got.AccumulatedPaused)
	assert.Equal(t, 3, got.Version)

	// 候选按名义截止时间过滤
	candidates, err := repo.ListBreachCandidates(ctx, tenant, t0.Add(4*time.Hour-time.Second))
	require.NoError(t, err)
	assert.Empty(t, candidates)
	candidates, err = repo.ListBreachCandidates(ctx, tenant, t0.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, inst.ID, candidates[0].ID)

	tenants, err := repo.ListTenantsWithOpenInstances(ctx)
	require.NoError(t, err)
	assert.Contains(t, tenants, tenant)

	// 超时后退出候选集，并允许同一(任务, 定义)再次计时
	breachedAt := t0.Add(7 * time.Hour)
	breached := got.Clone()
	breached.Status = sla.StatusBreached
	breached.BreachedAt = &breachedAt
	breached.Version = 4
	require.NoError(t, repo.UpdateInstance(ctx, breached, 3))

	candidates, err = repo.ListBreachCandidates(ctx, tenant, t0.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candidates)
	tenants, err = repo.ListTenantsWithOpenInstances(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tenants, tenant)

	again := inst.Clone()
	again.ID = uuid.NewString()
	again.StartedAt = t0.Add(8 * time.Hour)
	again.Deadline = t0.Add(12 * time.Hour)
	require.NoError(t, repo.CreateInstance(ctx, again))

	list, err := repo.ListInstancesByTask(ctx, tenant, "task-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, inst.ID, list[0].ID)
	assert.Equal(t, sla.StatusBreached, list[0].Status)
	assert.Equal(t, again.ID, list[1].ID)

	n, err := repo.DeleteInstancesByTask(ctx, tenant, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
