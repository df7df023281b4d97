package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LENAX/task-lifecycle/pkg/core/automation"
	"github.com/LENAX/task-lifecycle/pkg/core/clock"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
	"github.com/LENAX/task-lifecycle/pkg/metrics"
	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// Engine 工作流引擎（对外导出）
// 每次调用都从Repository重新读取实例，不在进程内缓存任何实例状态。
type Engine struct {
	repo    Repository
	tasks   types.TaskStore
	clock   clock.Clock
	sink    automation.Sink
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option 引擎配置项
type Option func(*Engine)

// WithClock 设置时钟
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSink 设置自动化事件出口
func WithSink(s automation.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine 创建工作流引擎
func NewEngine(repo Repository, tasks types.TaskStore, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		tasks:  tasks,
		clock:  clock.System{},
		sink:   automation.NoopSink{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateDefinition 创建工作流定义
func (e *Engine) CreateDefinition(ctx context.Context, tenantID string, def *Definition) (*Definition, error) {
	if tenantID == "" {
		return nil, errs.Validation("missing_tenant", "tenant id is required")
	}
	def = def.Clone()
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.TenantID = tenantID
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	def.Version = 1
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := e.repo.CreateDefinition(ctx, def); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, errs.Conflict("definition_exists", "workflow definition %s already exists", def.ID)
		}
		return nil, fmt.Errorf("保存工作流定义失败: %w", err)
	}
	e.logger.Info("[工作流引擎] 已创建工作流定义",
		zap.String("tenant_id", tenantID), zap.String("definition_id", def.ID), zap.Int("stages", len(def.Stages)))
	return def, nil
}

// UpdateDefinition 更新工作流定义
// 删除仍被活跃实例停留的阶段会被拒绝。def.Version 非0时必须等于当前版本。
func (e *Engine) UpdateDefinition(ctx context.Context, tenantID string, def *Definition) (*Definition, error) {
	existing, err := e.loadDefinition(ctx, tenantID, def.ID)
	if err != nil {
		return nil, err
	}
	if def.Version != 0 && def.Version != existing.Version {
		return nil, errs.Conflict("version_conflict",
			"workflow definition %s is at version %d, not %d", def.ID, existing.Version, def.Version)
	}

	next := def.Clone()
	next.TenantID = tenantID
	next.CreatedAt = existing.CreatedAt
	if err := next.Validate(); err != nil {
		return nil, err
	}

	removed := RemovedStageIDs(existing, next)
	if len(removed) > 0 {
		active, err := e.repo.ListActiveInstancesByDefinition(ctx, tenantID, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("查询活跃实例失败: %w", err)
		}
		gone := make(map[string]struct{}, len(removed))
		for _, id := range removed {
			gone[id] = struct{}{}
		}
		for _, inst := range active {
			if _, hit := gone[inst.CurrentStageID]; hit {
				return nil, errs.Validation("stage_in_use",
					"stage %q cannot be removed: task %s is currently in it", inst.CurrentStageID, inst.TaskID)
			}
		}
	}

	// 存储在写入时重新检查版本与阶段占用，与并发的推进互斥
	next.Version = existing.Version + 1
	next.UpdatedAt = e.clock.Now()
	if err := e.repo.UpdateDefinition(ctx, next, existing.Version, removed); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, errs.NotFound("workflow definition %s not found", def.ID)
		case errors.Is(err, storage.ErrVersionConflict):
			return nil, errs.Conflict("version_conflict", "workflow definition %s was changed concurrently", def.ID)
		case errors.Is(err, storage.ErrInUse):
			return nil, errs.Validation("stage_in_use",
				"stages %v cannot be removed: an active workflow is in one of them", removed)
		}
		return nil, fmt.Errorf("更新工作流定义失败: %w", err)
	}
	e.logger.Info("[工作流引擎] 已更新工作流定义",
		zap.String("tenant_id", tenantID), zap.String("definition_id", next.ID), zap.Int("version", next.Version))
	return next, nil
}

// DeleteDefinition 删除工作流定义，仍有活跃实例时拒绝
func (e *Engine) DeleteDefinition(ctx context.Context, tenantID, id string) error {
	def, err := e.loadDefinition(ctx, tenantID, id)
	if err != nil {
		return err
	}
	active, err := e.repo.ListActiveInstancesByDefinition(ctx, tenantID, def.ID)
	if err != nil {
		return fmt.Errorf("查询活跃实例失败: %w", err)
	}
	if len(active) > 0 {
		return errs.Validation("definition_in_use", "workflow definition %s has %d active instances", id, len(active))
	}
	if err := e.repo.DeleteDefinition(ctx, tenantID, id); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return errs.NotFound("workflow definition %s not found", id)
		case errors.Is(err, storage.ErrInUse):
			return errs.Validation("definition_in_use", "workflow definition %s has active instances", id)
		}
		return fmt.Errorf("删除工作流定义失败: %w", err)
	}
	return nil
}

// GetDefinition 获取工作流定义
func (e *Engine) GetDefinition(ctx context.Context, tenantID, id string) (*Definition, error) {
	return e.loadDefinition(ctx, tenantID, id)
}

// ListDefinitions 列出租户的工作流定义
func (e *Engine) ListDefinitions(ctx context.Context, tenantID string) ([]*Definition, error) {
	defs, err := e.repo.ListDefinitions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询工作流定义失败: %w", err)
	}
	return defs, nil
}

// StartWorkflow 为任务启动工作流
// 任务已有任意定义下的活跃实例时返回Conflict。
func (e *Engine) StartWorkflow(ctx context.Context, tenantID, taskID, definitionID, actorID string) (*Instance, error) {
	if tenantID == "" || taskID == "" {
		return nil, errs.Validation("missing_field", "tenant id and task id are required")
	}
	def, err := e.loadDefinition(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, errs.Validation("definition_inactive", "workflow definition %s is disabled", def.ID)
	}
	if err := e.requireTask(ctx, tenantID, taskID); err != nil {
		return nil, err
	}

	if _, err := e.repo.GetActiveInstance(ctx, tenantID, taskID); err == nil {
		return nil, errs.Conflict("duplicate_active_workflow", "task %s already has an active workflow", taskID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("查询活跃实例失败: %w", err)
	}

	now := e.clock.Now()
	initial := def.InitialStage()
	inst := &Instance{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		DefinitionID:   def.ID,
		TaskID:         taskID,
		CurrentStageID: initial.ID,
		History:        []Transition{{ToStageID: initial.ID, ActorID: actorID, At: now}},
		StartedAt:      now,
		Version:        1,
	}
	// 单阶段的定义启动即完成
	if initial.IsTerminal() {
		inst.CompletedAt = &now
	}

	if err := e.repo.CreateInstance(ctx, inst, def.Version); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateActive):
			return nil, errs.Conflict("duplicate_active_workflow", "task %s already has an active workflow", taskID)
		case errors.Is(err, storage.ErrDefinitionChanged):
			return nil, errs.Conflict("definition_changed", "workflow definition %s was changed concurrently", def.ID)
		}
		return nil, fmt.Errorf("创建工作流实例失败: %w", err)
	}

	e.logger.Info("[工作流引擎] 工作流已启动",
		zap.String("tenant_id", tenantID), zap.String("task_id", taskID),
		zap.String("instance_id", inst.ID), zap.String("stage", initial.ID))
	e.metrics.WorkflowEvent(string(automation.EventWorkflowStarted))
	e.fire(ctx, automation.EventWorkflowStarted, inst, actorID, nil)
	if inst.CompletedAt != nil {
		e.metrics.WorkflowEvent(string(automation.EventWorkflowCompleted))
		e.fire(ctx, automation.EventWorkflowCompleted, inst, actorID, nil)
	}
	return inst, nil
}

// AdvanceWorkflow 推进任务的活跃工作流到nextStageID
// 目标阶段必须在当前阶段的AllowedNext中，否则返回Validation("invalid_transition")。
func (e *Engine) AdvanceWorkflow(ctx context.Context, tenantID, taskID, nextStageID, actorID string) (*Instance, error) {
	inst, err := e.loadActive(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	def, err := e.loadDefinition(ctx, tenantID, inst.DefinitionID)
	if err != nil {
		return nil, err
	}

	current, ok := def.Stage(inst.CurrentStageID)
	if !ok {
		return nil, errs.Validation("unknown_stage_reference", "current stage %q is no longer declared", inst.CurrentStageID)
	}
	if !current.Allows(nextStageID) {
		return nil, errs.Validation("invalid_transition", "stage %q is not an allowed successor of %q", nextStageID, current.ID)
	}
	target, _ := def.Stage(nextStageID)

	now := e.clock.Now()
	record := Transition{FromStageID: current.ID, ToStageID: target.ID, ActorID: actorID, At: now}
	next := inst.Clone()
	next.CurrentStageID = target.ID
	next.History = append(next.History, record)
	if target.IsTerminal() {
		next.CompletedAt = &now
	}
	next.Version = inst.Version + 1

	if err := e.repo.SaveTransition(ctx, next, record, inst.Version, def.Version); err != nil {
		switch {
		case errors.Is(err, storage.ErrVersionConflict):
			return nil, errs.Conflict("version_conflict", "workflow for task %s was changed concurrently", taskID)
		case errors.Is(err, storage.ErrDefinitionChanged):
			return nil, errs.Conflict("definition_changed", "workflow definition %s was changed during the advance", def.ID)
		case errors.Is(err, storage.ErrNotFound):
			return nil, errs.NotFound("no active workflow for task %s", taskID)
		}
		return nil, fmt.Errorf("保存阶段转换失败: %w", err)
	}

	e.logger.Info("[工作流引擎] 阶段已推进",
		zap.String("tenant_id", tenantID), zap.String("task_id", taskID),
		zap.String("from", current.ID), zap.String("to", target.ID), zap.String("actor_id", actorID))
	e.metrics.WorkflowEvent(string(automation.EventWorkflowAdvanced))
	e.fire(ctx, automation.EventWorkflowAdvanced, next, actorID, map[string]interface{}{
		"from_stage": current.ID,
		"to_stage":   target.ID,
	})
	if next.CompletedAt != nil {
		e.metrics.WorkflowEvent(string(automation.EventWorkflowCompleted))
		e.fire(ctx, automation.EventWorkflowCompleted, next, actorID, map[string]interface{}{"final_stage": target.ID})
	}
	return next, nil
}

// GetWorkflowInstance 返回任务的活跃实例；没有活跃实例时返回最近完成的实例
func (e *Engine) GetWorkflowInstance(ctx context.Context, tenantID, taskID string) (*Instance, error) {
	inst, err := e.repo.GetActiveInstance(ctx, tenantID, taskID)
	if err == nil {
		return e.ownedInstance(inst, tenantID, taskID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("查询工作流实例失败: %w", err)
	}
	inst, err = e.repo.GetLatestInstance(ctx, tenantID, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("no workflow for task %s", taskID)
		}
		return nil, fmt.Errorf("查询工作流实例失败: %w", err)
	}
	return e.ownedInstance(inst, tenantID, taskID)
}

// GetAvailableTransitions 返回当前阶段的后继阶段，终止或无实例时返回空列表
func (e *Engine) GetAvailableTransitions(ctx context.Context, tenantID, taskID string) ([]string, error) {
	inst, err := e.loadActive(ctx, tenantID, taskID)
	if err != nil {
		if errs.IsNotFound(err) {
			return []string{}, nil
		}
		return nil, err
	}
	def, err := e.loadDefinition(ctx, tenantID, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	current, ok := def.Stage(inst.CurrentStageID)
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, current.AllowedNext...), nil
}

// DeleteTaskInstances 任务删除时级联删除其工作流实例
func (e *Engine) DeleteTaskInstances(ctx context.Context, tenantID, taskID string) (int, error) {
	n, err := e.repo.DeleteInstancesByTask(ctx, tenantID, taskID)
	if err != nil {
		return 0, fmt.Errorf("删除工作流实例失败: %w", err)
	}
	return n, nil
}

func (e *Engine) loadDefinition(ctx context.Context, tenantID, id string) (*Definition, error) {
	if id == "" {
		return nil, errs.Validation("missing_field", "workflow definition id is required")
	}
	def, err := e.repo.GetDefinition(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("workflow definition %s not found", id)
		}
		return nil, fmt.Errorf("查询工作流定义失败: %w", err)
	}
	// 跨租户记录与不存在返回相同错误
	if def.TenantID != tenantID {
		return nil, errs.NotFound("workflow definition %s not found", id)
	}
	return def, nil
}

func (e *Engine) loadActive(ctx context.Context, tenantID, taskID string) (*Instance, error) {
	inst, err := e.repo.GetActiveInstance(ctx, tenantID, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("no active workflow for task %s", taskID)
		}
		return nil, fmt.Errorf("查询工作流实例失败: %w", err)
	}
	return e.ownedInstance(inst, tenantID, taskID)
}

func (e *Engine) ownedInstance(inst *Instance, tenantID, taskID string) (*Instance, error) {
	if inst.TenantID != tenantID {
		return nil, errs.NotFound("no workflow for task %s", taskID)
	}
	return inst, nil
}

func (e *Engine) requireTask(ctx context.Context, tenantID, taskID string) error {
	if e.tasks == nil {
		return nil
	}
	ok, err := e.tasks.TaskExists(ctx, tenantID, taskID)
	if err != nil {
		return fmt.Errorf("检查任务失败: %w", err)
	}
	if !ok {
		return errs.NotFound("task %s not found", taskID)
	}
	return nil
}

func (e *Engine) fire(ctx context.Context, event automation.TriggerEvent, inst *Instance, actorID string, data map[string]interface{}) {
	ev := automation.NewEvent(event, inst.TenantID, inst.TaskID, e.clock.Now())
	ev.InstanceID = inst.ID
	ev.DefinitionID = inst.DefinitionID
	ev.ActorID = actorID
	ev.Data["stage"] = inst.CurrentStageID
	for k, v := range data {
		ev.Data[k] = v
	}
	automation.Fire(ctx, e.sink, e.logger, ev)
}
