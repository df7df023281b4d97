package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LENAX/task-lifecycle/pkg/core/automation"
	"github.com/LENAX/task-lifecycle/pkg/core/clock"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
	"github.com/LENAX/task-lifecycle/pkg/metrics"
	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// Engine SLA引擎（对外导出）
// 所有状态修改都是"读取-校验-版本比对写入"，竞争失败返回Conflict。
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

// NewEngine 创建SLA引擎
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

// Snapshot 实例在某一时刻的计时视图
type Snapshot struct {
	Instance          *Instance     `json:"instance"`
	EffectiveDeadline time.Time     `json:"effective_deadline"`
	Remaining         time.Duration `json:"remaining"`
	Breached          bool          `json:"breached"`
}

// Snapshot 以当前时钟计算剩余时间
func (e *Engine) Snapshot(inst *Instance) Snapshot {
	now := e.clock.Now()
	return Snapshot{
		Instance:          inst,
		EffectiveDeadline: inst.EffectiveDeadline(),
		Remaining:         inst.Remaining(now),
		Breached:          inst.Status == StatusBreached || inst.Breached(now),
	}
}

// CreateDefinition 创建SLA定义
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
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := e.repo.CreateDefinition(ctx, def); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, errs.Conflict("definition_exists", "sla definition %s already exists", def.ID)
		}
		return nil, fmt.Errorf("保存SLA定义失败: %w", err)
	}
	e.logger.Info("[SLA引擎] 已创建SLA定义",
		zap.String("tenant_id", tenantID), zap.String("definition_id", def.ID), zap.Duration("time_limit", def.TimeLimit))
	return def, nil
}

// UpdateDefinition 更新SLA定义，已启动的计时不受影响
func (e *Engine) UpdateDefinition(ctx context.Context, tenantID string, def *Definition) (*Definition, error) {
	existing, err := e.loadDefinition(ctx, tenantID, def.ID)
	if err != nil {
		return nil, err
	}
	next := def.Clone()
	next.TenantID = tenantID
	next.CreatedAt = existing.CreatedAt
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = e.clock.Now()
	if err := e.repo.UpdateDefinition(ctx, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("sla definition %s not found", def.ID)
		}
		return nil, fmt.Errorf("更新SLA定义失败: %w", err)
	}
	return next, nil
}

// GetDefinition 获取SLA定义
func (e *Engine) GetDefinition(ctx context.Context, tenantID, id string) (*Definition, error) {
	return e.loadDefinition(ctx, tenantID, id)
}

// ListDefinitions 列出租户的SLA定义
func (e *Engine) ListDefinitions(ctx context.Context, tenantID string) ([]*Definition, error) {
	defs, err := e.repo.ListDefinitions(ctx, tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("查询SLA定义失败: %w", err)
	}
	return defs, nil
}

// StartSLAForTask 为任务启动SLA计时
// 同一(任务, 定义)已有active或paused实例时返回Validation("duplicate_active_timer")。
func (e *Engine) StartSLAForTask(ctx context.Context, tenantID, taskID, definitionID string) (*Instance, error) {
	if tenantID == "" || taskID == "" {
		return nil, errs.Validation("missing_field", "tenant id and task id are required")
	}
	def, err := e.loadDefinition(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, errs.Validation("definition_inactive", "sla definition %s is disabled", def.ID)
	}
	if err := e.requireTask(ctx, tenantID, taskID); err != nil {
		return nil, err
	}
	return e.start(ctx, def, taskID)
}

// StartApplicableSLAs 启动所有命中任务属性的有效SLA定义
// 已在计时的(任务, 定义)会被跳过。
func (e *Engine) StartApplicableSLAs(ctx context.Context, tenantID, taskID string, attrs types.TaskAttributes) ([]*Instance, error) {
	if tenantID == "" || taskID == "" {
		return nil, errs.Validation("missing_field", "tenant id and task id are required")
	}
	if err := e.requireTask(ctx, tenantID, taskID); err != nil {
		return nil, err
	}
	defs, err := e.repo.ListDefinitions(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("查询SLA定义失败: %w", err)
	}

	started := make([]*Instance, 0, len(defs))
	for _, def := range defs {
		if def.TenantID != tenantID || !def.Active || !def.AppliesTo.Matches(attrs) {
			continue
		}
		inst, err := e.start(ctx, def, taskID)
		if err != nil {
			if errs.RuleOf(err) == "duplicate_active_timer" {
				continue
			}
			return started, err
		}
		started = append(started, inst)
	}
	return started, nil
}

func (e *Engine) start(ctx context.Context, def *Definition, taskID string) (*Instance, error) {
	if _, err := e.repo.FindOpenInstance(ctx, def.TenantID, taskID, def.ID); err == nil {
		return nil, errs.Validation("duplicate_active_timer", "task %s already has a running %s timer", taskID, def.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("查询SLA实例失败: %w", err)
	}

	now := e.clock.Now()
	inst := &Instance{
		ID:           uuid.NewString(),
		TenantID:     def.TenantID,
		DefinitionID: def.ID,
		TaskID:       taskID,
		Status:       StatusActive,
		StartedAt:    now,
		Deadline:     now.Add(def.TimeLimit),
		Version:      1,
	}
	if err := e.repo.CreateInstance(ctx, inst); err != nil {
		if errors.Is(err, storage.ErrDuplicateActive) {
			return nil, errs.Validation("duplicate_active_timer", "task %s already has a running %s timer", taskID, def.ID)
		}
		return nil, fmt.Errorf("创建SLA实例失败: %w", err)
	}

	e.logger.Info("[SLA引擎] 计时已启动",
		zap.String("tenant_id", inst.TenantID), zap.String("task_id", taskID),
		zap.String("instance_id", inst.ID), zap.Time("deadline", inst.Deadline))
	e.metrics.SLATransition(string(StatusActive))
	e.fire(ctx, automation.EventSLAStarted, inst)
	return inst, nil
}

// GetTaskSLAs 返回任务的全部SLA实例
func (e *Engine) GetTaskSLAs(ctx context.Context, tenantID, taskID string) ([]*Instance, error) {
	list, err := e.repo.ListInstancesByTask(ctx, tenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("查询SLA实例失败: %w", err)
	}
	owned := list[:0]
	for _, inst := range list {
		if inst.TenantID == tenantID {
			owned = append(owned, inst)
		}
	}
	return owned, nil
}

// GetInstance 获取SLA实例
func (e *Engine) GetInstance(ctx context.Context, tenantID, id string) (*Instance, error) {
	inst, err := e.repo.GetInstance(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("sla instance %s not found", id)
		}
		return nil, fmt.Errorf("查询SLA实例失败: %w", err)
	}
	if inst.TenantID != tenantID {
		return nil, errs.NotFound("sla instance %s not found", id)
	}
	return inst, nil
}

// PauseSLAInstance 暂停计时，仅active可暂停
func (e *Engine) PauseSLAInstance(ctx context.Context, tenantID, id string) (*Instance, error) {
	return e.mutate(ctx, tenantID, id, StatusPaused, (*Instance).pause)
}

// ResumeSLAInstance 恢复计时，并把本次暂停时长累计进AccumulatedPaused
func (e *Engine) ResumeSLAInstance(ctx context.Context, tenantID, id string) (*Instance, error) {
	return e.mutate(ctx, tenantID, id, StatusActive, (*Instance).resume)
}

// ResolveSLAInstance 标记为已解决
func (e *Engine) ResolveSLAInstance(ctx context.Context, tenantID, id string) (*Instance, error) {
	inst, err := e.mutate(ctx, tenantID, id, StatusResolved, (*Instance).resolve)
	if err != nil {
		return nil, err
	}
	e.fire(ctx, automation.EventSLAResolved, inst)
	return inst, nil
}

// DeleteTaskInstances 任务删除时级联删除其SLA实例
func (e *Engine) DeleteTaskInstances(ctx context.Context, tenantID, taskID string) (int, error) {
	n, err := e.repo.DeleteInstancesByTask(ctx, tenantID, taskID)
	if err != nil {
		return 0, fmt.Errorf("删除SLA实例失败: %w", err)
	}
	return n, nil
}

func (e *Engine) mutate(ctx context.Context, tenantID, id string, target Status, apply func(*Instance, time.Time) error) (*Instance, error) {
	current, err := e.GetInstance(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := apply(next, e.clock.Now()); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1

	if err := e.repo.UpdateInstance(ctx, next, current.Version); err != nil {
		switch {
		case errors.Is(err, storage.ErrVersionConflict):
			return nil, errs.Conflict("version_conflict", "sla instance %s was changed concurrently", id)
		case errors.Is(err, storage.ErrNotFound):
			return nil, errs.NotFound("sla instance %s not found", id)
		}
		return nil, fmt.Errorf("更新SLA实例失败: %w", err)
	}

	e.logger.Info("[SLA引擎] 状态已变更",
		zap.String("tenant_id", tenantID), zap.String("instance_id", id),
		zap.String("from", string(current.Status)), zap.String("to", string(target)))
	e.metrics.SLATransition(string(target))
	return next, nil
}

func (e *Engine) loadDefinition(ctx context.Context, tenantID, id string) (*Definition, error) {
	if id == "" {
		return nil, errs.Validation("missing_field", "sla definition id is required")
	}
	def, err := e.repo.GetDefinition(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("sla definition %s not found", id)
		}
		return nil, fmt.Errorf("查询SLA定义失败: %w", err)
	}
	if def.TenantID != tenantID {
		return nil, errs.NotFound("sla definition %s not found", id)
	}
	return def, nil
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

func (e *Engine) fire(ctx context.Context, event automation.TriggerEvent, inst *Instance) {
	automation.Fire(ctx, e.sink, e.logger, instanceEvent(event, inst, e.clock.Now()))
}

func instanceEvent(event automation.TriggerEvent, inst *Instance, now time.Time) automation.Event {
	ev := automation.NewEvent(event, inst.TenantID, inst.TaskID, now)
	ev.InstanceID = inst.ID
	ev.DefinitionID = inst.DefinitionID
	ev.Data["status"] = string(inst.Status)
	ev.Data["deadline"] = inst.Deadline
	ev.Data["effective_deadline"] = inst.EffectiveDeadline()
	return ev
}
