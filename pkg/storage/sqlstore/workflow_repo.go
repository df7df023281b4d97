package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
	"github.com/LENAX/task-lifecycle/pkg/storage"
	"github.com/LENAX/task-lifecycle/pkg/storage/dao"
)

const (
	workflowDefinitionColumns = "id, tenant_id, name, description, stages, initial_stage_id, board_id, active, version, created_at, updated_at"
	workflowInstanceColumns   = "id, tenant_id, definition_id, task_id, current_stage_id, active_key, started_at, completed_at, version, seq"
)

// WorkflowRepo 工作流Repository的SQL实现（对外导出）
type WorkflowRepo struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

var _ workflow.Repository = (*WorkflowRepo)(nil)

// CreateDefinition 新增工作流定义
func (r *WorkflowRepo) CreateDefinition(ctx context.Context, def *workflow.Definition) error {
	row, err := workflowDefinitionToDAO(def)
	if err != nil {
		return err
	}
	query := `INSERT INTO workflow_definition (` + workflowDefinitionColumns + `)
		VALUES (:id, :tenant_id, :name, :description, :stages, :initial_stage_id, :board_id, :active, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("保存工作流定义失败: %w", err)
	}
	return nil
}

// UpdateDefinition 版本比对覆盖工作流定义
// 定义行加排他锁后检查被移除阶段是否仍有活跃实例，推进与启动持有同一行的共享锁。
func (r *WorkflowRepo) UpdateDefinition(ctx context.Context, def *workflow.Definition, expectedVersion int, removedStages []string) error {
	row, err := workflowDefinitionToDAO(def)
	if err != nil {
		return err
	}
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		version, err := r.definitionVersion(ctx, tx, def.TenantID, def.ID, r.dialect.LockExclusive())
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return storage.ErrVersionConflict
		}
		if len(removedStages) > 0 {
			busy, err := r.hasActiveInstance(ctx, tx, def.TenantID, def.ID, removedStages)
			if err != nil {
				return err
			}
			if busy {
				return storage.ErrInUse
			}
		}
		query := `UPDATE workflow_definition SET name = :name, description = :description, stages = :stages,
			initial_stage_id = :initial_stage_id, board_id = :board_id, active = :active, version = :version, updated_at = :updated_at
			WHERE id = :id AND tenant_id = :tenant_id`
		res, err := tx.NamedExecContext(ctx, query, row)
		if err != nil {
			return fmt.Errorf("更新工作流定义失败: %w", err)
		}
		return expectOneRow(res)
	})
}

// GetDefinition 获取工作流定义
func (r *WorkflowRepo) GetDefinition(ctx context.Context, tenantID, id string) (*workflow.Definition, error) {
	var row dao.WorkflowDefinitionDAO
	query := r.db.Rebind(`SELECT ` + workflowDefinitionColumns + ` FROM workflow_definition WHERE id = ? AND tenant_id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("查询工作流定义失败: %w", err)
	}
	return workflowDefinitionFromDAO(&row)
}

// ListDefinitions 列出租户的工作流定义
func (r *WorkflowRepo) ListDefinitions(ctx context.Context, tenantID string) ([]*workflow.Definition, error) {
	var rows []dao.WorkflowDefinitionDAO
	query := r.db.Rebind(`SELECT ` + workflowDefinitionColumns + ` FROM workflow_definition WHERE tenant_id = ? ORDER BY created_at, id`)
	if err := r.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, fmt.Errorf("查询工作流定义列表失败: %w", err)
	}
	out := make([]*workflow.Definition, 0, len(rows))
	for i := range rows {
		def, err := workflowDefinitionFromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// DeleteDefinition 删除工作流定义，已完成实例保留
func (r *WorkflowRepo) DeleteDefinition(ctx context.Context, tenantID, id string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := r.definitionVersion(ctx, tx, tenantID, id, r.dialect.LockExclusive()); err != nil {
			return err
		}
		busy, err := r.hasActiveInstance(ctx, tx, tenantID, id, nil)
		if err != nil {
			return err
		}
		if busy {
			return storage.ErrInUse
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM workflow_definition WHERE id = ? AND tenant_id = ?`), id, tenantID)
		if err != nil {
			return fmt.Errorf("删除工作流定义失败: %w", err)
		}
		return expectOneRow(res)
	})
}

// CreateInstance 新增实例并写入初始历史，分配任务内的启动序号
func (r *WorkflowRepo) CreateInstance(ctx context.Context, inst *workflow.Instance, definitionVersion int) error {
	row := workflowInstanceToDAO(inst)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := r.checkDefinition(ctx, tx, inst.TenantID, inst.DefinitionID, definitionVersion); err != nil {
			return err
		}
		var last int
		seqQuery := tx.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM workflow_instance WHERE tenant_id = ? AND task_id = ?`)
		if err := tx.GetContext(ctx, &last, seqQuery, inst.TenantID, inst.TaskID); err != nil {
			return fmt.Errorf("查询实例序号失败: %w", err)
		}
		row.Seq = last + 1

		query := `INSERT INTO workflow_instance (` + workflowInstanceColumns + `)
			VALUES (:id, :tenant_id, :definition_id, :task_id, :current_stage_id, :active_key, :started_at, :completed_at, :version, :seq)`
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return err
		}
		for seq, t := range inst.History {
			if err := insertTransition(ctx, tx, inst, seq, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		inst.Seq = row.Seq
		return nil
	}
	if errors.Is(err, storage.ErrDefinitionChanged) {
		return err
	}
	if r.dialect.IsUniqueViolation(err) {
		exists, lookupErr := r.instanceExists(ctx, inst.ID)
		if lookupErr != nil {
			return lookupErr
		}
		if exists {
			return storage.ErrAlreadyExists
		}
		return storage.ErrDuplicateActive
	}
	return fmt.Errorf("创建工作流实例失败: %w", err)
}

// GetActiveInstance 返回任务当前未完成的实例
func (r *WorkflowRepo) GetActiveInstance(ctx context.Context, tenantID, taskID string) (*workflow.Instance, error) {
	query := `SELECT ` + workflowInstanceColumns + ` FROM workflow_instance
		WHERE tenant_id = ? AND task_id = ? AND active_key IS NOT NULL`
	return r.getInstance(ctx, query, tenantID, taskID)
}

// GetLatestInstance 返回任务启动序号最大的实例
func (r *WorkflowRepo) GetLatestInstance(ctx context.Context, tenantID, taskID string) (*workflow.Instance, error) {
	query := `SELECT ` + workflowInstanceColumns + ` FROM workflow_instance
		WHERE tenant_id = ? AND task_id = ? ORDER BY seq DESC LIMIT 1`
	return r.getInstance(ctx, query, tenantID, taskID)
}

// ListActiveInstancesByDefinition 列出定义下的活跃实例
func (r *WorkflowRepo) ListActiveInstancesByDefinition(ctx context.Context, tenantID, definitionID string) ([]*workflow.Instance, error) {
	var rows []dao.WorkflowInstanceDAO
	query := r.db.Rebind(`SELECT ` + workflowInstanceColumns + ` FROM workflow_instance
		WHERE tenant_id = ? AND definition_id = ? AND active_key IS NOT NULL ORDER BY started_at, seq`)
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, definitionID); err != nil {
		return nil, fmt.Errorf("查询活跃工作流实例失败: %w", err)
	}
	out := make([]*workflow.Instance, 0, len(rows))
	for i := range rows {
		inst := workflowInstanceFromDAO(&rows[i])
		history, err := r.loadHistory(ctx, r.db, inst.ID)
		if err != nil {
			return nil, err
		}
		inst.History = history
		out = append(out, inst)
	}
	return out, nil
}

// SaveTransition 版本比对更新实例并追加一条历史，两者在同一事务中完成
// 先对定义行加共享锁并确认版本未变，再更新实例。
func (r *WorkflowRepo) SaveTransition(ctx context.Context, inst *workflow.Instance, appended workflow.Transition, expectedVersion, definitionVersion int) error {
	row := workflowInstanceToDAO(inst)
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := r.checkDefinition(ctx, tx, inst.TenantID, inst.DefinitionID, definitionVersion); err != nil {
			return err
		}
		query := tx.Rebind(`UPDATE workflow_instance SET current_stage_id = ?, active_key = ?, completed_at = ?, version = ?
			WHERE id = ? AND tenant_id = ? AND version = ?`)
		res, err := tx.ExecContext(ctx, query,
			row.CurrentStageID, row.ActiveKey, row.CompletedAt, row.Version, row.ID, row.TenantID, expectedVersion)
		if err != nil {
			return fmt.Errorf("更新工作流实例失败: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("获取影响行数失败: %w", err)
		}
		if n == 0 {
			return r.missOrConflict(ctx, tx, row.TenantID, row.ID)
		}
		if err := insertTransition(ctx, tx, inst, len(inst.History)-1, appended); err != nil {
			return fmt.Errorf("写入流转历史失败: %w", err)
		}
		return nil
	})
}

// DeleteInstancesByTask 删除任务的全部实例与历史
func (r *WorkflowRepo) DeleteInstancesByTask(ctx context.Context, tenantID, taskID string) (int, error) {
	var deleted int
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var ids []string
		if err := tx.SelectContext(ctx, &ids, tx.Rebind(`SELECT id FROM workflow_instance WHERE tenant_id = ? AND task_id = ?`), tenantID, taskID); err != nil {
			return fmt.Errorf("查询工作流实例失败: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		query, args, err := sqlx.In(`DELETE FROM workflow_transition WHERE tenant_id = ? AND instance_id IN (?)`, tenantID, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("删除流转历史失败: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM workflow_instance WHERE tenant_id = ? AND task_id = ?`), tenantID, taskID)
		if err != nil {
			return fmt.Errorf("删除工作流实例失败: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = int(n)
		return nil
	})
	return deleted, err
}

func (r *WorkflowRepo) getInstance(ctx context.Context, query string, args ...interface{}) (*workflow.Instance, error) {
	var row dao.WorkflowInstanceDAO
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("查询工作流实例失败: %w", err)
	}
	inst := workflowInstanceFromDAO(&row)
	history, err := r.loadHistory(ctx, r.db, inst.ID)
	if err != nil {
		return nil, err
	}
	inst.History = history
	return inst, nil
}

func (r *WorkflowRepo) loadHistory(ctx context.Context, q sqlx.QueryerContext, instanceID string) ([]workflow.Transition, error) {
	var rows []dao.WorkflowTransitionDAO
	query := r.db.Rebind(`SELECT instance_id, tenant_id, seq, from_stage_id, to_stage_id, actor_id, occurred_at
		FROM workflow_transition WHERE instance_id = ? ORDER BY seq`)
	if err := sqlx.SelectContext(ctx, q, &rows, query, instanceID); err != nil {
		return nil, fmt.Errorf("查询流转历史失败: %w", err)
	}
	history := make([]workflow.Transition, 0, len(rows))
	for _, row := range rows {
		history = append(history, workflow.Transition{
			FromStageID: row.FromStageID,
			ToStageID:   row.ToStageID,
			ActorID:     row.ActorID,
			At:          row.At.UTC(),
		})
	}
	return history, nil
}

// definitionVersion 读取定义版本，lock 为方言的行锁子句
func (r *WorkflowRepo) definitionVersion(ctx context.Context, tx *sqlx.Tx, tenantID, id, lock string) (int, error) {
	var version int
	query := tx.Rebind(`SELECT version FROM workflow_definition WHERE id = ? AND tenant_id = ?` + lock)
	if err := tx.GetContext(ctx, &version, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("查询工作流定义版本失败: %w", err)
	}
	return version, nil
}

// checkDefinition 共享锁定义行，版本不等于want或定义已删除时返回 ErrDefinitionChanged
func (r *WorkflowRepo) checkDefinition(ctx context.Context, tx *sqlx.Tx, tenantID, id string, want int) error {
	version, err := r.definitionVersion(ctx, tx, tenantID, id, r.dialect.LockShared())
	if errors.Is(err, storage.ErrNotFound) || (err == nil && version != want) {
		return storage.ErrDefinitionChanged
	}
	return err
}

// hasActiveInstance 定义下是否有活跃实例，stages 非空时只看停留在这些阶段的实例
func (r *WorkflowRepo) hasActiveInstance(ctx context.Context, tx *sqlx.Tx, tenantID, definitionID string, stages []string) (bool, error) {
	query := `SELECT id FROM workflow_instance WHERE tenant_id = ? AND definition_id = ? AND active_key IS NOT NULL`
	args := []interface{}{tenantID, definitionID}
	if len(stages) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND current_stage_id IN (?)`, tenantID, definitionID, stages)
		if err != nil {
			return false, err
		}
	}
	var ids []string
	if err := tx.SelectContext(ctx, &ids, tx.Rebind(query+` LIMIT 1`+r.dialect.LockShared()), args...); err != nil {
		return false, fmt.Errorf("查询活跃工作流实例失败: %w", err)
	}
	return len(ids) > 0, nil
}

func (r *WorkflowRepo) instanceExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM workflow_instance WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("查询工作流实例失败: %w", err)
	}
	return n > 0, nil
}

// missOrConflict 区分"记录不存在"与"版本不匹配"
func (r *WorkflowRepo) missOrConflict(ctx context.Context, tx *sqlx.Tx, tenantID, id string) error {
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM workflow_instance WHERE id = ? AND tenant_id = ?`), id, tenantID); err != nil {
		return fmt.Errorf("查询工作流实例失败: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrVersionConflict
}

func insertTransition(ctx context.Context, tx *sqlx.Tx, inst *workflow.Instance, seq int, t workflow.Transition) error {
	row := dao.WorkflowTransitionDAO{
		InstanceID:  inst.ID,
		TenantID:    inst.TenantID,
		Seq:         seq,
		FromStageID: t.FromStageID,
		ToStageID:   t.ToStageID,
		ActorID:     t.ActorID,
		At:          t.At.UTC(),
	}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO workflow_transition
		(instance_id, tenant_id, seq, from_stage_id, to_stage_id, actor_id, occurred_at)
		VALUES (:instance_id, :tenant_id, :seq, :from_stage_id, :to_stage_id, :actor_id, :occurred_at)`, row)
	return err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取影响行数失败: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func workflowDefinitionToDAO(def *workflow.Definition) (*dao.WorkflowDefinitionDAO, error) {
	stages, err := json.Marshal(def.Stages)
	if err != nil {
		return nil, fmt.Errorf("序列化阶段失败: %w", err)
	}
	return &dao.WorkflowDefinitionDAO{
		ID:             def.ID,
		TenantID:       def.TenantID,
		Name:           def.Name,
		Description:    def.Description,
		Stages:         string(stages),
		InitialStageID: def.InitialStageID,
		BoardID:        def.BoardID,
		Active:         def.Active,
		Version:        def.Version,
		CreatedAt:      def.CreatedAt.UTC(),
		UpdatedAt:      def.UpdatedAt.UTC(),
	}, nil
}

func workflowDefinitionFromDAO(row *dao.WorkflowDefinitionDAO) (*workflow.Definition, error) {
	var stages []workflow.Stage
	if err := json.Unmarshal([]byte(row.Stages), &stages); err != nil {
		return nil, fmt.Errorf("解析阶段失败: %w", err)
	}
	return &workflow.Definition{
		ID:             row.ID,
		TenantID:       row.TenantID,
		Name:           row.Name,
		Description:    row.Description,
		Stages:         stages,
		InitialStageID: row.InitialStageID,
		BoardID:        row.BoardID,
		Active:         row.Active,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}

func workflowInstanceToDAO(inst *workflow.Instance) *dao.WorkflowInstanceDAO {
	row := &dao.WorkflowInstanceDAO{
		ID:             inst.ID,
		TenantID:       inst.TenantID,
		DefinitionID:   inst.DefinitionID,
		TaskID:         inst.TaskID,
		CurrentStageID: inst.CurrentStageID,
		StartedAt:      inst.StartedAt.UTC(),
		CompletedAt:    toNullTime(inst.CompletedAt),
		Version:        inst.Version,
		Seq:            inst.Seq,
	}
	if inst.IsActive() {
		row.ActiveKey = sql.NullString{String: inst.TaskID, Valid: true}
	}
	return row
}

func workflowInstanceFromDAO(row *dao.WorkflowInstanceDAO) *workflow.Instance {
	return &workflow.Instance{
		ID:             row.ID,
		TenantID:       row.TenantID,
		DefinitionID:   row.DefinitionID,
		TaskID:         row.TaskID,
		CurrentStageID: row.CurrentStageID,
		StartedAt:      row.StartedAt.UTC(),
		CompletedAt:    fromNullTime(row.CompletedAt),
		Version:        row.Version,
		Seq:            row.Seq,
	}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
