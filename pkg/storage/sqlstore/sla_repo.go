package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/storage"
	"github.com/LENAX/task-lifecycle/pkg/storage/dao"
)

const (
	slaDefinitionColumns = "id, tenant_id, name, description, sla_type, time_limit_seconds, applies_to, active, created_at, updated_at"
	slaInstanceColumns   = "id, tenant_id, definition_id, task_id, status, active_key, started_at, deadline, paused_at, accumulated_paused_ns, resolved_at, breached_at, version"
)

// SLARepo SLA Repository的SQL实现（对外导出）
type SLARepo struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

var _ sla.Repository = (*SLARepo)(nil)

// CreateDefinition 新增SLA定义
func (r *SLARepo) CreateDefinition(ctx context.Context, def *sla.Definition) error {
	row, err := slaDefinitionToDAO(def)
	if err != nil {
		return err
	}
	query := `INSERT INTO sla_definition (` + slaDefinitionColumns + `)
		VALUES (:id, :tenant_id, :name, :description, :sla_type, :time_limit_seconds, :applies_to, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("保存SLA定义失败: %w", err)
	}
	return nil
}

// UpdateDefinition 覆盖SLA定义
func (r *SLARepo) UpdateDefinition(ctx context.Context, def *sla.Definition) error {
	row, err := slaDefinitionToDAO(def)
	if err != nil {
		return err
	}
	query := `UPDATE sla_definition SET name = :name, description = :description, sla_type = :sla_type,
		time_limit_seconds = :time_limit_seconds, applies_to = :applies_to, active = :active, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("更新SLA定义失败: %w", err)
	}
	return expectOneRow(res)
}

// GetDefinition 获取SLA定义
func (r *SLARepo) GetDefinition(ctx context.Context, tenantID, id string) (*sla.Definition, error) {
	var row dao.SLADefinitionDAO
	query := r.db.Rebind(`SELECT ` + slaDefinitionColumns + ` FROM sla_definition WHERE id = ? AND tenant_id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("查询SLA定义失败: %w", err)
	}
	return slaDefinitionFromDAO(&row)
}

// ListDefinitions 列出租户的SLA定义
func (r *SLARepo) ListDefinitions(ctx context.Context, tenantID string, activeOnly bool) ([]*sla.Definition, error) {
	query := `SELECT ` + slaDefinitionColumns + ` FROM sla_definition WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if activeOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at, id`

	var rows []dao.SLADefinitionDAO
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询SLA定义列表失败: %w", err)
	}
	out := make([]*sla.Definition, 0, len(rows))
	for i := range rows {
		def, err := slaDefinitionFromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// CreateInstance 新增SLA实例
func (r *SLARepo) CreateInstance(ctx context.Context, inst *sla.Instance) error {
	query := `INSERT INTO sla_instance (` + slaInstanceColumns + `)
		VALUES (:id, :tenant_id, :definition_id, :task_id, :status, :active_key, :started_at, :deadline,
		:paused_at, :accumulated_paused_ns, :resolved_at, :breached_at, :version)`
	_, err := r.db.NamedExecContext(ctx, query, slaInstanceToDAO(inst))
	if err == nil {
		return nil
	}
	if r.dialect.IsUniqueViolation(err) {
		var n int
		if lookupErr := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM sla_instance WHERE id = ?`), inst.ID); lookupErr != nil {
			return fmt.Errorf("查询SLA实例失败: %w", lookupErr)
		}
		if n > 0 {
			return storage.ErrAlreadyExists
		}
		return storage.ErrDuplicateActive
	}
	return fmt.Errorf("创建SLA实例失败: %w", err)
}

// GetInstance 获取SLA实例
func (r *SLARepo) GetInstance(ctx context.Context, tenantID, id string) (*sla.Instance, error) {
	return r.getInstance(ctx, `SELECT `+slaInstanceColumns+` FROM sla_instance WHERE id = ? AND tenant_id = ?`, id, tenantID)
}

// ListInstancesByTask 返回任务的全部SLA实例，按启动时间排序
func (r *SLARepo) ListInstancesByTask(ctx context.Context, tenantID, taskID string) ([]*sla.Instance, error) {
	return r.listInstances(ctx, `SELECT `+slaInstanceColumns+` FROM sla_instance
		WHERE tenant_id = ? AND task_id = ? ORDER BY started_at, id`, tenantID, taskID)
}

// FindOpenInstance 查找(任务, 定义)下未结束的实例
func (r *SLARepo) FindOpenInstance(ctx context.Context, tenantID, taskID, definitionID string) (*sla.Instance, error) {
	return r.getInstance(ctx, `SELECT `+slaInstanceColumns+` FROM sla_instance
		WHERE tenant_id = ? AND active_key = ?`, tenantID, openKey(taskID, definitionID))
}

// UpdateInstance 版本比对写入
func (r *SLARepo) UpdateInstance(ctx context.Context, inst *sla.Instance, expectedVersion int) error {
	row := slaInstanceToDAO(inst)
	query := r.db.Rebind(`UPDATE sla_instance SET status = ?, active_key = ?, deadline = ?, paused_at = ?,
		accumulated_paused_ns = ?, resolved_at = ?, breached_at = ?, version = ?
		WHERE id = ? AND tenant_id = ? AND version = ?`)
	res, err := r.db.ExecContext(ctx, query,
		row.Status, row.ActiveKey, row.Deadline, row.PausedAt, row.AccumulatedPausedNS,
		row.ResolvedAt, row.BreachedAt, row.Version, row.ID, row.TenantID, expectedVersion)
	if err != nil {
		return fmt.Errorf("更新SLA实例失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取影响行数失败: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT COUNT(*) FROM sla_instance WHERE id = ? AND tenant_id = ?`), row.ID, row.TenantID); err != nil {
		return fmt.Errorf("查询SLA实例失败: %w", err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrVersionConflict
}

// ListBreachCandidates 名义截止时间已过的未结束实例，是否真正超时由调用方计算
func (r *SLARepo) ListBreachCandidates(ctx context.Context, tenantID string, now time.Time) ([]*sla.Instance, error) {
	return r.listInstances(ctx, `SELECT `+slaInstanceColumns+` FROM sla_instance
		WHERE tenant_id = ? AND status IN (?, ?) AND deadline <= ? ORDER BY started_at, id`,
		tenantID, string(sla.StatusActive), string(sla.StatusPaused), now.UTC())
}

// ListTenantsWithOpenInstances 返回存在未结束实例的租户
func (r *SLARepo) ListTenantsWithOpenInstances(ctx context.Context) ([]string, error) {
	var tenants []string
	query := `SELECT DISTINCT tenant_id FROM sla_instance WHERE active_key IS NOT NULL ORDER BY tenant_id`
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("查询租户失败: %w", err)
	}
	return tenants, nil
}

// DeleteInstancesByTask 删除任务的全部SLA实例
func (r *SLARepo) DeleteInstancesByTask(ctx context.Context, tenantID, taskID string) (int, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sla_instance WHERE tenant_id = ? AND task_id = ?`), tenantID, taskID)
	if err != nil {
		return 0, fmt.Errorf("删除SLA实例失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return int(n), nil
}

func (r *SLARepo) getInstance(ctx context.Context, query string, args ...interface{}) (*sla.Instance, error) {
	var row dao.SLAInstanceDAO
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("查询SLA实例失败: %w", err)
	}
	return slaInstanceFromDAO(&row), nil
}

func (r *SLARepo) listInstances(ctx context.Context, query string, args ...interface{}) ([]*sla.Instance, error) {
	var rows []dao.SLAInstanceDAO
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询SLA实例失败: %w", err)
	}
	out := make([]*sla.Instance, 0, len(rows))
	for i := range rows {
		out = append(out, slaInstanceFromDAO(&rows[i]))
	}
	return out, nil
}

func openKey(taskID, definitionID string) string {
	return taskID + "|" + definitionID
}

func slaDefinitionToDAO(def *sla.Definition) (*dao.SLADefinitionDAO, error) {
	applies, err := json.Marshal(def.AppliesTo)
	if err != nil {
		return nil, fmt.Errorf("序列化适用范围失败: %w", err)
	}
	return &dao.SLADefinitionDAO{
		ID:               def.ID,
		TenantID:         def.TenantID,
		Name:             def.Name,
		Description:      def.Description,
		SLAType:          def.SLAType,
		TimeLimitSeconds: int64(def.TimeLimit / time.Second),
		AppliesTo:        string(applies),
		Active:           def.Active,
		CreatedAt:        def.CreatedAt.UTC(),
		UpdatedAt:        def.UpdatedAt.UTC(),
	}, nil
}

func slaDefinitionFromDAO(row *dao.SLADefinitionDAO) (*sla.Definition, error) {
	var applies sla.AppliesTo
	if row.AppliesTo != "" {
		if err := json.Unmarshal([]byte(row.AppliesTo), &applies); err != nil {
			return nil, fmt.Errorf("解析适用范围失败: %w", err)
		}
	}
	return &sla.Definition{
		ID:          row.ID,
		TenantID:    row.TenantID,
		Name:        row.Name,
		Description: row.Description,
		SLAType:     row.SLAType,
		TimeLimit:   time.Duration(row.TimeLimitSeconds) * time.Second,
		AppliesTo:   applies,
		Active:      row.Active,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}, nil
}

func slaInstanceToDAO(inst *sla.Instance) *dao.SLAInstanceDAO {
	row := &dao.SLAInstanceDAO{
		ID:                  inst.ID,
		TenantID:            inst.TenantID,
		DefinitionID:        inst.DefinitionID,
		TaskID:              inst.TaskID,
		Status:              string(inst.Status),
		StartedAt:           inst.StartedAt.UTC(),
		Deadline:            inst.Deadline.UTC(),
		PausedAt:            toNullTime(inst.PausedAt),
		AccumulatedPausedNS: int64(inst.AccumulatedPaused),
		ResolvedAt:          toNullTime(inst.ResolvedAt),
		BreachedAt:          toNullTime(inst.BreachedAt),
		Version:             inst.Version,
	}
	if inst.Status.IsOpen() {
		row.ActiveKey = sql.NullString{String: openKey(inst.TaskID, inst.DefinitionID), Valid: true}
	}
	return row
}

func slaInstanceFromDAO(row *dao.SLAInstanceDAO) *sla.Instance {
	return &sla.Instance{
		ID:                row.ID,
		TenantID:          row.TenantID,
		DefinitionID:      row.DefinitionID,
		TaskID:            row.TaskID,
		Status:            sla.Status(row.Status),
		StartedAt:         row.StartedAt.UTC(),
		Deadline:          row.Deadline.UTC(),
		PausedAt:          fromNullTime(row.PausedAt),
		AccumulatedPaused: time.Duration(row.AccumulatedPausedNS),
		ResolvedAt:        fromNullTime(row.ResolvedAt),
		BreachedAt:        fromNullTime(row.BreachedAt),
		Version:           row.Version,
	}
}
