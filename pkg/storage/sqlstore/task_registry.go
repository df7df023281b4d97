package sqlstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/task-lifecycle/pkg/core/types"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TaskRegistry 从任务表检查任务是否存在（对外导出）
// 只读，不修改任务本身。
type TaskRegistry struct {
	db       *sqlx.DB
	query    string
	byTenant bool
}

// NewTaskRegistry 创建任务存在性检查器
// table/idColumn/tenantColumn 只允许普通标识符；tenantColumn 为空时不按租户过滤。
func NewTaskRegistry(db *sqlx.DB, table, idColumn, tenantColumn string) (*TaskRegistry, error) {
	for _, ident := range []string{table, idColumn} {
		if !identifierPattern.MatchString(ident) {
			return nil, fmt.Errorf("invalid identifier %q", ident)
		}
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, idColumn)
	if tenantColumn != "" {
		if !identifierPattern.MatchString(tenantColumn) {
			return nil, fmt.Errorf("invalid identifier %q", tenantColumn)
		}
		query += fmt.Sprintf(" AND %s = ?", tenantColumn)
	}
	return &TaskRegistry{db: db, query: db.Rebind(query), byTenant: tenantColumn != ""}, nil
}

// TaskExists 实现 types.TaskStore 接口
func (r *TaskRegistry) TaskExists(ctx context.Context, tenantID, taskID string) (bool, error) {
	args := []interface{}{taskID}
	if r.byTenant {
		args = append(args, tenantID)
	}
	var n int
	if err := r.db.GetContext(ctx, &n, r.query, args...); err != nil {
		return false, fmt.Errorf("查询任务失败: %w", err)
	}
	return n > 0, nil
}

var _ types.TaskStore = (*TaskRegistry)(nil)
