// Package sqlstore 基于sqlx的SQL存储实现（对外导出）
//
// 同一套SQL通过 storage.Dialect 适配SQLite、MySQL与PostgreSQL，
// 查询统一使用?占位符，由 sqlx.Rebind 转换为驱动需要的形式。
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// Store SQL存储集合（对外导出）
type Store struct {
	db        *sqlx.DB
	dialect   storage.Dialect
	workflows *WorkflowRepo
	slas      *SLARepo
}

// New 基于已有连接创建存储，并初始化表结构
func New(db *sqlx.DB, dialect storage.Dialect) (*Store, error) {
	s := &Store{
		db:        db,
		dialect:   dialect,
		workflows: &WorkflowRepo{db: db, dialect: dialect},
		slas:      &SLARepo{db: db, dialect: dialect},
	}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// PoolOptions 连接池参数，零值表示使用驱动默认值
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open 通过DSN打开数据库并创建存储
func Open(dialect storage.Dialect, dsn string, pool PoolOptions) (*Store, error) {
	db, err := sqlx.Open(dialect.DriverName(), dialect.NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	store, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Workflows 返回工作流存储
func (s *Store) Workflows() workflow.Repository { return s.workflows }

// SLAs 返回SLA存储
func (s *Store) SLAs() sla.Repository { return s.slas }

// DB 获取底层数据库连接（对外导出）
func (s *Store) DB() *sqlx.DB { return s.db }

// Dialect 返回当前方言
func (s *Store) Dialect() storage.Dialect { return s.dialect }

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接（对外导出）
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate 创建缺失的表与索引，可重复执行
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range tableSchemas {
		if _, err := s.db.ExecContext(ctx, s.dialect.CreateTableSQL(ddl)); err != nil && !s.dialect.IgnorableSchemaError(err) {
			return fmt.Errorf("初始化表结构失败: %w", err)
		}
	}
	for _, idx := range indexSchemas {
		stmt := s.dialect.CreateIndexSQL(idx.name, idx.table, idx.columns)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !s.dialect.IgnorableSchemaError(err) {
			return fmt.Errorf("创建索引%s失败: %w", idx.name, err)
		}
	}
	return nil
}

// withTx 在事务中执行fn，fn返回错误时回滚
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}
