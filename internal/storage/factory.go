package storage

import (
	"context"
	"fmt"

	"github.com/LENAX/task-lifecycle/pkg/config"
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
	"github.com/LENAX/task-lifecycle/pkg/core/types"
	"github.com/LENAX/task-lifecycle/pkg/core/workflow"
	"github.com/LENAX/task-lifecycle/pkg/storage/memory"
	"github.com/LENAX/task-lifecycle/pkg/storage/mysql"
	"github.com/LENAX/task-lifecycle/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/task-lifecycle/pkg/storage/sqlite"
	"github.com/LENAX/task-lifecycle/pkg/storage/sqlstore"
)

// Store 两个引擎所需的存储集合（内部使用）
type Store interface {
	Workflows() workflow.Repository
	SLAs() sla.Repository
	// Ping 检查存储可用，供就绪检查使用
	Ping(ctx context.Context) error
	Close() error
}

// Backend 打开后的存储与任务存在性检查（内部使用）
type Backend struct {
	Store Store
	// Tasks 为nil时引擎不检查任务是否存在
	Tasks types.TaskStore
	// SQL 非内存存储时的底层SQL存储
	SQL *sqlstore.Store
}

// Close 关闭底层存储
func (b *Backend) Close() error {
	if b == nil || b.Store == nil {
		return nil
	}
	return b.Store.Close()
}

// Open 按配置打开存储（内部方法）
// 数据库类型: sqlite/mysql/postgres(postgresql)/pgx/memory
func Open(cfg *config.EngineConfig) (*Backend, error) {
	db := cfg.TaskLifecycle.Storage.Database
	pool := sqlstore.PoolOptions{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}

	var (
		store *sqlstore.Store
		err   error
	)
	switch db.Type {
	case "memory":
		return &Backend{Store: memory.NewStore()}, nil
	case "sqlite":
		store, err = pkgsqlite.Open(db.DSN, pool)
	case "mysql":
		store, err = sqlstore.Open(mysql.NewMySQLDialect(), db.DSN, pool)
	case "postgres", "postgresql":
		store, err = sqlstore.Open(postgres.NewPostgresDialect(), db.DSN, pool)
	case "pgx":
		store, err = sqlstore.Open(postgres.NewPgxDialect(), db.DSN, pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", db.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("打开%s存储失败: %w", db.Type, err)
	}

	backend := &Backend{Store: store, SQL: store}
	tasks := cfg.TaskLifecycle.Tasks
	if tasks.Table != "" {
		registry, err := sqlstore.NewTaskRegistry(store.DB(), tasks.Table, tasks.IDColumn, tasks.TenantColumn)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("创建任务检查器失败: %w", err)
		}
		backend.Tasks = registry
	}
	return backend, nil
}
