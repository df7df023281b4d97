package sqlite

import (
	"strings"

	"github.com/LENAX/task-lifecycle/pkg/storage/sqlstore"
)

// Open 打开SQLite存储（对外导出）
// 内存库的每个连接都是独立的数据库，因此内存库限制为单连接。
func Open(dsn string, pool sqlstore.PoolOptions) (*sqlstore.Store, error) {
	if IsMemoryDSN(dsn) {
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
		pool.ConnMaxLifetime = 0
	}
	return sqlstore.Open(NewSQLiteDialect(), dsn, pool)
}

// IsMemoryDSN 判断是否为内存库
func IsMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, ":memory:?") || strings.Contains(dsn, "mode=memory")
}
