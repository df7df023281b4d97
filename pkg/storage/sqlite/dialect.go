package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/LENAX/task-lifecycle/pkg/storage"
)

// SQLiteDialect SQLite方言实现（对外导出）
type SQLiteDialect struct{}

// NewSQLiteDialect 创建SQLite方言实例
func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

// Name 返回方言名称
func (d *SQLiteDialect) Name() string {
	return "sqlite"
}

// DriverName 返回驱动名
func (d *SQLiteDialect) DriverName() string {
	return "sqlite3"
}

// NormalizeDSN 补齐连接参数
// IMMEDIATE事务避免读后写升级锁时的死锁，写事务因此串行执行；
// journal_mode/synchronous 由驱动在每个新连接上设置。
func (d *SQLiteDialect) NormalizeDSN(dsn string) string {
	for _, param := range []string{"_txlock=immediate", "_busy_timeout=30000", "_journal_mode=WAL", "_synchronous=NORMAL"} {
		key := param[:strings.Index(param, "=")+1]
		if strings.Contains(dsn, key) {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + param
		} else {
			dsn += "?" + param
		}
	}
	return dsn
}

// CreateTableSQL 返回创建表的DDL（SQLite原样返回）
func (d *SQLiteDialect) CreateTableSQL(schema string) string {
	return schema
}

// CreateIndexSQL 返回创建索引的语句
func (d *SQLiteDialect) CreateIndexSQL(name, table, columns string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, columns)
}

// IgnorableSchemaError SQLite的DDL都带IF NOT EXISTS
func (d *SQLiteDialect) IgnorableSchemaError(err error) bool {
	return false
}

// LockShared SQLite没有行锁，IMMEDIATE事务已串行化写入
func (d *SQLiteDialect) LockShared() string {
	return ""
}

// LockExclusive 同 LockShared
func (d *SQLiteDialect) LockExclusive() string {
	return ""
}

// IsUniqueViolation 判断是否为唯一约束或主键冲突
func (d *SQLiteDialect) IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// 确保实现接口
var _ storage.Dialect = (*SQLiteDialect)(nil)
