package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/LENAX/task-lifecycle/pkg/storage"
)

const uniqueViolation = "23505"

// PostgresDialect PostgreSQL方言实现（对外导出）
// driver 为 "postgres"（lib/pq）或 "pgx"（pgx stdlib）。
type PostgresDialect struct {
	driver string
}

// NewPostgresDialect 创建使用lib/pq驱动的PostgreSQL方言实例
func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{driver: "postgres"}
}

// NewPgxDialect 创建使用pgx驱动的PostgreSQL方言实例
func NewPgxDialect() *PostgresDialect {
	return &PostgresDialect{driver: "pgx"}
}

// Name 返回方言名称
func (d *PostgresDialect) Name() string {
	return "postgres"
}

// DriverName 返回驱动名
func (d *PostgresDialect) DriverName() string {
	return d.driver
}

// NormalizeDSN 补齐timezone=UTC，作为启动参数对每个连接生效
// 同时支持URL格式（postgres://...）与key=value格式。
func (d *PostgresDialect) NormalizeDSN(dsn string) string {
	if strings.Contains(strings.ToLower(dsn), "timezone=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&timezone=UTC"
		}
		return dsn + "?timezone=UTC"
	}
	if strings.TrimSpace(dsn) == "" {
		return "timezone=UTC"
	}
	return dsn + " timezone=UTC"
}

// CreateTableSQL 转换DDL为PostgreSQL兼容格式
func (d *PostgresDialect) CreateTableSQL(schema string) string {
	result := schema

	// 替换DATETIME为带时区的TIMESTAMP
	result = strings.ReplaceAll(result, "DATETIME", "TIMESTAMPTZ")

	return result
}

// CreateIndexSQL 返回创建索引的语句
func (d *PostgresDialect) CreateIndexSQL(name, table, columns string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, columns)
}

// IgnorableSchemaError PostgreSQL的DDL都带IF NOT EXISTS
func (d *PostgresDialect) IgnorableSchemaError(err error) bool {
	return false
}

// LockShared 共享行锁
func (d *PostgresDialect) LockShared() string {
	return " FOR SHARE"
}

// LockExclusive 排他行锁
func (d *PostgresDialect) LockExclusive() string {
	return " FOR UPDATE"
}

// IsUniqueViolation 同时识别lib/pq与pgx的错误类型
func (d *PostgresDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// 确保实现接口
var _ storage.Dialect = (*PostgresDialect)(nil)
