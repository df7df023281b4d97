package storage

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法与驱动差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName 返回database/sql驱动名（如 "sqlite3", "mysql", "postgres", "pgx"）
	DriverName() string

	// NormalizeDSN 补齐驱动需要的DSN参数
	// 会话级设置（时区、sql_mode、PRAGMA）也放在DSN中，连接池的每个新连接都会生效。
	NormalizeDSN(dsn string) string

	// CreateTableSQL 把SQLite风格的DDL转换为本方言
	CreateTableSQL(schema string) string

	// CreateIndexSQL 返回创建索引的语句
	CreateIndexSQL(name, table, columns string) string

	// IgnorableSchemaError 建表/建索引时可以忽略的错误（如索引已存在）
	IgnorableSchemaError(err error) bool

	// LockShared 追加在SELECT末尾的共享行锁子句，不支持行锁时返回空串
	LockShared() string

	// LockExclusive 追加在SELECT末尾的排他行锁子句，不支持行锁时返回空串
	LockExclusive() string

	// IsUniqueViolation 判断错误是否为唯一约束冲突
	IsUniqueViolation(err error) bool
}
