package mysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/LENAX/task-lifecycle/pkg/storage"
)

const (
	errDupEntry   = 1062
	errDupKeyName = 1061
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// DriverName 返回驱动名
func (d *MySQLDialect) DriverName() string {
	return "mysql"
}

// sqlMode 以系统变量参数写入DSN，驱动在每个新连接上执行 SET sql_mode
const sqlMode = "sql_mode=%27STRICT_TRANS_TABLES,NO_ZERO_IN_DATE,NO_ZERO_DATE,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION%27"

// NormalizeDSN 补齐parseTime、loc、clientFoundRows与sql_mode参数
// clientFoundRows 让RowsAffected返回匹配行数，版本比对写入依赖它区分"未命中"与"未变化"。
// dsn格式: user:password@tcp(host:port)/dbname?parseTime=true
func (d *MySQLDialect) NormalizeDSN(dsn string) string {
	for _, param := range []string{"parseTime=true", "loc=UTC", "clientFoundRows=true", sqlMode} {
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

// CreateTableSQL 转换DDL为MySQL兼容格式
func (d *MySQLDialect) CreateTableSQL(schema string) string {
	result := schema

	// 保留微秒精度
	result = strings.ReplaceAll(result, "DATETIME", "DATETIME(6)")

	// 添加引擎声明
	if !strings.Contains(result, "ENGINE=") && strings.Contains(result, "CREATE TABLE") {
		result = strings.TrimRight(strings.TrimSpace(result), ";") + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;"
	}
	return result
}

// CreateIndexSQL MySQL不支持 CREATE INDEX IF NOT EXISTS，重复创建由 IgnorableSchemaError 忽略
func (d *MySQLDialect) CreateIndexSQL(name, table, columns string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, columns)
}

// IgnorableSchemaError 索引已存在
func (d *MySQLDialect) IgnorableSchemaError(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupKeyName
}

// LockShared 共享行锁，LOCK IN SHARE MODE 兼容5.7与8.0
func (d *MySQLDialect) LockShared() string {
	return " LOCK IN SHARE MODE"
}

// LockExclusive 排他行锁
func (d *MySQLDialect) LockExclusive() string {
	return " FOR UPDATE"
}

// IsUniqueViolation 判断是否为 Duplicate entry
func (d *MySQLDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupEntry
}

// 确保实现接口
var _ storage.Dialect = (*MySQLDialect)(nil)
