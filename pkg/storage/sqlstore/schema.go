package sqlstore

// 建表语句使用SQLite风格，由 Dialect.CreateTableSQL 转换。
// active_key 在实例未结束时非空，结束后置NULL；(tenant_id, active_key) 唯一索引
// 保证同一任务只有一个活跃工作流、同一(任务, 定义)只有一个未结束的SLA计时。
// workflow_instance.seq 为任务内的启动序号，workflow_definition.version 为定义的乐观锁版本。
var tableSchemas = []string{
	`CREATE TABLE IF NOT EXISTS workflow_definition (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		stages TEXT NOT NULL,
		initial_stage_id VARCHAR(64) NOT NULL DEFAULT '',
		board_id VARCHAR(64) NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS workflow_instance (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		definition_id VARCHAR(64) NOT NULL,
		task_id VARCHAR(128) NOT NULL,
		current_stage_id VARCHAR(64) NOT NULL,
		active_key VARCHAR(128),
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		version INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		UNIQUE (tenant_id, active_key),
		UNIQUE (tenant_id, task_id, seq)
	);`,
	`CREATE TABLE IF NOT EXISTS workflow_transition (
		instance_id VARCHAR(64) NOT NULL,
		tenant_id VARCHAR(64) NOT NULL,
		seq INTEGER NOT NULL,
		from_stage_id VARCHAR(64) NOT NULL DEFAULT '',
		to_stage_id VARCHAR(64) NOT NULL,
		actor_id VARCHAR(128) NOT NULL DEFAULT '',
		occurred_at DATETIME NOT NULL,
		PRIMARY KEY (instance_id, seq)
	);`,
	`CREATE TABLE IF NOT EXISTS sla_definition (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		sla_type VARCHAR(64) NOT NULL DEFAULT '',
		time_limit_seconds BIGINT NOT NULL,
		applies_to TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sla_instance (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		definition_id VARCHAR(64) NOT NULL,
		task_id VARCHAR(128) NOT NULL,
		status VARCHAR(16) NOT NULL,
		active_key VARCHAR(200),
		started_at DATETIME NOT NULL,
		deadline DATETIME NOT NULL,
		paused_at DATETIME,
		accumulated_paused_ns BIGINT NOT NULL DEFAULT 0,
		resolved_at DATETIME,
		breached_at DATETIME,
		version INTEGER NOT NULL,
		UNIQUE (tenant_id, active_key)
	);`,
}

type indexSchema struct {
	name    string
	table   string
	columns string
}

var indexSchemas = []indexSchema{
	{"idx_workflow_definition_tenant", "workflow_definition", "tenant_id, created_at"},
	{"idx_workflow_instance_task", "workflow_instance", "tenant_id, task_id"},
	{"idx_workflow_instance_definition", "workflow_instance", "tenant_id, definition_id"},
	{"idx_sla_definition_tenant", "sla_definition", "tenant_id, created_at"},
	{"idx_sla_instance_task", "sla_instance", "tenant_id, task_id"},
	{"idx_sla_instance_deadline", "sla_instance", "tenant_id, status, deadline"},
}
