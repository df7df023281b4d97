package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate 校验配置合法性
func Validate(cfg *EngineConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}
	tl := &cfg.TaskLifecycle

	// 校验General
	if tl.General.InstanceName == "" {
		return fmt.Errorf("instance_name不能为空")
	}
	if tl.General.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[tl.General.LogLevel] {
			return fmt.Errorf("log_level必须是debug/info/warn/error之一")
		}
	}

	// 校验Storage.Database
	if tl.Storage.Database.Type == "" {
		return fmt.Errorf("database.type不能为空")
	}
	validDBTypes := map[string]bool{
		"sqlite":     true,
		"mysql":      true,
		"postgres":   true,
		"postgresql": true,
		"pgx":        true,
		"memory":     true,
	}
	if !validDBTypes[tl.Storage.Database.Type] {
		return fmt.Errorf("database.type必须是sqlite/mysql/postgres/pgx/memory之一")
	}
	if tl.Storage.Database.DSN == "" && tl.Storage.Database.Type != "memory" {
		return fmt.Errorf("database.dsn不能为空")
	}
	if tl.Storage.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns必须大于0")
	}
	if tl.Storage.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns不能为负数")
	}

	// 校验Server
	if tl.Server.Port <= 0 || tl.Server.Port > 65535 {
		return fmt.Errorf("server.port必须在1-65535之间")
	}
	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[tl.Server.Mode] {
		return fmt.Errorf("server.mode必须是debug/release/test之一")
	}

	// 校验Scanner
	if tl.Scanner.Enabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(tl.Scanner.Cron); err != nil {
			return fmt.Errorf("scanner.cron无效: %w", err)
		}
	}
	if tl.Scanner.TenantConcurrency <= 0 {
		return fmt.Errorf("scanner.tenant_concurrency必须大于0")
	}
	if tl.Scanner.Lock.RedisDB < 0 {
		return fmt.Errorf("scanner.lock.redis_db不能为负数")
	}

	// 校验Tasks
	if tl.Tasks.Table != "" && tl.Tasks.IDColumn == "" {
		return fmt.Errorf("tasks.id_column不能为空")
	}
	if tl.Tasks.Table != "" && tl.Storage.Database.Type == "memory" {
		return fmt.Errorf("memory存储不支持tasks.table")
	}

	return nil
}
