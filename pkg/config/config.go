package config

import (
	"time"
)

// EngineConfig 任务生命周期引擎配置（对外导出）
type EngineConfig struct {
	TaskLifecycle struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Storage struct {
			Database struct {
				Type            string        `yaml:"type"`
				DSN             string        `yaml:"dsn"`
				MaxOpenConns    int           `yaml:"max_open_conns"`
				MaxIdleConns    int           `yaml:"max_idle_conns"`
				ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
			} `yaml:"database"`
		} `yaml:"storage"`
		Server struct {
			Host            string        `yaml:"host"`
			Port            int           `yaml:"port"`
			Mode            string        `yaml:"mode"` // gin模式: debug/release/test
			ReadTimeout     time.Duration `yaml:"read_timeout"`
			WriteTimeout    time.Duration `yaml:"write_timeout"`
			ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		} `yaml:"server"`
		Scanner struct {
			Enabled           bool   `yaml:"enabled"`
			Cron              string `yaml:"cron"` // 6段式，含秒
			TenantConcurrency int    `yaml:"tenant_concurrency"`
			Lock              struct {
				RedisAddr     string        `yaml:"redis_addr"`
				RedisPassword string        `yaml:"redis_password"`
				RedisDB       int           `yaml:"redis_db"`
				KeyPrefix     string        `yaml:"key_prefix"`
				TTL           time.Duration `yaml:"ttl"`
			} `yaml:"lock"`
		} `yaml:"scanner"`
		Automation struct {
			Enabled     bool   `yaml:"enabled"`
			TopicPrefix string `yaml:"topic_prefix"`
			LogEvents   bool   `yaml:"log_events"`
		} `yaml:"automation"`
		Tasks struct {
			// Table 为空时不检查任务是否存在
			Table        string `yaml:"table"`
			IDColumn     string `yaml:"id_column"`
			TenantColumn string `yaml:"tenant_column"`
		} `yaml:"tasks"`
	} `yaml:"task-lifecycle"`
}

// GetDatabaseType 获取数据库类型
func (c *EngineConfig) GetDatabaseType() string {
	return c.TaskLifecycle.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *EngineConfig) GetDatabaseDSN() string {
	return c.TaskLifecycle.Storage.Database.DSN
}

// ServerAddr 返回HTTP监听地址
func (c *EngineConfig) ServerAddr() string {
	return joinHostPort(c.TaskLifecycle.Server.Host, c.TaskLifecycle.Server.Port)
}

// LockEnabled 是否启用Redis扫描租约
func (c *EngineConfig) LockEnabled() bool {
	return c.TaskLifecycle.Scanner.Lock.RedisAddr != ""
}

// Default 返回应用了默认值的配置
func Default() *EngineConfig {
	cfg := &EngineConfig{}
	cfg.TaskLifecycle.Scanner.Enabled = true
	cfg.TaskLifecycle.Automation.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 应用默认值
func (c *EngineConfig) ApplyDefaults() {
	tl := &c.TaskLifecycle

	// General默认值
	if tl.General.InstanceName == "" {
		tl.General.InstanceName = "task-lifecycle"
	}
	if tl.General.LogLevel == "" {
		tl.General.LogLevel = "info"
	}
	if tl.General.Env == "" {
		tl.General.Env = "dev"
	}

	// Database默认值
	if tl.Storage.Database.Type == "" {
		tl.Storage.Database.Type = "sqlite"
	}
	if tl.Storage.Database.DSN == "" && tl.Storage.Database.Type == "sqlite" {
		tl.Storage.Database.DSN = "./task-lifecycle.db"
	}
	if tl.Storage.Database.MaxOpenConns <= 0 {
		tl.Storage.Database.MaxOpenConns = 10
	}
	if tl.Storage.Database.MaxIdleConns <= 0 {
		tl.Storage.Database.MaxIdleConns = 5
	}
	if tl.Storage.Database.ConnMaxLifetime <= 0 {
		tl.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}

	// Server默认值
	if tl.Server.Port <= 0 {
		tl.Server.Port = 8080
	}
	if tl.Server.Mode == "" {
		tl.Server.Mode = "release"
	}
	if tl.Server.ReadTimeout <= 0 {
		tl.Server.ReadTimeout = 15 * time.Second
	}
	if tl.Server.WriteTimeout <= 0 {
		tl.Server.WriteTimeout = 15 * time.Second
	}
	if tl.Server.ShutdownTimeout <= 0 {
		tl.Server.ShutdownTimeout = 10 * time.Second
	}

	// Scanner默认值：每分钟第0秒扫描一次
	if tl.Scanner.Cron == "" {
		tl.Scanner.Cron = "0 * * * * *"
	}
	if tl.Scanner.TenantConcurrency <= 0 {
		tl.Scanner.TenantConcurrency = 4
	}
	if tl.Scanner.Lock.KeyPrefix == "" {
		tl.Scanner.Lock.KeyPrefix = "task-lifecycle:"
	}
	if tl.Scanner.Lock.TTL <= 0 {
		tl.Scanner.Lock.TTL = time.Minute
	}

	// Automation默认值
	if tl.Automation.TopicPrefix == "" {
		tl.Automation.TopicPrefix = "task-lifecycle."
	}

	// Tasks默认值
	if tl.Tasks.Table != "" && tl.Tasks.IDColumn == "" {
		tl.Tasks.IDColumn = "id"
	}
}
