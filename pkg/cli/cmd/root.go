package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LENAX/task-lifecycle/pkg/config"
	"github.com/LENAX/task-lifecycle/pkg/core/engine"
	"github.com/LENAX/task-lifecycle/pkg/logging"
)

var (
	// 全局变量
	configPath string
	outputJSON bool
	tenantID   string

	// v 命令行参数与 TASK_LIFECYCLE_* 环境变量的覆盖来源
	v = config.NewViper()
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "task-lifecycle",
	Short: "Task Lifecycle CLI - 任务生命周期状态引擎",
	Long: `Task Lifecycle 管理任务的工作流阶段与SLA计时。

支持的功能：
  - 启动HTTP API服务（含定时超时扫描）
  - 手动执行一次超时扫描
  - 初始化数据库表结构
  - 查看任务的SLA状态

使用示例：
  # 启动HTTP服务
  task-lifecycle serve --config ./configs/lifecycle.yaml

  # 扫描所有租户
  task-lifecycle scan

  # 查看任务SLA
  task-lifecycle sla status task-1 --tenant acme`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	flags.BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")
	flags.String("log-level", "", "日志级别: debug/info/warn/error")
	flags.String("db-type", "", "数据库类型: sqlite/mysql/postgres/pgx/memory")
	flags.String("dsn", "", "数据库连接字符串")

	_ = v.BindPFlag("general.log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("storage.database.type", flags.Lookup("db-type"))
	_ = v.BindPFlag("storage.database.dsn", flags.Lookup("dsn"))

	// 添加子命令
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(slaCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig 加载配置文件并应用命令行参数与环境变量覆盖
func loadConfig() (*config.EngineConfig, error) {
	cfg, err := config.LoadWithOverrides(configPath, v)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// newLogger 按配置创建日志
func newLogger(cfg *config.EngineConfig) (*zap.Logger, error) {
	general := cfg.TaskLifecycle.General
	return logging.New(general.LogLevel, general.Env, general.InstanceName)
}

// openEngine 加载配置并创建引擎，scheduled为false时不注册定时扫描
func openEngine(ctx context.Context, scheduled bool) (*engine.Engine, *config.EngineConfig, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if !scheduled {
		cfg.TaskLifecycle.Scanner.Enabled = false
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := engine.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, fmt.Errorf("创建引擎失败: %w", err)
	}
	return eng, cfg, logger, nil
}

// requireTenant 检查 --tenant 参数
func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("必须通过 --tenant 指定租户")
	}
	return nil
}
