package cmd

import (
	"context"

	"github.com/spf13/cobra"

	istorage "github.com/LENAX/task-lifecycle/internal/storage"
	"github.com/LENAX/task-lifecycle/pkg/cli/output"
)

// migrateCmd 初始化数据库表结构
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "初始化数据库表结构",
	Long:  `创建工作流与SLA所需的表和索引，已存在的表不受影响，可重复执行。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		db := cfg.TaskLifecycle.Storage.Database
		if db.Type == "memory" {
			output.Info("内存存储无需初始化表结构")
			return nil
		}

		backend, err := istorage.Open(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer backend.Close()

		if err := backend.SQL.Migrate(context.Background()); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("数据库表结构已就绪 (%s)", db.Type)
		return nil
	},
}
