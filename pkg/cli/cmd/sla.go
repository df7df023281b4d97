package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/LENAX/task-lifecycle/pkg/cli/output"
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
)

// slaCmd SLA相关命令
var slaCmd = &cobra.Command{
	Use:   "sla",
	Short: "SLA实例管理",
}

// slaStatusCmd 查看任务的SLA状态
var slaStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "查看任务的SLA状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			output.Error("%v", err)
			return err
		}
		ctx := context.Background()
		eng, _, logger, err := openEngine(ctx, false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer logger.Sync()
		defer eng.Close()

		list, err := eng.SLAs.GetTaskSLAs(ctx, tenantID, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		snapshots := make([]sla.Snapshot, 0, len(list))
		for _, inst := range list {
			snapshots = append(snapshots, eng.SLAs.Snapshot(inst))
		}

		if outputJSON {
			return output.WriteJSON(cmd.OutOrStdout(), snapshots)
		}
		if len(snapshots) == 0 {
			output.Info("任务 %s 没有SLA实例", args[0])
			return nil
		}
		output.SLATable(snapshots).RenderTo(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	slaStatusCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "租户ID")
	slaCmd.AddCommand(slaStatusCmd)
}
