package cmd

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/LENAX/task-lifecycle/pkg/cli/output"
	"github.com/LENAX/task-lifecycle/pkg/core/sla"
)

// scanResult scan命令的JSON输出
type scanResult struct {
	Breached map[string][]*sla.Instance `json:"breached"`
	Total    int                        `json:"total"`
	Error    string                     `json:"error,omitempty"`
}

// scanCmd 立即执行一次超时扫描
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "立即执行一次超时扫描",
	Long: `扫描所有存在未结束SLA实例的租户，把已超过实际截止时间的实例标记为超时。
指定 --tenant 时只扫描该租户。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, _, logger, err := openEngine(ctx, false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer logger.Sync()
		defer eng.Close()

		if err := eng.Start(ctx); err != nil {
			output.Error("启动引擎失败: %v", err)
			return err
		}

		var (
			breached map[string][]*sla.Instance
			scanErr  error
		)
		if tenantID != "" {
			list, err := eng.Scanner.CheckBreaches(ctx, tenantID)
			breached, scanErr = map[string][]*sla.Instance{tenantID: list}, err
		} else {
			report := eng.Scan(ctx)
			breached, scanErr = report.Breached, report.Err
		}

		total := 0
		for _, list := range breached {
			total += len(list)
		}

		if outputJSON {
			res := scanResult{Breached: breached, Total: total}
			if scanErr != nil {
				res.Error = scanErr.Error()
			}
			if err := output.WriteJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return scanErr
		}

		if scanErr != nil {
			output.Warning("部分租户扫描失败: %v", scanErr)
		}
		if total == 0 {
			output.Info("没有新的超时实例")
			return scanErr
		}

		tenants := make([]string, 0, len(breached))
		for t := range breached {
			tenants = append(tenants, t)
		}
		sort.Strings(tenants)

		table := output.NewTable([]string{"TENANT", "INSTANCE_ID", "TASK", "DEFINITION", "BREACHED_AT"})
		for _, t := range tenants {
			for _, inst := range breached[t] {
				table.AddRow([]string{t, inst.ID, inst.TaskID, inst.DefinitionID, output.FormatTime(inst.BreachedAt)})
			}
		}
		table.RenderTo(cmd.OutOrStdout())
		output.Success("共标记 %d 个超时实例", total)
		return scanErr
	},
}

func init() {
	scanCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "只扫描指定租户")
}
