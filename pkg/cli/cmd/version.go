package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/LENAX/task-lifecycle/pkg/cli/output"
)

// 版本信息（编译时注入）
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionCmd version命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputJSON {
			return output.WriteJSON(cmd.OutOrStdout(), map[string]string{
				"version":    Version,
				"git_commit": GitCommit,
				"build_time": BuildTime,
				"go_version": runtime.Version(),
			})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Task Lifecycle\n")
		fmt.Fprintf(out, "  Version:    %s\n", Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go:         %s\n", runtime.Version())
		return nil
	},
}
