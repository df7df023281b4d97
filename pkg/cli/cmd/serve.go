package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LENAX/task-lifecycle/pkg/api"
	"github.com/LENAX/task-lifecycle/pkg/cli/output"
)

// serveCmd 启动HTTP API服务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动HTTP API服务",
	Long: `启动Task Lifecycle HTTP API服务，并按配置定时执行超时扫描。

示例：
  # 使用默认配置启动
  task-lifecycle serve

  # 指定端口启动
  task-lifecycle serve --port 9090

  # 指定配置文件启动
  task-lifecycle serve --config ./configs/lifecycle.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, cfg, logger, err := openEngine(ctx, true)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer logger.Sync()

		if err := eng.Start(ctx); err != nil {
			output.Error("启动引擎失败: %v", err)
			_ = eng.Close()
			return err
		}

		apiServer := api.NewAPIServer(eng, api.ServerConfigFrom(cfg), Version, logger)

		// 在goroutine中启动服务器
		serverErr := make(chan error, 1)
		go func() {
			serverErr <- apiServer.Start()
		}()

		output.Success("Task Lifecycle Server started on %s", apiServer.Addr())

		// 等待中断信号
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			output.Info("正在关闭服务...")
		case err := <-serverErr:
			if err != nil {
				logger.Error("API服务器错误", zap.Error(err))
			}
		}

		// 优雅关闭
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TaskLifecycle.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			output.Error("关闭API服务器失败: %v", err)
		}
		if err := eng.Close(); err != nil {
			output.Error("关闭引擎失败: %v", err)
		}
		output.Success("服务已停止")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "监听端口")
	serveCmd.Flags().StringP("host", "H", "", "监听地址")
	_ = v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}
