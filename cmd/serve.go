package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/web-runner/api/rest"
	"yqhp/web-runner/pkg/logger"
)

var (
	servePort      int
	serveHost      string
	serveMode      string
	serveReportDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动测试执行服务",
	Long: `启动 HTTP/WebSocket 服务，接收测试用例并异步执行。

接口:
  POST /api/execute-testcase        提交测试用例
  GET  /api/execution-status/:id    查询执行状态
  GET  /api/execution-report/:id    获取执行报告
  GET  /api/executions              列出最近的执行
  POST /api/stop-execution/:id      停止执行
  GET  /ws                          实时事件流`,
	Example: `  # 默认端口 3001
  web-runner serve

  # 指定端口与配置文件
  web-runner serve --port 8080 --config web-runner.yaml

  # 有界面模式
  web-runner serve --mode browser`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "监听端口 (覆盖配置)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "监听地址 (覆盖配置)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "默认浏览器模式 (headless, browser)")
	serveCmd.Flags().StringVar(&serveReportDir, "report-dir", "", "报告目录 (覆盖配置)")
}

func serveOverrides() map[string]string {
	args := map[string]string{}
	if servePort > 0 {
		args["server.port"] = strconv.Itoa(servePort)
	}
	if serveHost != "" {
		args["server.host"] = serveHost
	}
	if serveMode != "" {
		args["browser.default_mode"] = serveMode
	}
	if serveReportDir != "" {
		args["report.dir"] = serveReportDir
	}
	return args
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveOverrides())
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}

	server := rest.NewServer(rest.ConfigFrom(cfg.Server, cfg.Browser), rest.Deps{
		Orchestrator: st.orch,
		Actions:      st.actions,
		Hub:          st.hub,
		Metrics:      st.metrics,
		Logger:       st.logger,
	})

	if !quiet {
		fmt.Printf(Banner, Version)
		fmt.Println()
		fmt.Printf("  监听地址: %s\n", cfg.Server.Address())
		fmt.Printf("  默认模式: %s\n", cfg.Browser.DefaultMode)
		fmt.Printf("  模型: %s\n", cfg.AI.Model)
		if cfg.Report.Enabled {
			fmt.Printf("  报告目录: %s\n", cfg.Report.Dir)
		}
		fmt.Println()
	}
	st.logger.Info("web runner started", zap.String("address", cfg.Server.Address()))

	serveErr := server.StartWithContext(ctx)

	st.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.close(shutdownCtx); err != nil {
		st.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("服务异常退出: %w", serveErr)
	}
	return nil
}
