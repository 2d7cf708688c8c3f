// Package cmd 提供 web-runner CLI 的命令实现
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
   __      __   _      ___
   \ \    / /__| |__  | _ \_  _ _ _  _ _  ___ _ _
    \ \/\/ / -_) '_ \ |   / || | ' \| ' \/ -_) '_|
     \_/\_/\___|_.__/ |_|_\\_,_|_||_|_||_\___|_|   %s
`
)

var (
	// 全局配置
	cfgFile string
	debug   bool
	quiet   bool
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "web-runner",
	Short: "AI 驱动的 Web 测试执行服务",
	Long: `web-runner 接收测试用例，通过 AI 代理驱动浏览器逐步执行，
并以 HTTP 接口提供执行状态与报告，以 WebSocket 推送实时事件。`,
	Version: Version,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}
