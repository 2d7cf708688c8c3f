package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"yqhp/web-runner/internal/execution"
	"yqhp/web-runner/pkg/logger"
	"yqhp/web-runner/pkg/types"
)

var (
	runMode       string
	runOnFailure  string
	runJSONOutput string
)

// runCmd 在当前进程内同步执行一个测试用例文件
var runCmd = &cobra.Command{
	Use:   "run <testcase.yaml|testcase.json>",
	Short: "本地执行测试用例文件",
	Example: `  # 无头模式执行
  web-runner run login.yaml

  # 有界面模式，首个失败步骤后中止
  web-runner run --mode browser --on-failure abort login.json

  # 输出执行报告
  web-runner run --out-json report.json login.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTestcase,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMode, "mode", "", "浏览器模式 (headless, browser)")
	runCmd.Flags().StringVar(&runOnFailure, "on-failure", "", "步骤失败策略 (continue, abort)")
	runCmd.Flags().StringVar(&runJSONOutput, "out-json", "", "输出 JSON 报告到文件")
}

// loadTestcase 按扩展名解析测试用例，.json 以外的文件按 YAML 处理
func loadTestcase(path string) (*types.Testcase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取测试用例失败: %w", err)
	}

	tc := &types.Testcase{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, tc)
	} else {
		err = yaml.Unmarshal(data, tc)
	}
	if err != nil {
		return nil, fmt.Errorf("解析测试用例失败: %w", err)
	}
	if tc.Name == "" {
		tc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tc, nil
}

func runTestcase(cmd *cobra.Command, args []string) error {
	tc, err := loadTestcase(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(map[string]string{})
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
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = st.close(closeCtx)
	}()

	out := cmd.OutOrStdout()
	if !quiet {
		fmt.Fprintf(out, Banner, Version)
		fmt.Fprintf(out, "\n  %s\n  步骤数: %d\n\n", tc.Name, len(tc.Steps))
	}

	rec, err := st.orch.Run(ctx, execution.SubmitRequest{
		Testcase:  tc,
		Mode:      runMode,
		OnFailure: runOnFailure,
	})
	if err != nil {
		return fmt.Errorf("执行失败: %w", err)
	}

	report := types.NewExecutionReport(rec)
	if !quiet {
		printReport(out, report)
	}
	if runJSONOutput != "" {
		if err := writeReport(runJSONOutput, report); err != nil {
			return fmt.Errorf("写入 JSON 输出失败: %w", err)
		}
	}

	if report.Status != types.ExecutionStatusSuccess {
		return fmt.Errorf("测试用例未通过: %s", report.Status)
	}
	return nil
}

func printReport(w io.Writer, r *types.ExecutionReport) {
	for _, s := range r.Steps {
		mark := "✓"
		if !s.IsSuccess() {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s [%d] %s (%dms)\n", mark, s.Index+1, s.Description, s.Duration)
		if s.Error != "" {
			fmt.Fprintf(w, "      %s\n", s.Error)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "     状态...............: %s\n", r.Status)
	fmt.Fprintf(w, "     总耗时.............: %s\n", time.Duration(r.Summary.Duration)*time.Millisecond)
	fmt.Fprintf(w, "     步骤...............: %d 总计, %d 成功, %d 失败\n",
		r.Summary.Total, r.Summary.Successful, r.Summary.Failed)
	if len(r.Steps) > 0 {
		h := stepLatency(r.Steps)
		fmt.Fprintf(w, "     步骤耗时...........: avg=%.0fms p50=%dms p95=%dms max=%dms\n",
			h.Mean(), h.ValueAtQuantile(50), h.ValueAtQuantile(95), h.Max())
	}
	if r.Error != "" {
		fmt.Fprintf(w, "     错误...............: %s\n", r.Error)
	}
	if r.ReportPath != "" {
		fmt.Fprintf(w, "     报告...............: %s\n", r.ReportPath)
	}
}

// stepLatency 统计步骤耗时分布 (ms)，上限一小时
func stepLatency(steps []types.StepResult) *hdrhistogram.Histogram {
	h := hdrhistogram.New(1, int64(time.Hour/time.Millisecond), 3)
	for _, s := range steps {
		_ = h.RecordValue(s.Duration)
	}
	return h
}

func writeReport(path string, r *types.ExecutionReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
