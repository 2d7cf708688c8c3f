// Package report 把浏览器代理生成的 HTML 报告与执行记录关联，
// 生成去掉汇总区块并带有执行摘要头部的精简版本。
package report

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"yqhp/web-runner/internal/config"
	"yqhp/web-runner/pkg/types"
)

const simplifiedSuffix = "-simplified.html"

// ErrNoReport 报告目录中没有可关联的报告
var ErrNoReport = errors.New("no report found")

// Correlator 报告关联器
type Correlator struct {
	dir       string
	selectors []string
	logger    *zap.Logger
}

// New 创建关联器
func New(cfg config.ReportConfig, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		dir:       cfg.Dir,
		selectors: cfg.StripSelectors,
		logger:    logger.Named("report"),
	}
}

// Correlate 处理 since（会话获取时间）之后生成的最新报告，返回精简报告路径。
// 文件修改时间精度有限，下界留 1s 余量。
func (c *Correlator) Correlate(ctx context.Context, rec *types.ExecutionRecord, since time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := c.latest(since.Add(-time.Second))
	if err != nil {
		return "", err
	}

	out, err := c.simplify(src, rec)
	if err != nil {
		return "", fmt.Errorf("simplify %s: %w", src, err)
	}
	c.logger.Info("report correlated",
		zap.String("execution_id", rec.ID),
		zap.String("source", src),
		zap.String("report", out))
	return out, nil
}

// latest 返回 since 之后修改的最新报告，跳过已精简的文件
func (c *Correlator) latest(since time.Time) (string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoReport
		}
		return "", err
	}

	var (
		newest  string
		newestT time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".html") || strings.HasSuffix(name, simplifiedSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(since) {
			continue
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest = filepath.Join(c.dir, name)
			newestT = info.ModTime()
		}
	}
	if newest == "" {
		return "", ErrNoReport
	}
	return newest, nil
}

func (c *Correlator) simplify(src string, rec *types.ExecutionRecord) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(f)
	f.Close()
	if err != nil {
		return "", err
	}

	for _, sel := range c.selectors {
		doc.Find(sel).Remove()
	}
	doc.Find("body").PrependHtml(header(rec))

	out, err := doc.Html()
	if err != nil {
		return "", err
	}
	dst := strings.TrimSuffix(src, ".html") + simplifiedSuffix
	if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func header(rec *types.ExecutionRecord) string {
	ok, failed := rec.StepCounts()
	total := max(rec.TotalSteps, len(rec.Steps))
	var b strings.Builder
	b.WriteString(`<div id="web-runner-summary" style="padding:12px;border-bottom:1px solid #ddd;font-family:sans-serif">`)
	fmt.Fprintf(&b, `<h2>%s</h2>`, html.EscapeString(rec.Testcase))
	fmt.Fprintf(&b, `<p>执行 ID: <code>%s</code></p>`, html.EscapeString(rec.ID))
	fmt.Fprintf(&b, `<p>状态: <strong class="status-%s">%s</strong> · 耗时 %dms</p>`,
		html.EscapeString(string(rec.Status)), html.EscapeString(string(rec.Status)), rec.Duration)
	fmt.Fprintf(&b, `<p>步骤: %d 总计, %d 成功, %d 失败</p>`, total, ok, failed)
	b.WriteString(`</div>`)
	return b.String()
}
