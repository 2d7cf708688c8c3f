package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/web-runner/internal/config"
	"yqhp/web-runner/pkg/types"
)

const sample = `<html><head><title>r</title></head><body>
<div class="summary">总览</div>
<div data-section="metrics">指标</div>
<div class="timeline">步骤时间线</div>
</body></html>`

func writeReport(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))
	require.NoError(t, os.Chtimes(p, mod, mod))
	return p
}

func record(start time.Time) *types.ExecutionRecord {
	return &types.ExecutionRecord{
		ID:         "exec_1",
		Testcase:   "登录 <admin>",
		Status:     types.ExecutionStatusFailed,
		StartTime:  start,
		Duration:   1200,
		TotalSteps: 3,
		Steps: []types.StepResult{
			{Status: types.StepStatusSuccess},
			{Status: types.StepStatusFailed},
		},
	}
}

func TestCorrelate_SimplifiesNewestReport(t *testing.T) {
	dir := t.TempDir()
	start := time.Now().Add(-time.Minute)
	writeReport(t, dir, "old.html", start.Add(10*time.Second))
	newest := writeReport(t, dir, "new.html", start.Add(20*time.Second))
	writeReport(t, dir, "newer-simplified.html", start.Add(30*time.Second))

	c := New(config.ReportConfig{Dir: dir, StripSelectors: []string{".summary", "[data-section=metrics]"}}, nil)
	out, err := c.Correlate(context.Background(), record(start), start)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(newest, ".html")+"-simplified.html", out)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)

	assert.Zero(t, doc.Find(".summary").Length())
	assert.Zero(t, doc.Find("[data-section=metrics]").Length())
	assert.Equal(t, 1, doc.Find(".timeline").Length())

	head := doc.Find("body").Children().First()
	assert.Equal(t, "web-runner-summary", head.AttrOr("id", ""))
	assert.Equal(t, "登录 <admin>", head.Find("h2").Text())
	assert.Contains(t, head.Text(), "exec_1")
	assert.Contains(t, head.Text(), "3 总计, 1 成功, 1 失败")
}

func TestCorrelate_IgnoresStaleReports(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()
	writeReport(t, dir, "stale.html", start.Add(-time.Hour))

	c := New(config.ReportConfig{Dir: dir}, nil)
	_, err := c.Correlate(context.Background(), record(start), start)
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestCorrelate_UsesSessionAcquireTime(t *testing.T) {
	dir := t.TempDir()
	start := time.Now().Add(-time.Minute)
	acquired := start.Add(30 * time.Second)
	// 排队期间由上一个执行生成的报告
	writeReport(t, dir, "previous.html", start.Add(10*time.Second))

	c := New(config.ReportConfig{Dir: dir}, nil)
	_, err := c.Correlate(context.Background(), record(start), acquired)
	assert.ErrorIs(t, err, ErrNoReport)

	own := writeReport(t, dir, "own.html", acquired.Add(5*time.Second))
	out, err := c.Correlate(context.Background(), record(start), acquired)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(own, ".html")+"-simplified.html", out)
}

func TestCorrelate_MissingDir(t *testing.T) {
	c := New(config.ReportConfig{Dir: filepath.Join(t.TempDir(), "nope")}, nil)
	now := time.Now()
	_, err := c.Correlate(context.Background(), record(now), now)
	assert.ErrorIs(t, err, ErrNoReport)
}
