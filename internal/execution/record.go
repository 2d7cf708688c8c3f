package execution

import (
	"sync"
	"time"

	"yqhp/web-runner/pkg/types"
)

// Record 一次执行的可变状态。运行协程、HTTP 读取与停止请求会并发访问，
// 所有读写都经过 mu。
type Record struct {
	mu  sync.RWMutex
	rec types.ExecutionRecord
}

func newRecord(id string, tc *types.Testcase, mode types.Mode, policy types.FailurePolicy, timeouts types.TimeoutConfig) *Record {
	return &Record{rec: types.ExecutionRecord{
		ID:            id,
		Status:        types.ExecutionStatusRunning,
		Testcase:      tc.Name,
		Mode:          mode,
		FailurePolicy: policy,
		Timeouts:      timeouts,
		StartTime:     time.Now(),
		TotalSteps:    len(tc.Steps),
		Steps:         []types.StepResult{},
		Logs:          []types.LogEntry{},
		Screenshots:   []types.ScreenshotEntry{},
	}}
}

// ID 执行 ID
func (r *Record) ID() string {
	return r.rec.ID
}

// Status 当前状态
func (r *Record) Status() types.ExecutionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rec.Status
}

// StartTime 开始时间
func (r *Record) StartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rec.StartTime
}

// AddStep 追加步骤结果
func (r *Record) AddStep(res types.StepResult) {
	r.mu.Lock()
	r.rec.Steps = append(r.rec.Steps, res)
	r.mu.Unlock()
}

// AppendLog 追加日志
func (r *Record) AppendLog(entry types.LogEntry) {
	r.mu.Lock()
	r.rec.Logs = append(r.rec.Logs, entry)
	r.mu.Unlock()
}

// AddScreenshot 追加截图记录
func (r *Record) AddScreenshot(entry types.ScreenshotEntry) {
	r.mu.Lock()
	r.rec.Screenshots = append(r.rec.Screenshots, entry)
	r.mu.Unlock()
}

// SetReportPath 记录关联的报告文件
func (r *Record) SetReportPath(path string) {
	r.mu.Lock()
	r.rec.ReportPath = path
	r.mu.Unlock()
}

// Stop running 时转为 stopped 并返回 true，终态下不做任何修改
func (r *Record) Stop() bool {
	return r.finish(types.ExecutionStatusStopped, "")
}

// finish 只允许从 running 转到终态，终态一旦写入不再改变
func (r *Record) finish(status types.ExecutionStatus, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.Status != types.ExecutionStatusRunning {
		return false
	}
	now := time.Now()
	r.rec.Status = status
	r.rec.EndTime = &now
	r.rec.Duration = now.Sub(r.rec.StartTime).Milliseconds()
	if errMsg != "" {
		r.rec.Error = errMsg
	}
	return true
}

// Snapshot 返回记录的深拷贝
func (r *Record) Snapshot() *types.ExecutionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.rec
	out.Steps = append([]types.StepResult{}, r.rec.Steps...)
	out.Logs = append([]types.LogEntry{}, r.rec.Logs...)
	out.Screenshots = append([]types.ScreenshotEntry{}, r.rec.Screenshots...)
	if r.rec.EndTime != nil {
		end := *r.rec.EndTime
		out.EndTime = &end
	}
	return &out
}
