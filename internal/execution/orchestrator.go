// Package execution 管理测试用例执行的生命周期：受理、顺序执行步骤、
// 停止、终态判定，以及有界的执行记录存储。
package execution

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/internal/executor"
	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/internal/notify"
	"yqhp/web-runner/pkg/types"
)

// ErrQueueFull 未结束的执行数已达上限
var ErrQueueFull = errors.New("执行队列已满，请稍后重试")

// Correlator 在执行结束后关联外部报告文件，返回报告路径。
// since 为该执行获得浏览器会话的时间，早于它生成的报告不属于本次执行
type Correlator interface {
	Correlate(ctx context.Context, rec *types.ExecutionRecord, since time.Time) (string, error)
}

// Config 编排器配置
type Config struct {
	DefaultMode        types.Mode
	FailurePolicy      types.FailurePolicy
	Timeouts           types.TimeoutConfig
	ScreenshotEachStep bool
	StepInterval       time.Duration
	NotifyTimeout      time.Duration
	// MaxPending 运行中与排队中的执行总数上限，0 表示不限
	MaxPending int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultMode:        types.ModeHeadless,
		FailurePolicy:      types.FailurePolicyContinue,
		Timeouts:           types.DefaultTimeoutConfig(),
		ScreenshotEachStep: true,
		StepInterval:       500 * time.Millisecond,
		NotifyTimeout:      30 * time.Second,
		MaxPending:         10,
	}
}

// Option 编排器可选项
type Option func(*Orchestrator)

// WithNotifiers 注册执行开始与结束回调
func WithNotifiers(n ...notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifiers = append(o.notifiers, n...) }
}

// WithCorrelator 设置报告关联器
func WithCorrelator(c Correlator) Option {
	return func(o *Orchestrator) { o.correlator = c }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// SubmitRequest 一次执行请求
type SubmitRequest struct {
	Testcase  *types.Testcase
	Mode      string
	Timeouts  *types.TimeoutConfig
	OnFailure string
}

// Status 服务状态
type Status struct {
	BrowserInitialized bool
	Running            int
	Total              int
	Uptime             time.Duration
}

// Orchestrator 执行编排器
type Orchestrator struct {
	config     Config
	store      *Store
	sessions   *browser.Manager
	executor   *executor.Executor
	events     notify.Publisher
	notifiers  []notify.Notifier
	correlator Correlator
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// 同一时间只有一个执行占用浏览器会话
	gate *semaphore.Weighted

	// admit 保证记录写入顺序与受理顺序一致，并保护 pending
	admit   sync.Mutex
	pending int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// New 创建编排器
func New(cfg Config, store *Store, sessions *browser.Manager, exec *executor.Executor, events notify.Publisher, opts ...Option) *Orchestrator {
	if events == nil {
		events = notify.Nop
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = types.ModeHeadless
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = types.FailurePolicyContinue
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	cfg.Timeouts = cfg.Timeouts.WithDefaults(types.DefaultTimeoutConfig())

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		config:   cfg,
		store:    store,
		sessions: sessions,
		executor: exec,
		events:   events,
		gate:     semaphore.NewWeighted(1),
		baseCtx:  ctx,
		cancel:   cancel,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("execution")
	store.OnEvict(o.evicted)
	return o
}

func (o *Orchestrator) evicted(r *Record) {
	o.metrics.RecordEvicted()
	o.logger.Debug("execution record evicted",
		zap.String("execution_id", r.ID()),
		zap.String("status", string(r.Status())))
}

type plan struct {
	record   *Record
	testcase *types.Testcase
	mode     types.Mode
	policy   types.FailurePolicy
	timeouts types.TimeoutConfig

	// 以下字段只由执行该 plan 的 goroutine 访问
	gated     bool
	acquired  time.Time
	finalized bool
	// 每个 notifier 的开始回调完成后关闭
	started []chan struct{}
}

func (o *Orchestrator) prepare(req SubmitRequest) (*plan, error) {
	if err := req.Testcase.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTestcase, err)
	}

	mode := o.config.DefaultMode
	if req.Mode != "" {
		m, err := types.ParseMode(req.Mode)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTestcase, err)
		}
		mode = m
	}
	policy, err := types.ParseFailurePolicy(req.OnFailure, o.config.FailurePolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTestcase, err)
	}
	timeouts := o.config.Timeouts
	if req.Timeouts != nil {
		timeouts = req.Timeouts.WithDefaults(o.config.Timeouts)
	}

	o.admit.Lock()
	defer o.admit.Unlock()
	if o.config.MaxPending > 0 && o.pending >= o.config.MaxPending {
		o.metrics.ExecutionRejected()
		o.logger.Warn("execution rejected, queue full", zap.Int("pending", o.pending))
		return nil, ErrQueueFull
	}
	o.pending++

	id := "exec_" + uuid.NewString()
	rec := newRecord(id, req.Testcase, mode, policy, timeouts)
	o.store.Put(rec)

	return &plan{record: rec, testcase: req.Testcase, mode: mode, policy: policy, timeouts: timeouts}, nil
}

func (o *Orchestrator) leave() {
	o.admit.Lock()
	o.pending--
	o.admit.Unlock()
}

// Pending 运行中与排队中的执行数
func (o *Orchestrator) Pending() int {
	o.admit.Lock()
	defer o.admit.Unlock()
	return o.pending
}

// Submit 校验并受理执行请求，立即返回执行 ID，步骤在后台执行
func (o *Orchestrator) Submit(req SubmitRequest) (string, error) {
	p, err := o.prepare(req)
	if err != nil {
		return "", err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(o.baseCtx, p)
	}()
	return p.record.ID(), nil
}

// Run 同步执行，返回最终记录
func (o *Orchestrator) Run(ctx context.Context, req SubmitRequest) (*types.ExecutionRecord, error) {
	p, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	o.wg.Add(1)
	defer o.wg.Done()
	o.run(ctx, p)
	return p.record.Snapshot(), nil
}

func (o *Orchestrator) run(ctx context.Context, p *plan) {
	rec := p.record
	id := rec.ID()
	total := len(p.testcase.Steps)
	log := o.logger.With(zap.String("execution_id", id))

	// 先写终态并释放会话，再让出 gate
	defer func() {
		if r := recover(); r != nil {
			log.Error("execution panicked", zap.Any("panic", r))
			o.finalize(p, fmt.Sprintf("执行异常: %v", r), true)
		}
		if p.gated {
			o.gate.Release(1)
		}
		o.leave()
	}()

	o.metrics.ExecutionStarted()
	o.events.Publish(types.NewEvent(types.EventExecutionStart, id, types.ExecutionStartData{
		Testcase:   p.testcase.Name,
		Mode:       p.mode,
		TotalSteps: total,
	}))
	o.events.Publish(types.NewLogEvent(id, types.LogLevelInfo,
		fmt.Sprintf("开始执行测试用例: %s (%d 个步骤, %s 模式)", p.testcase.Name, total, p.mode)))
	log.Info("execution started", zap.String("testcase", p.testcase.Name), zap.Int("steps", total))
	o.notifyStarted(p)

	if err := o.gate.Acquire(ctx, 1); err != nil {
		o.finalize(p, "执行已取消: "+err.Error(), true)
		return
	}
	p.gated = true

	if rec.Status() != types.ExecutionStatusRunning {
		o.finalize(p, "", false)
		return
	}

	sess, err := o.sessions.Acquire(ctx, p.mode.Headless(), p.timeouts)
	if err != nil {
		msg := "浏览器初始化失败: " + err.Error()
		log.Error("session acquire failed", zap.Error(err))
		o.events.Publish(types.NewLogEvent(id, types.LogLevelError, msg))
		o.finalize(p, msg, true)
		return
	}
	p.acquired = time.Now()
	o.metrics.SessionAcquired()

	anyFailed, errMsg := o.runSteps(ctx, p, sess)
	o.finalize(p, errMsg, anyFailed)
}

func (o *Orchestrator) runSteps(ctx context.Context, p *plan, sess *browser.Session) (bool, string) {
	rec := p.record
	id := rec.ID()
	total := len(p.testcase.Steps)
	anyFailed := false
	errMsg := ""

	for i, s := range p.testcase.Steps {
		if rec.Status() != types.ExecutionStatusRunning {
			break
		}
		if ctx.Err() != nil {
			anyFailed = true
			errMsg = "执行已取消"
			break
		}

		label := s.Label()
		o.events.Publish(types.NewEvent(types.EventStepProgress, id, types.StepProgressData{
			StepIndex:  i,
			TotalSteps: total,
			Step:       label,
			Progress:   progress(i, total),
		}))

		res := o.executor.Execute(ctx, &executor.Request{
			Step:        s,
			Session:     sess,
			ExecutionID: id,
			Index:       i,
			Total:       total,
			Timeouts:    p.timeouts,
			Recorder:    rec,
		})
		rec.AddStep(*res)

		if o.config.ScreenshotEachStep {
			o.captureViewport(ctx, id, i, sess)
		}

		if !res.IsSuccess() {
			anyFailed = true
			if p.policy == types.FailurePolicyAbort {
				errMsg = fmt.Sprintf("步骤 %d 执行失败，已中止: %s", i+1, res.Error)
				o.events.Publish(types.NewStepLogEvent(id, i, types.LogLevelWarning, errMsg))
				break
			}
		}

		if i < total-1 && o.config.StepInterval > 0 {
			sleep(ctx, o.config.StepInterval)
		}
	}

	if anyFailed && errMsg == "" {
		errMsg = "部分步骤执行失败"
	}
	return anyFailed, errMsg
}

// finalize 写入终态、发布完成事件，然后释放会话、关联报告并回调。
// 只有持有 gate 的执行才释放会话，只有获得过会话的执行才关联报告
func (o *Orchestrator) finalize(p *plan, errMsg string, failed bool) {
	if p.finalized {
		return
	}
	p.finalized = true
	rec := p.record
	id := rec.ID()

	status := types.ExecutionStatusSuccess
	if failed {
		status = types.ExecutionStatusFailed
	}
	if rec.finish(status, errMsg) {
		snap := rec.Snapshot()
		report := types.NewExecutionReport(snap)
		message := "测试用例执行成功"
		level := types.LogLevelSuccess
		if failed {
			message = "测试用例执行失败"
			level = types.LogLevelError
		}
		o.events.Publish(types.NewLogEvent(id, level, fmt.Sprintf("%s (%d/%d 步骤成功, %dms)",
			message, report.Summary.Successful, report.Summary.Total, snap.Duration)))
		o.events.Publish(types.NewEvent(types.EventExecutionCompleted, id, types.ExecutionTerminalData{
			Status:   status,
			Success:  !failed,
			Message:  message,
			Error:    snap.Error,
			Duration: snap.Duration,
			Summary:  report.Summary,
		}))
	}

	snap := rec.Snapshot()
	o.metrics.ExecutionFinished(string(snap.Status), time.Duration(snap.Duration)*time.Millisecond)
	o.logger.Info("execution finished",
		zap.String("execution_id", id),
		zap.String("status", string(snap.Status)),
		zap.Int64("duration_ms", snap.Duration))

	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if p.gated {
		if err := o.sessions.Release(releaseCtx); err != nil {
			o.logger.Warn("release session failed", zap.String("execution_id", id), zap.Error(err))
		}
	}

	if o.correlator != nil && !p.acquired.IsZero() {
		path, err := o.correlator.Correlate(releaseCtx, snap, p.acquired)
		if err != nil {
			o.logger.Debug("report correlation skipped", zap.String("execution_id", id), zap.Error(err))
		} else if path != "" {
			rec.SetReportPath(path)
		}
	}

	o.notifyFinished(p)
}

func (o *Orchestrator) captureViewport(ctx context.Context, id string, index int, sess *browser.Session) {
	data, err := sess.Page.Screenshot(ctx, browser.ScreenshotOptions{})
	if err != nil {
		o.events.Publish(types.NewStepLogEvent(id, index, types.LogLevelWarning, "截图失败: "+err.Error()))
		return
	}
	o.events.Publish(types.NewEvent(types.EventScreenshotTaken, id, types.ScreenshotData{
		StepIndex:  index,
		Screenshot: base64.StdEncoding.EncodeToString(data),
	}))
}

// notifyStarted 异步回调开始事件，失败只记录日志
func (o *Orchestrator) notifyStarted(p *plan) {
	snap := p.record.Snapshot()
	p.started = make([]chan struct{}, len(o.notifiers))
	for i, n := range o.notifiers {
		n := n
		done := make(chan struct{})
		p.started[i] = done
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer close(done)
			o.callNotifier(n, snap, true)
		}()
	}
}

// notifyFinished 在同一 notifier 的开始回调返回后再回调结束事件
func (o *Orchestrator) notifyFinished(p *plan) {
	snap := p.record.Snapshot()
	for i, n := range o.notifiers {
		n := n
		var done chan struct{}
		if i < len(p.started) {
			done = p.started[i]
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if done != nil {
				<-done
			}
			o.callNotifier(n, snap, false)
		}()
	}
}

func (o *Orchestrator) callNotifier(n notify.Notifier, snap *types.ExecutionRecord, started bool) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.NotifyTimeout)
	defer cancel()
	var err error
	if started {
		err = n.ExecutionStarted(ctx, snap)
	} else {
		err = n.ExecutionFinished(ctx, snap)
	}
	if err != nil {
		o.logger.Warn("notifier failed",
			zap.String("notifier", n.Name()),
			zap.String("execution_id", snap.ID),
			zap.Error(err))
	}
}

// Stop 停止运行中的执行。返回 false 表示执行已处于终态
func (o *Orchestrator) Stop(id string) (bool, error) {
	rec, err := o.store.Get(id)
	if err != nil {
		return false, err
	}
	if !rec.Stop() {
		return false, nil
	}

	snap := rec.Snapshot()
	report := types.NewExecutionReport(snap)
	o.events.Publish(types.NewLogEvent(id, types.LogLevelWarning, "执行已被停止"))
	o.events.Publish(types.NewEvent(types.EventExecutionStopped, id, types.ExecutionTerminalData{
		Status:   types.ExecutionStatusStopped,
		Message:  "执行已停止",
		Duration: snap.Duration,
		Summary:  report.Summary,
	}))
	o.logger.Info("execution stopped", zap.String("execution_id", id))
	return true, nil
}

// Get 返回执行记录快照
func (o *Orchestrator) Get(id string) (*types.ExecutionRecord, error) {
	rec, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	return rec.Snapshot(), nil
}

// Report 生成执行报告
func (o *Orchestrator) Report(id string) (*types.ExecutionReport, error) {
	snap, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	return types.NewExecutionReport(snap), nil
}

// List 按受理顺序从新到旧返回所有记录
func (o *Orchestrator) List() []*types.ExecutionRecord {
	records := o.store.List()
	out := make([]*types.ExecutionRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r.Snapshot())
	}
	return out
}

// Status 返回服务状态
func (o *Orchestrator) Status() Status {
	running, total := o.store.Counts()
	return Status{
		BrowserInitialized: o.sessions.Initialized(),
		Running:            running,
		Total:              total,
		Uptime:             time.Since(o.started),
	}
}

// Sessions 返回会话管理器，供单动作接口复用
func (o *Orchestrator) Sessions() *browser.Manager {
	return o.sessions
}

// Timeouts 返回默认超时
func (o *Orchestrator) Timeouts() types.TimeoutConfig {
	return o.config.Timeouts
}

// Wait 等待所有后台执行与回调结束
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown 取消后台执行并等待其结束，然后关闭浏览器
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for executions: %w", ctx.Err())
	}
	if relErr := o.sessions.Release(ctx); relErr != nil {
		err = errors.Join(err, relErr)
	}
	return err
}

func progress(index, total int) int {
	if total <= 0 {
		return 0
	}
	return (index*100 + total/2) / total
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
