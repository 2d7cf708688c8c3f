package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/web-runner/internal/browser/browsertest"
	"yqhp/web-runner/internal/executor"
	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/internal/notify"
	"yqhp/web-runner/pkg/types"
)

type captureSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(ev types.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) count(id string, typ types.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.ExecutionID == id && ev.Type == typ {
			n++
		}
	}
	return n
}

func (s *captureSink) first(id string, typ types.EventType) (types.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ExecutionID == id && ev.Type == typ {
			return ev, true
		}
	}
	return types.Event{}, false
}

type fakeNotifier struct {
	mu       sync.Mutex
	started  []string
	finished []types.ExecutionStatus
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) ExecutionStarted(_ context.Context, rec *types.ExecutionRecord) error {
	n.mu.Lock()
	n.started = append(n.started, rec.ID)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) ExecutionFinished(_ context.Context, rec *types.ExecutionRecord) error {
	n.mu.Lock()
	n.finished = append(n.finished, rec.Status)
	n.mu.Unlock()
	return errors.New("callback endpoint down")
}

type fakeCorrelator struct {
	path string
	err  error

	mu    sync.Mutex
	ids   []string
	since []time.Time
}

func (c *fakeCorrelator) Correlate(_ context.Context, rec *types.ExecutionRecord, since time.Time) (string, error) {
	c.mu.Lock()
	c.ids = append(c.ids, rec.ID)
	c.since = append(c.since, since)
	c.mu.Unlock()
	return c.path, c.err
}

type harness struct {
	orch     *Orchestrator
	store    *Store
	launcher *browsertest.Launcher
	sink     *captureSink
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    NewStore(DefaultCapacity),
		launcher: browsertest.NewLauncher(),
		sink:     &captureSink{},
	}
	bus := notify.NewBus(h.store, nil, h.sink)
	m := metrics.New()
	exec := executor.New(executor.Config{ScreenshotDir: t.TempDir()}, bus, m, nil)

	cfg := DefaultConfig()
	cfg.StepInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithMetrics(m)}, opts...)
	h.orch = New(cfg, h.store, h.launcher.Manager(), exec, bus, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func loginTestcase() *types.Testcase {
	return &types.Testcase{
		Name: "登录",
		Steps: types.Steps{
			{Type: "goto", Params: map[string]any{"url": "https://example.com/login"}},
			{Type: "aiInput", Params: map[string]any{"locate": "用户名输入框", "text": "admin"}},
			{Type: "aiTap", Params: map[string]any{"locate": "登录按钮"}},
		},
	}
}

func TestSubmit_Success(t *testing.T) {
	h := newHarness(t, nil)

	id, err := h.orch.Submit(SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)
	assert.Regexp(t, `^exec_[0-9a-f-]{36}$`, id)

	h.orch.Wait()

	rec, err := h.orch.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSuccess, rec.Status)
	require.Len(t, rec.Steps, 3)
	for _, s := range rec.Steps {
		assert.True(t, s.IsSuccess(), s.Error)
	}
	require.NotNil(t, rec.EndTime)
	assert.NotEmpty(t, rec.Logs)

	assert.Equal(t, 1, h.sink.count(id, types.EventExecutionStart))
	assert.Equal(t, 3, h.sink.count(id, types.EventStepProgress))
	assert.Equal(t, 3, h.sink.count(id, types.EventStepCompleted))
	assert.Equal(t, 3, h.sink.count(id, types.EventScreenshotTaken))
	assert.Equal(t, 1, h.sink.count(id, types.EventExecutionCompleted))

	ev, ok := h.sink.first(id, types.EventScreenshotTaken)
	require.True(t, ok)
	assert.NotEmpty(t, ev.Data.(types.ScreenshotData).Screenshot)

	launches, closes := h.launcher.Counts()
	assert.Equal(t, 1, launches)
	assert.Equal(t, 1, closes)
	assert.True(t, h.launcher.Options[0].Headless)
}

func TestSubmit_MissingElementFailsButContinues(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.Agent.Missing["登录按钮"] = true

	tc := loginTestcase()
	tc.Steps = append(tc.Steps, types.Step{Type: "aiAssert", Params: map[string]any{"condition": "显示首页"}})

	id, err := h.orch.Submit(SubmitRequest{Testcase: tc, Mode: "browser"})
	require.NoError(t, err)
	h.orch.Wait()

	report, err := h.orch.Report(id)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, report.Status)
	assert.Equal(t, types.ModeBrowser, report.Mode)
	assert.Equal(t, 4, report.Summary.Total)
	assert.Equal(t, 3, report.Summary.Successful)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.Len(t, report.Steps, 4)
	assert.Equal(t, 1, h.sink.count(id, types.EventStepFailed))
	assert.False(t, h.launcher.Options[0].Headless)
}

func TestSubmit_AbortPolicy(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.Agent.Missing["用户名输入框"] = true

	id, err := h.orch.Submit(SubmitRequest{Testcase: loginTestcase(), OnFailure: "abort"})
	require.NoError(t, err)
	h.orch.Wait()

	rec, err := h.orch.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, rec.Status)
	assert.Equal(t, types.FailurePolicyAbort, rec.FailurePolicy)
	assert.Len(t, rec.Steps, 2)
	assert.Contains(t, rec.Error, "已中止")
}

func TestSubmit_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Submit(SubmitRequest{Testcase: &types.Testcase{Name: "空"}})
	assert.ErrorIs(t, err, ErrInvalidTestcase)
	assert.ErrorIs(t, err, types.ErrNoSteps)

	_, err = h.orch.Submit(SubmitRequest{})
	assert.ErrorIs(t, err, ErrInvalidTestcase)

	_, err = h.orch.Submit(SubmitRequest{Testcase: loginTestcase(), Mode: "kiosk"})
	assert.ErrorIs(t, err, ErrInvalidTestcase)

	_, err = h.orch.Submit(SubmitRequest{Testcase: loginTestcase(), OnFailure: "retry"})
	assert.ErrorIs(t, err, ErrInvalidTestcase)

	launches, _ := h.launcher.Counts()
	assert.Zero(t, launches)
	assert.Zero(t, h.store.Len())
}

func TestSubmit_LaunchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.Err = errors.New("chromium not installed")

	id, err := h.orch.Submit(SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)
	h.orch.Wait()

	rec, err := h.orch.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "chromium not installed")
	assert.Empty(t, rec.Steps)
	assert.Equal(t, 1, h.sink.count(id, types.EventExecutionCompleted))
}

func TestStop(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.Agent.Delay = 200 * time.Millisecond

	tc := &types.Testcase{Name: "慢", Steps: types.Steps{
		{Type: "ai", Params: map[string]any{"instruction": "第一步"}},
		{Type: "ai", Params: map[string]any{"instruction": "第二步"}},
		{Type: "ai", Params: map[string]any{"instruction": "第三步"}},
	}}
	id, err := h.orch.Submit(SubmitRequest{Testcase: tc})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.sink.count(id, types.EventStepStart) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	stopped, err := h.orch.Stop(id)
	require.NoError(t, err)
	assert.True(t, stopped)

	h.orch.Wait()

	rec, err := h.orch.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusStopped, rec.Status)
	assert.Less(t, len(rec.Steps), 3)
	assert.Equal(t, 1, h.sink.count(id, types.EventExecutionStopped))
	assert.Zero(t, h.sink.count(id, types.EventExecutionCompleted))

	stopped, err = h.orch.Stop(id)
	require.NoError(t, err)
	assert.False(t, stopped)

	_, err = h.orch.Stop("exec_unknown")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestRun_NotifiesAndCorrelates(t *testing.T) {
	n := &fakeNotifier{}
	h := newHarness(t, nil, WithNotifiers(n), WithCorrelator(&fakeCorrelator{path: "report/x-simplified.html"}))

	rec, err := h.orch.Run(context.Background(), SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSuccess, rec.Status)
	h.orch.Wait()

	got, err := h.orch.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "report/x-simplified.html", got.ReportPath)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{rec.ID}, n.started)
	assert.Equal(t, []types.ExecutionStatus{types.ExecutionStatusSuccess}, n.finished)
}

func TestList_NewestFirstAndStatus(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ScreenshotEachStep = false })

	first, err := h.orch.Run(context.Background(), SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := h.orch.Run(context.Background(), SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)

	list := h.orch.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	st := h.orch.Status()
	assert.Equal(t, 0, st.Running)
	assert.Equal(t, 2, st.Total)
	assert.False(t, st.BrowserInitialized)
}

func slowTestcase(name string) *types.Testcase {
	return &types.Testcase{Name: name, Steps: types.Steps{
		{Type: "ai", Params: map[string]any{"instruction": name + " 第一步"}},
		{Type: "ai", Params: map[string]any{"instruction": name + " 第二步"}},
		{Type: "ai", Params: map[string]any{"instruction": name + " 第三步"}},
	}}
}

func isStepEvent(typ types.EventType) bool {
	switch typ {
	case types.EventStepStart, types.EventStepProgress, types.EventStepCompleted, types.EventStepFailed, types.EventScreenshotTaken:
		return true
	}
	return false
}

func TestSubmit_ConcurrentRunsSerialize(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.Agent.Delay = 30 * time.Millisecond

	a, err := h.orch.Submit(SubmitRequest{Testcase: slowTestcase("A")})
	require.NoError(t, err)
	b, err := h.orch.Submit(SubmitRequest{Testcase: slowTestcase("B")})
	require.NoError(t, err)
	h.orch.Wait()

	for _, id := range []string{a, b} {
		rec, err := h.orch.Get(id)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionStatusSuccess, rec.Status)
		assert.Len(t, rec.Steps, 3)
	}

	h.sink.mu.Lock()
	events := append([]types.Event(nil), h.sink.events...)
	h.sink.mu.Unlock()

	// 步骤事件按执行分成连续的两段，第二段在第一段的完成事件之后才开始
	var order []string
	completedAt := map[string]int{}
	firstStepAt := map[string]int{}
	for i, ev := range events {
		if ev.Type == types.EventExecutionCompleted {
			completedAt[ev.ExecutionID] = i
		}
		if !isStepEvent(ev.Type) {
			continue
		}
		if _, ok := firstStepAt[ev.ExecutionID]; !ok {
			firstStepAt[ev.ExecutionID] = i
		}
		if len(order) == 0 || order[len(order)-1] != ev.ExecutionID {
			order = append(order, ev.ExecutionID)
		}
	}
	require.Len(t, order, 2, "step events interleaved: %v", order)
	assert.ElementsMatch(t, []string{a, b}, order)
	assert.Less(t, completedAt[order[0]], firstStepAt[order[1]])

	launches, closes := h.launcher.Counts()
	assert.Equal(t, 2, launches)
	assert.Equal(t, 2, closes)
}

func TestSubmit_QueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxPending = 2 })
	h.launcher.Agent.Delay = 100 * time.Millisecond

	a, err := h.orch.Submit(SubmitRequest{Testcase: slowTestcase("A")})
	require.NoError(t, err)
	b, err := h.orch.Submit(SubmitRequest{Testcase: slowTestcase("B")})
	require.NoError(t, err)

	_, err = h.orch.Submit(SubmitRequest{Testcase: slowTestcase("C")})
	assert.ErrorIs(t, err, ErrQueueFull)
	_, err = h.orch.Run(context.Background(), SubmitRequest{Testcase: slowTestcase("C")})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, h.store.Len())
	assert.Equal(t, 2, h.orch.Pending())

	_, err = h.orch.Stop(a)
	require.NoError(t, err)
	_, err = h.orch.Stop(b)
	require.NoError(t, err)
	h.orch.Wait()
	assert.Zero(t, h.orch.Pending())

	h.launcher.Agent.Delay = 0
	_, err = h.orch.Submit(SubmitRequest{Testcase: loginTestcase()})
	assert.NoError(t, err)
	h.orch.Wait()
}

func TestFinalize_QueuedRunSkipsCorrelation(t *testing.T) {
	corr := &fakeCorrelator{path: "report/a-simplified.html"}
	h := newHarness(t, nil, WithCorrelator(corr))
	h.launcher.Agent.Delay = 50 * time.Millisecond

	a, err := h.orch.Submit(SubmitRequest{Testcase: slowTestcase("A")})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.sink.count(a, types.EventStepStart) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	b, err := h.orch.Submit(SubmitRequest{Testcase: slowTestcase("B")})
	require.NoError(t, err)
	stopped, err := h.orch.Stop(b)
	require.NoError(t, err)
	require.True(t, stopped)
	h.orch.Wait()

	recA, err := h.orch.Get(a)
	require.NoError(t, err)
	recB, err := h.orch.Get(b)
	require.NoError(t, err)
	assert.Equal(t, "report/a-simplified.html", recA.ReportPath)
	assert.Empty(t, recB.ReportPath)
	assert.Empty(t, recB.Steps)

	corr.mu.Lock()
	defer corr.mu.Unlock()
	assert.Equal(t, []string{a}, corr.ids)
	require.Len(t, corr.since, 1)
	assert.False(t, corr.since[0].Before(recA.StartTime))
}

func TestRun_CancelledWhileQueuedKeepsOtherSession(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.Agent.Delay = 100 * time.Millisecond

	a, err := h.orch.Submit(SubmitRequest{Testcase: slowTestcase("A")})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.sink.count(a, types.EventStepStart) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	recB, err := h.orch.Run(ctx, SubmitRequest{Testcase: slowTestcase("B")})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, recB.Status)
	assert.Contains(t, recB.Error, "执行已取消")

	recA, err := h.orch.Get(a)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusRunning, recA.Status)
	assert.True(t, h.orch.Status().BrowserInitialized)
	_, closes := h.launcher.Counts()
	assert.Zero(t, closes)

	h.orch.Wait()
	recA, err = h.orch.Get(a)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSuccess, recA.Status)
}

type panicOnStep struct {
	inner notify.Publisher
	fired atomic.Bool
}

func (p *panicOnStep) Publish(ev types.Event) {
	if ev.Type == types.EventStepProgress && p.fired.CompareAndSwap(false, true) {
		panic("sink exploded")
	}
	p.inner.Publish(ev)
}

func TestRun_PanicReleasesSessionBeforeNextRun(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ScreenshotEachStep = false })
	h.orch.events = &panicOnStep{inner: h.orch.events}

	a, err := h.orch.Submit(SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)
	b, err := h.orch.Submit(SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)
	h.orch.Wait()

	var panicked, succeeded int
	for _, id := range []string{a, b} {
		rec, err := h.orch.Get(id)
		require.NoError(t, err)
		switch rec.Status {
		case types.ExecutionStatusFailed:
			assert.Contains(t, rec.Error, "执行异常")
			panicked++
		case types.ExecutionStatusSuccess:
			assert.Len(t, rec.Steps, 3)
			succeeded++
		}
	}
	assert.Equal(t, 1, panicked)
	assert.Equal(t, 1, succeeded)

	// 异常执行先关闭自己的会话，下一个执行重新启动浏览器
	launches, closes := h.launcher.Counts()
	assert.Equal(t, 2, launches)
	assert.Equal(t, 2, closes)
	assert.Zero(t, h.orch.Pending())
}

type orderNotifier struct {
	delay time.Duration

	mu    sync.Mutex
	calls []string
}

func (n *orderNotifier) Name() string { return "order" }

func (n *orderNotifier) ExecutionStarted(_ context.Context, rec *types.ExecutionRecord) error {
	time.Sleep(n.delay)
	n.mu.Lock()
	n.calls = append(n.calls, "started:"+rec.ID)
	n.mu.Unlock()
	return nil
}

func (n *orderNotifier) ExecutionFinished(_ context.Context, rec *types.ExecutionRecord) error {
	n.mu.Lock()
	n.calls = append(n.calls, "finished:"+rec.ID)
	n.mu.Unlock()
	return nil
}

func TestRun_FinishedNotifiedAfterStarted(t *testing.T) {
	slow := &orderNotifier{delay: 100 * time.Millisecond}
	fast := &orderNotifier{}
	h := newHarness(t, func(c *Config) { c.ScreenshotEachStep = false }, WithNotifiers(slow, fast))

	rec, err := h.orch.Run(context.Background(), SubmitRequest{Testcase: loginTestcase()})
	require.NoError(t, err)
	h.orch.Wait()

	want := []string{"started:" + rec.ID, "finished:" + rec.ID}
	for _, n := range []*orderNotifier{slow, fast} {
		n.mu.Lock()
		assert.Equal(t, want, n.calls)
		n.mu.Unlock()
	}
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, progress(0, 3))
	assert.Equal(t, 33, progress(1, 3))
	assert.Equal(t, 67, progress(2, 3))
	assert.Equal(t, 13, progress(1, 8))
	assert.Equal(t, 0, progress(0, 0))
}
