package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/web-runner/internal/config"
	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/pkg/types"
)

type memLogs struct {
	mu      sync.Mutex
	entries map[string][]types.LogEntry
}

func (m *memLogs) AppendLog(id string, e types.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]types.LogEntry)
	}
	m.entries[id] = append(m.entries[id], e)
}

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ev types.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

type panicSink struct{}

func (panicSink) Name() string           { return "panic" }
func (panicSink) Deliver(ev types.Event) { panic("boom") }

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestBus_AppendsLogsAndFansOut(t *testing.T) {
	logs := &memLogs{}
	sink := &recordingSink{}
	bus := NewBus(logs, nil, panicSink{}, sink)

	bus.Publish(types.NewLogEvent("exec_1", types.LogLevelInfo, "开始执行"))
	bus.Publish(types.NewEvent(types.EventStepStart, "exec_1", types.StepStartData{StepIndex: 0}))
	bus.Publish(types.NewLogEvent("", types.LogLevelInfo, "no owner"))

	require.Len(t, logs.entries["exec_1"], 1)
	assert.Equal(t, "开始执行", logs.entries["exec_1"][0].Message)
	assert.Len(t, sink.events, 3)
}

func TestHub_FilterByExecution(t *testing.T) {
	hub := NewHub(nil, nil)
	all := hub.Subscribe("")
	one := hub.Subscribe("exec_a")
	defer hub.Unsubscribe(all)
	defer hub.Unsubscribe(one)

	hub.Deliver(types.NewEvent(types.EventStepStart, "exec_a", nil))
	hub.Deliver(types.NewEvent(types.EventStepStart, "exec_b", nil))
	hub.Deliver(types.NewEvent(types.EventServerStatus, "", types.ServerStatusData{Status: "ready"}))

	assert.Len(t, all.Messages(), 3)
	assert.Len(t, one.Messages(), 2)

	var ev types.Event
	require.NoError(t, json.Unmarshal(<-one.Messages(), &ev))
	assert.Equal(t, "exec_a", ev.ExecutionID)
	assert.Equal(t, types.EventStepStart, ev.Type)
}

func TestHub_DropsWhenClientIsSlow(t *testing.T) {
	m := metrics.New()
	hub := NewHub(m, nil)
	c := hub.Subscribe("")

	for i := 0; i < clientBuffer+5; i++ {
		hub.Deliver(types.NewEvent(types.EventStepProgress, "exec_1", nil))
	}

	assert.Len(t, c.Messages(), clientBuffer)
	assert.Contains(t, scrape(t, m), `web_runner_events_dropped_total{sink="websocket"} 5`)

	hub.Unsubscribe(c)
	assert.Equal(t, 0, hub.Count())
	select {
	case <-c.Done():
	default:
		t.Fatal("client not closed")
	}
}

// pipeConn 读操作阻塞到 Close，第 failAt 次写入失败
type pipeConn struct {
	mu      sync.Mutex
	writes  int
	failAt  int
	closed  chan struct{}
	once    sync.Once
	reading atomic.Bool
	reads   atomic.Int32
}

func newPipeConn(failAt int) *pipeConn {
	return &pipeConn{failAt: failAt, closed: make(chan struct{})}
}

func (p *pipeConn) ReadMessage() (int, []byte, error) {
	p.reads.Add(1)
	p.reading.Store(true)
	defer p.reading.Store(false)
	<-p.closed
	return 0, nil, io.EOF
}

func (p *pipeConn) WriteMessage(_ int, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	if p.writes == p.failAt {
		return io.ErrClosedPipe
	}
	return nil
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestHub_WriteFailureWaitsForReader(t *testing.T) {
	hub := NewHub(nil, nil)
	conn := newPipeConn(2)

	done := make(chan struct{})
	go func() {
		hub.serve(conn, "")
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.Count() == 1 && conn.reading.Load() }, time.Second, 5*time.Millisecond)
	hub.Deliver(types.NewLogEvent("exec_1", types.LogLevelInfo, "hello"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after write failure")
	}
	assert.False(t, conn.reading.Load())
	assert.Equal(t, int32(1), conn.reads.Load())
	assert.Zero(t, hub.Count())
}

func TestHub_ServeReturnsWhenPeerCloses(t *testing.T) {
	hub := NewHub(nil, nil)
	conn := newPipeConn(0)

	done := make(chan struct{})
	go func() {
		hub.serve(conn, "exec_1")
		close(done)
	}()
	require.Eventually(t, func() bool { return conn.reading.Load() }, time.Second, 5*time.Millisecond)
	_ = conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after peer closed")
	}
	assert.Zero(t, hub.Count())
}

func TestRedisSink_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, "events")
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(NewRedisClient(config.RedisConfig{Addr: mr.Addr()}), "events", nil, nil)
	sink.Deliver(types.NewEvent(types.EventExecutionStart, "exec_1", types.ExecutionStartData{Testcase: "登录", TotalSteps: 2}))

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)

	var ev types.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.Equal(t, types.EventExecutionStart, ev.Type)
	assert.Equal(t, "exec_1", ev.ExecutionID)

	require.NoError(t, sink.Close())
	assert.NotPanics(t, func() { sink.Deliver(types.NewEvent(types.EventStepStart, "exec_1", nil)) })
}

func TestWebhook_SendsFinalResult(t *testing.T) {
	var got CallbackPayload
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := NewWebhook(config.WebhookConfig{URL: server.URL, Headers: map[string]string{"Authorization": "Bearer x"}})
	end := time.Now()
	rec := &types.ExecutionRecord{
		ID:         "exec_1",
		Testcase:   "登录",
		Status:     types.ExecutionStatusFailed,
		EndTime:    &end,
		TotalSteps: 2,
		Steps: []types.StepResult{
			{Index: 0, Status: types.StepStatusSuccess},
			{Index: 1, Status: types.StepStatusFailed},
		},
	}

	require.NoError(t, w.ExecutionFinished(context.Background(), rec))
	assert.Equal(t, "Bearer x", auth)
	assert.Equal(t, CallbackFinished, got.Event)
	assert.Equal(t, types.ExecutionStatusFailed, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 2, got.Summary.Total)
	assert.Equal(t, 1, got.Summary.Failed)
}

func TestWebhook_Retry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := NewWebhook(config.WebhookConfig{URL: server.URL, RetryAttempts: 3, RetryDelay: time.Millisecond})
	require.NoError(t, w.ExecutionStarted(context.Background(), &types.ExecutionRecord{ID: "exec_1"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	w := NewWebhook(config.WebhookConfig{URL: server.URL, RetryAttempts: 1, RetryDelay: time.Millisecond})
	err := w.ExecutionStarted(context.Background(), &types.ExecutionRecord{ID: "exec_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.Contains(t, err.Error(), "upstream down")
}
