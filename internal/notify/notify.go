// Package notify 把执行事件分发给实时观察者和外部系统。
// 所有投递都是尽力而为，慢速或失败的下游不会阻塞执行。
package notify

import (
	"sync"

	"go.uber.org/zap"

	"yqhp/web-runner/pkg/types"
)

// Publisher 统一的事件发布端口
type Publisher interface {
	Publish(ev types.Event)
}

// PublisherFunc 函数形式的 Publisher
type PublisherFunc func(ev types.Event)

// Publish 实现 Publisher
func (f PublisherFunc) Publish(ev types.Event) { f(ev) }

// Nop 丢弃所有事件
var Nop Publisher = PublisherFunc(func(types.Event) {})

// Sink 事件下游，Deliver 不能阻塞
type Sink interface {
	Name() string
	Deliver(ev types.Event)
}

// LogAppender 把日志事件写回所属执行记录
type LogAppender interface {
	AppendLog(executionID string, entry types.LogEntry)
}

// Bus 事件总线：日志事件先写入执行记录，再广播给所有下游
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	logs   LogAppender
	logger *zap.Logger
}

// NewBus 创建事件总线
func NewBus(logs LogAppender, logger *zap.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		sinks:  sinks,
		logs:   logs,
		logger: logger.Named("notify"),
	}
}

// AddSink 注册下游
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish 发布事件
func (b *Bus) Publish(ev types.Event) {
	if ev.Type == types.EventLogMessage && ev.ExecutionID != "" && b.logs != nil {
		if entry, ok := ev.Data.(types.LogEntry); ok {
			b.logs.AppendLog(ev.ExecutionID, entry)
		}
	}

	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s Sink, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("sink panicked", zap.String("sink", s.Name()), zap.Any("panic", r))
		}
	}()
	s.Deliver(ev)
}
