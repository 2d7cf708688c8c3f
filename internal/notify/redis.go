package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yqhp/web-runner/internal/config"
	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/pkg/types"
)

const (
	redisBuffer         = 1024
	redisPublishTimeout = 3 * time.Second
)

// RedisSink 把事件以 JSON 发布到 Redis 频道，供其他进程订阅
type RedisSink struct {
	client  redis.UniversalClient
	channel string
	queue   chan types.Event
	metrics *metrics.Metrics
	logger  *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisClient 由配置创建客户端
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisSink 创建并启动 Redis 下游
func NewRedisSink(client redis.UniversalClient, channel string, m *metrics.Metrics, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "web-runner:events"
	}
	s := &RedisSink{
		client:  client,
		channel: channel,
		queue:   make(chan types.Event, redisBuffer),
		metrics: m,
		logger:  logger.Named("redis"),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Name 实现 Sink
func (s *RedisSink) Name() string { return "redis" }

// Channel 发布频道
func (s *RedisSink) Channel() string { return s.channel }

// Deliver 实现 Sink，队列满或已关闭时丢弃
func (s *RedisSink) Deliver(ev types.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- ev:
	default:
		s.metrics.EventDropped(s.Name())
	}
}

// Close 发送完队列中剩余的事件后停止
func (s *RedisSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return s.client.Close()
}

func (s *RedisSink) loop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			s.publish(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.queue:
					s.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisSink) publish(ev types.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("marshal event failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		s.metrics.EventDropped(s.Name())
		s.logger.Debug("publish failed", zap.String("channel", s.channel), zap.Error(err))
	}
}
