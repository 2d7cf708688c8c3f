package notify

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/pkg/types"
)

const clientBuffer = 256

// Client 一个实时观察者，filter 非空时只接收该执行的事件
type Client struct {
	id     uint64
	filter string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// Messages 返回待发送的消息
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Done 客户端关闭后返回
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) accepts(ev types.Event) bool {
	return c.filter == "" || ev.ExecutionID == "" || ev.ExecutionID == c.filter
}

// Hub WebSocket 观察者集合
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
	nextID  atomic.Uint64

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHub 创建 Hub
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[uint64]*Client),
		metrics: m,
		logger:  logger.Named("ws"),
	}
}

// Name 实现 Sink
func (h *Hub) Name() string { return "websocket" }

// Subscribe 注册观察者
func (h *Hub) Subscribe(filter string) *Client {
	c := &Client{
		id:     h.nextID.Add(1),
		filter: filter,
		send:   make(chan []byte, clientBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

// Unsubscribe 注销观察者
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// Count 当前观察者数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver 实现 Sink，缓冲区满的观察者会丢弃本条消息
func (h *Hub) Deliver(ev types.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("marshal event failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.accepts(ev) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.metrics.EventDropped(h.Name())
		}
	}
}

// wsConn 连接上 Hub 用到的读写操作
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Serve 处理一个 WebSocket 连接，直到连接关闭
func (h *Hub) Serve(conn *websocket.Conn) {
	h.serve(conn, conn.Query("executionId"))
}

// serve 返回前会关闭连接并等待读协程退出，返回后连接会被回收复用
func (h *Hub) serve(conn wsConn, filter string) {
	c := h.Subscribe(filter)
	defer h.Unsubscribe(c)

	h.logger.Debug("client connected", zap.Uint64("client", c.id), zap.String("filter", c.filter))

	hello, _ := json.Marshal(types.NewEvent(types.EventServerStatus, "", types.ServerStatusData{Status: "ready"}))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer c.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-readerDone
	}()

	for {
		select {
		case data := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("write failed", zap.Uint64("client", c.id), zap.Error(err))
				return
			}
		case <-c.done:
			h.logger.Debug("client disconnected", zap.Uint64("client", c.id))
			return
		}
	}
}
