package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	Group     string      `json:"group,omitempty"`

	gen uint64 // 订阅代数，过期订阅的快照丢弃
}

// Feed subscribes to a group's content. push must be called with the full
// current value on every change; stop ends the subscription.
type Feed func(ctx context.Context, group string, push func(v interface{})) (stop func(), err error)

// Connection 表示一个WebSocket连接
type Connection struct {
	ID       string
	Group    string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	mu       sync.RWMutex
	LastPing time.Time
	IsAlive  bool
}

// groupState 每个组一份上游订阅
type groupState struct {
	conns  map[string]*Connection
	gen    uint64
	cancel context.CancelFunc
	latest []byte // 最近一次快照，新连接先收到它
}

// Hub 管理所有WebSocket连接。每个组（频道）在有连接时持有一个上游订阅，
// 快照按到达顺序经 run 循环发给组内连接。
type Hub struct {
	feed   Feed
	config *Config
	log    *logrus.Entry

	mu              sync.RWMutex
	connections     map[string]*Connection
	groups          map[string]*groupState
	connectionCount int64
	nextGen         uint64

	broadcast  chan *Message
	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub 创建新的Hub实例
func NewHub(config *Config, feed Feed) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		feed:        feed,
		config:      config,
		log:         logrus.WithField("component", "websocket"),
		connections: make(map[string]*Connection),
		groups:      make(map[string]*groupState),
		broadcast:   make(chan *Message, config.MessageQueueSize),
		register:    make(chan *Connection, 64),
		unregister:  make(chan *Connection, 64),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go hub.run()
	return hub
}

// run Hub主循环
func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case message := <-h.broadcast:
			h.deliver(message)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// registerConnection 注册连接，组内第一个连接启动上游订阅
func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connectionCount >= h.config.MaxConnections {
		h.log.Warnf("达到最大连接数限制: %d", h.config.MaxConnections)
		// 不登记，读协程退出时的注销是空操作
		if conn.Conn != nil {
			conn.Conn.Close()
		}
		return
	}
	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)

	g := h.groups[conn.Group]
	if g == nil {
		h.nextGen++
		ctx, cancel := context.WithCancel(h.ctx)
		g = &groupState{conns: make(map[string]*Connection), gen: h.nextGen, cancel: cancel}
		h.groups[conn.Group] = g
		go h.follow(ctx, conn.Group, g.gen)
	}
	g.conns[conn.ID] = conn
	if g.latest != nil {
		h.trySend(conn, g.latest)
	}

	h.log.WithFields(logrus.Fields{"conn": conn.ID, "group": conn.Group, "total": h.connectionCount}).Info("WebSocket连接已注册")
}

// unregisterConnection 注销连接，组内最后一个连接离开时停止订阅
func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; !exists {
		return
	}
	delete(h.connections, conn.ID)
	atomic.AddInt64(&h.connectionCount, -1)
	if g := h.groups[conn.Group]; g != nil {
		delete(g.conns, conn.ID)
		if len(g.conns) == 0 {
			g.cancel()
			delete(h.groups, conn.Group)
		}
	}
	close(conn.Send)
	h.log.WithFields(logrus.Fields{"conn": conn.ID, "total": h.connectionCount}).Info("WebSocket连接已注销")
}

// follow 持有一个组的上游订阅直到 ctx 结束
func (h *Hub) follow(ctx context.Context, group string, gen uint64) {
	if h.feed == nil {
		return
	}
	stop, err := h.feed(ctx, group, func(v interface{}) {
		msg := &Message{Type: MessageTypeRecords, Data: v, Group: group, gen: gen}
		select {
		case h.broadcast <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		h.log.WithError(err).WithField("group", group).Warn("订阅失败")
		h.Publish(&Message{Type: MessageTypeError, Data: err.Error(), Group: group, gen: gen})
		return
	}
	<-ctx.Done()
	stop()
}

// Publish 向组内连接发送一条消息
func (h *Hub) Publish(msg *Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

func (h *Hub) deliver(message *Message) {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().UnixMilli()
	}
	// 单次序列化减少重复开销
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Errorf("消息序列化失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.groups[message.Group]
	if g == nil || (message.gen != 0 && message.gen != g.gen) {
		return
	}
	if message.Type == MessageTypeRecords {
		g.latest = data
	}
	for _, conn := range g.conns {
		if conn.IsAlive {
			h.trySend(conn, data)
		}
	}
}

// trySend 背压策略
func (h *Hub) trySend(conn *Connection, data []byte) {
	timeout := h.config.SendTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	select {
	case conn.Send <- data:
		return
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case conn.Send <- data:
	case <-t.C:
		h.log.WithField("conn", conn.ID).Warn(ErrSendBufferFull)
		if h.config.CloseOnBackpressure && conn.Conn != nil {
			conn.Conn.Close()
		}
	}
}

// checkHeartbeats 检查心跳
func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		conn.mu.RLock()
		last := conn.LastPing
		conn.mu.RUnlock()
		if now.Sub(last) > h.config.ConnectionTimeout && conn.Conn != nil {
			h.log.Warnf("连接 %s 心跳超时，准备关闭", conn.ID)
			conn.Conn.Close()
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetGroupConnections 获取组的连接数
func (h *Hub) GetGroupConnections(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if g := h.groups[group]; g != nil {
		return len(g.conns)
	}
	return 0
}

// Close 关闭Hub
func (h *Hub) Close() {
	h.cancel()
	<-h.done

	h.mu.Lock()
	for _, conn := range h.connections {
		if conn.Conn != nil {
			conn.Conn.Close()
		}
	}
	h.mu.Unlock()

	h.log.Info("WebSocket Hub已关闭")
}
