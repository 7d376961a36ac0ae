// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	sendQueueLen = 256
)

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

var _ WebSocketConnection = (*websocket.Conn)(nil)

// StreamClient 订阅某个意识实例思绪的连接
type StreamClient struct {
	conn       WebSocketConnection
	instanceID uuid.UUID
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	closed     int32 // 原子操作标志，0=开启，1=关闭
	lastPing   int64 // 最后一次活跃时间 (unix nano)
}

func newStreamClient(conn WebSocketConnection, instanceID uuid.UUID) *StreamClient {
	return &StreamClient{
		conn:       conn,
		instanceID: instanceID,
		send:       make(chan []byte, sendQueueLen),
		done:       make(chan struct{}),
		lastPing:   time.Now().UnixNano(),
	}
}

// Close 安全关闭客户端连接
func (client *StreamClient) Close() {
	client.closeOnce.Do(func() {
		atomic.StoreInt32(&client.closed, 1)
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	})
}

// IsClosed 检查连接是否已关闭
func (client *StreamClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *StreamClient) UpdatePing() {
	atomic.StoreInt64(&client.lastPing, time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *StreamClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	last := time.Unix(0, atomic.LoadInt64(&client.lastPing))
	return time.Since(last) > timeout
}

// enqueue 非阻塞入队，队列满时返回false
func (client *StreamClient) enqueue(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// ThoughtMessage 推送给订阅者的消息
type ThoughtMessage struct {
	Type            string           `json:"type"`
	ConsciousnessID uuid.UUID        `json:"consciousness_id"`
	Entry           *models.LogEntry `json:"entry,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

type broadcastItem struct {
	instanceID uuid.UUID
	payload    []byte
}

// ThoughtHub 管理所有思绪流连接
type ThoughtHub struct {
	connections   map[uuid.UUID]map[*StreamClient]struct{} // instanceID -> clients
	broadcast     chan broadcastItem
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupPeriod time.Duration
	logger        *utils.Logger
	metrics       *utils.APIMetrics
}

// NewThoughtHub 创建管理器，需要调用 Run 才会开始分发
func NewThoughtHub(logger *utils.Logger, metrics *utils.APIMetrics) *ThoughtHub {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if metrics == nil {
		metrics = utils.NewAPIMetrics(nil, logger)
	}
	return &ThoughtHub{
		connections:   make(map[uuid.UUID]map[*StreamClient]struct{}),
		broadcast:     make(chan broadcastItem, 1024),
		pingTimeout:   pongWait + writeWait,
		cleanupPeriod: 30 * time.Second,
		logger:        logger,
		metrics:       metrics,
	}
}

// Run 运行分发主循环直到ctx结束，结束时关闭所有连接
func (hub *ThoughtHub) Run(ctx context.Context) error {
	ticker := time.NewTicker(hub.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case item := <-hub.broadcast:
			hub.deliver(item)

		case <-ticker.C:
			hub.cleanupExpiredConnections()

		case <-ctx.Done():
			hub.shutdown()
			return nil
		}
	}
}

// Publish 把新条目推送给订阅了该实例的连接
func (hub *ThoughtHub) Publish(instanceID uuid.UUID, entries []models.LogEntry) {
	for i := range entries {
		payload, err := json.Marshal(ThoughtMessage{
			Type:            "thought",
			ConsciousnessID: instanceID,
			Entry:           &entries[i],
			Timestamp:       time.Now().UTC(),
		})
		if err != nil {
			hub.logger.Error("❌ 序列化思绪消息失败", map[string]interface{}{"error": err.Error()})
			continue
		}

		select {
		case hub.broadcast <- broadcastItem{instanceID: instanceID, payload: payload}:
		default:
			hub.logger.Warn("⚠️ 广播队列已满，消息被丢弃", map[string]interface{}{
				"consciousness_id": instanceID.String(),
			})
		}
	}
}

// register 注册新客户端
func (hub *ThoughtHub) register(client *StreamClient) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if hub.connections[client.instanceID] == nil {
		hub.connections[client.instanceID] = make(map[*StreamClient]struct{})
	}
	hub.connections[client.instanceID][client] = struct{}{}
	client.UpdatePing()
	hub.metrics.RecordStreamOpened()

	hub.logger.Info("✅ 思绪流客户端已连接", map[string]interface{}{
		"consciousness_id": client.instanceID.String(),
	})
}

// subscribe 为连接创建客户端并注册。欢迎帧在注册前入队，保证它是客户端收到的第一条消息
func (hub *ThoughtHub) subscribe(conn WebSocketConnection, instanceID uuid.UUID) *StreamClient {
	client := newStreamClient(conn, instanceID)
	welcome, err := json.Marshal(ThoughtMessage{
		Type:            "connected",
		ConsciousnessID: instanceID,
		Timestamp:       time.Now().UTC(),
	})
	if err == nil {
		client.enqueue(welcome)
	}
	hub.register(client)
	return client
}

// unregister 安全注销客户端，dropped 表示因为跟不上而被断开
func (hub *ThoughtHub) unregister(client *StreamClient, dropped bool) {
	hub.mutex.Lock()
	removed := false
	if clients, exists := hub.connections[client.instanceID]; exists {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			removed = true
		}
		if len(clients) == 0 {
			delete(hub.connections, client.instanceID)
		}
	}
	hub.mutex.Unlock()

	client.Close()
	if !removed {
		return
	}
	hub.metrics.RecordStreamClosed(dropped)
	hub.logger.Info("🔌 思绪流客户端已断开", map[string]interface{}{
		"consciousness_id": client.instanceID.String(),
		"dropped":          dropped,
	})
}

func (hub *ThoughtHub) deliver(item broadcastItem) {
	hub.mutex.RLock()
	clients := make([]*StreamClient, 0, len(hub.connections[item.instanceID]))
	for client := range hub.connections[item.instanceID] {
		clients = append(clients, client)
	}
	hub.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(item.payload) {
			// 跟不上的客户端直接断开
			hub.unregister(client, true)
		}
	}
}

// cleanupExpiredConnections 清理过期和死连接
func (hub *ThoughtHub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for id, clients := range hub.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
				delete(clients, client)
				client.Close()
				hub.metrics.RecordStreamClosed(false)
			}
		}
		if len(clients) == 0 {
			delete(hub.connections, id)
		}
	}
}

// shutdown 关闭所有连接
func (hub *ThoughtHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for _, clients := range hub.connections {
		for client := range clients {
			client.Close()
			hub.metrics.RecordStreamClosed(false)
		}
	}
	hub.connections = make(map[uuid.UUID]map[*StreamClient]struct{})
	hub.logger.Info("✅ 思绪流管理器已关闭", nil)
}

// GetStatus 获取管理器状态
func (hub *ThoughtHub) GetStatus() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	total := 0
	perInstance := make(map[string]int, len(hub.connections))
	for id, clients := range hub.connections {
		perInstance[id.String()] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_instances":   len(hub.connections),
		"total_connections": total,
		"instances":         perInstance,
	}
}
