package api

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

// fakeConn 不做任何网络读写，只记录关闭次数
type fakeConn struct {
	closes atomic.Int32
}

func (c *fakeConn) WriteMessage(int, []byte) error            { return nil }
func (c *fakeConn) ReadMessage() (int, []byte, error)         { return 0, nil, nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func streamGauge(m *utils.APIMetrics) int64 {
	return m.Collector().GetMetrics()["gauges"].(map[string]int64)["stream_connections"]
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	metrics := utils.NewAPIMetrics(nil, nil)
	hub := NewThoughtHub(nil, metrics)
	id := uuid.New()

	slowConn := &fakeConn{}
	slow := newStreamClient(slowConn, id)
	hub.register(slow)
	fast := newStreamClient(&fakeConn{}, id)
	hub.register(fast)

	// 写协程没有运行，队列被塞满
	for i := 0; i < sendQueueLen; i++ {
		require.True(t, slow.enqueue([]byte("backlog")))
	}

	hub.deliver(broadcastItem{instanceID: id, payload: []byte("x")})

	assert.True(t, slow.IsClosed(), "队列已满的客户端应被关闭")
	assert.Equal(t, int32(1), slowConn.closes.Load())
	assert.False(t, fast.IsClosed(), "其他客户端不受影响")
	assert.Equal(t, []byte("x"), <-fast.send)

	status := hub.GetStatus()
	assert.Equal(t, 1, status["total_connections"], "被断开的客户端不应再出现在状态中")
	assert.Equal(t, map[string]int{id.String(): 1}, status["instances"])
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("stream_dropped_total"))
	assert.Equal(t, int64(1), streamGauge(metrics))

	// 读协程退出时再次注销不能重复计数
	hub.unregister(slow, false)
	assert.Equal(t, int64(1), streamGauge(metrics))
	assert.Equal(t, int32(1), slowConn.closes.Load())

	hub.unregister(fast, false)
	assert.Equal(t, 0, hub.GetStatus()["total_connections"])
	assert.Equal(t, int64(0), streamGauge(metrics))
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("stream_dropped_total"))
}

func TestSubscribeQueuesWelcomeFirst(t *testing.T) {
	hub := NewThoughtHub(nil, nil)
	id := uuid.New()

	client := hub.subscribe(&fakeConn{}, id)
	defer hub.unregister(client, false)
	assert.Equal(t, 1, hub.GetStatus()["total_connections"])

	// 注册完成后立即到达的思绪排在欢迎帧之后
	hub.Publish(id, []models.LogEntry{{Event: models.EventInteraction, Thought: "first words", Phase: 1}})
	hub.deliver(<-hub.broadcast)

	require.Len(t, client.send, 2)
	var msg ThoughtMessage
	require.NoError(t, json.Unmarshal(<-client.send, &msg))
	assert.Equal(t, "connected", msg.Type)
	assert.Equal(t, id, msg.ConsciousnessID)
	assert.Nil(t, msg.Entry)

	require.NoError(t, json.Unmarshal(<-client.send, &msg))
	assert.Equal(t, "thought", msg.Type)
	require.NotNil(t, msg.Entry)
	assert.Equal(t, "first words", msg.Entry.Thought)
}

func TestCleanupRemovesClosedClients(t *testing.T) {
	metrics := utils.NewAPIMetrics(nil, nil)
	hub := NewThoughtHub(nil, metrics)
	id := uuid.New()

	client := hub.subscribe(&fakeConn{}, id)
	client.Close()
	hub.cleanupExpiredConnections()

	assert.Equal(t, 0, hub.GetStatus()["total_connections"])
	assert.Equal(t, int64(0), streamGauge(metrics))

	// 已被清理的客户端再注销不影响计数
	hub.unregister(client, false)
	assert.Equal(t, int64(0), streamGauge(metrics))
}
