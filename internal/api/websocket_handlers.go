// internal/api/websocket_handlers.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// StreamThoughts 把实例新追加的思绪通过 WebSocket 推送给客户端
func (h *Handler) StreamThoughts(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	// 升级之前确认实例存在，否则返回普通的404
	if _, err := h.service.GetInstance(c.Request.Context(), id); err != nil {
		h.response.HandleError(c, err, ErrorIDInvalid)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("❌ 思绪流 WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	client := h.hub.subscribe(conn, id)
	defer h.hub.unregister(client, false)

	go h.writePump(client)

	h.readPump(client)
}

// readPump 只用来感知断开和处理 pong，客户端发来的内容被忽略
func (h *Handler) readPump(client *StreamClient) {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("思绪流读取结束", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		client.UpdatePing()
	}
}

func (h *Handler) writePump(client *StreamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("❌ WebSocket 写入失败", map[string]interface{}{"error": err.Error()})
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// GetStreamStatus 返回思绪流连接统计
func (h *Handler) GetStreamStatus(c *gin.Context) {
	h.response.Success(c, h.hub.GetStatus())
}
