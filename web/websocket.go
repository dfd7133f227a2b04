package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"matchday-service/logger"
	"matchday-service/services"
)

// viewer 一个 WebSocket 观众连接，桥接到 BroadcastHub 的一场比赛订阅。
// Hub 没有重放缓冲：客户端要先拉当前状态再连 WebSocket 收增量
type viewer struct {
	conn          *websocket.Conn
	notifications <-chan services.Notification
	cancel        func()
}

// handleWebSocket 升级连接并订阅 match_id 指定的比赛
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("match_id")
	if matchID == "" {
		http.Error(w, "match_id query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	notifications, cancel := s.hub.Subscribe(matchID)
	v := &viewer{
		conn:          conn,
		notifications: notifications,
		cancel:        cancel,
	}

	// 发送欢迎消息
	welcome, _ := json.Marshal(map[string]interface{}{
		"kind":     "connected",
		"match_id": matchID,
		"time":     time.Now().Unix(),
	})
	conn.WriteMessage(websocket.TextMessage, welcome)

	go v.writePump()
	go v.readPump()
}

// writePump 把 Hub 通知转发给客户端
func (v *viewer) writePump() {
	defer v.conn.Close()

	for notification := range v.notifications {
		data, err := json.Marshal(notification)
		if err != nil {
			logger.Errorf("Failed to marshal notification: %v", err)
			continue
		}

		if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	// Hub 侧关闭了订阅通道
	v.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump 只为感知断连；客户端消息一律忽略
func (v *viewer) readPump() {
	defer func() {
		v.cancel()
		v.conn.Close()
	}()

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorf("WebSocket error: %v", err)
			}
			return
		}
	}
}
