package services

import (
	"sync"
	"time"

	"matchday-service/logger"
)

// BroadcastHub 按比赛 ID 分组的进程内发布/订阅。
// 投递是尽力而为：订阅者通道满了就丢弃，绝不阻塞触发广播的写路径。
// 没有重放缓冲，晚到的订阅者要先走查询拿当前状态再订阅增量。
type BroadcastHub struct {
	subscribers map[string]map[chan Notification]bool
	mu          sync.RWMutex
	bufferSize  int
}

// NewBroadcastHub 创建 Hub
func NewBroadcastHub() *BroadcastHub {
	return &BroadcastHub{
		subscribers: make(map[string]map[chan Notification]bool),
		bufferSize:  64,
	}
}

// Subscribe 订阅一场比赛的通知，返回通知通道和取消函数。
// 取消函数幂等，断开连接时必须调用，否则订阅泄漏
func (h *BroadcastHub) Subscribe(matchID string) (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Notification, h.bufferSize)

	if h.subscribers[matchID] == nil {
		h.subscribers[matchID] = make(map[chan Notification]bool)
	}
	h.subscribers[matchID][ch] = true

	logger.Printf("[BroadcastHub] Subscriber added for match %s. Total: %d", matchID, len(h.subscribers[matchID]))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.unsubscribe(matchID, ch)
		})
	}

	return ch, cancel
}

// Broadcast 向一场比赛的所有订阅者投递通知
func (h *BroadcastHub) Broadcast(matchID, kind string, payload interface{}) {
	notification := Notification{
		MatchID: matchID,
		Kind:    kind,
		Payload: payload,
		SentAt:  time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[matchID] {
		select {
		case ch <- notification:
		default:
			// 慢订阅者：丢弃这条通知，不能拖住写路径
			logger.Printf("[BroadcastHub] Subscriber channel full for match %s, notification dropped", matchID)
		}
	}
}

// SubscriberCount 当前订阅者数量
func (h *BroadcastHub) SubscriberCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[matchID])
}

// Close 关闭所有订阅者通道
func (h *BroadcastHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for matchID, subs := range h.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(h.subscribers, matchID)
	}

	logger.Println("[BroadcastHub] Closed all subscriber channels")
}

func (h *BroadcastHub) unsubscribe(matchID string, ch chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[matchID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, matchID)
		}
	}
}
