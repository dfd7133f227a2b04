package services

import (
	"time"

	"matchday-service/logger"
)

// NotificationSink 对外通知出口 (AMQPNotifier 实现；测试里用桩替换)
type NotificationSink interface {
	Publish(notification Notification) error
}

// SideEffects 写路径提交后的副作用：缓存失效、进程内广播、对外镜像。
// 全部尽力而为，失败只记日志，不会让已提交的主事务失败或回滚。
type SideEffects struct {
	cache *ReadCache
	hub   *BroadcastHub
	sink  NotificationSink // 可为 nil
}

// NewSideEffects 创建副作用执行器
func NewSideEffects(cache *ReadCache, hub *BroadcastHub, sink NotificationSink) *SideEffects {
	return &SideEffects{
		cache: cache,
		hub:   hub,
		sink:  sink,
	}
}

// InvalidateMatch 使一场比赛的派生读缓存和调用者的直播列表失效
func (e *SideEffects) InvalidateMatch(matchID, userID string) {
	if e.cache == nil {
		return
	}

	e.cache.Delete(CacheKeyMatchState(matchID))
	e.cache.Delete(CacheKeyMatchSummary(matchID))
	if userID != "" {
		e.cache.Delete(CacheKeyLiveMatches(userID))
	}
}

// Publish 广播一条通知并镜像到对外出口
func (e *SideEffects) Publish(matchID, kind string, payload interface{}) {
	if e.hub != nil {
		e.hub.Broadcast(matchID, kind, payload)
	}

	if e.sink != nil {
		notification := Notification{
			MatchID: matchID,
			Kind:    kind,
			Payload: payload,
			SentAt:  time.Now(),
		}
		if err := e.sink.Publish(notification); err != nil {
			logger.Errorf("[SideEffects] Failed to publish %s notification for match %s: %v", kind, matchID, err)
		}
	}
}
