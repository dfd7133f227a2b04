package services

import (
	"context"
	"time"
)

// Store 持久化端口。所有核心组件只依赖这个接口，
// 生产环境由 database.SQLStore 实现，测试用内存实现替换。
//
// InTx 内传给回调的 Store 视图在同一个数据库事务里执行，
// 多行不变量检查 (唯一开放时段/在场区间/开放快照、幂等键查找)
// 必须通过它完成，不允许拆成多个独立往返。
type Store interface {
	// InTx 在一个事务内执行 fn，fn 返回错误则回滚
	InTx(ctx context.Context, fn func(tx Store) error) error

	// 比赛
	GetMatch(ctx context.Context, matchID string) (*Match, error)
	UpdateMatchScore(ctx context.Context, matchID string, home, away int) error
	ListLiveMatches(ctx context.Context, userID string) ([]*Match, error)

	// 比赛状态
	GetMatchState(ctx context.Context, matchID string) (*MatchState, error)
	CreateMatchState(ctx context.Context, state *MatchState) error
	UpdateMatchState(ctx context.Context, state *MatchState) error

	// 时段
	GetOpenPeriod(ctx context.Context, matchID string) (*Period, error)
	MaxPeriodNumber(ctx context.Context, matchID string) (int, error)
	CreatePeriod(ctx context.Context, period *Period) error
	ClosePeriod(ctx context.Context, periodID string, endedAt time.Time, durationSeconds int) error
	ListPeriods(ctx context.Context, matchID string) ([]*Period, error)

	// 事件 (GetEvent/FindEventByNaturalKey 连同软删除的记录一起返回)
	GetEvent(ctx context.Context, eventID string) (*MatchEvent, error)
	FindEventByNaturalKey(ctx context.Context, matchID string, teamID, playerID *string, kind string, clockMs int64) (*MatchEvent, error)
	CreateEvent(ctx context.Context, event *MatchEvent) error
	UpdateEvent(ctx context.Context, event *MatchEvent) error
	SetEventDeleted(ctx context.Context, eventID string, deleted bool, deletedBy string) error
	ListEventsByKinds(ctx context.Context, matchID string, kinds []string) ([]*MatchEvent, error)

	// 在场区间
	GetOpenLineupEntry(ctx context.Context, matchID, playerID string) (*LineupEntry, error)
	ListOpenLineupEntries(ctx context.Context, matchID string) ([]*LineupEntry, error)
	CreateLineupEntry(ctx context.Context, entry *LineupEntry) error
	CloseLineupEntry(ctx context.Context, entryID string, endMin float64, reason *string) error

	// 阵型快照
	GetOpenSnapshot(ctx context.Context, matchID string) (*FormationSnapshot, error)
	SnapshotStartMinTaken(ctx context.Context, matchID string, startMin float64) (bool, error)
	CreateSnapshot(ctx context.Context, snapshot *FormationSnapshot) error
	CloseSnapshot(ctx context.Context, snapshotID string, endMin float64) error

	// 球队/球员引用 (校验和通知展示用)
	TeamName(ctx context.Context, teamID string) (string, error)
	PlayerName(ctx context.Context, playerID string) (string, error)
	PlayerOnTeam(ctx context.Context, playerID, teamID string) (bool, error)
}
