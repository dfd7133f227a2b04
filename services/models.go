package services

import "time"

// MatchStatus 比赛状态
type MatchStatus string

const (
	StatusScheduled MatchStatus = "SCHEDULED"
	StatusLive      MatchStatus = "LIVE"
	StatusPaused    MatchStatus = "PAUSED"
	StatusCompleted MatchStatus = "COMPLETED"
	StatusCancelled MatchStatus = "CANCELLED"
	StatusPostponed MatchStatus = "POSTPONED"
)

// PeriodType 比赛时段类型
type PeriodType string

const (
	PeriodRegular   PeriodType = "REGULAR"
	PeriodExtraTime PeriodType = "EXTRA_TIME"
	PeriodShootout  PeriodType = "PENALTY_SHOOTOUT"
)

// 时间线事件类型。goal/own_goal 影响比分，其余仅用于展示。
const (
	EventKindGoal            = "goal"
	EventKindOwnGoal         = "own_goal"
	EventKindSubstitutionOff = "substitution_off"
	EventKindSubstitutionOn  = "substitution_on"
	EventKindFormationChange = "formation_change"
)

// ScoreAffecting 判断事件类型是否影响比分
func ScoreAffecting(kind string) bool {
	return kind == EventKindGoal || kind == EventKindOwnGoal
}

// Match 比赛记录 (主实体由外部 CRUD 管理，这里只读取和回写比分)
type Match struct {
	ID         string
	HomeTeamID string
	AwayTeamID string
	HomeScore  int
	AwayScore  int
	CreatedBy  string
	IsDeleted  bool
}

// MatchState 比赛状态记录，每场比赛最多一条，只由状态机修改
type MatchState struct {
	MatchID             string
	Status              MatchStatus
	CurrentPeriodNumber *int
	CurrentPeriodType   *PeriodType
	StartedAt           *time.Time
	EndedAt             *time.Time
	TotalElapsedSeconds int
	ActiveSince         *time.Time // 非空当且仅当 status==LIVE
	StatusReason        *string    // 暂停/取消原因，仅用于审计
}

// Period 比赛时段。每场比赛最多一个未结束的时段 (ended_at IS NULL)
type Period struct {
	ID              string
	MatchID         string
	PeriodNumber    int
	PeriodType      PeriodType
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *int
}

// MatchEvent 离散比赛事件，只追加、软删除
type MatchEvent struct {
	ID           string
	MatchID      string
	Kind         string
	TeamID       *string
	PlayerID     *string
	PeriodNumber *int
	ClockMs      int64
	Notes        *string
	Sentiment    int // [-3, 3]
	CreatedAt    time.Time
	IsDeleted    bool
}

// LineupEntry 球员在场区间。(matchID, playerID) 最多一条 end_min IS NULL 的记录
type LineupEntry struct {
	ID                 string
	MatchID            string
	PlayerID           string
	StartMin           float64
	EndMin             *float64
	Position           string
	PitchX             *float64
	PitchY             *float64
	SubstitutionReason *string
}

// FormationPlayer 阵型快照中的单个球员
type FormationPlayer struct {
	PlayerID string  `json:"player_id"`
	Position string  `json:"position"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// FormationSnapshot 全队阵型快照。每场比赛最多一个未关闭的快照，
// start_min 在一场比赛内唯一
type FormationSnapshot struct {
	ID                 string
	MatchID            string
	StartMin           float64
	EndMin             *float64
	Players            []FormationPlayer
	SubstitutionReason *string
}

// Notification 广播通知
type Notification struct {
	MatchID string      `json:"match_id"`
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// 通知类型
const (
	NotifyStateChanged     = "state_changed"
	NotifyPeriodStarted    = "period_started"
	NotifyEventCreated     = "event_created"
	NotifyEventUpdated     = "event_updated"
	NotifyEventDeleted     = "event_deleted"
	NotifyFormationChanged = "formation_changed"
)
