package services

import (
	"context"

	"matchday-service/logger"
)

// ScoreProjector 比分投影：把非删除的 goal/own_goal 事件折叠成比分
// 并回写到比赛记录。整体重算而非增量累加，任何事件变动后重跑即可自愈。
type ScoreProjector struct {
	store Store
}

// NewScoreProjector 创建比分投影器
func NewScoreProjector(store Store) *ScoreProjector {
	return &ScoreProjector{store: store}
}

// Recompute 重算一场比赛的比分并回写。事件日志的纯函数，可安全重复执行
func (p *ScoreProjector) Recompute(ctx context.Context, matchID string) (home, away int, err error) {
	err = p.store.InTx(ctx, func(tx Store) error {
		match, err := tx.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}

		events, err := tx.ListEventsByKinds(ctx, matchID, []string{EventKindGoal, EventKindOwnGoal})
		if err != nil {
			return err
		}

		home, away = 0, 0
		for _, ev := range events {
			if ev.TeamID == nil {
				continue
			}

			// goal 记给进球方，own_goal 记给对方
			creditTeam := *ev.TeamID
			if ev.Kind == EventKindOwnGoal {
				if creditTeam == match.HomeTeamID {
					creditTeam = match.AwayTeamID
				} else {
					creditTeam = match.HomeTeamID
				}
			}

			switch creditTeam {
			case match.HomeTeamID:
				home++
			case match.AwayTeamID:
				away++
			}
		}

		return tx.UpdateMatchScore(ctx, matchID, home, away)
	})
	if err != nil {
		return 0, 0, err
	}

	return home, away, nil
}

// RecomputeAsync 尽力而为的重算：失败只记日志 (写路径的提交后副作用用这个)
func (p *ScoreProjector) RecomputeAsync(ctx context.Context, matchID string) {
	if _, _, err := p.Recompute(ctx, matchID); err != nil {
		logger.Errorf("[ScoreProjector] Failed to recompute score for match %s: %v", matchID, err)
	}
}
