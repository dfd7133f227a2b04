package services

import (
	"context"
	"fmt"
	"time"
)

// PeriodTracker 时段管理：开启/关闭时段，维护 "每场比赛最多一个
// 未结束时段" 的不变量。耗时统计永远从时段日志推导，
// 不信任任何可能漂移的运行计数器。
type PeriodTracker struct {
	store   Store
	auth    Authorizer
	effects *SideEffects
	now     func() time.Time
}

// NewPeriodTracker 创建时段管理器
func NewPeriodTracker(store Store, auth Authorizer, effects *SideEffects) *PeriodTracker {
	return &PeriodTracker{
		store:   store,
		auth:    auth,
		effects: effects,
		now:     time.Now,
	}
}

// OpenPeriod 在事务内开启新时段。已有未结束时段时失败
func (t *PeriodTracker) OpenPeriod(ctx context.Context, tx Store, matchID string, periodType PeriodType, startedAt time.Time) (*Period, error) {
	open, err := tx.GetOpenPeriod(ctx, matchID)
	if err == nil && open != nil {
		return nil, NewAppError(ErrConflict,
			fmt.Sprintf("period %d is still open for match %s", open.PeriodNumber, matchID), nil)
	}
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	maxNumber, err := tx.MaxPeriodNumber(ctx, matchID)
	if err != nil {
		return nil, err
	}

	period := &Period{
		ID:           newID(),
		MatchID:      matchID,
		PeriodNumber: maxNumber + 1,
		PeriodType:   periodType,
		StartedAt:    startedAt,
	}

	if err := tx.CreatePeriod(ctx, period); err != nil {
		return nil, err
	}

	return period, nil
}

// ClosePeriod 在事务内关闭时段，时长向上取整到秒
func (t *PeriodTracker) ClosePeriod(ctx context.Context, tx Store, period *Period, endedAt time.Time) error {
	duration := periodDuration(period.StartedAt, endedAt)
	return tx.ClosePeriod(ctx, period.ID, endedAt, duration)
}

// StartNextPeriod 公开操作：关闭当前时段并开启下一时段
// (中场休息后的下半场、加时、点球大战)。比赛必须处于 LIVE。
func (t *PeriodTracker) StartNextPeriod(ctx context.Context, matchID string, periodType PeriodType, requesterID, requesterRole string) (*Period, error) {
	if err := requireMutate(ctx, t.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var next *Period
	err := t.store.InTx(ctx, func(tx Store) error {
		state, err := tx.GetMatchState(ctx, matchID)
		if err != nil {
			return err
		}
		if state.Status != StatusLive {
			return NewAppError(ErrInvalidTransition,
				fmt.Sprintf("cannot start a period while match is %s", state.Status), nil)
		}

		now := t.now()

		open, err := tx.GetOpenPeriod(ctx, matchID)
		if err == nil && open != nil {
			if err := t.ClosePeriod(ctx, tx, open, now); err != nil {
				return err
			}
		} else if err != nil && !IsNotFound(err) {
			return err
		}

		next, err = t.OpenPeriod(ctx, tx, matchID, periodType, now)
		if err != nil {
			return err
		}

		// 把当前时段镜像到比赛状态上
		state.CurrentPeriodNumber = &next.PeriodNumber
		state.CurrentPeriodType = &next.PeriodType
		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	t.effects.InvalidateMatch(matchID, requesterID)
	t.effects.Publish(matchID, NotifyPeriodStarted, map[string]interface{}{
		"period_number": next.PeriodNumber,
		"period_type":   next.PeriodType,
		"started_at":    next.StartedAt,
	})

	return next, nil
}

// ElapsedSeconds 按需推导比赛耗时：已累计秒数 + (直播中时) 距 activeSince 的增量
func ElapsedSeconds(state *MatchState, now time.Time) int {
	elapsed := state.TotalElapsedSeconds
	if state.Status == StatusLive && state.ActiveSince != nil {
		elapsed += int(now.Sub(*state.ActiveSince).Seconds())
	}
	return elapsed
}

// periodDuration 时段时长，毫秒差向上取整到秒
func periodDuration(startedAt, endedAt time.Time) int {
	ms := endedAt.Sub(startedAt).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
