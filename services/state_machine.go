package services

import (
	"context"
	"fmt"
	"time"

	"matchday-service/logger"
)

// allowedTransitions 状态机转换表。COMPLETED 和 CANCELLED 是终态
var allowedTransitions = map[MatchStatus][]MatchStatus{
	StatusScheduled: {StatusLive, StatusCancelled, StatusPostponed},
	StatusLive:      {StatusPaused, StatusCompleted},
	StatusPaused:    {StatusLive, StatusCompleted, StatusCancelled},
	StatusPostponed: {StatusScheduled},
}

// CanTransition 判断状态转换是否被允许
func CanTransition(from, to MatchStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateMachine 比赛生命周期状态机。MatchState 只能经它修改；
// 每个操作在一个事务内完成状态检查和写入，提交后再执行
// 比分重算/缓存失效/广播这些尽力而为的副作用。
type StateMachine struct {
	store     Store
	auth      Authorizer
	periods   *PeriodTracker
	projector *ScoreProjector
	effects   *SideEffects
	now       func() time.Time
}

// NewStateMachine 创建状态机
func NewStateMachine(store Store, auth Authorizer, periods *PeriodTracker, projector *ScoreProjector, effects *SideEffects) *StateMachine {
	return &StateMachine{
		store:     store,
		auth:      auth,
		periods:   periods,
		projector: projector,
		effects:   effects,
		now:       time.Now,
	}
}

// Start 开始比赛：SCHEDULED→LIVE，设置 startedAt/activeSince，
// 没有任何时段时开启第 1 时段 (REGULAR)
func (m *StateMachine) Start(ctx context.Context, matchID, requesterID, requesterRole string) (*MatchState, error) {
	if err := requireMutate(ctx, m.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var state *MatchState
	err := m.store.InTx(ctx, func(tx Store) error {
		var err error
		state, err = m.loadOrCreateState(ctx, tx, matchID)
		if err != nil {
			return err
		}

		if err := m.requireTransition(state.Status, StatusLive); err != nil {
			return err
		}

		now := m.now()
		state.Status = StatusLive
		state.StartedAt = &now
		state.ActiveSince = &now

		if err := m.ensureFirstPeriod(ctx, tx, state, now); err != nil {
			return err
		}

		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, state, requesterID)
	return state, nil
}

// Pause 暂停比赛：LIVE→PAUSED，把距 activeSince 的增量折进累计秒数。
// 比赛从未开始过 (无状态记录) 时返回 NotFound
func (m *StateMachine) Pause(ctx context.Context, matchID, reason, requesterID, requesterRole string) (*MatchState, error) {
	if err := requireMutate(ctx, m.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var state *MatchState
	err := m.store.InTx(ctx, func(tx Store) error {
		var err error
		state, err = tx.GetMatchState(ctx, matchID)
		if err != nil {
			return err
		}

		if err := m.requireTransition(state.Status, StatusPaused); err != nil {
			return err
		}

		now := m.now()
		if state.ActiveSince != nil {
			state.TotalElapsedSeconds += int(now.Sub(*state.ActiveSince).Seconds())
			state.ActiveSince = nil
		}
		state.Status = StatusPaused
		if reason != "" {
			state.StatusReason = &reason
		}

		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, state, requesterID)
	return state, nil
}

// Resume 恢复比赛：→LIVE。不重置 startedAt；没有状态记录时
// 等同一次开始 (支持客户端直接用 resume 起场)
func (m *StateMachine) Resume(ctx context.Context, matchID, requesterID, requesterRole string) (*MatchState, error) {
	if err := requireMutate(ctx, m.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var state *MatchState
	err := m.store.InTx(ctx, func(tx Store) error {
		var err error
		state, err = m.loadOrCreateState(ctx, tx, matchID)
		if err != nil {
			return err
		}

		if err := m.requireTransition(state.Status, StatusLive); err != nil {
			return err
		}

		now := m.now()
		state.Status = StatusLive
		state.ActiveSince = &now
		if state.StartedAt == nil {
			state.StartedAt = &now
		}

		if err := m.ensureFirstPeriod(ctx, tx, state, now); err != nil {
			return err
		}

		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, state, requesterID)
	return state, nil
}

// Complete 结束比赛：→COMPLETED。关闭未结束的时段，
// 耗时整体重算为所有已关闭时段的时长之和 (不做增量累加，避免漂移)
func (m *StateMachine) Complete(ctx context.Context, matchID, requesterID, requesterRole string) (*MatchState, error) {
	if err := requireMutate(ctx, m.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var state *MatchState
	err := m.store.InTx(ctx, func(tx Store) error {
		var err error
		state, err = tx.GetMatchState(ctx, matchID)
		if err != nil {
			return err
		}

		if err := m.requireTransition(state.Status, StatusCompleted); err != nil {
			return err
		}

		now := m.now()

		open, err := tx.GetOpenPeriod(ctx, matchID)
		if err == nil && open != nil {
			if err := m.periods.ClosePeriod(ctx, tx, open, now); err != nil {
				return err
			}
		} else if err != nil && !IsNotFound(err) {
			return err
		}

		total, err := m.sumClosedPeriods(ctx, tx, matchID)
		if err != nil {
			return err
		}

		state.Status = StatusCompleted
		state.TotalElapsedSeconds = total
		state.ActiveSince = nil
		state.EndedAt = &now

		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, state, requesterID)
	return state, nil
}

// Cancel 取消比赛：→CANCELLED。原因只做审计记录，不校验内容
func (m *StateMachine) Cancel(ctx context.Context, matchID, reason, requesterID, requesterRole string) (*MatchState, error) {
	if err := requireMutate(ctx, m.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var state *MatchState
	err := m.store.InTx(ctx, func(tx Store) error {
		var err error
		state, err = m.loadOrCreateState(ctx, tx, matchID)
		if err != nil {
			return err
		}

		if err := m.requireTransition(state.Status, StatusCancelled); err != nil {
			return err
		}

		now := m.now()
		state.Status = StatusCancelled
		state.EndedAt = &now
		if reason != "" {
			state.StatusReason = &reason
		}

		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, state, requesterID)
	return state, nil
}

// Postpone 延期比赛：SCHEDULED→POSTPONED (之后可回到 SCHEDULED 重新排期)
func (m *StateMachine) Postpone(ctx context.Context, matchID, reason, requesterID, requesterRole string) (*MatchState, error) {
	if err := requireMutate(ctx, m.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var state *MatchState
	err := m.store.InTx(ctx, func(tx Store) error {
		var err error
		state, err = m.loadOrCreateState(ctx, tx, matchID)
		if err != nil {
			return err
		}

		if err := m.requireTransition(state.Status, StatusPostponed); err != nil {
			return err
		}

		state.Status = StatusPostponed
		if reason != "" {
			state.StatusReason = &reason
		}

		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, state, requesterID)
	return state, nil
}

// Reschedule 重新排期：POSTPONED→SCHEDULED
func (m *StateMachine) Reschedule(ctx context.Context, matchID, requesterID, requesterRole string) (*MatchState, error) {
	if err := requireMutate(ctx, m.auth, matchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	var state *MatchState
	err := m.store.InTx(ctx, func(tx Store) error {
		var err error
		state, err = tx.GetMatchState(ctx, matchID)
		if err != nil {
			return err
		}

		if err := m.requireTransition(state.Status, StatusScheduled); err != nil {
			return err
		}

		state.Status = StatusScheduled
		state.StatusReason = nil

		return tx.UpdateMatchState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, state, requesterID)
	return state, nil
}

// GetState 读取比赛状态 (只读，不走状态机规则)
func (m *StateMachine) GetState(ctx context.Context, matchID string) (*MatchState, error) {
	return m.store.GetMatchState(ctx, matchID)
}

// loadOrCreateState 读取状态记录，不存在时惰性创建 (默认 SCHEDULED)
func (m *StateMachine) loadOrCreateState(ctx context.Context, tx Store, matchID string) (*MatchState, error) {
	state, err := tx.GetMatchState(ctx, matchID)
	if err == nil {
		return state, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	// 比赛必须存在才能建状态
	if _, err := tx.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}

	state = &MatchState{
		MatchID: matchID,
		Status:  StatusScheduled,
	}
	if err := tx.CreateMatchState(ctx, state); err != nil {
		return nil, err
	}

	return state, nil
}

// ensureFirstPeriod 没有任何时段时开启第 1 时段并镜像到状态上
func (m *StateMachine) ensureFirstPeriod(ctx context.Context, tx Store, state *MatchState, now time.Time) error {
	maxNumber, err := tx.MaxPeriodNumber(ctx, state.MatchID)
	if err != nil {
		return err
	}
	if maxNumber > 0 {
		return nil
	}

	period, err := m.periods.OpenPeriod(ctx, tx, state.MatchID, PeriodRegular, now)
	if err != nil {
		return err
	}

	state.CurrentPeriodNumber = &period.PeriodNumber
	state.CurrentPeriodType = &period.PeriodType
	return nil
}

// sumClosedPeriods 所有已关闭时段的时长之和
func (m *StateMachine) sumClosedPeriods(ctx context.Context, tx Store, matchID string) (int, error) {
	periods, err := tx.ListPeriods(ctx, matchID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, p := range periods {
		if p.DurationSeconds != nil {
			total += *p.DurationSeconds
		}
	}
	return total, nil
}

func (m *StateMachine) requireTransition(from, to MatchStatus) error {
	if !CanTransition(from, to) {
		return NewAppError(ErrInvalidTransition,
			fmt.Sprintf("transition %s -> %s is not allowed", from, to), nil)
	}
	return nil
}

// afterTransition 提交后的副作用：缓存失效、比分重算、state_changed 广播
func (m *StateMachine) afterTransition(ctx context.Context, state *MatchState, requesterID string) {
	m.effects.InvalidateMatch(state.MatchID, requesterID)
	m.projector.RecomputeAsync(ctx, state.MatchID)

	payload := map[string]interface{}{
		"status":          state.Status,
		"elapsed_seconds": ElapsedSeconds(state, m.now()),
	}
	if state.CurrentPeriodNumber != nil {
		payload["current_period"] = *state.CurrentPeriodNumber
	}
	if state.CurrentPeriodType != nil {
		payload["current_period_type"] = *state.CurrentPeriodType
	}

	m.effects.Publish(state.MatchID, NotifyStateChanged, payload)

	logger.Printf("[StateMachine] Match %s is now %s", state.MatchID, state.Status)
}
