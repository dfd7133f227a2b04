package services

import (
	"context"
	"fmt"
	"time"
)

// LineupTracker 在场区间跟踪。每名球员同一时间最多一条开放区间，
// 换人是 "关一条区间、开一条区间" 的原子操作。
type LineupTracker struct {
	store   Store
	auth    Authorizer
	ledger  *EventLedger
	effects *SideEffects
	now     func() time.Time
}

// NewLineupTracker 创建在场区间跟踪器
func NewLineupTracker(store Store, auth Authorizer, ledger *EventLedger, effects *SideEffects) *LineupTracker {
	return &LineupTracker{
		store:   store,
		auth:    auth,
		ledger:  ledger,
		effects: effects,
		now:     time.Now,
	}
}

// SubstituteInput 换人输入
type SubstituteInput struct {
	MatchID   string
	PlayerOff string
	PlayerOn  string
	Position  string
	AtMinute  float64
	Reason    *string
}

// SubstituteResult 换人结果：被关闭的区间、新开的区间、生成的时间线事件
type SubstituteResult struct {
	Off    *LineupEntry
	On     *LineupEntry
	Events []*MatchEvent
}

// Substitute 换人，单事务内完成：
//  1. 找到下场球员的开放区间 (不在场报 PlayerNotOnPitch)
//  2. 关闭它 (endMin = atMinute)
//  3. 为上场球员开新区间
//  4. 追加 off/on 两条时间线事件
func (t *LineupTracker) Substitute(ctx context.Context, input SubstituteInput, requesterID, requesterRole string) (*SubstituteResult, error) {
	if err := requireMutate(ctx, t.auth, input.MatchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	result := &SubstituteResult{}
	err := t.store.InTx(ctx, func(tx Store) error {
		if _, err := tx.GetMatch(ctx, input.MatchID); err != nil {
			return err
		}

		off, err := tx.GetOpenLineupEntry(ctx, input.MatchID, input.PlayerOff)
		if err != nil {
			if IsNotFound(err) {
				return NewAppError(ErrPlayerNotOnPitch,
					fmt.Sprintf("player %s has no open lineup entry in match %s", input.PlayerOff, input.MatchID), nil)
			}
			return err
		}
		if off.StartMin > input.AtMinute {
			return NewAppError(ErrPlayerNotOnPitch,
				fmt.Sprintf("player %s entered at minute %.1f, after the substitution minute %.1f",
					input.PlayerOff, off.StartMin, input.AtMinute), nil)
		}

		if err := tx.CloseLineupEntry(ctx, off.ID, input.AtMinute, input.Reason); err != nil {
			return err
		}
		off.EndMin = &input.AtMinute
		off.SubstitutionReason = input.Reason
		result.Off = off

		on := &LineupEntry{
			ID:       newID(),
			MatchID:  input.MatchID,
			PlayerID: input.PlayerOn,
			StartMin: input.AtMinute,
			Position: input.Position,
		}
		if err := tx.CreateLineupEntry(ctx, on); err != nil {
			return err
		}
		result.On = on

		// 两条时间线事件，供比赛时间轴展示
		clockMs := minuteToClockMs(input.AtMinute)
		offNotes := fmt.Sprintf("substituted off at minute %.0f", input.AtMinute)
		onNotes := fmt.Sprintf("substituted on at minute %.0f (%s)", input.AtMinute, input.Position)

		offEvent := &MatchEvent{
			MatchID:  input.MatchID,
			Kind:     EventKindSubstitutionOff,
			PlayerID: &input.PlayerOff,
			ClockMs:  clockMs,
			Notes:    &offNotes,
		}
		onEvent := &MatchEvent{
			MatchID:  input.MatchID,
			Kind:     EventKindSubstitutionOn,
			PlayerID: &input.PlayerOn,
			ClockMs:  clockMs,
			Notes:    &onNotes,
		}

		if err := t.ledger.appendTimeline(ctx, tx, offEvent); err != nil {
			return err
		}
		if err := t.ledger.appendTimeline(ctx, tx, onEvent); err != nil {
			return err
		}
		result.Events = []*MatchEvent{offEvent, onEvent}

		return nil
	})
	if err != nil {
		return nil, err
	}

	t.effects.InvalidateMatch(input.MatchID, requesterID)
	for _, ev := range result.Events {
		t.effects.Publish(input.MatchID, NotifyEventCreated, t.ledger.notificationPayload(ctx, ev))
	}

	return result, nil
}

// OpenEntry 直接开一条在场区间 (首发名单录入用)。
// 球员已有开放区间时报 Conflict
func (t *LineupTracker) OpenEntry(ctx context.Context, entry *LineupEntry, requesterID, requesterRole string) (*LineupEntry, error) {
	if err := requireMutate(ctx, t.auth, entry.MatchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	err := t.store.InTx(ctx, func(tx Store) error {
		if _, err := tx.GetMatch(ctx, entry.MatchID); err != nil {
			return err
		}

		open, err := tx.GetOpenLineupEntry(ctx, entry.MatchID, entry.PlayerID)
		if err == nil && open != nil {
			return NewAppError(ErrConflict,
				fmt.Sprintf("player %s already has an open lineup entry", entry.PlayerID), nil)
		}
		if err != nil && !IsNotFound(err) {
			return err
		}

		if entry.ID == "" {
			entry.ID = newID()
		}
		return tx.CreateLineupEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	t.effects.InvalidateMatch(entry.MatchID, requesterID)
	return entry, nil
}

// OnPitch 当前在场球员的开放区间
func (t *LineupTracker) OnPitch(ctx context.Context, matchID string) ([]*LineupEntry, error) {
	return t.store.ListOpenLineupEntries(ctx, matchID)
}
