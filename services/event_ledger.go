package services

import (
	"context"
	"fmt"
	"time"

	"matchday-service/logger"
)

// EventLedger 事件台账：离散比赛事件的幂等创建/更新/软删除。
// 客户端可以自带事件 ID 作幂等键，断网重发同一个写入不会产生双重效果。
type EventLedger struct {
	store     Store
	auth      Authorizer
	quota     QuotaChecker
	projector *ScoreProjector
	effects   *SideEffects
	now       func() time.Time
}

// NewEventLedger 创建事件台账
func NewEventLedger(store Store, auth Authorizer, quota QuotaChecker, projector *ScoreProjector, effects *SideEffects) *EventLedger {
	return &EventLedger{
		store:     store,
		auth:      auth,
		quota:     quota,
		projector: projector,
		effects:   effects,
		now:       time.Now,
	}
}

// CreateEventInput 创建事件的输入。ID 可选：客户端提供时兼作幂等键
type CreateEventInput struct {
	ID           string
	MatchID      string
	Kind         string
	TeamID       *string
	PlayerID     *string
	PeriodNumber *int
	ClockMs      int64
	Notes        *string
	Sentiment    int
}

// UpdateEventInput 更新事件的输入，nil 字段不修改
type UpdateEventInput struct {
	Kind      *string
	TeamID    *string
	PlayerID  *string
	ClockMs   *int64
	Notes     *string
	Sentiment *int
}

// CreateEvent 创建事件。
//  1. 校验 teamId 属于比赛双方、playerId 属于该队
//  2. 客户端 ID 已存在且未删除：同比赛返回原事件 (幂等重放)，跨比赛报 Conflict
//  3. 存在同 (比赛,球队,球员,类型,时刻) 的软删除记录时原位恢复
//  4. 提交后：影响比分则重算，解析展示名并广播 event_created
func (l *EventLedger) CreateEvent(ctx context.Context, input CreateEventInput, requesterID, requesterRole string) (*MatchEvent, error) {
	if err := requireMutate(ctx, l.auth, input.MatchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	// 配额前置检查，在任何写入之前
	if err := l.quota.Check(ctx, requesterID, requesterRole, input.MatchID, input.Kind); err != nil {
		return nil, err
	}

	var event *MatchEvent
	var replayed bool
	err := l.store.InTx(ctx, func(tx Store) error {
		match, err := tx.GetMatch(ctx, input.MatchID)
		if err != nil {
			return err
		}

		if err := l.validateReferences(ctx, tx, match, input.TeamID, input.PlayerID); err != nil {
			return err
		}

		// 幂等键检查
		if input.ID != "" {
			existing, err := tx.GetEvent(ctx, input.ID)
			if err == nil && !existing.IsDeleted {
				if existing.MatchID != input.MatchID {
					return NewAppError(ErrConflict,
						fmt.Sprintf("event id %s already used by another match", input.ID), nil)
				}
				event = existing
				replayed = true
				return nil
			}
			if err != nil && !IsNotFound(err) {
				return err
			}
		}

		// 自然键去重：软删除的记录原位恢复，未删除的当作幂等重放
		dup, err := tx.FindEventByNaturalKey(ctx, input.MatchID, input.TeamID, input.PlayerID, input.Kind, input.ClockMs)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if dup != nil {
			if dup.IsDeleted {
				if err := tx.SetEventDeleted(ctx, dup.ID, false, requesterID); err != nil {
					return err
				}
				dup.IsDeleted = false
			} else {
				replayed = true
			}
			event = dup
			return nil
		}

		event = &MatchEvent{
			ID:           input.ID,
			MatchID:      input.MatchID,
			Kind:         input.Kind,
			TeamID:       input.TeamID,
			PlayerID:     input.PlayerID,
			PeriodNumber: input.PeriodNumber,
			ClockMs:      input.ClockMs,
			Notes:        input.Notes,
			Sentiment:    clampSentiment(input.Sentiment),
			CreatedAt:    l.now(),
		}
		if event.ID == "" {
			event.ID = newID()
		}

		return tx.CreateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	if !replayed {
		l.afterWrite(ctx, event, requesterID, NotifyEventCreated)
	}

	return event, nil
}

// UpdateEvent 更新事件。类型变更同样要过配额检查
func (l *EventLedger) UpdateEvent(ctx context.Context, eventID string, input UpdateEventInput, requesterID, requesterRole string) (*MatchEvent, error) {
	current, err := l.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if current.IsDeleted {
		return nil, NewAppError(ErrNotFound, fmt.Sprintf("event %s is deleted", eventID), nil)
	}

	if err := requireMutate(ctx, l.auth, current.MatchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	if input.Kind != nil && *input.Kind != current.Kind {
		if err := l.quota.Check(ctx, requesterID, requesterRole, current.MatchID, *input.Kind); err != nil {
			return nil, err
		}
	}

	oldKind := current.Kind

	var event *MatchEvent
	err = l.store.InTx(ctx, func(tx Store) error {
		var err error
		event, err = tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.IsDeleted {
			return NewAppError(ErrNotFound, fmt.Sprintf("event %s is deleted", eventID), nil)
		}

		match, err := tx.GetMatch(ctx, event.MatchID)
		if err != nil {
			return err
		}

		if input.Kind != nil {
			event.Kind = *input.Kind
		}
		if input.TeamID != nil {
			event.TeamID = input.TeamID
		}
		if input.PlayerID != nil {
			event.PlayerID = input.PlayerID
		}
		if input.ClockMs != nil {
			event.ClockMs = *input.ClockMs
		}
		if input.Notes != nil {
			event.Notes = input.Notes
		}
		if input.Sentiment != nil {
			event.Sentiment = clampSentiment(*input.Sentiment)
		}

		if err := l.validateReferences(ctx, tx, match, event.TeamID, event.PlayerID); err != nil {
			return err
		}

		return tx.UpdateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	l.effects.InvalidateMatch(event.MatchID, requesterID)
	if ScoreAffecting(oldKind) || ScoreAffecting(event.Kind) {
		l.projector.RecomputeAsync(ctx, event.MatchID)
	}
	l.effects.Publish(event.MatchID, NotifyEventUpdated, l.notificationPayload(ctx, event))

	return event, nil
}

// DeleteEvent 软删除事件，触发比分重算和 event_deleted 广播
func (l *EventLedger) DeleteEvent(ctx context.Context, eventID, requesterID, requesterRole string) error {
	var event *MatchEvent
	err := l.store.InTx(ctx, func(tx Store) error {
		var err error
		event, err = tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.IsDeleted {
			return NewAppError(ErrNotFound, fmt.Sprintf("event %s is deleted", eventID), nil)
		}

		if err := requireMutate(ctx, l.auth, event.MatchID, requesterID, requesterRole); err != nil {
			return err
		}

		return tx.SetEventDeleted(ctx, eventID, true, requesterID)
	})
	if err != nil {
		return err
	}

	l.effects.InvalidateMatch(event.MatchID, requesterID)
	if ScoreAffecting(event.Kind) {
		l.projector.RecomputeAsync(ctx, event.MatchID)
	}
	l.effects.Publish(event.MatchID, NotifyEventDeleted, map[string]interface{}{
		"event_id": event.ID,
		"kind":     event.Kind,
	})

	return nil
}

// appendTimeline 在调用方事务内追加一条时间线事件
// (换人、阵型变更这类内部衍生事件走这里，跳过引用校验和配额)
func (l *EventLedger) appendTimeline(ctx context.Context, tx Store, event *MatchEvent) error {
	if event.ID == "" {
		event.ID = newID()
	}
	event.CreatedAt = l.now()
	event.Sentiment = clampSentiment(event.Sentiment)
	return tx.CreateEvent(ctx, event)
}

// validateReferences 校验球队属于比赛双方、球员属于该队
func (l *EventLedger) validateReferences(ctx context.Context, tx Store, match *Match, teamID, playerID *string) error {
	if teamID != nil && *teamID != match.HomeTeamID && *teamID != match.AwayTeamID {
		return NewAppError(ErrInvalidReference,
			fmt.Sprintf("team %s is not playing in match %s", *teamID, match.ID), nil)
	}

	if playerID != nil {
		if teamID == nil {
			return NewAppError(ErrInvalidReference,
				fmt.Sprintf("player %s given without a team", *playerID), nil)
		}
		ok, err := tx.PlayerOnTeam(ctx, *playerID, *teamID)
		if err != nil {
			return err
		}
		if !ok {
			return NewAppError(ErrInvalidReference,
				fmt.Sprintf("player %s has no active membership on team %s", *playerID, *teamID), nil)
		}
	}

	return nil
}

// afterWrite 提交后副作用：缓存失效、(影响比分时) 重算、广播
func (l *EventLedger) afterWrite(ctx context.Context, event *MatchEvent, requesterID, kind string) {
	l.effects.InvalidateMatch(event.MatchID, requesterID)

	if ScoreAffecting(event.Kind) {
		l.projector.RecomputeAsync(ctx, event.MatchID)
	}

	l.effects.Publish(event.MatchID, kind, l.notificationPayload(ctx, event))
}

// notificationPayload 组装广播载荷，展示名解析失败不致命
func (l *EventLedger) notificationPayload(ctx context.Context, event *MatchEvent) map[string]interface{} {
	payload := map[string]interface{}{
		"event_id":  event.ID,
		"kind":      event.Kind,
		"clock_ms":  event.ClockMs,
		"sentiment": event.Sentiment,
	}
	if event.PeriodNumber != nil {
		payload["period_number"] = *event.PeriodNumber
	}
	if event.Notes != nil {
		payload["notes"] = *event.Notes
	}

	if event.TeamID != nil {
		payload["team_id"] = *event.TeamID
		if name, err := l.store.TeamName(ctx, *event.TeamID); err == nil {
			payload["team_name"] = name
		} else {
			logger.Errorf("[EventLedger] Failed to resolve team name %s: %v", *event.TeamID, err)
		}
	}
	if event.PlayerID != nil {
		payload["player_id"] = *event.PlayerID
		if name, err := l.store.PlayerName(ctx, *event.PlayerID); err == nil {
			payload["player_name"] = name
		} else {
			logger.Errorf("[EventLedger] Failed to resolve player name %s: %v", *event.PlayerID, err)
		}
	}

	return payload
}
