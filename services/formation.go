package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// startMinEpsilon 快照 start_min 冲突时向前挪动的最小步长 (分钟)
const startMinEpsilon = 0.1

// FormationSnapshotter 阵型快照：记录全队站位随时间的变化，
// 推导 "4-4-2" 这类阵型标签，并把变更摘要写进比赛时间轴。
type FormationSnapshotter struct {
	store      Store
	auth       Authorizer
	ledger     *EventLedger
	classifier PositionClassifier
	effects    *SideEffects
	now        func() time.Time
}

// NewFormationSnapshotter 创建阵型快照器
func NewFormationSnapshotter(store Store, auth Authorizer, ledger *EventLedger, classifier PositionClassifier, effects *SideEffects) *FormationSnapshotter {
	return &FormationSnapshotter{
		store:      store,
		auth:       auth,
		ledger:     ledger,
		classifier: classifier,
		effects:    effects,
		now:        time.Now,
	}
}

// FormationChangeInput 阵型变更输入。IdempotencyKey 可选，
// 重发同一个键的请求不会产生第二个快照
type FormationChangeInput struct {
	MatchID        string
	AtMinute       float64
	Formation      []FormationPlayer
	Reason         *string
	IdempotencyKey string
}

// SubstitutionPair 从阵型差异推导出的换人对
type SubstitutionPair struct {
	Off string `json:"off"`
	On  string `json:"on"`
}

// FormationChangeResult 阵型变更结果
type FormationChangeResult struct {
	Snapshot      *FormationSnapshot
	Event         *MatchEvent
	PreviousShape string
	NewShape      string
	Substitutions []SubstitutionPair
	Replayed      bool
}

// ApplyFormationChange 应用阵型变更，单事务内完成：
//  1. 幂等键命中未删除的 formation_change 事件：同比赛直接返回当前
//     开放快照 (重放)，跨比赛报 Conflict
//  2. 对比当前开放快照和新阵型的球员集合，按下标配对推导换人
//  3. 关闭旧快照和所有开放在场区间，建新快照和新在场区间
//     (start_min 被占用时按最小步长前挪，保持一场比赛内唯一)
//  4. 追加一条携带前后阵型标签和换人对的 formation_change 事件
func (f *FormationSnapshotter) ApplyFormationChange(ctx context.Context, input FormationChangeInput, requesterID, requesterRole string) (*FormationChangeResult, error) {
	if err := requireMutate(ctx, f.auth, input.MatchID, requesterID, requesterRole); err != nil {
		return nil, err
	}

	result := &FormationChangeResult{}
	err := f.store.InTx(ctx, func(tx Store) error {
		if _, err := tx.GetMatch(ctx, input.MatchID); err != nil {
			return err
		}

		// 幂等键检查
		if input.IdempotencyKey != "" {
			existing, err := tx.GetEvent(ctx, input.IdempotencyKey)
			if err == nil && !existing.IsDeleted {
				if existing.MatchID != input.MatchID {
					return NewAppError(ErrConflict,
						fmt.Sprintf("idempotency key %s already used by another match", input.IdempotencyKey), nil)
				}
				snapshot, err := tx.GetOpenSnapshot(ctx, input.MatchID)
				if err != nil && !IsNotFound(err) {
					return err
				}
				result.Snapshot = snapshot
				result.Event = existing
				result.Replayed = true
				return nil
			}
			if err != nil && !IsNotFound(err) {
				return err
			}
		}

		prev, err := tx.GetOpenSnapshot(ctx, input.MatchID)
		if err != nil && !IsNotFound(err) {
			return err
		}

		// start_min 冲突前挪
		startMin := input.AtMinute
		for {
			taken, err := tx.SnapshotStartMinTaken(ctx, input.MatchID, startMin)
			if err != nil {
				return err
			}
			if !taken {
				break
			}
			startMin += startMinEpsilon
		}

		// 缺位置代码的球员用坐标分类补齐
		players := make([]FormationPlayer, len(input.Formation))
		copy(players, input.Formation)
		for i := range players {
			if players[i].Position == "" {
				players[i].Position = f.classifier.Classify(players[i].X, players[i].Y)
			}
		}

		// 差异推导换人对。按下标配对是尽力而为的启发式，
		// 换人数不是 1:1 时配不出完整映射
		var prevPlayers []FormationPlayer
		if prev != nil {
			prevPlayers = prev.Players
		}
		outs, ins := diffFormations(prevPlayers, players)
		for i := 0; i < len(outs) && i < len(ins); i++ {
			result.Substitutions = append(result.Substitutions, SubstitutionPair{Off: outs[i], On: ins[i]})
		}

		if prev != nil {
			if err := tx.CloseSnapshot(ctx, prev.ID, startMin); err != nil {
				return err
			}
			result.PreviousShape = ShapeLabel(prev.Players)
		}

		// 关闭所有开放在场区间，再按新阵型逐一重开
		openEntries, err := tx.ListOpenLineupEntries(ctx, input.MatchID)
		if err != nil {
			return err
		}
		for _, entry := range openEntries {
			if err := tx.CloseLineupEntry(ctx, entry.ID, startMin, input.Reason); err != nil {
				return err
			}
		}

		snapshot := &FormationSnapshot{
			ID:                 newID(),
			MatchID:            input.MatchID,
			StartMin:           startMin,
			Players:            players,
			SubstitutionReason: input.Reason,
		}
		if err := tx.CreateSnapshot(ctx, snapshot); err != nil {
			return err
		}
		result.Snapshot = snapshot
		result.NewShape = ShapeLabel(players)

		for _, p := range players {
			x, y := p.X, p.Y
			entry := &LineupEntry{
				ID:       newID(),
				MatchID:  input.MatchID,
				PlayerID: p.PlayerID,
				StartMin: startMin,
				Position: p.Position,
				PitchX:   &x,
				PitchY:   &y,
			}
			if err := tx.CreateLineupEntry(ctx, entry); err != nil {
				return err
			}
		}

		// 时间轴摘要事件，notes 携带结构化的前后标签和换人对
		notes, err := formationNotes(result.PreviousShape, result.NewShape, result.Substitutions)
		if err != nil {
			return err
		}

		event := &MatchEvent{
			ID:      input.IdempotencyKey,
			MatchID: input.MatchID,
			Kind:    EventKindFormationChange,
			ClockMs: minuteToClockMs(input.AtMinute),
			Notes:   &notes,
		}
		if err := f.ledger.appendTimeline(ctx, tx, event); err != nil {
			return err
		}
		result.Event = event

		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		f.effects.InvalidateMatch(input.MatchID, requesterID)
		f.effects.Publish(input.MatchID, NotifyFormationChanged, map[string]interface{}{
			"previous_shape": result.PreviousShape,
			"new_shape":      result.NewShape,
			"formation":      result.Snapshot.Players,
			"substitutions":  result.Substitutions,
			"start_min":      result.Snapshot.StartMin,
		})
	}

	return result, nil
}

// CurrentFormation 当前开放快照
func (f *FormationSnapshotter) CurrentFormation(ctx context.Context, matchID string) (*FormationSnapshot, error) {
	return f.store.GetOpenSnapshot(ctx, matchID)
}

// diffFormations 对比前后阵型的球员集合，返回离场和上场的球员 ID
// (保持各自出现的顺序)
func diffFormations(prev, next []FormationPlayer) (outs, ins []string) {
	prevSet := make(map[string]bool, len(prev))
	for _, p := range prev {
		prevSet[p.PlayerID] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, p := range next {
		nextSet[p.PlayerID] = true
	}

	for _, p := range prev {
		if !nextSet[p.PlayerID] {
			outs = append(outs, p.PlayerID)
		}
	}
	for _, p := range next {
		if !prevSet[p.PlayerID] {
			ins = append(ins, p.PlayerID)
		}
	}

	return outs, ins
}

// ShapeLabel 按行分组统计生成阵型标签，如 "4-4-2"、"4-2-3-1"。
// 门将不计入，空行跳过
func ShapeLabel(players []FormationPlayer) string {
	counts := map[string]int{}
	for _, p := range players {
		counts[LineGroup(p.Position)]++
	}

	var parts []string
	for _, group := range []string{"defense", "defensive_mid", "mid", "attacking_mid", "forward"} {
		if counts[group] > 0 {
			parts = append(parts, strconv.Itoa(counts[group]))
		}
	}

	return strings.Join(parts, "-")
}

// formationNotes 结构化的时间轴摘要
func formationNotes(prevShape, newShape string, subs []SubstitutionPair) (string, error) {
	if subs == nil {
		subs = []SubstitutionPair{}
	}
	data, err := json.Marshal(map[string]interface{}{
		"previous_shape": prevShape,
		"new_shape":      newShape,
		"substitutions":  subs,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
