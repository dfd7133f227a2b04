package services

import (
	"context"
	"errors"
	"testing"
)

func goalInput(id, teamID, playerID string, clockMs int64) CreateEventInput {
	in := CreateEventInput{
		ID:      id,
		MatchID: testMatch,
		Kind:    EventKindGoal,
		TeamID:  strp(teamID),
		ClockMs: clockMs,
	}
	if playerID != "" {
		in.PlayerID = strp(playerID)
	}
	return in
}

func TestCreateEventIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ledger.CreateEvent(ctx, goalInput("client-evt-1", testHome, "p1", 600000), testCoach, coachRole)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	second, err := f.ledger.CreateEvent(ctx, goalInput("client-evt-1", testHome, "p1", 600000), testCoach, coachRole)
	if err != nil {
		t.Fatalf("Replayed CreateEvent failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Expected the same event on replay, got %s and %s", first.ID, second.ID)
	}

	events, _ := f.store.ListEventsByKinds(ctx, testMatch, []string{EventKindGoal})
	if len(events) != 1 {
		t.Errorf("Expected exactly one goal event in the ledger, got %d", len(events))
	}
}

func TestCreateEventCrossMatchConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.addMatch("m2", testHome, testAway, testCoach)

	if _, err := f.ledger.CreateEvent(ctx, goalInput("client-evt-1", testHome, "p1", 600000), testCoach, coachRole); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	input := goalInput("client-evt-1", testHome, "p1", 600000)
	input.MatchID = "m2"
	_, err := f.ledger.CreateEvent(ctx, input, testCoach, coachRole)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict for reused id on another match, got %v", err)
	}
}

func TestCreateEventInvalidTeam(t *testing.T) {
	f := newFixture(t)

	f.store.addTeam("team-x", "Strangers")

	_, err := f.ledger.CreateEvent(context.Background(), goalInput("", "team-x", "", 0), testCoach, coachRole)
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("Expected ErrInvalidReference for a team not in the match, got %v", err)
	}
}

func TestCreateEventInvalidPlayerMembership(t *testing.T) {
	f := newFixture(t)

	// p4 属于客队，不能挂在主队事件上
	_, err := f.ledger.CreateEvent(context.Background(), goalInput("", testHome, "p4", 0), testCoach, coachRole)
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("Expected ErrInvalidReference for wrong membership, got %v", err)
	}
}

func TestNaturalDuplicateRestoredInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.ledger.CreateEvent(ctx, goalInput("", testHome, "p1", 1200000), testCoach, coachRole)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	if err := f.ledger.DeleteEvent(ctx, created.ID, testCoach, coachRole); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}

	// 同自然键重建：原位恢复墓碑，而不是插入新行
	restored, err := f.ledger.CreateEvent(ctx, goalInput("", testHome, "p1", 1200000), testCoach, coachRole)
	if err != nil {
		t.Fatalf("Recreate failed: %v", err)
	}

	if restored.ID != created.ID {
		t.Errorf("Expected tombstone %s to be restored, got new event %s", created.ID, restored.ID)
	}
	if restored.IsDeleted {
		t.Error("Expected restored event to be live")
	}

	events, _ := f.store.ListEventsByKinds(ctx, testMatch, []string{EventKindGoal})
	if len(events) != 1 {
		t.Errorf("Expected one non-deleted goal event, got %d", len(events))
	}
}

func TestScoreProjectionWithOwnGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 主队两球，客队一记乌龙 → 3:0
	if _, err := f.ledger.CreateEvent(ctx, goalInput("", testHome, "p1", 600000), testCoach, coachRole); err != nil {
		t.Fatalf("First goal failed: %v", err)
	}
	if _, err := f.ledger.CreateEvent(ctx, goalInput("", testHome, "p2", 1800000), testCoach, coachRole); err != nil {
		t.Fatalf("Second goal failed: %v", err)
	}

	ownGoal := CreateEventInput{
		MatchID: testMatch,
		Kind:    EventKindOwnGoal,
		TeamID:  strp(testAway),
		ClockMs: 2400000,
	}
	if _, err := f.ledger.CreateEvent(ctx, ownGoal, testCoach, coachRole); err != nil {
		t.Fatalf("Own goal failed: %v", err)
	}

	match, _ := f.store.GetMatch(ctx, testMatch)
	if match.HomeScore != 3 || match.AwayScore != 0 {
		t.Errorf("Expected 3:0, got %d:%d", match.HomeScore, match.AwayScore)
	}
}

func TestDeleteEventRecomputesScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.ledger.CreateEvent(ctx, goalInput("", testHome, "p1", 600000), testCoach, coachRole)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	match, _ := f.store.GetMatch(ctx, testMatch)
	if match.HomeScore != 1 {
		t.Fatalf("Expected 1:0 before delete, got %d:%d", match.HomeScore, match.AwayScore)
	}

	if err := f.ledger.DeleteEvent(ctx, created.ID, testCoach, coachRole); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}

	match, _ = f.store.GetMatch(ctx, testMatch)
	if match.HomeScore != 0 {
		t.Errorf("Expected score to drop back to 0:0, got %d:%d", match.HomeScore, match.AwayScore)
	}

	if err := f.ledger.DeleteEvent(ctx, created.ID, testCoach, coachRole); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound when deleting twice, got %v", err)
	}
}

func TestUpdateEventKindTriggersRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.ledger.CreateEvent(ctx, CreateEventInput{
		MatchID: testMatch,
		Kind:    "shot_on_target",
		TeamID:  strp(testHome),
		ClockMs: 300000,
	}, testCoach, coachRole)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	kind := EventKindGoal
	updated, err := f.ledger.UpdateEvent(ctx, created.ID, UpdateEventInput{Kind: &kind}, testCoach, coachRole)
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if updated.Kind != EventKindGoal {
		t.Errorf("Expected kind to change to goal, got %s", updated.Kind)
	}

	match, _ := f.store.GetMatch(ctx, testMatch)
	if match.HomeScore != 1 {
		t.Errorf("Expected score 1:0 after upgrading to goal, got %d:%d", match.HomeScore, match.AwayScore)
	}
}

type blockedQuota struct{}

func (blockedQuota) Check(ctx context.Context, userID, role, matchID, eventKind string) error {
	return NewAppError(ErrQuotaExceeded, "event quota reached", nil)
}

func TestQuotaRejectedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auth := NewCreatorAuthorizer(f.store)
	effects := NewSideEffects(f.cache, f.hub, nil)
	ledger := NewEventLedger(f.store, auth, blockedQuota{}, f.projector, effects)

	_, err := ledger.CreateEvent(ctx, goalInput("", testHome, "p1", 0), testCoach, coachRole)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}

	events, _ := f.store.ListEventsByKinds(ctx, testMatch, nil)
	if len(events) != 0 {
		t.Errorf("Expected no events written after quota rejection, got %d", len(events))
	}
}

func TestSentimentClamped(t *testing.T) {
	f := newFixture(t)

	input := goalInput("", testHome, "p1", 0)
	input.Sentiment = 9
	event, err := f.ledger.CreateEvent(context.Background(), input, testCoach, coachRole)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if event.Sentiment != 3 {
		t.Errorf("Expected sentiment clamped to 3, got %d", event.Sentiment)
	}
}
