package services

import (
	"context"
	"errors"
	"testing"
)

func openEntry(f *fixture, t *testing.T, playerID, position string, startMin float64) *LineupEntry {
	t.Helper()
	entry, err := f.lineups.OpenEntry(context.Background(), &LineupEntry{
		MatchID:  testMatch,
		PlayerID: playerID,
		StartMin: startMin,
		Position: position,
	}, testCoach, coachRole)
	if err != nil {
		t.Fatalf("OpenEntry(%s) failed: %v", playerID, err)
	}
	return entry
}

func TestSubstituteClosesAndOpensIntervals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	openEntry(f, t, "p1", "ST", 0)

	reason := "tactical"
	result, err := f.lineups.Substitute(ctx, SubstituteInput{
		MatchID:   testMatch,
		PlayerOff: "p1",
		PlayerOn:  "p2",
		Position:  "ST",
		AtMinute:  63,
		Reason:    &reason,
	}, testCoach, coachRole)
	if err != nil {
		t.Fatalf("Substitute failed: %v", err)
	}

	if result.Off.EndMin == nil || *result.Off.EndMin != 63 {
		t.Errorf("Expected off interval closed at minute 63, got %v", result.Off.EndMin)
	}
	if result.Off.SubstitutionReason == nil || *result.Off.SubstitutionReason != "tactical" {
		t.Errorf("Expected reason on the closed interval, got %v", result.Off.SubstitutionReason)
	}
	if result.On.StartMin != 63 || result.On.EndMin != nil {
		t.Errorf("Expected on interval open from minute 63, got start=%v end=%v", result.On.StartMin, result.On.EndMin)
	}

	// 时间轴上应有 off/on 两条事件
	if len(result.Events) != 2 {
		t.Fatalf("Expected two timeline events, got %d", len(result.Events))
	}
	if result.Events[0].Kind != EventKindSubstitutionOff || result.Events[1].Kind != EventKindSubstitutionOn {
		t.Errorf("Expected off/on pair, got %s/%s", result.Events[0].Kind, result.Events[1].Kind)
	}
	if *result.Events[0].PlayerID != "p1" || *result.Events[1].PlayerID != "p2" {
		t.Errorf("Expected events for p1/p2, got %s/%s", *result.Events[0].PlayerID, *result.Events[1].PlayerID)
	}

	// 场上只剩 p2
	open, _ := f.lineups.OnPitch(ctx, testMatch)
	if len(open) != 1 || open[0].PlayerID != "p2" {
		t.Errorf("Expected only p2 on pitch, got %v", open)
	}
}

func TestSubstitutePlayerNotOnPitch(t *testing.T) {
	f := newFixture(t)

	_, err := f.lineups.Substitute(context.Background(), SubstituteInput{
		MatchID:   testMatch,
		PlayerOff: "p1",
		PlayerOn:  "p2",
		Position:  "ST",
		AtMinute:  10,
	}, testCoach, coachRole)
	if !errors.Is(err, ErrPlayerNotOnPitch) {
		t.Fatalf("Expected ErrPlayerNotOnPitch, got %v", err)
	}
}

func TestSubstituteBeforePlayerEntered(t *testing.T) {
	f := newFixture(t)

	// p1 第 60 分钟才上场，不能在第 30 分钟被换下
	openEntry(f, t, "p1", "ST", 60)

	_, err := f.lineups.Substitute(context.Background(), SubstituteInput{
		MatchID:   testMatch,
		PlayerOff: "p1",
		PlayerOn:  "p2",
		Position:  "ST",
		AtMinute:  30,
	}, testCoach, coachRole)
	if !errors.Is(err, ErrPlayerNotOnPitch) {
		t.Fatalf("Expected ErrPlayerNotOnPitch for pre-entry substitution, got %v", err)
	}
}

func TestSubstituteFailureLeavesNoEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lineups.Substitute(ctx, SubstituteInput{
		MatchID:   testMatch,
		PlayerOff: "p1",
		PlayerOn:  "p2",
		Position:  "ST",
		AtMinute:  10,
	}, testCoach, coachRole)
	if err == nil {
		t.Fatal("Expected substitution to fail")
	}

	events, _ := f.store.ListEventsByKinds(ctx, testMatch, nil)
	if len(events) != 0 {
		t.Errorf("Expected no timeline events after failed substitution, got %d", len(events))
	}
}

func TestOpenEntryConflictWhenAlreadyOpen(t *testing.T) {
	f := newFixture(t)

	openEntry(f, t, "p1", "ST", 0)

	_, err := f.lineups.OpenEntry(context.Background(), &LineupEntry{
		MatchID:  testMatch,
		PlayerID: "p1",
		StartMin: 10,
		Position: "CM",
	}, testCoach, coachRole)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict for a second open interval, got %v", err)
	}
}

func TestSubstituteAccessDenied(t *testing.T) {
	f := newFixture(t)

	openEntry(f, t, "p1", "ST", 0)

	_, err := f.lineups.Substitute(context.Background(), SubstituteInput{
		MatchID:   testMatch,
		PlayerOff: "p1",
		PlayerOn:  "p2",
		Position:  "ST",
		AtMinute:  10,
	}, "stranger", "viewer")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Expected ErrAccessDenied, got %v", err)
	}
}
