package services

import (
	"testing"
	"time"
)

const (
	testMatch = "m1"
	testHome  = "team-h"
	testAway  = "team-a"
	testCoach = "coach-1"
	coachRole = "coach"
)

// fixture 把核心组件接到内存 Store 上，时钟可控
type fixture struct {
	store      *memStore
	cache      *ReadCache
	hub        *BroadcastHub
	projector  *ScoreProjector
	periods    *PeriodTracker
	machine    *StateMachine
	ledger     *EventLedger
	lineups    *LineupTracker
	formations *FormationSnapshotter
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	store.addTeam(testHome, "Harriers")
	store.addTeam(testAway, "Albion")
	store.addPlayer("p1", "Player One", testHome)
	store.addPlayer("p2", "Player Two", testHome)
	store.addPlayer("p3", "Player Three", testHome)
	store.addPlayer("p4", "Player Four", testAway)
	store.addPlayer("p5", "Player Five", testAway)
	store.addMatch(testMatch, testHome, testAway, testCoach)

	cache := NewReadCache(time.Minute)
	hub := NewBroadcastHub()
	t.Cleanup(cache.Stop)
	t.Cleanup(hub.Close)

	effects := NewSideEffects(cache, hub, nil)
	auth := NewCreatorAuthorizer(store)
	projector := NewScoreProjector(store)
	periods := NewPeriodTracker(store, auth, effects)
	machine := NewStateMachine(store, auth, periods, projector, effects)
	ledger := NewEventLedger(store, auth, UnlimitedQuota{}, projector, effects)
	lineups := NewLineupTracker(store, auth, ledger, effects)
	formations := NewFormationSnapshotter(store, auth, ledger, GridClassifier{}, effects)

	f := &fixture{
		store:      store,
		cache:      cache,
		hub:        hub,
		projector:  projector,
		periods:    periods,
		machine:    machine,
		ledger:     ledger,
		lineups:    lineups,
		formations: formations,
		clock:      time.Date(2025, 9, 6, 15, 0, 0, 0, time.UTC),
	}

	now := func() time.Time { return f.clock }
	periods.now = now
	machine.now = now
	ledger.now = now
	lineups.now = now
	formations.now = now

	return f
}

// advance 推进测试时钟
func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func strp(s string) *string { return &s }
