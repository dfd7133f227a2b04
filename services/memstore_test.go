package services

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// memStore Store 端口的内存实现，只用于测试。
// 事务语义简化为直接执行 (测试都是单写者)
type memStore struct {
	matches     map[string]*Match
	states      map[string]*MatchState
	periods     map[string]*Period
	events      map[string]*MatchEvent
	lineups     map[string]*LineupEntry
	snapshots   map[string]*FormationSnapshot
	teams       map[string]string
	players     map[string]string
	memberships map[string]map[string]bool // teamID -> playerIDs
}

func newMemStore() *memStore {
	return &memStore{
		matches:     make(map[string]*Match),
		states:      make(map[string]*MatchState),
		periods:     make(map[string]*Period),
		events:      make(map[string]*MatchEvent),
		lineups:     make(map[string]*LineupEntry),
		snapshots:   make(map[string]*FormationSnapshot),
		teams:       make(map[string]string),
		players:     make(map[string]string),
		memberships: make(map[string]map[string]bool),
	}
}

func (s *memStore) addTeam(id, name string) {
	s.teams[id] = name
	if s.memberships[id] == nil {
		s.memberships[id] = make(map[string]bool)
	}
}

func (s *memStore) addPlayer(id, name, teamID string) {
	s.players[id] = name
	s.memberships[teamID][id] = true
}

func (s *memStore) addMatch(id, homeTeamID, awayTeamID, createdBy string) {
	s.matches[id] = &Match{
		ID:         id,
		HomeTeamID: homeTeamID,
		AwayTeamID: awayTeamID,
		CreatedBy:  createdBy,
	}
}

func notFound(what string) error {
	return NewAppError(ErrNotFound, what+" not found", nil)
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *memStore) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	m, ok := s.matches[matchID]
	if !ok || m.IsDeleted {
		return nil, notFound("match " + matchID)
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpdateMatchScore(ctx context.Context, matchID string, home, away int) error {
	m, ok := s.matches[matchID]
	if !ok {
		return notFound("match " + matchID)
	}
	m.HomeScore, m.AwayScore = home, away
	return nil
}

func (s *memStore) ListLiveMatches(ctx context.Context, userID string) ([]*Match, error) {
	var out []*Match
	for _, m := range s.matches {
		if m.IsDeleted || m.CreatedBy != userID {
			continue
		}
		if st, ok := s.states[m.ID]; ok && st.Status == StatusLive {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) GetMatchState(ctx context.Context, matchID string) (*MatchState, error) {
	st, ok := s.states[matchID]
	if !ok {
		return nil, notFound("match state " + matchID)
	}
	cp := *st
	return &cp, nil
}

func (s *memStore) CreateMatchState(ctx context.Context, state *MatchState) error {
	if _, ok := s.states[state.MatchID]; ok {
		return NewAppError(ErrConflict, "match state exists", nil)
	}
	cp := *state
	s.states[state.MatchID] = &cp
	return nil
}

func (s *memStore) UpdateMatchState(ctx context.Context, state *MatchState) error {
	if _, ok := s.states[state.MatchID]; !ok {
		return notFound("match state " + state.MatchID)
	}
	cp := *state
	s.states[state.MatchID] = &cp
	return nil
}

func (s *memStore) GetOpenPeriod(ctx context.Context, matchID string) (*Period, error) {
	for _, p := range s.periods {
		if p.MatchID == matchID && p.EndedAt == nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("open period for match " + matchID)
}

func (s *memStore) MaxPeriodNumber(ctx context.Context, matchID string) (int, error) {
	max := 0
	for _, p := range s.periods {
		if p.MatchID == matchID && p.PeriodNumber > max {
			max = p.PeriodNumber
		}
	}
	return max, nil
}

func (s *memStore) CreatePeriod(ctx context.Context, period *Period) error {
	for _, p := range s.periods {
		if p.MatchID == period.MatchID && p.EndedAt == nil {
			return NewAppError(ErrConflict, "open period exists", nil)
		}
		if p.MatchID == period.MatchID && p.PeriodNumber == period.PeriodNumber {
			return NewAppError(ErrConflict, "duplicate period number", nil)
		}
	}
	cp := *period
	s.periods[period.ID] = &cp
	return nil
}

func (s *memStore) ClosePeriod(ctx context.Context, periodID string, endedAt time.Time, durationSeconds int) error {
	p, ok := s.periods[periodID]
	if !ok || p.EndedAt != nil {
		return notFound("open period " + periodID)
	}
	t := endedAt
	d := durationSeconds
	p.EndedAt = &t
	p.DurationSeconds = &d
	return nil
}

func (s *memStore) ListPeriods(ctx context.Context, matchID string) ([]*Period, error) {
	var out []*Period
	for _, p := range s.periods {
		if p.MatchID == matchID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodNumber < out[j].PeriodNumber })
	return out, nil
}

func (s *memStore) GetEvent(ctx context.Context, eventID string) (*MatchEvent, error) {
	ev, ok := s.events[eventID]
	if !ok {
		return nil, notFound("event " + eventID)
	}
	cp := *ev
	return &cp, nil
}

func strEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *memStore) FindEventByNaturalKey(ctx context.Context, matchID string, teamID, playerID *string, kind string, clockMs int64) (*MatchEvent, error) {
	for _, ev := range s.events {
		if ev.MatchID == matchID && ev.Kind == kind && ev.ClockMs == clockMs &&
			strEq(ev.TeamID, teamID) && strEq(ev.PlayerID, playerID) {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, notFound("event by natural key")
}

func (s *memStore) CreateEvent(ctx context.Context, event *MatchEvent) error {
	if _, ok := s.events[event.ID]; ok {
		return NewAppError(ErrConflict, "duplicate event id", nil)
	}
	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *memStore) UpdateEvent(ctx context.Context, event *MatchEvent) error {
	if _, ok := s.events[event.ID]; !ok {
		return notFound("event " + event.ID)
	}
	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *memStore) SetEventDeleted(ctx context.Context, eventID string, deleted bool, deletedBy string) error {
	ev, ok := s.events[eventID]
	if !ok {
		return notFound("event " + eventID)
	}
	ev.IsDeleted = deleted
	return nil
}

func (s *memStore) ListEventsByKinds(ctx context.Context, matchID string, kinds []string) ([]*MatchEvent, error) {
	kindSet := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	var out []*MatchEvent
	for _, ev := range s.events {
		if ev.MatchID != matchID || ev.IsDeleted {
			continue
		}
		if len(kinds) > 0 && !kindSet[ev.Kind] {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClockMs < out[j].ClockMs })
	return out, nil
}

func (s *memStore) GetOpenLineupEntry(ctx context.Context, matchID, playerID string) (*LineupEntry, error) {
	for _, e := range s.lineups {
		if e.MatchID == matchID && e.PlayerID == playerID && e.EndMin == nil {
			cp := *e
			return &cp, nil
		}
	}
	return nil, notFound(fmt.Sprintf("open lineup entry for %s in %s", playerID, matchID))
}

func (s *memStore) ListOpenLineupEntries(ctx context.Context, matchID string) ([]*LineupEntry, error) {
	var out []*LineupEntry
	for _, e := range s.lineups {
		if e.MatchID == matchID && e.EndMin == nil {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (s *memStore) CreateLineupEntry(ctx context.Context, entry *LineupEntry) error {
	for _, e := range s.lineups {
		if e.MatchID == entry.MatchID && e.PlayerID == entry.PlayerID && e.EndMin == nil {
			return NewAppError(ErrConflict, "open lineup entry exists", nil)
		}
	}
	cp := *entry
	s.lineups[entry.ID] = &cp
	return nil
}

func (s *memStore) CloseLineupEntry(ctx context.Context, entryID string, endMin float64, reason *string) error {
	e, ok := s.lineups[entryID]
	if !ok || e.EndMin != nil {
		return notFound("open lineup entry " + entryID)
	}
	v := endMin
	e.EndMin = &v
	if reason != nil {
		e.SubstitutionReason = reason
	}
	return nil
}

func (s *memStore) GetOpenSnapshot(ctx context.Context, matchID string) (*FormationSnapshot, error) {
	for _, snap := range s.snapshots {
		if snap.MatchID == matchID && snap.EndMin == nil {
			cp := *snap
			cp.Players = append([]FormationPlayer(nil), snap.Players...)
			return &cp, nil
		}
	}
	return nil, notFound("open snapshot for match " + matchID)
}

func (s *memStore) SnapshotStartMinTaken(ctx context.Context, matchID string, startMin float64) (bool, error) {
	for _, snap := range s.snapshots {
		if snap.MatchID == matchID && snap.StartMin == startMin {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateSnapshot(ctx context.Context, snapshot *FormationSnapshot) error {
	for _, snap := range s.snapshots {
		if snap.MatchID == snapshot.MatchID && snap.EndMin == nil {
			return NewAppError(ErrConflict, "open snapshot exists", nil)
		}
		if snap.MatchID == snapshot.MatchID && snap.StartMin == snapshot.StartMin {
			return NewAppError(ErrConflict, "duplicate snapshot start_min", nil)
		}
	}
	cp := *snapshot
	cp.Players = append([]FormationPlayer(nil), snapshot.Players...)
	s.snapshots[snapshot.ID] = &cp
	return nil
}

func (s *memStore) CloseSnapshot(ctx context.Context, snapshotID string, endMin float64) error {
	snap, ok := s.snapshots[snapshotID]
	if !ok || snap.EndMin != nil {
		return notFound("open snapshot " + snapshotID)
	}
	v := endMin
	snap.EndMin = &v
	return nil
}

func (s *memStore) TeamName(ctx context.Context, teamID string) (string, error) {
	name, ok := s.teams[teamID]
	if !ok {
		return "", notFound("team " + teamID)
	}
	return name, nil
}

func (s *memStore) PlayerName(ctx context.Context, playerID string) (string, error) {
	name, ok := s.players[playerID]
	if !ok {
		return "", notFound("player " + playerID)
	}
	return name, nil
}

func (s *memStore) PlayerOnTeam(ctx context.Context, playerID, teamID string) (bool, error) {
	return s.memberships[teamID][playerID], nil
}
