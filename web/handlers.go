package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"matchday-service/services"
)

// stateResponse 比赛状态响应，耗时按需推导
type stateResponse struct {
	MatchID             string  `json:"match_id"`
	Status              string  `json:"status"`
	CurrentPeriodNumber *int    `json:"current_period_number,omitempty"`
	CurrentPeriodType   *string `json:"current_period_type,omitempty"`
	StartedAt           *int64  `json:"started_at,omitempty"`
	EndedAt             *int64  `json:"ended_at,omitempty"`
	ElapsedSeconds      int     `json:"elapsed_seconds"`
}

func toStateResponse(state *services.MatchState) stateResponse {
	resp := stateResponse{
		MatchID:             state.MatchID,
		Status:              string(state.Status),
		CurrentPeriodNumber: state.CurrentPeriodNumber,
		ElapsedSeconds:      services.ElapsedSeconds(state, time.Now()),
	}
	if state.CurrentPeriodType != nil {
		t := string(*state.CurrentPeriodType)
		resp.CurrentPeriodType = &t
	}
	if state.StartedAt != nil {
		ts := state.StartedAt.Unix()
		resp.StartedAt = &ts
	}
	if state.EndedAt != nil {
		ts := state.EndedAt.Unix()
		resp.EndedAt = &ts
	}
	return resp
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	state, err := s.machine.Start(r.Context(), matchID, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	state, err := s.machine.Pause(r.Context(), matchID, body.Reason, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	state, err := s.machine.Resume(r.Context(), matchID, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	state, err := s.machine.Complete(r.Context(), matchID, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	state, err := s.machine.Cancel(r.Context(), matchID, body.Reason, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) handlePostpone(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	state, err := s.machine.Postpone(r.Context(), matchID, body.Reason, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	state, err := s.machine.Reschedule(r.Context(), matchID, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (s *Server) handleNextPeriod(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		PeriodType string `json:"period_type"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.PeriodType == "" {
		body.PeriodType = string(services.PeriodRegular)
	}

	period, err := s.periods.StartNextPeriod(r.Context(), matchID, services.PeriodType(body.PeriodType), userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period_number": period.PeriodNumber,
		"period_type":   period.PeriodType,
		"started_at":    period.StartedAt.Unix(),
	})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		ID           string  `json:"id"`
		Kind         string  `json:"kind"`
		TeamID       *string `json:"team_id"`
		PlayerID     *string `json:"player_id"`
		PeriodNumber *int    `json:"period_number"`
		ClockMs      int64   `json:"clock_ms"`
		Notes        *string `json:"notes"`
		Sentiment    int     `json:"sentiment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	event, err := s.ledger.CreateEvent(r.Context(), services.CreateEventInput{
		ID:           body.ID,
		MatchID:      matchID,
		Kind:         body.Kind,
		TeamID:       body.TeamID,
		PlayerID:     body.PlayerID,
		PeriodNumber: body.PeriodNumber,
		ClockMs:      body.ClockMs,
		Notes:        body.Notes,
		Sentiment:    body.Sentiment,
	}, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]
	userID, role := requester(r)

	var body struct {
		Kind      *string `json:"kind"`
		TeamID    *string `json:"team_id"`
		PlayerID  *string `json:"player_id"`
		ClockMs   *int64  `json:"clock_ms"`
		Notes     *string `json:"notes"`
		Sentiment *int    `json:"sentiment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	event, err := s.ledger.UpdateEvent(r.Context(), eventID, services.UpdateEventInput{
		Kind:      body.Kind,
		TeamID:    body.TeamID,
		PlayerID:  body.PlayerID,
		ClockMs:   body.ClockMs,
		Notes:     body.Notes,
		Sentiment: body.Sentiment,
	}, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]
	userID, role := requester(r)

	if err := s.ledger.DeleteEvent(r.Context(), eventID, userID, role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleOpenLineupEntry(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		PlayerID string   `json:"player_id"`
		StartMin float64  `json:"start_min"`
		Position string   `json:"position"`
		PitchX   *float64 `json:"pitch_x"`
		PitchY   *float64 `json:"pitch_y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	entry, err := s.lineups.OpenEntry(r.Context(), &services.LineupEntry{
		MatchID:  matchID,
		PlayerID: body.PlayerID,
		StartMin: body.StartMin,
		Position: body.Position,
		PitchX:   body.PitchX,
		PitchY:   body.PitchY,
	}, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleSubstitute(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		PlayerOff string  `json:"player_off"`
		PlayerOn  string  `json:"player_on"`
		Position  string  `json:"position"`
		AtMinute  float64 `json:"at_minute"`
		Reason    *string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	result, err := s.lineups.Substitute(r.Context(), services.SubstituteInput{
		MatchID:   matchID,
		PlayerOff: body.PlayerOff,
		PlayerOn:  body.PlayerOn,
		Position:  body.Position,
		AtMinute:  body.AtMinute,
		Reason:    body.Reason,
	}, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFormationChange(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	userID, role := requester(r)

	var body struct {
		AtMinute       float64                    `json:"at_minute"`
		Formation      []services.FormationPlayer `json:"formation"`
		Reason         *string                    `json:"reason"`
		IdempotencyKey string                     `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	result, err := s.formations.ApplyFormationChange(r.Context(), services.FormationChangeInput{
		MatchID:        matchID,
		AtMinute:       body.AtMinute,
		Formation:      body.Formation,
		Reason:         body.Reason,
		IdempotencyKey: body.IdempotencyKey,
	}, userID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":       result.Snapshot,
		"previous_shape": result.PreviousShape,
		"new_shape":      result.NewShape,
		"substitutions":  result.Substitutions,
		"replayed":       result.Replayed,
	})
}

// handleGetState 读比赛状态，走 ReadCache (读穿透：未命中回源后填充)
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	key := services.CacheKeyMatchState(matchID)

	if cached, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, toStateResponse(cached.(*services.MatchState)))
		return
	}

	state, err := s.machine.GetState(r.Context(), matchID)
	if err != nil {
		writeError(w, err)
		return
	}

	s.cache.SetTTL(key, state, s.config.StateCacheTTL)
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

// handleGetSummary 比赛摘要：比分 + 状态 + 当前阵型标签
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]
	key := services.CacheKeyMatchSummary(matchID)

	if cached, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	match, err := s.store.GetMatch(r.Context(), matchID)
	if err != nil {
		writeError(w, err)
		return
	}

	summary := map[string]interface{}{
		"match_id":     match.ID,
		"home_team_id": match.HomeTeamID,
		"away_team_id": match.AwayTeamID,
		"home_score":   match.HomeScore,
		"away_score":   match.AwayScore,
	}

	if state, err := s.machine.GetState(r.Context(), matchID); err == nil {
		summary["status"] = state.Status
		summary["elapsed_seconds"] = services.ElapsedSeconds(state, time.Now())
	} else if !services.IsNotFound(err) {
		writeError(w, err)
		return
	} else {
		summary["status"] = services.StatusScheduled
		summary["elapsed_seconds"] = 0
	}

	if snapshot, err := s.formations.CurrentFormation(r.Context(), matchID); err == nil {
		summary["formation"] = services.ShapeLabel(snapshot.Players)
	}

	s.cache.SetTTL(key, summary, s.config.SummaryCacheTTL)
	writeJSON(w, http.StatusOK, summary)
}

// handleLiveMatches 调用者的直播比赛列表
func (s *Server) handleLiveMatches(w http.ResponseWriter, r *http.Request) {
	userID, _ := requester(r)
	key := services.CacheKeyLiveMatches(userID)

	if cached, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	matches, err := s.store.ListLiveMatches(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]interface{}{"matches": matches}
	s.cache.SetTTL(key, body, s.config.ListingCacheTTL)
	writeJSON(w, http.StatusOK, body)
}
