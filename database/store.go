package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"matchday-service/services"
)

// queryer *sql.DB 和 *sql.Tx 的公共子集
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore services.Store 的 Postgres 实现。
// 存储层约束冲突在这里翻译成错误分类 (唯一约束→Conflict、
// 外键→InvalidReference、无此行→NotFound)，上层组件不感知 pq 错误码。
type SQLStore struct {
	db *sql.DB
	q  queryer
}

// NewSQLStore 创建 SQLStore
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

// InTx 在一个事务内执行 fn。已经在事务里时直接复用当前事务
func (s *SQLStore) InTx(ctx context.Context, fn func(tx services.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txStore := &SQLStore{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

// translate 把存储引擎错误翻译成错误分类
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return services.NewAppError(services.ErrNotFound, "row not found", err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return services.NewAppError(services.ErrConflict, "unique constraint violated", err)
		case "23503": // foreign_key_violation
			return services.NewAppError(services.ErrInvalidReference, "foreign key violated", err)
		}
	}

	return err
}

// GetMatch 读取比赛记录
func (s *SQLStore) GetMatch(ctx context.Context, matchID string) (*services.Match, error) {
	query := `
		SELECT id, home_team_id, away_team_id, home_score, away_score, created_by, is_deleted
		FROM matches
		WHERE id = $1 AND is_deleted = FALSE
	`

	var m services.Match
	err := s.q.QueryRowContext(ctx, query, matchID).Scan(
		&m.ID, &m.HomeTeamID, &m.AwayTeamID, &m.HomeScore, &m.AwayScore, &m.CreatedBy, &m.IsDeleted)
	if err != nil {
		return nil, translate(err)
	}

	return &m, nil
}

// UpdateMatchScore 回写派生比分
func (s *SQLStore) UpdateMatchScore(ctx context.Context, matchID string, home, away int) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE matches SET home_score = $2, away_score = $3 WHERE id = $1 AND is_deleted = FALSE`,
		matchID, home, away)
	if err != nil {
		return translate(err)
	}
	return requireRows(result, "match "+matchID)
}

// ListLiveMatches 某个用户创建的、正在直播的比赛
func (s *SQLStore) ListLiveMatches(ctx context.Context, userID string) ([]*services.Match, error) {
	query := `
		SELECT m.id, m.home_team_id, m.away_team_id, m.home_score, m.away_score, m.created_by, m.is_deleted
		FROM matches m
		JOIN match_states ms ON ms.match_id = m.id
		WHERE m.created_by = $1 AND ms.status = 'LIVE' AND m.is_deleted = FALSE
		ORDER BY ms.started_at DESC
	`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var matches []*services.Match
	for rows.Next() {
		var m services.Match
		if err := rows.Scan(&m.ID, &m.HomeTeamID, &m.AwayTeamID, &m.HomeScore, &m.AwayScore, &m.CreatedBy, &m.IsDeleted); err != nil {
			return nil, err
		}
		matches = append(matches, &m)
	}

	return matches, rows.Err()
}

// GetMatchState 读取比赛状态
func (s *SQLStore) GetMatchState(ctx context.Context, matchID string) (*services.MatchState, error) {
	query := `
		SELECT match_id, status, current_period_number, current_period_type,
		       started_at, ended_at, total_elapsed_seconds, active_since, status_reason
		FROM match_states
		WHERE match_id = $1 AND is_deleted = FALSE
	`

	var (
		state        services.MatchState
		periodNumber sql.NullInt64
		periodType   sql.NullString
		startedAt    sql.NullTime
		endedAt      sql.NullTime
		activeSince  sql.NullTime
		statusReason sql.NullString
	)
	err := s.q.QueryRowContext(ctx, query, matchID).Scan(
		&state.MatchID, &state.Status, &periodNumber, &periodType,
		&startedAt, &endedAt, &state.TotalElapsedSeconds, &activeSince, &statusReason)
	if err != nil {
		return nil, translate(err)
	}

	if periodNumber.Valid {
		n := int(periodNumber.Int64)
		state.CurrentPeriodNumber = &n
	}
	if periodType.Valid {
		t := services.PeriodType(periodType.String)
		state.CurrentPeriodType = &t
	}
	if startedAt.Valid {
		state.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		state.EndedAt = &endedAt.Time
	}
	if activeSince.Valid {
		state.ActiveSince = &activeSince.Time
	}
	if statusReason.Valid {
		state.StatusReason = &statusReason.String
	}

	return &state, nil
}

// CreateMatchState 创建比赛状态记录
func (s *SQLStore) CreateMatchState(ctx context.Context, state *services.MatchState) error {
	query := `
		INSERT INTO match_states (match_id, status, current_period_number, current_period_type,
		                          started_at, ended_at, total_elapsed_seconds, active_since, status_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.q.ExecContext(ctx, query,
		state.MatchID, state.Status, intPtr(state.CurrentPeriodNumber), periodTypePtr(state.CurrentPeriodType),
		state.StartedAt, state.EndedAt, state.TotalElapsedSeconds, state.ActiveSince, state.StatusReason, time.Now())
	return translate(err)
}

// UpdateMatchState 更新比赛状态记录
func (s *SQLStore) UpdateMatchState(ctx context.Context, state *services.MatchState) error {
	query := `
		UPDATE match_states
		SET status = $2, current_period_number = $3, current_period_type = $4,
		    started_at = $5, ended_at = $6, total_elapsed_seconds = $7,
		    active_since = $8, status_reason = $9, updated_at = $10
		WHERE match_id = $1 AND is_deleted = FALSE
	`

	result, err := s.q.ExecContext(ctx, query,
		state.MatchID, state.Status, intPtr(state.CurrentPeriodNumber), periodTypePtr(state.CurrentPeriodType),
		state.StartedAt, state.EndedAt, state.TotalElapsedSeconds, state.ActiveSince, state.StatusReason, time.Now())
	if err != nil {
		return translate(err)
	}
	return requireRows(result, "match state "+state.MatchID)
}

// GetOpenPeriod 当前未结束的时段
func (s *SQLStore) GetOpenPeriod(ctx context.Context, matchID string) (*services.Period, error) {
	query := `
		SELECT id, match_id, period_number, period_type, started_at, ended_at, duration_seconds
		FROM periods
		WHERE match_id = $1 AND ended_at IS NULL AND is_deleted = FALSE
	`

	return s.scanPeriod(s.q.QueryRowContext(ctx, query, matchID))
}

// MaxPeriodNumber 该比赛已分配的最大时段号，没有时段时为 0
func (s *SQLStore) MaxPeriodNumber(ctx context.Context, matchID string) (int, error) {
	var max int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(period_number), 0) FROM periods WHERE match_id = $1 AND is_deleted = FALSE`,
		matchID).Scan(&max)
	if err != nil {
		return 0, translate(err)
	}
	return max, nil
}

// CreatePeriod 创建时段
func (s *SQLStore) CreatePeriod(ctx context.Context, period *services.Period) error {
	query := `
		INSERT INTO periods (id, match_id, period_number, period_type, started_at, ended_at, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.q.ExecContext(ctx, query,
		period.ID, period.MatchID, period.PeriodNumber, period.PeriodType,
		period.StartedAt, period.EndedAt, intPtr(period.DurationSeconds))
	return translate(err)
}

// ClosePeriod 关闭时段
func (s *SQLStore) ClosePeriod(ctx context.Context, periodID string, endedAt time.Time, durationSeconds int) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE periods SET ended_at = $2, duration_seconds = $3 WHERE id = $1 AND ended_at IS NULL AND is_deleted = FALSE`,
		periodID, endedAt, durationSeconds)
	if err != nil {
		return translate(err)
	}
	return requireRows(result, "open period "+periodID)
}

// ListPeriods 该比赛的全部时段，按时段号排序
func (s *SQLStore) ListPeriods(ctx context.Context, matchID string) ([]*services.Period, error) {
	query := `
		SELECT id, match_id, period_number, period_type, started_at, ended_at, duration_seconds
		FROM periods
		WHERE match_id = $1 AND is_deleted = FALSE
		ORDER BY period_number ASC
	`

	rows, err := s.q.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var periods []*services.Period
	for rows.Next() {
		period, err := s.scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, period)
	}

	return periods, rows.Err()
}

// GetEvent 按 ID 读取事件，连同软删除的一起返回 (幂等键检查需要)
func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (*services.MatchEvent, error) {
	query := `
		SELECT id, match_id, kind, team_id, player_id, period_number, clock_ms, notes, sentiment, created_at, is_deleted
		FROM match_events
		WHERE id = $1
	`

	return s.scanEvent(s.q.QueryRowContext(ctx, query, eventID))
}

// FindEventByNaturalKey 按自然键 (比赛,球队,球员,类型,时刻) 查找事件，
// 连同软删除的一起返回 (恢复去重需要)
func (s *SQLStore) FindEventByNaturalKey(ctx context.Context, matchID string, teamID, playerID *string, kind string, clockMs int64) (*services.MatchEvent, error) {
	query := `
		SELECT id, match_id, kind, team_id, player_id, period_number, clock_ms, notes, sentiment, created_at, is_deleted
		FROM match_events
		WHERE match_id = $1 AND kind = $2 AND clock_ms = $3
		  AND team_id IS NOT DISTINCT FROM $4
		  AND player_id IS NOT DISTINCT FROM $5
		ORDER BY created_at ASC
		LIMIT 1
	`

	return s.scanEvent(s.q.QueryRowContext(ctx, query, matchID, kind, clockMs, teamID, playerID))
}

// CreateEvent 创建事件
func (s *SQLStore) CreateEvent(ctx context.Context, event *services.MatchEvent) error {
	query := `
		INSERT INTO match_events (id, match_id, kind, team_id, player_id, period_number, clock_ms, notes, sentiment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.q.ExecContext(ctx, query,
		event.ID, event.MatchID, event.Kind, event.TeamID, event.PlayerID,
		intPtr(event.PeriodNumber), event.ClockMs, event.Notes, event.Sentiment, event.CreatedAt)
	return translate(err)
}

// UpdateEvent 更新事件
func (s *SQLStore) UpdateEvent(ctx context.Context, event *services.MatchEvent) error {
	query := `
		UPDATE match_events
		SET kind = $2, team_id = $3, player_id = $4, period_number = $5, clock_ms = $6, notes = $7, sentiment = $8
		WHERE id = $1 AND is_deleted = FALSE
	`

	result, err := s.q.ExecContext(ctx, query,
		event.ID, event.Kind, event.TeamID, event.PlayerID,
		intPtr(event.PeriodNumber), event.ClockMs, event.Notes, event.Sentiment)
	if err != nil {
		return translate(err)
	}
	return requireRows(result, "event "+event.ID)
}

// SetEventDeleted 软删除/恢复事件
func (s *SQLStore) SetEventDeleted(ctx context.Context, eventID string, deleted bool, deletedBy string) error {
	var result sql.Result
	var err error
	if deleted {
		result, err = s.q.ExecContext(ctx,
			`UPDATE match_events SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3 WHERE id = $1`,
			eventID, time.Now(), deletedBy)
	} else {
		result, err = s.q.ExecContext(ctx,
			`UPDATE match_events SET is_deleted = FALSE, deleted_at = NULL, deleted_by = NULL WHERE id = $1`,
			eventID)
	}
	if err != nil {
		return translate(err)
	}
	return requireRows(result, "event "+eventID)
}

// ListEventsByKinds 按类型过滤的非删除事件
func (s *SQLStore) ListEventsByKinds(ctx context.Context, matchID string, kinds []string) ([]*services.MatchEvent, error) {
	query := `
		SELECT id, match_id, kind, team_id, player_id, period_number, clock_ms, notes, sentiment, created_at, is_deleted
		FROM match_events
		WHERE match_id = $1 AND is_deleted = FALSE AND ($2::text[] IS NULL OR kind = ANY($2))
		ORDER BY clock_ms ASC, created_at ASC
	`

	var kindsParam interface{}
	if len(kinds) > 0 {
		kindsParam = pq.Array(kinds)
	}

	rows, err := s.q.QueryContext(ctx, query, matchID, kindsParam)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var events []*services.MatchEvent
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// GetOpenLineupEntry 球员当前的开放在场区间
func (s *SQLStore) GetOpenLineupEntry(ctx context.Context, matchID, playerID string) (*services.LineupEntry, error) {
	query := `
		SELECT id, match_id, player_id, start_min, end_min, position, pitch_x, pitch_y, substitution_reason
		FROM lineup_entries
		WHERE match_id = $1 AND player_id = $2 AND end_min IS NULL AND is_deleted = FALSE
	`

	return s.scanLineupEntry(s.q.QueryRowContext(ctx, query, matchID, playerID))
}

// ListOpenLineupEntries 当前在场的全部开放区间
func (s *SQLStore) ListOpenLineupEntries(ctx context.Context, matchID string) ([]*services.LineupEntry, error) {
	query := `
		SELECT id, match_id, player_id, start_min, end_min, position, pitch_x, pitch_y, substitution_reason
		FROM lineup_entries
		WHERE match_id = $1 AND end_min IS NULL AND is_deleted = FALSE
		ORDER BY start_min ASC, player_id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var entries []*services.LineupEntry
	for rows.Next() {
		entry, err := s.scanLineupEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CreateLineupEntry 创建在场区间
func (s *SQLStore) CreateLineupEntry(ctx context.Context, entry *services.LineupEntry) error {
	query := `
		INSERT INTO lineup_entries (id, match_id, player_id, start_min, end_min, position, pitch_x, pitch_y, substitution_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.q.ExecContext(ctx, query,
		entry.ID, entry.MatchID, entry.PlayerID, entry.StartMin, entry.EndMin,
		entry.Position, entry.PitchX, entry.PitchY, entry.SubstitutionReason)
	return translate(err)
}

// CloseLineupEntry 关闭在场区间
func (s *SQLStore) CloseLineupEntry(ctx context.Context, entryID string, endMin float64, reason *string) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE lineup_entries SET end_min = $2, substitution_reason = COALESCE($3, substitution_reason)
		 WHERE id = $1 AND end_min IS NULL AND is_deleted = FALSE`,
		entryID, endMin, reason)
	if err != nil {
		return translate(err)
	}
	return requireRows(result, "open lineup entry "+entryID)
}

// GetOpenSnapshot 当前开放的阵型快照
func (s *SQLStore) GetOpenSnapshot(ctx context.Context, matchID string) (*services.FormationSnapshot, error) {
	query := `
		SELECT id, match_id, start_min, end_min, formation_data, substitution_reason
		FROM formation_snapshots
		WHERE match_id = $1 AND end_min IS NULL AND is_deleted = FALSE
	`

	return s.scanSnapshot(s.q.QueryRowContext(ctx, query, matchID))
}

// SnapshotStartMinTaken start_min 是否已被占用
func (s *SQLStore) SnapshotStartMinTaken(ctx context.Context, matchID string, startMin float64) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM formation_snapshots WHERE match_id = $1 AND start_min = $2 AND is_deleted = FALSE)`,
		matchID, startMin).Scan(&exists)
	if err != nil {
		return false, translate(err)
	}
	return exists, nil
}

// CreateSnapshot 创建阵型快照
func (s *SQLStore) CreateSnapshot(ctx context.Context, snapshot *services.FormationSnapshot) error {
	data, err := json.Marshal(snapshot.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal formation data: %w", err)
	}

	query := `
		INSERT INTO formation_snapshots (id, match_id, start_min, end_min, formation_data, substitution_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = s.q.ExecContext(ctx, query,
		snapshot.ID, snapshot.MatchID, snapshot.StartMin, snapshot.EndMin, data, snapshot.SubstitutionReason)
	return translate(err)
}

// CloseSnapshot 关闭阵型快照
func (s *SQLStore) CloseSnapshot(ctx context.Context, snapshotID string, endMin float64) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE formation_snapshots SET end_min = $2 WHERE id = $1 AND end_min IS NULL AND is_deleted = FALSE`,
		snapshotID, endMin)
	if err != nil {
		return translate(err)
	}
	return requireRows(result, "open snapshot "+snapshotID)
}

// TeamName 球队展示名
func (s *SQLStore) TeamName(ctx context.Context, teamID string) (string, error) {
	var name string
	err := s.q.QueryRowContext(ctx,
		`SELECT name FROM teams WHERE id = $1 AND is_deleted = FALSE`, teamID).Scan(&name)
	if err != nil {
		return "", translate(err)
	}
	return name, nil
}

// PlayerName 球员展示名
func (s *SQLStore) PlayerName(ctx context.Context, playerID string) (string, error) {
	var name string
	err := s.q.QueryRowContext(ctx,
		`SELECT name FROM players WHERE id = $1 AND is_deleted = FALSE`, playerID).Scan(&name)
	if err != nil {
		return "", translate(err)
	}
	return name, nil
}

// PlayerOnTeam 球员是否有该队的有效隶属关系
func (s *SQLStore) PlayerOnTeam(ctx context.Context, playerID, teamID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM team_memberships
			WHERE player_id = $1 AND team_id = $2 AND active = TRUE AND is_deleted = FALSE
		)`, playerID, teamID).Scan(&exists)
	if err != nil {
		return false, translate(err)
	}
	return exists, nil
}

// scanner *sql.Row 和 *sql.Rows 的公共 Scan
type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLStore) scanPeriod(row scanner) (*services.Period, error) {
	var (
		period   services.Period
		endedAt  sql.NullTime
		duration sql.NullInt64
	)
	err := row.Scan(&period.ID, &period.MatchID, &period.PeriodNumber, &period.PeriodType,
		&period.StartedAt, &endedAt, &duration)
	if err != nil {
		return nil, translate(err)
	}

	if endedAt.Valid {
		period.EndedAt = &endedAt.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		period.DurationSeconds = &d
	}

	return &period, nil
}

func (s *SQLStore) scanEvent(row scanner) (*services.MatchEvent, error) {
	var (
		event        services.MatchEvent
		teamID       sql.NullString
		playerID     sql.NullString
		periodNumber sql.NullInt64
		notes        sql.NullString
	)
	err := row.Scan(&event.ID, &event.MatchID, &event.Kind, &teamID, &playerID,
		&periodNumber, &event.ClockMs, &notes, &event.Sentiment, &event.CreatedAt, &event.IsDeleted)
	if err != nil {
		return nil, translate(err)
	}

	if teamID.Valid {
		event.TeamID = &teamID.String
	}
	if playerID.Valid {
		event.PlayerID = &playerID.String
	}
	if periodNumber.Valid {
		n := int(periodNumber.Int64)
		event.PeriodNumber = &n
	}
	if notes.Valid {
		event.Notes = &notes.String
	}

	return &event, nil
}

func (s *SQLStore) scanLineupEntry(row scanner) (*services.LineupEntry, error) {
	var (
		entry  services.LineupEntry
		endMin sql.NullFloat64
		pitchX sql.NullFloat64
		pitchY sql.NullFloat64
		reason sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.MatchID, &entry.PlayerID, &entry.StartMin,
		&endMin, &entry.Position, &pitchX, &pitchY, &reason)
	if err != nil {
		return nil, translate(err)
	}

	if endMin.Valid {
		entry.EndMin = &endMin.Float64
	}
	if pitchX.Valid {
		entry.PitchX = &pitchX.Float64
	}
	if pitchY.Valid {
		entry.PitchY = &pitchY.Float64
	}
	if reason.Valid {
		entry.SubstitutionReason = &reason.String
	}

	return &entry, nil
}

func (s *SQLStore) scanSnapshot(row scanner) (*services.FormationSnapshot, error) {
	var (
		snapshot services.FormationSnapshot
		endMin   sql.NullFloat64
		data     []byte
		reason   sql.NullString
	)
	err := row.Scan(&snapshot.ID, &snapshot.MatchID, &snapshot.StartMin, &endMin, &data, &reason)
	if err != nil {
		return nil, translate(err)
	}

	if endMin.Valid {
		snapshot.EndMin = &endMin.Float64
	}
	if reason.Valid {
		snapshot.SubstitutionReason = &reason.String
	}
	if err := json.Unmarshal(data, &snapshot.Players); err != nil {
		return nil, fmt.Errorf("failed to unmarshal formation data: %w", err)
	}

	return &snapshot, nil
}

// requireRows 更新 0 行视为 NotFound (被其他写入抢先或记录不存在)
func requireRows(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return services.NewAppError(services.ErrNotFound, what+" not found", nil)
	}
	return nil
}

func intPtr(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func periodTypePtr(v *services.PeriodType) interface{} {
	if v == nil {
		return nil
	}
	return string(*v)
}
