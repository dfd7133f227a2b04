package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect 连接到数据库
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 设置连接池
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// Migrate 运行数据库迁移。
// 所有实体都带软删除列，开放记录的唯一性靠部分唯一索引保证
func Migrate(db *sql.DB) error {
	migrations := []string{
		// 球队表 (CRUD 在外部系统，这里只引用)
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// 球员表
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// 球员-球队隶属关系表
		`CREATE TABLE IF NOT EXISTS team_memberships (
			id BIGSERIAL PRIMARY KEY,
			team_id TEXT NOT NULL REFERENCES teams(id),
			player_id TEXT NOT NULL REFERENCES players(id),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_team_memberships_player_id ON team_memberships(player_id)`,

		// 比赛表
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			home_team_id TEXT NOT NULL REFERENCES teams(id),
			away_team_id TEXT NOT NULL REFERENCES teams(id),
			home_score INTEGER NOT NULL DEFAULT 0,
			away_score INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// 比赛状态表，每场比赛最多一条
		`CREATE TABLE IF NOT EXISTS match_states (
			match_id TEXT PRIMARY KEY REFERENCES matches(id),
			status VARCHAR(20) NOT NULL,
			current_period_number INTEGER,
			current_period_type VARCHAR(20),
			started_at TIMESTAMP,
			ended_at TIMESTAMP,
			total_elapsed_seconds INTEGER NOT NULL DEFAULT 0,
			active_since TIMESTAMP,
			status_reason TEXT,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// 时段表。每场比赛最多一个未结束的时段
		`CREATE TABLE IF NOT EXISTS periods (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL REFERENCES matches(id),
			period_number INTEGER NOT NULL,
			period_type VARCHAR(20) NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			duration_seconds INTEGER,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT,
			UNIQUE (match_id, period_number)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_one_open
			ON periods(match_id) WHERE ended_at IS NULL AND is_deleted = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_periods_match_id ON periods(match_id)`,

		// 事件表。只追加，软删除
		`CREATE TABLE IF NOT EXISTS match_events (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL REFERENCES matches(id),
			kind VARCHAR(50) NOT NULL,
			team_id TEXT REFERENCES teams(id),
			player_id TEXT REFERENCES players(id),
			period_number INTEGER,
			clock_ms BIGINT NOT NULL DEFAULT 0,
			notes TEXT,
			sentiment INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_match_id ON match_events(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_kind ON match_events(match_id, kind)`,

		// 在场区间表。(match, player) 最多一条开放记录
		`CREATE TABLE IF NOT EXISTS lineup_entries (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL REFERENCES matches(id),
			player_id TEXT NOT NULL REFERENCES players(id),
			start_min DOUBLE PRECISION NOT NULL,
			end_min DOUBLE PRECISION,
			position VARCHAR(10) NOT NULL,
			pitch_x DOUBLE PRECISION,
			pitch_y DOUBLE PRECISION,
			substitution_reason TEXT,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT,
			UNIQUE (match_id, player_id, start_min)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_lineup_entries_one_open
			ON lineup_entries(match_id, player_id) WHERE end_min IS NULL AND is_deleted = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_lineup_entries_match_id ON lineup_entries(match_id)`,

		// 阵型快照表。每场比赛最多一个开放快照，start_min 一场内唯一
		`CREATE TABLE IF NOT EXISTS formation_snapshots (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL REFERENCES matches(id),
			start_min DOUBLE PRECISION NOT NULL,
			end_min DOUBLE PRECISION,
			formation_data JSONB NOT NULL,
			substitution_reason TEXT,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			deleted_by TEXT,
			UNIQUE (match_id, start_min)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_formation_snapshots_one_open
			ON formation_snapshots(match_id) WHERE end_min IS NULL AND is_deleted = FALSE`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
