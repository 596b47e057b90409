package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 3

// 기본 테이블 (v1)
const schemaBase = `
-- 프로젝트 (TOC 속성 포함)
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'active'
        CHECK (status IN ('active', 'on_hold', 'completed', 'archived')),

    -- TOC: 버퍼 관리
    estimated_days REAL,
    buffer_days REAL DEFAULT 0,
    buffer_consumed_percent REAL DEFAULT 0,
    progress_percent REAL DEFAULT 0,

    -- TOC: WIP 제어
    wip_limit INTEGER DEFAULT 3,

    parent_project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,

    priority INTEGER DEFAULT 50,
    due_date DATETIME,
    started_at DATETIME,
    completed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_projects_parent ON projects(parent_project_id);

-- 태스크 (계층 + 의존성 + 풀킷)
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
    parent_task_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,

    title TEXT NOT NULL,
    description TEXT,

    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'waiting_for_kit', 'ready', 'in_progress', 'blocked', 'completed', 'cancelled')),

    estimated_hours REAL,
    actual_hours REAL,

    -- TOC: 크리티컬 체인
    is_critical_chain INTEGER DEFAULT 0,
    critical_chain_sequence INTEGER,

    planned_start DATETIME,
    actual_start DATETIME,
    planned_end DATETIME,
    actual_end DATETIME,
    due_date DATETIME,

    priority INTEGER DEFAULT 50,
    sort_order INTEGER DEFAULT 0,

    recurring_schedule_id TEXT REFERENCES recurring_schedules(id) ON DELETE SET NULL,

    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_critical_chain ON tasks(is_critical_chain, critical_chain_sequence);
CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);

-- 태스크 의존성 (기본: finish_to_start)
CREATE TABLE IF NOT EXISTS task_dependencies (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    depends_on_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    dependency_type TEXT DEFAULT 'finish_to_start'
        CHECK (dependency_type IN ('finish_to_start', 'start_to_start', 'finish_to_finish')),

    -- TOC: 피딩 버퍼
    feeding_buffer_hours REAL DEFAULT 0,

    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,

    UNIQUE(task_id, depends_on_task_id)
);

CREATE INDEX IF NOT EXISTS idx_dependencies_task ON task_dependencies(task_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_depends ON task_dependencies(depends_on_task_id);

-- 풀킷 체크리스트 (TOC)
CREATE TABLE IF NOT EXISTS task_full_kit (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,

    requirement_type TEXT NOT NULL
        CHECK (requirement_type IN ('information', 'resource', 'dependency', 'approval', 'tool', 'other')),
    description TEXT NOT NULL,
    is_satisfied INTEGER DEFAULT 0,
    satisfied_at DATETIME,
    notes TEXT,

    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_full_kit_task ON task_full_kit(task_id);

-- 블로커
CREATE TABLE IF NOT EXISTS blockers (
    id TEXT PRIMARY KEY,
    task_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,
    project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,

    blocker_type TEXT NOT NULL
        CHECK (blocker_type IN ('email', 'document', 'approval', 'deadline', 'resource', 'external', 'other')),
    description TEXT NOT NULL,
    waiting_on TEXT,
    watch_pattern TEXT,

    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    resolved_at DATETIME,
    resolved_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_blockers_task ON blockers(task_id);
CREATE INDEX IF NOT EXISTS idx_blockers_resolved ON blockers(resolved_at);

-- 메타데이터
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// v2 추가 테이블 (반복 일정 + 알림)
const schemaV2 = `
-- 반복 일정
CREATE TABLE IF NOT EXISTS recurring_schedules (
    id TEXT PRIMARY KEY,
    project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,

    name TEXT NOT NULL,
    description TEXT,

    frequency TEXT NOT NULL
        CHECK (frequency IN ('daily', 'weekly', 'biweekly', 'monthly', 'quarterly', 'yearly', 'custom')),

    cron_pattern TEXT,
    day_of_week TEXT,
    day_of_month TEXT,
    month_of_year TEXT,
    time_of_day TEXT DEFAULT '09:00',

    task_title_template TEXT NOT NULL,
    task_description_template TEXT,
    estimated_hours REAL,
    priority INTEGER DEFAULT 3,

    start_date DATETIME NOT NULL,
    end_date DATETIME,

    last_generated_date DATETIME,
    next_due_date DATETIME,

    is_active INTEGER DEFAULT 1,

    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_recurring_next_due ON recurring_schedules(next_due_date);

-- 알림 큐
CREATE TABLE IF NOT EXISTS notification_queue (
    id TEXT PRIMARY KEY,

    priority TEXT NOT NULL CHECK (priority IN ('P0', 'P1', 'P2', 'P3')),
    channel TEXT NOT NULL,

    message TEXT NOT NULL,
    context TEXT,

    scheduled_for DATETIME,
    sent_at DATETIME,

    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_priority ON notification_queue(priority, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notification_queue(sent_at);

-- 알림 중복 제거 (트리거+소스 단위)
CREATE TABLE IF NOT EXISTS notification_dedup (
    trigger_type TEXT NOT NULL,
    source_id TEXT NOT NULL DEFAULT '',
    last_fired_at DATETIME NOT NULL,
    PRIMARY KEY (trigger_type, source_id)
);
`

// v3 추가 테이블 (행동 추적)
const schemaV3 = `
-- 컨텍스트 스위치 (append-only)
CREATE TABLE IF NOT EXISTS context_switches (
    id TEXT PRIMARY KEY,

    from_task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
    to_task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,

    switch_type TEXT CHECK (switch_type IN ('voluntary', 'blocked', 'interrupt', 'scheduled')),
    reason TEXT,

    occurred_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_switches_occurred ON context_switches(occurred_at);

-- 버퍼 히스토리 (피버 차트용)
CREATE TABLE IF NOT EXISTS buffer_history (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,

    progress_percent REAL NOT NULL,
    consumed_percent REAL NOT NULL,

    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_buffer_history_project ON buffer_history(project_id, recorded_at);
`

// DB wraps sql.DB with helper methods
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the database
func Open(path string) (*DB, error) {
	// 디렉토리 생성
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("디렉토리 생성 실패: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("DB 열기 실패: %w", err)
	}

	// 연결 테스트
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("DB 연결 실패: %w", err)
	}

	// 프로젝트 단위 직렬화: WIP 검사와 상태 변경이 한 트랜잭션으로 묶이므로
	// 단일 쓰기 연결로 제한한다
	db.SetMaxOpenConns(1)

	d := &DB{DB: db, path: path}

	// 스키마 자동 초기화
	if err := d.Init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("스키마 초기화 실패: %w", err)
	}

	return d, nil
}

// Init initializes the database schema
func (d *DB) Init() error {
	// 1. v2 테이블 먼저 적용 (tasks가 recurring_schedules를 참조)
	if _, err := d.Exec(schemaV2); err != nil {
		return fmt.Errorf("v2 스키마 적용 실패: %w", err)
	}

	// 2. 기본 스키마 적용
	if _, err := d.Exec(schemaBase); err != nil {
		return fmt.Errorf("기본 스키마 적용 실패: %w", err)
	}

	// 3. v3 테이블 적용
	if _, err := d.Exec(schemaV3); err != nil {
		return fmt.Errorf("v3 스키마 적용 실패: %w", err)
	}

	// 4. 마이그레이션 실행
	if err := d.migrate(); err != nil {
		return fmt.Errorf("마이그레이션 실패: %w", err)
	}

	// 5. 버전 저장
	_, err := d.Exec(`INSERT OR REPLACE INTO metadata (key, value, updated_at) VALUES ('schema_version', ?, CURRENT_TIMESTAMP)`, schemaVersion)
	if err != nil {
		return fmt.Errorf("버전 저장 실패: %w", err)
	}

	return nil
}

// migrate runs database migrations
func (d *DB) migrate() error {
	currentVersion, _ := d.GetVersion()

	// v1 -> v2: 반복 일정 연결 컬럼
	if currentVersion > 0 && currentVersion < 2 {
		d.Exec(`ALTER TABLE tasks ADD COLUMN recurring_schedule_id TEXT`)
	}

	// v2 -> v3: 크리티컬 체인 시퀀스
	if currentVersion > 0 && currentVersion < 3 {
		d.Exec(`ALTER TABLE tasks ADD COLUMN critical_chain_sequence INTEGER`)
	}

	return nil
}

// GetVersion returns current schema version
func (d *DB) GetVersion() (int, error) {
	var version int
	err := d.QueryRow(`SELECT CAST(value AS INTEGER) FROM metadata WHERE key = 'schema_version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// GetState returns a metadata value
func (d *DB) GetState(key string) (string, error) {
	var value string
	err := d.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetState stores a metadata value
func (d *DB) SetState(key, value string) error {
	_, err := d.Exec(`
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("상태 저장 실패: %w", err)
	}
	return nil
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}
