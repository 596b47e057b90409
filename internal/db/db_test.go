package db

import (
	"os"
	"path/filepath"
	"testing"
)

// 테스트용 임시 DB 생성 헬퍼
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "toc-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("DB 열기 실패: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestOpen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "toc-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("DB 열기 실패: %v", err)
	}
	defer db.Close()

	// 파일이 생성되었는지 확인
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("DB 파일이 생성되지 않음")
	}
}

func TestInit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// 테이블 존재 확인
	tables := []string{
		"projects", "tasks", "task_dependencies", "task_full_kit",
		"blockers", "recurring_schedules", "notification_queue",
		"notification_dedup", "context_switches", "buffer_history",
		"metadata",
	}

	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("테이블 %s가 존재하지 않음: %v", table, err)
		}
	}
}

func TestGetVersion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	version, err := db.GetVersion()
	if err != nil {
		t.Fatalf("버전 조회 실패: %v", err)
	}

	if version != schemaVersion {
		t.Errorf("버전 = %d, want %d", version, schemaVersion)
	}
}

func TestForeignKeys(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// 존재하지 않는 프로젝트를 참조하면 실패해야 함
	_, err := db.Exec(`INSERT INTO tasks (id, project_id, title) VALUES (?, ?, ?)`,
		"task-1", "no-such-project", "Test")
	if err == nil {
		t.Error("외래키 제약이 적용되지 않음")
	}
}

func TestStatusCheck(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.Exec(`INSERT INTO projects (id, name) VALUES (?, ?)`, "proj-1", "Test")

	// 허용되지 않는 상태값 거부 확인
	_, err := db.Exec(`INSERT INTO tasks (id, project_id, title, status) VALUES (?, ?, ?, ?)`,
		"task-1", "proj-1", "Test", "doing")
	if err == nil {
		t.Error("status CHECK 제약이 적용되지 않음")
	}
}

func TestDependencyUnique(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.Exec(`INSERT INTO projects (id, name) VALUES (?, ?)`, "proj-1", "Test")
	db.Exec(`INSERT INTO tasks (id, project_id, title) VALUES (?, ?, ?)`, "task-a", "proj-1", "A")
	db.Exec(`INSERT INTO tasks (id, project_id, title) VALUES (?, ?, ?)`, "task-b", "proj-1", "B")

	if _, err := db.Exec(`INSERT INTO task_dependencies (id, task_id, depends_on_task_id) VALUES (?, ?, ?)`,
		"dep-1", "task-b", "task-a"); err != nil {
		t.Fatalf("의존성 생성 실패: %v", err)
	}

	// 동일 간선 중복 거부
	_, err := db.Exec(`INSERT INTO task_dependencies (id, task_id, depends_on_task_id) VALUES (?, ?, ?)`,
		"dep-2", "task-b", "task-a")
	if err == nil {
		t.Error("중복 의존성이 허용됨")
	}
}

func TestState(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.SetState("last_deadline_check", "2026-08-26T09:00:00Z"); err != nil {
		t.Fatalf("상태 저장 실패: %v", err)
	}

	value, err := db.GetState("last_deadline_check")
	if err != nil {
		t.Fatalf("상태 조회 실패: %v", err)
	}
	if value != "2026-08-26T09:00:00Z" {
		t.Errorf("value = %s", value)
	}

	// 미존재 키는 빈 문자열
	value, err = db.GetState("no-such-key")
	if err != nil {
		t.Fatalf("상태 조회 실패: %v", err)
	}
	if value != "" {
		t.Errorf("미존재 키는 빈 값이어야 함, got: %s", value)
	}
}

func TestClose(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "toc-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	db, err := Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("DB 열기 실패: %v", err)
	}

	db.Close()

	_, err = db.Exec(`SELECT 1`)
	if err == nil {
		t.Error("Close 후에도 쿼리가 실행됨")
	}
}
