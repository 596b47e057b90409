package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/n0roo/toc-kit/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "toc-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}

	database, err := db.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("DB 열기 실패: %v", err)
	}

	return database, func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestCreate(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	p, err := svc.Create(CreateOptions{Name: "마이그레이션", EstimatedDays: 10})
	if err != nil {
		t.Fatalf("프로젝트 생성 실패: %v", err)
	}

	if p.Name != "마이그레이션" {
		t.Errorf("name = %s", p.Name)
	}
	if p.Status != StatusActive {
		t.Errorf("status = %s, want active", p.Status)
	}
	// 버퍼 기본값: 추정치의 50%
	if p.BufferDays != 5 {
		t.Errorf("buffer_days = %v, want 5", p.BufferDays)
	}
	if p.WIPLimit != 3 {
		t.Errorf("wip_limit = %d, want 3", p.WIPLimit)
	}
}

func TestCreateEmptyName(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	if _, err := svc.Create(CreateOptions{}); err == nil {
		t.Error("이름 없는 프로젝트가 생성됨")
	}
}

func TestWIPLimitClamp(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	tests := []struct {
		in   int
		want int
	}{
		{-3, 1},
		{1, 1},
		{5, 5},
		{99, 5},
	}

	for _, tt := range tests {
		p, err := svc.Create(CreateOptions{Name: "test", WIPLimit: tt.in})
		if err != nil {
			t.Fatalf("프로젝트 생성 실패: %v", err)
		}
		if p.WIPLimit != tt.want {
			t.Errorf("WIPLimit(%d) = %d, want %d", tt.in, p.WIPLimit, tt.want)
		}
	}
}

func TestUpdate(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	p, _ := svc.Create(CreateOptions{Name: "before"})

	name := "after"
	consumed := 150.0 // 100으로 보정되어야 함
	status := StatusCompleted
	if err := svc.Update(p.ID, Patch{Name: &name, BufferConsumedPercent: &consumed, Status: &status}); err != nil {
		t.Fatalf("업데이트 실패: %v", err)
	}

	got, _ := svc.Get(p.ID)
	if got.Name != "after" {
		t.Errorf("name = %s", got.Name)
	}
	if got.BufferConsumedPercent != 100 {
		t.Errorf("buffer_consumed_percent = %v, want 100", got.BufferConsumedPercent)
	}
	if !got.CompletedAt.Valid {
		t.Error("completed_at이 기록되지 않음")
	}
}

func TestUpdateNotFound(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	name := "x"
	if err := svc.Update("no-such-id", Patch{Name: &name}); err == nil {
		t.Error("미존재 프로젝트 업데이트가 성공함")
	}
}

func TestList(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	svc.Create(CreateOptions{Name: "a"})
	p2, _ := svc.Create(CreateOptions{Name: "b"})
	status := StatusOnHold
	svc.Update(p2.ID, Patch{Status: &status})

	all, err := svc.List("")
	if err != nil {
		t.Fatalf("목록 조회 실패: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("전체 수 = %d, want 2", len(all))
	}

	onHold, _ := svc.List(StatusOnHold)
	if len(onHold) != 1 {
		t.Errorf("on_hold 수 = %d, want 1", len(onHold))
	}
}

func TestRecalcProgress(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)
	p, _ := svc.Create(CreateOptions{Name: "progress"})

	database.Exec(`INSERT INTO tasks (id, project_id, title, status) VALUES ('t1', ?, 'a', 'completed')`, p.ID)
	database.Exec(`INSERT INTO tasks (id, project_id, title, status) VALUES ('t2', ?, 'b', 'pending')`, p.ID)
	database.Exec(`INSERT INTO tasks (id, project_id, title, status) VALUES ('t3', ?, 'c', 'cancelled')`, p.ID)

	progress, err := svc.RecalcProgress(p.ID)
	if err != nil {
		t.Fatalf("진행률 계산 실패: %v", err)
	}

	// 취소된 태스크는 제외: 2개 중 1개 완료
	if progress != 50 {
		t.Errorf("progress = %v, want 50", progress)
	}
}
