package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/n0roo/toc-kit/internal/buffer"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/n0roo/toc-kit/internal/task"
)

func setupTestDB(t *testing.T) (*db.DB, string, func()) {
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

	return database, tmpDir, func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestExportHistory(t *testing.T) {
	database, tmpDir, cleanup := setupTestDB(t)
	defer cleanup()

	projects := project.NewService(database)
	tracker := buffer.NewTracker(database)
	tasks := task.NewService(database)

	p, err := projects.Create(project.CreateOptions{Name: "p", EstimatedDays: 10})
	if err != nil {
		t.Fatalf("프로젝트 생성 실패: %v", err)
	}

	progress, consumed := 40.0, 70.0
	if err := tracker.Update(p.ID, &progress, &consumed); err != nil {
		t.Fatalf("버퍼 갱신 실패: %v", err)
	}
	if err := tasks.LogContextSwitch("", "", task.SwitchVoluntary, "테스트"); err != nil {
		t.Fatalf("스위치 기록 실패: %v", err)
	}

	historyPath, switchesPath, err := ExportHistory(database, filepath.Join(tmpDir, "export"))
	if err != nil {
		t.Fatalf("스냅샷 실패: %v", err)
	}

	var history []historyRow
	data, err := os.ReadFile(historyPath)
	if err != nil {
		t.Fatalf("스냅샷 읽기 실패: %v", err)
	}
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("스냅샷 파싱 실패: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("이력 수 = %d, want 1", len(history))
	}
	if history[0].ProjectID != p.ID || history[0].ConsumedPercent != 70 {
		t.Errorf("이력 내용 = %+v", history[0])
	}

	var switches []switchRow
	data, err = os.ReadFile(switchesPath)
	if err != nil {
		t.Fatalf("스냅샷 읽기 실패: %v", err)
	}
	if err := json.Unmarshal(data, &switches); err != nil {
		t.Fatalf("스냅샷 파싱 실패: %v", err)
	}
	if len(switches) != 1 || switches[0].SwitchType != task.SwitchVoluntary {
		t.Errorf("스위치 내용 = %+v", switches)
	}
}

func TestExportHistoryEmpty(t *testing.T) {
	database, tmpDir, cleanup := setupTestDB(t)
	defer cleanup()

	historyPath, switchesPath, err := ExportHistory(database, filepath.Join(tmpDir, "export"))
	if err != nil {
		t.Fatalf("스냅샷 실패: %v", err)
	}

	// 빈 테이블도 유효한 JSON 배열로 남아야 한다
	for _, path := range []string{historyPath, switchesPath} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("스냅샷 읽기 실패: %v", err)
		}
		if string(data) != "[]" {
			t.Errorf("%s = %q, want []", filepath.Base(path), data)
		}
	}
}
