package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/n0roo/toc-kit/internal/config"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/notify"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/n0roo/toc-kit/internal/schedule"
	"github.com/n0roo/toc-kit/internal/task"
)

type memChannel struct {
	messages []string
}

func (c *memChannel) Name() string { return "mem" }

func (c *memChannel) Send(ctx context.Context, message string) error {
	c.messages = append(c.messages, message)
	return nil
}

func setupTestRunner(t *testing.T) (*Runner, *memChannel, *db.DB, func()) {
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

	cfg := config.Default()
	cfg.Notify.LogPath = filepath.Join(tmpDir, "notifications.jsonl")

	ch := &memChannel{}
	router := notify.NewRouter(database, cfg, []notify.Channel{ch})
	runner := NewRunner(database, cfg, router)

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return runner, ch, database, cleanup
}

func TestBatchDue(t *testing.T) {
	runner, _, _, cleanup := setupTestRunner(t)
	defer cleanup()

	// 마지막 실행이 어제 17시, 지금이 오늘 09:30이면 09:00 배치가 밀려 있다
	yesterday := time.Date(2026, 8, 25, 17, 30, 0, 0, time.Local)
	runner.markRun(stateLastBatch, yesterday)

	now := time.Date(2026, 8, 26, 9, 30, 0, 0, time.Local)
	if !runner.batchDue(now) {
		t.Error("배치가 밀려 있어야 합니다")
	}

	// 방금 실행했고 다음 배치 시각 전이면 due가 아니다
	runner.markRun(stateLastBatch, now)
	if runner.batchDue(time.Date(2026, 8, 26, 10, 0, 0, 0, time.Local)) {
		t.Error("다음 배치 시각 전에는 due가 아니어야 합니다")
	}
}

func TestWeeklyDue(t *testing.T) {
	runner, _, _, cleanup := setupTestRunner(t)
	defer cleanup()

	// 일요일 20:00 직후, 마지막 실행이 지난주면 due
	lastWeek := time.Date(2026, 8, 23, 20, 30, 0, 0, time.Local)
	runner.markRun(stateLastWeekly, lastWeek)

	sundayNight := time.Date(2026, 8, 30, 20, 5, 0, 0, time.Local)
	if !runner.weeklyDue(sundayNight) {
		t.Error("주간 리포트가 due여야 합니다")
	}

	runner.markRun(stateLastWeekly, sundayNight)
	if runner.weeklyDue(time.Date(2026, 9, 2, 12, 0, 0, 0, time.Local)) {
		t.Error("같은 주에는 due가 아니어야 합니다")
	}
}

func TestTickIdempotent(t *testing.T) {
	runner, _, _, cleanup := setupTestRunner(t)
	defer cleanup()

	now := time.Now()

	if _, err := runner.Tick(now); err != nil {
		t.Fatalf("첫 틱 실패: %v", err)
	}

	// 같은 시각의 재실행은 마감 점검을 다시 돌리지 않는다
	if runner.lastRun(stateLastDeadline).IsZero() {
		t.Fatal("마감 점검 마커가 기록되어야 합니다")
	}
	second, err := runner.Tick(now)
	if err != nil {
		t.Fatalf("재실행 실패: %v", err)
	}
	if second.DeadlineAlerts != 0 {
		t.Errorf("재실행 알림 수 = %d, want 0", second.DeadlineAlerts)
	}
}

func TestRunGeneration(t *testing.T) {
	runner, _, database, cleanup := setupTestRunner(t)
	defer cleanup()

	schedules := schedule.NewService(database)
	sc, err := schedules.Create(schedule.CreateOptions{
		Name:      "일일 점검",
		Frequency: schedule.Daily,
		StartDate: time.Now().AddDate(0, 0, -2),
	})
	if err != nil {
		t.Fatalf("일정 생성 실패: %v", err)
	}

	// next_due를 과거로 돌려 생성 대상으로 만든다
	if _, err := database.Exec(`UPDATE recurring_schedules SET next_due_date = ? WHERE id = ?`,
		time.Now().Add(-time.Hour), sc.ID); err != nil {
		t.Fatalf("next_due 변경 실패: %v", err)
	}

	result, err := runner.RunGeneration()
	if err != nil {
		t.Fatalf("생성 패스 실패: %v", err)
	}
	if result.TasksCreated != 1 {
		t.Errorf("생성된 태스크 수 = %d, want 1", result.TasksCreated)
	}
}

func TestBuildWeeklyReport(t *testing.T) {
	runner, _, database, cleanup := setupTestRunner(t)
	defer cleanup()

	projects := project.NewService(database)
	tasks := task.NewService(database)

	p, err := projects.Create(project.CreateOptions{Name: "출시 준비", EstimatedDays: 10})
	if err != nil {
		t.Fatalf("프로젝트 생성 실패: %v", err)
	}
	active := "active"
	if err := projects.Update(p.ID, project.Patch{Status: &active}); err != nil {
		t.Fatalf("프로젝트 활성화 실패: %v", err)
	}

	tk, err := tasks.Create(task.CreateOptions{ProjectID: p.ID, Title: "검토"})
	if err != nil {
		t.Fatalf("태스크 생성 실패: %v", err)
	}
	if _, err := tasks.AddBlocker(tk.ID, p.ID, "email", "외부 승인 대기", "partner@example.com", ""); err != nil {
		t.Fatalf("블로커 생성 실패: %v", err)
	}

	report, err := runner.BuildWeeklyReport()
	if err != nil {
		t.Fatalf("리포트 작성 실패: %v", err)
	}

	for _, want := range []string{"=== Weekly Report ===", "출시 준비", "외부 승인 대기", "partner@example.com"} {
		if !strings.Contains(report, want) {
			t.Errorf("리포트에 %q가 없습니다:\n%s", want, report)
		}
	}
}

func TestRunWeeklyPassDelivers(t *testing.T) {
	runner, ch, _, cleanup := setupTestRunner(t)
	defer cleanup()

	sent, err := runner.RunWeeklyPass()
	if err != nil {
		t.Fatalf("주간 패스 실패: %v", err)
	}
	if !sent {
		t.Fatal("리포트가 발송되어야 합니다")
	}
	if len(ch.messages) != 1 || !strings.Contains(ch.messages[0], "=== Weekly Report ===") {
		t.Errorf("발송 내용 = %v", ch.messages)
	}
}
