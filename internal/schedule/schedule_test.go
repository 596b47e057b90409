package schedule

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.Local)
}

func TestNextOccurrenceDaily(t *testing.T) {
	s := &Schedule{Frequency: Daily, TimeOfDay: "09:00"}

	// 오늘 09:00 이전이면 오늘
	next, err := NextOccurrence(s, at(2026, 8, 26, 7, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2026, 8, 26, 9, 0)) {
		t.Errorf("next = %v", next)
	}

	// 09:00 이후면 내일
	next, _ = NextOccurrence(s, at(2026, 8, 26, 10, 0))
	if !next.Equal(at(2026, 8, 27, 9, 0)) {
		t.Errorf("next = %v", next)
	}

	// 정확히 09:00이면 다음 날 (strictly after)
	next, _ = NextOccurrence(s, at(2026, 8, 26, 9, 0))
	if !next.Equal(at(2026, 8, 27, 9, 0)) {
		t.Errorf("next = %v", next)
	}
}

func TestNextOccurrenceWeekly(t *testing.T) {
	// 월요일=0; 수요일(2) 14:00
	s := &Schedule{Frequency: Weekly, TimeOfDay: "14:00", DayOfWeek: nullStr("2")}

	// 2026-08-26은 수요일 → 다음 주 수요일
	next, err := NextOccurrence(s, at(2026, 8, 26, 15, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2026, 9, 2, 14, 0)) {
		t.Errorf("next = %v", next)
	}

	// 월요일(2026-08-24) 기준이면 이번 주 수요일
	next, _ = NextOccurrence(s, at(2026, 8, 24, 10, 0))
	if !next.Equal(at(2026, 8, 26, 14, 0)) {
		t.Errorf("next = %v", next)
	}
}

func TestNextOccurrenceBiweekly(t *testing.T) {
	// 패리티는 시작일에 고정된다
	start := at(2026, 8, 3, 0, 0) // 월요일
	s := &Schedule{Frequency: Biweekly, TimeOfDay: "09:00", StartDate: start}

	// 시작 1주 후 → 다음 2주 경계인 시작+2주
	next, err := NextOccurrence(s, at(2026, 8, 10, 12, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2026, 8, 17, 9, 0)) {
		t.Errorf("next = %v", next)
	}

	// 시작 3주 후 → 시작+4주
	next, _ = NextOccurrence(s, at(2026, 8, 24, 12, 0))
	if !next.Equal(at(2026, 8, 31, 9, 0)) {
		t.Errorf("next = %v", next)
	}
}

func TestNextOccurrenceMonthlyClamp(t *testing.T) {
	// 2월에는 31일이 말일로 보정된다
	s := &Schedule{Frequency: Monthly, TimeOfDay: "09:00", DayOfMonth: nullStr("31")}

	next, err := NextOccurrence(s, at(2026, 2, 1, 0, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2026, 2, 28, 9, 0)) {
		t.Errorf("next = %v, want 2/28", next)
	}

	// 지난 후에는 다음 달 31일
	next, _ = NextOccurrence(s, at(2026, 2, 28, 10, 0))
	if !next.Equal(at(2026, 3, 31, 9, 0)) {
		t.Errorf("next = %v, want 3/31", next)
	}
}

func TestNextOccurrenceQuarterly(t *testing.T) {
	s := &Schedule{Frequency: Quarterly, TimeOfDay: "09:00", DayOfMonth: nullStr("1")}

	// 8월 → 다음 분기는 10월
	next, err := NextOccurrence(s, at(2026, 8, 26, 0, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2026, 10, 1, 9, 0)) {
		t.Errorf("next = %v, want 10/1", next)
	}

	// 11월 → 내년 1월
	next, _ = NextOccurrence(s, at(2026, 11, 15, 0, 0))
	if !next.Equal(at(2027, 1, 1, 9, 0)) {
		t.Errorf("next = %v, want 2027-01-01", next)
	}
}

func TestNextOccurrenceYearly(t *testing.T) {
	s := &Schedule{
		Frequency:   Yearly,
		TimeOfDay:   "09:00",
		MonthOfYear: nullStr("3"),
		DayOfMonth:  nullStr("15"),
	}

	next, err := NextOccurrence(s, at(2026, 8, 26, 0, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2027, 3, 15, 9, 0)) {
		t.Errorf("next = %v, want 2027-03-15", next)
	}
}

func TestNextOccurrenceCron(t *testing.T) {
	// 매월 15일 09:00
	s := &Schedule{Frequency: Custom, CronPattern: nullStr("0 9 15 * *")}

	next, err := NextOccurrence(s, at(2026, 8, 26, 0, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2026, 9, 15, 9, 0)) {
		t.Errorf("next = %v, want 9/15 09:00", next)
	}
}

func TestParseCron(t *testing.T) {
	p, err := ParseCron("*/15 9,17 * * 0")
	if err != nil {
		t.Fatalf("파싱 실패: %v", err)
	}

	if !p.Minutes[0] || !p.Minutes[45] || p.Minutes[10] {
		t.Error("*/15 분 필드 파싱 불일치")
	}
	if !p.Hours[9] || !p.Hours[17] || p.Hours[10] {
		t.Error("콤마 목록 시 필드 파싱 불일치")
	}
	if !p.DaysOfWeek[0] || p.DaysOfWeek[1] {
		t.Error("요일 필드 파싱 불일치")
	}
}

func TestParseCronInvalid(t *testing.T) {
	for _, pattern := range []string{"", "0 9 15", "0 9 15 * * *", "x 9 * * *", "0 99 * * *"} {
		if _, err := ParseCron(pattern); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("패턴 '%s'이(가) 거부되지 않음: %v", pattern, err)
		}
	}
}

func TestCronWeekdayConvention(t *testing.T) {
	// 요일 필드 0 = 월요일
	p, err := ParseCron("0 9 * * 0")
	if err != nil {
		t.Fatalf("파싱 실패: %v", err)
	}

	// 2026-08-30은 일요일, 2026-08-31은 월요일
	next, err := p.Next(at(2026, 8, 29, 12, 0))
	if err != nil {
		t.Fatalf("계산 실패: %v", err)
	}
	if !next.Equal(at(2026, 8, 31, 9, 0)) {
		t.Errorf("next = %v, want 월요일 8/31", next)
	}
}

func TestCreateValidation(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	if _, err := svc.Create(CreateOptions{Frequency: Daily}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("이름 없는 일정 허용: %v", err)
	}
	if _, err := svc.Create(CreateOptions{Name: "x", Frequency: "hourly"}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("알 수 없는 주기 허용: %v", err)
	}
	if _, err := svc.Create(CreateOptions{Name: "x", Frequency: Custom}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("크론 패턴 없는 custom 허용: %v", err)
	}
	if _, err := svc.Create(CreateOptions{Name: "x", Frequency: Custom, CronPattern: "bad"}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("잘못된 크론 패턴 허용: %v", err)
	}
}

func TestCreateSetsNextDue(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	sc, err := svc.Create(CreateOptions{Name: "일간 점검", Frequency: Daily})
	if err != nil {
		t.Fatalf("일정 생성 실패: %v", err)
	}

	if !sc.NextDueDate.Valid {
		t.Fatal("next_due_date가 설정되지 않음")
	}
	if !sc.NextDueDate.Time.After(time.Now()) {
		t.Errorf("next_due_date가 과거: %v", sc.NextDueDate.Time)
	}
}

func TestGenerateDueTasks(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	sc, _ := svc.Create(CreateOptions{
		Name:              "주간 보고",
		Frequency:         Weekly,
		TaskTitleTemplate: "주간 보고 작성",
		Priority:          4,
	})

	// next_due_date를 과거로 돌려 생성 대상으로 만든다
	database.Exec(`UPDATE recurring_schedules SET next_due_date = ? WHERE id = ?`,
		time.Now().Add(-time.Hour), sc.ID)

	result, err := svc.GenerateDueTasks()
	if err != nil {
		t.Fatalf("생성 실패: %v", err)
	}

	if result.TasksCreated != 1 {
		t.Fatalf("생성 수 = %d, want 1: errors=%v", result.TasksCreated, result.Errors)
	}

	// 태스크가 일정으로 역링크되고 우선순위가 변환(4 → 70)되어야 함
	var title string
	var priority int
	err = database.QueryRow(`
		SELECT title, priority FROM tasks WHERE recurring_schedule_id = ?
	`, sc.ID).Scan(&title, &priority)
	if err != nil {
		t.Fatalf("생성 태스크 조회 실패: %v", err)
	}
	if title != "주간 보고 작성" {
		t.Errorf("title = %s", title)
	}
	if priority != 70 {
		t.Errorf("priority = %d, want 70", priority)
	}

	// next_due_date가 미래로 갱신됨
	updated, _ := svc.Get(sc.ID)
	if !updated.NextDueDate.Time.After(time.Now()) {
		t.Errorf("next_due_date 미갱신: %v", updated.NextDueDate.Time)
	}
	if !updated.LastGeneratedDate.Valid {
		t.Error("last_generated_date가 기록되지 않음")
	}

	// 재실행 시에는 생성할 것이 없어야 함
	result, _ = svc.GenerateDueTasks()
	if result.TasksCreated != 0 {
		t.Errorf("재실행 생성 수 = %d, want 0", result.TasksCreated)
	}
}

func TestGenerateDueTasksCollectsErrors(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	good, _ := svc.Create(CreateOptions{Name: "정상", Frequency: Daily})
	bad, _ := svc.Create(CreateOptions{Name: "고장", Frequency: Custom, CronPattern: "0 9 * * *"})

	// 저장 후 패턴을 망가뜨려 생성 실패를 유도
	database.Exec(`UPDATE recurring_schedules SET cron_pattern = 'broken' WHERE id = ?`, bad.ID)
	database.Exec(`UPDATE recurring_schedules SET next_due_date = ?`, time.Now().Add(-time.Hour))

	result, err := svc.GenerateDueTasks()
	if err != nil {
		t.Fatalf("생성 실패: %v", err)
	}

	// 고장난 일정의 실패가 정상 일정의 생성을 막지 않는다
	if result.TasksCreated != 1 {
		t.Errorf("생성 수 = %d, want 1", result.TasksCreated)
	}
	if len(result.Errors) != 1 || result.Errors[0].ScheduleID != bad.ID {
		t.Errorf("수집된 에러 = %+v", result.Errors)
	}
	_ = good
}

func TestSetActive(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	sc, _ := svc.Create(CreateOptions{Name: "토글", Frequency: Daily})

	if err := svc.SetActive(sc.ID, false); err != nil {
		t.Fatalf("비활성화 실패: %v", err)
	}

	active, _ := svc.List(true)
	if len(active) != 0 {
		t.Errorf("비활성화 후 활성 일정 수 = %d", len(active))
	}

	all, _ := svc.List(false)
	if len(all) != 1 {
		t.Errorf("전체 일정 수 = %d", len(all))
	}
}
