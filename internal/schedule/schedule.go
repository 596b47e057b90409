package schedule

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/task"
)

// Frequency constants
const (
	Daily     = "daily"
	Weekly    = "weekly"
	Biweekly  = "biweekly"
	Monthly   = "monthly"
	Quarterly = "quarterly"
	Yearly    = "yearly"
	Custom    = "custom"
)

// ErrInvalidSchedule marks a schedule configuration error
var ErrInvalidSchedule = errors.New("잘못된 일정 설정")

// Schedule represents a recurring task schedule
type Schedule struct {
	ID                      string          `json:"id"`
	ProjectID               sql.NullString  `json:"project_id"`
	Name                    string          `json:"name"`
	Description             sql.NullString  `json:"description"`
	Frequency               string          `json:"frequency"`
	CronPattern             sql.NullString  `json:"cron_pattern"`
	DayOfWeek               sql.NullString  `json:"day_of_week"`
	DayOfMonth              sql.NullString  `json:"day_of_month"`
	MonthOfYear             sql.NullString  `json:"month_of_year"`
	TimeOfDay               string          `json:"time_of_day"`
	TaskTitleTemplate       string          `json:"task_title_template"`
	TaskDescriptionTemplate sql.NullString  `json:"task_description_template"`
	EstimatedHours          sql.NullFloat64 `json:"estimated_hours"`
	Priority                int             `json:"priority"`
	StartDate               time.Time       `json:"start_date"`
	EndDate                 sql.NullTime    `json:"end_date"`
	LastGeneratedDate       sql.NullTime    `json:"last_generated_date"`
	NextDueDate             sql.NullTime    `json:"next_due_date"`
	IsActive                bool            `json:"is_active"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// CreateOptions holds options for creating a schedule
type CreateOptions struct {
	ProjectID               string
	Name                    string
	Description             string
	Frequency               string
	CronPattern             string
	DayOfWeek               string
	DayOfMonth              string
	MonthOfYear             string
	TimeOfDay               string
	TaskTitleTemplate       string
	TaskDescriptionTemplate string
	EstimatedHours          float64
	Priority                int
	StartDate               time.Time
	EndDate                 *time.Time
}

// Service handles recurring schedules and task generation
type Service struct {
	db    *db.DB
	tasks *task.Service
}

// NewService creates a new schedule service
func NewService(database *db.DB) *Service {
	return &Service{db: database, tasks: task.NewService(database)}
}

var validFrequencies = map[string]bool{
	Daily: true, Weekly: true, Biweekly: true, Monthly: true,
	Quarterly: true, Yearly: true, Custom: true,
}

// parseDayField parses a comma-separated integer field like "1,15"
func parseDayField(field string) []int {
	if field == "" {
		return nil
	}

	var values []int
	for _, part := range strings.Split(field, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil
		}
		values = append(values, v)
	}
	return values
}

// parseTimeOfDay parses "HH:MM", defaulting to 09:00
func parseTimeOfDay(timeStr string) (int, int) {
	if timeStr == "" {
		return 9, 0
	}

	parts := strings.Split(timeStr, ":")
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 9, 0
	}

	minute := 0
	if len(parts) > 1 {
		if m, err := strconv.Atoi(parts[1]); err == nil && m >= 0 && m <= 59 {
			minute = m
		}
	}

	return hour, minute
}

// floorDiv is Python-style floored integer division
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// clampDayToMonth limits a day-of-month to the month's actual length
// (2월의 31일 → 28/29일)
func clampDayToMonth(year int, month time.Month, day int) int {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.Local).Day()
	if day > lastDay {
		return lastDay
	}
	if day < 1 {
		return 1
	}
	return day
}

// NextOccurrence computes the next due instant strictly after `after`
func NextOccurrence(s *Schedule, after time.Time) (time.Time, error) {
	if s.Frequency == Custom {
		if !s.CronPattern.Valid || s.CronPattern.String == "" {
			return time.Time{}, fmt.Errorf("custom 주기에는 크론 패턴이 필요합니다: %w", ErrInvalidSchedule)
		}
		pattern, err := ParseCron(s.CronPattern.String)
		if err != nil {
			return time.Time{}, err
		}
		return pattern.Next(after)
	}

	hour, minute := parseTimeOfDay(s.TimeOfDay)
	daysOfWeek := parseDayField(s.DayOfWeek.String)
	daysOfMonth := parseDayField(s.DayOfMonth.String)
	monthsOfYear := parseDayField(s.MonthOfYear.String)

	switch s.Frequency {
	case Daily:
		next := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, after.Location())
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case Weekly:
		targetDow := 0
		if len(daysOfWeek) > 0 {
			targetDow = daysOfWeek[0]
		}
		currentDow := (int(after.Weekday()) + 6) % 7
		daysAhead := targetDow - currentDow
		if daysAhead <= 0 {
			daysAhead += 7
		}
		next := after.AddDate(0, 0, daysAhead)
		return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, after.Location()), nil

	case Biweekly:
		// 시작일 기준 2주 블록에 패리티를 고정한다
		start := s.StartDate
		if start.IsZero() {
			start = after
		}
		daysSince := int(after.Sub(start).Hours() / 24)
		weeksSince := floorDiv(daysSince, 7)
		nextWeek := (floorDiv(weeksSince, 2) + 1) * 2
		next := start.AddDate(0, 0, nextWeek*7)
		return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, after.Location()), nil

	case Monthly:
		targetDay := 1
		if len(daysOfMonth) > 0 {
			targetDay = daysOfMonth[0]
		}

		year, month := after.Year(), after.Month()
		day := clampDayToMonth(year, month, targetDay)
		next := time.Date(year, month, day, hour, minute, 0, 0, after.Location())

		if !next.After(after) {
			month++
			if month > 12 {
				month = 1
				year++
			}
			day = clampDayToMonth(year, month, targetDay)
			next = time.Date(year, month, day, hour, minute, 0, 0, after.Location())
		}
		return next, nil

	case Quarterly:
		targetDay := 1
		if len(daysOfMonth) > 0 {
			targetDay = daysOfMonth[0]
		}

		// 분기 시작 월(1,4,7,10) 중 after 이후 첫 후보
		quarterStarts := []time.Month{1, 4, 7, 10}
		for offset := 0; offset <= 1; offset++ {
			year := after.Year() + offset
			for _, q := range quarterStarts {
				day := clampDayToMonth(year, q, targetDay)
				candidate := time.Date(year, q, day, hour, minute, 0, 0, after.Location())
				if candidate.After(after) {
					return candidate, nil
				}
			}
		}
		return time.Time{}, fmt.Errorf("분기 일정 계산 실패: %w", ErrInvalidSchedule)

	case Yearly:
		targetMonth := time.Month(1)
		if len(monthsOfYear) > 0 && monthsOfYear[0] >= 1 && monthsOfYear[0] <= 12 {
			targetMonth = time.Month(monthsOfYear[0])
		}
		targetDay := 1
		if len(daysOfMonth) > 0 {
			targetDay = daysOfMonth[0]
		}

		year := after.Year()
		day := clampDayToMonth(year, targetMonth, targetDay)
		next := time.Date(year, targetMonth, day, hour, minute, 0, 0, after.Location())

		if !next.After(after) {
			year++
			day = clampDayToMonth(year, targetMonth, targetDay)
			next = time.Date(year, targetMonth, day, hour, minute, 0, 0, after.Location())
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("알 수 없는 주기 '%s': %w", s.Frequency, ErrInvalidSchedule)
	}
}

// Create creates a recurring schedule and computes its first next_due_date
func (s *Service) Create(opts CreateOptions) (*Schedule, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("일정 이름이 필요합니다: %w", ErrInvalidSchedule)
	}
	if !validFrequencies[opts.Frequency] {
		return nil, fmt.Errorf("알 수 없는 주기 '%s': %w", opts.Frequency, ErrInvalidSchedule)
	}
	if opts.Frequency == Custom {
		if opts.CronPattern == "" {
			return nil, fmt.Errorf("custom 주기에는 크론 패턴이 필요합니다: %w", ErrInvalidSchedule)
		}
		if _, err := ParseCron(opts.CronPattern); err != nil {
			return nil, err
		}
	}

	id := uuid.New().String()

	timeOfDay := opts.TimeOfDay
	if timeOfDay == "" {
		timeOfDay = "09:00"
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 3
	}

	startDate := opts.StartDate
	if startDate.IsZero() {
		startDate = time.Now()
	}

	titleTemplate := opts.TaskTitleTemplate
	if titleTemplate == "" {
		titleTemplate = opts.Name
	}

	var estimated sql.NullFloat64
	if opts.EstimatedHours > 0 {
		estimated = sql.NullFloat64{Float64: opts.EstimatedHours, Valid: true}
	}

	var endDate sql.NullTime
	if opts.EndDate != nil {
		endDate = sql.NullTime{Time: *opts.EndDate, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO recurring_schedules (
			id, project_id, name, description, frequency, cron_pattern,
			day_of_week, day_of_month, month_of_year, time_of_day,
			task_title_template, task_description_template, estimated_hours,
			priority, start_date, end_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, nullableString(opts.ProjectID), opts.Name, nullableString(opts.Description),
		opts.Frequency, nullableString(opts.CronPattern), nullableString(opts.DayOfWeek),
		nullableString(opts.DayOfMonth), nullableString(opts.MonthOfYear), timeOfDay,
		titleTemplate, nullableString(opts.TaskDescriptionTemplate), estimated,
		priority, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("일정 생성 실패: %w", err)
	}

	created, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	next, err := NextOccurrence(created, time.Now())
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`
		UPDATE recurring_schedules SET next_due_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, next, id); err != nil {
		return nil, fmt.Errorf("다음 발생 시각 저장 실패: %w", err)
	}

	return s.Get(id)
}

const scheduleColumns = `
	id, project_id, name, description, frequency, cron_pattern,
	day_of_week, day_of_month, month_of_year, time_of_day,
	task_title_template, task_description_template, estimated_hours,
	priority, start_date, end_date, last_generated_date, next_due_date,
	is_active, created_at, updated_at
`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*Schedule, error) {
	var sc Schedule
	err := row.Scan(&sc.ID, &sc.ProjectID, &sc.Name, &sc.Description, &sc.Frequency,
		&sc.CronPattern, &sc.DayOfWeek, &sc.DayOfMonth, &sc.MonthOfYear, &sc.TimeOfDay,
		&sc.TaskTitleTemplate, &sc.TaskDescriptionTemplate, &sc.EstimatedHours,
		&sc.Priority, &sc.StartDate, &sc.EndDate, &sc.LastGeneratedDate, &sc.NextDueDate,
		&sc.IsActive, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// Get retrieves a schedule by ID
func (s *Service) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM recurring_schedules WHERE id = ?`, id)

	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("일정 '%s'을(를) 찾을 수 없습니다", id)
	}
	if err != nil {
		return nil, err
	}

	return sc, nil
}

// List returns schedules, optionally only active ones
func (s *Service) List(activeOnly bool) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM recurring_schedules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY next_due_date`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("일정 목록 조회 실패: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}

	return schedules, nil
}

// SetActive toggles a schedule on or off
func (s *Service) SetActive(id string, active bool) error {
	result, err := s.db.Exec(`
		UPDATE recurring_schedules SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, active, id)
	if err != nil {
		return fmt.Errorf("일정 상태 변경 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("일정 '%s'을(를) 찾을 수 없습니다", id)
	}

	return nil
}

// Delete removes a schedule; generated tasks keep their link severed
func (s *Service) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM recurring_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("일정 삭제 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("일정 '%s'을(를) 찾을 수 없습니다", id)
	}

	return nil
}

// DueSchedules returns active schedules ready for generation
func (s *Service) DueSchedules(now time.Time) ([]*Schedule, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+` FROM recurring_schedules
		WHERE is_active = 1
		  AND (next_due_date IS NULL OR next_due_date <= ?)
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY next_due_date
	`, now, now)
	if err != nil {
		return nil, fmt.Errorf("생성 대상 일정 조회 실패: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}

	return schedules, nil
}

// GeneratedTask links a created task to its schedule in a generation report
type GeneratedTask struct {
	ScheduleID   string    `json:"schedule_id"`
	ScheduleName string    `json:"schedule_name"`
	TaskID       string    `json:"task_id"`
	Title        string    `json:"title"`
	DueDate      time.Time `json:"due_date"`
}

// GenerationError records a per-schedule failure
type GenerationError struct {
	ScheduleID   string `json:"schedule_id"`
	ScheduleName string `json:"schedule_name"`
	Err          error  `json:"error"`
}

// GenerationResult summarizes one generation pass
type GenerationResult struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	SchedulesChecked int               `json:"schedules_checked"`
	TasksCreated     int               `json:"tasks_created"`
	Tasks            []GeneratedTask   `json:"tasks"`
	Errors           []GenerationError `json:"errors"`
}

// GenerateDueTasks creates a task for every due schedule.
// 일정 하나의 실패가 배치를 중단시키지 않는다.
func (s *Service) GenerateDueTasks() (*GenerationResult, error) {
	now := time.Now()

	result := &GenerationResult{GeneratedAt: now}

	due, err := s.DueSchedules(now)
	if err != nil {
		return nil, err
	}
	result.SchedulesChecked = len(due)

	for _, sc := range due {
		created, dueDate, err := s.generateOne(sc, now)
		if err != nil {
			result.Errors = append(result.Errors, GenerationError{
				ScheduleID:   sc.ID,
				ScheduleName: sc.Name,
				Err:          err,
			})
			continue
		}

		result.TasksCreated++
		result.Tasks = append(result.Tasks, GeneratedTask{
			ScheduleID:   sc.ID,
			ScheduleName: sc.Name,
			TaskID:       created.ID,
			Title:        created.Title,
			DueDate:      dueDate,
		})
	}

	return result, nil
}

// generateOne creates the task for a single schedule and rolls next_due_date
func (s *Service) generateOne(sc *Schedule, now time.Time) (*task.Task, time.Time, error) {
	dueDate, err := NextOccurrence(sc, now)
	if err != nil {
		return nil, time.Time{}, err
	}

	description := sc.TaskDescriptionTemplate.String
	if description == "" {
		description = fmt.Sprintf("반복 일정 '%s'에서 자동 생성됨", sc.Name)
	}

	// 일정 우선순위 1~5를 태스크 우선순위 10~90으로 변환
	taskPriority := sc.Priority*20 - 10

	created, err := s.tasks.Create(task.CreateOptions{
		ProjectID:           sc.ProjectID.String,
		Title:               sc.TaskTitleTemplate,
		Description:         description,
		EstimatedHours:      sc.EstimatedHours.Float64,
		DueDate:             &dueDate,
		Priority:            taskPriority,
		RecurringScheduleID: sc.ID,
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	if _, err := s.db.Exec(`
		UPDATE recurring_schedules
		SET last_generated_date = ?, next_due_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, now, dueDate, sc.ID); err != nil {
		return nil, time.Time{}, fmt.Errorf("일정 갱신 실패: %w", err)
	}

	return created, dueDate, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
