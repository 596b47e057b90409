package task

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/n0roo/toc-kit/internal/db"
)

// Status constants
const (
	StatusPending       = "pending"
	StatusWaitingForKit = "waiting_for_kit"
	StatusReady         = "ready"
	StatusInProgress    = "in_progress"
	StatusBlocked       = "blocked"
	StatusCompleted     = "completed"
	StatusCancelled     = "cancelled"
)

// Full-kit requirement types
const (
	KitInformation = "information"
	KitResource    = "resource"
	KitDependency  = "dependency"
	KitApproval    = "approval"
	KitTool        = "tool"
	KitOther       = "other"
)

// Context switch types
const (
	SwitchVoluntary = "voluntary"
	SwitchBlocked   = "blocked"
	SwitchInterrupt = "interrupt"
	SwitchScheduled = "scheduled"
)

// IsTerminal reports whether a status allows no further transitions
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Task represents a unit of work
type Task struct {
	ID                    string          `json:"id"`
	ProjectID             sql.NullString  `json:"project_id"`
	ParentTaskID          sql.NullString  `json:"parent_task_id"`
	Title                 string          `json:"title"`
	Description           sql.NullString  `json:"description"`
	Status                string          `json:"status"`
	EstimatedHours        sql.NullFloat64 `json:"estimated_hours"`
	ActualHours           sql.NullFloat64 `json:"actual_hours"`
	IsCriticalChain       bool            `json:"is_critical_chain"`
	CriticalChainSequence sql.NullInt64   `json:"critical_chain_sequence"`
	PlannedStart          sql.NullTime    `json:"planned_start"`
	ActualStart           sql.NullTime    `json:"actual_start"`
	PlannedEnd            sql.NullTime    `json:"planned_end"`
	ActualEnd             sql.NullTime    `json:"actual_end"`
	DueDate               sql.NullTime    `json:"due_date"`
	Priority              int             `json:"priority"`
	SortOrder             int             `json:"sort_order"`
	RecurringScheduleID   sql.NullString  `json:"recurring_schedule_id"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// KitItem represents a full-kit checklist entry
type KitItem struct {
	ID              string         `json:"id"`
	TaskID          string         `json:"task_id"`
	RequirementType string         `json:"requirement_type"`
	Description     string         `json:"description"`
	IsSatisfied     bool           `json:"is_satisfied"`
	SatisfiedAt     sql.NullTime   `json:"satisfied_at"`
	Notes           sql.NullString `json:"notes"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Blocker represents an external impediment on a task or project
type Blocker struct {
	ID           string         `json:"id"`
	TaskID       sql.NullString `json:"task_id"`
	ProjectID    sql.NullString `json:"project_id"`
	BlockerType  string         `json:"blocker_type"`
	Description  string         `json:"description"`
	WaitingOn    sql.NullString `json:"waiting_on"`
	WatchPattern sql.NullString `json:"watch_pattern"`
	CreatedAt    time.Time      `json:"created_at"`
	ResolvedAt   sql.NullTime   `json:"resolved_at"`
	ResolvedBy   sql.NullString `json:"resolved_by"`
}

// ContextSwitch records a focus change between tasks
type ContextSwitch struct {
	ID         string         `json:"id"`
	FromTaskID sql.NullString `json:"from_task_id"`
	ToTaskID   sql.NullString `json:"to_task_id"`
	SwitchType sql.NullString `json:"switch_type"`
	Reason     sql.NullString `json:"reason"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// CreateOptions holds options for creating a task
type CreateOptions struct {
	ProjectID           string
	ParentTaskID        string
	Title               string
	Description         string
	EstimatedHours      float64
	DueDate             *time.Time
	Priority            int
	SortOrder           int
	RecurringScheduleID string
	// KitRequirements pre-populates the full-kit checklist; a task created
	// with requirements starts in waiting_for_kit
	KitRequirements []KitRequirement
}

// KitRequirement describes one full-kit entry to bootstrap
type KitRequirement struct {
	Type        string
	Description string
}

// Patch holds partial-update fields; nil means unchanged
type Patch struct {
	Title          *string
	Description    *string
	EstimatedHours *float64
	ActualHours    *float64
	DueDate        *time.Time
	Priority       *int
	SortOrder      *int
}

// Service handles task operations
type Service struct {
	db *db.DB
}

// NewService creates a new task service
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

const taskColumns = `
	id, project_id, parent_task_id, title, description, status,
	estimated_hours, actual_hours, is_critical_chain, critical_chain_sequence,
	planned_start, actual_start, planned_end, actual_end, due_date,
	priority, sort_order, recurring_schedule_id, created_at, updated_at
`

func scanTask(row interface{ Scan(...interface{}) error }) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.ParentTaskID, &t.Title, &t.Description,
		&t.Status, &t.EstimatedHours, &t.ActualHours, &t.IsCriticalChain,
		&t.CriticalChainSequence, &t.PlannedStart, &t.ActualStart, &t.PlannedEnd,
		&t.ActualEnd, &t.DueDate, &t.Priority, &t.SortOrder, &t.RecurringScheduleID,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create creates a new task. 풀킷 요구사항이 있으면 waiting_for_kit 상태로 시작한다.
func (s *Service) Create(opts CreateOptions) (*Task, error) {
	if opts.Title == "" {
		return nil, fmt.Errorf("태스크 제목이 필요합니다")
	}

	id := uuid.New().String()

	status := StatusPending
	if len(opts.KitRequirements) > 0 {
		status = StatusWaitingForKit
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 50
	}

	var estimated sql.NullFloat64
	if opts.EstimatedHours > 0 {
		estimated = sql.NullFloat64{Float64: opts.EstimatedHours, Valid: true}
	}

	var dueDate sql.NullTime
	if opts.DueDate != nil {
		dueDate = sql.NullTime{Time: *opts.DueDate, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project_id, parent_task_id, title, description, status,
		                   estimated_hours, due_date, priority, sort_order, recurring_schedule_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, nullableString(opts.ProjectID), nullableString(opts.ParentTaskID),
		opts.Title, nullableString(opts.Description), status, estimated, dueDate,
		priority, opts.SortOrder, nullableString(opts.RecurringScheduleID))

	if err != nil {
		return nil, fmt.Errorf("태스크 생성 실패: %w", err)
	}

	for _, req := range opts.KitRequirements {
		if _, err := s.AddKitItem(id, req.Type, req.Description); err != nil {
			return nil, err
		}
	}

	return s.Get(id)
}

// Get retrieves a task by ID
func (s *Service) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("태스크 '%s'을(를) 찾을 수 없습니다", id)
	}
	if err != nil {
		return nil, err
	}

	return t, nil
}

// List returns tasks with optional project and status filters
func (s *Service) List(projectID, status string) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`

	var conds []string
	var args []interface{}
	if projectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, projectID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	query += ` ORDER BY sort_order, priority DESC, created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("태스크 목록 조회 실패: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// Update applies a partial update to non-lifecycle fields
func (s *Service) Update(id string, patch Patch) error {
	var clauses []string
	var args []interface{}

	if patch.Title != nil {
		clauses = append(clauses, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		clauses = append(clauses, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.EstimatedHours != nil {
		clauses = append(clauses, "estimated_hours = ?")
		args = append(args, *patch.EstimatedHours)
	}
	if patch.ActualHours != nil {
		clauses = append(clauses, "actual_hours = ?")
		args = append(args, *patch.ActualHours)
	}
	if patch.DueDate != nil {
		clauses = append(clauses, "due_date = ?")
		args = append(args, *patch.DueDate)
	}
	if patch.Priority != nil {
		clauses = append(clauses, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.SortOrder != nil {
		clauses = append(clauses, "sort_order = ?")
		args = append(args, *patch.SortOrder)
	}

	if len(clauses) == 0 {
		return nil
	}

	result, err := s.db.Exec(`UPDATE tasks SET `+strings.Join(clauses, ", ")+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		append(args, id)...)
	if err != nil {
		return fmt.Errorf("태스크 업데이트 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("태스크 '%s'을(를) 찾을 수 없습니다", id)
	}

	return nil
}

// SetStatus writes a task status directly. 수명주기 검증은 toc.Engine이 담당한다.
func (s *Service) SetStatus(id, status string) error {
	result, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("태스크 상태 변경 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("태스크 '%s'을(를) 찾을 수 없습니다", id)
	}

	return nil
}

// Delete removes a task and its dependent rows
func (s *Service) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("태스크 삭제 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("태스크 '%s'을(를) 찾을 수 없습니다", id)
	}

	return nil
}

// Search finds tasks by title or description substring
func (s *Service) Search(query string, limit int) ([]*Task, error) {
	pattern := "%" + query + "%"

	sqlQuery := `SELECT ` + taskColumns + ` FROM tasks
		WHERE title LIKE ? OR description LIKE ?
		ORDER BY updated_at DESC`
	if limit > 0 {
		sqlQuery += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(sqlQuery, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("태스크 검색 실패: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// DueWithin returns incomplete tasks whose due date falls within the window
func (s *Service) DueWithin(window time.Duration) ([]*Task, error) {
	deadline := time.Now().Add(window)

	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE due_date IS NOT NULL
		  AND due_date <= ?
		  AND status NOT IN ('completed', 'cancelled')
		ORDER BY due_date`, deadline)
	if err != nil {
		return nil, fmt.Errorf("마감 임박 태스크 조회 실패: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// StartCandidates returns not-yet-started tasks ordered for the next-task
// suggestion: critical chain first, then priority and due date.
func (s *Service) StartCandidates(projectID string, limit int) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ('pending', 'ready', 'waiting_for_kit')`
	args := []interface{}{}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += `
		ORDER BY is_critical_chain DESC, priority DESC,
		         due_date IS NULL, due_date, created_at
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("후보 태스크 조회 실패: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ========================================
// Full-kit checklist
// ========================================

// AddKitItem adds a full-kit requirement to a task
func (s *Service) AddKitItem(taskID, requirementType, description string) (*KitItem, error) {
	id := uuid.New().String()

	_, err := s.db.Exec(`
		INSERT INTO task_full_kit (id, task_id, requirement_type, description)
		VALUES (?, ?, ?, ?)
	`, id, taskID, requirementType, description)
	if err != nil {
		return nil, fmt.Errorf("풀킷 항목 추가 실패: %w", err)
	}

	return &KitItem{
		ID:              id,
		TaskID:          taskID,
		RequirementType: requirementType,
		Description:     description,
	}, nil
}

// SatisfyKitItem marks a full-kit requirement as satisfied
func (s *Service) SatisfyKitItem(itemID, notes string) error {
	result, err := s.db.Exec(`
		UPDATE task_full_kit
		SET is_satisfied = 1, satisfied_at = CURRENT_TIMESTAMP, notes = COALESCE(?, notes)
		WHERE id = ? AND is_satisfied = 0
	`, nullableString(notes), itemID)
	if err != nil {
		return fmt.Errorf("풀킷 항목 충족 처리 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("풀킷 항목 '%s'을(를) 찾을 수 없거나 이미 충족됨", itemID)
	}

	return nil
}

// KitItems returns the full-kit checklist for a task
func (s *Service) KitItems(taskID string) ([]*KitItem, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, requirement_type, description, is_satisfied, satisfied_at, notes, created_at
		FROM task_full_kit WHERE task_id = ? ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("풀킷 목록 조회 실패: %w", err)
	}
	defer rows.Close()

	var items []*KitItem
	for rows.Next() {
		var item KitItem
		if err := rows.Scan(&item.ID, &item.TaskID, &item.RequirementType, &item.Description,
			&item.IsSatisfied, &item.SatisfiedAt, &item.Notes, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}

	return items, nil
}

// KitComplete reports whether every full-kit requirement is satisfied.
// 체크리스트가 비어 있으면 충족으로 본다.
func (s *Service) KitComplete(taskID string) (bool, error) {
	var unsatisfied int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM task_full_kit WHERE task_id = ? AND is_satisfied = 0
	`, taskID).Scan(&unsatisfied)
	if err != nil {
		return false, fmt.Errorf("풀킷 확인 실패: %w", err)
	}

	return unsatisfied == 0, nil
}

// ========================================
// Blockers
// ========================================

// AddBlocker records an external impediment
func (s *Service) AddBlocker(taskID, projectID, blockerType, description, waitingOn, watchPattern string) (*Blocker, error) {
	if description == "" {
		return nil, fmt.Errorf("블로커 설명이 필요합니다")
	}

	id := uuid.New().String()

	_, err := s.db.Exec(`
		INSERT INTO blockers (id, task_id, project_id, blocker_type, description, waiting_on, watch_pattern)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, nullableString(taskID), nullableString(projectID), blockerType, description,
		nullableString(waitingOn), nullableString(watchPattern))
	if err != nil {
		return nil, fmt.Errorf("블로커 생성 실패: %w", err)
	}

	return s.GetBlocker(id)
}

// GetBlocker retrieves a blocker by ID
func (s *Service) GetBlocker(id string) (*Blocker, error) {
	var b Blocker
	err := s.db.QueryRow(`
		SELECT id, task_id, project_id, blocker_type, description, waiting_on,
		       watch_pattern, created_at, resolved_at, resolved_by
		FROM blockers WHERE id = ?
	`, id).Scan(&b.ID, &b.TaskID, &b.ProjectID, &b.BlockerType, &b.Description,
		&b.WaitingOn, &b.WatchPattern, &b.CreatedAt, &b.ResolvedAt, &b.ResolvedBy)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("블로커 '%s'을(를) 찾을 수 없습니다", id)
	}
	if err != nil {
		return nil, err
	}

	return &b, nil
}

// ResolveBlocker marks a blocker as resolved
func (s *Service) ResolveBlocker(id, resolvedBy string) error {
	result, err := s.db.Exec(`
		UPDATE blockers
		SET resolved_at = CURRENT_TIMESTAMP, resolved_by = ?
		WHERE id = ? AND resolved_at IS NULL
	`, nullableString(resolvedBy), id)
	if err != nil {
		return fmt.Errorf("블로커 해결 처리 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("블로커 '%s'을(를) 찾을 수 없거나 이미 해결됨", id)
	}

	return nil
}

// ActiveBlockers returns unresolved blockers for a task ("" = all tasks)
func (s *Service) ActiveBlockers(taskID string) ([]*Blocker, error) {
	query := `
		SELECT id, task_id, project_id, blocker_type, description, waiting_on,
		       watch_pattern, created_at, resolved_at, resolved_by
		FROM blockers WHERE resolved_at IS NULL
	`
	var args []interface{}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("블로커 목록 조회 실패: %w", err)
	}
	defer rows.Close()

	var blockers []*Blocker
	for rows.Next() {
		var b Blocker
		if err := rows.Scan(&b.ID, &b.TaskID, &b.ProjectID, &b.BlockerType, &b.Description,
			&b.WaitingOn, &b.WatchPattern, &b.CreatedAt, &b.ResolvedAt, &b.ResolvedBy); err != nil {
			return nil, err
		}
		blockers = append(blockers, &b)
	}

	return blockers, nil
}

// ResolveTaskBlockers resolves all open blockers on a task and returns the count
func (s *Service) ResolveTaskBlockers(taskID, resolvedBy string) (int, error) {
	result, err := s.db.Exec(`
		UPDATE blockers
		SET resolved_at = CURRENT_TIMESTAMP, resolved_by = ?
		WHERE task_id = ? AND resolved_at IS NULL
	`, nullableString(resolvedBy), taskID)
	if err != nil {
		return 0, fmt.Errorf("블로커 일괄 해결 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// ========================================
// Context switches
// ========================================

// LogContextSwitch appends a focus-change record
func (s *Service) LogContextSwitch(fromTaskID, toTaskID, switchType, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO context_switches (id, from_task_id, to_task_id, switch_type, reason)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), nullableString(fromTaskID), nullableString(toTaskID),
		nullableString(switchType), nullableString(reason))
	if err != nil {
		return fmt.Errorf("컨텍스트 스위치 기록 실패: %w", err)
	}
	return nil
}

// ContextSwitches returns switches recorded in the last N days
func (s *Service) ContextSwitches(days int) ([]*ContextSwitch, error) {
	since := time.Now().AddDate(0, 0, -days)

	rows, err := s.db.Query(`
		SELECT id, from_task_id, to_task_id, switch_type, reason, occurred_at
		FROM context_switches WHERE occurred_at >= ? ORDER BY occurred_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("컨텍스트 스위치 조회 실패: %w", err)
	}
	defer rows.Close()

	var switches []*ContextSwitch
	for rows.Next() {
		var cs ContextSwitch
		if err := rows.Scan(&cs.ID, &cs.FromTaskID, &cs.ToTaskID, &cs.SwitchType, &cs.Reason, &cs.OccurredAt); err != nil {
			return nil, err
		}
		switches = append(switches, &cs)
	}

	return switches, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
