package project

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
	StatusActive    = "active"
	StatusOnHold    = "on_hold"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// Project represents a project with TOC buffer attributes
type Project struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Description           sql.NullString  `json:"description"`
	Status                string          `json:"status"`
	EstimatedDays         sql.NullFloat64 `json:"estimated_days"`
	BufferDays            float64         `json:"buffer_days"`
	BufferConsumedPercent float64         `json:"buffer_consumed_percent"`
	ProgressPercent       float64         `json:"progress_percent"`
	WIPLimit              int             `json:"wip_limit"`
	ParentProjectID       sql.NullString  `json:"parent_project_id"`
	Priority              int             `json:"priority"`
	DueDate               sql.NullTime    `json:"due_date"`
	StartedAt             sql.NullTime    `json:"started_at"`
	CompletedAt           sql.NullTime    `json:"completed_at"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// CreateOptions holds options for creating a project
type CreateOptions struct {
	Name            string
	Description     string
	EstimatedDays   float64
	BufferDays      float64
	WIPLimit        int
	ParentProjectID string
	Priority        int
	DueDate         *time.Time
}

// Patch holds partial-update fields; nil means unchanged
type Patch struct {
	Name                  *string
	Description           *string
	Status                *string
	EstimatedDays         *float64
	BufferDays            *float64
	BufferConsumedPercent *float64
	ProgressPercent       *float64
	WIPLimit              *int
	Priority              *int
	DueDate               *time.Time
}

// Service handles project operations
type Service struct {
	db *db.DB
}

// NewService creates a new project service
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

// clampPercent limits a percentage to [0, 100]
func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ClampWIPLimit limits a WIP limit to [1, 5]
func ClampWIPLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 5 {
		return 5
	}
	return limit
}

// Create creates a new project. 버퍼가 지정되지 않으면 추정치의 50%를 배정한다.
func (s *Service) Create(opts CreateOptions) (*Project, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("프로젝트 이름이 필요합니다")
	}

	id := uuid.New().String()

	bufferDays := opts.BufferDays
	if bufferDays == 0 && opts.EstimatedDays > 0 {
		bufferDays = opts.EstimatedDays * 0.5
	}

	wipLimit := 3
	if opts.WIPLimit != 0 {
		wipLimit = ClampWIPLimit(opts.WIPLimit)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 50
	}

	var estimated sql.NullFloat64
	if opts.EstimatedDays > 0 {
		estimated = sql.NullFloat64{Float64: opts.EstimatedDays, Valid: true}
	}

	var dueDate sql.NullTime
	if opts.DueDate != nil {
		dueDate = sql.NullTime{Time: *opts.DueDate, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, description, estimated_days, buffer_days, wip_limit, parent_project_id, priority, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, opts.Name, nullableString(opts.Description), estimated, bufferDays, wipLimit,
		nullableString(opts.ParentProjectID), priority, dueDate)

	if err != nil {
		return nil, fmt.Errorf("프로젝트 생성 실패: %w", err)
	}

	return s.Get(id)
}

// Get retrieves a project by ID
func (s *Service) Get(id string) (*Project, error) {
	var p Project
	err := s.db.QueryRow(`
		SELECT id, name, description, status, estimated_days, buffer_days,
		       buffer_consumed_percent, progress_percent, wip_limit,
		       parent_project_id, priority, due_date, started_at, completed_at,
		       created_at, updated_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.EstimatedDays,
		&p.BufferDays, &p.BufferConsumedPercent, &p.ProgressPercent, &p.WIPLimit,
		&p.ParentProjectID, &p.Priority, &p.DueDate, &p.StartedAt, &p.CompletedAt,
		&p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("프로젝트 '%s'을(를) 찾을 수 없습니다", id)
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// List returns projects with optional status filter
func (s *Service) List(status string) ([]*Project, error) {
	query := `
		SELECT id, name, description, status, estimated_days, buffer_days,
		       buffer_consumed_percent, progress_percent, wip_limit,
		       parent_project_id, priority, due_date, started_at, completed_at,
		       created_at, updated_at
		FROM projects
	`

	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY priority DESC, created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("프로젝트 목록 조회 실패: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.EstimatedDays,
			&p.BufferDays, &p.BufferConsumedPercent, &p.ProgressPercent, &p.WIPLimit,
			&p.ParentProjectID, &p.Priority, &p.DueDate, &p.StartedAt, &p.CompletedAt,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}

	return projects, nil
}

// Update applies a partial update. 범위를 벗어난 값은 조용히 보정한다.
func (s *Service) Update(id string, patch Patch) error {
	var clauses []string
	var args []interface{}

	if patch.Name != nil {
		clauses = append(clauses, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		clauses = append(clauses, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *patch.Status)
		switch *patch.Status {
		case StatusCompleted:
			clauses = append(clauses, "completed_at = CURRENT_TIMESTAMP")
		case StatusActive:
			clauses = append(clauses, "started_at = COALESCE(started_at, CURRENT_TIMESTAMP)")
		}
	}
	if patch.EstimatedDays != nil {
		clauses = append(clauses, "estimated_days = ?")
		args = append(args, *patch.EstimatedDays)
	}
	if patch.BufferDays != nil {
		clauses = append(clauses, "buffer_days = ?")
		args = append(args, *patch.BufferDays)
	}
	if patch.BufferConsumedPercent != nil {
		clauses = append(clauses, "buffer_consumed_percent = ?")
		args = append(args, clampPercent(*patch.BufferConsumedPercent))
	}
	if patch.ProgressPercent != nil {
		clauses = append(clauses, "progress_percent = ?")
		args = append(args, clampPercent(*patch.ProgressPercent))
	}
	if patch.WIPLimit != nil {
		clauses = append(clauses, "wip_limit = ?")
		args = append(args, ClampWIPLimit(*patch.WIPLimit))
	}
	if patch.Priority != nil {
		clauses = append(clauses, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.DueDate != nil {
		clauses = append(clauses, "due_date = ?")
		args = append(args, *patch.DueDate)
	}

	if len(clauses) == 0 {
		return nil
	}

	result, err := s.db.Exec(`UPDATE projects SET `+strings.Join(clauses, ", ")+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		append(args, id)...)
	if err != nil {
		return fmt.Errorf("프로젝트 업데이트 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("프로젝트 '%s'을(를) 찾을 수 없습니다", id)
	}

	return nil
}

// Delete removes a project and cascades to its tasks
func (s *Service) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("프로젝트 삭제 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("프로젝트 '%s'을(를) 찾을 수 없습니다", id)
	}

	return nil
}

// RecalcProgress recomputes progress from the completed-task ratio
func (s *Service) RecalcProgress(id string) (float64, error) {
	var total, completed int
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE project_id = ? AND status != 'cancelled'
	`, id).Scan(&total, &completed)
	if err != nil {
		return 0, fmt.Errorf("진행률 계산 실패: %w", err)
	}

	if total == 0 {
		return 0, nil
	}

	progress := clampPercent(float64(completed) / float64(total) * 100)

	_, err = s.db.Exec(`
		UPDATE projects SET progress_percent = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, progress, id)
	if err != nil {
		return 0, fmt.Errorf("진행률 저장 실패: %w", err)
	}

	return progress, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
