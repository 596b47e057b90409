package toc

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/graph"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/n0roo/toc-kit/internal/task"
)

// DefaultWIPLimit is the process-wide WIP limit when nothing overrides it
const DefaultWIPLimit = 3

// Error kinds callers can distinguish with errors.Is
var (
	ErrWIPLimitExceeded  = errors.New("WIP 한도 초과")
	ErrFullKitIncomplete = errors.New("풀킷 미충족")
)

// partial-kit 시작을 행동 지표로 구분하기 위한 사유 문자열
const reasonPartialKitStart = "PARTIAL_KIT_START"

// Engine enforces the task lifecycle with WIP, full-kit, and dependency gating
type Engine struct {
	db       *db.DB
	tasks    *task.Service
	graph    *graph.Service
	projects *project.Service
}

// NewEngine creates a new TOC engine
func NewEngine(database *db.DB) *Engine {
	return &Engine{
		db:       database,
		tasks:    task.NewService(database),
		graph:    graph.NewService(database),
		projects: project.NewService(database),
	}
}

// GlobalWIPLimit returns the process-wide WIP limit
func (e *Engine) GlobalWIPLimit() int {
	value, err := e.db.GetState("wip_limit")
	if err != nil || value == "" {
		return DefaultWIPLimit
	}

	limit, err := strconv.Atoi(value)
	if err != nil {
		return DefaultWIPLimit
	}

	return project.ClampWIPLimit(limit)
}

// SetGlobalWIPLimit stores the process-wide WIP limit, clamped to [1, 5]
func (e *Engine) SetGlobalWIPLimit(limit int) error {
	return e.db.SetState("wip_limit", strconv.Itoa(project.ClampWIPLimit(limit)))
}

// CheckWIP returns (current, limit, within) for a project ("" = global)
func (e *Engine) CheckWIP(projectID string) (int, int, bool, error) {
	var current int
	var err error

	if projectID != "" {
		err = e.db.QueryRow(`
			SELECT COUNT(*) FROM tasks WHERE project_id = ? AND status = 'in_progress'
		`, projectID).Scan(&current)
	} else {
		err = e.db.QueryRow(`
			SELECT COUNT(*) FROM tasks WHERE status = 'in_progress'
		`).Scan(&current)
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("WIP 집계 실패: %w", err)
	}

	limit := e.GlobalWIPLimit()
	if projectID != "" {
		p, err := e.projects.Get(projectID)
		if err == nil {
			limit = project.ClampWIPLimit(p.WIPLimit)
		}
	}

	return current, limit, current < limit, nil
}

// CanStart reports whether a task may start and lists every failing check
func (e *Engine) CanStart(taskID string) (bool, []string, error) {
	t, err := e.tasks.Get(taskID)
	if err != nil {
		return false, []string{"태스크를 찾을 수 없습니다"}, err
	}

	var reasons []string

	switch t.Status {
	case task.StatusInProgress:
		reasons = append(reasons, "이미 진행 중인 태스크입니다")
	case task.StatusCompleted:
		reasons = append(reasons, "이미 완료된 태스크입니다")
	case task.StatusCancelled:
		reasons = append(reasons, "취소된 태스크입니다")
	}

	current, limit, within, err := e.CheckWIP(t.ProjectID.String)
	if err != nil {
		return false, nil, err
	}
	if !within {
		reasons = append(reasons, fmt.Sprintf("WIP 한도 도달 (%d/%d)", current, limit))
	}

	kitComplete, err := e.tasks.KitComplete(taskID)
	if err != nil {
		return false, nil, err
	}
	if !kitComplete {
		items, _ := e.tasks.KitItems(taskID)
		var missing []string
		for _, item := range items {
			if !item.IsSatisfied {
				missing = append(missing, item.Description)
			}
		}
		if len(missing) > 3 {
			missing = missing[:3]
		}
		reasons = append(reasons, "풀킷 미충족: "+strings.Join(missing, ", "))
	}

	blocking, err := e.graph.Blocking(taskID)
	if err != nil {
		return false, nil, err
	}
	if len(blocking) > 0 {
		var titles []string
		for _, b := range blocking {
			titles = append(titles, b.Title)
			if len(titles) == 3 {
				break
			}
		}
		reasons = append(reasons, "의존성 대기 중: "+strings.Join(titles, ", "))
	}

	return len(reasons) == 0, reasons, nil
}

// Start transitions a task to in_progress.
// force는 WIP/풀킷/의존성 검사를 건너뛰지만 종료 상태 검사는 건너뛰지 않는다.
func (e *Engine) Start(taskID string, force bool) (*task.Task, error) {
	t, err := e.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal(t.Status) {
		return nil, fmt.Errorf("종료된 태스크 '%s'은(는) 시작할 수 없습니다", taskID)
	}

	if !force {
		canStart, reasons, err := e.CanStart(taskID)
		if err != nil {
			return nil, err
		}
		if !canStart {
			joined := strings.Join(reasons, "; ")
			for _, reason := range reasons {
				if strings.Contains(reason, "WIP 한도") {
					return nil, fmt.Errorf("%s: %w", joined, ErrWIPLimitExceeded)
				}
			}
			for _, reason := range reasons {
				if strings.Contains(reason, "풀킷") {
					return nil, fmt.Errorf("%s: %w", joined, ErrFullKitIncomplete)
				}
			}
			return nil, fmt.Errorf("시작할 수 없습니다: %s", joined)
		}
	}

	// 다른 태스크가 진행 중이면 자발적 컨텍스트 스위치 기록
	var currentID string
	err = e.db.QueryRow(`
		SELECT id FROM tasks WHERE status = 'in_progress' ORDER BY actual_start LIMIT 1
	`).Scan(&currentID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("진행 중 태스크 조회 실패: %w", err)
	}
	if currentID != "" && currentID != taskID {
		e.tasks.LogContextSwitch(currentID, taskID, task.SwitchVoluntary, "새 태스크 시작")
	}

	kitComplete, err := e.tasks.KitComplete(taskID)
	if err != nil {
		return nil, err
	}

	// 한도는 트랜잭션 밖에서 읽는다 (단일 커넥션 풀에서 tx 중 추가 조회는 교착)
	limit := e.GlobalWIPLimit()
	if t.ProjectID.Valid {
		if p, err := e.projects.Get(t.ProjectID.String); err == nil {
			limit = project.ClampWIPLimit(p.WIPLimit)
		}
	}

	// WIP 재검사와 상태 갱신은 한 트랜잭션으로 묶는다.
	// 검사와 갱신 사이에 다른 start가 끼어들면 한도를 넘을 수 있다.
	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("트랜잭션 시작 실패: %w", err)
	}
	defer tx.Rollback()

	if !force {
		var current int
		if t.ProjectID.Valid {
			err = tx.QueryRow(`
				SELECT COUNT(*) FROM tasks WHERE project_id = ? AND status = 'in_progress'
			`, t.ProjectID.String).Scan(&current)
		} else {
			err = tx.QueryRow(`
				SELECT COUNT(*) FROM tasks WHERE status = 'in_progress'
			`).Scan(&current)
		}
		if err != nil {
			return nil, fmt.Errorf("WIP 집계 실패: %w", err)
		}
		if current >= limit {
			return nil, fmt.Errorf("WIP 한도 도달 (%d/%d): %w", current, limit, ErrWIPLimitExceeded)
		}
	}

	_, err = tx.Exec(`
		UPDATE tasks SET status = 'in_progress', actual_start = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, time.Now(), taskID)
	if err != nil {
		return nil, fmt.Errorf("태스크 시작 실패: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("시작 커밋 실패: %w", err)
	}

	// 풀킷 미충족 시작은 별도 기록으로 남긴다
	if !kitComplete {
		e.tasks.LogContextSwitch("", taskID, task.SwitchVoluntary, reasonPartialKitStart)
	}

	return e.tasks.Get(taskID)
}

// Complete transitions a task to completed, resolves its open blockers,
// unblocks dependents, and returns the newly-ready task ids.
func (e *Engine) Complete(taskID string, actualHours float64) ([]string, error) {
	t, err := e.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatusCompleted {
		// 멱등: 종속 태스크 재확인만 수행
		return e.graph.Unblock(taskID)
	}
	if t.Status == task.StatusCancelled {
		return nil, fmt.Errorf("취소된 태스크 '%s'은(는) 완료할 수 없습니다", taskID)
	}

	query := `UPDATE tasks SET status = 'completed', actual_end = ?, updated_at = CURRENT_TIMESTAMP`
	args := []interface{}{time.Now()}
	if actualHours > 0 {
		query += `, actual_hours = ?`
		args = append(args, actualHours)
	}
	query += ` WHERE id = ?`
	args = append(args, taskID)

	if _, err := e.db.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("태스크 완료 실패: %w", err)
	}

	if _, err := e.tasks.ResolveTaskBlockers(taskID, "task_completed"); err != nil {
		return nil, err
	}

	unblocked, err := e.graph.Unblock(taskID)
	if err != nil {
		return nil, err
	}

	// 프로젝트 진행률 자동 갱신
	if t.ProjectID.Valid {
		e.projects.RecalcProgress(t.ProjectID.String)
	}

	return unblocked, nil
}

// Block transitions a task to blocked and records the impediment
func (e *Engine) Block(taskID, reason, waitingOn string) (*task.Blocker, error) {
	t, err := e.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal(t.Status) {
		return nil, fmt.Errorf("종료된 태스크 '%s'은(는) 차단할 수 없습니다", taskID)
	}

	if err := e.tasks.SetStatus(taskID, task.StatusBlocked); err != nil {
		return nil, err
	}

	blocker, err := e.tasks.AddBlocker(taskID, "", "other", reason, waitingOn, "")
	if err != nil {
		return nil, err
	}

	e.tasks.LogContextSwitch(taskID, "", task.SwitchBlocked, reason)

	return blocker, nil
}

// WIPStatus is a dashboard snapshot of the work-in-progress constraint
type WIPStatus struct {
	Current              int          `json:"current"`
	Limit                int          `json:"limit"`
	WithinLimit          bool         `json:"within_limit"`
	ActiveTasks          []*task.Task `json:"active_tasks"`
	ContextSwitchesToday int          `json:"context_switches_today"`
}

// GetWIPStatus returns the global WIP snapshot
func (e *Engine) GetWIPStatus() (*WIPStatus, error) {
	current, limit, within, err := e.CheckWIP("")
	if err != nil {
		return nil, err
	}

	active, err := e.tasks.List("", task.StatusInProgress)
	if err != nil {
		return nil, err
	}

	var switchesToday int
	err = e.db.QueryRow(`
		SELECT COUNT(*) FROM context_switches WHERE occurred_at >= date('now', 'localtime')
	`).Scan(&switchesToday)
	if err != nil {
		return nil, fmt.Errorf("컨텍스트 스위치 집계 실패: %w", err)
	}

	return &WIPStatus{
		Current:              current,
		Limit:                limit,
		WithinLimit:          within,
		ActiveTasks:          active,
		ContextSwitchesToday: switchesToday,
	}, nil
}

// Suggestion is a candidate next task with its start-readiness
type Suggestion struct {
	Task     *task.Task `json:"task"`
	CanStart bool       `json:"can_start"`
	Reasons  []string   `json:"reasons,omitempty"`
}

// SuggestNext returns start candidates, critical chain first, then
// priority and due date. 각 후보에 착수 가능 여부를 함께 표시한다.
func (e *Engine) SuggestNext(projectID string, limit int) ([]*Suggestion, error) {
	if limit <= 0 {
		limit = 5
	}

	candidates, err := e.tasks.StartCandidates(projectID, limit)
	if err != nil {
		return nil, err
	}

	suggestions := make([]*Suggestion, 0, len(candidates))
	for _, t := range candidates {
		ok, reasons, err := e.CanStart(t.ID)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, &Suggestion{Task: t, CanStart: ok, Reasons: reasons})
	}

	return suggestions, nil
}

// FlowEfficiency returns touch time / lead time for completed tasks, in percent
func (e *Engine) FlowEfficiency(projectID string) (float64, error) {
	var touch, lead sql.NullFloat64
	err := e.db.QueryRow(`
		SELECT SUM(actual_hours),
		       SUM(CASE WHEN actual_end IS NOT NULL AND actual_start IS NOT NULL
		           THEN (julianday(actual_end) - julianday(actual_start)) * 24
		           ELSE 0 END)
		FROM tasks WHERE project_id = ? AND status = 'completed'
	`, projectID).Scan(&touch, &lead)
	if err != nil {
		return 0, fmt.Errorf("흐름 효율 계산 실패: %w", err)
	}

	if !lead.Valid || lead.Float64 <= 0 {
		return 0, nil
	}

	return touch.Float64 / lead.Float64 * 100, nil
}
