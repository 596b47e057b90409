package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/task"
)

// Dependency type constants
const (
	FinishToStart  = "finish_to_start"
	StartToStart   = "start_to_start"
	FinishToFinish = "finish_to_finish"
)

// ErrCyclicDependency is returned when an edge would close a cycle
var ErrCyclicDependency = errors.New("순환 의존성")

// Dependency represents a directed edge between tasks
type Dependency struct {
	ID                 string  `json:"id"`
	TaskID             string  `json:"task_id"`
	DependsOnTaskID    string  `json:"depends_on_task_id"`
	DependencyType     string  `json:"dependency_type"`
	FeedingBufferHours float64 `json:"feeding_buffer_hours"`
}

// Service handles the task dependency graph
type Service struct {
	db    *db.DB
	tasks *task.Service
}

// NewService creates a new graph service
func NewService(database *db.DB) *Service {
	return &Service{db: database, tasks: task.NewService(database)}
}

// AddDependency creates an edge taskID → dependsOnTaskID.
// 간선이 순환을 만들면 ErrCyclicDependency로 거부한다.
func (s *Service) AddDependency(taskID, dependsOnTaskID, depType string, feedingBufferHours float64) (*Dependency, error) {
	if taskID == dependsOnTaskID {
		return nil, fmt.Errorf("자기 자신에 대한 의존성: %w", ErrCyclicDependency)
	}

	if depType == "" {
		depType = FinishToStart
	}

	// dependsOn에서 task로 이미 도달 가능하면 이 간선은 순환을 만든다
	reachable, err := s.reaches(dependsOnTaskID, taskID)
	if err != nil {
		return nil, err
	}
	if reachable {
		return nil, fmt.Errorf("'%s' → '%s' 간선 추가 불가: %w", taskID, dependsOnTaskID, ErrCyclicDependency)
	}

	id := uuid.New().String()

	_, err = s.db.Exec(`
		INSERT INTO task_dependencies (id, task_id, depends_on_task_id, dependency_type, feeding_buffer_hours)
		VALUES (?, ?, ?, ?, ?)
	`, id, taskID, dependsOnTaskID, depType, feedingBufferHours)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("이미 존재하는 의존성입니다: %s → %s", taskID, dependsOnTaskID)
		}
		return nil, fmt.Errorf("의존성 생성 실패: %w", err)
	}

	// 미완료 선행이 생겼으면 대기 상태로 내려야 Unblock이 되돌릴 수 있다
	t, err := s.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatusPending || t.Status == task.StatusReady {
		blocking, err := s.Blocking(taskID)
		if err != nil {
			return nil, err
		}
		if len(blocking) > 0 {
			if err := s.tasks.SetStatus(taskID, task.StatusWaitingForKit); err != nil {
				return nil, err
			}
		}
	}

	return &Dependency{
		ID:                 id,
		TaskID:             taskID,
		DependsOnTaskID:    dependsOnTaskID,
		DependencyType:     depType,
		FeedingBufferHours: feedingBufferHours,
	}, nil
}

// RemoveDependency deletes an edge
func (s *Service) RemoveDependency(taskID, dependsOnTaskID string) error {
	result, err := s.db.Exec(`
		DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ?
	`, taskID, dependsOnTaskID)
	if err != nil {
		return fmt.Errorf("의존성 삭제 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("의존성 '%s' → '%s'을(를) 찾을 수 없습니다", taskID, dependsOnTaskID)
	}

	return nil
}

// Dependencies returns the edges out of a task
func (s *Service) Dependencies(taskID string) ([]*Dependency, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, depends_on_task_id, dependency_type, feeding_buffer_hours
		FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_task_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("의존성 조회 실패: %w", err)
	}
	defer rows.Close()

	var deps []*Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.ID, &d.TaskID, &d.DependsOnTaskID, &d.DependencyType, &d.FeedingBufferHours); err != nil {
			return nil, err
		}
		deps = append(deps, &d)
	}

	return deps, nil
}

// Blocking returns the prerequisite tasks that are not yet completed.
// 이 목록이 비어 있어야 시작할 수 있다.
func (s *Service) Blocking(taskID string) ([]*task.Task, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.project_id, t.parent_task_id, t.title, t.description, t.status,
		       t.estimated_hours, t.actual_hours, t.is_critical_chain, t.critical_chain_sequence,
		       t.planned_start, t.actual_start, t.planned_end, t.actual_end, t.due_date,
		       t.priority, t.sort_order, t.recurring_schedule_id, t.created_at, t.updated_at
		FROM tasks t
		JOIN task_dependencies td ON td.depends_on_task_id = t.id
		WHERE td.task_id = ? AND t.status != 'completed'
		ORDER BY t.id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("차단 의존성 조회 실패: %w", err)
	}
	defer rows.Close()

	var blocking []*task.Task
	for rows.Next() {
		var t task.Task
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.ParentTaskID, &t.Title, &t.Description,
			&t.Status, &t.EstimatedHours, &t.ActualHours, &t.IsCriticalChain,
			&t.CriticalChainSequence, &t.PlannedStart, &t.ActualStart, &t.PlannedEnd,
			&t.ActualEnd, &t.DueDate, &t.Priority, &t.SortOrder, &t.RecurringScheduleID,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		blocking = append(blocking, &t)
	}

	return blocking, nil
}

// Unblock advances dependents of a completed task.
// waiting_for_kit 상태이고 차단 의존성이 없으며 풀킷이 충족된 태스크만 ready로 전이한다.
func (s *Service) Unblock(completedTaskID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT task_id FROM task_dependencies WHERE depends_on_task_id = ?
	`, completedTaskID)
	if err != nil {
		return nil, fmt.Errorf("종속 태스크 조회 실패: %w", err)
	}

	var dependentIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dependentIDs = append(dependentIDs, id)
	}
	rows.Close()

	var unblocked []string
	for _, depID := range dependentIDs {
		blocking, err := s.Blocking(depID)
		if err != nil {
			return nil, err
		}
		if len(blocking) > 0 {
			continue
		}

		t, err := s.tasks.Get(depID)
		if err != nil {
			return nil, err
		}
		if t.Status != task.StatusWaitingForKit {
			continue
		}

		kitComplete, err := s.tasks.KitComplete(depID)
		if err != nil {
			return nil, err
		}
		if !kitComplete {
			continue
		}

		if err := s.tasks.SetStatus(depID, task.StatusReady); err != nil {
			return nil, err
		}
		unblocked = append(unblocked, depID)
	}

	return unblocked, nil
}

// reaches reports whether `to` is reachable from `from` over dependency edges
func (s *Service) reaches(from, to string) (bool, error) {
	edges, err := s.allEdges("")
	if err != nil {
		return false, err
	}

	visited := map[string]bool{}
	stack := []string{from}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == to {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		stack = append(stack, edges[current]...)
	}

	return false, nil
}

// allEdges loads the adjacency map task → its dependencies
// (projectID 지정 시 해당 프로젝트의 태스크로 제한)
func (s *Service) allEdges(projectID string) (map[string][]string, error) {
	query := `SELECT td.task_id, td.depends_on_task_id FROM task_dependencies td`
	var args []interface{}
	if projectID != "" {
		query += `
			JOIN tasks a ON a.id = td.task_id
			JOIN tasks b ON b.id = td.depends_on_task_id
			WHERE a.project_id = ? AND b.project_id = ?`
		args = append(args, projectID, projectID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("의존성 그래프 로드 실패: %w", err)
	}
	defer rows.Close()

	edges := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}

	// 순회 결과가 재현 가능하도록 인접 목록 정렬
	for _, deps := range edges {
		sort.Strings(deps)
	}

	return edges, nil
}

// CriticalChain computes the longest dependency chain in a project and
// returns it ordered origin → terminus.
// 체인 위의 태스크에는 is_critical_chain과 종점 기준 0부터의 시퀀스가 기록된다.
func (s *Service) CriticalChain(projectID string) ([]string, error) {
	taskRows, err := s.db.Query(`SELECT id FROM tasks WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("프로젝트 태스크 조회 실패: %w", err)
	}

	var taskIDs []string
	for taskRows.Next() {
		var id string
		if err := taskRows.Scan(&id); err != nil {
			taskRows.Close()
			return nil, err
		}
		taskIDs = append(taskIDs, id)
	}
	taskRows.Close()

	if len(taskIDs) == 0 {
		return nil, nil
	}

	edges, err := s.allEdges(projectID)
	if err != nil {
		return nil, err
	}

	memo, err := longestPaths(taskIDs, edges)
	if err != nil {
		return nil, err
	}

	// 종점: 경로 길이가 최대인 태스크 (동률이면 작은 id)
	var terminus string
	maxLen := 0
	for _, id := range taskIDs {
		if memo[id] > maxLen {
			maxLen = memo[id]
			terminus = id
		}
	}

	// 종점에서 역방향으로 체인 복원: 각 단계에서 경로가 가장 긴 의존성 선택
	var chain []string
	current := terminus
	for current != "" {
		chain = append(chain, current)

		next := ""
		nextLen := 0
		for _, dep := range edges[current] {
			if memo[dep] > nextLen || (memo[dep] == nextLen && (next == "" || dep < next)) {
				nextLen = memo[dep]
				next = dep
			}
		}
		current = next
	}

	// 플래그 일괄 재작성 (한 트랜잭션)
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("트랜잭션 시작 실패: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE tasks SET is_critical_chain = 0, critical_chain_sequence = NULL WHERE project_id = ?
	`, projectID); err != nil {
		return nil, fmt.Errorf("크리티컬 체인 초기화 실패: %w", err)
	}

	for seq, id := range chain {
		if _, err := tx.Exec(`
			UPDATE tasks SET is_critical_chain = 1, critical_chain_sequence = ? WHERE id = ?
		`, seq, id); err != nil {
			return nil, fmt.Errorf("크리티컬 체인 기록 실패: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("크리티컬 체인 커밋 실패: %w", err)
	}

	// 반환 순서는 시작 → 종점
	reversed := make([]string, len(chain))
	for i, id := range chain {
		reversed[len(chain)-1-i] = id
	}

	return reversed, nil
}

// longestPaths computes, for each task, the length of the longest predecessor
// chain ending at it. 재귀 대신 명시적 스택으로 깊은 체인을 처리한다.
func longestPaths(taskIDs []string, edges map[string][]string) (map[string]int, error) {
	memo := map[string]int{}
	onPath := map[string]bool{}

	type frame struct {
		id       string
		expanded bool
	}

	for _, root := range taskIDs {
		if _, done := memo[root]; done {
			continue
		}

		stack := []frame{{id: root}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if f.expanded {
				maxLen := 0
				for _, dep := range edges[f.id] {
					if memo[dep] > maxLen {
						maxLen = memo[dep]
					}
				}
				memo[f.id] = maxLen + 1
				onPath[f.id] = false
				continue
			}

			if _, done := memo[f.id]; done {
				continue
			}
			if onPath[f.id] {
				return nil, ErrCyclicDependency
			}

			onPath[f.id] = true
			stack = append(stack, frame{id: f.id, expanded: true})
			for _, dep := range edges[f.id] {
				if _, done := memo[dep]; !done {
					stack = append(stack, frame{id: dep})
				}
			}
		}
	}

	return memo, nil
}
