package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/n0roo/toc-kit/internal/buffer"
	"github.com/n0roo/toc-kit/internal/config"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/notify"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/n0roo/toc-kit/internal/schedule"
	"github.com/n0roo/toc-kit/internal/task"
	"github.com/n0roo/toc-kit/internal/toc"
)

// metadata keys for last-run markers
const (
	stateLastDeadline = "scheduler_last_deadline"
	stateLastBatch    = "scheduler_last_batch"
	stateLastWeekly   = "scheduler_last_weekly"
	stateLastGenerate = "scheduler_last_generate"
)

// deadlineInterval bounds how often the urgent-deadline scan runs
const deadlineInterval = time.Hour

// Runner drives the periodic passes: deadline scan, P1 batch delivery,
// weekly report, and recurring-task generation. 각 패스는 멱등이라
// 틱이 겹치거나 밀려도 중복 실행되지 않는다.
type Runner struct {
	db        *db.DB
	cfg       *config.Config
	router    *notify.Router
	schedules *schedule.Service
	buffers   *buffer.Tracker
	projects  *project.Service
	tasks     *task.Service
	engine    *toc.Engine
}

// NewRunner creates a scheduler runner
func NewRunner(database *db.DB, cfg *config.Config, router *notify.Router) *Runner {
	return &Runner{
		db:        database,
		cfg:       cfg,
		router:    router,
		schedules: schedule.NewService(database),
		buffers:   buffer.NewTracker(database),
		projects:  project.NewService(database),
		tasks:     task.NewService(database),
		engine:    toc.NewEngine(database),
	}
}

// TickResult summarizes one tick's work
type TickResult struct {
	DeadlineAlerts int  `json:"deadline_alerts"`
	BatchSent      int  `json:"batch_sent"`
	WeeklySent     bool `json:"weekly_sent"`
	TasksGenerated int  `json:"tasks_generated"`
}

// lastRun reads a last-run marker, zero time when absent
func (r *Runner) lastRun(key string) time.Time {
	value, err := r.db.GetState(key)
	if err != nil || value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r *Runner) markRun(key string, now time.Time) {
	r.db.SetState(key, now.Format(time.RFC3339))
}

// Tick runs every pass that has come due since its last run
func (r *Runner) Tick(now time.Time) (*TickResult, error) {
	result := &TickResult{}

	if now.Sub(r.lastRun(stateLastDeadline)) >= deadlineInterval {
		alerts, err := r.RunDeadlineCheck()
		if err != nil {
			return result, err
		}
		result.DeadlineAlerts = alerts
		r.markRun(stateLastDeadline, now)
	}

	if r.batchDue(now) {
		sent, err := r.RunBatchPass()
		if err != nil {
			return result, err
		}
		result.BatchSent = sent
		r.markRun(stateLastBatch, now)
	}

	if r.weeklyDue(now) {
		sent, err := r.RunWeeklyPass()
		if err != nil {
			return result, err
		}
		result.WeeklySent = sent
		r.markRun(stateLastWeekly, now)
	}

	if r.generateDue(now) {
		gen, err := r.RunGeneration()
		if err != nil {
			return result, err
		}
		result.TasksGenerated = gen.TasksCreated
		r.markRun(stateLastGenerate, now)
	}

	return result, nil
}

// batchDue reports whether a P1 batch instant passed since the last batch run
func (r *Runner) batchDue(now time.Time) bool {
	last := r.lastRun(stateLastBatch)
	if last.IsZero() {
		last = now.Add(-24 * time.Hour)
	}
	next := notify.NextBatchTime(last, r.cfg.Notify.BatchTimes)
	return !next.After(now)
}

// weeklyDue reports whether the weekly instant passed since the last weekly run
func (r *Runner) weeklyDue(now time.Time) bool {
	last := r.lastRun(stateLastWeekly)
	if last.IsZero() {
		last = now.AddDate(0, 0, -7)
	}
	next := notify.NextWeeklyTime(last, r.cfg.Notify.WeeklyDay, r.cfg.Notify.WeeklyTime)
	return !next.After(now)
}

// generateDue reports whether today's generation instant has passed unrun
func (r *Runner) generateDue(now time.Time) bool {
	last := r.lastRun(stateLastGenerate)
	if last.IsZero() {
		last = now.AddDate(0, 0, -1)
	}
	next := notify.NextBatchTime(last, []string{r.cfg.Schedule.GenerateTime})
	return !next.After(now)
}

// RunDeadlineCheck scans for urgent deadlines and returns the alert count
func (r *Runner) RunDeadlineCheck() (int, error) {
	queued, err := r.router.CheckUrgentDeadlines()
	if err != nil {
		return 0, fmt.Errorf("마감 점검 실패: %w", err)
	}
	return len(queued), nil
}

// RunBatchPass delivers the pending P1 digest
func (r *Runner) RunBatchPass() (int, error) {
	return r.router.ProcessPendingBatch()
}

// RunWeeklyPass composes the weekly report, queues it, and delivers
// whatever P2 entry is pending.
func (r *Runner) RunWeeklyPass() (bool, error) {
	report, err := r.BuildWeeklyReport()
	if err != nil {
		return false, err
	}

	if _, err := r.router.QueueP2(report, nil); err != nil {
		return false, err
	}

	return r.router.ProcessWeeklyReport()
}

// RunGeneration materializes tasks from due recurring schedules
func (r *Runner) RunGeneration() (*schedule.GenerationResult, error) {
	return r.schedules.GenerateDueTasks()
}

// BuildWeeklyReport composes the weekly summary: per-project buffer
// status, completed-this-week count, and open blockers.
func (r *Runner) BuildWeeklyReport() (string, error) {
	projects, err := r.projects.List("active")
	if err != nil {
		return "", err
	}

	var completed int
	err = r.db.QueryRow(`
		SELECT COUNT(*) FROM tasks
		WHERE status = 'completed' AND actual_end >= datetime('now', '-7 days')
	`).Scan(&completed)
	if err != nil {
		return "", fmt.Errorf("주간 완료 집계 실패: %w", err)
	}

	blockers, err := r.tasks.ActiveBlockers("")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("=== Weekly Report ===\n\n")
	fmt.Fprintf(&b, "완료한 태스크: %d건 (최근 7일)\n", completed)
	fmt.Fprintf(&b, "미해소 블로커: %d건\n\n", len(blockers))

	if len(projects) > 0 {
		b.WriteString("[프로젝트 버퍼]\n")
		for _, p := range projects {
			status, err := r.buffers.Status(p.ID)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "  - %s: %s (진행 %.0f%%, 버퍼 소진 %.0f%%)\n",
				p.Name, status.Zone, status.ProgressPercent, status.ConsumedPercent)
		}
		b.WriteString("\n")
	}

	if len(blockers) > 0 {
		b.WriteString("[블로커]\n")
		listed := blockers
		if len(listed) > 5 {
			listed = listed[:5]
		}
		for _, bl := range listed {
			line := "  - " + bl.Description
			if bl.WaitingOn.Valid && bl.WaitingOn.String != "" {
				line += " (대기: " + bl.WaitingOn.String + ")"
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String(), nil
}

// Run ticks until the context is cancelled
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := r.Tick(time.Now()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := r.Tick(now); err != nil {
				return err
			}
		}
	}
}
