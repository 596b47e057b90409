package buffer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/project"
)

// Zone thresholds (% of buffer consumed)
const (
	YellowZone = 33.0
	RedZone    = 66.0
)

// Zone names
const (
	ZoneGreen  = "green"
	ZoneYellow = "yellow"
	ZoneRed    = "red"
)

// Status is a point-in-time buffer health reading
type Status struct {
	ProjectID       string  `json:"project_id"`
	ProgressPercent float64 `json:"progress_percent"`
	ConsumedPercent float64 `json:"consumed_percent"`
	Zone            string  `json:"zone"`
	PenetrationRate float64 `json:"penetration_rate"`
	BufferDays      float64 `json:"buffer_days"`
	EstimatedDays   float64 `json:"estimated_days"`
}

// Sample is one fever-chart history point
type Sample struct {
	ProgressPercent float64   `json:"progress_percent"`
	ConsumedPercent float64   `json:"consumed_percent"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Tracker maintains per-project buffer metrics
type Tracker struct {
	db       *db.DB
	projects *project.Service
}

// NewTracker creates a new buffer tracker
func NewTracker(database *db.DB) *Tracker {
	return &Tracker{db: database, projects: project.NewService(database)}
}

// ZoneFor classifies a consumption percentage
func ZoneFor(consumed float64) string {
	switch {
	case consumed < YellowZone:
		return ZoneGreen
	case consumed < RedZone:
		return ZoneYellow
	default:
		return ZoneRed
	}
}

// Status returns the current buffer health for a project.
// 진행률이 0이면 침투율도 0이다. 버퍼만 소모된 프로젝트의 판정은 호출 측이
// zone으로 해야 한다.
func (t *Tracker) Status(projectID string) (*Status, error) {
	p, err := t.projects.Get(projectID)
	if err != nil {
		return nil, err
	}

	penetration := 0.0
	if p.ProgressPercent > 0 {
		penetration = p.BufferConsumedPercent / p.ProgressPercent
	}

	return &Status{
		ProjectID:       projectID,
		ProgressPercent: p.ProgressPercent,
		ConsumedPercent: p.BufferConsumedPercent,
		Zone:            ZoneFor(p.BufferConsumedPercent),
		PenetrationRate: penetration,
		BufferDays:      p.BufferDays,
		EstimatedDays:   p.EstimatedDays.Float64,
	}, nil
}

// Update writes new buffer metrics and appends a fever-chart sample.
// nil 포인터는 해당 값을 유지한다. 범위 밖 값은 [0,100]으로 보정된다.
func (t *Tracker) Update(projectID string, progress, consumed *float64) error {
	if progress == nil && consumed == nil {
		return nil
	}

	patch := project.Patch{
		ProgressPercent:       progress,
		BufferConsumedPercent: consumed,
	}
	if err := t.projects.Update(projectID, patch); err != nil {
		return err
	}

	p, err := t.projects.Get(projectID)
	if err != nil {
		return err
	}

	_, err = t.db.Exec(`
		INSERT INTO buffer_history (id, project_id, progress_percent, consumed_percent)
		VALUES (?, ?, ?, ?)
	`, uuid.New().String(), projectID, p.ProgressPercent, p.BufferConsumedPercent)
	if err != nil {
		return fmt.Errorf("버퍼 히스토리 기록 실패: %w", err)
	}

	return nil
}

// History returns fever-chart samples from the last N days, oldest first
func (t *Tracker) History(projectID string, days int) ([]*Sample, error) {
	since := time.Now().AddDate(0, 0, -days)

	rows, err := t.db.Query(`
		SELECT progress_percent, consumed_percent, recorded_at
		FROM buffer_history
		WHERE project_id = ? AND recorded_at > ?
		ORDER BY recorded_at
	`, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("버퍼 히스토리 조회 실패: %w", err)
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ProgressPercent, &s.ConsumedPercent, &s.RecordedAt); err != nil {
			return nil, err
		}
		samples = append(samples, &s)
	}

	return samples, nil
}

// RedZoneProjects returns active projects whose buffer is in the red zone
func (t *Tracker) RedZoneProjects() ([]*project.Project, error) {
	projects, err := t.projects.List(project.StatusActive)
	if err != nil {
		return nil, err
	}

	var red []*project.Project
	for _, p := range projects {
		if ZoneFor(p.BufferConsumedPercent) == ZoneRed {
			red = append(red, p)
		}
	}

	return red, nil
}
