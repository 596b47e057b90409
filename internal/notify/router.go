package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/n0roo/toc-kit/internal/config"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/task"
)

// Priority tiers
const (
	P0 = "P0" // 즉시, 전 채널
	P1 = "P1" // 당일 배치
	P2 = "P2" // 주간 다이제스트
	P3 = "P3" // 로그 전용
)

// Trigger types
const (
	TriggerBlockerResolved   = "blocker_resolved"
	TriggerBlockerEscalation = "blocker_escalation"
	TriggerDeadlineUrgent    = "deadline_urgent"
	TriggerTaskStatus        = "task_status"
	TriggerWIPWarning        = "wip_warning"
	TriggerNewBlocker        = "new_blocker"
	TriggerWeeklyReport      = "weekly_report"
)

// Notification is one queue entry
type Notification struct {
	ID           string         `json:"id"`
	Priority     string         `json:"priority"`
	Channel      string         `json:"channel"`
	Message      string         `json:"message"`
	Context      sql.NullString `json:"context"`
	ScheduledFor sql.NullString `json:"scheduled_for"`
	SentAt       sql.NullTime   `json:"sent_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

// notifContext is the JSON stored in the context column
type notifContext struct {
	TriggerType string                 `json:"trigger_type"`
	SourceID    string                 `json:"source_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Router queues, dedups, and delivers tiered notifications
type Router struct {
	db       *db.DB
	cfg      *config.Config
	channels []Channel
	tasks    *task.Service
	logPath  string
}

// NewRouter creates a notification router
func NewRouter(database *db.DB, cfg *config.Config, channels []Channel) *Router {
	return &Router{
		db:       database,
		cfg:      cfg,
		channels: channels,
		tasks:    task.NewService(database),
		logPath:  cfg.Notify.LogPath,
	}
}

// ========================================
// Dedup
// ========================================

// claimDedup atomically checks the window and records the firing for
// (trigger, source). 조건부 upsert 한 문장이라 동시에 도착한 동일 트리거 중
// 하나만 true를 받는다. false면 윈도우 안의 중복이다.
func (r *Router) claimDedup(triggerType, sourceID string, windowHours int) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-time.Duration(windowHours) * time.Hour)

	result, err := r.db.Exec(`
		INSERT INTO notification_dedup (trigger_type, source_id, last_fired_at)
		VALUES (?, ?, ?)
		ON CONFLICT(trigger_type, source_id) DO UPDATE SET last_fired_at = excluded.last_fired_at
		WHERE last_fired_at < ?
	`, triggerType, sourceID, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("중복 기록 갱신 실패: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ========================================
// Queueing
// ========================================

// QueueP0 sends an immediate multi-channel notification.
// 중복 윈도우(4h) 안이면 발송하지 않고 nil을 반환한다.
func (r *Router) QueueP0(message, triggerType, sourceID string, metadata map[string]interface{}) (*Notification, error) {
	// 발송 전에 중복 윈도우를 점유해서 동시 도착한 동일 트리거의 이중 발송을 막는다
	claimed, err := r.claimDedup(triggerType, sourceID, r.cfg.DedupWindow(P0))
	if err != nil {
		return nil, err
	}
	if !claimed {
		r.logNotification(P0, message, triggerType, "deduplicated")
		return nil, nil
	}

	notif, err := r.insertNotification(P0, message, triggerType, sourceID, metadata, nil)
	if err != nil {
		return nil, err
	}

	// 전 채널 즉시 발송. 개별 채널 실패는 삼키고 상태에만 남긴다.
	status := "sent"
	for _, ch := range r.channels {
		if err := r.sendOne(ch, "[URGENT] "+message); err != nil {
			status += "," + ch.Name() + "_failed"
		}
	}

	if _, err := r.db.Exec(`UPDATE notification_queue SET sent_at = ? WHERE id = ?`, time.Now(), notif.ID); err != nil {
		return nil, fmt.Errorf("발송 표시 실패: %w", err)
	}

	r.logNotification(P0, message, triggerType, status)

	return notif, nil
}

// QueueP1 stores a notification for the next daily batch instant
func (r *Router) QueueP1(message, triggerType, sourceID string, metadata map[string]interface{}) (*Notification, error) {
	claimed, err := r.claimDedup(triggerType, sourceID, r.cfg.DedupWindow(P1))
	if err != nil {
		return nil, err
	}
	if !claimed {
		r.logNotification(P1, message, triggerType, "deduplicated")
		return nil, nil
	}

	nextBatch := NextBatchTime(time.Now(), r.cfg.Notify.BatchTimes)

	notif, err := r.insertNotification(P1, message, triggerType, sourceID, metadata, &nextBatch)
	if err != nil {
		return nil, err
	}

	r.logNotification(P1, message, triggerType, "queued for "+nextBatch.Format("15:04"))

	return notif, nil
}

// QueueP2 stores the weekly report for the next weekly instant
func (r *Router) QueueP2(message string, metadata map[string]interface{}) (*Notification, error) {
	claimed, err := r.claimDedup(TriggerWeeklyReport, "", r.cfg.DedupWindow(P2))
	if err != nil {
		return nil, err
	}
	if !claimed {
		r.logNotification(P2, message, TriggerWeeklyReport, "deduplicated")
		return nil, nil
	}

	nextWeekly := NextWeeklyTime(time.Now(), r.cfg.Notify.WeeklyDay, r.cfg.Notify.WeeklyTime)

	notif, err := r.insertNotification(P2, message, TriggerWeeklyReport, "", metadata, &nextWeekly)
	if err != nil {
		return nil, err
	}

	r.logNotification(P2, message, TriggerWeeklyReport, "queued for "+nextWeekly.Format("2006-01-02 15:04"))

	return notif, nil
}

// QueueP3 logs an event without ever delivering it
func (r *Router) QueueP3(message, triggerType, sourceID string) error {
	claimed, err := r.claimDedup(triggerType, sourceID, r.cfg.DedupWindow(P3))
	if err != nil {
		return err
	}
	if !claimed {
		r.logNotification(P3, message, triggerType, "deduplicated")
		return nil
	}

	r.logNotification(P3, message, triggerType, "logged")
	return nil
}

func (r *Router) insertNotification(priority, message, triggerType, sourceID string,
	metadata map[string]interface{}, scheduledFor *time.Time) (*Notification, error) {

	id := uuid.New().String()

	contextJSON, _ := json.Marshal(notifContext{
		TriggerType: triggerType,
		SourceID:    sourceID,
		Metadata:    metadata,
	})

	var scheduled sql.NullString
	if scheduledFor != nil {
		scheduled = sql.NullString{String: scheduledFor.Format(time.RFC3339), Valid: true}
	}

	channel := "log"
	if len(r.channels) > 0 {
		channel = r.channels[0].Name()
	}

	_, err := r.db.Exec(`
		INSERT INTO notification_queue (id, priority, channel, message, context, scheduled_for)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, priority, channel, message, string(contextJSON), scheduled)
	if err != nil {
		return nil, fmt.Errorf("알림 큐 저장 실패: %w", err)
	}

	return &Notification{
		ID:           id,
		Priority:     priority,
		Channel:      channel,
		Message:      message,
		Context:      sql.NullString{String: string(contextJSON), Valid: true},
		ScheduledFor: scheduled,
		CreatedAt:    time.Now(),
	}, nil
}

// sendOne delivers through a single channel with a bounded timeout
func (r *Router) sendOne(ch Channel, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return ch.Send(ctx, message)
}

// sendPrimary delivers through the first configured channel
func (r *Router) sendPrimary(message string) error {
	if len(r.channels) == 0 {
		return nil
	}
	return r.sendOne(r.channels[0], message)
}

// ========================================
// Batch processing
// ========================================

// pendingByPriority returns undelivered entries of one tier, oldest first
func (r *Router) pendingByPriority(priority string) ([]*Notification, error) {
	rows, err := r.db.Query(`
		SELECT id, priority, channel, message, context, scheduled_for, sent_at, created_at
		FROM notification_queue
		WHERE priority = ? AND sent_at IS NULL
		ORDER BY created_at
	`, priority)
	if err != nil {
		return nil, fmt.Errorf("대기 알림 조회 실패: %w", err)
	}
	defer rows.Close()

	var pending []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Priority, &n.Channel, &n.Message, &n.Context,
			&n.ScheduledFor, &n.SentAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		pending = append(pending, &n)
	}

	return pending, nil
}

// parseScheduledFor parses a stored scheduled_for value
func parseScheduledFor(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ProcessPendingBatch sends all due P1 entries as one digest.
// scheduled_for를 해석할 수 없는 항목은 발송 대상에 포함한다 (버리지 않는다).
func (r *Router) ProcessPendingBatch() (int, error) {
	pending, err := r.pendingByPriority(P1)
	if err != nil {
		return 0, err
	}

	now := time.Now()

	var ready []*Notification
	for _, n := range pending {
		if !n.ScheduledFor.Valid {
			ready = append(ready, n)
			continue
		}
		scheduled, ok := parseScheduledFor(n.ScheduledFor.String)
		if !ok || !scheduled.After(now) {
			ready = append(ready, n)
		}
	}

	if len(ready) == 0 {
		return 0, nil
	}

	digest := formatDigest(ready)

	if err := r.sendPrimary(digest); err != nil {
		r.logNotification(P1, fmt.Sprintf("Batch failed: %d items", len(ready)), "batch_digest", "send_failed")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("트랜잭션 시작 실패: %w", err)
	}
	defer tx.Rollback()

	for _, n := range ready {
		if _, err := tx.Exec(`UPDATE notification_queue SET sent_at = ? WHERE id = ?`, now, n.ID); err != nil {
			return 0, fmt.Errorf("발송 표시 실패: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("배치 커밋 실패: %w", err)
	}

	r.logNotification(P1, fmt.Sprintf("Batch sent: %d items", len(ready)), "batch_digest", "sent")

	return len(ready), nil
}

// formatDigest groups entries by trigger type, stable by type then insertion
func formatDigest(notifications []*Notification) string {
	byType := map[string][]*Notification{}
	for _, n := range notifications {
		trigger := "other"
		if n.Context.Valid {
			var ctx notifContext
			if json.Unmarshal([]byte(n.Context.String), &ctx) == nil && ctx.TriggerType != "" {
				trigger = ctx.TriggerType
			}
		}
		byType[trigger] = append(byType[trigger], n)
	}

	triggers := make([]string, 0, len(byType))
	for trigger := range byType {
		triggers = append(triggers, trigger)
	}
	sort.Strings(triggers)

	var b strings.Builder
	b.WriteString("=== Daily Update ===\n\n")
	for _, trigger := range triggers {
		b.WriteString("[" + titleize(trigger) + "]\n")
		for _, n := range byType[trigger] {
			b.WriteString("  - " + n.Message + "\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

func titleize(trigger string) string {
	words := strings.Split(trigger, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// ProcessWeeklyReport sends the most recently queued undelivered P2 entry
func (r *Router) ProcessWeeklyReport() (bool, error) {
	pending, err := r.pendingByPriority(P2)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}

	report := pending[len(pending)-1]

	if err := r.sendPrimary(report.Message); err != nil {
		r.logNotification(P2, report.Message, TriggerWeeklyReport, "send_failed")
		return false, nil
	}

	if _, err := r.db.Exec(`UPDATE notification_queue SET sent_at = ? WHERE id = ?`, time.Now(), report.ID); err != nil {
		return false, fmt.Errorf("발송 표시 실패: %w", err)
	}

	r.logNotification(P2, report.Message, TriggerWeeklyReport, "sent")

	return true, nil
}

// ========================================
// Trigger detection
// ========================================

// CheckUrgentDeadlines queues P0 alerts for tasks due within 24h
// whose full-kit is still incomplete.
func (r *Router) CheckUrgentDeadlines() ([]*Notification, error) {
	urgent, err := r.tasks.DueWithin(24 * time.Hour)
	if err != nil {
		return nil, err
	}

	var queued []*Notification
	for _, t := range urgent {
		items, err := r.tasks.KitItems(t.ID)
		if err != nil {
			return nil, err
		}

		var incomplete []string
		for _, item := range items {
			if !item.IsSatisfied {
				incomplete = append(incomplete, item.Description)
			}
		}
		if len(incomplete) == 0 {
			continue
		}

		hoursLeft := 0
		if t.DueDate.Valid {
			if h := int(time.Until(t.DueDate.Time).Hours()); h > 0 {
				hoursLeft = h
			}
		}

		listed := incomplete
		if len(listed) > 3 {
			listed = listed[:3]
		}
		message := fmt.Sprintf("'%s' 마감까지 %d시간, 대기 항목: %s",
			t.Title, hoursLeft, strings.Join(listed, ", "))

		notif, err := r.QueueP0(message, TriggerDeadlineUrgent, t.ID, map[string]interface{}{
			"hours_left":       hoursLeft,
			"incomplete_items": len(incomplete),
		})
		if err != nil {
			return nil, err
		}
		if notif != nil {
			queued = append(queued, notif)
		}
	}

	return queued, nil
}

// CheckBlockerUpdates matches an inbound message against active blocker
// watch patterns and routes a resolution or escalation alert.
func (r *Router) CheckBlockerUpdates(from, subject, body string) ([]*Notification, error) {
	blockers, err := r.tasks.ActiveBlockers("")
	if err != nil {
		return nil, err
	}

	var queued []*Notification
	for _, b := range blockers {
		if !matchesBlocker(b, from, subject, body) {
			continue
		}

		var message, trigger string
		if isResolution(subject, body) {
			message = fmt.Sprintf("UNBLOCKED: %s - %s의 메일", b.Description, from)
			trigger = TriggerBlockerResolved

			if err := r.tasks.ResolveBlocker(b.ID, "email_match"); err != nil {
				return nil, err
			}
		} else {
			message = fmt.Sprintf("BLOCKER UPDATE: %s - %s이(가) 업데이트를 보냄", b.Description, from)
			trigger = TriggerBlockerEscalation
		}

		notif, err := r.QueueP0(message, trigger, b.ID, map[string]interface{}{
			"from":    from,
			"subject": subject,
		})
		if err != nil {
			return nil, err
		}
		if notif != nil {
			queued = append(queued, notif)
		}
	}

	return queued, nil
}

// matchesBlocker checks watch_pattern/waiting_on against an inbound message
func matchesBlocker(b *task.Blocker, from, subject, body string) bool {
	pattern := b.WatchPattern.String
	waitingOn := b.WaitingOn.String

	if pattern == "" && waitingOn == "" {
		return false
	}

	if waitingOn != "" && strings.Contains(strings.ToLower(from), strings.ToLower(waitingOn)) {
		return true
	}

	if pattern != "" {
		lower := strings.ToLower(pattern)
		if strings.Contains(strings.ToLower(subject), lower) || strings.Contains(strings.ToLower(body), lower) {
			return true
		}
	}

	return false
}

var resolutionKeywords = []string{"attached", "here is", "completed", "finished", "done", "ready", "sent", "enclosed"}
var escalationKeywords = []string{"need more", "additional", "question", "clarify", "missing", "waiting"}

// isResolution scores resolution vs escalation keywords
func isResolution(subject, body string) bool {
	text := strings.ToLower(subject + " " + body)

	resolution := 0
	for _, kw := range resolutionKeywords {
		if strings.Contains(text, kw) {
			resolution++
		}
	}

	escalation := 0
	for _, kw := range escalationKeywords {
		if strings.Contains(text, kw) {
			escalation++
		}
	}

	return resolution > escalation
}

// NotifyTaskStatusChange queues a P1 update for a lifecycle transition
func (r *Router) NotifyTaskStatusChange(taskID, oldStatus, newStatus string) (*Notification, error) {
	t, err := r.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("태스크 '%s': %s -> %s", t.Title, oldStatus, newStatus)

	return r.QueueP1(message, TriggerTaskStatus, taskID, map[string]interface{}{
		"old_status": oldStatus,
		"new_status": newStatus,
	})
}

// NotifyWIPWarning queues a P1 warning when WIP nears or hits the limit
func (r *Router) NotifyWIPWarning(current, limit int) (*Notification, error) {
	if current < limit-1 {
		return nil, nil
	}

	var message string
	if current >= limit {
		message = fmt.Sprintf("WIP %d/%d - 한도 도달", current, limit)
	} else {
		message = fmt.Sprintf("WIP %d/%d - 남은 슬롯 1개", current, limit)
	}

	return r.QueueP1(message, TriggerWIPWarning, "", map[string]interface{}{
		"current": current,
		"limit":   limit,
	})
}

// NotifyNewBlocker queues a P1 alert for a newly created blocker
func (r *Router) NotifyNewBlocker(blockerID, description, waitingOn string) (*Notification, error) {
	message := "새 블로커: " + description
	if waitingOn != "" {
		message += " (대기: " + waitingOn + ")"
	}

	return r.QueueP1(message, TriggerNewBlocker, blockerID, map[string]interface{}{
		"description": description,
		"waiting_on":  waitingOn,
	})
}

// ========================================
// Scheduling instants
// ========================================

// NextBatchTime returns the earliest configured daily time strictly after now,
// rolling to tomorrow's earliest time when all have passed.
// 설정 순서에 의존하지 않는다.
func NextBatchTime(now time.Time, batchTimes []string) time.Time {
	times := batchTimes
	if len(times) == 0 {
		times = []string{"09:00"}
	}

	var next time.Time
	for _, ts := range times {
		hour, minute := parseClock(ts)
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}

	return next
}

// NextWeeklyTime returns the next weekly instant (요일은 월요일=0)
func NextWeeklyTime(now time.Time, weeklyDay int, weeklyTime string) time.Time {
	hour, minute := parseClock(weeklyTime)

	currentDow := (int(now.Weekday()) + 6) % 7
	daysAhead := (weeklyDay - currentDow + 7) % 7

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).
		AddDate(0, 0, daysAhead)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}

	return candidate
}

func parseClock(value string) (int, int) {
	parts := strings.Split(value, ":")
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
