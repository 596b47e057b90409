package notify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"
)

// auditEntry is one line of the append-only notification log
type auditEntry struct {
	Timestamp   string `json:"timestamp"`
	Priority    string `json:"priority"`
	TriggerType string `json:"trigger_type"`
	Message     string `json:"message"`
	Status      string `json:"status"`
}

// logNotification appends an audit record. 감사 로그 실패가 발송을 막지 않는다.
func (r *Router) logNotification(priority, message, triggerType, status string) {
	if r.logPath == "" {
		return
	}

	if len(message) > 200 {
		// 멀티바이트 문자가 잘리지 않도록 룬 경계까지 물러난다
		cut := 200
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}

	entry := auditEntry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Priority:    priority,
		TriggerType: triggerType,
		Message:     message,
		Status:      status,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(r.logPath), 0755); err != nil {
		return
	}

	f, err := os.OpenFile(r.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	f.Write(append(data, '\n'))
}
