package notify

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Channel delivers a notification message to one destination.
// 실제 발송기(텔레그램, SMS 등)는 이 경계 바깥에서 구현된다.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// sendTimeout bounds a single channel delivery
const sendTimeout = 10 * time.Second

// LogChannel writes messages to a local file. 드라이런과 테스트용 기본 채널.
type LogChannel struct {
	path string
}

// NewLogChannel creates a file-backed channel
func NewLogChannel(path string) *LogChannel {
	return &LogChannel{path: path}
}

// Name returns the channel name
func (c *LogChannel) Name() string {
	return "log"
}

// Send appends the message to the channel file
func (c *LogChannel) Send(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("채널 파일 열기 실패: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "[%s] %s\n", time.Now().Format(time.RFC3339), message); err != nil {
		return fmt.Errorf("채널 기록 실패: %w", err)
	}

	return nil
}
