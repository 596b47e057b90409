package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronPattern is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week (월요일=0)
type CronPattern struct {
	Minutes     map[int]bool
	Hours       map[int]bool
	DaysOfMonth map[int]bool
	Months      map[int]bool
	DaysOfWeek  map[int]bool
}

// ParseCron parses a pattern like "0 9 15 * *" (매월 15일 09:00).
// 지원 문법: *, */n, 콤마 목록, 단일 값.
func ParseCron(pattern string) (*CronPattern, error) {
	parts := strings.Fields(pattern)
	if len(parts) != 5 {
		return nil, fmt.Errorf("잘못된 크론 패턴 '%s': 5개 필드가 필요합니다: %w", pattern, ErrInvalidSchedule)
	}

	minutes, err := parseCronField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("분 필드 '%s': %w", parts[0], err)
	}
	hours, err := parseCronField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("시 필드 '%s': %w", parts[1], err)
	}
	daysOfMonth, err := parseCronField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("일 필드 '%s': %w", parts[2], err)
	}
	months, err := parseCronField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("월 필드 '%s': %w", parts[3], err)
	}
	daysOfWeek, err := parseCronField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("요일 필드 '%s': %w", parts[4], err)
	}

	return &CronPattern{
		Minutes:     minutes,
		Hours:       hours,
		DaysOfMonth: daysOfMonth,
		Months:      months,
		DaysOfWeek:  daysOfWeek,
	}, nil
}

func parseCronField(field string, min, max int) (map[int]bool, error) {
	values := map[int]bool{}

	switch {
	case field == "*":
		for v := min; v <= max; v++ {
			values[v] = true
		}

	case strings.HasPrefix(field, "*/"):
		step, err := strconv.Atoi(field[2:])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("잘못된 스텝: %w", ErrInvalidSchedule)
		}
		for v := min; v <= max; v += step {
			values[v] = true
		}

	case strings.Contains(field, ","):
		for _, part := range strings.Split(field, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || v < min || v > max {
				return nil, fmt.Errorf("범위 밖 값 '%s': %w", part, ErrInvalidSchedule)
			}
			values[v] = true
		}

	default:
		v, err := strconv.Atoi(field)
		if err != nil || v < min || v > max {
			return nil, fmt.Errorf("범위 밖 값 '%s': %w", field, ErrInvalidSchedule)
		}
		values[v] = true
	}

	return values, nil
}

// matches reports whether a minute-resolution instant satisfies the pattern
func (c *CronPattern) matches(t time.Time) bool {
	// time.Weekday는 일요일=0, 크론 필드는 월요일=0
	dow := (int(t.Weekday()) + 6) % 7

	return c.Minutes[t.Minute()] &&
		c.Hours[t.Hour()] &&
		c.DaysOfMonth[t.Day()] &&
		c.Months[int(t.Month())] &&
		c.DaysOfWeek[dow]
}

// Next returns the first matching minute strictly after `after`.
// 1년 안에 일치하는 시각이 없으면 설정 오류로 본다.
func (c *CronPattern) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)

	limit := 366 * 24 * 60
	for i := 0; i < limit; i++ {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("1년 내 다음 발생 시각 없음: %w", ErrInvalidSchedule)
}
