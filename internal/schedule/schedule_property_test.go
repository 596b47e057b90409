package schedule

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// 어떤 주기 설정이든 nextOccurrence는 기준 시각보다 strictly after여야 한다
func TestPropertyNextOccurrenceStrictlyAfter(t *testing.T) {
	frequencies := []string{Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly}

	rapid.Check(t, func(rt *rapid.T) {
		freq := rapid.SampledFrom(frequencies).Draw(rt, "frequency")
		hour := rapid.IntRange(0, 23).Draw(rt, "hour")
		minute := rapid.IntRange(0, 59).Draw(rt, "minute")
		dayOfMonth := rapid.IntRange(1, 31).Draw(rt, "dayOfMonth")
		dayOfWeek := rapid.IntRange(0, 6).Draw(rt, "dayOfWeek")
		monthOfYear := rapid.IntRange(1, 12).Draw(rt, "monthOfYear")

		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local).
			AddDate(0, 0, rapid.IntRange(0, 365).Draw(rt, "startOffset"))
		after := start.
			AddDate(0, 0, rapid.IntRange(0, 400).Draw(rt, "afterDays")).
			Add(time.Duration(rapid.IntRange(0, 1439).Draw(rt, "afterMinutes")) * time.Minute)

		s := &Schedule{
			Frequency:   freq,
			TimeOfDay:   fmt.Sprintf("%02d:%02d", hour, minute),
			DayOfWeek:   sql.NullString{String: fmt.Sprintf("%d", dayOfWeek), Valid: true},
			DayOfMonth:  sql.NullString{String: fmt.Sprintf("%d", dayOfMonth), Valid: true},
			MonthOfYear: sql.NullString{String: fmt.Sprintf("%d", monthOfYear), Valid: true},
			StartDate:   start,
		}

		next, err := NextOccurrence(s, after)
		if err != nil {
			rt.Fatalf("계산 실패: %v", err)
		}

		if !next.After(after) {
			rt.Errorf("next %v가 after %v 이후가 아님 (freq=%s)", next, after, freq)
		}
	})
}

// monthly의 목표 일자는 항상 해당 월의 실제 길이로 보정되어야 한다
func TestPropertyMonthlyDayAlwaysValid(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dayOfMonth := rapid.IntRange(28, 31).Draw(rt, "dayOfMonth")
		afterDays := rapid.IntRange(0, 730).Draw(rt, "afterDays")

		after := time.Date(2026, 1, 1, 12, 0, 0, 0, time.Local).AddDate(0, 0, afterDays)

		s := &Schedule{
			Frequency:  Monthly,
			TimeOfDay:  "09:00",
			DayOfMonth: sql.NullString{String: fmt.Sprintf("%d", dayOfMonth), Valid: true},
		}

		next, err := NextOccurrence(s, after)
		if err != nil {
			rt.Fatalf("계산 실패: %v", err)
		}

		lastDay := time.Date(next.Year(), next.Month()+1, 0, 0, 0, 0, 0, time.Local).Day()
		if next.Day() > lastDay {
			rt.Errorf("보정 실패: %v (월 길이 %d)", next, lastDay)
		}
		if dayOfMonth <= lastDay && next.Day() != dayOfMonth {
			rt.Errorf("목표 일자 불일치: %v, want day %d", next, dayOfMonth)
		}
	})
}

// biweekly의 패리티는 시작일에 고정된다: 결과는 항상 시작일로부터 14일의 배수
func TestPropertyBiweeklyParityAnchored(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local).
			AddDate(0, 0, rapid.IntRange(0, 100).Draw(rt, "startOffset"))
		after := start.
			AddDate(0, 0, rapid.IntRange(0, 200).Draw(rt, "afterDays")).
			Add(time.Duration(rapid.IntRange(0, 1439).Draw(rt, "afterMinutes")) * time.Minute)

		s := &Schedule{Frequency: Biweekly, TimeOfDay: "09:00", StartDate: start}

		next, err := NextOccurrence(s, after)
		if err != nil {
			rt.Fatalf("계산 실패: %v", err)
		}

		startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.Local)
		nextDay := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.Local)
		days := int(nextDay.Sub(startDay).Hours() / 24)

		if days%14 != 0 {
			rt.Errorf("시작일 기준 %d일: 14의 배수가 아님 (start=%v next=%v)", days, start, next)
		}
	})
}

// 유효한 크론 패턴의 Next 결과는 패턴과 일치하고 기준 시각 이후여야 한다
func TestPropertyCronNextMatches(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		minute := rapid.IntRange(0, 59).Draw(rt, "minute")
		hour := rapid.IntRange(0, 23).Draw(rt, "hour")
		dow := rapid.IntRange(0, 6).Draw(rt, "dow")

		pattern := fmt.Sprintf("%d %d * * %d", minute, hour, dow)
		p, err := ParseCron(pattern)
		if err != nil {
			rt.Fatalf("파싱 실패: %v", err)
		}

		after := time.Date(2026, 8, 1, 0, 0, 0, 0, time.Local).
			Add(time.Duration(rapid.IntRange(0, 60*24*30).Draw(rt, "afterMinutes")) * time.Minute)

		next, err := p.Next(after)
		if err != nil {
			rt.Fatalf("계산 실패: %v", err)
		}

		if !next.After(after) {
			rt.Errorf("next %v가 after %v 이후가 아님", next, after)
		}
		if next.Minute() != minute || next.Hour() != hour {
			rt.Errorf("시각 불일치: %v, want %02d:%02d", next, hour, minute)
		}
		if got := (int(next.Weekday()) + 6) % 7; got != dow {
			rt.Errorf("요일 불일치: %d, want %d", got, dow)
		}
	})
}
