package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/n0roo/toc-kit/internal/schedule"
	"github.com/spf13/cobra"
)

var (
	schedProject    string
	schedDesc       string
	schedFrequency  string
	schedCron       string
	schedDayOfWeek  string
	schedDayOfMonth string
	schedTime       string
	schedTitle      string
	schedEstimate   float64
	schedPriority   int
	schedStart      string
	schedEnd        string
	schedAll        bool
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"sched"},
	Short:   "반복 일정 관리",
	Long:    `반복 일정을 관리하고 기한이 된 태스크를 생성합니다.`,
}

var schedCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "반복 일정 생성",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedCreate,
}

var schedListCmd = &cobra.Command{
	Use:   "list",
	Short: "반복 일정 목록",
	RunE:  runSchedList,
}

var schedShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "반복 일정 상세",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedShow,
}

var schedPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "반복 일정 일시 중지",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedPause,
}

var schedResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "반복 일정 재개",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedResume,
}

var schedDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "반복 일정 삭제",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedDelete,
}

var schedGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "기한이 된 일정에서 태스크 생성",
	RunE:  runSchedGenerate,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(schedCreateCmd)
	scheduleCmd.AddCommand(schedListCmd)
	scheduleCmd.AddCommand(schedShowCmd)
	scheduleCmd.AddCommand(schedPauseCmd)
	scheduleCmd.AddCommand(schedResumeCmd)
	scheduleCmd.AddCommand(schedDeleteCmd)
	scheduleCmd.AddCommand(schedGenerateCmd)

	schedCreateCmd.Flags().StringVar(&schedProject, "project", "", "소속 프로젝트 ID")
	schedCreateCmd.Flags().StringVar(&schedDesc, "desc", "", "설명")
	schedCreateCmd.Flags().StringVar(&schedFrequency, "frequency", "", "주기 (daily|weekly|biweekly|monthly|quarterly|yearly|custom, 필수)")
	schedCreateCmd.Flags().StringVar(&schedCron, "cron", "", "cron 패턴 (custom 주기용, 분 시 일 월 요일)")
	schedCreateCmd.Flags().StringVar(&schedDayOfWeek, "day-of-week", "", "요일 (월요일=0, 쉼표 구분)")
	schedCreateCmd.Flags().StringVar(&schedDayOfMonth, "day-of-month", "", "일자 (쉼표 구분)")
	schedCreateCmd.Flags().StringVar(&schedTime, "time", "", "생성 시각 (HH:MM, 기본 09:00)")
	schedCreateCmd.Flags().StringVar(&schedTitle, "title", "", "태스크 제목 템플릿 (기본: 일정 이름)")
	schedCreateCmd.Flags().Float64Var(&schedEstimate, "estimate", 0, "태스크 예상 시간")
	schedCreateCmd.Flags().IntVar(&schedPriority, "priority", 0, "일정 우선순위 (1~5, 기본 3)")
	schedCreateCmd.Flags().StringVar(&schedStart, "start", "", "시작일 (YYYY-MM-DD, 기본 오늘)")
	schedCreateCmd.Flags().StringVar(&schedEnd, "end", "", "종료일 (YYYY-MM-DD)")
	schedCreateCmd.MarkFlagRequired("frequency")

	schedListCmd.Flags().BoolVar(&schedAll, "all", false, "중지된 일정 포함")
}

func runSchedCreate(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	opts := schedule.CreateOptions{
		ProjectID:         schedProject,
		Name:              args[0],
		Description:       schedDesc,
		Frequency:         schedFrequency,
		CronPattern:       schedCron,
		DayOfWeek:         schedDayOfWeek,
		DayOfMonth:        schedDayOfMonth,
		TimeOfDay:         schedTime,
		TaskTitleTemplate: schedTitle,
		EstimatedHours:    schedEstimate,
		Priority:          schedPriority,
	}
	if schedStart != "" {
		start, err := time.ParseInLocation("2006-01-02", schedStart, time.Local)
		if err != nil {
			return fmt.Errorf("시작일 형식이 잘못되었습니다: %s", schedStart)
		}
		opts.StartDate = start
	}
	if schedEnd != "" {
		end, err := time.ParseInLocation("2006-01-02", schedEnd, time.Local)
		if err != nil {
			return fmt.Errorf("종료일 형식이 잘못되었습니다: %s", schedEnd)
		}
		opts.EndDate = &end
	}

	sc, err := schedule.NewService(database).Create(opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(sc)
	}

	fmt.Printf("🔁 반복 일정 생성: %s (%s)\n", sc.Name, sc.Frequency)
	fmt.Printf("  ID: %s\n", sc.ID)
	if sc.NextDueDate.Valid {
		fmt.Printf("  다음 생성: %s\n", sc.NextDueDate.Time.Format("2006-01-02 15:04"))
	}

	return nil
}

func runSchedList(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	schedules, err := schedule.NewService(database).List(!schedAll)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"schedules": schedules,
		})
	}

	if len(schedules) == 0 {
		fmt.Println("반복 일정이 없습니다.")
		return nil
	}

	fmt.Printf("%-36s %-10s %-17s %s\n", "ID", "FREQ", "NEXT", "NAME")
	fmt.Println(strings.Repeat("-", 80))
	for _, sc := range schedules {
		next := "-"
		if sc.NextDueDate.Valid {
			next = sc.NextDueDate.Time.Format("2006-01-02 15:04")
		}
		active := ""
		if !sc.IsActive {
			active = " (중지)"
		}
		fmt.Printf("%-36s %-10s %-17s %s%s\n", sc.ID, sc.Frequency, next, sc.Name, active)
	}

	return nil
}

func runSchedShow(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	sc, err := schedule.NewService(database).Get(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(sc)
	}

	fmt.Printf("반복 일정: %s\n", sc.Name)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("주기: %s\n", sc.Frequency)
	if sc.CronPattern.Valid && sc.CronPattern.String != "" {
		fmt.Printf("cron: %s\n", sc.CronPattern.String)
	}
	fmt.Printf("활성: %v\n", sc.IsActive)
	fmt.Printf("우선순위: %d\n", sc.Priority)
	if sc.NextDueDate.Valid {
		fmt.Printf("다음 생성: %s\n", sc.NextDueDate.Time.Format("2006-01-02 15:04"))
	}
	if sc.LastGeneratedDate.Valid {
		fmt.Printf("마지막 생성: %s\n", sc.LastGeneratedDate.Time.Format("2006-01-02 15:04"))
	}

	return nil
}

func runSchedPause(cmd *cobra.Command, args []string) error {
	return setSchedActive(args[0], false)
}

func runSchedResume(cmd *cobra.Command, args []string) error {
	return setSchedActive(args[0], true)
}

func setSchedActive(id string, active bool) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := schedule.NewService(database).SetActive(id, active); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"id":     id,
			"active": active,
		})
	}

	if active {
		fmt.Printf("▶️  일정 재개: %s\n", id)
	} else {
		fmt.Printf("⏸  일정 중지: %s\n", id)
	}

	return nil
}

func runSchedDelete(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := schedule.NewService(database).Delete(args[0]); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status": "deleted",
			"id":     args[0],
		})
	}

	fmt.Printf("🗑️  일정 삭제: %s\n", args[0])
	return nil
}

func runSchedGenerate(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := schedule.NewService(database).GenerateDueTasks()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Printf("생성된 태스크: %d개 (일정 %d개 점검)\n", result.TasksCreated, result.SchedulesChecked)
	for _, g := range result.Tasks {
		fmt.Printf("  - %s (%s)\n", g.Title, g.ScheduleName)
	}
	if len(result.Errors) > 0 {
		fmt.Printf("실패한 일정: %d개\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %s: %v\n", e.ScheduleName, e.Err)
		}
	}

	return nil
}
