package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/n0roo/toc-kit/internal/buffer"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/spf13/cobra"
)

var (
	projDescription string
	projEstimate    float64
	projBuffer      float64
	projWIPLimit    int
	projPriority    int
	projDue         string
	projStatus      string
	projProgress    float64
	projConsumed    float64
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"proj"},
	Short:   "프로젝트 관리",
	Long:    `프로젝트와 프로젝트 버퍼를 관리합니다.`,
}

var projCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "프로젝트 생성",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjCreate,
}

var projListCmd = &cobra.Command{
	Use:   "list",
	Short: "프로젝트 목록",
	RunE:  runProjList,
}

var projShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "프로젝트 상세",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjShow,
}

var projUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "프로젝트 수정",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjUpdate,
}

var projBufferCmd = &cobra.Command{
	Use:   "buffer <id>",
	Short: "버퍼 상태와 피버 차트",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjBuffer,
}

var projDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "프로젝트 삭제",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjDelete,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projCreateCmd)
	projectCmd.AddCommand(projListCmd)
	projectCmd.AddCommand(projShowCmd)
	projectCmd.AddCommand(projUpdateCmd)
	projectCmd.AddCommand(projBufferCmd)
	projectCmd.AddCommand(projDeleteCmd)

	projCreateCmd.Flags().StringVar(&projDescription, "desc", "", "설명")
	projCreateCmd.Flags().Float64Var(&projEstimate, "estimate", 0, "예상 일수")
	projCreateCmd.Flags().Float64Var(&projBuffer, "buffer", 0, "버퍼 일수 (기본: 예상의 50%)")
	projCreateCmd.Flags().IntVar(&projWIPLimit, "wip-limit", 0, "WIP 한도 (1~5, 기본 3)")
	projCreateCmd.Flags().IntVar(&projPriority, "priority", 0, "우선순위 (기본 50)")
	projCreateCmd.Flags().StringVar(&projDue, "due", "", "마감일 (YYYY-MM-DD)")

	projListCmd.Flags().StringVar(&projStatus, "status", "", "상태 필터 (planning|active|on_hold|completed|cancelled)")

	projUpdateCmd.Flags().StringVar(&projStatus, "status", "", "상태 변경")
	projUpdateCmd.Flags().Float64Var(&projProgress, "progress", -1, "진행률 (%)")
	projUpdateCmd.Flags().Float64Var(&projConsumed, "consumed", -1, "버퍼 소진률 (%)")
	projUpdateCmd.Flags().IntVar(&projWIPLimit, "wip-limit", 0, "WIP 한도 (1~5)")
	projUpdateCmd.Flags().IntVar(&projPriority, "priority", 0, "우선순위")
}

func openDB() (*db.DB, func(), error) {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return nil, nil, err
	}
	return database, func() { database.Close() }, nil
}

func runProjCreate(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	opts := project.CreateOptions{
		Name:          args[0],
		Description:   projDescription,
		EstimatedDays: projEstimate,
		BufferDays:    projBuffer,
		WIPLimit:      projWIPLimit,
		Priority:      projPriority,
	}
	if projDue != "" {
		due, err := time.ParseInLocation("2006-01-02", projDue, time.Local)
		if err != nil {
			return fmt.Errorf("마감일 형식이 잘못되었습니다: %s", projDue)
		}
		opts.DueDate = &due
	}

	p, err := project.NewService(database).Create(opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(p)
	}

	fmt.Printf("✅ 프로젝트 생성: %s\n", p.Name)
	fmt.Printf("  ID: %s\n", p.ID)
	if p.EstimatedDays.Valid {
		fmt.Printf("  예상 %.1f일 + 버퍼 %.1f일\n", p.EstimatedDays.Float64, p.BufferDays)
	}
	fmt.Printf("  WIP 한도: %d\n", p.WIPLimit)

	return nil
}

func runProjList(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	projects, err := project.NewService(database).List(projStatus)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"projects": projects,
		})
	}

	if len(projects) == 0 {
		fmt.Println("프로젝트가 없습니다.")
		return nil
	}

	fmt.Printf("%-36s %-10s %-6s %-8s %s\n", "ID", "STATUS", "PROG", "BUFFER", "NAME")
	fmt.Println(strings.Repeat("-", 80))
	for _, p := range projects {
		zone := buffer.ZoneFor(p.BufferConsumedPercent)
		zoneIcon := map[string]string{
			buffer.ZoneGreen:  "🟢",
			buffer.ZoneYellow: "🟡",
			buffer.ZoneRed:    "🔴",
		}
		fmt.Printf("%-36s %-10s %5.0f%% %s %4.0f%% %s\n",
			p.ID, p.Status, p.ProgressPercent, zoneIcon[zone], p.BufferConsumedPercent, p.Name)
	}

	return nil
}

func runProjShow(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := project.NewService(database).Get(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(p)
	}

	fmt.Printf("프로젝트: %s\n", p.Name)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("상태: %s\n", p.Status)
	fmt.Printf("진행률: %.1f%%\n", p.ProgressPercent)
	fmt.Printf("버퍼 소진: %.1f%% (%s)\n", p.BufferConsumedPercent, buffer.ZoneFor(p.BufferConsumedPercent))
	if p.EstimatedDays.Valid {
		fmt.Printf("예상: %.1f일 + 버퍼 %.1f일\n", p.EstimatedDays.Float64, p.BufferDays)
	}
	fmt.Printf("WIP 한도: %d\n", p.WIPLimit)
	if p.DueDate.Valid {
		fmt.Printf("마감: %s\n", p.DueDate.Time.Format("2006-01-02"))
	}

	return nil
}

func runProjUpdate(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	patch := project.Patch{}
	if projStatus != "" {
		patch.Status = &projStatus
	}
	if projProgress >= 0 {
		patch.ProgressPercent = &projProgress
	}
	if projConsumed >= 0 {
		patch.BufferConsumedPercent = &projConsumed
	}
	if projWIPLimit != 0 {
		patch.WIPLimit = &projWIPLimit
	}
	if projPriority != 0 {
		patch.Priority = &projPriority
	}

	svc := project.NewService(database)
	if err := svc.Update(args[0], patch); err != nil {
		return err
	}

	// 버퍼 변동은 이력에도 남긴다
	if projProgress >= 0 || projConsumed >= 0 {
		var progress, consumed *float64
		if projProgress >= 0 {
			progress = &projProgress
		}
		if projConsumed >= 0 {
			consumed = &projConsumed
		}
		if err := buffer.NewTracker(database).Update(args[0], progress, consumed); err != nil {
			return err
		}
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status": "updated",
			"id":     args[0],
		})
	}

	fmt.Printf("✅ 프로젝트 수정: %s\n", args[0])
	return nil
}

func runProjBuffer(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	tracker := buffer.NewTracker(database)

	status, err := tracker.Status(args[0])
	if err != nil {
		return err
	}
	history, err := tracker.History(args[0], 30)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status":  status,
			"history": history,
		})
	}

	zoneIcon := map[string]string{
		buffer.ZoneGreen:  "🟢",
		buffer.ZoneYellow: "🟡",
		buffer.ZoneRed:    "🔴",
	}

	fmt.Printf("버퍼 상태 %s\n", zoneIcon[status.Zone])
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("진행률: %.1f%%\n", status.ProgressPercent)
	fmt.Printf("버퍼 소진: %.1f%% (%s)\n", status.ConsumedPercent, status.Zone)
	fmt.Printf("침투율: %.2f\n", status.PenetrationRate)

	if len(history) > 0 {
		fmt.Printf("\n피버 차트 (최근 %d개 샘플)\n", len(history))
		for _, s := range history {
			bar := strings.Repeat("█", int(s.ConsumedPercent/5))
			fmt.Printf("  %s 진행 %5.1f%% 소진 %5.1f%% %s\n",
				s.RecordedAt.Format("01-02"), s.ProgressPercent, s.ConsumedPercent, bar)
		}
	}

	return nil
}

func runProjDelete(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := project.NewService(database).Delete(args[0]); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status": "deleted",
			"id":     args[0],
		})
	}

	fmt.Printf("🗑️  프로젝트 삭제: %s\n", args[0])
	return nil
}
