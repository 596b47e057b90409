package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/n0roo/toc-kit/internal/buffer"
	"github.com/n0roo/toc-kit/internal/task"
	"github.com/n0roo/toc-kit/internal/toc"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "WIP/버퍼/블로커 현황판",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	engine := toc.NewEngine(database)
	tracker := buffer.NewTracker(database)
	tasks := task.NewService(database)

	wip, err := engine.GetWIPStatus()
	if err != nil {
		return err
	}
	redZone, err := tracker.RedZoneProjects()
	if err != nil {
		return err
	}
	blockers, err := tasks.ActiveBlockers("")
	if err != nil {
		return err
	}
	dueSoon, err := tasks.DueWithin(24 * time.Hour)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"wip":               wip,
			"red_zone_projects": redZone,
			"blockers":          blockers,
			"due_soon":          dueSoon,
		})
	}

	fmt.Println("═══ TOC 현황판 ═══")
	fmt.Println()

	wipIcon := "🟢"
	if !wip.WithinLimit {
		wipIcon = "🔴"
	} else if wip.Current == wip.Limit-1 {
		wipIcon = "🟡"
	}
	fmt.Printf("%s WIP: %d/%d (오늘 컨텍스트 스위치 %d회)\n",
		wipIcon, wip.Current, wip.Limit, wip.ContextSwitchesToday)
	for _, t := range wip.ActiveTasks {
		fmt.Printf("  ▶️  %s\n", t.Title)
	}

	if len(redZone) > 0 {
		fmt.Println()
		fmt.Printf("🔴 레드 존 프로젝트: %d개\n", len(redZone))
		for _, p := range redZone {
			fmt.Printf("  - %s (소진 %.0f%%, 진행 %.0f%%)\n",
				p.Name, p.BufferConsumedPercent, p.ProgressPercent)
		}
	}

	if len(blockers) > 0 {
		fmt.Println()
		fmt.Printf("⛔ 미해소 블로커: %d개\n", len(blockers))
		for _, b := range blockers {
			line := "  - " + b.Description
			if b.WaitingOn.Valid && b.WaitingOn.String != "" {
				line += " (대기: " + b.WaitingOn.String + ")"
			}
			fmt.Println(line)
		}
	}

	if len(dueSoon) > 0 {
		fmt.Println()
		fmt.Printf("⏰ 24시간 내 마감: %d개\n", len(dueSoon))
		for _, t := range dueSoon {
			fmt.Printf("  - %s (%s)\n", t.Title, t.DueDate.Time.Format("01-02 15:04"))
		}
	}

	if len(redZone) == 0 && len(blockers) == 0 && len(dueSoon) == 0 {
		fmt.Println()
		fmt.Println(strings.Repeat("-", 30))
		fmt.Println("모든 제약이 안정 상태입니다.")
	}

	return nil
}
