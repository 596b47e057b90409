package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/n0roo/toc-kit/internal/graph"
	"github.com/n0roo/toc-kit/internal/task"
	"github.com/n0roo/toc-kit/internal/toc"
	"github.com/spf13/cobra"
)

var (
	taskProject     string
	taskDescription string
	taskEstimate    float64
	taskPriority    int
	taskDue         string
	taskKit         []string
	taskStatus      string
	taskForce       bool
	taskHours       float64
	taskReason      string
	taskWaitingOn   string
	taskWatch       string
	taskBlockerType string
	taskDepType     string
	taskLimit       int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "태스크 관리",
	Long:  `태스크 생애주기, 풀킷 체크리스트, 의존성, 블로커를 관리합니다.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "태스크 생성",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "태스크 목록",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "태스크 상세 (풀킷/의존성/블로커 포함)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "태스크 착수 (WIP/풀킷/의존성 게이트)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "태스크 완료 (블로커 해소, 후속 태스크 해제)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskComplete,
}

var taskBlockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "태스크 차단",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskBlock,
}

var taskSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "제목/설명으로 태스크 검색",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSearch,
}

var taskNextCmd = &cobra.Command{
	Use:   "next",
	Short: "다음 착수 후보 제안",
	RunE:  runTaskNext,
}

var taskKitCmd = &cobra.Command{
	Use:   "kit",
	Short: "풀킷 체크리스트 관리",
}

var taskKitAddCmd = &cobra.Command{
	Use:   "add <task-id> <type> <description>",
	Short: "풀킷 항목 추가 (information|resource|dependency|approval|tool|other)",
	Args:  cobra.ExactArgs(3),
	RunE:  runTaskKitAdd,
}

var taskKitSatisfyCmd = &cobra.Command{
	Use:   "satisfy <item-id>",
	Short: "풀킷 항목 충족 처리",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskKitSatisfy,
}

var taskDepCmd = &cobra.Command{
	Use:   "dep",
	Short: "의존성 관리",
}

var taskDepAddCmd = &cobra.Command{
	Use:   "add <task-id> <depends-on-id>",
	Short: "의존성 추가 (순환은 거부)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskDepAdd,
}

var taskDepRemoveCmd = &cobra.Command{
	Use:   "remove <task-id> <depends-on-id>",
	Short: "의존성 제거",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskDepRemove,
}

var taskChainCmd = &cobra.Command{
	Use:   "chain <project-id>",
	Short: "크리티컬 체인 계산",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskChain,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskBlockCmd)
	taskCmd.AddCommand(taskSearchCmd)
	taskCmd.AddCommand(taskNextCmd)
	taskCmd.AddCommand(taskKitCmd)
	taskKitCmd.AddCommand(taskKitAddCmd)
	taskKitCmd.AddCommand(taskKitSatisfyCmd)
	taskCmd.AddCommand(taskDepCmd)
	taskDepCmd.AddCommand(taskDepAddCmd)
	taskDepCmd.AddCommand(taskDepRemoveCmd)
	taskCmd.AddCommand(taskChainCmd)

	taskCreateCmd.Flags().StringVar(&taskProject, "project", "", "소속 프로젝트 ID")
	taskCreateCmd.Flags().StringVar(&taskDescription, "desc", "", "설명")
	taskCreateCmd.Flags().Float64Var(&taskEstimate, "estimate", 0, "예상 시간")
	taskCreateCmd.Flags().IntVar(&taskPriority, "priority", 0, "우선순위 (기본 50)")
	taskCreateCmd.Flags().StringVar(&taskDue, "due", "", "마감일 (YYYY-MM-DD)")
	taskCreateCmd.Flags().StringSliceVar(&taskKit, "kit", nil, "풀킷 요구사항 (type:설명, 반복 가능)")

	taskListCmd.Flags().StringVar(&taskProject, "project", "", "프로젝트 필터")
	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "상태 필터")

	taskStartCmd.Flags().BoolVar(&taskForce, "force", false, "게이트 무시하고 강제 착수")

	taskCompleteCmd.Flags().Float64Var(&taskHours, "hours", 0, "실제 소요 시간")

	taskBlockCmd.Flags().StringVar(&taskReason, "reason", "", "차단 사유 (필수)")
	taskBlockCmd.Flags().StringVar(&taskWaitingOn, "waiting-on", "", "대기 대상 (메일 주소 등)")
	taskBlockCmd.Flags().StringVar(&taskWatch, "watch", "", "감시 패턴 (제목/본문 매칭)")
	taskBlockCmd.Flags().StringVar(&taskBlockerType, "type", "other", "블로커 유형 (email|document|approval|deadline|resource|external|other)")
	taskBlockCmd.MarkFlagRequired("reason")

	taskDepAddCmd.Flags().StringVar(&taskDepType, "type", graph.FinishToStart, "의존성 유형 (finish_to_start|start_to_start|finish_to_finish)")

	taskSearchCmd.Flags().IntVar(&taskLimit, "limit", 20, "결과 수 제한")
	taskNextCmd.Flags().StringVar(&taskProject, "project", "", "프로젝트 필터")
	taskNextCmd.Flags().IntVar(&taskLimit, "limit", 5, "후보 수")
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	opts := task.CreateOptions{
		ProjectID:      taskProject,
		Title:          args[0],
		Description:    taskDescription,
		EstimatedHours: taskEstimate,
		Priority:       taskPriority,
	}
	if taskDue != "" {
		due, err := time.ParseInLocation("2006-01-02", taskDue, time.Local)
		if err != nil {
			return fmt.Errorf("마감일 형식이 잘못되었습니다: %s", taskDue)
		}
		opts.DueDate = &due
	}
	for _, spec := range taskKit {
		kitType, desc, found := strings.Cut(spec, ":")
		if !found {
			return fmt.Errorf("풀킷 형식은 type:설명 입니다: %s", spec)
		}
		opts.KitRequirements = append(opts.KitRequirements, task.KitRequirement{
			Type:        kitType,
			Description: desc,
		})
	}

	t, err := task.NewService(database).Create(opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(t)
	}

	fmt.Printf("✅ 태스크 생성: %s\n", t.Title)
	fmt.Printf("  ID: %s\n", t.ID)
	fmt.Printf("  상태: %s\n", t.Status)
	if len(opts.KitRequirements) > 0 {
		fmt.Printf("  풀킷 항목: %d개\n", len(opts.KitRequirements))
	}

	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	tasks, err := task.NewService(database).List(taskProject, taskStatus)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"tasks": tasks,
		})
	}

	if len(tasks) == 0 {
		fmt.Println("태스크가 없습니다.")
		return nil
	}

	statusIcon := map[string]string{
		task.StatusPending:       "⚪",
		task.StatusWaitingForKit: "📦",
		task.StatusReady:         "🟢",
		task.StatusInProgress:    "▶️",
		task.StatusBlocked:       "🔴",
		task.StatusCompleted:     "✅",
		task.StatusCancelled:     "⚫",
	}

	fmt.Printf("%-36s %-16s %-5s %s\n", "ID", "STATUS", "PRI", "TITLE")
	fmt.Println(strings.Repeat("-", 80))
	for _, t := range tasks {
		chain := ""
		if t.IsCriticalChain {
			chain = " ⛓"
		}
		fmt.Printf("%-36s %s %-13s %-5d %s%s\n",
			t.ID, statusIcon[t.Status], t.Status, t.Priority, t.Title, chain)
	}

	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	tasks := task.NewService(database)
	engine := toc.NewEngine(database)
	g := graph.NewService(database)

	t, err := tasks.Get(args[0])
	if err != nil {
		return err
	}
	items, err := tasks.KitItems(t.ID)
	if err != nil {
		return err
	}
	deps, err := g.Dependencies(t.ID)
	if err != nil {
		return err
	}
	blockers, err := tasks.ActiveBlockers(t.ID)
	if err != nil {
		return err
	}
	canStart, reasons, err := engine.CanStart(t.ID)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"task":      t,
			"kit_items": items,
			"deps":      deps,
			"blockers":  blockers,
			"can_start": canStart,
			"reasons":   reasons,
		})
	}

	fmt.Printf("태스크: %s\n", t.Title)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("상태: %s\n", t.Status)
	fmt.Printf("우선순위: %d\n", t.Priority)
	if t.IsCriticalChain {
		fmt.Printf("크리티컬 체인: #%d\n", t.CriticalChainSequence.Int64)
	}
	if t.DueDate.Valid {
		fmt.Printf("마감: %s\n", t.DueDate.Time.Format("2006-01-02"))
	}

	if canStart {
		fmt.Println("착수 가능: ✅")
	} else if !task.IsTerminal(t.Status) && t.Status != task.StatusInProgress {
		fmt.Println("착수 가능: ❌")
		for _, reason := range reasons {
			fmt.Printf("  - %s\n", reason)
		}
	}

	if len(items) > 0 {
		fmt.Println("\n[풀킷]")
		for _, item := range items {
			mark := "☐"
			if item.IsSatisfied {
				mark = "☑"
			}
			fmt.Printf("  %s [%s] %s (%s)\n", mark, item.RequirementType, item.Description, item.ID)
		}
	}

	if len(deps) > 0 {
		fmt.Println("\n[의존성]")
		for _, d := range deps {
			fmt.Printf("  - %s (%s)\n", d.DependsOnTaskID, d.DependencyType)
		}
	}

	if len(blockers) > 0 {
		fmt.Println("\n[블로커]")
		for _, b := range blockers {
			line := "  🔴 " + b.Description
			if b.WaitingOn.Valid && b.WaitingOn.String != "" {
				line += " (대기: " + b.WaitingOn.String + ")"
			}
			fmt.Println(line)
		}
	}

	return nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	engine := toc.NewEngine(database)

	t, err := engine.Start(args[0], taskForce)
	if err != nil {
		if errors.Is(err, toc.ErrWIPLimitExceeded) || errors.Is(err, toc.ErrFullKitIncomplete) {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			fmt.Fprintln(os.Stderr, "   --force로 강제 착수할 수 있습니다.")
		}
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(t)
	}

	fmt.Printf("▶️  착수: %s\n", t.Title)
	if taskForce {
		fmt.Println("  (게이트 무시, 강제 착수)")
	}

	return nil
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	unblocked, err := toc.NewEngine(database).Complete(args[0], taskHours)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status":    "completed",
			"id":        args[0],
			"unblocked": unblocked,
		})
	}

	fmt.Printf("✅ 완료: %s\n", args[0])
	if len(unblocked) > 0 {
		fmt.Printf("  해제된 후속 태스크: %d개\n", len(unblocked))
	}

	return nil
}

func runTaskBlock(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	b, err := toc.NewEngine(database).Block(args[0], taskReason, taskWaitingOn)
	if err != nil {
		return err
	}

	// 감시 패턴/유형은 블로커 레코드에 직접 반영
	if taskWatch != "" || taskBlockerType != "other" {
		if _, err := database.Exec(`UPDATE blockers SET watch_pattern = ?, blocker_type = ? WHERE id = ?`,
			taskWatch, taskBlockerType, b.ID); err != nil {
			return fmt.Errorf("블로커 갱신 실패: %w", err)
		}
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(b)
	}

	fmt.Printf("🔴 차단: %s\n", args[0])
	fmt.Printf("  사유: %s\n", taskReason)
	if taskWaitingOn != "" {
		fmt.Printf("  대기: %s\n", taskWaitingOn)
	}

	return nil
}

func runTaskSearch(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	tasks, err := task.NewService(database).Search(args[0], taskLimit)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"tasks": tasks,
		})
	}

	if len(tasks) == 0 {
		fmt.Println("검색 결과가 없습니다.")
		return nil
	}

	for _, t := range tasks {
		fmt.Printf("%-36s %-14s %s\n", t.ID, t.Status, t.Title)
	}

	return nil
}

func runTaskNext(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	suggestions, err := toc.NewEngine(database).SuggestNext(taskProject, taskLimit)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"suggestions": suggestions,
		})
	}

	if len(suggestions) == 0 {
		fmt.Println("착수 후보가 없습니다.")
		return nil
	}

	fmt.Println("다음 착수 후보:")
	for i, s := range suggestions {
		mark := "✅"
		if !s.CanStart {
			mark = "❌"
		}
		chain := ""
		if s.Task.IsCriticalChain {
			chain = " ⛓"
		}
		fmt.Printf("%d. %s %s (우선순위 %d)%s\n", i+1, mark, s.Task.Title, s.Task.Priority, chain)
		for _, reason := range s.Reasons {
			fmt.Printf("     - %s\n", reason)
		}
	}

	return nil
}

func runTaskKitAdd(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	item, err := task.NewService(database).AddKitItem(args[0], args[1], args[2])
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(item)
	}

	fmt.Printf("📦 풀킷 항목 추가: %s\n", item.Description)
	fmt.Printf("  ID: %s\n", item.ID)

	return nil
}

func runTaskKitSatisfy(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := task.NewService(database).SatisfyKitItem(args[0], ""); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status": "satisfied",
			"id":     args[0],
		})
	}

	fmt.Printf("☑ 풀킷 항목 충족: %s\n", args[0])
	return nil
}

func runTaskDepAdd(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	dep, err := graph.NewService(database).AddDependency(args[0], args[1], taskDepType, 0)
	if err != nil {
		if errors.Is(err, graph.ErrCyclicDependency) {
			fmt.Fprintln(os.Stderr, "❌ 순환 의존성은 추가할 수 없습니다.")
		}
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(dep)
	}

	fmt.Printf("⛓ 의존성 추가: %s -> %s (%s)\n", args[0], args[1], taskDepType)
	return nil
}

func runTaskDepRemove(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := graph.NewService(database).RemoveDependency(args[0], args[1]); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status": "removed",
		})
	}

	fmt.Printf("의존성 제거: %s -> %s\n", args[0], args[1])
	return nil
}

func runTaskChain(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	chain, err := graph.NewService(database).CriticalChain(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"chain": chain,
		})
	}

	if len(chain) == 0 {
		fmt.Println("크리티컬 체인이 비어 있습니다.")
		return nil
	}

	tasks := task.NewService(database)

	fmt.Printf("크리티컬 체인 (%d개 태스크)\n", len(chain))
	fmt.Println(strings.Repeat("-", 40))
	for i, id := range chain {
		arrow := "├─"
		if i == len(chain)-1 {
			arrow = "└─"
		}
		title := id
		if t, err := tasks.Get(id); err == nil {
			title = t.Title
		}
		fmt.Printf("%s #%d %s\n", arrow, i, title)
	}

	return nil
}
