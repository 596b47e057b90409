package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/n0roo/toc-kit/internal/config"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/notify"
	"github.com/spf13/cobra"
)

var (
	notifyPriority string
	notifyTrigger  string
	notifySource   string
	notifyFrom     string
	notifySubject  string
	notifyBody     string
	notifyTail     int
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "알림 파이프라인",
	Long:  `우선순위별 알림을 큐잉/발송하고 트리거를 점검합니다.`,
}

var notifySendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "알림 발송/큐잉 (P0~P3)",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotifySend,
}

var notifyBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "대기 중인 P1 다이제스트 발송",
	RunE:  runNotifyBatch,
}

var notifyWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "대기 중인 P2 주간 리포트 발송",
	RunE:  runNotifyWeekly,
}

var notifyDeadlinesCmd = &cobra.Command{
	Use:   "deadlines",
	Short: "24시간 내 마감 + 풀킷 미완료 태스크 점검",
	RunE:  runNotifyDeadlines,
}

var notifyEmailCmd = &cobra.Command{
	Use:   "email",
	Short: "수신 메일을 블로커 감시 패턴과 대조",
	RunE:  runNotifyEmail,
}

var notifyLogCmd = &cobra.Command{
	Use:   "log",
	Short: "알림 감사 로그 조회",
	RunE:  runNotifyLog,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifySendCmd)
	notifyCmd.AddCommand(notifyBatchCmd)
	notifyCmd.AddCommand(notifyWeeklyCmd)
	notifyCmd.AddCommand(notifyDeadlinesCmd)
	notifyCmd.AddCommand(notifyEmailCmd)
	notifyCmd.AddCommand(notifyLogCmd)

	notifySendCmd.Flags().StringVar(&notifyPriority, "priority", "P1", "우선순위 (P0|P1|P2|P3)")
	notifySendCmd.Flags().StringVar(&notifyTrigger, "trigger", "manual", "트리거 유형")
	notifySendCmd.Flags().StringVar(&notifySource, "source", "", "소스 ID (중복 제거 키)")

	notifyEmailCmd.Flags().StringVar(&notifyFrom, "from", "", "발신자 (필수)")
	notifyEmailCmd.Flags().StringVar(&notifySubject, "subject", "", "제목")
	notifyEmailCmd.Flags().StringVar(&notifyBody, "body", "", "본문")
	notifyEmailCmd.MarkFlagRequired("from")

	notifyLogCmd.Flags().IntVar(&notifyTail, "tail", 20, "마지막 N건")
}

func openRouter() (*notify.Router, *db.DB, *config.Config, func(), error) {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return nil, nil, nil, nil, err
	}

	root := GetProjectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		database.Close()
		return nil, nil, nil, nil, err
	}

	logPath := cfg.Notify.LogPath
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(root, logPath)
	}
	cfg.Notify.LogPath = logPath

	channels := []notify.Channel{notify.NewLogChannel(logPath + ".channel")}
	router := notify.NewRouter(database, cfg, channels)

	return router, database, cfg, func() { database.Close() }, nil
}

func runNotifySend(cmd *cobra.Command, args []string) error {
	router, _, _, cleanup, err := openRouter()
	if err != nil {
		return err
	}
	defer cleanup()

	message := args[0]

	var result interface{}
	switch notifyPriority {
	case notify.P0:
		result, err = router.QueueP0(message, notifyTrigger, notifySource, nil)
	case notify.P1:
		result, err = router.QueueP1(message, notifyTrigger, notifySource, nil)
	case notify.P2:
		result, err = router.QueueP2(message, nil)
	case notify.P3:
		err = router.QueueP3(message, notifyTrigger, notifySource)
	default:
		return fmt.Errorf("알 수 없는 우선순위: %s", notifyPriority)
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"priority":     notifyPriority,
			"notification": result,
		})
	}

	switch notifyPriority {
	case notify.P0:
		fmt.Println("🚨 P0 즉시 발송")
	case notify.P3:
		fmt.Println("📝 P3 로그 기록")
	default:
		fmt.Printf("📮 %s 큐잉\n", notifyPriority)
	}

	return nil
}

func runNotifyBatch(cmd *cobra.Command, args []string) error {
	router, _, _, cleanup, err := openRouter()
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := router.ProcessPendingBatch()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"sent": count,
		})
	}

	if count == 0 {
		fmt.Println("발송할 배치 항목이 없습니다.")
	} else {
		fmt.Printf("📬 배치 발송: %d건\n", count)
	}

	return nil
}

func runNotifyWeekly(cmd *cobra.Command, args []string) error {
	router, _, _, cleanup, err := openRouter()
	if err != nil {
		return err
	}
	defer cleanup()

	sent, err := router.ProcessWeeklyReport()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"sent": sent,
		})
	}

	if sent {
		fmt.Println("📰 주간 리포트 발송")
	} else {
		fmt.Println("대기 중인 주간 리포트가 없습니다.")
	}

	return nil
}

func runNotifyDeadlines(cmd *cobra.Command, args []string) error {
	router, _, _, cleanup, err := openRouter()
	if err != nil {
		return err
	}
	defer cleanup()

	queued, err := router.CheckUrgentDeadlines()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"alerts": queued,
		})
	}

	if len(queued) == 0 {
		fmt.Println("긴급 마감 태스크가 없습니다.")
		return nil
	}

	fmt.Printf("🚨 긴급 알림: %d건\n", len(queued))
	for _, n := range queued {
		fmt.Printf("  - %s\n", n.Message)
	}

	return nil
}

func runNotifyEmail(cmd *cobra.Command, args []string) error {
	router, _, _, cleanup, err := openRouter()
	if err != nil {
		return err
	}
	defer cleanup()

	queued, err := router.CheckBlockerUpdates(notifyFrom, notifySubject, notifyBody)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"matched": queued,
		})
	}

	if len(queued) == 0 {
		fmt.Println("매칭된 블로커가 없습니다.")
		return nil
	}

	for _, n := range queued {
		fmt.Printf("📧 %s\n", n.Message)
	}

	return nil
}

func runNotifyLog(cmd *cobra.Command, args []string) error {
	root := GetProjectRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	logPath := cfg.Notify.LogPath
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(root, logPath)
	}

	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("감사 로그가 비어 있습니다.")
			return nil
		}
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > notifyTail {
		lines = lines[len(lines)-notifyTail:]
	}

	if jsonOut {
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	}

	for _, line := range lines {
		var entry struct {
			Timestamp   string `json:"timestamp"`
			Priority    string `json:"priority"`
			TriggerType string `json:"trigger_type"`
			Message     string `json:"message"`
			Status      string `json:"status"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Println(line)
			continue
		}
		fmt.Printf("%s [%s] %-14s %-12s %s\n",
			entry.Timestamp, entry.Priority, entry.TriggerType, entry.Status, entry.Message)
	}

	return nil
}
