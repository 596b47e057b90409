package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n0roo/toc-kit/internal/scheduler"
	"github.com/spf13/cobra"
)

var runInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "주기 작업 실행기",
	Long: `마감 점검, P1 배치, 주간 리포트, 반복 태스크 생성을
주기적으로 실행합니다.`,
}

var runTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "기한이 된 패스를 한 번 실행 (cron용)",
	RunE:  runTick,
}

var runLoopCmd = &cobra.Command{
	Use:   "loop",
	Short: "포그라운드에서 주기 실행 (Ctrl-C로 종료)",
	RunE:  runLoop,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runTickCmd)
	runCmd.AddCommand(runLoopCmd)

	runLoopCmd.Flags().DurationVar(&runInterval, "interval", time.Minute, "틱 간격")
}

func openRunner() (*scheduler.Runner, func(), error) {
	router, database, cfg, cleanup, err := openRouter()
	if err != nil {
		return nil, nil, err
	}

	return scheduler.NewRunner(database, cfg, router), cleanup, nil
}

func runTick(cmd *cobra.Command, args []string) error {
	runner, cleanup, err := openRunner()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := runner.Tick(time.Now())
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Printf("틱 완료: 긴급 %d건, 배치 %d건, 주간 %v, 생성 %d건\n",
		result.DeadlineAlerts, result.BatchSent, result.WeeklySent, result.TasksGenerated)

	return nil
}

func runLoop(cmd *cobra.Command, args []string) error {
	runner, cleanup, err := openRunner()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("주기 실행 시작 (간격 %s)\n", runInterval)

	if err := runner.Run(ctx, runInterval); err != nil && err != context.Canceled {
		return err
	}

	fmt.Println("종료합니다.")
	return nil
}
