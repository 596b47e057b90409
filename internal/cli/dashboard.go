package cli

import (
	"github.com/n0roo/toc-kit/internal/tui"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash"},
	Short:   "실시간 TUI 대시보드",
	Long:    `버퍼/WIP/블로커 탭을 갖춘 터미널 대시보드를 띄웁니다.`,
	RunE:    runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	return tui.Run(GetDBPath())
}
