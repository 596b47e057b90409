package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/n0roo/toc-kit/internal/config"
	"github.com/n0roo/toc-kit/internal/toc"
	"github.com/spf13/cobra"
)

var wipCmd = &cobra.Command{
	Use:   "wip [limit]",
	Short: "전역 WIP 한도 조회/설정",
	Long:  `인자 없이 현재 WIP 현황을 보여주고, 한도를 주면 전역 한도를 갱신합니다 (1~5).`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWIP,
}

func init() {
	rootCmd.AddCommand(wipCmd)
}

func runWIP(cmd *cobra.Command, args []string) error {
	database, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	engine := toc.NewEngine(database)

	if len(args) == 1 {
		limit, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("잘못된 한도: %s", args[0])
		}
		if err := engine.SetGlobalWIPLimit(limit); err != nil {
			return err
		}

		// config.yaml에도 반영해 재초기화 후에도 유지되게 한다
		root := GetProjectRoot()
		if cfg, err := config.Load(root); err == nil {
			cfg.WIPLimit = engine.GlobalWIPLimit()
			config.Save(root, cfg)
		}

		if !jsonOut {
			fmt.Printf("✅ 전역 WIP 한도: %d\n", engine.GlobalWIPLimit())
		}
	}

	status, err := engine.GetWIPStatus()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(status)
	}

	icon := "🟢"
	if !status.WithinLimit {
		icon = "🔴"
	}
	fmt.Printf("%s WIP %d/%d\n", icon, status.Current, status.Limit)
	for _, t := range status.ActiveTasks {
		fmt.Printf("  ▶ %s\n", t.Title)
	}

	return nil
}
