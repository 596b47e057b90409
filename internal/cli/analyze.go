package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/n0roo/toc-kit/internal/analytics"
	"github.com/spf13/cobra"
)

var analyzeDays int

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "이력 분석 (DuckDB)",
	Long:  `버퍼 이력과 컨텍스트 스위치 스냅샷을 DuckDB로 분석합니다.`,
}

var analyzeFeverCmd = &cobra.Command{
	Use:   "fever <project-id>",
	Short: "피버 차트 추이",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyzeFever,
}

var analyzeSwitchesCmd = &cobra.Command{
	Use:   "switches",
	Short: "일별 컨텍스트 스위치 추이",
	RunE:  runAnalyzeSwitches,
}

var analyzeZonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "버퍼 구간 분포",
	RunE:  runAnalyzeZones,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.AddCommand(analyzeFeverCmd)
	analyzeCmd.AddCommand(analyzeSwitchesCmd)
	analyzeCmd.AddCommand(analyzeZonesCmd)

	analyzeCmd.PersistentFlags().IntVar(&analyzeDays, "days", 30, "조회 기간 (일)")
}

// openAnalytics exports sqlite history and opens a DuckDB session over it
func openAnalytics() (*analytics.AnalyticsDB, string, string, func(), error) {
	database, cleanup, err := openDB()
	if err != nil {
		return nil, "", "", nil, err
	}

	root := GetProjectRoot()
	exportDir := filepath.Join(root, ".toc", "analytics")

	historyPath, switchesPath, err := analytics.ExportHistory(database, exportDir)
	cleanup()
	if err != nil {
		return nil, "", "", nil, err
	}

	adb, err := analytics.New(analytics.Config{
		DBPath:    filepath.Join(exportDir, "analytics.duckdb"),
		ExportDir: exportDir,
	})
	if err != nil {
		return nil, "", "", nil, err
	}

	return adb, historyPath, switchesPath, func() { adb.Close() }, nil
}

func runAnalyzeFever(cmd *cobra.Command, args []string) error {
	adb, historyPath, _, cleanup, err := openAnalytics()
	if err != nil {
		return err
	}
	defer cleanup()

	trend, err := adb.FeverTrend(context.Background(), historyPath, args[0], analyzeDays)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"trend": trend,
		})
	}

	if len(trend) == 0 {
		fmt.Println("이력이 없습니다.")
		return nil
	}

	zoneIcon := map[string]string{"green": "🟢", "yellow": "🟡", "red": "🔴"}

	fmt.Printf("피버 차트 (최근 %d일)\n", analyzeDays)
	fmt.Println(strings.Repeat("-", 50))
	for _, p := range trend {
		bar := strings.Repeat("█", int(p.AvgConsumed/5))
		fmt.Printf("%s %s 진행 %5.1f%% 소진 %5.1f%% %s\n",
			p.Day, zoneIcon[p.Zone], p.AvgProgress, p.AvgConsumed, bar)
	}

	return nil
}

func runAnalyzeSwitches(cmd *cobra.Command, args []string) error {
	adb, _, switchesPath, cleanup, err := openAnalytics()
	if err != nil {
		return err
	}
	defer cleanup()

	points, err := adb.SwitchesPerDay(context.Background(), switchesPath, analyzeDays)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"switches": points,
		})
	}

	if len(points) == 0 {
		fmt.Println("컨텍스트 스위치 기록이 없습니다.")
		return nil
	}

	fmt.Printf("컨텍스트 스위치 (최근 %d일)\n", analyzeDays)
	fmt.Println(strings.Repeat("-", 50))
	for _, p := range points {
		fmt.Printf("%s 총 %2d회 (자발 %d, 차단 %d) %s\n",
			p.Day, p.Count, p.Voluntary, p.Blocked, strings.Repeat("▪", p.Count))
	}

	return nil
}

func runAnalyzeZones(cmd *cobra.Command, args []string) error {
	adb, historyPath, _, cleanup, err := openAnalytics()
	if err != nil {
		return err
	}
	defer cleanup()

	zones, err := adb.ZoneDistribution(context.Background(), historyPath)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"zones": zones,
		})
	}

	if len(zones) == 0 {
		fmt.Println("이력이 없습니다.")
		return nil
	}

	total := 0
	for _, z := range zones {
		total += z.Count
	}

	zoneIcon := map[string]string{"green": "🟢", "yellow": "🟡", "red": "🔴"}

	fmt.Println("버퍼 구간 분포")
	fmt.Println(strings.Repeat("-", 30))
	for _, z := range zones {
		fmt.Printf("%s %-7s %4d회 (%.0f%%)\n",
			zoneIcon[z.Zone], z.Zone, z.Count, float64(z.Count)*100/float64(total))
	}

	return nil
}
