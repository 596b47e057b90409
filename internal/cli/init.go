package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/n0roo/toc-kit/internal/config"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "현재 디렉토리에 .toc 초기화",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	tocDir := filepath.Join(cwd, ".toc")
	if err := os.MkdirAll(tocDir, 0755); err != nil {
		return fmt.Errorf("디렉토리 생성 실패: %w", err)
	}

	configPath := config.Path(cwd)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(cwd, config.Default()); err != nil {
			return err
		}
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}

	database, err := db.Open(filepath.Join(tocDir, "toc.db"))
	if err != nil {
		return err
	}
	defer database.Close()

	// 설정의 전역 WIP 한도를 엔진이 읽는 메타데이터에 반영한다
	if err := database.SetState("wip_limit", strconv.Itoa(project.ClampWIPLimit(cfg.WIPLimit))); err != nil {
		return err
	}

	version, err := database.GetVersion()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status":         "initialized",
			"config":         configPath,
			"db":             database.Path(),
			"schema_version": version,
		})
	}

	fmt.Printf("✅ 초기화 완료\n")
	fmt.Printf("  설정: %s\n", configPath)
	fmt.Printf("  DB: %s (schema v%d)\n", database.Path(), version)

	return nil
}
