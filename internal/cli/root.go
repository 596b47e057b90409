package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	dbPath  string
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "toc",
	Short: "TOC 기반 작업 스케줄러",
	Long: `TOC Kit - 제약 이론 기반 작업 스케줄러

WIP 한도와 풀킷 게이트로 착수를 제어하고, 버퍼 소진을 추적하며,
우선순위별 알림 파이프라인으로 변화를 전달합니다.

주요 기능:
  - 프로젝트/태스크 관리: 의존성, 풀킷 체크리스트, 블로커
  - WIP 제약: 동시 진행 한도와 컨텍스트 스위치 추적
  - 버퍼 추적: 33/66 구간과 피버 차트
  - 크리티컬 체인: 최장 의존 경로 계산
  - 반복 일정: cron 포함 7가지 주기로 태스크 자동 생성
  - 알림 라우팅: P0 즉시 / P1 배치 / P2 주간 / P3 로그`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite DB 경로 (기본: .toc/toc.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "상세 출력")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON 출력")
}

// FindProjectRoot walks up from dir looking for a .toc directory
func FindProjectRoot(dir string) string {
	for {
		if info, err := os.Stat(filepath.Join(dir, ".toc")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// GetDBPath returns the database path
func GetDBPath() string {
	if dbPath != "" {
		return dbPath
	}

	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".toc", "toc.db")
	}

	if root := FindProjectRoot(cwd); root != "" {
		return filepath.Join(root, ".toc", "toc.db")
	}

	return filepath.Join(cwd, ".toc", "toc.db")
}

// GetProjectRoot returns the directory holding .toc, falling back to cwd
func GetProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root := FindProjectRoot(cwd); root != "" {
		return root
	}
	return cwd
}

// IsVerbose returns verbose flag
func IsVerbose() bool {
	return verbose
}

// IsJSON returns json output flag
func IsJSON() bool {
	return jsonOut
}
