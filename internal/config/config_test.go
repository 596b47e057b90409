package config

import (
	"os"
	"testing"
)

func TestLoadMissingFallsBack(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "toc-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("로드 실패: %v", err)
	}

	if cfg.WIPLimit != 3 {
		t.Errorf("wip_limit = %d, want 3", cfg.WIPLimit)
	}
	if len(cfg.Notify.BatchTimes) != 3 {
		t.Errorf("batch_times = %v", cfg.Notify.BatchTimes)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "toc-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := Default()
	cfg.WIPLimit = 2
	cfg.Notify.BatchTimes = []string{"10:00"}

	if err := Save(tmpDir, cfg); err != nil {
		t.Fatalf("저장 실패: %v", err)
	}

	loaded, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("로드 실패: %v", err)
	}

	if loaded.WIPLimit != 2 {
		t.Errorf("wip_limit = %d, want 2", loaded.WIPLimit)
	}
	if len(loaded.Notify.BatchTimes) != 1 || loaded.Notify.BatchTimes[0] != "10:00" {
		t.Errorf("batch_times = %v", loaded.Notify.BatchTimes)
	}
}

func TestDedupWindow(t *testing.T) {
	cfg := Default()

	if got := cfg.DedupWindow("P0"); got != 4 {
		t.Errorf("P0 윈도우 = %d, want 4", got)
	}
	if got := cfg.DedupWindow("P2"); got != 168 {
		t.Errorf("P2 윈도우 = %d, want 168", got)
	}

	// 설정에서 빠진 티어는 기본값으로
	delete(cfg.Notify.DedupWindowHours, "P3")
	if got := cfg.DedupWindow("P3"); got != 1 {
		t.Errorf("P3 윈도우 = %d, want 1", got)
	}
}
