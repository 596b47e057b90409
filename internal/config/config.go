package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents .toc/config.yaml
type Config struct {
	Version  string         `yaml:"version"`
	WIPLimit int            `yaml:"wip_limit"`
	Notify   NotifyConfig   `yaml:"notify"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// NotifyConfig holds notification routing settings
type NotifyConfig struct {
	// P1 배치 발송 시각 (로컬 시간, HH:MM)
	BatchTimes []string `yaml:"batch_times"`

	// P2 주간 리포트: 요일(월요일=0)과 시각
	WeeklyDay  int    `yaml:"weekly_day"`
	WeeklyTime string `yaml:"weekly_time"`

	// 우선순위별 중복 제거 윈도우 (시간)
	DedupWindowHours map[string]int `yaml:"dedup_window_hours"`

	// 발송 채널 이름 목록
	Channels []string `yaml:"channels"`

	// 알림 감사 로그 (JSONL)
	LogPath string `yaml:"log_path"`
}

// ScheduleConfig holds recurring-task generation settings
type ScheduleConfig struct {
	// 생성 패스 실행 시각 (HH:MM)
	GenerateTime string `yaml:"generate_time"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Version:  "0.1.0",
		WIPLimit: 3,
		Notify: NotifyConfig{
			BatchTimes: []string{"09:00", "13:00", "17:00"},
			WeeklyDay:  6, // 일요일
			WeeklyTime: "20:00",
			DedupWindowHours: map[string]int{
				"P0": 4,
				"P1": 8,
				"P2": 168,
				"P3": 1,
			},
			Channels: []string{"log"},
			LogPath:  filepath.Join(".toc", "notifications.jsonl"),
		},
		Schedule: ScheduleConfig{
			GenerateTime: "06:00",
		},
	}
}

// Path returns the config file path under a project root
func Path(root string) string {
	return filepath.Join(root, ".toc", "config.yaml")
}

// Load reads config from .toc/config.yaml, falling back to defaults
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(Path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("설정 파일 읽기 실패: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("설정 파일 파싱 실패: %w", err)
	}

	return cfg, nil
}

// Save writes config to .toc/config.yaml
func Save(root string, cfg *Config) error {
	configPath := Path(root)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("디렉토리 생성 실패: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("설정 직렬화 실패: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("설정 파일 저장 실패: %w", err)
	}

	return nil
}

// DedupWindow returns a tier's dedup window in hours
func (c *Config) DedupWindow(priority string) int {
	if h, ok := c.Notify.DedupWindowHours[priority]; ok {
		return h
	}
	return Default().Notify.DedupWindowHours[priority]
}
