package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/n0roo/toc-kit/internal/db"
)

// AnalyticsDB wraps DuckDB for history queries. 운영 DB(sqlite)를 직접
// 건드리지 않고 내보낸 JSON 스냅샷 위에서만 돈다.
type AnalyticsDB struct {
	conn *sql.DB
	path string
}

// Config holds analytics configuration
type Config struct {
	DBPath    string // DuckDB 파일 경로
	ExportDir string // JSON 스냅샷 경로
}

// TrendPoint is one day of the fever chart
type TrendPoint struct {
	Day         string  `json:"day"`
	AvgProgress float64 `json:"avg_progress"`
	AvgConsumed float64 `json:"avg_consumed"`
	Zone        string  `json:"zone"`
}

// SwitchPoint is one day of context-switch volume
type SwitchPoint struct {
	Day       string `json:"day"`
	Count     int    `json:"count"`
	Voluntary int    `json:"voluntary"`
	Blocked   int    `json:"blocked"`
}

// ZoneCount is one slice of the buffer-zone distribution
type ZoneCount struct {
	Zone  string `json:"zone"`
	Count int    `json:"count"`
}

// New creates a new AnalyticsDB instance
func New(cfg Config) (*AnalyticsDB, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("디렉토리 생성 실패: %w", err)
	}

	if cfg.ExportDir != "" {
		if err := os.MkdirAll(cfg.ExportDir, 0755); err != nil {
			return nil, fmt.Errorf("스냅샷 디렉토리 생성 실패: %w", err)
		}
	}

	conn, err := sql.Open("duckdb", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("DuckDB 열기 실패: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("DuckDB 열기 실패: %w", err)
	}

	return &AnalyticsDB{
		conn: conn,
		path: cfg.DBPath,
	}, nil
}

// Close closes the database connection
func (a *AnalyticsDB) Close() error {
	return a.conn.Close()
}

// historyRow mirrors one buffer_history sample in the export
type historyRow struct {
	ProjectID       string  `json:"project_id"`
	ProgressPercent float64 `json:"progress_percent"`
	ConsumedPercent float64 `json:"consumed_percent"`
	RecordedAt      string  `json:"recorded_at"`
}

// switchRow mirrors one context_switches entry in the export
type switchRow struct {
	SwitchType string `json:"switch_type"`
	OccurredAt string `json:"occurred_at"`
}

// ExportHistory snapshots buffer_history and context_switches from the
// operational sqlite store into JSON files DuckDB can read.
func ExportHistory(database *db.DB, exportDir string) (historyPath, switchesPath string, err error) {
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", "", fmt.Errorf("스냅샷 디렉토리 생성 실패: %w", err)
	}

	rows, err := database.Query(`
		SELECT project_id, progress_percent, consumed_percent, recorded_at
		FROM buffer_history ORDER BY recorded_at
	`)
	if err != nil {
		return "", "", fmt.Errorf("버퍼 이력 조회 실패: %w", err)
	}
	defer rows.Close()

	var history []historyRow
	for rows.Next() {
		var h historyRow
		if err := rows.Scan(&h.ProjectID, &h.ProgressPercent, &h.ConsumedPercent, &h.RecordedAt); err != nil {
			return "", "", err
		}
		history = append(history, h)
	}

	historyPath = filepath.Join(exportDir, "buffer_history.json")
	if err := writeJSON(historyPath, history); err != nil {
		return "", "", err
	}

	swRows, err := database.Query(`
		SELECT COALESCE(switch_type, 'voluntary'), occurred_at
		FROM context_switches ORDER BY occurred_at
	`)
	if err != nil {
		return "", "", fmt.Errorf("컨텍스트 스위치 조회 실패: %w", err)
	}
	defer swRows.Close()

	var switches []switchRow
	for swRows.Next() {
		var s switchRow
		if err := swRows.Scan(&s.SwitchType, &s.OccurredAt); err != nil {
			return "", "", err
		}
		switches = append(switches, s)
	}

	switchesPath = filepath.Join(exportDir, "context_switches.json")
	if err := writeJSON(switchesPath, switches); err != nil {
		return "", "", err
	}

	return historyPath, switchesPath, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("스냅샷 직렬화 실패: %w", err)
	}
	// read_json_auto는 빈 파일을 읽지 못한다
	if string(data) == "null" {
		data = []byte("[]")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("스냅샷 저장 실패: %w", err)
	}
	return nil
}

// FeverTrend returns the daily fever-chart trend for one project
func (a *AnalyticsDB) FeverTrend(ctx context.Context, historyPath, projectID string, days int) ([]TrendPoint, error) {
	sqlQuery := fmt.Sprintf(`
		SELECT
			strftime(CAST(recorded_at AS TIMESTAMP), '%%Y-%%m-%%d') as day,
			AVG(progress_percent) as avg_progress,
			AVG(consumed_percent) as avg_consumed,
			CASE
				WHEN AVG(consumed_percent) < 33 THEN 'green'
				WHEN AVG(consumed_percent) < 66 THEN 'yellow'
				ELSE 'red'
			END as zone
		FROM read_json_auto('%s')
		WHERE project_id = '%s'
		  AND CAST(recorded_at AS TIMESTAMP) >= current_date - interval '%d day'
		GROUP BY 1
		ORDER BY 1
	`, historyPath, projectID, days)

	rows, err := a.conn.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("피버 차트 조회 실패: %w", err)
	}
	defer rows.Close()

	var results []TrendPoint
	for rows.Next() {
		var point TrendPoint
		if err := rows.Scan(&point.Day, &point.AvgProgress, &point.AvgConsumed, &point.Zone); err != nil {
			continue
		}
		results = append(results, point)
	}

	return results, nil
}

// SwitchesPerDay returns daily context-switch volume split by type
func (a *AnalyticsDB) SwitchesPerDay(ctx context.Context, switchesPath string, days int) ([]SwitchPoint, error) {
	sqlQuery := fmt.Sprintf(`
		SELECT
			strftime(CAST(occurred_at AS TIMESTAMP), '%%Y-%%m-%%d') as day,
			COUNT(*) as count,
			SUM(CASE WHEN switch_type = 'voluntary' THEN 1 ELSE 0 END) as voluntary,
			SUM(CASE WHEN switch_type = 'blocked' THEN 1 ELSE 0 END) as blocked
		FROM read_json_auto('%s')
		WHERE CAST(occurred_at AS TIMESTAMP) >= current_date - interval '%d day'
		GROUP BY 1
		ORDER BY 1
	`, switchesPath, days)

	rows, err := a.conn.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("컨텍스트 스위치 추이 조회 실패: %w", err)
	}
	defer rows.Close()

	var results []SwitchPoint
	for rows.Next() {
		var point SwitchPoint
		if err := rows.Scan(&point.Day, &point.Count, &point.Voluntary, &point.Blocked); err != nil {
			continue
		}
		results = append(results, point)
	}

	return results, nil
}

// ZoneDistribution returns how many samples landed in each buffer zone
func (a *AnalyticsDB) ZoneDistribution(ctx context.Context, historyPath string) ([]ZoneCount, error) {
	sqlQuery := fmt.Sprintf(`
		SELECT
			CASE
				WHEN consumed_percent < 33 THEN 'green'
				WHEN consumed_percent < 66 THEN 'yellow'
				ELSE 'red'
			END as zone,
			COUNT(*) as count
		FROM read_json_auto('%s')
		GROUP BY 1
		ORDER BY 1
	`, historyPath)

	rows, err := a.conn.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("버퍼 구간 분포 조회 실패: %w", err)
	}
	defer rows.Close()

	var results []ZoneCount
	for rows.Next() {
		var zc ZoneCount
		if err := rows.Scan(&zc.Zone, &zc.Count); err != nil {
			continue
		}
		results = append(results, zc)
	}

	return results, nil
}

// ExportToParquet exports query result to parquet format
func (a *AnalyticsDB) ExportToParquet(ctx context.Context, query, outputPath string) error {
	exportQuery := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET)", query, outputPath)
	_, err := a.conn.ExecContext(ctx, exportQuery)
	if err != nil {
		return fmt.Errorf("Parquet 내보내기 실패: %w", err)
	}
	return nil
}
