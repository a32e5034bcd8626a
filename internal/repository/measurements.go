package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
)

// 按语句执行，连续聚合视图不能包在事务里创建
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS timescaledb`,

	`CREATE TABLE IF NOT EXISTS measurements (
		time TIMESTAMPTZ NOT NULL,
		device_id TEXT NOT NULL,
		device_type TEXT NOT NULL,
		location TEXT,
		measurement_type TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		unit TEXT NOT NULL,
		metadata JSONB
	)`,

	`SELECT create_hypertable('measurements', 'time',
		chunk_time_interval => INTERVAL '1 day',
		if_not_exists => TRUE
	)`,

	// 幂等写入的约束：相同时间点的同一设备同一指标只保留一条
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_measurements_unique
		ON measurements (time, device_id, measurement_type)`,

	`CREATE INDEX IF NOT EXISTS idx_measurements_device_time
		ON measurements (device_id, time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_type_time
		ON measurements (measurement_type, time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_location_time
		ON measurements (location, time DESC)`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS measurements_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS bucket,
		device_id,
		device_type,
		location,
		measurement_type,
		AVG(value) AS avg_value,
		MIN(value) AS min_value,
		MAX(value) AS max_value,
		COUNT(*) AS sample_count
	FROM measurements
	GROUP BY bucket, device_id, device_type, location, measurement_type
	WITH NO DATA`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS measurements_daily
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 day', time) AS bucket,
		device_id,
		device_type,
		location,
		measurement_type,
		AVG(value) AS avg_value,
		MIN(value) AS min_value,
		MAX(value) AS max_value,
		COUNT(*) AS sample_count
	FROM measurements
	GROUP BY bucket, device_id, device_type, location, measurement_type
	WITH NO DATA`,

	`ALTER TABLE measurements SET (
		timescaledb.compress,
		timescaledb.compress_segmentby = 'device_id, measurement_type',
		timescaledb.compress_orderby = 'time DESC'
	)`,

	`SELECT add_compression_policy('measurements', INTERVAL '7 days', if_not_exists => TRUE)`,
	`SELECT add_retention_policy('measurements', INTERVAL '90 days', if_not_exists => TRUE)`,

	`SELECT add_continuous_aggregate_policy('measurements_hourly',
		start_offset => INTERVAL '3 hours',
		end_offset => INTERVAL '1 hour',
		schedule_interval => INTERVAL '1 hour',
		if_not_exists => TRUE
	)`,
	`SELECT add_continuous_aggregate_policy('measurements_daily',
		start_offset => INTERVAL '3 days',
		end_offset => INTERVAL '1 day',
		schedule_interval => INTERVAL '1 day',
		if_not_exists => TRUE
	)`,
}

// MeasurementFilter 测量查询过滤条件，零值字段不参与过滤
type MeasurementFilter struct {
	DeviceID        string
	MeasurementType string
	Location        string
	StartTime       *time.Time
	EndTime         *time.Time
	Limit           int
}

// MeasurementRepository 时序测量数据仓库
type MeasurementRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMeasurementRepository 创建测量数据仓库
func NewMeasurementRepository(db *sql.DB, logger *zap.Logger) *MeasurementRepository {
	return &MeasurementRepository{
		db:     db,
		logger: logger,
	}
}

// isDuplicateObject 判断是否为对象已存在类错误（重复初始化时出现）
func isDuplicateObject(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P07", "42710", "42701": // duplicate table / object / column
			return true
		}
	}
	return strings.Contains(err.Error(), "already exists")
}

// InitSchema 初始化超表、聚合视图和压缩/保留策略
// 语句逐条执行；已存在类错误只记日志，其余错误中断并返回
func (r *MeasurementRepository) InitSchema() error {
	if err := r.db.Ping(); err != nil {
		return fmt.Errorf("database unreachable during schema init: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := r.db.Exec(stmt); err != nil {
			if isDuplicateObject(err) {
				r.logger.Debug("Schema statement skipped, object exists", zap.Error(err))
				continue
			}
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	r.logger.Info("Database schema initialized")
	return nil
}

// InsertBatch 批量写入测量点，幂等：重复 (time, device_id, measurement_type) 跳过
// 三级降级：整批写入 -> 逐行写入 -> 重连后重试整批
// 空批次是成功的空操作
func (r *MeasurementRepository) InsertBatch(points []models.MeasurementPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	inserted, err := r.insertBulk(points)
	if err == nil {
		return inserted, nil
	}
	r.logger.Warn("Bulk insert failed, falling back to per-row inserts", zap.Error(err))

	inserted, rowErrs := r.insertPerRow(points)
	if rowErrs < len(points) {
		if rowErrs > 0 {
			r.logger.Warn("Some rows failed during per-row insert",
				zap.Int("failed", rowErrs),
				zap.Int("inserted", inserted))
		}
		return inserted, nil
	}

	// 全部行失败，多半是连接断了
	if pingErr := r.db.Ping(); pingErr != nil {
		return 0, fmt.Errorf("database unreachable after insert failure: %w", pingErr)
	}
	r.logger.Info("Database connection recovered, retrying bulk insert")

	inserted, err = r.insertBulk(points)
	if err != nil {
		return 0, fmt.Errorf("failed to insert measurements after reconnect: %w", err)
	}
	return inserted, nil
}

func marshalMetadata(m map[string]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

func nullableLocation(location string) interface{} {
	if location == "" {
		return nil
	}
	return location
}

func (r *MeasurementRepository) insertBulk(points []models.MeasurementPoint) (int, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO measurements
		(time, device_id, device_type, location, measurement_type, value, unit, metadata)
		VALUES `)

	args := make([]interface{}, 0, len(points)*8)
	for i, p := range points {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			p.Time, p.DeviceID, p.DeviceType, nullableLocation(p.Location),
			p.MeasurementType, p.Value, p.Unit, marshalMetadata(p.Metadata))
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	result, err := r.db.Exec(sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert measurements: %w", err)
	}

	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (r *MeasurementRepository) insertPerRow(points []models.MeasurementPoint) (inserted, failed int) {
	query := `INSERT INTO measurements
		(time, device_id, device_type, location, measurement_type, value, unit, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	for _, p := range points {
		result, err := r.db.Exec(query,
			p.Time, p.DeviceID, p.DeviceType, nullableLocation(p.Location),
			p.MeasurementType, p.Value, p.Unit, marshalMetadata(p.Metadata))
		if err != nil {
			failed++
			continue
		}
		affected, _ := result.RowsAffected()
		inserted += int(affected)
	}
	return inserted, failed
}

// QueryMeasurements 按过滤条件查询原始测量，时间倒序
func (r *MeasurementRepository) QueryMeasurements(filter MeasurementFilter) ([]models.MeasurementPoint, error) {
	query := "SELECT time, device_id, device_type, location, measurement_type, value, unit FROM measurements WHERE 1=1"
	var args []interface{}

	appendCond := func(cond string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s $%d", cond, len(args))
	}

	if filter.DeviceID != "" {
		appendCond("device_id =", filter.DeviceID)
	}
	if filter.MeasurementType != "" {
		appendCond("measurement_type =", filter.MeasurementType)
	}
	if filter.Location != "" {
		appendCond("location =", filter.Location)
	}
	if filter.StartTime != nil {
		appendCond("time >=", *filter.StartTime)
	}
	if filter.EndTime != nil {
		appendCond("time <=", *filter.EndTime)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY time DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var points []models.MeasurementPoint
	for rows.Next() {
		var p models.MeasurementPoint
		var location sql.NullString
		if err := rows.Scan(&p.Time, &p.DeviceID, &p.DeviceType, &location,
			&p.MeasurementType, &p.Value, &p.Unit); err != nil {
			return nil, fmt.Errorf("failed to scan measurement row: %w", err)
		}
		p.Location = location.String
		points = append(points, p)
	}
	return points, rows.Err()
}

// QueryHourlyAggregates 查询小时粒度聚合，bucket 倒序
func (r *MeasurementRepository) QueryHourlyAggregates(filter MeasurementFilter) ([]models.AggregateRow, error) {
	return r.queryAggregates("measurements_hourly", filter, 168)
}

// QueryDailyAggregates 查询天粒度聚合，bucket 倒序
func (r *MeasurementRepository) QueryDailyAggregates(filter MeasurementFilter) ([]models.AggregateRow, error) {
	return r.queryAggregates("measurements_daily", filter, 90)
}

func (r *MeasurementRepository) queryAggregates(view string, filter MeasurementFilter, defaultLimit int) ([]models.AggregateRow, error) {
	query := fmt.Sprintf("SELECT bucket, device_id, device_type, location, measurement_type, avg_value, min_value, max_value, sample_count FROM %s WHERE 1=1", view)
	var args []interface{}

	appendCond := func(cond string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s $%d", cond, len(args))
	}

	if filter.DeviceID != "" {
		appendCond("device_id =", filter.DeviceID)
	}
	if filter.MeasurementType != "" {
		appendCond("measurement_type =", filter.MeasurementType)
	}
	if filter.StartTime != nil {
		appendCond("bucket >=", *filter.StartTime)
	}
	if filter.EndTime != nil {
		appendCond("bucket <=", *filter.EndTime)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY bucket DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", view, err)
	}
	defer rows.Close()

	var result []models.AggregateRow
	for rows.Next() {
		var row models.AggregateRow
		var location sql.NullString
		if err := rows.Scan(&row.Bucket, &row.DeviceID, &row.DeviceType, &location,
			&row.MeasurementType, &row.AvgValue, &row.MinValue, &row.MaxValue, &row.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		row.Location = location.String
		result = append(result, row)
	}
	return result, rows.Err()
}
