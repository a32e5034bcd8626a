package models

import "time"

// MeasurementPoint 单个时序测量点
// 唯一性由 (time, device_id, measurement_type) 约束保证
type MeasurementPoint struct {
	Time            time.Time              `json:"time"`
	DeviceID        string                 `json:"device_id"`
	DeviceType      string                 `json:"device_type"`
	Location        string                 `json:"location,omitempty"`
	MeasurementType string                 `json:"measurement_type"`
	Value           float64                `json:"value"`
	Unit            string                 `json:"unit"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// AggregateRow 连续聚合视图的一行（小时/天粒度）
type AggregateRow struct {
	Bucket          time.Time `json:"bucket"`
	DeviceID        string    `json:"device_id"`
	DeviceType      string    `json:"device_type"`
	Location        string    `json:"location,omitempty"`
	MeasurementType string    `json:"measurement_type"`
	AvgValue        float64   `json:"avg_value"`
	MinValue        float64   `json:"min_value"`
	MaxValue        float64   `json:"max_value"`
	SampleCount     int64     `json:"sample_count"`
}
