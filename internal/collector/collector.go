package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
)

// 单位对应的合理取值区间，越界读数直接丢弃不做截断
var plausibleRanges = map[string][2]float64{
	"°C":  {-50, 100},
	"%":   {0, 100},
	"ppm": {0, 5000},
	"m/s": {0, 60},
	"klx": {0, 200},
}

func plausible(value float64, unit string) bool {
	r, ok := plausibleRanges[unit]
	if !ok {
		return true
	}
	return value >= r[0] && value <= r[1]
}

// stateSource 采集器读取当前状态的来源
type stateSource interface {
	GetSystem(ctx context.Context, deviceID string) (*models.VentilationSystem, error)
	GetAllNodes(ctx context.Context) ([]*models.VentilationNode, error)
	GetAllDevices(ctx context.Context) ([]*models.SmartDevice, error)
}

// measurementStore 测量点的持久化目标
type measurementStore interface {
	InsertBatch(points []models.MeasurementPoint) (int, error)
}

// Stats 采集统计
type Stats struct {
	Collections        int64     `json:"collections"`
	MeasurementsStored int64     `json:"measurements_stored"`
	Dropped            int64     `json:"dropped"`
	Errors             int64     `json:"errors"`
	LastCollection     time.Time `json:"last_collection"`
	Running            bool      `json:"running"`
}

// Collector 定期把当前状态快照展平成测量点写入时序库
// 同一采集批次内所有测量点共享同一个采集时间戳
type Collector struct {
	source   stateSource
	store    measurementStore
	logger   *zap.Logger
	deviceID string
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   Stats

	now func() time.Time
}

// NewCollector 创建时序采集器
func NewCollector(source stateSource, store measurementStore, deviceID string,
	interval time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		source:   source,
		store:    store,
		logger:   logger,
		deviceID: deviceID,
		interval: interval,
		now:      time.Now,
	}
}

// Start 启动采集循环
func (c *Collector) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("Collector already running")
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.runLoop()
	c.logger.Info("Time series collector started", zap.Duration("interval", c.interval))
}

// Stop 停止采集循环，最多等待 5 秒
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Collector did not stop within timeout")
	}
	c.logger.Info("Time series collector stopped")
}

func (c *Collector) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Collector) runLoop() {
	defer close(c.doneCh)

	for c.isRunning() {
		if err := c.CollectOnce(context.Background()); err != nil {
			c.logger.Error("Collection cycle failed", zap.Error(err))
			c.mu.Lock()
			c.stats.Errors++
			c.mu.Unlock()
		}

		deadline := c.now().Add(c.interval)
		for c.now().Before(deadline) {
			select {
			case <-c.stopCh:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// CollectOnce 执行一次采集：读取状态、展平、过滤、写入
func (c *Collector) CollectOnce(ctx context.Context) error {
	capturedAt := c.now()
	var points []models.MeasurementPoint

	points = append(points, c.collectSystem(ctx, capturedAt)...)
	points = append(points, c.collectNodes(ctx, capturedAt)...)
	points = append(points, c.collectDevices(ctx, capturedAt)...)

	kept := points[:0]
	dropped := 0
	for _, p := range points {
		if !plausible(p.Value, p.Unit) {
			dropped++
			c.logger.Warn("Dropping implausible measurement",
				zap.String("device_id", p.DeviceID),
				zap.String("measurement_type", p.MeasurementType),
				zap.Float64("value", p.Value),
				zap.String("unit", p.Unit))
			continue
		}
		kept = append(kept, p)
	}

	inserted, err := c.store.InsertBatch(kept)
	if err != nil {
		return fmt.Errorf("failed to store measurements: %w", err)
	}

	c.mu.Lock()
	c.stats.Collections++
	c.stats.MeasurementsStored += int64(inserted)
	c.stats.Dropped += int64(dropped)
	c.stats.LastCollection = capturedAt
	c.mu.Unlock()

	if len(kept) > 0 {
		c.logger.Info("Stored measurements",
			zap.Int("count", len(kept)),
			zap.Int("dropped", dropped))
	}
	return nil
}

func (c *Collector) collectSystem(ctx context.Context, ts time.Time) []models.MeasurementPoint {
	system, err := c.source.GetSystem(ctx, c.deviceID)
	if err != nil {
		c.logger.Error("Failed to read system state", zap.Error(err))
		c.recordError()
		return nil
	}
	if system == nil {
		return nil
	}

	meta := map[string]interface{}{"source": "duco"}
	point := func(metric string, value float64, unit string) models.MeasurementPoint {
		return models.MeasurementPoint{
			Time:            ts,
			DeviceID:        c.deviceID,
			DeviceType:      "ducobox",
			Location:        "Ventilation System",
			MeasurementType: metric,
			Value:           value,
			Unit:            unit,
			Metadata:        meta,
		}
	}

	var points []models.MeasurementPoint
	if system.Humidity != nil {
		points = append(points, point("humidity", float64(*system.Humidity), "%"))
	}
	if system.CO2 != nil {
		points = append(points, point("co2", float64(*system.CO2), "ppm"))
	}
	if system.AirQualityRH != nil {
		points = append(points, point("air_quality_rh", float64(*system.AirQualityRH), "%"))
	}
	if system.AirQualityCO2 != nil {
		points = append(points, point("air_quality_co2", float64(*system.AirQualityCO2), "%"))
	}
	if system.FlowRate != nil {
		points = append(points, point("flow_rate", float64(*system.FlowRate), "%"))
	}
	if system.TemperatureODA != nil {
		points = append(points, point("outdoor_air_temp", *system.TemperatureODA, "°C"))
	}
	if system.TemperatureSUP != nil {
		points = append(points, point("supply_air_temp", *system.TemperatureSUP, "°C"))
	}
	if system.TemperatureETA != nil {
		points = append(points, point("extract_air_temp", *system.TemperatureETA, "°C"))
	}
	if system.TemperatureEHA != nil {
		points = append(points, point("exhaust_air_temp", *system.TemperatureEHA, "°C"))
	}
	if system.OutdoorTemperature != nil {
		points = append(points, point("outdoor_temperature", *system.OutdoorTemperature, "°C"))
	}
	if system.WindSpeed != nil {
		points = append(points, point("wind_speed", *system.WindSpeed, "m/s"))
	}
	if system.LightSouth != nil {
		points = append(points, point("light_south", *system.LightSouth, "klx"))
	}
	if system.LightEast != nil {
		points = append(points, point("light_east", *system.LightEast, "klx"))
	}
	if system.LightWest != nil {
		points = append(points, point("light_west", *system.LightWest, "klx"))
	}
	return points
}

func (c *Collector) collectNodes(ctx context.Context, ts time.Time) []models.MeasurementPoint {
	nodes, err := c.source.GetAllNodes(ctx)
	if err != nil {
		c.logger.Error("Failed to read node states", zap.Error(err))
		c.recordError()
		return nil
	}

	var points []models.MeasurementPoint
	for _, node := range nodes {
		deviceID := fmt.Sprintf("node_%d", node.NodeID)
		deviceType := "duco_" + node.NodeTypeName
		location := fmt.Sprintf("Node %d", node.NodeID)
		meta := map[string]interface{}{"source": "duco", "node_type": node.NodeTypeName}

		point := func(metric string, value float64, unit string) models.MeasurementPoint {
			return models.MeasurementPoint{
				Time:            ts,
				DeviceID:        deviceID,
				DeviceType:      deviceType,
				Location:        location,
				MeasurementType: metric,
				Value:           value,
				Unit:            unit,
				Metadata:        meta,
			}
		}

		if node.Humidity != nil {
			points = append(points, point("humidity", float64(*node.Humidity), "%"))
		}
		if node.CO2 != nil {
			points = append(points, point("co2", float64(*node.CO2), "ppm"))
		}
		if node.FlowRate != nil {
			points = append(points, point("flow_rate", float64(*node.FlowRate), "%"))
		}
	}
	return points
}

// collectDevices 从智能设备属性提取温湿度读数
// 属性值可能是字符串，宽容转换失败则跳过
func (c *Collector) collectDevices(ctx context.Context, ts time.Time) []models.MeasurementPoint {
	devices, err := c.source.GetAllDevices(ctx)
	if err != nil {
		c.logger.Error("Failed to read device states", zap.Error(err))
		c.recordError()
		return nil
	}

	propertyMetrics := []struct {
		property string
		metric   string
		unit     string
	}{
		{"AmbientTemperature", "temperature", "°C"},
		{"Humidity", "humidity", "%"},
		{"HeatIndex", "heat_index", "°C"},
	}

	var points []models.MeasurementPoint
	for _, device := range devices {
		location := "Unknown"
		if device.LocationName != nil {
			location = *device.LocationName
		}

		for _, pm := range propertyMetrics {
			raw, present := device.Properties[pm.property]
			if !present {
				continue
			}
			value, ok := models.TryFloat(raw)
			if !ok {
				continue
			}
			points = append(points, models.MeasurementPoint{
				Time:            ts,
				DeviceID:        device.UUID,
				DeviceType:      string(device.Class),
				Location:        location,
				MeasurementType: pm.metric,
				Value:           value,
				Unit:            pm.unit,
				Metadata:        map[string]interface{}{"source": "niko", "name": device.Name},
			})
		}
	}
	return points
}

func (c *Collector) recordError() {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
}

// Statistics 返回采集统计快照
func (c *Collector) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Running = c.running
	return stats
}
