package niko

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
	"smarthome-bridge/internal/publisher"
)

// catalogLister 全量同步需要的网关查询操作
type catalogLister interface {
	ListDevices(ctx context.Context) ([]models.RawDevice, error)
	ListLocations(ctx context.Context) ([]models.RawLocation, error)
}

// catalogPublisher 目录记录的发布与删除操作
type catalogPublisher interface {
	Publish(ctx context.Context, record interface{}) error
	PublishBatch(ctx context.Context, records []interface{}) publisher.BatchResult
	DeleteDevice(ctx context.Context, deviceUUID string) error
	DeleteLocation(ctx context.Context, locationUUID string) error
}

// IngestStats 事件摄取统计
type IngestStats struct {
	DeviceUpdates   int64     `json:"device_updates"`
	LocationUpdates int64     `json:"location_updates"`
	Notifications   int64     `json:"notifications"`
	UnknownEvents   int64     `json:"unknown_events"`
	Errors          int64     `json:"errors"`
	LastUpdate      time.Time `json:"last_update"`
}

// Ingestor 家居控制事件摄取器
// 维护设备/位置内存缓存，把事件规范化后发布
type Ingestor struct {
	lister    catalogLister
	publisher catalogPublisher
	logger    *zap.Logger

	mu        sync.RWMutex
	devices   map[string]*models.SmartDevice
	locations map[string]*models.Location
	stats     IngestStats
}

// NewIngestor 创建事件摄取器
func NewIngestor(lister catalogLister, pub catalogPublisher, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		lister:    lister,
		publisher: pub,
		logger:    logger,
		devices:   make(map[string]*models.SmartDevice),
		locations: make(map[string]*models.Location),
	}
}

// Resync 全量同步设备和位置目录
// 启动时调用一次，保证缓存与网关一致
func (i *Ingestor) Resync(ctx context.Context) error {
	i.logger.Info("Performing full catalog sync")

	rawDevices, err := i.lister.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	records := make([]interface{}, 0, len(rawDevices))
	i.mu.Lock()
	for _, raw := range rawDevices {
		device := models.ConvertDevice(raw)
		i.devices[device.UUID] = device
		records = append(records, device)
	}
	i.mu.Unlock()

	result := i.publisher.PublishBatch(ctx, records)
	i.logger.Info("Device catalog synced",
		zap.Int("devices", len(rawDevices)),
		zap.Int("published", result.Committed))

	rawLocations, err := i.lister.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list locations: %w", err)
	}

	for _, raw := range rawLocations {
		location := models.ConvertLocation(raw)
		i.mu.Lock()
		i.locations[location.UUID] = location
		i.mu.Unlock()

		if err := i.publisher.Publish(ctx, location); err != nil {
			i.logger.Error("Failed to publish location",
				zap.String("uuid", location.UUID),
				zap.Error(err))
			i.recordError()
		}
	}
	i.logger.Info("Location catalog synced", zap.Int("locations", len(rawLocations)))
	return nil
}

// HandleDeviceEvent 处理设备事件（added/changed/removed）
// 单台设备处理失败不影响同一事件里的其余设备
func (i *Ingestor) HandleDeviceEvent(method string, devices []models.RawDevice) {
	ctx := context.Background()

	for _, raw := range devices {
		if method == "devices.removed" {
			i.mu.Lock()
			delete(i.devices, raw.UUID)
			i.mu.Unlock()

			if err := i.publisher.DeleteDevice(ctx, raw.UUID); err != nil {
				i.logger.Error("Failed to delete device record",
					zap.String("uuid", raw.UUID),
					zap.Error(err))
				i.recordError()
				continue
			}
			i.logger.Info("Device removed", zap.String("uuid", raw.UUID))
			continue
		}

		device := models.ConvertDevice(raw)
		i.mu.Lock()
		i.devices[device.UUID] = device
		i.stats.DeviceUpdates++
		i.stats.LastUpdate = time.Now()
		i.mu.Unlock()

		if err := i.publisher.Publish(ctx, device); err != nil {
			i.logger.Error("Failed to publish device",
				zap.String("uuid", device.UUID),
				zap.Error(err))
			i.recordError()
			continue
		}
		i.logger.Info("Device updated",
			zap.String("name", device.Name),
			zap.String("class", string(device.Class)),
			zap.String("uuid", device.UUID))
	}
}

// HandleLocationEvent 处理位置事件
func (i *Ingestor) HandleLocationEvent(method string, locations []models.RawLocation) {
	ctx := context.Background()

	for _, raw := range locations {
		if method == "locations.removed" {
			i.mu.Lock()
			delete(i.locations, raw.UUID)
			i.mu.Unlock()

			if err := i.publisher.DeleteLocation(ctx, raw.UUID); err != nil {
				i.logger.Error("Failed to delete location record",
					zap.String("uuid", raw.UUID),
					zap.Error(err))
				i.recordError()
			}
			continue
		}

		location := models.ConvertLocation(raw)
		i.mu.Lock()
		i.locations[location.UUID] = location
		i.stats.LocationUpdates++
		i.stats.LastUpdate = time.Now()
		i.mu.Unlock()

		if err := i.publisher.Publish(ctx, location); err != nil {
			i.logger.Error("Failed to publish location",
				zap.String("uuid", location.UUID),
				zap.Error(err))
			i.recordError()
		}
	}
}

// HandleNotification 处理网关通知，只记录
func (i *Ingestor) HandleNotification(notifications []map[string]interface{}) {
	i.mu.Lock()
	i.stats.Notifications += int64(len(notifications))
	i.mu.Unlock()

	for _, n := range notifications {
		i.logger.Info("Gateway notification",
			zap.Any("type", n["Type"]),
			zap.Any("text", n["Text"]))
	}
}

// HandleSystemEvent 处理系统事件（时间同步、系统信息）
func (i *Ingestor) HandleSystemEvent(method string, params []Params) {
	switch method {
	case "time.published":
		i.logger.Debug("Gateway time sync received")
	case "systeminfo.published":
		i.logger.Info("Gateway system info received")
	default:
		i.mu.Lock()
		i.stats.UnknownEvents++
		i.mu.Unlock()
		i.logger.Debug("Unknown gateway event", zap.String("method", method))
	}
}

// HandleError 处理网关错误事件
func (i *Ingestor) HandleError(method, code, message string) {
	i.recordError()
	i.logger.Error("Gateway reported error",
		zap.String("method", method),
		zap.String("code", code),
		zap.String("message", message))
}

func (i *Ingestor) recordError() {
	i.mu.Lock()
	i.stats.Errors++
	i.mu.Unlock()
}

// Device 按 UUID 读取缓存的设备
func (i *Ingestor) Device(uuid string) (*models.SmartDevice, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	device, ok := i.devices[uuid]
	return device, ok
}

// Devices 返回全部缓存设备的快照
func (i *Ingestor) Devices() []*models.SmartDevice {
	i.mu.RLock()
	defer i.mu.RUnlock()
	devices := make([]*models.SmartDevice, 0, len(i.devices))
	for _, d := range i.devices {
		devices = append(devices, d)
	}
	return devices
}

// Locations 返回全部缓存位置的快照
func (i *Ingestor) Locations() []*models.Location {
	i.mu.RLock()
	defer i.mu.RUnlock()
	locations := make([]*models.Location, 0, len(i.locations))
	for _, l := range i.locations {
		locations = append(locations, l)
	}
	return locations
}

// Statistics 返回摄取统计快照
func (i *Ingestor) Statistics() IngestStats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.stats
}
