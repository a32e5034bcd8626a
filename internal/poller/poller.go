package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
	"smarthome-bridge/internal/publisher"
)

// VentilationClient 轮询器需要的通风控制器操作
type VentilationClient interface {
	ActiveNodes() []int
	NodeType(node int) (models.NodeType, bool)
	InvalidateNodeCache()

	VentilationMode() (models.VentilationMode, bool)
	VentilationStatus() (models.VentilationStatus, bool)
	FlowLevel() (int, bool)
	Humidity() (int, bool)
	CO2() (int, bool)
	AirQualityRH() (int, bool)
	AirQualityCO2() (int, bool)
	FilterRemainingDays() (int, bool)
	FilterStatus() (models.FilterStatus, bool)
	TemperatureODA() (float64, bool)
	TemperatureSUP() (float64, bool)
	TemperatureETA() (float64, bool)
	TemperatureEHA() (float64, bool)
	OutdoorTemperature() (float64, bool)
	WindSpeed() (float64, bool)
	Rain() (bool, bool)
	LightSouth() (float64, bool)
	LightEast() (float64, bool)
	LightWest() (float64, bool)
	APIVersion() (string, bool)
	RemainingWriteActions() (int, bool)
	ZoneSetpoint(zone int) (float64, bool)

	NodeRemainingTime(node int) (int, bool)
	NodeFlowLevel(node int) (int, bool)
	NodeAirQualityRH(node int) (int, bool)
	NodeAirQualityCO2(node int) (int, bool)
	NodeHumidity(node int) (int, bool)
	NodeCO2(node int) (int, bool)

	SetVentilationMode(mode models.VentilationMode) error
	IdentifyNode(node int, enable bool, force bool) error
}

// RecordPublisher 轮询器需要的发布操作
type RecordPublisher interface {
	Publish(ctx context.Context, record interface{}) error
	PublishBatch(ctx context.Context, records []interface{}) publisher.BatchResult
}

// Stats 轮询统计
type Stats struct {
	Polls         int64     `json:"polls"`
	SystemUpdates int64     `json:"system_updates"`
	NodeUpdates   int64     `json:"node_updates"`
	Errors        int64     `json:"errors"`
	LastPoll      time.Time `json:"last_poll"`
	LastError     string    `json:"last_error,omitempty"`
	ActiveNodes   []int     `json:"active_nodes"`
	Running       bool      `json:"running"`
}

// Poller 通风系统轮询器
// 周期轮询系统与节点状态并发布，周期性重扫网络拓扑
type Poller struct {
	client    VentilationClient
	publisher RecordPublisher
	logger    *zap.Logger

	deviceID       string
	pollInterval   time.Duration
	rescanInterval time.Duration

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	activeNodes []int
	lastScan    time.Time
	stats       Stats

	// 时钟注入点，测试用
	now   func() time.Time
	sleep func(time.Duration)
}

// NewPoller 创建轮询器
func NewPoller(client VentilationClient, pub RecordPublisher, deviceID string,
	pollInterval, rescanInterval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		client:         client,
		publisher:      pub,
		logger:         logger,
		deviceID:       deviceID,
		pollInterval:   pollInterval,
		rescanInterval: rescanInterval,
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// Start 启动轮询循环
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Warn("Poller already running")
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop()
	p.logger.Info("Ventilation poller started",
		zap.Duration("poll_interval", p.pollInterval),
		zap.Duration("rescan_interval", p.rescanInterval))
}

// Stop 停止轮询循环，最多等待 5 秒
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.Warn("Poller did not stop within timeout")
	}
	p.logger.Info("Ventilation poller stopped")
}

func (p *Poller) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop() {
	defer close(p.doneCh)

	for p.isRunning() {
		p.pollCycle()

		// 每秒检查一次停止标志，保证快速退出
		deadline := p.now().Add(p.pollInterval)
		for p.now().Before(deadline) {
			select {
			case <-p.stopCh:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// pollCycle 单个轮询周期：按需重扫网络，然后轮询系统和节点
func (p *Poller) pollCycle() {
	ctx := context.Background()

	p.mu.Lock()
	needRescan := p.lastScan.IsZero() || p.now().Sub(p.lastScan) > p.rescanInterval
	p.mu.Unlock()

	if needRescan {
		p.scanNetwork()
	}

	p.pollSystem(ctx)
	p.pollNodes(ctx)

	p.mu.Lock()
	p.stats.Polls++
	p.stats.LastPoll = p.now()
	p.mu.Unlock()
}

// scanNetwork 重扫节点位图并刷新类型缓存
func (p *Poller) scanNetwork() {
	p.logger.Info("Scanning ventilation network for active nodes")
	p.client.InvalidateNodeCache()
	nodes := p.client.ActiveNodes()

	p.mu.Lock()
	p.activeNodes = nodes
	p.lastScan = p.now()
	p.mu.Unlock()

	p.logger.Info("Network scan complete",
		zap.Int("node_count", len(nodes)),
		zap.Ints("nodes", nodes))
}

// pollSystem 采集系统级状态并发布
// 单项读取失败只留空字段；全部失败则不发布
func (p *Poller) pollSystem(ctx context.Context) {
	system := &models.VentilationSystem{
		DeviceID: p.deviceID,
		NodeType: models.NodeDucoBox,
	}
	any := false

	if v, ok := p.client.VentilationMode(); ok {
		system.Mode = &v
		any = true
	}
	if v, ok := p.client.VentilationStatus(); ok {
		system.Status = &v
		any = true
	}
	if v, ok := p.client.FlowLevel(); ok {
		system.FlowRate = &v
		any = true
	}
	if v, ok := p.client.Humidity(); ok {
		system.Humidity = &v
		any = true
	}
	if v, ok := p.client.CO2(); ok {
		system.CO2 = &v
		any = true
	}
	if v, ok := p.client.AirQualityRH(); ok {
		system.AirQualityRH = &v
		any = true
	}
	if v, ok := p.client.AirQualityCO2(); ok {
		system.AirQualityCO2 = &v
		any = true
	}
	if v, ok := p.client.FilterRemainingDays(); ok {
		system.FilterRemainingDays = &v
		any = true
	}
	if v, ok := p.client.FilterStatus(); ok {
		system.FilterStatus = &v
		any = true
	}
	if v, ok := p.client.TemperatureODA(); ok {
		system.TemperatureODA = &v
		any = true
	}
	if v, ok := p.client.TemperatureSUP(); ok {
		system.TemperatureSUP = &v
		any = true
	}
	if v, ok := p.client.TemperatureETA(); ok {
		system.TemperatureETA = &v
		any = true
	}
	if v, ok := p.client.TemperatureEHA(); ok {
		system.TemperatureEHA = &v
		any = true
	}
	if v, ok := p.client.OutdoorTemperature(); ok {
		system.OutdoorTemperature = &v
		any = true
	}
	if v, ok := p.client.WindSpeed(); ok {
		system.WindSpeed = &v
		any = true
	}
	if v, ok := p.client.Rain(); ok {
		system.Rain = &v
		any = true
	}
	if v, ok := p.client.LightSouth(); ok {
		system.LightSouth = &v
		any = true
	}
	if v, ok := p.client.LightEast(); ok {
		system.LightEast = &v
		any = true
	}
	if v, ok := p.client.LightWest(); ok {
		system.LightWest = &v
		any = true
	}
	if v, ok := p.client.APIVersion(); ok {
		system.APIVersion = &v
		any = true
	}
	if v, ok := p.client.RemainingWriteActions(); ok {
		system.RemainingWriteActions = &v
		any = true
	}

	zones := []**float64{
		&system.SupplyTempZone1, &system.SupplyTempZone2,
		&system.SupplyTempZone3, &system.SupplyTempZone4,
	}
	for i, target := range zones {
		if v, ok := p.client.ZoneSetpoint(i + 1); ok {
			*target = &v
			any = true
		}
	}

	if !any {
		p.logger.Warn("No system data retrieved, skipping publish")
		p.recordError("all system reads failed")
		return
	}

	if err := p.publisher.Publish(ctx, system); err != nil {
		p.logger.Error("Failed to publish system state", zap.Error(err))
		p.recordError(err.Error())
		return
	}

	p.mu.Lock()
	p.stats.SystemUpdates++
	p.mu.Unlock()
}

// pollNodes 轮询活跃节点并批量发布
// 主机自身节点跳过（已由系统轮询覆盖），无数据节点不发布
func (p *Poller) pollNodes(ctx context.Context) {
	p.mu.Lock()
	nodes := append([]int(nil), p.activeNodes...)
	p.mu.Unlock()

	if len(nodes) == 0 {
		return
	}

	var records []interface{}
	for _, nodeID := range nodes {
		nodeType, ok := p.client.NodeType(nodeID)
		if !ok {
			p.logger.Debug("Could not determine node type", zap.Int("node_id", nodeID))
			continue
		}
		if nodeType == models.NodeDucoBox {
			continue
		}

		node := &models.VentilationNode{
			DeviceID:     fmt.Sprintf("node_%d", nodeID),
			NodeID:       nodeID,
			NodeType:     nodeType,
			NodeTypeName: nodeType.String(),
		}

		if v, ok := p.client.NodeRemainingTime(nodeID); ok {
			node.RemainingTime = &v
		}
		if v, ok := p.client.NodeFlowLevel(nodeID); ok {
			node.FlowRate = &v
		}
		if v, ok := p.client.NodeAirQualityRH(nodeID); ok {
			node.AirQualityRH = &v
		}
		if v, ok := p.client.NodeAirQualityCO2(nodeID); ok {
			node.AirQualityCO2 = &v
		}
		if v, ok := p.client.NodeHumidity(nodeID); ok {
			node.Humidity = &v
		}
		if v, ok := p.client.NodeCO2(nodeID); ok {
			node.CO2 = &v
		}

		if !node.HasData() {
			p.logger.Debug("Node has no data, skipping",
				zap.Int("node_id", nodeID),
				zap.String("node_type", node.NodeTypeName))
			continue
		}
		records = append(records, node)
	}

	if len(records) == 0 {
		return
	}

	result := p.publisher.PublishBatch(ctx, records)
	p.mu.Lock()
	p.stats.NodeUpdates += int64(result.Committed)
	p.mu.Unlock()

	if result.PrepareFailed > 0 || result.CommitFailed > 0 {
		p.recordError(fmt.Sprintf("node batch publish: %d prepare failures, %d commit failures",
			result.PrepareFailed, result.CommitFailed))
	}
	p.logger.Info("Published node states", zap.Int("count", result.Committed))
}

// PollNow 在定时轮询之外立即触发一次轮询
func (p *Poller) PollNow() error {
	if !p.isRunning() {
		return fmt.Errorf("poller is not running")
	}
	ctx := context.Background()
	p.pollSystem(ctx)
	p.pollNodes(ctx)
	return nil
}

// SetVentilationMode 设置通风模式，等待设备生效后立即重新轮询
func (p *Poller) SetVentilationMode(mode models.VentilationMode) error {
	if err := p.client.SetVentilationMode(mode); err != nil {
		p.recordError(err.Error())
		return err
	}
	p.logger.Info("Ventilation mode changed", zap.String("mode", mode.String()))

	p.sleep(time.Second)
	if p.isRunning() {
		return p.PollNow()
	}
	return nil
}

// IdentifyNode 点亮节点识别灯一段时间后熄灭
// 点亮成功后即使中途出错也尝试熄灭
func (p *Poller) IdentifyNode(nodeID int, duration time.Duration) error {
	if err := p.client.IdentifyNode(nodeID, true, true); err != nil {
		p.recordError(err.Error())
		return fmt.Errorf("failed to identify node %d: %w", nodeID, err)
	}

	p.sleep(duration)

	if err := p.client.IdentifyNode(nodeID, false, true); err != nil {
		p.logger.Warn("Failed to turn off node identification",
			zap.Int("node_id", nodeID),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *Poller) recordError(msg string) {
	p.mu.Lock()
	p.stats.Errors++
	p.stats.LastError = msg
	p.mu.Unlock()
}

// Statistics 返回当前统计快照
func (p *Poller) Statistics() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.ActiveNodes = append([]int(nil), p.activeNodes...)
	stats.Running = p.running
	return stats
}
