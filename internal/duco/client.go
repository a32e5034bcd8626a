package duco

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
)

const (
	// 连接超时
	connectTimeout = 3 * time.Second

	// 写操作最小间隔（设备侧的写预算保护）
	writeInterval = 2 * time.Second

	// 网络节点 ID 的有效范围
	minNodeID = 1
	maxNodeID = 143
)

// registerBus Modbus 寄存器读写接口，便于测试注入
type registerBus interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Client 通风控制器的 Modbus TCP 客户端
// 所有写操作串行化并强制 2 秒最小间隔
type Client struct {
	host           string
	port           int
	registerOffset int

	handler *modbus.TCPClientHandler
	bus     registerBus
	logger  *zap.Logger

	writeMu   sync.Mutex
	lastWrite time.Time

	// 节点类型缓存（网络拓扑稳定，无限期缓存）
	cacheMu   sync.RWMutex
	nodeTypes map[int]models.NodeType

	// 时钟注入点，测试用
	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient 创建通风控制器客户端
func NewClient(host string, port int, unitID byte, registerOffset int, logger *zap.Logger) *Client {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", host, port))
	handler.Timeout = connectTimeout
	handler.SlaveId = unitID

	return &Client{
		host:           host,
		port:           port,
		registerOffset: registerOffset,
		handler:        handler,
		bus:            modbus.NewClient(handler),
		logger:         logger,
		nodeTypes:      make(map[int]models.NodeType),
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// Connect 建立到控制器的 TCP 连接
func (c *Client) Connect() error {
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("failed to connect to ventilation controller at %s:%d: %w", c.host, c.port, err)
	}
	c.logger.Info("Connected to ventilation controller",
		zap.String("host", c.host),
		zap.Int("port", c.port))
	return nil
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.handler.Close()
}

func (c *Client) adjustRegister(register int) uint16 {
	return uint16(register + c.registerOffset)
}

// ReadInput 读取单个输入寄存器，失败返回 ok=false
func (c *Client) ReadInput(register int) (uint16, bool) {
	data, err := c.bus.ReadInputRegisters(c.adjustRegister(register), 1)
	if err != nil || len(data) < 2 {
		c.logger.Debug("Input register read failed",
			zap.Int("register", register),
			zap.Error(err))
		return 0, false
	}
	return binary.BigEndian.Uint16(data), true
}

// ReadHolding 读取单个保持寄存器，失败返回 ok=false
func (c *Client) ReadHolding(register int) (uint16, bool) {
	data, err := c.bus.ReadHoldingRegisters(c.adjustRegister(register), 1)
	if err != nil || len(data) < 2 {
		c.logger.Debug("Holding register read failed",
			zap.Int("register", register),
			zap.Error(err))
		return 0, false
	}
	return binary.BigEndian.Uint16(data), true
}

// WriteHolding 写入单个保持寄存器
// 与上一次写操作的间隔不足 2 秒时阻塞等待
func (c *Client) WriteHolding(register int, value uint16) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if elapsed := c.now().Sub(c.lastWrite); elapsed < writeInterval {
		c.sleep(writeInterval - elapsed)
	}
	c.lastWrite = c.now()

	if _, err := c.bus.WriteSingleRegister(c.adjustRegister(register), value); err != nil {
		c.logger.Warn("Holding register write failed",
			zap.Int("register", register),
			zap.Uint16("value", value),
			zap.Error(err))
		return false
	}
	return true
}

// DecodeTemperature 温度寄存器解码，0.1°C 分辨率，高位补码表示负值
func DecodeTemperature(raw uint16) float64 {
	if raw >= 32768 {
		return (float64(raw) - 65536) / 10.0
	}
	return float64(raw) / 10.0
}

// EncodeTemperature 温度编码为寄存器值
func EncodeTemperature(temperature float64) uint16 {
	return uint16(int16(temperature * 10))
}

// ============================================================================
// 系统级参数（输入寄存器 20-31）
// ============================================================================

func (c *Client) readTemperature(register int) (float64, bool) {
	raw, ok := c.ReadInput(register)
	if !ok {
		return 0, false
	}
	return DecodeTemperature(raw), true
}

// TemperatureODA 室外新风温度（°C）
func (c *Client) TemperatureODA() (float64, bool) { return c.readTemperature(20) }

// TemperatureSUP 送风温度（°C）
func (c *Client) TemperatureSUP() (float64, bool) { return c.readTemperature(21) }

// TemperatureETA 回风温度（°C）
func (c *Client) TemperatureETA() (float64, bool) { return c.readTemperature(22) }

// TemperatureEHA 排风温度（°C）
func (c *Client) TemperatureEHA() (float64, bool) { return c.readTemperature(23) }

// OutdoorTemperature 气象站室外温度（°C）
func (c *Client) OutdoorTemperature() (float64, bool) { return c.readTemperature(24) }

// WindSpeed 气象站风速（m/s）
func (c *Client) WindSpeed() (float64, bool) {
	raw, ok := c.ReadInput(25)
	if !ok {
		return 0, false
	}
	return float64(raw) / 10.0, true
}

// Rain 气象站降雨状态
func (c *Client) Rain() (bool, bool) {
	raw, ok := c.ReadInput(26)
	if !ok {
		return false, false
	}
	return raw != 0, true
}

func (c *Client) readLight(register int) (float64, bool) {
	raw, ok := c.ReadInput(register)
	if !ok {
		return 0, false
	}
	return float64(raw) / 1000.0, true
}

// LightSouth 南向光照强度（klx）
func (c *Client) LightSouth() (float64, bool) { return c.readLight(27) }

// LightEast 东向光照强度（klx）
func (c *Client) LightEast() (float64, bool) { return c.readLight(28) }

// LightWest 西向光照强度（klx）
func (c *Client) LightWest() (float64, bool) { return c.readLight(29) }

// APIVersion 本地 API 版本号（寄存器值 205 表示 "2.5"）
func (c *Client) APIVersion() (string, bool) {
	raw, ok := c.ReadInput(30)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d.%d", raw/100, raw%100), true
}

// RemainingWriteActions 到午夜前剩余的写操作次数
func (c *Client) RemainingWriteActions() (int, bool) {
	raw, ok := c.ReadInput(31)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// ============================================================================
// 主机参数（输入寄存器 100-110，保持寄存器 100-105）
// ============================================================================

// SystemType 系统类型编码（17 为通风主机）
func (c *Client) SystemType() (int, bool) {
	raw, ok := c.ReadInput(100)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// RemainingModeTime 当前通风模式剩余时间（秒）
func (c *Client) RemainingModeTime() (int, bool) {
	raw, ok := c.ReadInput(102)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// FlowLevel 实际风量相对目标值（%）
func (c *Client) FlowLevel() (int, bool) {
	raw, ok := c.ReadInput(103)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// AirQualityRH 基于相对湿度的空气质量（%）
func (c *Client) AirQualityRH() (int, bool) {
	raw, ok := c.ReadInput(104)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// AirQualityCO2 基于 CO2 的空气质量（%）
func (c *Client) AirQualityCO2() (int, bool) {
	raw, ok := c.ReadInput(105)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// VentilationStatus 通风状态，未知编码视为读取失败
func (c *Client) VentilationStatus() (models.VentilationStatus, bool) {
	raw, ok := c.ReadInput(106)
	if !ok {
		return 0, false
	}
	status := models.VentilationStatus(raw)
	if status != models.StatusOK && status != models.StatusError && status != models.StatusInactive {
		return 0, false
	}
	return status, true
}

// FilterRemainingDays 滤网剩余寿命（天）
func (c *Client) FilterRemainingDays() (int, bool) {
	raw, ok := c.ReadInput(107)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// FilterStatus 滤网状态，未知编码视为读取失败
func (c *Client) FilterStatus() (models.FilterStatus, bool) {
	raw, ok := c.ReadInput(108)
	if !ok {
		return 0, false
	}
	status := models.FilterStatus(raw)
	if status != models.FilterOK && status != models.FilterDirty && status != models.FilterInactive {
		return 0, false
	}
	return status, true
}

// Humidity 主机相对湿度（%）
func (c *Client) Humidity() (int, bool) {
	raw, ok := c.ReadInput(109)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// CO2 主机 CO2 浓度（ppm）
func (c *Client) CO2() (int, bool) {
	raw, ok := c.ReadInput(110)
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// VentilationMode 当前通风模式（保持寄存器 100），未知编码视为读取失败
func (c *Client) VentilationMode() (models.VentilationMode, bool) {
	raw, ok := c.ReadHolding(100)
	if !ok {
		return 0, false
	}
	mode := models.VentilationMode(raw)
	if !mode.IsValid() {
		return 0, false
	}
	return mode, true
}

// SetVentilationMode 设置通风模式（保持寄存器 100）
func (c *Client) SetVentilationMode(mode models.VentilationMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid ventilation mode: %d", mode)
	}
	if !c.WriteHolding(100, uint16(mode)) {
		return fmt.Errorf("failed to write ventilation mode %s", mode)
	}
	c.logger.Info("Ventilation mode set", zap.String("mode", mode.String()))
	return nil
}

// IdentifyBox 开关主机识别指示灯（保持寄存器 101）
func (c *Client) IdentifyBox(enable bool) error {
	value := uint16(0)
	if enable {
		value = 1
	}
	if !c.WriteHolding(101, value) {
		return fmt.Errorf("failed to write box identify register")
	}
	return nil
}

// ZoneSetpoint 读取送风区域舒适温度（保持寄存器 102-105，区域 1-4）
func (c *Client) ZoneSetpoint(zone int) (float64, bool) {
	if zone < 1 || zone > 4 {
		return 0, false
	}
	raw, ok := c.ReadHolding(101 + zone)
	if !ok {
		return 0, false
	}
	return DecodeTemperature(raw), true
}

// SetZoneSetpoint 设置送风区域舒适温度
func (c *Client) SetZoneSetpoint(zone int, temperature float64) error {
	if zone < 1 || zone > 4 {
		return fmt.Errorf("zone must be between 1 and 4, got %d", zone)
	}
	if !c.WriteHolding(101+zone, EncodeTemperature(temperature)) {
		return fmt.Errorf("failed to write zone %d setpoint", zone)
	}
	return nil
}

// ============================================================================
// 节点级参数（寄存器地址 = 节点号*100 + 参数号）
// ============================================================================

func nodeRegister(node, param int) int {
	return node*100 + param
}

// NodeType 查询节点类型，结果无限期缓存
func (c *Client) NodeType(node int) (models.NodeType, bool) {
	c.cacheMu.RLock()
	if t, ok := c.nodeTypes[node]; ok {
		c.cacheMu.RUnlock()
		return t, true
	}
	c.cacheMu.RUnlock()

	raw, ok := c.ReadInput(nodeRegister(node, 0))
	if !ok {
		return 0, false
	}

	t := models.NodeType(raw)
	if !t.IsKnown() {
		t = models.NodeUnknown
	}

	c.cacheMu.Lock()
	c.nodeTypes[node] = t
	c.cacheMu.Unlock()
	return t, true
}

// InvalidateNodeCache 清空节点类型缓存（网络重新扫描后调用）
func (c *Client) InvalidateNodeCache() {
	c.cacheMu.Lock()
	c.nodeTypes = make(map[int]models.NodeType)
	c.cacheMu.Unlock()
}

// nodeCaps 返回节点的能力集合，类型未知时 known=false
func (c *Client) nodeCaps(node int) (caps NodeCapabilities, known bool) {
	t, ok := c.NodeType(node)
	if !ok {
		return NodeCapabilities{}, false
	}
	return Capabilities(t)
}

// 能力表声明不支持的参数直接返回 ok=false，不发起总线读取
// 未知类型放行尝试读取

// NodeRemainingTime 节点当前模式剩余时间（秒）
func (c *Client) NodeRemainingTime(node int) (int, bool) {
	if caps, known := c.nodeCaps(node); known && !caps.HasRemainingTime {
		return 0, false
	}
	raw, ok := c.ReadInput(nodeRegister(node, 2))
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// NodeFlowLevel 节点风量相对目标值（%）
func (c *Client) NodeFlowLevel(node int) (int, bool) {
	if caps, known := c.nodeCaps(node); known && !caps.HasFlowLevel {
		return 0, false
	}
	raw, ok := c.ReadInput(nodeRegister(node, 3))
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// NodeAirQualityRH 节点基于湿度的空气质量（%）
func (c *Client) NodeAirQualityRH(node int) (int, bool) {
	if caps, known := c.nodeCaps(node); known && !caps.HasAirQualityRH {
		return 0, false
	}
	raw, ok := c.ReadInput(nodeRegister(node, 4))
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// NodeAirQualityCO2 节点基于 CO2 的空气质量（%）
func (c *Client) NodeAirQualityCO2(node int) (int, bool) {
	if caps, known := c.nodeCaps(node); known && !caps.HasAirQualityCO2 {
		return 0, false
	}
	raw, ok := c.ReadInput(nodeRegister(node, 5))
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// NodeHumidity 节点相对湿度（%）
func (c *Client) NodeHumidity(node int) (int, bool) {
	if caps, known := c.nodeCaps(node); known && !caps.HasHumidity {
		return 0, false
	}
	raw, ok := c.ReadInput(nodeRegister(node, 9))
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// NodeCO2 节点 CO2 浓度（ppm）
func (c *Client) NodeCO2(node int) (int, bool) {
	if caps, known := c.nodeCaps(node); known && !caps.HasCO2 {
		return 0, false
	}
	raw, ok := c.ReadInput(nodeRegister(node, 10))
	if !ok {
		return 0, false
	}
	return int(raw), true
}

// SetNodeMode 设置节点通风模式（保持寄存器 节点号*100+0）
func (c *Client) SetNodeMode(node int, mode models.VentilationMode) error {
	if caps, known := c.nodeCaps(node); known && !caps.CanSetMode {
		return fmt.Errorf("node %d does not support ventilation mode setting", node)
	}
	if !mode.IsValid() {
		return fmt.Errorf("invalid ventilation mode: %d", mode)
	}
	if !c.WriteHolding(nodeRegister(node, 0), uint16(mode)) {
		return fmt.Errorf("failed to write mode for node %d", node)
	}
	return nil
}

// IdentifyNode 开关节点识别指示灯（保持寄存器 节点号*100+1）
// force 为真时跳过能力检查强行尝试
func (c *Client) IdentifyNode(node int, enable bool, force bool) error {
	if !force {
		if caps, known := c.nodeCaps(node); known && !caps.CanIdentify {
			return fmt.Errorf("node %d does not support identification", node)
		}
	}
	value := uint16(0)
	if enable {
		value = 1
	}
	if !c.WriteHolding(nodeRegister(node, 1), value) {
		return fmt.Errorf("failed to write identify register for node %d", node)
	}
	return nil
}

// ============================================================================
// 网络发现
// ============================================================================

// ActiveNodes 扫描输入寄存器 0-8 的节点存在位图
// 每个寄存器覆盖 16 个节点号，返回升序的有效节点列表
func (c *Client) ActiveNodes() []int {
	var nodes []int
	for reg := 0; reg < 9; reg++ {
		value, ok := c.ReadInput(reg)
		if !ok {
			continue
		}
		base := reg * 16
		for bit := 0; bit < 16; bit++ {
			if value&(1<<bit) == 0 {
				continue
			}
			node := base + bit
			if node >= minNodeID && node <= maxNodeID {
				nodes = append(nodes, node)
			}
		}
	}
	return nodes
}

// ScanNetwork 扫描网络并返回节点号到类型的映射
func (c *Client) ScanNetwork() map[int]models.NodeType {
	result := make(map[int]models.NodeType)
	for _, node := range c.ActiveNodes() {
		if t, ok := c.NodeType(node); ok {
			result[node] = t
		}
	}
	return result
}
