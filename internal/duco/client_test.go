package duco

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
)

// fakeBus 内存寄存器总线，记录写操作
type fakeBus struct {
	input   map[uint16]uint16
	holding map[uint16]uint16
	writes  []writeOp

	failInput   bool
	failHolding bool
	failWrite   bool
}

type writeOp struct {
	address uint16
	value   uint16
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		input:   make(map[uint16]uint16),
		holding: make(map[uint16]uint16),
	}
}

func encodeRegister(v uint16) []byte {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, v)
	return data
}

func (f *fakeBus) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if f.failInput {
		return nil, errors.New("read failed")
	}
	v, ok := f.input[address]
	if !ok {
		return nil, errors.New("illegal data address")
	}
	return encodeRegister(v), nil
}

func (f *fakeBus) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if f.failHolding {
		return nil, errors.New("read failed")
	}
	v, ok := f.holding[address]
	if !ok {
		return nil, errors.New("illegal data address")
	}
	return encodeRegister(v), nil
}

func (f *fakeBus) WriteSingleRegister(address, value uint16) ([]byte, error) {
	if f.failWrite {
		return nil, errors.New("write failed")
	}
	f.writes = append(f.writes, writeOp{address, value})
	f.holding[address] = value
	return encodeRegister(value), nil
}

func newTestClient(bus *fakeBus) *Client {
	client := NewClient("127.0.0.1", 502, 1, 0, zap.NewNop())
	client.bus = bus
	client.sleep = func(time.Duration) {}
	return client
}

func TestDecodeTemperature(t *testing.T) {
	cases := []struct {
		raw  uint16
		want float64
	}{
		{215, 21.5},
		{0, 0.0},
		{100, 10.0},
		{65531, -0.5}, // 补码负值
		{65436, -10.0},
		{32768, -3276.8},
		{32767, 3276.7},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, DecodeTemperature(c.raw), 0.0001, "raw=%d", c.raw)
	}
}

func TestEncodeTemperature_RoundTrip(t *testing.T) {
	for _, temp := range []float64{21.5, 0.0, -0.5, -10.0, 35.0} {
		assert.InDelta(t, temp, DecodeTemperature(EncodeTemperature(temp)), 0.0001)
	}
}

func TestClient_SystemReads(t *testing.T) {
	bus := newFakeBus()
	bus.input[20] = 215   // ODA 21.5°C
	bus.input[23] = 65436 // EHA -10.0°C
	bus.input[25] = 35    // 风速 3.5 m/s
	bus.input[26] = 1     // 降雨
	bus.input[27] = 45000 // 南向光照 45 klx
	bus.input[30] = 205   // API 2.5
	bus.input[31] = 38
	bus.input[109] = 45
	bus.input[110] = 850

	client := newTestClient(bus)

	oda, ok := client.TemperatureODA()
	require.True(t, ok)
	assert.InDelta(t, 21.5, oda, 0.0001)

	eha, ok := client.TemperatureEHA()
	require.True(t, ok)
	assert.InDelta(t, -10.0, eha, 0.0001)

	wind, ok := client.WindSpeed()
	require.True(t, ok)
	assert.InDelta(t, 3.5, wind, 0.0001)

	rain, ok := client.Rain()
	require.True(t, ok)
	assert.True(t, rain)

	light, ok := client.LightSouth()
	require.True(t, ok)
	assert.InDelta(t, 45.0, light, 0.0001)

	version, ok := client.APIVersion()
	require.True(t, ok)
	assert.Equal(t, "2.5", version)

	remaining, ok := client.RemainingWriteActions()
	require.True(t, ok)
	assert.Equal(t, 38, remaining)

	humidity, ok := client.Humidity()
	require.True(t, ok)
	assert.Equal(t, 45, humidity)

	co2, ok := client.CO2()
	require.True(t, ok)
	assert.Equal(t, 850, co2)

	// 未映射寄存器读取失败
	_, ok = client.TemperatureSUP()
	assert.False(t, ok)
}

func TestClient_VentilationMode(t *testing.T) {
	bus := newFakeBus()
	bus.holding[100] = uint16(models.ModeManual2)

	client := newTestClient(bus)

	mode, ok := client.VentilationMode()
	require.True(t, ok)
	assert.Equal(t, models.ModeManual2, mode)

	// 未知模式编码视为读取失败
	bus.holding[100] = 99
	_, ok = client.VentilationMode()
	assert.False(t, ok)

	// 写入
	require.NoError(t, client.SetVentilationMode(models.ModeManual3))
	assert.Equal(t, uint16(models.ModeManual3), bus.holding[100])

	assert.Error(t, client.SetVentilationMode(models.VentilationMode(99)))
}

func TestClient_WriteRateLimit(t *testing.T) {
	bus := newFakeBus()
	client := newTestClient(bus)

	current := time.Unix(1000, 0)
	client.now = func() time.Time { return current }

	var slept []time.Duration
	client.sleep = func(d time.Duration) {
		slept = append(slept, d)
		current = current.Add(d)
	}

	// 第一次写立即执行（lastWrite 为零值，间隔早已超过）
	require.True(t, client.WriteHolding(100, 1))
	assert.Empty(t, slept)

	// 0.5 秒后再写：需等待 1.5 秒
	current = current.Add(500 * time.Millisecond)
	require.True(t, client.WriteHolding(100, 2))
	require.Len(t, slept, 1)
	assert.Equal(t, 1500*time.Millisecond, slept[0])

	// 3 秒后再写：无需等待
	current = current.Add(3 * time.Second)
	require.True(t, client.WriteHolding(100, 3))
	assert.Len(t, slept, 1)
}

func TestClient_ActiveNodes(t *testing.T) {
	bus := newFakeBus()
	// 寄存器 0：bit0（节点 0，越界丢弃）、bit1、bit5
	bus.input[0] = 1<<0 | 1<<1 | 1<<5
	// 寄存器 3：bit4 -> 节点 52
	bus.input[3] = 1 << 4
	// 寄存器 8：bit15 -> 节点 143（上界保留）
	bus.input[8] = 1 << 15

	client := newTestClient(bus)

	assert.Equal(t, []int{1, 5, 52, 143}, client.ActiveNodes())
}

func TestClient_ActiveNodes_ReadFailuresSkipped(t *testing.T) {
	bus := newFakeBus()
	bus.input[2] = 1 << 0 // 节点 32

	client := newTestClient(bus)

	// 其余位图寄存器读取失败，不影响已读到的部分
	assert.Equal(t, []int{32}, client.ActiveNodes())
}

func TestClient_NodeTypeCache(t *testing.T) {
	bus := newFakeBus()
	bus.input[5200] = uint16(models.NodeHumidityValve)

	client := newTestClient(bus)

	nodeType, ok := client.NodeType(52)
	require.True(t, ok)
	assert.Equal(t, models.NodeHumidityValve, nodeType)

	// 删除寄存器后仍命中缓存
	delete(bus.input, 5200)
	nodeType, ok = client.NodeType(52)
	require.True(t, ok)
	assert.Equal(t, models.NodeHumidityValve, nodeType)

	// 失效后重新读取失败
	client.InvalidateNodeCache()
	_, ok = client.NodeType(52)
	assert.False(t, ok)
}

func TestClient_NodeCapabilityGating(t *testing.T) {
	bus := newFakeBus()
	// 节点 5：湿度阀，有湿度无 CO2
	bus.input[500] = uint16(models.NodeHumidityValve)
	bus.input[509] = 45
	bus.input[510] = 850 // 即使寄存器有值，能力表禁止读取

	client := newTestClient(bus)

	humidity, ok := client.NodeHumidity(5)
	require.True(t, ok)
	assert.Equal(t, 45, humidity)

	_, ok = client.NodeCO2(5)
	assert.False(t, ok, "capability table forbids CO2 read on humidity valve")
}

func TestClient_NodeUnknownTypeReadsPermitted(t *testing.T) {
	bus := newFakeBus()
	bus.input[700] = 999 // 未知类型编码
	bus.input[709] = 50

	client := newTestClient(bus)

	nodeType, ok := client.NodeType(7)
	require.True(t, ok)
	assert.Equal(t, models.NodeUnknown, nodeType)

	// 未知类型不做能力门控，放行尝试
	humidity, ok := client.NodeHumidity(7)
	require.True(t, ok)
	assert.Equal(t, 50, humidity)
}

func TestClient_IdentifyNode(t *testing.T) {
	bus := newFakeBus()
	// 箱体传感器不支持识别
	bus.input[900] = uint16(models.NodeHumidityBoxSensor)

	client := newTestClient(bus)

	err := client.IdentifyNode(9, true, false)
	assert.Error(t, err)
	assert.Empty(t, bus.writes)

	// force 跳过能力检查
	require.NoError(t, client.IdentifyNode(9, true, true))
	require.Len(t, bus.writes, 1)
	assert.Equal(t, writeOp{901, 1}, bus.writes[0])
}

func TestClient_SetNodeMode(t *testing.T) {
	bus := newFakeBus()
	bus.input[1800] = uint16(models.NodeSwitchContact) // 不支持设置模式

	client := newTestClient(bus)

	assert.Error(t, client.SetNodeMode(18, models.ModeManual1))

	bus.input[500] = uint16(models.NodeHumidityValve)
	require.NoError(t, client.SetNodeMode(5, models.ModeManual1))
	assert.Equal(t, writeOp{500, uint16(models.ModeManual1)}, bus.writes[len(bus.writes)-1])
}

func TestClient_ZoneSetpoint(t *testing.T) {
	bus := newFakeBus()
	client := newTestClient(bus)

	require.NoError(t, client.SetZoneSetpoint(2, 21.5))
	assert.Equal(t, writeOp{103, 215}, bus.writes[0])

	setpoint, ok := client.ZoneSetpoint(2)
	require.True(t, ok)
	assert.InDelta(t, 21.5, setpoint, 0.0001)

	assert.Error(t, client.SetZoneSetpoint(0, 20.0))
	assert.Error(t, client.SetZoneSetpoint(5, 20.0))
	_, ok = client.ZoneSetpoint(5)
	assert.False(t, ok)
}

func TestClient_RegisterOffset(t *testing.T) {
	bus := newFakeBus()
	bus.input[30] = 215 // 偏移后的寄存器 20

	client := NewClient("127.0.0.1", 502, 1, 10, zap.NewNop())
	client.bus = bus
	client.sleep = func(time.Duration) {}

	oda, ok := client.TemperatureODA()
	require.True(t, ok)
	assert.InDelta(t, 21.5, oda, 0.0001)
}

func TestCapabilities(t *testing.T) {
	caps, ok := Capabilities(models.NodeCO2RHValve)
	require.True(t, ok)
	assert.True(t, caps.HasHumidity)
	assert.True(t, caps.HasCO2)
	assert.True(t, caps.CanSetMode)
	assert.True(t, caps.CanIdentify)

	_, ok = Capabilities(models.NodeDucoBox)
	assert.False(t, ok, "main unit polled via system registers, not node capability table")
}
