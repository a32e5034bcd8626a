package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceClass 设备类别判别标签（封闭集合）
type DeviceClass string

const (
	ClassAction     DeviceClass = "generic-action"
	ClassDimmer     DeviceClass = "dimmer-action"
	ClassRelay      DeviceClass = "relay-action"
	ClassFan        DeviceClass = "fan-action"
	ClassMotor      DeviceClass = "motor-action"
	ClassThermostat DeviceClass = "thermostat"
	ClassSensor     DeviceClass = "multisensor"
	ClassMeter      DeviceClass = "centralmeter"
	ClassPlug       DeviceClass = "smartplug"
	ClassEnergyHome DeviceClass = "energyhome"
	ClassAudio      DeviceClass = "audiocontrol"
)

// ActionState 通用动作设备状态
type ActionState struct {
	Status     *string `json:"status,omitempty"`
	BasicState *string `json:"basic_state,omitempty"`
	AllStarted *bool   `json:"all_started,omitempty"`
}

// DimmerState 调光器状态
type DimmerState struct {
	Status     *string `json:"status,omitempty"`
	Brightness *int    `json:"brightness,omitempty"` // 0-100
	Aligned    *bool   `json:"aligned,omitempty"`
}

// RelayState 继电器状态
type RelayState struct {
	Status     *string `json:"status,omitempty"`
	BasicState *string `json:"basic_state,omitempty"`
}

// FanState 风扇状态
type FanState struct {
	FanSpeed *string `json:"fan_speed,omitempty"` // Low, Medium, High, Boost
}

// MotorState 电机类设备状态（卷帘、遮阳、大门、百叶）
type MotorState struct {
	Position      *int    `json:"position,omitempty"` // 0-100
	Aligned       *bool   `json:"aligned,omitempty"`
	Moving        *bool   `json:"moving,omitempty"`
	LastDirection *string `json:"last_direction,omitempty"` // Open, Close
}

// ThermostatState 温控器状态
type ThermostatState struct {
	Program             *string  `json:"program,omitempty"`
	AmbientTemperature  *float64 `json:"ambient_temperature,omitempty"`
	SetpointTemperature *float64 `json:"setpoint_temperature,omitempty"`
	OverruleActive      *bool    `json:"overrule_active,omitempty"`
	EcoSave             *bool    `json:"eco_save,omitempty"`
	Demand              *string  `json:"demand,omitempty"` // Heating, Cooling, None
}

// SensorState 温湿度传感器状态
type SensorState struct {
	AmbientTemperature *float64 `json:"ambient_temperature,omitempty"`
	Humidity           *float64 `json:"humidity,omitempty"`
	HeatIndex          *float64 `json:"heat_index,omitempty"`
}

// MeterState 计量设备状态
type MeterState struct {
	ElectricalPower    *float64 `json:"electrical_power,omitempty"`  // W
	ElectricalEnergy   *float64 `json:"electrical_energy,omitempty"` // Wh
	ReportInstantUsage *bool    `json:"report_instant_usage,omitempty"`
	MeterType          *string  `json:"meter_type,omitempty"`
	Flow               *string  `json:"flow,omitempty"` // Producer, Consumer
}

// PlugState 智能插座状态
type PlugState struct {
	Status             *string  `json:"status,omitempty"`
	ElectricalPower    *float64 `json:"electrical_power,omitempty"`
	ElectricalEnergy   *float64 `json:"electrical_energy,omitempty"`
	ReportInstantUsage *bool    `json:"report_instant_usage,omitempty"`
}

// EnergyHomeState 全屋能源状态
type EnergyHomeState struct {
	PowerToGrid   *float64 `json:"electrical_power_to_grid,omitempty"`
	PowerFromGrid *float64 `json:"electrical_power_from_grid,omitempty"`
	SelfConsumed  *float64 `json:"electrical_energy_self_consumption,omitempty"`
	GasVolume     *float64 `json:"gas_volume,omitempty"`
	WaterVolume   *float64 `json:"water_volume,omitempty"`
}

// AudioState 音频设备状态
type AudioState struct {
	Playback *string `json:"playback,omitempty"` // Playing, Paused, Buffering
	Volume   *int    `json:"volume,omitempty"`
	Muted    *bool   `json:"muted,omitempty"`
	Title    *string `json:"title,omitempty"`
}

// SmartDevice 规范化的智能家居设备记录
// Class 决定哪个状态载荷非空，其余载荷恒为 nil
type SmartDevice struct {
	ID        string `json:"id"`   // 内部生成的缓存标识
	UUID      string `json:"uuid"` // 外部系统的稳定标识
	Name      string `json:"name"`
	Timestamp string `json:"timestamp,omitempty"`

	Class         DeviceClass `json:"device_class"`
	ClassFallback bool        `json:"class_fallback,omitempty"` // 型号未识别，降级为通用动作设备
	Type          string      `json:"device_type"`
	Technology    string      `json:"technology"`
	Model         string      `json:"model"`
	Identifier    string      `json:"identifier,omitempty"`

	Online           bool   `json:"online"`
	ConnectionStatus string `json:"connection_status"`

	// 位置引用（按标识符回引，不是所有权指针）
	LocationID   *string `json:"location_id,omitempty"`
	LocationName *string `json:"location_name,omitempty"`
	LocationIcon *string `json:"location_icon,omitempty"`
	IconCode     *string `json:"icon_code,omitempty"`

	MacAddress *string `json:"mac_address,omitempty"`
	Channel    *int    `json:"channel,omitempty"`

	// 类别特定载荷
	Action     *ActionState     `json:"action,omitempty"`
	Dimmer     *DimmerState     `json:"dimmer,omitempty"`
	Relay      *RelayState      `json:"relay,omitempty"`
	Fan        *FanState        `json:"fan,omitempty"`
	Motor      *MotorState      `json:"motor,omitempty"`
	Thermostat *ThermostatState `json:"thermostat,omitempty"`
	Sensor     *SensorState     `json:"sensor,omitempty"`
	Meter      *MeterState      `json:"meter,omitempty"`
	Plug       *PlugState       `json:"plug,omitempty"`
	EnergyHome *EnergyHomeState `json:"energy_home,omitempty"`
	Audio      *AudioState      `json:"audio,omitempty"`

	// 原始属性原样保留（前向兼容未建模的字段）
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// EnsureTimestamp 若记录尚无时间戳则填充当前时间（不覆盖已有值）
func (d *SmartDevice) EnsureTimestamp() {
	if d.Timestamp == "" {
		d.Timestamp = time.Now().Format(time.RFC3339)
	}
}

// Location 位置/房间
type Location struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	Index     int    `json:"index"`
	Icon      string `json:"icon"`
	Timestamp string `json:"timestamp,omitempty"`
}

// EnsureTimestamp 若记录尚无时间戳则填充当前时间（不覆盖已有值）
func (l *Location) EnsureTimestamp() {
	if l.Timestamp == "" {
		l.Timestamp = time.Now().Format(time.RFC3339)
	}
}

// RawDevice 外部系统上报的原始设备数据
type RawDevice struct {
	UUID       string                   `json:"Uuid"`
	Type       string                   `json:"Type"`
	Technology string                   `json:"Technology"`
	Model      string                   `json:"Model"`
	Identifier string                   `json:"Identifier"`
	Name       string                   `json:"Name"`
	Online     interface{}              `json:"Online"` // "True"/"False" 或 bool
	Traits     map[string]interface{}   `json:"Traits"`
	Parameters []map[string]interface{} `json:"Parameters"`
	Properties []map[string]interface{} `json:"Properties"`
}

// RawLocation 外部系统上报的原始位置数据
type RawLocation struct {
	UUID  string      `json:"Uuid"`
	Name  string      `json:"Name"`
	Index interface{} `json:"Index"`
	Icon  string      `json:"Icon"`
}

// ============================================================================
// 宽容类型转换（失败返回 ok=false，绝不 panic）
// ============================================================================

// TryInt 将任意值宽容地转换为 int
func TryInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case string:
		// 先按浮点解析，兼容 "75.0" 这类字符串
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return int(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// TryFloat 将任意值宽容地转换为 float64
func TryFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// TryBool 将任意值宽容地转换为 bool（"true"/"yes"/"1"/"on" 视为真）
func TryBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case nil:
		return false, false
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1", "on":
			return true, true
		case "false", "no", "0", "off":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// TryString 将任意值宽容地转换为 string
func TryString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	default:
		return "", false
	}
}

// ============================================================================
// 设备转换
// ============================================================================

// 型号到类别的静态映射（小写型号字符串）
var deviceModelClasses = map[string]DeviceClass{
	// 动作设备
	"dimmer":           ClassDimmer,
	"fan":              ClassFan,
	"light":            ClassRelay,
	"socket":           ClassRelay,
	"switched-fan":     ClassRelay,
	"switched-generic": ClassRelay,
	"rolldownshutter":  ClassMotor,
	"sunblind":         ClassMotor,
	"gate":             ClassMotor,
	"venetianblind":    ClassMotor,
	"reymers":          ClassMotor,
	"velux":            ClassMotor,
	"accesscontrol":    ClassAction,
	"bellbutton":       ClassAction,
	"garagedoor":       ClassAction,
	"alarms":           ClassAction,
	"comfort":          ClassAction,
	"alloff":           ClassAction,
	"overallcomfort":   ClassAction,
	"pir":              ClassAction,
	"simulation":       ClassAction,
	"playerstatus":     ClassAction,
	"condition":        ClassAction,
	"peakmode":         ClassAction,
	"solarmode":        ClassAction,
	"timeschedule":     ClassAction,
	"flag":             ClassAction,

	// 温控器
	"thermostat":     ClassThermostat,
	"hvacthermostat": ClassThermostat,
	"touchswitch":    ClassThermostat,
	"virtual":        ClassThermostat,

	// 传感器
	"thermoswitch":                        ClassSensor,
	"thermoswitchx1":                      ClassSensor,
	"thermoswitchx1feedback":              ClassSensor,
	"thermoswitchx2feedback":              ClassSensor,
	"thermoswitchx3feedback":              ClassSensor,
	"thermoswitchx4feedback":              ClassSensor,
	"thermoventilationcontrollerfeedback": ClassSensor,

	// 计量
	"battery-clamp":     ClassMeter,
	"electricity-clamp": ClassMeter,
	"electricity-pulse": ClassMeter,
	"gas":               ClassMeter,
	"water":             ClassMeter,

	// 智能插座
	"naso":      ClassPlug,
	"smartplug": ClassPlug,

	// 能源
	"energyhome": ClassEnergyHome,

	// 音频
	"audiocontrol": ClassAudio,
	"sonos":        ClassAudio,
	"bose":         ClassAudio,
}

// classifyDevice 解析设备类别：静态表优先，其次按型号子串/类型字段回退
// 全部无法识别时降级为通用动作设备并标记
func classifyDevice(model, deviceType string) (DeviceClass, bool) {
	if class, ok := deviceModelClasses[model]; ok {
		return class, false
	}

	switch {
	case strings.Contains(model, "thermostat"), deviceType == "hvac", deviceType == "thermostat":
		return ClassThermostat, false
	case strings.Contains(model, "meter"), deviceType == "centralmeter":
		return ClassMeter, false
	case strings.Contains(model, "plug"), deviceType == "smartplug":
		return ClassPlug, false
	case strings.Contains(model, "sensor"), deviceType == "multisensor":
		return ClassSensor, false
	case deviceType == "audiocontrol":
		return ClassAudio, false
	case deviceType == "energyhome":
		return ClassEnergyHome, false
	}

	return ClassAction, true
}

// ConvertDevice 将原始设备数据规范化为 SmartDevice
// 类型转换失败的字段保持未设置，不会中断转换
func ConvertDevice(raw RawDevice) *SmartDevice {
	model := strings.ToLower(raw.Model)
	class, fallback := classifyDevice(model, raw.Type)

	online, _ := TryBool(raw.Online)

	status := "offline"
	if online {
		status = "online"
	}

	device := &SmartDevice{
		ID:               uuid.NewString(),
		UUID:             raw.UUID,
		Name:             raw.Name,
		Class:            class,
		ClassFallback:    fallback,
		Type:             raw.Type,
		Technology:       raw.Technology,
		Model:            model,
		Identifier:       raw.Identifier,
		Online:           online,
		ConnectionStatus: status,
	}

	// 特性（Traits）
	if mac, ok := TryString(raw.Traits["MacAddress"]); ok {
		device.MacAddress = &mac
	}
	if ch, ok := TryInt(raw.Traits["Channel"]); ok {
		device.Channel = &ch
	}

	// 参数（位置引用等）
	for _, param := range raw.Parameters {
		for key, value := range param {
			s, ok := TryString(value)
			if !ok {
				continue
			}
			switch key {
			case "LocationId":
				device.LocationID = strPtr(s)
			case "LocationName":
				device.LocationName = strPtr(s)
			case "LocationIcon":
				device.LocationIcon = strPtr(s)
			case "IconCode":
				device.IconCode = strPtr(s)
			}
		}
	}

	// 属性扁平化
	props := make(map[string]interface{})
	for _, prop := range raw.Properties {
		for key, value := range prop {
			props[key] = value
		}
	}
	device.Properties = props

	populateClassState(device, props)

	return device
}

// populateClassState 按设备类别填充状态载荷
func populateClassState(d *SmartDevice, props map[string]interface{}) {
	switch d.Class {
	case ClassDimmer:
		state := &DimmerState{}
		if v, ok := TryString(props["Status"]); ok {
			state.Status = &v
		}
		if v, ok := TryInt(props["Brightness"]); ok {
			state.Brightness = &v
		}
		if v, ok := TryBool(props["Aligned"]); ok {
			state.Aligned = &v
		}
		d.Dimmer = state

	case ClassRelay:
		state := &RelayState{}
		if v, ok := TryString(props["Status"]); ok {
			state.Status = &v
		}
		if v, ok := TryString(props["BasicState"]); ok {
			state.BasicState = &v
		}
		d.Relay = state

	case ClassFan:
		state := &FanState{}
		if v, ok := TryString(props["FanSpeed"]); ok {
			state.FanSpeed = &v
		}
		d.Fan = state

	case ClassMotor:
		state := &MotorState{}
		if v, ok := TryInt(props["Position"]); ok {
			state.Position = &v
		}
		if v, ok := TryBool(props["Aligned"]); ok {
			state.Aligned = &v
		}
		if v, ok := TryBool(props["Moving"]); ok {
			state.Moving = &v
		}
		if v, ok := TryString(props["LastDirection"]); ok {
			state.LastDirection = &v
		}
		d.Motor = state

	case ClassThermostat:
		state := &ThermostatState{}
		if v, ok := TryString(props["Program"]); ok {
			state.Program = &v
		}
		if v, ok := TryFloat(props["AmbientTemperature"]); ok {
			state.AmbientTemperature = &v
		}
		if v, ok := TryFloat(props["SetpointTemperature"]); ok {
			state.SetpointTemperature = &v
		}
		if v, ok := TryBool(props["OverruleActive"]); ok {
			state.OverruleActive = &v
		}
		if v, ok := TryBool(props["EcoSave"]); ok {
			state.EcoSave = &v
		}
		if v, ok := TryString(props["Demand"]); ok {
			state.Demand = &v
		}
		d.Thermostat = state

	case ClassSensor:
		state := &SensorState{}
		if v, ok := TryFloat(props["AmbientTemperature"]); ok {
			state.AmbientTemperature = &v
		}
		if v, ok := TryFloat(props["Humidity"]); ok {
			state.Humidity = &v
		}
		if v, ok := TryFloat(props["HeatIndex"]); ok {
			state.HeatIndex = &v
		}
		d.Sensor = state

	case ClassMeter:
		state := &MeterState{}
		if v, ok := TryFloat(props["ElectricalPower"]); ok {
			state.ElectricalPower = &v
		}
		if v, ok := TryFloat(props["ElectricalEnergy"]); ok {
			state.ElectricalEnergy = &v
		}
		if v, ok := TryBool(props["ReportInstantUsage"]); ok {
			state.ReportInstantUsage = &v
		}
		if v, ok := TryString(props["Flow"]); ok {
			state.Flow = &v
		}
		d.Meter = state

	case ClassPlug:
		state := &PlugState{}
		if v, ok := TryString(props["Status"]); ok {
			state.Status = &v
		}
		if v, ok := TryFloat(props["ElectricalPower"]); ok {
			state.ElectricalPower = &v
		}
		if v, ok := TryFloat(props["ElectricalEnergy"]); ok {
			state.ElectricalEnergy = &v
		}
		if v, ok := TryBool(props["ReportInstantUsage"]); ok {
			state.ReportInstantUsage = &v
		}
		d.Plug = state

	case ClassEnergyHome:
		state := &EnergyHomeState{}
		if v, ok := TryFloat(props["ElectricalPowerToGrid"]); ok {
			state.PowerToGrid = &v
		}
		if v, ok := TryFloat(props["ElectricalPowerFromGrid"]); ok {
			state.PowerFromGrid = &v
		}
		if v, ok := TryFloat(props["ElectricalEnergySelfConsumption"]); ok {
			state.SelfConsumed = &v
		}
		if v, ok := TryFloat(props["GasVolume"]); ok {
			state.GasVolume = &v
		}
		if v, ok := TryFloat(props["WaterVolume"]); ok {
			state.WaterVolume = &v
		}
		d.EnergyHome = state

	case ClassAudio:
		state := &AudioState{}
		if v, ok := TryString(props["Playback"]); ok {
			state.Playback = &v
		}
		if v, ok := TryInt(props["Volume"]); ok {
			state.Volume = &v
		}
		if v, ok := TryBool(props["Muted"]); ok {
			state.Muted = &v
		}
		if v, ok := TryString(props["Title"]); ok {
			state.Title = &v
		}
		d.Audio = state

	default:
		state := &ActionState{}
		if v, ok := TryString(props["Status"]); ok {
			state.Status = &v
		}
		if v, ok := TryString(props["BasicState"]); ok {
			state.BasicState = &v
		}
		if v, ok := TryBool(props["AllStarted"]); ok {
			state.AllStarted = &v
		}
		d.Action = state
	}
}

// ConvertLocation 将原始位置数据规范化为 Location
func ConvertLocation(raw RawLocation) *Location {
	index, _ := TryInt(raw.Index)

	icon := raw.Icon
	if icon == "" {
		icon = "general"
	}

	return &Location{
		UUID:  raw.UUID,
		Name:  raw.Name,
		Index: index,
		Icon:  icon,
	}
}

func strPtr(s string) *string {
	return &s
}
