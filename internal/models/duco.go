package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// VentilationMode 通风模式（对应保持寄存器100的取值）
type VentilationMode int

const (
	ModeAuto       VentilationMode = 0
	ModeManual1    VentilationMode = 4
	ModeManual2    VentilationMode = 5
	ModeManual3    VentilationMode = 6
	ModeNotHome    VentilationMode = 7
	ModePermanent1 VentilationMode = 8
	ModePermanent2 VentilationMode = 9
	ModePermanent3 VentilationMode = 10
	ModeManual1X2  VentilationMode = 11
	ModeManual2X2  VentilationMode = 12
	ModeManual3X2  VentilationMode = 13
	ModeManual1X3  VentilationMode = 14
	ModeManual2X3  VentilationMode = 15
	ModeManual3X3  VentilationMode = 16
)

var ventilationModeNames = map[VentilationMode]string{
	ModeAuto:       "AUTO",
	ModeManual1:    "MANUAL_1",
	ModeManual2:    "MANUAL_2",
	ModeManual3:    "MANUAL_3",
	ModeNotHome:    "NOT_HOME",
	ModePermanent1: "PERMANENT_1",
	ModePermanent2: "PERMANENT_2",
	ModePermanent3: "PERMANENT_3",
	ModeManual1X2:  "MANUAL_1_X2",
	ModeManual2X2:  "MANUAL_2_X2",
	ModeManual3X2:  "MANUAL_3_X2",
	ModeManual1X3:  "MANUAL_1_X3",
	ModeManual2X3:  "MANUAL_2_X3",
	ModeManual3X3:  "MANUAL_3_X3",
}

// String 返回模式名称，未知编码带上原始值便于排查
func (m VentilationMode) String() string {
	if name, ok := ventilationModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", m)
}

// IsValid 检查是否为已知模式编码
func (m VentilationMode) IsValid() bool {
	_, ok := ventilationModeNames[m]
	return ok
}

// VentilationStatus 通风系统状态编码
type VentilationStatus int

const (
	StatusOK       VentilationStatus = 0
	StatusError    VentilationStatus = 1
	StatusInactive VentilationStatus = 2
)

// FilterStatus 过滤器状态编码
type FilterStatus int

const (
	FilterOK       FilterStatus = 0
	FilterDirty    FilterStatus = 1
	FilterInactive FilterStatus = 2
)

// NodeType 通风网络节点类型（输入寄存器 node*100+0 的取值）
type NodeType int

const (
	NodeUnknown                  NodeType = 0
	NodeDucotronicGrille         NodeType = 7
	NodeControlSwitchRFBat       NodeType = 8
	NodeControlSwitchRFWired     NodeType = 9
	NodeHumidityRoomSensor       NodeType = 10
	NodeCO2RoomSensor            NodeType = 12
	NodeSensorlessValve          NodeType = 13
	NodeHumidityValve            NodeType = 14
	NodeCO2Valve                 NodeType = 16
	NodeDucoBox                  NodeType = 17
	NodeSwitchContact            NodeType = 18
	NodeIAVValve                 NodeType = 22
	NodeIAVHumidity              NodeType = 23
	NodeIAVCO2                   NodeType = 25
	NodeControlUnit              NodeType = 27
	NodeCO2RHValve               NodeType = 28
	NodeSunControlSwitch         NodeType = 29
	NodeVentilativeCoolingSwitch NodeType = 30
	NodeExternalMultizoneValve   NodeType = 31
	NodeHumidityBoxSensor        NodeType = 35
	NodeCO2BoxSensor             NodeType = 37
	NodeMotorRelay               NodeType = 38
	NodeWeatherStation           NodeType = 39
	NodeModbusMotor              NodeType = 40
	NodeDigitalInput             NodeType = 41
	NodeDigitalOutput            NodeType = 42
	NodeModbusRelay              NodeType = 44
	NodePerilex                  NodeType = 45
	NodeRelayOutput              NodeType = 46
)

var nodeTypeNames = map[NodeType]string{
	NodeUnknown:                  "UNKNOWN",
	NodeDucotronicGrille:         "DUCOTRONIC_GRILLE",
	NodeControlSwitchRFBat:       "CONTROL_SWITCH_RF_BAT",
	NodeControlSwitchRFWired:     "CONTROL_SWITCH_RF_WIRED",
	NodeHumidityRoomSensor:       "HUMIDITY_ROOM_SENSOR",
	NodeCO2RoomSensor:            "CO2_ROOM_SENSOR",
	NodeSensorlessValve:          "SENSORLESS_VALVE",
	NodeHumidityValve:            "HUMIDITY_VALVE",
	NodeCO2Valve:                 "CO2_VALVE",
	NodeDucoBox:                  "DUCOBOX",
	NodeSwitchContact:            "SWITCH_CONTACT",
	NodeIAVValve:                 "IAV_VALVE",
	NodeIAVHumidity:              "IAV_HUMIDITY",
	NodeIAVCO2:                   "IAV_CO2",
	NodeControlUnit:              "CONTROL_UNIT",
	NodeCO2RHValve:               "CO2_RH_VALVE",
	NodeSunControlSwitch:         "SUN_CONTROL_SWITCH",
	NodeVentilativeCoolingSwitch: "VENTILATIVE_COOLING_SWITCH",
	NodeExternalMultizoneValve:   "EXTERNAL_MULTIZONE_VALVE",
	NodeHumidityBoxSensor:        "HUMIDITY_BOX_SENSOR",
	NodeCO2BoxSensor:             "CO2_BOX_SENSOR",
	NodeMotorRelay:               "MOTOR_RELAY",
	NodeWeatherStation:           "WEATHER_STATION",
	NodeModbusMotor:              "MODBUS_MOTOR",
	NodeDigitalInput:             "DIGITAL_INPUT",
	NodeDigitalOutput:            "DIGITAL_OUTPUT",
	NodeModbusRelay:              "MODBUS_RELAY",
	NodePerilex:                  "PERILEX",
	NodeRelayOutput:              "RELAY_OUTPUT",
}

// String 返回节点类型名称
func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsKnown 检查是否为已知节点类型编码
func (t NodeType) IsKnown() bool {
	_, ok := nodeTypeNames[t]
	return ok
}

// VentilationSystem 通风系统级记录（每个安装点单例）
// 每个轮询周期重新构建，读取全部失败时不发布
type VentilationSystem struct {
	DeviceID  string   `json:"device_id"`
	NodeType  NodeType `json:"node_type"`
	Timestamp string   `json:"timestamp,omitempty"`

	// 运行状态
	Mode     *VentilationMode   `json:"ventilation_mode,omitempty"`
	Status   *VentilationStatus `json:"status,omitempty"`
	FlowRate *int               `json:"flow_rate,omitempty"`

	// 空气质量
	Humidity      *int `json:"humidity_level,omitempty"`
	CO2           *int `json:"co2_level,omitempty"`
	AirQualityRH  *int `json:"air_quality_rh,omitempty"`
	AirQualityCO2 *int `json:"air_quality_co2,omitempty"`

	// 过滤器（仅 DucoBox Energy）
	FilterRemainingDays *int          `json:"remaining_filter_time,omitempty"`
	FilterStatus        *FilterStatus `json:"filter_status,omitempty"`

	// 分区供风设定温度（保持寄存器102-105）
	SupplyTempZone1 *float64 `json:"supply_temp_zone1,omitempty"`
	SupplyTempZone2 *float64 `json:"supply_temp_zone2,omitempty"`
	SupplyTempZone3 *float64 `json:"supply_temp_zone3,omitempty"`
	SupplyTempZone4 *float64 `json:"supply_temp_zone4,omitempty"`

	// 管路温度（仅 DucoBox Energy）
	TemperatureODA *float64 `json:"temperature_oda,omitempty"` // 室外进风
	TemperatureSUP *float64 `json:"temperature_sup,omitempty"` // 供风
	TemperatureETA *float64 `json:"temperature_eta,omitempty"` // 排风（室内侧）
	TemperatureEHA *float64 `json:"temperature_eha,omitempty"` // 排风（室外侧）

	// 气象站（寄存器24-29）
	OutdoorTemperature *float64 `json:"outdoor_temperature,omitempty"`
	WindSpeed          *float64 `json:"wind_speed,omitempty"` // m/s
	Rain               *bool    `json:"rain,omitempty"`
	LightSouth         *float64 `json:"light_south,omitempty"` // klx
	LightEast          *float64 `json:"light_east,omitempty"`
	LightWest          *float64 `json:"light_west,omitempty"`

	// 系统信息
	APIVersion            *string `json:"api_version,omitempty"`
	RemainingWriteActions *int    `json:"remaining_write_actions,omitempty"`
}

// VentilationNode 通风网络节点记录（每个活跃节点一条）
// 不变式：所有可选字段均为空的节点记录不发布
type VentilationNode struct {
	DeviceID     string   `json:"device_id"`
	NodeID       int      `json:"node_id"`
	NodeType     NodeType `json:"node_type"`
	NodeTypeName string   `json:"node_type_name"`
	Timestamp    string   `json:"timestamp,omitempty"`

	RemainingTime *int `json:"remaining_time_current_mode,omitempty"`
	FlowRate      *int `json:"flow_rate,omitempty"`
	AirQualityRH  *int `json:"air_quality_rh,omitempty"`
	AirQualityCO2 *int `json:"air_quality_co2,omitempty"`
	Humidity      *int `json:"humidity_level,omitempty"`
	CO2           *int `json:"co2_level,omitempty"`
}

// HasData 检查节点记录是否至少有一个已填充的可选字段
func (n *VentilationNode) HasData() bool {
	return n.RemainingTime != nil ||
		n.FlowRate != nil ||
		n.AirQualityRH != nil ||
		n.AirQualityCO2 != nil ||
		n.Humidity != nil ||
		n.CO2 != nil
}

// MarshalJSON 序列化时附加模式/类型名称字段
func (s *VentilationSystem) MarshalJSON() ([]byte, error) {
	type alias VentilationSystem
	out := struct {
		*alias
		NodeTypeName string  `json:"node_type_name"`
		ModeName     *string `json:"ventilation_mode_name,omitempty"`
	}{
		alias:        (*alias)(s),
		NodeTypeName: s.NodeType.String(),
	}
	if s.Mode != nil {
		name := s.Mode.String()
		out.ModeName = &name
	}
	return json.Marshal(out)
}

// EnsureTimestamp 若记录尚无时间戳则填充当前时间（不覆盖已有值）
func (s *VentilationSystem) EnsureTimestamp() {
	if s.Timestamp == "" {
		s.Timestamp = time.Now().Format(time.RFC3339)
	}
}

// EnsureTimestamp 若记录尚无时间戳则填充当前时间（不覆盖已有值）
func (n *VentilationNode) EnsureTimestamp() {
	if n.Timestamp == "" {
		n.Timestamp = time.Now().Format(time.RFC3339)
	}
}
