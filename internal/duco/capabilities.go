package duco

import "smarthome-bridge/internal/models"

// NodeCapabilities 节点类型支持的参数集合
// 决定轮询时读取哪些节点寄存器、允许哪些写操作
type NodeCapabilities struct {
	HasRemainingTime bool
	HasFlowLevel     bool
	HasAirQualityRH  bool
	HasAirQualityCO2 bool
	HasHumidity      bool
	HasCO2           bool
	CanSetMode       bool
	CanIdentify      bool
}

// 节点类型能力映射表（依据设备手册的应用列）
var nodeCapabilities = map[models.NodeType]NodeCapabilities{
	models.NodeControlSwitchRFBat: {
		HasRemainingTime: true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeControlSwitchRFWired: {
		HasRemainingTime: true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeHumidityRoomSensor: {
		HasAirQualityRH: true,
		HasHumidity:     true,
		CanSetMode:      true,
		CanIdentify:     true,
	},
	models.NodeCO2RoomSensor: {
		HasAirQualityCO2: true,
		HasCO2:           true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeSensorlessValve: {
		HasRemainingTime: true,
		HasFlowLevel:     true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeHumidityValve: {
		HasRemainingTime: true,
		HasFlowLevel:     true,
		HasAirQualityRH:  true,
		HasHumidity:      true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeCO2Valve: {
		HasRemainingTime: true,
		HasFlowLevel:     true,
		HasAirQualityCO2: true,
		HasCO2:           true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeSwitchContact: {
		HasRemainingTime: true,
		CanIdentify:      true,
	},
	models.NodeIAVValve: {
		HasRemainingTime: true,
		HasFlowLevel:     true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeIAVHumidity: {
		HasRemainingTime: true,
		HasFlowLevel:     true,
		HasAirQualityRH:  true,
		HasHumidity:      true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeIAVCO2: {
		HasRemainingTime: true,
		HasFlowLevel:     true,
		HasAirQualityCO2: true,
		HasCO2:           true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeCO2RHValve: {
		HasRemainingTime: true,
		HasFlowLevel:     true,
		HasAirQualityRH:  true,
		HasAirQualityCO2: true,
		HasHumidity:      true,
		HasCO2:           true,
		CanSetMode:       true,
		CanIdentify:      true,
	},
	models.NodeHumidityBoxSensor: {
		HasHumidity: true,
		CanSetMode:  true,
	},
	models.NodeCO2BoxSensor: {
		HasCO2:     true,
		CanSetMode: true,
	},
	models.NodeDucotronicGrille: {
		HasFlowLevel: true,
		HasHumidity:  true,
		CanSetMode:   true,
		CanIdentify:  true,
	},
}

// Capabilities 查询节点类型的能力，未知类型返回 ok=false
// 未知类型按宽容策略处理：上层应尝试读取而不是直接拒绝
func Capabilities(t models.NodeType) (NodeCapabilities, bool) {
	caps, ok := nodeCapabilities[t]
	return caps, ok
}
