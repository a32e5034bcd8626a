package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVentilationMode_String(t *testing.T) {
	assert.Equal(t, "AUTO", ModeAuto.String())
	assert.Equal(t, "MANUAL_3", ModeManual3.String())
	assert.Equal(t, "MANUAL_1_X2", ModeManual1X2.String())
	assert.Equal(t, "UNKNOWN(99)", VentilationMode(99).String())
}

func TestVentilationMode_IsValid(t *testing.T) {
	valid := []VentilationMode{
		ModeAuto, ModeManual1, ModeManual2, ModeManual3,
		ModeNotHome, ModePermanent1, ModePermanent2, ModePermanent3,
		ModeManual1X2, ModeManual2X2, ModeManual3X2,
		ModeManual1X3, ModeManual2X3, ModeManual3X3,
	}
	for _, m := range valid {
		assert.True(t, m.IsValid(), "mode %d should be valid", m)
	}

	assert.False(t, VentilationMode(1).IsValid())
	assert.False(t, VentilationMode(3).IsValid())
	assert.False(t, VentilationMode(17).IsValid())
}

func TestNodeType_String(t *testing.T) {
	assert.Equal(t, "DUCOBOX", NodeDucoBox.String())
	assert.Equal(t, "HUMIDITY_VALVE", NodeHumidityValve.String())
	assert.Equal(t, "CO2_VALVE", NodeCO2Valve.String())
	assert.Equal(t, "UNKNOWN", NodeType(200).String())
	assert.False(t, NodeType(200).IsKnown())
	assert.True(t, NodeDucoBox.IsKnown())
}

func TestVentilationNode_HasData(t *testing.T) {
	node := &VentilationNode{
		DeviceID:     "ducobox_main",
		NodeID:       5,
		NodeType:     NodeHumidityValve,
		NodeTypeName: NodeHumidityValve.String(),
	}
	assert.False(t, node.HasData(), "identity-only node record carries no data")

	humidity := 45
	node.Humidity = &humidity
	assert.True(t, node.HasData())

	node.Humidity = nil
	remaining := 120
	node.RemainingTime = &remaining
	assert.True(t, node.HasData())
}

func TestVentilationSystem_MarshalJSON(t *testing.T) {
	mode := ModeManual2
	sys := &VentilationSystem{
		DeviceID:  "ducobox_main",
		NodeType:  NodeDucoBox,
		Timestamp: "2026-01-15T10:00:00Z",
		Mode:      &mode,
	}

	data, err := json.Marshal(sys)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "ducobox_main", decoded["device_id"])
	assert.Equal(t, "DUCOBOX", decoded["node_type_name"])
	assert.Equal(t, "MANUAL_2", decoded["ventilation_mode_name"])
	assert.Equal(t, float64(ModeManual2), decoded["ventilation_mode"])

	// 未设置的可选字段不应出现
	_, present := decoded["humidity"]
	assert.False(t, present)
}

func TestVentilationSystem_MarshalJSON_NoMode(t *testing.T) {
	sys := &VentilationSystem{
		DeviceID: "ducobox_main",
		NodeType: NodeDucoBox,
	}

	data, err := json.Marshal(sys)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	_, present := decoded["ventilation_mode_name"]
	assert.False(t, present, "mode name omitted when mode unset")
}

func TestEnsureTimestamp_DoesNotOverwrite(t *testing.T) {
	existing := "2026-01-15T10:00:00Z"

	sys := &VentilationSystem{DeviceID: "ducobox_main", Timestamp: existing}
	sys.EnsureTimestamp()
	assert.Equal(t, existing, sys.Timestamp)

	node := &VentilationNode{DeviceID: "ducobox_main", NodeID: 1}
	node.EnsureTimestamp()
	require.NotEmpty(t, node.Timestamp)
	_, err := time.Parse(time.RFC3339, node.Timestamp)
	assert.NoError(t, err)
}
