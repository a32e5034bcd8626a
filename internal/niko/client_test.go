package niko

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
	"smarthome-bridge/internal/mqtt"
)

// fakeMessageBus 内存 MQTT：发布到 cmd 主题时可自动回响应
type fakeMessageBus struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []fakeMessage
	responder func(payload []byte) // 收到命令后的回调
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func newFakeMessageBus() *fakeMessageBus {
	return &fakeMessageBus{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMessageBus) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMessageBus) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, fakeMessage{topic, payload})
	responder := f.responder
	f.mu.Unlock()

	if topic == topicCommand && responder != nil {
		go responder(payload)
	}
	return nil
}

// deliver 把消息投递给订阅的处理函数
func (f *fakeMessageBus) deliver(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.handlers[topic]
	f.mu.Unlock()
	if handler != nil {
		_ = handler(topic, payload)
	}
}

// recordingHandler 记录收到的事件
type recordingHandler struct {
	mu             sync.Mutex
	deviceEvents   []string
	devices        []models.RawDevice
	locationEvents []string
	notifications  int
	systemEvents   []string
	errors         []string
}

func (r *recordingHandler) HandleDeviceEvent(method string, devices []models.RawDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deviceEvents = append(r.deviceEvents, method)
	r.devices = append(r.devices, devices...)
}

func (r *recordingHandler) HandleLocationEvent(method string, locations []models.RawLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locationEvents = append(r.locationEvents, method)
}

func (r *recordingHandler) HandleNotification(notifications []map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications += len(notifications)
}

func (r *recordingHandler) HandleSystemEvent(method string, params []Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemEvents = append(r.systemEvents, method)
}

func (r *recordingHandler) HandleError(method, code, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code)
}

func setupClient(t *testing.T) (*fakeMessageBus, *recordingHandler, *Client) {
	bus := newFakeMessageBus()
	handler := &recordingHandler{}
	client := NewClient(bus, handler, zap.NewNop())
	require.NoError(t, client.Start())
	return bus, handler, client
}

func TestClient_ListDevices(t *testing.T) {
	bus, _, client := setupClient(t)

	bus.responder = func(payload []byte) {
		var cmd Message
		require.NoError(t, json.Unmarshal(payload, &cmd))
		assert.Equal(t, "devices.list", cmd.Method)

		response, _ := json.Marshal(Message{
			Method: "devices.list",
			Params: []Params{{
				Devices: []models.RawDevice{
					{UUID: "d1", Model: "dimmer", Name: "Light"},
					{UUID: "d2", Model: "thermostat", Name: "Thermostat"},
				},
			}},
		})
		bus.deliver(topicResponse, response)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	devices, err := client.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "d1", devices[0].UUID)
}

func TestClient_ListDevices_Timeout(t *testing.T) {
	_, _, client := setupClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListDevices(ctx)
	assert.Error(t, err)
}

func TestClient_ListLocations_GatewayError(t *testing.T) {
	bus, _, client := setupClient(t)

	bus.responder = func(payload []byte) {
		response, _ := json.Marshal(Message{
			Method:     "locations.list",
			ErrCode:    "ERR_AUTH",
			ErrMessage: "not authorized",
		})
		bus.deliver(topicResponse, response)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.ListLocations(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_AUTH")
}

func TestClient_EventDispatch(t *testing.T) {
	bus, handler, _ := setupClient(t)

	deviceEvent, _ := json.Marshal(Message{
		Method: "devices.changed",
		Params: []Params{{Devices: []models.RawDevice{{UUID: "d1", Model: "dimmer"}}}},
	})
	bus.deliver(topicEvent, deviceEvent)

	locationEvent, _ := json.Marshal(Message{
		Method: "locations.added",
		Params: []Params{{Locations: []models.RawLocation{{UUID: "l1", Name: "Kitchen"}}}},
	})
	bus.deliver(topicEvent, locationEvent)

	notification, _ := json.Marshal(Message{
		Method: "notifications.raised",
		Params: []Params{{Notifications: []map[string]interface{}{{"Type": "alarm"}}}},
	})
	bus.deliver(topicEvent, notification)

	timeEvent, _ := json.Marshal(Message{Method: "time.published"})
	bus.deliver(topicEvent, timeEvent)

	errorEvent, _ := json.Marshal(Message{Method: "devices.list", ErrCode: "ERR_X", ErrMessage: "boom"})
	bus.deliver(topicEvent, errorEvent)

	// 坏 JSON 丢弃不中断
	bus.deliver(topicEvent, []byte("{not json"))

	assert.Equal(t, []string{"devices.changed"}, handler.deviceEvents)
	require.Len(t, handler.devices, 1)
	assert.Equal(t, "d1", handler.devices[0].UUID)
	assert.Equal(t, []string{"locations.added"}, handler.locationEvents)
	assert.Equal(t, 1, handler.notifications)
	assert.Equal(t, []string{"time.published"}, handler.systemEvents)
	assert.Equal(t, []string{"ERR_X"}, handler.errors)
}

func TestClient_ResponseWithoutWaiterIgnored(t *testing.T) {
	bus, _, _ := setupClient(t)

	response, _ := json.Marshal(Message{Method: "devices.list"})
	// 无等待者时安静丢弃，不 panic
	bus.deliver(topicResponse, response)
}
