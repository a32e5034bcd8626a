package niko

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
	"smarthome-bridge/internal/mqtt"
)

const (
	topicCommand  = "hobby/control/devices/cmd"
	topicResponse = "hobby/control/devices/rsp"
	topicEvent    = "hobby/control/devices/evt"
)

// Params 消息参数块，按方法不同填充不同字段
type Params struct {
	Devices       []models.RawDevice       `json:"Devices,omitempty"`
	Locations     []models.RawLocation     `json:"Locations,omitempty"`
	Notifications []map[string]interface{} `json:"Notifications,omitempty"`
	TimeInfo      map[string]interface{}   `json:"TimeInfo,omitempty"`
	SystemInfo    map[string]interface{}   `json:"SystemInfo,omitempty"`
}

// Message 家居控制网关的消息封装（命令、响应和事件共用）
type Message struct {
	Method     string   `json:"Method"`
	Params     []Params `json:"Params,omitempty"`
	ErrCode    string   `json:"ErrCode,omitempty"`
	ErrMessage string   `json:"ErrMessage,omitempty"`
}

// EventHandler 网关事件的处理接口
type EventHandler interface {
	HandleDeviceEvent(method string, devices []models.RawDevice)
	HandleLocationEvent(method string, locations []models.RawLocation)
	HandleNotification(notifications []map[string]interface{})
	HandleSystemEvent(method string, params []Params)
	HandleError(method, code, message string)
}

// messageBus 客户端需要的 MQTT 操作，便于测试注入
type messageBus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Client 家居控制网关客户端
// 命令经 cmd 主题下发，响应按方法名与等待者配对
type Client struct {
	bus     messageBus
	logger  *zap.Logger
	handler EventHandler

	mu      sync.Mutex
	pending map[string]chan *Message
}

// NewClient 创建网关客户端
func NewClient(bus messageBus, handler EventHandler, logger *zap.Logger) *Client {
	return &Client{
		bus:     bus,
		logger:  logger,
		handler: handler,
		pending: make(map[string]chan *Message),
	}
}

// Start 订阅响应和事件主题
func (c *Client) Start() error {
	if err := c.bus.Subscribe(topicResponse, 0, c.onResponse); err != nil {
		return fmt.Errorf("failed to subscribe to response topic: %w", err)
	}
	if err := c.bus.Subscribe(topicEvent, 0, c.onEvent); err != nil {
		return fmt.Errorf("failed to subscribe to event topic: %w", err)
	}
	c.logger.Info("Home control client started")
	return nil
}

// request 下发命令并等待同方法名的响应
func (c *Client) request(ctx context.Context, method string) (*Message, error) {
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if _, exists := c.pending[method]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("request already in flight for method %s", method)
	}
	c.pending[method] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, method)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(Message{Method: method})
	if err != nil {
		return nil, err
	}
	if err := c.bus.Publish(topicCommand, 0, false, payload); err != nil {
		return nil, fmt.Errorf("failed to publish command %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.ErrCode != "" {
			return nil, fmt.Errorf("gateway error for %s: %s (%s)", method, msg.ErrMessage, msg.ErrCode)
		}
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out waiting for %s response: %w", method, ctx.Err())
	}
}

// ListDevices 查询全部设备
func (c *Client) ListDevices(ctx context.Context) ([]models.RawDevice, error) {
	msg, err := c.request(ctx, "devices.list")
	if err != nil {
		return nil, err
	}
	var devices []models.RawDevice
	for _, params := range msg.Params {
		devices = append(devices, params.Devices...)
	}
	return devices, nil
}

// ListLocations 查询全部位置
func (c *Client) ListLocations(ctx context.Context) ([]models.RawLocation, error) {
	msg, err := c.request(ctx, "locations.list")
	if err != nil {
		return nil, err
	}
	var locations []models.RawLocation
	for _, params := range msg.Params {
		locations = append(locations, params.Locations...)
	}
	return locations, nil
}

func (c *Client) onResponse(topic string, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("Discarding malformed response", zap.Error(err))
		return nil
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.Method]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Response without waiter", zap.String("method", msg.Method))
		return nil
	}

	select {
	case ch <- &msg:
	default:
	}
	return nil
}

// SetHandler 绑定事件处理器，须在 Start 之前调用
// 处理器通常以本客户端为目录查询来源，故允许晚绑定
func (c *Client) SetHandler(handler EventHandler) {
	c.handler = handler
}

// onEvent 事件分发：按方法名路由到处理器
// 单条事件处理失败不影响后续事件
func (c *Client) onEvent(topic string, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("Discarding malformed event", zap.Error(err))
		return nil
	}
	if c.handler == nil {
		return nil
	}

	if msg.ErrCode != "" {
		c.handler.HandleError(msg.Method, msg.ErrCode, msg.ErrMessage)
		return nil
	}

	switch {
	case strings.HasPrefix(msg.Method, "devices."):
		var devices []models.RawDevice
		for _, params := range msg.Params {
			devices = append(devices, params.Devices...)
		}
		c.handler.HandleDeviceEvent(msg.Method, devices)

	case strings.HasPrefix(msg.Method, "locations."):
		var locations []models.RawLocation
		for _, params := range msg.Params {
			locations = append(locations, params.Locations...)
		}
		c.handler.HandleLocationEvent(msg.Method, locations)

	case msg.Method == "notifications.raised":
		var notifications []map[string]interface{}
		for _, params := range msg.Params {
			notifications = append(notifications, params.Notifications...)
		}
		c.handler.HandleNotification(notifications)

	default:
		c.handler.HandleSystemEvent(msg.Method, msg.Params)
	}
	return nil
}
