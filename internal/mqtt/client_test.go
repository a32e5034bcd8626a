package mqtt

import (
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Error() error                   { return nil }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakePaho 捕获订阅回调，便于在测试里投递消息
type fakePaho struct {
	callbacks map[string]pahomqtt.MessageHandler
}

func newFakePaho() *fakePaho {
	return &fakePaho{callbacks: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool       { return true }
func (f *fakePaho) IsConnectionOpen() bool  { return true }
func (f *fakePaho) Connect() pahomqtt.Token { return fakeToken{} }
func (f *fakePaho) Disconnect(quiesce uint) {}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	return fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.callbacks[topic] = callback
	return fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	return fakeToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token { return fakeToken{} }

func (f *fakePaho) AddRoute(topic string, callback pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (f *fakePaho) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	callback, ok := f.callbacks[topic]
	require.True(t, ok, "no subscription for topic %s", topic)
	callback(nil, &fakeMessage{topic: topic, payload: payload})
}

func TestSubscribe_HandlerErrorLoggedStructurally(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	paho := newFakePaho()
	client := &Client{
		client: paho,
		logger: zap.New(core),
	}

	require.NoError(t, client.Subscribe("test/topic", 0, func(topic string, payload []byte) error {
		return errors.New("bad payload")
	}))

	paho.deliver(t, "test/topic", []byte("x"))

	entries := logs.FilterMessage("Error handling MQTT message").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "test/topic", fields["topic"])
	assert.Contains(t, fields["error"], "bad payload")
}

func TestSubscribe_HandlerSuccessNotLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	paho := newFakePaho()
	client := &Client{
		client: paho,
		logger: zap.New(core),
	}

	var got []byte
	require.NoError(t, client.Subscribe("test/topic", 0, func(topic string, payload []byte) error {
		got = payload
		return nil
	}))

	paho.deliver(t, "test/topic", []byte("hello"))

	assert.Equal(t, []byte("hello"), got)
	assert.Zero(t, logs.Len())
}
