package mesh

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an always-complete mqtt.Token
type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sentMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// fakeBroker is an in-memory mqtt.Client recording publishes and routing
// delivered messages to subscribers by exact topic.
type fakeBroker struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishErr   error
	subscribeErr error
	handlers     map[string]mqtt.MessageHandler
	sent         []sentMessage
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) setConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *fakeBroker) messages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

// deliver hands payload to the subscriber of topic, if any
func (b *fakeBroker) deliver(topic string, payload []byte) bool {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h == nil {
		return false
	}
	h(b, &fakeMessage{topic: topic, payload: payload})
	return true
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) IsConnectionOpen() bool { return b.IsConnected() }

func (b *fakeBroker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr == nil {
		b.connected = true
	}
	return fakeToken{b.connectErr}
}

func (b *fakeBroker) Disconnect(uint) { b.setConnected(false) }

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return fakeToken{mqtt.ErrNotConnected}
	}
	if b.publishErr != nil {
		return fakeToken{b.publishErr}
	}
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}
	b.sent = append(b.sent, sentMessage{Topic: topic, Payload: data, QoS: qos, Retain: retained})
	return fakeToken{}
}

func (b *fakeBroker) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return fakeToken{mqtt.ErrNotConnected}
	}
	if b.subscribeErr != nil {
		return fakeToken{b.subscribeErr}
	}
	b.handlers[topic] = callback
	return fakeToken{}
}

func (b *fakeBroker) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		if tok := b.Subscribe(topic, qos, callback); tok.Error() != nil {
			return tok
		}
	}
	return fakeToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return fakeToken{}
}

func (b *fakeBroker) AddRoute(topic string, callback mqtt.MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = callback
}

func (b *fakeBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

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

var _ mqtt.Client = (*fakeBroker)(nil)
