package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fcefyn/hilrelay/internal/logging"
)

type BrokerConfig struct {
	BrokerURL      string
	ClientName     string
	TopicPrefix    string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	WillTopic      string // retained last-will payload "offline", optional
}

type MsgBroker struct {
	config         BrokerConfig
	client         mqtt.Client
	mu             sync.RWMutex
	onConnectFuncs map[string]OnConnectPublisher
}

type PublishRequest struct {
	// If Context is nil, context.Background() is used
	Context      context.Context
	Topic        string
	Qos          QoS
	Retain       bool
	PayloadBytes []byte
	Payload      interface{}
}

type OnConnectPublisher func() (PublishRequest, error)

func NewMsgBroker(cfg BrokerConfig) *MsgBroker {
	return &MsgBroker{
		config:         cfg,
		onConnectFuncs: make(map[string]OnConnectPublisher),
	}
}

func (b *MsgBroker) Connect(ctx context.Context) error {
	if b.client == nil {
		b.client = mqtt.NewClient(b.optionsFromConfig())
	}
	if b.client.IsConnected() {
		return nil
	}

	t := b.client.Connect()
	done := make(chan struct{})
	go func() {
		t.Wait()
		close(done)
	}()

	select {
	case <-done:
		return t.Error()
	case <-ctx.Done():
		b.client.Disconnect(250)
		return ctx.Err()
	}
}

func (b *MsgBroker) optionsFromConfig() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(b.config.BrokerURL)
	opts.SetClientID("hilrelay-" + b.config.ClientName)
	opts.SetAutoReconnect(true)
	if b.config.WillTopic != "" {
		opts.SetWill(b.config.WillTopic, "offline", byte(AtLeastOnce), true)
	}
	opts.OnConnect = func(c mqtt.Client) {
		b.onConnectPublisher()
	}
	return opts
}

func (b *MsgBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectFuncs[id] = fn
}

func (b *MsgBroker) RemoveOnConnectPublisher(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.onConnectFuncs, id)
}

func (b *MsgBroker) onConnectPublisher() {
	b.mu.RLock()
	funcsCopy := make(map[string]OnConnectPublisher, len(b.onConnectFuncs))
	for k, v := range b.onConnectFuncs {
		funcsCopy[k] = v
	}
	b.mu.RUnlock()

	for id, fn := range funcsCopy {
		req, err := fn()
		if err != nil {
			logging.Error("onConnectPublisher failed", "clientName", b.config.ClientName, "id", id, "error", err)
			continue
		}
		ctx := req.Context
		if ctx == nil {
			ctx = context.Background()
		}
		var pubErr error
		if req.PayloadBytes == nil {
			pubErr = b.PublishJSON(ctx, req.Topic, req.Qos, req.Retain, req.Payload)
		} else {
			pubErr = b.Publish(ctx, req.Topic, req.Qos, req.Retain, req.PayloadBytes)
		}
		if pubErr != nil {
			logging.Error("onConnect publish failed", "clientName", b.config.ClientName, "id", id, "topic", req.Topic, "error", pubErr)
		}
	}
}

func (b *MsgBroker) IsConnected() bool {
	if b.client == nil {
		return false
	}
	return b.client.IsConnected()
}

func (b *MsgBroker) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	// Graceful disconnect with short timeout
	done := make(chan struct{})
	go func() {
		// 250 ms quiesce period
		b.client.Disconnect(250)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	if b.client == nil {
		return errors.New("client not initialized")
	}
	qosByte, wait := qosToByte(qos)
	token := b.client.Publish(topic, qosByte, retain, payload)
	if !wait {
		return nil
	}
	timeout := b.config.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("publish timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func qosToByte(qos QoS) (byte, bool) {
	if qos > 2 {
		return 0, false
	}
	return byte(qos), true
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

func (b *MsgBroker) Topic(parts ...string) string {
	return strings.Join(append([]string{b.config.TopicPrefix}, parts...), "/")
}
