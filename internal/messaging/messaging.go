package messaging

import "context"

type QoS byte

const (
	AtMostOnce    QoS = 0
	FireAndForget QoS = 0
	AtLeastOnce   QoS = 1
	ExactlyOnce   QoS = 2
	AsyncNoWait   QoS = 3 // not a real QoS, will switch to 0 on publish but not wait on returned token
)

type Broker interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error
	PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v interface{}) error
	IsConnected() bool
	Topic(parts ...string) string
	AddOnConnectPublisher(id string, fn OnConnectPublisher)
	RemoveOnConnectPublisher(id string)
}
