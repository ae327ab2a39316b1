package messaging

import (
	"context"
	"time"

	"github.com/fcefyn/hilrelay/internal/logging"
	"github.com/fcefyn/hilrelay/internal/protocol"
	"github.com/fcefyn/hilrelay/internal/state"
)

// RelayPublisher pushes channel-state snapshots to MQTT for lab monitoring.
// Publishing is change-driven with a heartbeat, so an idle bench does not
// spam the broker. Entirely optional; the relay core never depends on it.
type RelayPublisher struct {
	broker            Broker
	snapshots         state.SnapshotStore
	heartbeatInterval time.Duration
}

func NewRelayPublisher(cfg BrokerConfig, heartbeatInterval time.Duration) *RelayPublisher {
	cfg.WillTopic = topicOf(cfg.TopicPrefix, "availability")
	return newRelayPublisher(NewMsgBroker(cfg), heartbeatInterval)
}

func newRelayPublisher(broker Broker, heartbeatInterval time.Duration) *RelayPublisher {
	p := &RelayPublisher{
		broker:            broker,
		snapshots:         state.NewSnapshotStore(),
		heartbeatInterval: heartbeatInterval,
	}
	broker.AddOnConnectPublisher("availability", func() (PublishRequest, error) {
		return PublishRequest{
			Topic:        broker.Topic("availability"),
			Qos:          AtLeastOnce,
			Retain:       true,
			PayloadBytes: []byte("online"),
		}, nil
	})
	return p
}

func (p *RelayPublisher) Connect(ctx context.Context) error {
	return p.broker.Connect(ctx)
}

// Close flips availability to offline before disconnecting. The on-connect
// publisher is removed first so an auto-reconnect during teardown cannot
// flip it back to online.
func (p *RelayPublisher) Close(ctx context.Context) error {
	p.broker.RemoveOnConnectPublisher("availability")
	if p.broker.IsConnected() {
		if err := p.broker.Publish(ctx, p.broker.Topic("availability"), AtLeastOnce, true, []byte("offline")); err != nil {
			logging.Warn("availability publish failed", "error", err)
		}
	}
	return p.broker.Close(ctx)
}

// PublishSnapshot publishes when the channel map changed, or when the
// heartbeat interval elapsed since the last publish.
func (p *RelayPublisher) PublishSnapshot(ctx context.Context, port string, snap *protocol.Snapshot) error {
	isChanged := p.snapshots.HasChanged(port, snap)
	needsHeartbeat := false
	if !isChanged {
		_, lastSent, hasPrev := p.snapshots.GetLast(port)
		if p.heartbeatInterval > 0 {
			needsHeartbeat = !hasPrev || time.Since(lastSent) > p.heartbeatInterval
		}
	}
	if !isChanged && !needsHeartbeat {
		return nil
	}

	logging.Debug("publishing relay state", "port", port, "snapshot", snap)
	err := p.broker.PublishJSON(ctx, p.broker.Topic("relay", "state"), FireAndForget, true, snap)
	if err == nil {
		p.snapshots.Update(port, snap)
	}
	return err
}

func topicOf(prefix string, part string) string {
	return prefix + "/" + part
}
