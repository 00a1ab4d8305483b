package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBridge forwards bus events to NATS subjects of the form
// <prefix>.<event type>, e.g. "spindle.task.completed".
type NATSBridge struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSBridge connects to NATS and attaches the bridge to the bus.
func NewNATSBridge(bus *Bus, url, prefix string) (*NATSBridge, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if prefix == "" {
		prefix = "spindle"
	}

	nc, err := nats.Connect(url,
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Events] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Events] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	bridge := &NATSBridge{conn: nc, prefix: prefix}
	bus.SubscribeAll(bridge.forward)
	log.Printf("[Events] NATS bridge connected to %s (subject prefix %s)", url, prefix)
	return bridge, nil
}

// forward publishes one event. Failures are logged and dropped; the
// bridge is a side channel and never blocks task processing.
func (b *NATSBridge) forward(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[Events] Failed to marshal event %s: %v", evt.Type, err)
		return
	}
	subject := fmt.Sprintf("%s.%s", b.prefix, evt.Type)
	if err := b.conn.Publish(subject, payload); err != nil {
		log.Printf("[Events] Failed to publish to %s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection.
func (b *NATSBridge) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
