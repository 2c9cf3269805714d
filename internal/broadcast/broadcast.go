// Package broadcast is the fire-and-forget publish/subscribe primitive for
// transient events: typing signals and presence pings. Events are never
// persisted and carry no delivery guarantee.
package broadcast

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

type Handler func(payload []byte)

type Subscription interface {
	Unsubscribe() error
}

type Broadcaster interface {
	// Publish is fire-and-forget. Failures are dropped on the floor.
	Publish(room, event string, payload any)
	Subscribe(room, event string, fn Handler) (Subscription, error)
}

// RoomSubject maps a room/event pair onto a core NATS subject. Room ids are
// opaque; NATS token separators are replaced to keep the subject valid.
func RoomSubject(room, event string) string {
	return "kitchen.room." + sanitizeToken(room) + "." + sanitizeToken(event)
}

func sanitizeToken(token string) string {
	out := []byte(token)
	for i, c := range out {
		switch c {
		case '.', '*', '>', ' ':
			out[i] = '-'
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return string(out)
}

// NATSBroadcaster rides on a plain (non-JetStream) connection; core NATS
// at-most-once delivery is exactly the contract these events want.
type NATSBroadcaster struct {
	Conn *nats.Conn
}

func NewNATSBroadcaster(conn *nats.Conn) *NATSBroadcaster {
	return &NATSBroadcaster{Conn: conn}
}

func (b *NATSBroadcaster) Publish(room, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = b.Conn.Publish(RoomSubject(room, event), raw)
}

func (b *NATSBroadcaster) Subscribe(room, event string, fn Handler) (Subscription, error) {
	sub, err := b.Conn.Subscribe(RoomSubject(room, event), func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return natsSubscription{sub: sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
