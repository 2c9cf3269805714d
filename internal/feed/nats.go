package feed

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kitchensync/project/internal/contracts"
)

// ChangeSubject is the JetStream subject carrying changes for one table.
func ChangeSubject(table string) string {
	return "kitchen.change." + table
}

// NATSFeed implements Feed over JetStream. New subscribers only see changes
// delivered after they attach; recovery from a gap is a full reload, not a
// replay.
type NATSFeed struct {
	JS nats.JetStreamContext
}

func NewNATSFeed(js nats.JetStreamContext) *NATSFeed {
	return &NATSFeed{JS: js}
}

func (f *NATSFeed) Subscribe(table string, filter map[string]string, fn Handler) (Subscription, error) {
	sub, err := f.JS.Subscribe(ChangeSubject(table), func(msg *nats.Msg) {
		var event contracts.ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		if !MatchesFilter(event, filter) {
			return
		}
		fn(event)
	}, nats.DeliverNew())
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

// NATSPublisher feeds committed store writes into the change stream.
type NATSPublisher struct {
	JS nats.JetStreamContext
}

func (p NATSPublisher) Publish(event contracts.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.JS.Publish(ChangeSubject(event.Table), payload)
	return err
}

func decodeRowFields(raw json.RawMessage) (map[string]string, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for key, value := range fields {
		out[key] = fmt.Sprint(value)
	}
	return out, nil
}
