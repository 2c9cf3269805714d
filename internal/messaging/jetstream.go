package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const changesStream = "CHANGES"

// EnsureStreams creates (or validates) the stream backing the change feed:
// kitchen.change.<table>. Typing and presence pings ride on core NATS and
// need no stream.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(changesStream); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      changesStream,
				Subjects:  []string{"kitchen.change.>"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
		} else {
			return err
		}
	}
	return nil
}
