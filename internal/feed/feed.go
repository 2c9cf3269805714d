// Package feed defines the push-based change feed contract: once subscribed
// with a table and filter, handlers receive row change notifications until
// unsubscribed. Multiple subscriptions may be active concurrently.
package feed

import "github.com/kitchensync/project/internal/contracts"

// Handler receives change notifications asynchronously, zero or more times,
// in no particular cross-subscription order.
type Handler func(contracts.ChangeEvent)

type Subscription interface {
	Unsubscribe() error
}

// Feed delivers row-level changes for a table. The filter matches row fields
// by string equality; a nil filter matches every row.
type Feed interface {
	Subscribe(table string, filter map[string]string, fn Handler) (Subscription, error)
}

// MatchesFilter reports whether the event's row satisfies the filter.
func MatchesFilter(event contracts.ChangeEvent, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	fields, err := decodeRowFields(event.Row)
	if err != nil {
		return false
	}
	for key, want := range filter {
		if fields[key] != want {
			return false
		}
	}
	return true
}
