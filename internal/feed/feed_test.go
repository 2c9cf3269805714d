package feed

import (
	"encoding/json"
	"testing"

	"github.com/kitchensync/project/internal/contracts"
)

func event(row string) contracts.ChangeEvent {
	return contracts.ChangeEvent{
		Table: "messages",
		Op:    contracts.ChangeInsert,
		Row:   json.RawMessage(row),
	}
}

func TestMatchesFilter(t *testing.T) {
	ev := event(`{"id":"m1","channel_id":"general","position":3}`)

	if !MatchesFilter(ev, nil) {
		t.Fatal("nil filter must match every row")
	}
	if !MatchesFilter(ev, map[string]string{"channel_id": "general"}) {
		t.Fatal("matching string field rejected")
	}
	if !MatchesFilter(ev, map[string]string{"position": "3"}) {
		t.Fatal("numeric fields compare by printed value")
	}
	if MatchesFilter(ev, map[string]string{"channel_id": "cleaning"}) {
		t.Fatal("mismatched field accepted")
	}
	if MatchesFilter(ev, map[string]string{"missing": "x"}) {
		t.Fatal("absent field accepted")
	}
	if MatchesFilter(event(`not json`), map[string]string{"channel_id": "general"}) {
		t.Fatal("undecodable row accepted")
	}
}

func TestChangeSubject(t *testing.T) {
	if got := ChangeSubject("cards"); got != "kitchen.change.cards" {
		t.Fatalf("ChangeSubject = %q", got)
	}
}
