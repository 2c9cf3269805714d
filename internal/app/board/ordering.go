package board

import (
	"strings"

	"github.com/kitchensync/project/internal/contracts"
)

// regroup normalizes a card sequence: cards are bucketed by section key in
// fixed column order and positions are rewritten contiguously (0-based, no
// gaps) inside every column. Relative order within a column is preserved.
func regroup(cards []contracts.Card) []contracts.Card {
	byColumn := map[contracts.ColumnKey][]contracts.Card{}
	var unknown []contracts.ColumnKey
	for _, c := range cards {
		if _, seen := byColumn[c.SectionKey]; !seen && !contracts.IsValidColumn(c.SectionKey) {
			unknown = append(unknown, c.SectionKey)
		}
		byColumn[c.SectionKey] = append(byColumn[c.SectionKey], c)
	}

	keys := contracts.Columns()
	keys = append(keys, unknown...)

	out := make([]contracts.Card, 0, len(cards))
	for _, key := range keys {
		for i, c := range byColumn[key] {
			c.Position = i
			out = append(out, c)
		}
	}
	return out
}

// rebuild reassembles the flat sequence after a move: the target column is
// replaced by dest (which already contains the moved card at its new index),
// every other column keeps the order it has in rest.
func rebuild(rest []contracts.Card, target contracts.ColumnKey, dest []contracts.Card) []contracts.Card {
	out := make([]contracts.Card, 0, len(rest)+1)
	seenTarget := false
	appendColumn := func(key contracts.ColumnKey) {
		if key == target {
			out = append(out, dest...)
			seenTarget = true
			return
		}
		out = append(out, filterColumn(rest, key)...)
	}

	for _, key := range contracts.Columns() {
		appendColumn(key)
	}
	if !seenTarget {
		out = append(out, dest...)
	}
	return regroup(out)
}

func filterColumn(cards []contracts.Card, key contracts.ColumnKey) []contracts.Card {
	var out []contracts.Card
	for _, c := range cards {
		if c.SectionKey == key {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(cards []contracts.Card, id string) int {
	for i, c := range cards {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func findByID(cards []contracts.Card, id string) contracts.Card {
	for _, c := range cards {
		if c.ID == id {
			return c
		}
	}
	return contracts.Card{}
}

func removeAt(cards []contracts.Card, idx int) []contracts.Card {
	out := make([]contracts.Card, 0, len(cards)-1)
	out = append(out, cards[:idx]...)
	return append(out, cards[idx+1:]...)
}

func insertAt(cards []contracts.Card, idx int, card contracts.Card) []contracts.Card {
	out := make([]contracts.Card, 0, len(cards)+1)
	out = append(out, cards[:idx]...)
	out = append(out, card)
	return append(out, cards[idx:]...)
}

func copyCards(cards []contracts.Card) []contracts.Card {
	out := make([]contracts.Card, len(cards))
	copy(out, cards)
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
