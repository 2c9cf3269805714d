package board

import (
	"time"

	"github.com/kitchensync/project/internal/contracts"
)

// Window bounds a derived view by due date.
type Window string

const (
	WindowToday Window = "today"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
	WindowAll   Window = "all"
)

func ParseWindow(raw string) Window {
	switch Window(raw) {
	case WindowToday, WindowWeek, WindowMonth, WindowYear:
		return Window(raw)
	default:
		return WindowAll
	}
}

// View returns the cards whose due date falls inside the window, merged with
// the read-only calendar pseudo-cards. Pseudo-cards never reach the mutation
// paths: they live outside the engine's card collection.
func (e *Engine) View(window Window) []contracts.Card {
	e.mu.Lock()
	cards := copyCards(e.cards)
	events := copyCards(e.calCards)
	e.mu.Unlock()

	now := e.Now()
	out := make([]contracts.Card, 0, len(cards)+len(events))
	for _, c := range cards {
		if inWindow(c.DueAt, window, now) {
			out = append(out, c)
		}
	}
	for _, ev := range events {
		if inWindow(ev.DueAt, window, now) {
			out = append(out, ev)
		}
	}
	return out
}

func inWindow(due *time.Time, window Window, now time.Time) bool {
	if window == WindowAll {
		return true
	}
	if due == nil {
		return false
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var end time.Time
	switch window {
	case WindowToday:
		end = start.AddDate(0, 0, 1)
	case WindowWeek:
		end = start.AddDate(0, 0, 7)
	case WindowMonth:
		end = start.AddDate(0, 1, 0)
	case WindowYear:
		end = start.AddDate(1, 0, 0)
	default:
		return true
	}
	return !due.Before(start) && due.Before(end)
}
