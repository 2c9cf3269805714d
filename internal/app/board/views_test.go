package board

import (
	"context"
	"testing"
	"time"

	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/store"
)

type fixedCalendar struct{ events []contracts.Card }

func (c fixedCalendar) Events(context.Context) ([]contracts.Card, error) {
	return c.events, nil
}

func TestParseWindow(t *testing.T) {
	if got := ParseWindow("week"); got != WindowWeek {
		t.Fatalf("ParseWindow(week) = %q", got)
	}
	if got := ParseWindow("fortnight"); got != WindowAll {
		t.Fatalf("unknown windows must default to all, got %q", got)
	}
	if got := ParseWindow(""); got != WindowAll {
		t.Fatalf("empty window must default to all, got %q", got)
	}
}

func TestView_FiltersByDueDate(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	today := now.Add(2 * time.Hour)
	nextWeek := now.AddDate(0, 0, 5)
	nextYear := now.AddDate(1, 0, 1)

	rowWithDue := func(id string, due *time.Time) store.Row {
		row := cardRow(id, contracts.ColumnPending, 0)
		if due != nil {
			row["due_at"] = due.Format(time.RFC3339)
		}
		return row
	}

	st := newFakeStore(
		rowWithDue("due-today", &today),
		rowWithDue("due-week", &nextWeek),
		rowWithDue("due-far", &nextYear),
		rowWithDue("undated", nil),
	)
	e := testEngine(st)
	e.Now = func() time.Time { return now }
	if err := e.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}

	ids := func(cards []contracts.Card) map[string]bool {
		out := map[string]bool{}
		for _, c := range cards {
			out[c.ID] = true
		}
		return out
	}

	todayView := ids(e.View(WindowToday))
	if len(todayView) != 1 || !todayView["due-today"] {
		t.Fatalf("today view wrong: %v", todayView)
	}

	weekView := ids(e.View(WindowWeek))
	if len(weekView) != 2 || !weekView["due-today"] || !weekView["due-week"] {
		t.Fatalf("week view wrong: %v", weekView)
	}

	allView := ids(e.View(WindowAll))
	if len(allView) != 4 || !allView["undated"] {
		t.Fatalf("all view must include undated cards: %v", allView)
	}
}

func TestStart_MergesReadOnlyCalendarCards(t *testing.T) {
	due := time.Date(2026, 8, 29, 18, 0, 0, 0, time.UTC)
	st := newFakeStore(cardRow("a", contracts.ColumnPending, 0))
	e := testEngine(st)
	e.Calendar = fixedCalendar{events: []contracts.Card{
		{ID: "cal-1", Title: "Supplier delivery", DueAt: &due},
	}}
	defer e.Stop()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	view := e.View(WindowAll)
	var calendar *contracts.Card
	for i := range view {
		if view[i].ID == "cal-1" {
			calendar = &view[i]
		}
	}
	if calendar == nil {
		t.Fatal("calendar pseudo-card missing from view")
	}
	if !calendar.ReadOnly {
		t.Fatal("calendar cards must be read-only")
	}

	// Pseudo-cards never enter the mutable collection.
	if len(e.Cards()) != 1 {
		t.Fatalf("calendar cards must not join the board collection: %+v", e.Cards())
	}
	if err := e.MoveCard(context.Background(), "cal-1", contracts.ColumnCompleted, 0); err != ErrCardNotFound {
		t.Fatalf("moving a pseudo-card must fail with ErrCardNotFound, got %v", err)
	}
}
