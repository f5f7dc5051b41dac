package store

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	ev, err := s.Create(Event{
		Title:       "Emma's Birthday Party",
		Location:    "Riverside Park",
		Date:        "2026-09-12",
		Time:        "3pm",
		Cost:        0,
		MaxCapacity: 20,
		Category:    "party",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("Create did not assign an id")
	}

	got, err := s.GetByID(ev.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "Emma's Birthday Party" || got.Date != "2026-09-12" {
		t.Errorf("got %+v", got)
	}
}

func TestFindByTitle(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create(Event{Title: "Science Workshop", Date: "2026-10-01"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ev, err := s.FindByTitle("science workshop")
	if err != nil {
		t.Fatalf("FindByTitle: %v", err)
	}
	if ev.Title != "Science Workshop" {
		t.Errorf("title = %q", ev.Title)
	}

	if _, err := s.FindByTitle("No Such Event"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown title error = %v, want ErrNotFound", err)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create(Event{Date: "2026-09-12"}); err == nil {
		t.Fatal("expected error for missing title")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetByID("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)

	seed := []Event{
		{Title: "Science Workshop", Date: "2026-09-05", Category: "workshop", Location: "the library"},
		{Title: "Art Class", Date: "2026-09-10", Category: "class", Location: "Community Center"},
		{Title: "Fall Festival", Date: "2026-10-01", Category: "festival", Location: "Riverside Park"},
	}
	for _, ev := range seed {
		if _, err := s.Create(ev); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := s.Query(Filter{Category: "workshop"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Science Workshop" {
		t.Errorf("category filter: %+v", got)
	}

	got, err = s.Query(Filter{DateFrom: "2026-09-06", DateTo: "2026-09-30"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Art Class" {
		t.Errorf("date range filter: %+v", got)
	}

	got, err = s.Query(Filter{Location: "park"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Fall Festival" {
		t.Errorf("location filter: %+v", got)
	}

	got, err = s.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("unfiltered = %d events, want 3", len(got))
	}
	// Soonest first.
	if got[0].Title != "Science Workshop" {
		t.Errorf("order wrong: first = %q", got[0].Title)
	}
}

func TestAddTicketType(t *testing.T) {
	s := newTestStore(t)

	ev, err := s.Create(Event{Title: "Fall Festival", Date: "2026-10-01"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.AddTicketType(ev.ID, "General", 10, 100); err != nil {
		t.Fatalf("AddTicketType: %v", err)
	}
	if _, err := s.AddTicketType(ev.ID, "Child", 5, 50); err != nil {
		t.Fatalf("AddTicketType: %v", err)
	}

	got, err := s.GetByID(ev.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.TicketTypes) != 2 {
		t.Fatalf("got %d ticket types, want 2", len(got.TicketTypes))
	}
	// Cheapest first.
	if got.TicketTypes[0].Name != "Child" {
		t.Errorf("order wrong: %+v", got.TicketTypes)
	}
}

func TestAddTicketTypeUnknownEvent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddTicketType("no-such-event", "General", 10, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddTicketTypeValidation(t *testing.T) {
	s := newTestStore(t)

	ev, _ := s.Create(Event{Title: "Picnic"})
	if _, err := s.AddTicketType(ev.ID, "", 10, 0); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := s.AddTicketType(ev.ID, "General", -1, 0); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestRecordRSVPUpsert(t *testing.T) {
	s := newTestStore(t)

	ev, _ := s.Create(Event{Title: "Game Night"})

	if _, err := s.RecordRSVP(ev.ID, "Pat@Example.com", "Pat", "accepted", "imap"); err != nil {
		t.Fatalf("RecordRSVP: %v", err)
	}
	// Later reply from the same address replaces the earlier one.
	if _, err := s.RecordRSVP(ev.ID, "pat@example.com", "Pat", "declined", "imap"); err != nil {
		t.Fatalf("RecordRSVP: %v", err)
	}

	rsvps, err := s.RSVPs(ev.ID)
	if err != nil {
		t.Fatalf("RSVPs: %v", err)
	}
	if len(rsvps) != 1 {
		t.Fatalf("got %d rsvps, want 1", len(rsvps))
	}
	if rsvps[0].Status != "declined" {
		t.Errorf("status = %q, want declined", rsvps[0].Status)
	}

	n, err := s.AttendeeCount(ev.ID)
	if err != nil {
		t.Fatalf("AttendeeCount: %v", err)
	}
	if n != 0 {
		t.Errorf("AttendeeCount = %d, want 0", n)
	}
}

func TestRecordRSVPValidation(t *testing.T) {
	s := newTestStore(t)

	ev, _ := s.Create(Event{Title: "Game Night"})
	if _, err := s.RecordRSVP(ev.ID, "", "X", "accepted", ""); err == nil {
		t.Error("expected error for empty email")
	}
	if _, err := s.RecordRSVP(ev.ID, "x@example.com", "X", "maybe", ""); err == nil {
		t.Error("expected error for invalid status")
	}
	if _, err := s.RecordRSVP("missing", "x@example.com", "X", "accepted", ""); !errors.Is(err, ErrNotFound) {
		t.Error("expected ErrNotFound for unknown event")
	}
}
