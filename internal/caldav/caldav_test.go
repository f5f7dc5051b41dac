package caldav

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/fetekit/fete-agent/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildCalendarTimed(t *testing.T) {
	cal, err := BuildCalendar(&store.Event{
		ID:       "evt-1",
		Title:    "Emma's Birthday Party",
		Location: "Riverside Park",
		Date:     "2026-09-05",
		Time:     "3pm",
		EndTime:  "5pm",
	})
	if err != nil {
		t.Fatalf("BuildCalendar: %v", err)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		t.Fatalf("encode: %v", err)
	}
	ics := buf.String()

	for _, want := range []string{
		"BEGIN:VEVENT",
		"SUMMARY:Emma's Birthday Party",
		"LOCATION:Riverside Park",
		"UID:evt-1@fete",
		"DTSTART:20260905T150000",
		"DTEND:20260905T170000",
	} {
		if !strings.Contains(ics, want) {
			t.Errorf("ics missing %q:\n%s", want, ics)
		}
	}
}

func TestBuildCalendarAllDay(t *testing.T) {
	cal, err := BuildCalendar(&store.Event{
		ID:    "evt-2",
		Title: "Fall Festival",
		Date:  "2026-10-01",
	})
	if err != nil {
		t.Fatalf("BuildCalendar: %v", err)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		t.Fatalf("encode: %v", err)
	}
	ics := buf.String()

	if !strings.Contains(ics, "DTSTART;VALUE=DATE:20261001") {
		t.Errorf("all-day DTSTART missing:\n%s", ics)
	}
	if !strings.Contains(ics, "DTEND;VALUE=DATE:20261002") {
		t.Errorf("all-day DTEND missing:\n%s", ics)
	}
}

func TestBuildCalendarRequiresDate(t *testing.T) {
	if _, err := BuildCalendar(&store.Event{ID: "x", Title: "No Date"}); err == nil {
		t.Fatal("expected error for dateless event")
	}
}

type fakePutter struct {
	paths []string
	cals  []*ical.Calendar
	err   error
}

func (f *fakePutter) PutCalendarObject(ctx context.Context, p string, cal *ical.Calendar) (*caldav.CalendarObject, error) {
	f.paths = append(f.paths, p)
	f.cals = append(f.cals, cal)
	return &caldav.CalendarObject{Path: p}, f.err
}

func TestPublisherEventFinalized(t *testing.T) {
	fake := &fakePutter{}
	p := &Publisher{
		logger: discardLogger(),
		client: fake,
	}
	p.cfg.Calendar = "/calendars/fete/events/"

	p.EventFinalized(context.Background(), &store.Event{
		ID:    "evt-1",
		Title: "Game Night",
		Date:  "2026-09-18",
	})

	if len(fake.paths) != 1 || fake.paths[0] != "/calendars/fete/events/evt-1.ics" {
		t.Errorf("paths = %v", fake.paths)
	}
}

func TestPublisherSkipsDatelessEvent(t *testing.T) {
	fake := &fakePutter{}
	p := &Publisher{
		logger: discardLogger(),
		client: fake,
	}

	// Lenient finalization can produce dateless events; they cannot be
	// published but must not panic.
	p.EventFinalized(context.Background(), &store.Event{ID: "evt-1", Title: "Someday"})

	if len(fake.paths) != 0 {
		t.Errorf("dateless event was published: %v", fake.paths)
	}
}
