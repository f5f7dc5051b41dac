package finalize

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/store"
	_ "modernc.org/sqlite"
)

// 2026-08-26 is a Wednesday.
var testNow = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, policy string) (*Finalizer, *draft.Store, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eventStore, err := store.New(db)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	drafts := draft.NewStore()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f, err := New(logger, drafts, eventStore, nil, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.now = func() time.Time { return testNow }
	return f, drafts, eventStore
}

func TestFinalizeHappyPath(t *testing.T) {
	f, drafts, eventStore := newFixture(t, PolicyStrict)

	_, err := drafts.Merge("s1", map[string]any{
		"title":        "Emma's Birthday Party",
		"date_text":    "next Saturday",
		"location":     "Riverside Park",
		"time":         "3pm",
		"max_capacity": 20,
		"cost":         0.0,
		"category":     "party",
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	ev, err := f.Finalize(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("no event id assigned")
	}
	// Next Saturday from Wednesday 2026-08-26 is in the following week.
	if ev.Date != "2026-09-05" {
		t.Errorf("date = %q, want 2026-09-05", ev.Date)
	}
	if ev.Title != "Emma's Birthday Party" || ev.MaxCapacity != 20 {
		t.Errorf("event = %+v", ev)
	}

	// Draft is gone, so finalizing again is a no-op.
	if drafts.Get("s1") != nil {
		t.Error("draft survived finalize")
	}
	_, err = f.Finalize(context.Background(), "s1")
	if !errors.Is(err, ErrNothingToFinalize) {
		t.Errorf("second finalize = %v, want ErrNothingToFinalize", err)
	}

	// And the event is really in the store.
	got, err := eventStore.GetByID(ev.ID)
	if err != nil || got.Title != ev.Title {
		t.Errorf("GetByID: %+v, %v", got, err)
	}
}

func TestFinalizeMissingRequired(t *testing.T) {
	f, drafts, _ := newFixture(t, PolicyStrict)

	if _, err := drafts.Merge("s1", map[string]any{"location": "the library"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	_, err := f.Finalize(context.Background(), "s1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	for _, want := range []string{"title", "date"} {
		found := false
		for _, m := range verr.MissingFields {
			if m == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing fields %v does not name %q", verr.MissingFields, want)
		}
	}

	// The draft survives a rejected finalize.
	if drafts.Get("s1") == nil {
		t.Error("rejected finalize cleared the draft")
	}
}

func TestFinalizeStrictRejectsUnresolvableDate(t *testing.T) {
	f, drafts, _ := newFixture(t, PolicyStrict)

	if _, err := drafts.Merge("s1", map[string]any{
		"title":     "Picnic",
		"date_text": "whenever the weather is nice",
	}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	_, err := f.Finalize(context.Background(), "s1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !strings.Contains(verr.Error(), "weather") {
		t.Errorf("error does not echo the date text: %v", verr)
	}
}

func TestFinalizeLenientKeepsDateText(t *testing.T) {
	f, drafts, _ := newFixture(t, PolicyLenient)

	if _, err := drafts.Merge("s1", map[string]any{
		"title":     "Picnic",
		"date_text": "whenever the weather is nice",
	}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	ev, err := f.Finalize(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if ev.Date != "" {
		t.Errorf("date = %q, want empty", ev.Date)
	}
	if !strings.Contains(ev.Description, "whenever the weather is nice") {
		t.Errorf("description lost the date text: %q", ev.Description)
	}
}

func TestFinalizeExactDateWins(t *testing.T) {
	f, drafts, _ := newFixture(t, PolicyStrict)

	if _, err := drafts.Merge("s1", map[string]any{
		"title":     "Art Class",
		"date":      "2026-09-10",
		"date_text": "next Saturday",
	}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	ev, err := f.Finalize(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if ev.Date != "2026-09-10" {
		t.Errorf("date = %q, want the exact date", ev.Date)
	}
}

func TestFinalizeRejectsInvalidRanges(t *testing.T) {
	f, drafts, _ := newFixture(t, PolicyStrict)

	if _, err := drafts.Merge("s1", map[string]any{
		"title":   "Art Class",
		"date":    "2026-09-10",
		"min_age": 10,
		"max_age": 6,
	}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	_, err := f.Finalize(context.Background(), "s1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !strings.Contains(verr.Error(), "min_age") {
		t.Errorf("error = %v", verr)
	}
}

type recordingNotifier struct {
	events []*store.Event
}

func (n *recordingNotifier) EventFinalized(ctx context.Context, ev *store.Event) {
	n.events = append(n.events, ev)
}

func TestFinalizeNotifiesListeners(t *testing.T) {
	f, drafts, _ := newFixture(t, PolicyStrict)
	rec := &recordingNotifier{}
	f.AddNotifier(rec)

	if _, err := drafts.Merge("s1", map[string]any{
		"title": "Game Night",
		"date":  "2026-09-18",
	}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	ev, err := f.Finalize(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0].ID != ev.ID {
		t.Errorf("notifier saw %+v", rec.events)
	}
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(logger, draft.NewStore(), nil, nil, "vibes"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
