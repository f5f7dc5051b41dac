// Package finalize turns a completed event draft into a persisted
// event: validation, date resolution, storage, and draft clearing.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/store"
	"github.com/fetekit/fete-agent/internal/tools"
)

// Date policies control what happens when a draft's natural-language
// date cannot be resolved to a calendar day.
const (
	// PolicyStrict rejects finalization until the date resolves.
	PolicyStrict = "strict"
	// PolicyLenient creates the event anyway, keeping the raw date
	// text in the description so nothing is lost.
	PolicyLenient = "lenient"
)

// ErrNothingToFinalize is returned when the session has no draft.
// Repeating a finalize is therefore harmless.
var ErrNothingToFinalize = errors.New("nothing to finalize")

// ValidationError reports why a draft cannot become an event.
type ValidationError struct {
	MissingFields []string
	Problems      []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.Problems) > 0 {
		parts = append(parts, strings.Join(e.Problems, "; "))
	}
	if len(parts) == 0 {
		return "draft is not valid"
	}
	return strings.Join(parts, "; ")
}

// Notifier is told about every finalized event. Implementations fan
// out to email, CalDAV, MQTT, or anything else; failures are theirs to
// report, finalization does not roll back.
type Notifier interface {
	EventFinalized(ctx context.Context, ev *store.Event)
}

// Finalizer materializes drafts into stored events.
type Finalizer struct {
	logger    *slog.Logger
	drafts    *draft.Store
	events    *store.Store
	bus       *events.Bus
	policy    string
	notifiers []Notifier

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Finalizer. policy must be PolicyStrict or
// PolicyLenient; empty means strict.
func New(logger *slog.Logger, drafts *draft.Store, eventStore *store.Store, bus *events.Bus, policy string) (*Finalizer, error) {
	switch policy {
	case "":
		policy = PolicyStrict
	case PolicyStrict, PolicyLenient:
	default:
		return nil, fmt.Errorf("unknown date policy %q (want strict or lenient)", policy)
	}
	return &Finalizer{
		logger: logger,
		drafts: drafts,
		events: eventStore,
		bus:    bus,
		policy: policy,
		now:    time.Now,
	}, nil
}

// AddNotifier registers a notification target for finalized events.
func (f *Finalizer) AddNotifier(n Notifier) {
	if n != nil {
		f.notifiers = append(f.notifiers, n)
	}
}

// Finalize validates the session's draft, persists it as an event, and
// clears the draft. The draft is only cleared after the event is
// safely stored; a failed finalize leaves it intact for another try.
func (f *Finalizer) Finalize(ctx context.Context, sessionID string) (*store.Event, error) {
	d := f.drafts.Get(sessionID)
	if d == nil || len(d.Fields) == 0 {
		return nil, ErrNothingToFinalize
	}

	verr := &ValidationError{
		MissingFields: d.MissingRequired(),
	}
	for _, p := range tools.ValidateDraft(d) {
		if !strings.HasPrefix(p, "missing required") {
			verr.Problems = append(verr.Problems, p)
		}
	}

	ev, dateErr := f.buildEvent(d)
	if dateErr != nil {
		verr.Problems = append(verr.Problems, dateErr.Error())
	}

	if len(verr.MissingFields) > 0 || len(verr.Problems) > 0 {
		f.logger.Info("finalize rejected",
			"session_id", sessionID,
			"missing", verr.MissingFields,
			"problems", verr.Problems,
		)
		f.bus.Publish(events.Event{
			Source: events.SourceFinalize,
			Kind:   events.KindFinalizeRejected,
			Data: map[string]any{
				"session_id":     sessionID,
				"missing_fields": verr.MissingFields,
				"problems":       verr.Problems,
			},
		})
		return nil, verr
	}

	created, err := f.events.Create(*ev)
	if err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}

	f.drafts.Clear(sessionID)

	f.logger.Info("event finalized",
		"session_id", sessionID,
		"event_id", created.ID,
		"title", created.Title,
		"date", created.Date,
	)
	f.bus.Publish(events.Event{
		Source: events.SourceFinalize,
		Kind:   events.KindEventFinalized,
		Data: map[string]any{
			"session_id": sessionID,
			"event_id":   created.ID,
			"title":      created.Title,
		},
	})

	for _, n := range f.notifiers {
		n.EventFinalized(ctx, created)
	}

	return created, nil
}

// buildEvent maps draft fields onto a store event and resolves the
// date according to the policy.
func (f *Finalizer) buildEvent(d *draft.Draft) (*store.Event, error) {
	ev := &store.Event{}
	ev.Title, _ = d.Fields[draft.FieldTitle].(string)
	ev.Description, _ = d.Fields[draft.FieldDescription].(string)
	ev.Location, _ = d.Fields[draft.FieldLocation].(string)
	ev.Time, _ = d.Fields[draft.FieldTime].(string)
	ev.EndTime, _ = d.Fields[draft.FieldEndTime].(string)
	ev.Category, _ = d.Fields[draft.FieldCategory].(string)
	ev.Cost, _ = d.Fields[draft.FieldCost].(float64)
	ev.MaxCapacity, _ = d.Fields[draft.FieldMaxCapacity].(int)
	ev.MinAge, _ = d.Fields[draft.FieldMinAge].(int)
	ev.MaxAge, _ = d.Fields[draft.FieldMaxAge].(int)

	if date, ok := d.Fields[draft.FieldDate].(string); ok && date != "" {
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("date %q is not YYYY-MM-DD", date)
		}
		ev.Date = t.Format("2006-01-02")
		return ev, nil
	}

	dateText, _ := d.Fields[draft.FieldDateText].(string)
	if dateText == "" {
		// MissingRequired already covers the no-date case.
		return ev, nil
	}

	t, err := ParseWhen(dateText, f.now())
	if err != nil {
		if f.policy == PolicyLenient {
			note := "Date: " + dateText
			if ev.Description == "" {
				ev.Description = note
			} else {
				ev.Description += "\n" + note
			}
			return ev, nil
		}
		return nil, fmt.Errorf("could not resolve date %q; give me an exact date", dateText)
	}
	ev.Date = t.Format("2006-01-02")
	return ev, nil
}
