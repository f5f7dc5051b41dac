// Package caldav publishes finalized events to a CalDAV calendar
// collection.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/fetekit/fete-agent/internal/config"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/httpkit"
	"github.com/fetekit/fete-agent/internal/store"
)

const prodID = "-//fetekit//fete//EN"

// objectPutter is the slice of the CalDAV client the publisher needs.
type objectPutter interface {
	PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error)
}

// Publisher uploads one VEVENT per finalized event. It implements the
// finalize notifier interface.
type Publisher struct {
	logger *slog.Logger
	cfg    config.CalDAVConfig
	bus    *events.Bus
	client objectPutter
}

// New creates a Publisher against the configured CalDAV server.
func New(logger *slog.Logger, cfg config.CalDAVConfig, bus *events.Bus) (*Publisher, error) {
	var hc webdav.HTTPClient = httpkit.NewClient()
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc.(*http.Client), cfg.Username, cfg.Password)
	}

	client, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	return &Publisher{
		logger: logger,
		cfg:    cfg,
		bus:    bus,
		client: client,
	}, nil
}

// EventFinalized uploads the event to the calendar collection. Like
// the other notifiers, failures are reported but never propagated.
func (p *Publisher) EventFinalized(ctx context.Context, ev *store.Event) {
	cal, err := BuildCalendar(ev)
	if err != nil {
		p.fail(ev, err)
		return
	}

	objPath := path.Join(p.cfg.Calendar, ev.ID+".ics")
	if _, err := p.client.PutCalendarObject(ctx, objPath, cal); err != nil {
		p.fail(ev, fmt.Errorf("put calendar object: %w", err))
		return
	}

	p.logger.Info("event published to calendar",
		"event_id", ev.ID,
		"path", objPath,
	)
	p.bus.Publish(events.Event{
		Source: events.SourceNotify,
		Kind:   events.KindNotifySent,
		Data: map[string]any{
			"event_id": ev.ID,
			"channel":  "caldav",
		},
	})
}

func (p *Publisher) fail(ev *store.Event, err error) {
	p.logger.Error("calendar publish failed",
		"event_id", ev.ID,
		"error", err,
	)
	p.bus.Publish(events.Event{
		Source: events.SourceNotify,
		Kind:   events.KindNotifyFailed,
		Data: map[string]any{
			"event_id": ev.ID,
			"channel":  "caldav",
			"error":    err.Error(),
		},
	})
}

// BuildCalendar renders an event as a single-VEVENT iCalendar object.
// Events with a start time become timed events; date-only events are
// all-day.
func BuildCalendar(ev *store.Event) (*ical.Calendar, error) {
	if ev.Date == "" {
		return nil, fmt.Errorf("event %s has no date", ev.ID)
	}
	day, err := time.Parse("2006-01-02", ev.Date)
	if err != nil {
		return nil, fmt.Errorf("bad event date %q: %w", ev.Date, err)
	}

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, ev.ID+"@fete")
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Description != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		vevent.Props.SetText(ical.PropLocation, ev.Location)
	}

	if start, ok := combineClock(day, ev.Time); ok {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, start)
		if end, ok := combineClock(day, ev.EndTime); ok && end.After(start) {
			vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
		}
	} else {
		setDateProp(vevent.Props, ical.PropDateTimeStart, day)
		setDateProp(vevent.Props, ical.PropDateTimeEnd, day.AddDate(0, 0, 1))
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, vevent.Component)
	return cal, nil
}

func setDateProp(props ical.Props, name string, day time.Time) {
	prop := ical.NewProp(name)
	prop.SetValueType(ical.ValueDate)
	prop.Value = day.Format("20060102")
	props.Set(prop)
}

// combineClock merges a clock string like "3pm" or "15:04" onto a day.
func combineClock(day time.Time, clock string) (time.Time, bool) {
	clock = strings.ToLower(strings.TrimSpace(clock))
	if clock == "" {
		return time.Time{}, false
	}
	for _, format := range []string{"15:04", "3:04pm", "3:04 pm", "3pm", "3 pm"} {
		if t, err := time.Parse(format, clock); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), true
		}
	}
	return time.Time{}, false
}
