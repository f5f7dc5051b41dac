package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/fetekit/fete-agent/internal/config"
	"github.com/fetekit/fete-agent/internal/store"
)

type fakePublisher struct {
	published []*paho.Publish
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, p)
	return &paho.PublishResponse{}, nil
}

func testAnnouncer(pub publisher) *Announcer {
	a := New(config.MQTTConfig{
		Broker:     "mqtt://broker.local:1883",
		TopicBase:  "fete",
		DeviceName: "kitchen",
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.pub = pub
	a.now = func() time.Time {
		return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	}
	return a
}

func TestEventFinalizedPublishesAnnouncement(t *testing.T) {
	pub := &fakePublisher{}
	a := testAnnouncer(pub)

	a.EventFinalized(context.Background(), &store.Event{
		ID:       "ev-123",
		Title:    "Emma's Birthday Party",
		Location: "Riverside Park",
		Date:     "2026-09-05",
		Time:     "3pm",
		Category: "party",
	})

	if len(pub.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.published))
	}

	perEvent := pub.published[0]
	if perEvent.Topic != "fete/kitchen/events/ev-123" {
		t.Errorf("per-event topic = %q", perEvent.Topic)
	}
	if perEvent.Retain {
		t.Error("per-event message should not be retained")
	}

	latest := pub.published[1]
	if latest.Topic != "fete/kitchen/events/latest" {
		t.Errorf("latest topic = %q", latest.Topic)
	}
	if !latest.Retain {
		t.Error("latest message should be retained")
	}

	var ann Announcement
	if err := json.Unmarshal(perEvent.Payload, &ann); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ann.EventID != "ev-123" || ann.Title != "Emma's Birthday Party" {
		t.Errorf("announcement = %+v", ann)
	}
	if ann.AnnouncedAt != "2026-09-01T12:00:00Z" {
		t.Errorf("announced_at = %q", ann.AnnouncedAt)
	}
}

func TestEventFinalizedPublishFailureDoesNotPanic(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	a := testAnnouncer(pub)

	// Must swallow the error: event creation already succeeded.
	a.EventFinalized(context.Background(), &store.Event{ID: "ev-1", Title: "Picnic"})
}

func TestEventFinalizedSkipsWhenNotConnected(t *testing.T) {
	a := testAnnouncer(nil)
	a.pub = nil

	a.EventFinalized(context.Background(), &store.Event{ID: "ev-1", Title: "Picnic"})
}

func TestTopicBaseDefault(t *testing.T) {
	a := New(config.MQTTConfig{DeviceName: "hall"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got := a.availabilityTopic(); got != "fete/hall/availability" {
		t.Errorf("availability topic = %q", got)
	}
}
