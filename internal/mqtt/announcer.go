// Package mqtt announces finalized events to an MQTT broker so that
// displays, bots, and automations can react the moment an event is
// created. The announcer maintains the broker connection with
// autopaho and publishes a retained availability topic alongside the
// per-event announcements.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/fetekit/fete-agent/internal/config"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/store"
)

// Announcement is the JSON payload published for each finalized event.
type Announcement struct {
	EventID     string  `json:"event_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Location    string  `json:"location,omitempty"`
	Date        string  `json:"date,omitempty"`
	Time        string  `json:"time,omitempty"`
	EndTime     string  `json:"end_time,omitempty"`
	Cost        float64 `json:"cost"`
	Category    string  `json:"category,omitempty"`
	MaxCapacity int     `json:"max_capacity,omitempty"`
	AnnouncedAt string  `json:"announced_at"`
}

// publisher is the slice of autopaho the announcer needs. Tests swap
// in a fake so no broker is required.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Announcer connects to the MQTT broker and publishes finalized
// events. It implements the finalize notifier contract.
type Announcer struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	bus    *events.Bus
	cm     *autopaho.ConnectionManager
	pub    publisher
	now    func() time.Time
}

// New creates an Announcer but does not connect. Call [Announcer.Start]
// to establish the broker connection.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Announcer {
	return &Announcer{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		now:    time.Now,
	}
}

// Start connects to the MQTT broker and blocks until ctx is
// cancelled. On every (re-)connect it publishes an "online"
// availability message; the broker's will message flips it back to
// "offline" if the connection drops.
func (a *Announcer) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(a.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := a.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: a.cfg.Username,
		ConnectPassword: []byte(a.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			a.logger.Info("mqtt connected to broker", "broker", a.cfg.Broker)
			a.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			a.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "fete-" + a.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	a.cm = cm
	a.pub = cm

	// Wait for the initial connection, but keep going if it times
	// out: autopaho retries in the background and announcements made
	// before the connection is up are queued by Publish.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		a.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop publishes an "offline" availability message and closes the
// broker connection. The provided context bounds how long to wait.
func (a *Announcer) Stop(ctx context.Context) error {
	if a.cm == nil {
		return nil
	}
	a.publishAvailability(ctx, a.cm, "offline")
	return a.cm.Disconnect(ctx)
}

// EventFinalized publishes the event announcement. Failures are
// logged and reported on the bus but never propagated; a broker
// outage must not affect event creation.
func (a *Announcer) EventFinalized(ctx context.Context, ev *store.Event) {
	if a.pub == nil {
		a.logger.Debug("mqtt announcer not connected, skipping announcement",
			"event_id", ev.ID)
		return
	}

	ann := a.buildAnnouncement(ev)
	payload, err := json.Marshal(ann)
	if err != nil {
		a.fail(ev, fmt.Errorf("marshal announcement: %w", err))
		return
	}

	// Per-event topic plus a retained "latest" topic so subscribers
	// that connect later still see the most recent announcement.
	targets := []struct {
		topic  string
		retain bool
	}{
		{a.eventTopic(ev.ID), false},
		{a.latestTopic(), true},
	}

	for _, t := range targets {
		if _, err := a.pub.Publish(ctx, &paho.Publish{
			Topic:   t.topic,
			Payload: payload,
			QoS:     1,
			Retain:  t.retain,
		}); err != nil {
			a.fail(ev, fmt.Errorf("publish to %s: %w", t.topic, err))
			return
		}
	}

	a.logger.Info("mqtt event announced",
		"event_id", ev.ID, "title", ev.Title)
	a.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceNotify,
		Kind:      events.KindNotifySent,
		Data: map[string]any{
			"channel":  "mqtt",
			"event_id": ev.ID,
			"topic":    a.eventTopic(ev.ID),
		},
	})
}

func (a *Announcer) fail(ev *store.Event, err error) {
	a.logger.Warn("mqtt event announcement failed",
		"event_id", ev.ID, "error", err)
	a.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceNotify,
		Kind:      events.KindNotifyFailed,
		Data: map[string]any{
			"channel":  "mqtt",
			"event_id": ev.ID,
			"error":    err.Error(),
		},
	})
}

func (a *Announcer) buildAnnouncement(ev *store.Event) Announcement {
	return Announcement{
		EventID:     ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Date:        ev.Date,
		Time:        ev.Time,
		EndTime:     ev.EndTime,
		Cost:        ev.Cost,
		Category:    ev.Category,
		MaxCapacity: ev.MaxCapacity,
		AnnouncedAt: a.now().UTC().Format(time.RFC3339),
	}
}

// --- Topic helpers ---

func (a *Announcer) baseTopic() string {
	base := a.cfg.TopicBase
	if base == "" {
		base = "fete"
	}
	return base + "/" + a.cfg.DeviceName
}

func (a *Announcer) availabilityTopic() string {
	return a.baseTopic() + "/availability"
}

func (a *Announcer) eventTopic(id string) string {
	return a.baseTopic() + "/events/" + id
}

func (a *Announcer) latestTopic() string {
	return a.baseTopic() + "/events/latest"
}

func (a *Announcer) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   a.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		a.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		a.logger.Info("mqtt availability published", "status", status)
	}
}
