// Package notify delivers event confirmations: markdown rendering,
// MIME composition, guest lists, and SMTP delivery.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fetekit/fete-agent/internal/config"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/store"
)

// Mailer emails event confirmations to the configured guest list. It
// implements the finalize notifier interface.
type Mailer struct {
	logger *slog.Logger
	cfg    config.NotifyConfig
	bus    *events.Bus

	// send is swappable for tests.
	send func(ctx context.Context, cfg config.SMTPConfig, from string, recipients []string, msg []byte) error
}

// NewMailer creates a Mailer. The bus may be nil.
func NewMailer(logger *slog.Logger, cfg config.NotifyConfig, bus *events.Bus) *Mailer {
	return &Mailer{
		logger: logger,
		cfg:    cfg,
		bus:    bus,
		send:   SendMail,
	}
}

// EventFinalized composes and sends the confirmation email for a newly
// finalized event. Delivery failures are logged and published, never
// propagated: a dead relay must not undo a finalize.
func (m *Mailer) EventFinalized(ctx context.Context, ev *store.Event) {
	guests, err := m.loadGuests()
	if err != nil {
		m.fail(ev, fmt.Errorf("load guest list: %w", err))
		return
	}
	if len(guests) == 0 {
		m.logger.Debug("no guests configured, skipping confirmation email",
			"event_id", ev.ID,
		)
		return
	}

	to := make([]string, 0, len(guests))
	recipients := make([]string, 0, len(guests))
	for _, g := range guests {
		to = append(to, g.Address())
		recipients = append(recipients, g.Email)
	}

	msg, err := ComposeMessage(ComposeOptions{
		From:    m.cfg.From,
		To:      to,
		Subject: "You're invited: " + ev.Title,
		Body:    EventMarkdown(ev),
	})
	if err != nil {
		m.fail(ev, fmt.Errorf("compose confirmation: %w", err))
		return
	}

	if err := m.send(ctx, m.cfg.SMTP, m.cfg.From, recipients, msg); err != nil {
		m.fail(ev, fmt.Errorf("send confirmation: %w", err))
		return
	}

	m.logger.Info("confirmation email sent",
		"event_id", ev.ID,
		"title", ev.Title,
		"recipients", len(recipients),
	)
	m.bus.Publish(events.Event{
		Source: events.SourceNotify,
		Kind:   events.KindNotifySent,
		Data: map[string]any{
			"event_id":   ev.ID,
			"channel":    "email",
			"recipients": len(recipients),
		},
	})
}

func (m *Mailer) loadGuests() ([]Guest, error) {
	if m.cfg.GuestList == "" {
		return nil, nil
	}
	f, err := os.Open(m.cfg.GuestList)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseGuestList(f)
}

func (m *Mailer) fail(ev *store.Event, err error) {
	m.logger.Error("confirmation email failed",
		"event_id", ev.ID,
		"error", err,
	)
	m.bus.Publish(events.Event{
		Source: events.SourceNotify,
		Kind:   events.KindNotifyFailed,
		Data: map[string]any{
			"event_id": ev.ID,
			"channel":  "email",
			"error":    err.Error(),
		},
	})
}
