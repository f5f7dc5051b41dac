package rsvp

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/fetekit/fete-agent/internal/config"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/store"
)

// invitedMarker is the subject prefix invitation mail goes out with.
// Replies keep it, so it is how the poller recognizes RSVP traffic.
const invitedMarker = "you're invited:"

// lister is the slice of Client the poller needs. Tests swap in a
// fake so no IMAP server is required.
type lister interface {
	ListSince(ctx context.Context, sinceUID uint32) ([]Envelope, error)
}

// Poller periodically scans the RSVP mailbox for invitation replies
// and records them against the matching event.
type Poller struct {
	cfg    config.RSVPConfig
	logger *slog.Logger
	events *store.Store
	bus    *events.Bus
	client lister

	lastUID uint32
	primed  bool
}

// NewPoller creates a Poller. Call [Poller.Run] to start the loop.
func NewPoller(cfg config.RSVPConfig, client *Client, st *store.Store, bus *events.Bus, logger *slog.Logger) *Poller {
	return &Poller{
		cfg:    cfg,
		logger: logger,
		events: st,
		bus:    bus,
		client: client,
	}
}

// Run polls the mailbox at the configured interval until ctx is
// cancelled. The first cycle only establishes the UID watermark so
// mail that predates this process is never treated as a new reply.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	envs, err := p.client.ListSince(ctx, p.lastUID)
	if err != nil {
		p.logger.Warn("rsvp mailbox poll failed", "error", err)
		return
	}

	for _, env := range envs {
		if env.UID > p.lastUID {
			p.lastUID = env.UID
		}
		if p.primed {
			p.processEnvelope(env)
		}
	}

	if !p.primed {
		p.primed = true
		p.logger.Debug("rsvp mailbox watermark established",
			"last_uid", p.lastUID, "skipped", len(envs))
	}
}

func (p *Poller) processEnvelope(env Envelope) {
	title, status, ok := ParseReply(env.Subject)
	if !ok {
		return
	}

	name, email := splitAddress(env.From)
	if email == "" {
		p.logger.Debug("rsvp reply without sender address", "uid", env.UID)
		return
	}

	ev, err := p.events.FindByTitle(title)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("rsvp reply for unknown event",
				"title", title, "from", email)
		} else {
			p.logger.Warn("rsvp event lookup failed", "title", title, "error", err)
		}
		return
	}

	r, err := p.events.RecordRSVP(ev.ID, email, name, status, "email")
	if err != nil {
		p.logger.Warn("rsvp record failed",
			"event_id", ev.ID, "from", email, "error", err)
		return
	}

	p.logger.Info("rsvp recorded",
		"event_id", ev.ID, "email", r.Email, "status", r.Status)
	p.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceRSVP,
		Kind:      events.KindRSVPRecorded,
		Data: map[string]any{
			"event_id": ev.ID,
			"email":    r.Email,
			"status":   r.Status,
		},
	})
}

var (
	// Trailing status hint like "... - declined" or "... (maybe)".
	trailingStatusRe = regexp.MustCompile(`(?i)[-–(\[]\s*(yes|no|accept(?:ed)?|decline[ds]?|regrets|maybe|tentative)\s*[)\]]?\s*$`)
	// Status keyword anywhere in the part the sender typed.
	statusWordRe = regexp.MustCompile(`(?i)\b(yes|no|accept(?:ed|ing)?|attending|decline[ds]?|regrets|can'?t\s+make\s+it|maybe|tentative)\b`)
)

// ParseReply extracts the event title and response status from a
// reply subject line. The invitation asks guests to reply keeping the
// subject and to add accept, decline, or maybe; a reply with no
// status keyword counts as accepted. ok is false when the subject is
// not an invitation reply at all.
func ParseReply(subject string) (title, status string, ok bool) {
	lower := strings.ToLower(subject)
	idx := strings.Index(lower, invitedMarker)
	if idx < 0 {
		return "", "", false
	}

	title = strings.TrimSpace(subject[idx+len(invitedMarker):])
	status = "accepted"

	if m := trailingStatusRe.FindStringSubmatchIndex(title); m != nil {
		status = normalizeStatus(title[m[2]:m[3]])
		title = strings.TrimSpace(title[:m[0]])
	} else if m := statusWordRe.FindStringSubmatch(subject[:idx]); m != nil {
		status = normalizeStatus(m[1])
	}

	if title == "" {
		return "", "", false
	}
	return title, status, true
}

func normalizeStatus(word string) string {
	switch strings.ToLower(word) {
	case "no", "regrets":
		return "declined"
	case "maybe", "tentative", "might":
		return "tentative"
	}
	w := strings.ToLower(word)
	switch {
	case strings.HasPrefix(w, "decline"), strings.HasPrefix(w, "can"):
		return "declined"
	default:
		return "accepted"
	}
}

// splitAddress splits "Name <user@host>" into its parts. A bare
// address yields an empty name.
func splitAddress(from string) (name, email string) {
	from = strings.TrimSpace(from)
	if open := strings.LastIndex(from, "<"); open >= 0 {
		end := strings.LastIndex(from, ">")
		if end > open {
			return strings.TrimSpace(from[:open]), strings.TrimSpace(from[open+1:end])
		}
	}
	if strings.Contains(from, "@") {
		return "", from
	}
	return "", ""
}
