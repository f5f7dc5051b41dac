// Package rsvp watches an IMAP mailbox for replies to event
// invitations and records them as attendee responses.
package rsvp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fetekit/fete-agent/internal/config"
)

// Envelope is the slice of an IMAP message the poller needs.
type Envelope struct {
	UID     uint32
	From    string // "Name <user@host>" or bare address
	Subject string
	Date    time.Time
}

// Client is a single-account IMAP client wrapping go-imap/v2 with
// automatic reconnection and mutex-serialized access.
type Client struct {
	cfg    config.RSVPConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates an IMAP client for the configured RSVP mailbox.
// The connection is established lazily on first use.
func NewClient(cfg config.RSVPConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// connectLocked dials and authenticates. Caller must hold c.mu.
func (c *Client) connectLocked() error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))

	var opts imapclient.Options
	if c.cfg.TLS {
		opts.TLSConfig = &tls.Config{
			ServerName: c.cfg.Host,
		}
	}

	c.logger.Debug("connecting to IMAP server",
		"host", c.cfg.Host, "port", c.cfg.Port, "tls", c.cfg.TLS)

	var client *imapclient.Client
	var err error
	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}

	c.client = client
	c.logger.Info("IMAP connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

// ensureConnected checks liveness and reconnects if needed. Caller
// must hold c.mu.
func (c *Client) ensureConnected() error {
	if c.client != nil {
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.cfg.Host)
	}
	return c.connectLocked()
}

// Ping verifies the IMAP connection is alive, reconnecting if needed.
func (c *Client) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnected()
}

// Close logs out and closes the IMAP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// ListSince returns INBOX messages with UIDs strictly greater than
// sinceUID, oldest first. A sinceUID of 0 returns everything, which
// the poller uses once at startup to establish its watermark.
func (c *Client) ListSince(_ context.Context, sinceUID uint32) ([]Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	if _, err := c.client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{}
	if sinceUID > 0 {
		criteria.UID = []imap.UIDSet{
			{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}},
		}
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search INBOX: %w", err)
	}

	allUIDs := searchData.AllUIDs()
	if len(allUIDs) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range allUIDs {
		uidSet.AddNum(uid)
	}

	return c.fetchEnvelopes(uidSet)
}

// fetchEnvelopes fetches envelope data for the given UIDs, oldest
// first. Caller must hold c.mu and have INBOX selected.
func (c *Client) fetchEnvelopes(uidSet imap.UIDSet) ([]Envelope, error) {
	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		env, err := parseMessageData(msg)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		envelopes = append(envelopes, env)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}
	return envelopes, nil
}

func parseMessageData(msg *imapclient.FetchMessageData) (Envelope, error) {
	var env Envelope

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				env.Date = data.Envelope.Date
				env.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					env.From = formatAddress(data.Envelope.From[0])
				}
			}
		}
	}

	if env.UID == 0 {
		return env, fmt.Errorf("message missing UID")
	}
	return env, nil
}

// formatAddress formats an IMAP address as "Name <user@host>" or just
// "user@host" if no name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
