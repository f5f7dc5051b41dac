package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/fetekit/fete-agent/internal/config"
	"github.com/fetekit/fete-agent/internal/store"
)

var testEvent = &store.Event{
	ID:          "evt-1",
	Title:       "Emma's Birthday Party",
	Description: "Cake and games in the park.",
	Location:    "Riverside Park",
	Date:        "2026-09-05",
	Time:        "3pm",
	Cost:        0,
	MaxCapacity: 20,
	Category:    "party",
	TicketTypes: []store.TicketType{
		{Name: "Child", Price: 0},
		{Name: "Adult", Price: 5},
	},
}

func TestEventMarkdown(t *testing.T) {
	md := EventMarkdown(testEvent)

	for _, want := range []string{
		"# Emma's Birthday Party",
		"**When:** 2026-09-05 at 3pm",
		"**Where:** Riverside Park",
		"**Cost:** Free",
		"**Capacity:** 20",
		"Child: Free",
		"Adult: $5.00",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestMarkdownToHTML(t *testing.T) {
	html, err := MarkdownToHTML("# Title\n\nSome **bold** text.")
	if err != nil {
		t.Fatalf("MarkdownToHTML: %v", err)
	}
	for _, want := range []string{"<h1>", "<strong>bold</strong>", "charset=\"utf-8\""} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q:\n%s", want, html)
		}
	}
}

func TestHTMLToPlain(t *testing.T) {
	plain := HTMLToPlain("<html><head><style>p{}</style></head><body><h1>Title</h1><p>One</p><ul><li>a</li><li>b</li></ul></body></html>")

	for _, want := range []string{"Title", "One", "a", "b"} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain text missing %q: %q", want, plain)
		}
	}
	if strings.Contains(plain, "p{}") {
		t.Errorf("style content leaked: %q", plain)
	}
}

func TestComposeMessage(t *testing.T) {
	msg, err := ComposeMessage(ComposeOptions{
		From:    "Fete <fete@example.org>",
		To:      []string{"Pat <pat@example.com>"},
		Subject: "You're invited: Emma's Birthday Party",
		Body:    EventMarkdown(testEvent),
	})
	if err != nil {
		t.Fatalf("ComposeMessage: %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("parse composed message: %v", err)
	}

	subject, _ := mr.Header.Subject()
	if subject != "You're invited: Emma's Birthday Party" {
		t.Errorf("subject = %q", subject)
	}
	if msgID, err := mr.Header.MessageID(); err != nil || msgID == "" {
		t.Errorf("message-id missing: %q %v", msgID, err)
	}

	var contentTypes []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			t.Fatalf("unexpected part header type %T", part.Header)
		}
		ct, _, _ := h.ContentType()
		contentTypes = append(contentTypes, ct)

		body, _ := io.ReadAll(part.Body)
		if !strings.Contains(string(body), "Emma") {
			t.Errorf("%s part missing event title", ct)
		}
	}

	want := []string{"text/plain", "text/html"}
	if len(contentTypes) != 2 || contentTypes[0] != want[0] || contentTypes[1] != want[1] {
		t.Errorf("parts = %v, want %v", contentTypes, want)
	}
}

func TestComposeMessageBadFrom(t *testing.T) {
	_, err := ComposeMessage(ComposeOptions{
		From:    "not an address",
		To:      []string{"pat@example.com"},
		Subject: "x",
		Body:    "x",
	})
	if err == nil {
		t.Fatal("expected error for invalid from address")
	}
}

func TestGuestListRoundTrip(t *testing.T) {
	rsvps := []store.RSVP{
		{Email: "pat@example.com", Name: "Pat", Status: "accepted"},
		{Email: "sam@example.com", Status: "accepted"},
		{Email: "alex@example.com", Name: "Alex", Status: "declined"},
	}

	vcf, err := GuestListVCF(testEvent, rsvps)
	if err != nil {
		t.Fatalf("GuestListVCF: %v", err)
	}

	guests, err := ParseGuestList(bytes.NewReader(vcf))
	if err != nil {
		t.Fatalf("ParseGuestList: %v", err)
	}
	// Declined guests are not in the list.
	if len(guests) != 2 {
		t.Fatalf("got %d guests, want 2: %+v", len(guests), guests)
	}
	if guests[0].Name != "Pat" || guests[0].Email != "pat@example.com" {
		t.Errorf("guest = %+v", guests[0])
	}
	// Nameless card falls back to the email as FN.
	if guests[1].Email != "sam@example.com" {
		t.Errorf("guest = %+v", guests[1])
	}
}

func TestGuestAddress(t *testing.T) {
	if got := (Guest{Name: "Pat", Email: "pat@example.com"}).Address(); got != "Pat <pat@example.com>" {
		t.Errorf("Address = %q", got)
	}
	if got := (Guest{Email: "pat@example.com"}).Address(); got != "pat@example.com" {
		t.Errorf("Address = %q", got)
	}
}

func TestMailerSendsToGuestList(t *testing.T) {
	dir := t.TempDir()
	vcfPath := filepath.Join(dir, "guests.vcf")

	vcf, err := GuestListVCF(testEvent, []store.RSVP{
		{Email: "pat@example.com", Name: "Pat", Status: "accepted"},
	})
	if err != nil {
		t.Fatalf("GuestListVCF: %v", err)
	}
	if err := os.WriteFile(vcfPath, vcf, 0o644); err != nil {
		t.Fatalf("write vcf: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMailer(logger, config.NotifyConfig{
		Enabled:   true,
		From:      "Fete <fete@example.org>",
		GuestList: vcfPath,
	}, nil)

	var gotRecipients []string
	var gotMsg []byte
	m.send = func(ctx context.Context, cfg config.SMTPConfig, from string, recipients []string, msg []byte) error {
		gotRecipients = recipients
		gotMsg = msg
		return nil
	}

	m.EventFinalized(context.Background(), testEvent)

	if len(gotRecipients) != 1 || gotRecipients[0] != "pat@example.com" {
		t.Errorf("recipients = %v", gotRecipients)
	}
	if !strings.Contains(string(gotMsg), "invited") {
		t.Error("message not composed")
	}
}

func TestMailerNoGuestListIsQuiet(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMailer(logger, config.NotifyConfig{From: "fete@example.org"}, nil)

	called := false
	m.send = func(ctx context.Context, cfg config.SMTPConfig, from string, recipients []string, msg []byte) error {
		called = true
		return nil
	}

	m.EventFinalized(context.Background(), testEvent)
	if called {
		t.Error("send called with no guest list configured")
	}
}

func TestExtractAddress(t *testing.T) {
	cases := map[string]string{
		"Pat <pat@example.com>": "pat@example.com",
		"pat@example.com":       "pat@example.com",
	}
	for in, want := range cases {
		if got := extractAddress(in); got != want {
			t.Errorf("extractAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
