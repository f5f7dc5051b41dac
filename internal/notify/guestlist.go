package notify

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-vcard"
	"github.com/fetekit/fete-agent/internal/store"
)

// Guest is one recipient from a guest list file.
type Guest struct {
	Name  string
	Email string
}

// Address renders the guest as an RFC 5322 address.
func (g Guest) Address() string {
	if g.Name == "" {
		return g.Email
	}
	return fmt.Sprintf("%s <%s>", g.Name, g.Email)
}

// ParseGuestList reads a vCard stream and returns the guests that have
// an email address. Cards without one are skipped, not errors.
func ParseGuestList(r io.Reader) ([]Guest, error) {
	dec := vcard.NewDecoder(r)

	var guests []Guest
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return guests, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode vcard: %w", err)
		}

		email := card.PreferredValue(vcard.FieldEmail)
		if email == "" {
			continue
		}
		guests = append(guests, Guest{
			Name:  card.PreferredValue(vcard.FieldFormattedName),
			Email: email,
		})
	}
}

// GuestListVCF renders the accepted RSVPs for an event as a vCard
// stream, one card per guest, suitable for import into a contacts app.
func GuestListVCF(ev *store.Event, rsvps []store.RSVP) ([]byte, error) {
	var buf bytes.Buffer
	enc := vcard.NewEncoder(&buf)

	for _, r := range rsvps {
		if r.Status != "accepted" {
			continue
		}

		card := make(vcard.Card)
		name := r.Name
		if name == "" {
			name = r.Email
		}
		card.SetValue(vcard.FieldFormattedName, name)
		card.SetValue(vcard.FieldEmail, r.Email)
		card.SetValue(vcard.FieldNote, fmt.Sprintf("RSVP for %s", ev.Title))
		vcard.ToV4(card)

		if err := enc.Encode(card); err != nil {
			return nil, fmt.Errorf("encode card for %s: %w", r.Email, err)
		}
	}

	return buf.Bytes(), nil
}
