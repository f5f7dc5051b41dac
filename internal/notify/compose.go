package notify

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// ComposeOptions holds everything needed to build a complete RFC 5322
// message. The Body field is markdown.
type ComposeOptions struct {
	// From is the sender address (e.g., "Name <addr@host>").
	From string

	// To is the list of recipient addresses.
	To []string

	// Subject is the message subject line.
	Subject string

	// Body is the message body in markdown format.
	Body string

	// Attachments are added after the body parts.
	Attachments []Attachment
}

// Attachment is a file attached to an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ComposeMessage builds a complete MIME message. The markdown body
// becomes a multipart/alternative pair: rendered HTML plus a plain
// text extraction of it.
func ComposeMessage(opts ComposeOptions) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(opts.Subject)

	from, err := mail.ParseAddress(opts.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", opts.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	toAddrs := make([]*mail.Address, 0, len(opts.To))
	for _, a := range opts.To {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		toAddrs = append(toAddrs, parsed)
	}
	h.SetAddressList("To", toAddrs)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	htmlContent, err := MarkdownToHTML(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var ph mail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return nil, fmt.Errorf("create plain text part: %w", err)
	}
	if _, err := io.WriteString(pw, HTMLToPlain(htmlContent)); err != nil {
		return nil, fmt.Errorf("write plain text: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close plain text part: %w", err)
	}

	var hh mail.InlineHeader
	hh.Set("Content-Type", "text/html; charset=utf-8")
	hw, err := tw.CreatePart(hh)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(hw, htmlContent); err != nil {
		return nil, fmt.Errorf("write html: %w", err)
	}
	if err := hw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}

	for _, att := range opts.Attachments {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", att.ContentType)
		ah.SetFilename(att.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("close attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}

	return buf.Bytes(), nil
}
