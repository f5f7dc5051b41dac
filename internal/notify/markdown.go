package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fetekit/fete-agent/internal/store"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// EventMarkdown renders an event as the markdown body used by every
// outbound surface: email, the HTTP preview endpoint, and the MQTT
// announcement payload.
func EventMarkdown(ev *store.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", ev.Title)

	if ev.Description != "" {
		sb.WriteString(ev.Description)
		sb.WriteString("\n\n")
	}

	if ev.Date != "" {
		fmt.Fprintf(&sb, "- **When:** %s", ev.Date)
		if ev.Time != "" {
			fmt.Fprintf(&sb, " at %s", ev.Time)
			if ev.EndTime != "" {
				fmt.Fprintf(&sb, " until %s", ev.EndTime)
			}
		}
		sb.WriteString("\n")
	}
	if ev.Location != "" {
		fmt.Fprintf(&sb, "- **Where:** %s\n", ev.Location)
	}
	if ev.Cost > 0 {
		fmt.Fprintf(&sb, "- **Cost:** $%.2f\n", ev.Cost)
	} else {
		sb.WriteString("- **Cost:** Free\n")
	}
	if ev.MinAge > 0 || ev.MaxAge > 0 {
		switch {
		case ev.MinAge > 0 && ev.MaxAge > 0:
			fmt.Fprintf(&sb, "- **Ages:** %d-%d\n", ev.MinAge, ev.MaxAge)
		case ev.MinAge > 0:
			fmt.Fprintf(&sb, "- **Ages:** %d and up\n", ev.MinAge)
		default:
			fmt.Fprintf(&sb, "- **Ages:** up to %d\n", ev.MaxAge)
		}
	}
	if ev.MaxCapacity > 0 {
		fmt.Fprintf(&sb, "- **Capacity:** %d\n", ev.MaxCapacity)
	}

	if len(ev.TicketTypes) > 0 {
		sb.WriteString("\n## Tickets\n\n")
		for _, tt := range ev.TicketTypes {
			if tt.Price > 0 {
				fmt.Fprintf(&sb, "- %s: $%.2f\n", tt.Name, tt.Price)
			} else {
				fmt.Fprintf(&sb, "- %s: Free\n", tt.Name)
			}
		}
	}

	sb.WriteString("\nReply to this message with \"accept\" or \"decline\" to RSVP.\n")
	return sb.String()
}

// MarkdownToHTML renders markdown into a minimal self-contained HTML
// document with no external resources.
func MarkdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buf.String())

	return page, nil
}

// HTMLToPlain extracts readable text from rendered HTML for the
// text/plain MIME part.
func HTMLToPlain(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	var content strings.Builder
	walkText(doc, &content)
	return cleanWhitespace(content.String())
}

var skipElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Head:   true,
}

func walkText(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if isBlockElement(n.DataAtom) && w.Len() > 0 {
			w.WriteString("\n\n")
		}
	}

	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			w.WriteString(text)
			w.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, w)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of spaces within lines and drops
// consecutive blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var cleaned []string
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
