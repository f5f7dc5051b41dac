package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/store"
)

func (r *Registry) registerBuiltins() {
	fieldProps := map[string]any{
		"title":        map[string]any{"type": "string", "description": "Event title (e.g., \"Emma's Birthday Party\")"},
		"description":  map[string]any{"type": "string", "description": "Longer description of the event"},
		"location":     map[string]any{"type": "string", "description": "Where the event takes place"},
		"date":         map[string]any{"type": "string", "description": "Event date as YYYY-MM-DD when known exactly"},
		"date_text":    map[string]any{"type": "string", "description": "Natural-language date (e.g., 'next Saturday') when no exact date is known"},
		"time":         map[string]any{"type": "string", "description": "Start time (e.g., '3pm', '15:00')"},
		"end_time":     map[string]any{"type": "string", "description": "End time"},
		"cost":         map[string]any{"type": "number", "description": "Cost per attendee in dollars; 0 for free"},
		"max_capacity": map[string]any{"type": "integer", "description": "Maximum number of attendees"},
		"min_age":      map[string]any{"type": "integer", "description": "Minimum attendee age"},
		"max_age":      map[string]any{"type": "integer", "description": "Maximum attendee age"},
		"category":     map[string]any{"type": "string", "description": "Event category (party, workshop, class, festival, ...)"},
	}

	r.Register(&Tool{
		Name:        "create_event_draft",
		Description: "Add or update fields on the event being planned in this conversation. Call this whenever the user provides event details. Only pass fields the user actually mentioned.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": fieldProps,
		},
		Handler: r.handleCreateEventDraft,
	})

	r.Register(&Tool{
		Name:        "clear_event_draft",
		Description: "Discard the event draft for this conversation and start over.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleClearEventDraft,
	})

	r.Register(&Tool{
		Name:        "query_events",
		Description: "Search previously created events. Use this to answer questions about existing events or to avoid scheduling conflicts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type":        "string",
					"description": "Only events in this category",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "Only events whose location contains this text",
				},
				"date_from": map[string]any{
					"type":        "string",
					"description": "Earliest date, YYYY-MM-DD inclusive",
				},
				"date_to": map[string]any{
					"type":        "string",
					"description": "Latest date, YYYY-MM-DD inclusive",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of events to return (default 10)",
				},
			},
		},
		Handler: r.handleQueryEvents,
	})

	r.Register(&Tool{
		Name:        "suggest_event_details",
		Description: "Get sensible defaults (duration, capacity, cost) for a category of event. Use when the user is unsure about details.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type":        "string",
					"description": "Event category to suggest details for (defaults to the draft's category)",
				},
			},
		},
		Handler: r.handleSuggestEventDetails,
	})

	r.Register(&Tool{
		Name:        "validate_event_data",
		Description: "Check the current event draft for problems: missing required fields, impossible capacity, inverted times or age ranges.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleValidateEventData,
	})

	r.Register(&Tool{
		Name:        "add_ticket_type",
		Description: "Add a priced admission tier to an already-created event.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"event_id": map[string]any{
					"type":        "string",
					"description": "The event to attach the ticket type to",
				},
				"name": map[string]any{
					"type":        "string",
					"description": "Tier name (e.g., 'General', 'Child', 'VIP')",
				},
				"price": map[string]any{
					"type":        "number",
					"description": "Price in dollars",
				},
				"quantity": map[string]any{
					"type":        "integer",
					"description": "Number available; omit for unlimited",
				},
			},
			"required": []string{"event_id", "name", "price"},
		},
		Handler: r.handleAddTicketType,
	})
}

// Tool handlers

func (r *Registry) handleCreateEventDraft(ctx context.Context, args map[string]any) (string, error) {
	sessionID := SessionIDFromContext(ctx)

	d, err := r.drafts.Merge(sessionID, args)
	if err != nil {
		return "", err
	}

	resp := map[string]any{
		"status": "draft_updated",
		"draft":  d.Fields,
	}
	if missing := d.MissingRequired(); len(missing) > 0 {
		resp["missing_required"] = missing
	}
	resp["createable"] = d.Createable()
	if suggestions := d.Suggestions(); len(suggestions) > 0 {
		resp["suggestions"] = suggestions
	}

	return jsonResult(resp), nil
}

func (r *Registry) handleClearEventDraft(ctx context.Context, args map[string]any) (string, error) {
	sessionID := SessionIDFromContext(ctx)
	r.drafts.Clear(sessionID)
	return jsonResult(map[string]any{"status": "draft_cleared"}), nil
}

func (r *Registry) handleQueryEvents(ctx context.Context, args map[string]any) (string, error) {
	if r.events == nil {
		return "", errors.New("event store not configured")
	}

	f := store.Filter{Limit: 10}
	if v, ok := args["category"].(string); ok {
		f.Category = v
	}
	if v, ok := args["location"].(string); ok {
		f.Location = v
	}
	if v, ok := args["date_from"].(string); ok {
		f.DateFrom = v
	}
	if v, ok := args["date_to"].(string); ok {
		f.DateTo = v
	}
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		f.Limit = int(v)
	}

	events, err := r.events.Query(f)
	if err != nil {
		return "", err
	}

	return jsonResult(map[string]any{
		"count":  len(events),
		"events": events,
	}), nil
}

// categoryDefaults maps an event category to typical planning defaults.
// Pure data so the handler stays deterministic and testable.
var categoryDefaults = map[string]map[string]any{
	"party": {
		"duration_hours": 2,
		"max_capacity":   20,
		"cost":           0,
		"notes":          "Parties usually run 2 hours; plan for food and a cake moment.",
	},
	"workshop": {
		"duration_hours": 1.5,
		"max_capacity":   15,
		"cost":           10,
		"notes":          "Workshops work best under 15 participants with hands-on materials.",
	},
	"class": {
		"duration_hours": 1,
		"max_capacity":   12,
		"cost":           15,
		"notes":          "Classes are typically weekly; consider a multi-session series.",
	},
	"festival": {
		"duration_hours": 6,
		"max_capacity":   200,
		"cost":           5,
		"notes":          "Festivals need volunteers and a rain plan.",
	},
	"fundraiser": {
		"duration_hours": 3,
		"max_capacity":   100,
		"cost":           25,
		"notes":          "Set a fundraising goal and name it in the description.",
	},
}

func (r *Registry) handleSuggestEventDetails(ctx context.Context, args map[string]any) (string, error) {
	category, _ := args["category"].(string)
	if category == "" {
		if d := r.drafts.Get(SessionIDFromContext(ctx)); d != nil {
			category, _ = d.Fields[draft.FieldCategory].(string)
		}
	}
	category = strings.ToLower(strings.TrimSpace(category))

	defaults, ok := categoryDefaults[category]
	if !ok {
		return jsonResult(map[string]any{
			"status": "no_suggestions",
			"known_categories": []string{
				"party", "workshop", "class", "festival", "fundraiser",
			},
		}), nil
	}

	return jsonResult(map[string]any{
		"category":    category,
		"suggestions": defaults,
	}), nil
}

func (r *Registry) handleValidateEventData(ctx context.Context, args map[string]any) (string, error) {
	sessionID := SessionIDFromContext(ctx)

	d := r.drafts.Get(sessionID)
	if d == nil {
		return jsonResult(map[string]any{
			"valid":    false,
			"problems": []string{"no event draft exists yet"},
		}), nil
	}

	problems := ValidateDraft(d)
	return jsonResult(map[string]any{
		"valid":    len(problems) == 0,
		"problems": problems,
		"draft":    d.Fields,
	}), nil
}

// ValidateDraft returns the list of problems that would block creating
// an event from the draft. An empty list means the draft is sound.
func ValidateDraft(d *draft.Draft) []string {
	var problems []string

	for _, field := range d.MissingRequired() {
		problems = append(problems, fmt.Sprintf("missing required field: %s", field))
	}

	if v, ok := d.Fields[draft.FieldMaxCapacity].(int); ok && v <= 0 {
		problems = append(problems, "max_capacity must be greater than zero")
	}

	startRaw, _ := d.Fields[draft.FieldTime].(string)
	endRaw, _ := d.Fields[draft.FieldEndTime].(string)
	if start, ok := parseClock(startRaw); ok {
		if end, ok := parseClock(endRaw); ok && !end.After(start) {
			problems = append(problems, "end_time must be after time")
		}
	}

	minAge, hasMin := d.Fields[draft.FieldMinAge].(int)
	maxAge, hasMax := d.Fields[draft.FieldMaxAge].(int)
	if hasMin && hasMax && minAge > maxAge {
		problems = append(problems, "min_age must not exceed max_age")
	}

	return problems
}

func (r *Registry) handleAddTicketType(ctx context.Context, args map[string]any) (string, error) {
	if r.events == nil {
		return "", errors.New("event store not configured")
	}

	eventID, _ := args["event_id"].(string)
	name, _ := args["name"].(string)
	price, _ := args["price"].(float64)
	quantity := 0
	if q, ok := args["quantity"].(float64); ok {
		quantity = int(q)
	}

	if eventID == "" {
		return "", errors.New("event_id is required")
	}

	tt, err := r.events.AddTicketType(eventID, name, price, quantity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jsonResult(map[string]any{
				"error":    "unknown_event",
				"event_id": eventID,
				"detail":   fmt.Sprintf("no event exists with id %s", eventID),
			}), nil
		}
		return "", err
	}

	return jsonResult(map[string]any{
		"status":      "ticket_type_added",
		"ticket_type": tt,
	}), nil
}

// parseClock parses the clock formats users actually type.
func parseClock(s string) (time.Time, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, false
	}
	for _, format := range []string{"15:04", "3:04pm", "3:04 pm", "3pm", "3 pm"} {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
