// Package draft holds the in-progress event record for each session.
// A draft accumulates fields across conversation turns until the user
// confirms, at which point finalization materializes it into a
// persisted event and clears it here.
package draft

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field name constants for the draft vocabulary.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldLocation    = "location"
	FieldDate        = "date"
	FieldDateText    = "date_text"
	FieldTime        = "time"
	FieldEndTime     = "end_time"
	FieldCost        = "cost"
	FieldMaxCapacity = "max_capacity"
	FieldMinAge      = "min_age"
	FieldMaxAge      = "max_age"
	FieldCategory    = "category"
)

// fieldKind describes how a vocabulary field's values are coerced.
type fieldKind int

const (
	kindText fieldKind = iota
	kindInt
	kindMoney
)

// vocabulary is the set of fields a draft may carry. Anything outside
// this set is silently rejected from merges (and recorded for
// diagnostics), never surfaced to the conversation.
var vocabulary = map[string]fieldKind{
	FieldTitle:       kindText,
	FieldDescription: kindText,
	FieldLocation:    kindText,
	FieldDate:        kindText,
	FieldDateText:    kindText,
	FieldTime:        kindText,
	FieldEndTime:     kindText,
	FieldCategory:    kindText,
	FieldCost:        kindMoney,
	FieldMaxCapacity: kindInt,
	FieldMinAge:      kindInt,
	FieldMaxAge:      kindInt,
}

// KnownField reports whether name is part of the draft vocabulary.
func KnownField(name string) bool {
	_, ok := vocabulary[name]
	return ok
}

// FieldNames returns the vocabulary in a stable order for prompts and
// tool schemas.
func FieldNames() []string {
	return []string{
		FieldTitle, FieldDescription, FieldLocation,
		FieldDate, FieldDateText, FieldTime, FieldEndTime,
		FieldCost, FieldMaxCapacity, FieldMinAge, FieldMaxAge,
		FieldCategory,
	}
}

// Draft is the evolving structured record for one session.
type Draft struct {
	SessionID string         `json:"session_id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// copy returns a deep-enough copy: the Fields map is cloned so callers
// can't mutate store state.
func (d *Draft) copy() *Draft {
	c := *d
	c.Fields = make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		c.Fields[k] = v
	}
	return &c
}

// Title returns the draft title, or "" if unset.
func (d *Draft) Title() string {
	if d == nil {
		return ""
	}
	s, _ := d.Fields[FieldTitle].(string)
	return s
}

// MissingRequired returns the names of required fields the draft does
// not yet carry: title, and at least one of date/date_text.
func (d *Draft) MissingRequired() []string {
	var missing []string
	if d == nil || d.Fields == nil {
		return []string{FieldTitle, FieldDate}
	}
	if _, ok := d.Fields[FieldTitle]; !ok {
		missing = append(missing, FieldTitle)
	}
	_, hasDate := d.Fields[FieldDate]
	_, hasDateText := d.Fields[FieldDateText]
	if !hasDate && !hasDateText {
		missing = append(missing, FieldDate)
	}
	return missing
}

// Createable reports whether all required fields are present.
func (d *Draft) Createable() bool {
	return d != nil && len(d.MissingRequired()) == 0
}

// Suggestions returns non-binding hints about fields worth setting.
// These accompany tool results so the model can nudge the user without
// blocking progress.
func (d *Draft) Suggestions() []string {
	if d == nil {
		return nil
	}
	var out []string
	if _, ok := d.Fields[FieldMaxCapacity]; !ok {
		out = append(out, "consider setting a capacity limit (max_capacity)")
	}
	if _, ok := d.Fields[FieldLocation]; !ok {
		out = append(out, "a location has not been set yet")
	}
	if _, ok := d.Fields[FieldCost]; !ok {
		out = append(out, "cost is unset; free events should say 0")
	}
	return out
}

// coerce normalizes a raw value for the named field, returning the
// stored representation. ok is false when the value is null, empty, or
// not representable for the field's kind.
func coerce(name string, value any) (any, bool) {
	kind, known := vocabulary[name]
	if !known {
		return nil, false
	}
	if value == nil {
		return nil, false
	}

	switch kind {
	case kindText:
		s, ok := value.(string)
		if !ok {
			// Tolerate numeric dates/times the model sometimes emits.
			if f, isNum := value.(float64); isNum {
				return strconv.FormatFloat(f, 'f', -1, 64), true
			}
			return nil, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		return s, true

	case kindInt:
		switch v := value.(type) {
		case int:
			return v, true
		case float64:
			return int(v), true
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, false
			}
			return n, true
		}
		return nil, false

	case kindMoney:
		switch v := value.(type) {
		case int:
			return float64(v), true
		case float64:
			return v, true
		case string:
			s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "$"))
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, false
			}
			return f, true
		}
		return nil, false
	}

	return nil, false
}

// Rejection records a field that was dropped from a merge, for
// diagnostics. Rejections are internal only: the conversation never
// sees them.
type Rejection struct {
	SessionID string    `json:"session_id"`
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

func rejectionReason(name string) string {
	if !KnownField(name) {
		return fmt.Sprintf("unknown field %q", name)
	}
	return "empty or uncoercible value"
}
