// Package extract pulls event-like fields out of free text with
// regular expressions. It is the rescue path for turns where the model
// returns neither content nor tool calls: heuristic by nature, pure by
// design, so its accuracy can evolve without touching the agent loop.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// eventTypes are matched longest-first so "science workshop" beats
// "workshop" and "birthday party" beats "party".
var eventTypeRe = regexp.MustCompile(`(?i)\b(birthday party|science workshop|art class|cooking class|book club|game night|bake sale|birthday|workshop|fundraiser|concert|festival|picnic|camp|class|party|meetup)\b`)

// honoreeRe finds "for <ProperName>" so "birthday party for Emma"
// becomes "Emma's Birthday Party". Common audience words are excluded.
var honoreeRe = regexp.MustCompile(`\bfor\s+([A-Z][a-z]+)\b`)

var audienceWords = map[string]bool{
	"Kids": true, "Children": true, "Adults": true, "Teens": true,
	"Families": true, "Seniors": true, "Everyone": true, "Beginners": true,
}

var dateTextRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:next|this)\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|weekend|week|month)\b`),
	regexp.MustCompile(`(?i)\bon\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b`),
	regexp.MustCompile(`(?i)\b(?:tomorrow|tonight|today)\b`),
}

var timeRe = regexp.MustCompile(`(?i)\b(?:at\s+)?(\d{1,2}(?::\d{2})?\s*(?:am|pm))\b`)

// locationRe captures "at the library", "in Riverside Park", and
// similar phrases. Generic venue nouns are accepted lowercase; proper
// names need capitalization to avoid swallowing arbitrary phrases.
var locationRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bat\s+(the\s+(?:library|park|school|gym|community\s+center|rec\s+center|church|beach|pool|museum))\b`),
	regexp.MustCompile(`\b(?:at|in)\s+((?:the\s+)?[A-Z][a-zA-Z']*(?:\s+[A-Z][a-zA-Z']*)+)`),
}

var ageRangeRe = regexp.MustCompile(`(?i)\bages?\s+(\d{1,2})\s*(?:-|–|to)\s*(\d{1,2})\b`)
var minAgeRe = regexp.MustCompile(`(?i)\bages?\s+(\d{1,2})\s*(?:\+|and\s+up)`)

var capacityRe = regexp.MustCompile(`(?i)\b(?:up\s+to|max(?:imum)?\s+(?:of\s+)?|limit(?:ed)?\s+to|room\s+for|for)\s+(\d{1,3})\s+(?:people|kids|children|guests|attendees|families|seats|spots)\b`)

var costRes = []*regexp.Regexp{
	regexp.MustCompile(`\$\s?(\d+(?:\.\d{1,2})?)`),
	regexp.MustCompile(`(?i)\b(\d+(?:\.\d{1,2})?)\s+(?:dollars|bucks)\b`),
}
var freeRe = regexp.MustCompile(`(?i)\bfree\b`)

// Fields pulls draft fields out of text. It returns only the fields it
// found; an empty map means nothing event-like was recognized. The
// result uses the draft vocabulary (title, date_text, time, location,
// min_age, max_age, max_capacity, cost, category).
func Fields(text string) map[string]any {
	out := make(map[string]any)
	text = strings.TrimSpace(text)
	if text == "" {
		return out
	}

	if m := eventTypeRe.FindString(text); m != "" {
		kind := titleCase(m)
		if h := honoree(text); h != "" {
			out["title"] = h + "'s " + kind
		} else {
			out["title"] = kind
		}
		out["category"] = strings.ToLower(lastWord(m))
	}

	for _, re := range dateTextRes {
		if m := re.FindString(text); m != "" {
			out["date_text"] = strings.TrimSpace(m)
			break
		}
	}

	if m := timeRe.FindStringSubmatch(text); m != nil {
		out["time"] = strings.TrimSpace(m[1])
	}

	for _, re := range locationRes {
		if m := re.FindStringSubmatch(text); m != nil {
			out["location"] = strings.TrimSpace(m[1])
			break
		}
	}

	if m := ageRangeRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		out["min_age"] = lo
		out["max_age"] = hi
	} else if m := minAgeRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		out["min_age"] = lo
	}

	if m := capacityRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			out["max_capacity"] = n
		}
	}

	for _, re := range costRes {
		if m := re.FindStringSubmatch(text); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				out["cost"] = f
				break
			}
		}
	}
	if _, ok := out["cost"]; !ok && freeRe.MatchString(text) {
		out["cost"] = 0.0
	}

	return out
}

// honoree returns the capitalized name following "for", or "" when the
// word is a generic audience ("kids", "children").
func honoree(text string) string {
	for _, m := range honoreeRe.FindAllStringSubmatch(text, -1) {
		if !audienceWords[m[1]] {
			return m[1]
		}
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func lastWord(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	return words[len(words)-1]
}
