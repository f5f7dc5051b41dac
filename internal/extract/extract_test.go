package extract

import "testing"

func TestFieldsBirthdayWithHonoree(t *testing.T) {
	got := Fields("Create a birthday party for Emma")

	title, _ := got["title"].(string)
	if title != "Emma's Birthday Party" {
		t.Errorf("title = %q, want %q", title, "Emma's Birthday Party")
	}
	if got["category"] != "party" {
		t.Errorf("category = %v, want party", got["category"])
	}
}

func TestFieldsWorkshopWithDateText(t *testing.T) {
	got := Fields("I need a science workshop for kids next Saturday")

	if got["title"] != "Science Workshop" {
		t.Errorf("title = %v, want Science Workshop", got["title"])
	}
	if got["date_text"] != "next Saturday" {
		t.Errorf("date_text = %v, want next Saturday", got["date_text"])
	}
	// "for kids" must not be mistaken for an honoree.
	if got["category"] != "workshop" {
		t.Errorf("category = %v, want workshop", got["category"])
	}
}

func TestFieldsRichSentence(t *testing.T) {
	got := Fields("Plan an art class at the library on Saturday at 3pm, ages 6-10, up to 20 kids, $15 per child")

	cases := map[string]any{
		"title":        "Art Class",
		"location":     "the library",
		"date_text":    "on Saturday",
		"time":         "3pm",
		"min_age":      6,
		"max_age":      10,
		"max_capacity": 20,
		"cost":         15.0,
	}
	for k, want := range cases {
		if got[k] != want {
			t.Errorf("%s = %v (%T), want %v", k, got[k], got[k], want)
		}
	}
}

func TestFieldsProperNounLocation(t *testing.T) {
	got := Fields("A picnic in Riverside Park on June 14")

	if got["location"] != "Riverside Park" {
		t.Errorf("location = %v, want Riverside Park", got["location"])
	}
	if got["date_text"] != "June 14" {
		t.Errorf("date_text = %v, want June 14", got["date_text"])
	}
}

func TestFieldsFreeAndMinAge(t *testing.T) {
	got := Fields("free game night, ages 12 and up")

	if got["cost"] != 0.0 {
		t.Errorf("cost = %v, want 0", got["cost"])
	}
	if got["min_age"] != 12 {
		t.Errorf("min_age = %v, want 12", got["min_age"])
	}
	if _, ok := got["max_age"]; ok {
		t.Errorf("max_age should be absent, got %v", got["max_age"])
	}
}

func TestFieldsNothingRecognized(t *testing.T) {
	for _, s := range []string{"", "   ", "hello there", "what can you do?"} {
		got := Fields(s)
		if len(got) != 0 {
			t.Errorf("Fields(%q) = %v, want empty", s, got)
		}
	}
}
