package httpkit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient()

	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
	if _, ok := c.Transport.(*userAgentTransport); !ok {
		t.Errorf("Transport = %T, want *userAgentTransport", c.Transport)
	}
}

func TestNewClientZeroTimeout(t *testing.T) {
	c := NewClient(WithTimeout(0))
	if c.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", c.Timeout)
	}
}

func TestUserAgentInjection(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	DrainAndClose(resp.Body, 1<<20)

	if !strings.HasPrefix(gotUA, "fete/") {
		t.Errorf("User-Agent = %q, want fete/ prefix", gotUA)
	}
}

func TestUserAgentNotOverwritten(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient()
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	DrainAndClose(resp.Body, 1<<20)

	if gotUA != "custom/1.0" {
		t.Errorf("User-Agent = %q, want custom/1.0", gotUA)
	}
}

func TestDrainAndCloseNil(t *testing.T) {
	// Must not panic.
	DrainAndClose(nil, 1024)
}
