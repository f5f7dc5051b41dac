package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRunUsage(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run with no args: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: fete") {
		t.Error("usage text missing")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v, want unknown flag", err)
	}
}

func TestRunVersionText(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "version:") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if info["version"] == "" {
		t.Error("version key missing")
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("err = %v, want output format error", err)
	}
}

func TestRunAskRequiresMessage(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"ask"})
	if err == nil || !strings.Contains(err.Error(), "usage: fete ask") {
		t.Errorf("err = %v, want ask usage error", err)
	}
}
