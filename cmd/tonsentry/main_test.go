package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"tonsentry", "help"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("help output missing usage: %q", out.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"tonsentry", "launch"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command") {
		t.Errorf("expected unknown-command message, got %q", errOut.String())
	}
}

func TestRunServer_MissingRequiredEnv(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", "")
	t.Setenv("OWNER_ID", "")

	var errOut bytes.Buffer
	code := runServer(&errOut)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "CONTRACT_ADDRESS") {
		t.Errorf("expected required-env message, got %q", errOut.String())
	}
}
